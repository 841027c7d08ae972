package analytics

import (
	"time"

	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
)

// EventID identifies the surface an event was recorded on.
type EventID string

const (
	EventSearch           EventID = "SEARCH"
	EventQuerySuggestions EventID = "QUERY_SUGGESTIONS"
	EventSimilarItems     EventID = "SIMILAR_ITEMS"
	EventHomeComponent    EventID = "HOME_COMPONENT"
	EventItemDetail       EventID = "ITEM_DETAIL"
)

// Action is what the user did on the surface.
type Action string

const (
	ActionDisplay   Action = "DISPLAY"
	ActionClickItem Action = "CLICK_ITEM"
)

// Event is a single analytics record. Params is serialized as-is.
type Event struct {
	ID        EventID   `json:"id"`
	Action    Action    `json:"action"`
	CreatedAt time.Time `json:"createdAt"`
	Params    any       `json:"params"`
}

// SearchDisplayParams records the exact items shown for a search.
type SearchDisplayParams struct {
	SearchID    string             `json:"searchId"`
	SearchInput domain.SearchInput `json:"searchInput"`
	SearchFrom  domain.Provenance  `json:"searchFrom"`
	ItemIDs     []string           `json:"itemIds"`
}

// SearchClickParams records a click on a search result.
type SearchClickParams struct {
	SearchID string `json:"searchId"`
	ItemID   string `json:"itemId"`
}

// QuerySuggestionsDisplayParams records the suggestions shown for a fragment.
type QuerySuggestionsDisplayParams struct {
	Query            string   `json:"query"`
	SuggestedQueries []string `json:"suggestedQueries"`
}

// NewSearchDisplayEvent builds the DISPLAY event for a published search result.
func NewSearchDisplayEvent(now time.Time, result *domain.SearchResult, input domain.SearchInput, from domain.Provenance) Event {
	return Event{
		ID:        EventSearch,
		Action:    ActionDisplay,
		CreatedAt: now,
		Params: SearchDisplayParams{
			SearchID:    result.SearchID,
			SearchInput: input,
			SearchFrom:  from,
			ItemIDs:     result.ItemIDs(),
		},
	}
}

// NewSearchClickEvent builds the CLICK_ITEM event for a search result.
func NewSearchClickEvent(now time.Time, searchID, itemID string) Event {
	return Event{
		ID:        EventSearch,
		Action:    ActionClickItem,
		CreatedAt: now,
		Params:    SearchClickParams{SearchID: searchID, ItemID: itemID},
	}
}

// NewQuerySuggestionsDisplayEvent builds the DISPLAY event for a suggestion list.
func NewQuerySuggestionsDisplayEvent(now time.Time, s *domain.QuerySuggestions) Event {
	return Event{
		ID:        EventQuerySuggestions,
		Action:    ActionDisplay,
		CreatedAt: now,
		Params: QuerySuggestionsDisplayParams{
			Query:            s.Query,
			SuggestedQueries: s.SuggestedQueries,
		},
	}
}
