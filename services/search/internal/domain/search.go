package domain

import (
	"slices"
	"strings"
)

// SortType orders search results.
type SortType string

const (
	SortBestMatch   SortType = "BEST_MATCH"
	SortPriceAsc    SortType = "PRICE_ASC"
	SortPriceDesc   SortType = "PRICE_DESC"
	SortReviewCount SortType = "REVIEW_COUNT"
	SortRating      SortType = "RATING"
)

// ValidSortTypes returns the list of valid sort types.
func ValidSortTypes() []SortType {
	return []SortType{SortBestMatch, SortPriceAsc, SortPriceDesc, SortReviewCount, SortRating}
}

// IsValid checks whether s is a valid sort type.
func (s SortType) IsValid() bool {
	return slices.Contains(ValidSortTypes(), s)
}

// Provenance records which user action produced the current search.
// It is used for analytics attribution only.
type Provenance string

const (
	FromURL             Provenance = "URL"
	FromSearch          Provenance = "SEARCH"
	FromFilter          Provenance = "FILTER"
	FromQuerySuggestion Provenance = "QUERY_SUGGESTION"
)

// IsValid reports whether p is a known provenance.
func (p Provenance) IsValid() bool {
	switch p {
	case FromURL, FromSearch, FromFilter, FromQuerySuggestion:
		return true
	}
	return false
}

// PageUnset is the internal value of SearchInput.Page before the user pages.
// It is rendered as page 1.
const PageUnset = 0

// SearchInput is a complete request to the search backend.
type SearchInput struct {
	Query    string       `json:"query"`
	Filter   SearchFilter `json:"filter"`
	SortType SortType     `json:"sortType"`
	Page     int          `json:"page,omitempty"`
	PageSize *int         `json:"pageSize,omitempty"`
}

// DisplayPage returns the 1-based page the input refers to.
func (in SearchInput) DisplayPage() int {
	if in.Page < 1 {
		return 1
	}
	return in.Page
}

// Normalized returns the input as sent over the wire: the query trimmed of
// surrounding whitespace and the page made explicit.
func (in SearchInput) Normalized() SearchInput {
	out := in
	out.Query = strings.TrimSpace(in.Query)
	out.Filter = in.Filter.Clone()
	out.Page = in.DisplayPage()
	if out.SortType == "" {
		out.SortType = SortBestMatch
	}
	return out
}

// SearchState is the state owned by a search session.
type SearchState struct {
	SearchInput SearchInput `json:"searchInput"`
	SearchFrom  Provenance  `json:"searchFrom"`
}

// NewSearchState returns the state of a freshly opened search surface.
func NewSearchState() SearchState {
	return SearchState{
		SearchInput: SearchInput{
			Query:    "",
			Filter:   NewSearchFilter(),
			SortType: SortBestMatch,
			Page:     PageUnset,
		},
		SearchFrom: FromURL,
	}
}

// Equal reports whether two states describe the same search. Pages are
// compared by their displayed value.
func (s SearchState) Equal(o SearchState) bool {
	a, b := s.SearchInput, o.SearchInput
	return a.Query == b.Query &&
		a.SortType == b.SortType &&
		a.DisplayPage() == b.DisplayPage() &&
		equalInt(a.PageSize, b.PageSize) &&
		a.Filter.Equal(b.Filter) &&
		s.SearchFrom == o.SearchFrom
}

// PageInfo describes the position of a result page.
type PageInfo struct {
	Page       int `json:"page"`
	TotalPage  int `json:"totalPage"`
	TotalCount int `json:"totalCount"`
}

// SearchResult is a page of items returned by the backend for one search.
type SearchResult struct {
	SearchID string   `json:"searchId"`
	Items    []Item   `json:"items"`
	PageInfo PageInfo `json:"pageInfo"`
}

// ItemIDs returns the ids of the result items in display order.
func (r *SearchResult) ItemIDs() []string {
	ids := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		ids = append(ids, it.ID)
	}
	return ids
}

// QuerySuggestions is a ranked list of query completions for a fragment.
type QuerySuggestions struct {
	Query            string   `json:"query"`
	SuggestedQueries []string `json:"suggestedQueries"`
}
