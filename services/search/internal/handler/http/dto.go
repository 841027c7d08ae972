package http

import (
	"fmt"

	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
	"github.com/k-yomo/kagu-miru/services/search/internal/session"
)

// Action types accepted by POST /api/v1/sessions/{id}/actions.
const (
	ActionChangeQuery       = "CHANGE_QUERY"
	ActionChangeSortBy      = "CHANGE_SORT_BY"
	ActionChangePage        = "CHANGE_PAGE"
	ActionSetFilter         = "SET_FILTER"
	ActionSetCategoryFilter = "SET_CATEGORY_FILTER"
	ActionSetPlatformFilter = "SET_PLATFORM_FILTER"
	ActionSetBrandFilter    = "SET_BRAND_FILTER"
	ActionSetColorFilter    = "SET_COLOR_FILTER"
	ActionSetPriceFilter    = "SET_PRICE_FILTER"
	ActionSetRatingFilter   = "SET_RATING_FILTER"
	ActionSetMetadataFilter = "SET_METADATA_FILTER"
)

// FilterRequest is a complete filter as sent by the filter editor.
type FilterRequest struct {
	CategoryIDs []string                `json:"categoryIds"`
	Platforms   []domain.Platform       `json:"platforms"`
	BrandNames  []string                `json:"brandNames"`
	Colors      []domain.Color          `json:"colors"`
	MinPrice    *int                    `json:"minPrice" validate:"omitempty,gte=0"`
	MaxPrice    *int                    `json:"maxPrice" validate:"omitempty,gte=0"`
	MinRating   *int                    `json:"minRating" validate:"omitempty,min=1,max=5"`
	Metadata    []domain.MetadataFilter `json:"metadata"`
}

// ActionRequest is the body of an action dispatch. Which fields are read
// depends on Type.
type ActionRequest struct {
	Type string `json:"type" validate:"required,oneof=CHANGE_QUERY CHANGE_SORT_BY CHANGE_PAGE SET_FILTER SET_CATEGORY_FILTER SET_PLATFORM_FILTER SET_BRAND_FILTER SET_COLOR_FILTER SET_PRICE_FILTER SET_RATING_FILTER SET_METADATA_FILTER"`

	Query      *string `json:"query"`
	SearchFrom string  `json:"searchFrom" validate:"omitempty,oneof=URL SEARCH FILTER QUERY_SUGGESTION"`
	SortType   string  `json:"sortType" validate:"omitempty,oneof=BEST_MATCH PRICE_ASC PRICE_DESC REVIEW_COUNT RATING"`
	Page       int     `json:"page" validate:"omitempty,min=1"`

	Filter      *FilterRequest    `json:"filter"`
	CategoryIDs []string          `json:"categoryIds"`
	Platforms   []domain.Platform `json:"platforms"`
	BrandNames  []string          `json:"brandNames"`
	Colors      []domain.Color    `json:"colors"`
	MinPrice    *int              `json:"minPrice" validate:"omitempty,gte=0"`
	MaxPrice    *int              `json:"maxPrice" validate:"omitempty,gte=0"`
	MinRating   *int              `json:"minRating" validate:"omitempty,min=1,max=5"`
	Name        string            `json:"name"`
	Values      []string          `json:"values"`
}

// ToAction converts the request into a session action. It enforces the
// per-type required fields and rejects an inverted price range.
func (req *ActionRequest) ToAction() (session.Action, error) {
	switch req.Type {
	case ActionChangeQuery:
		if req.Query == nil {
			return nil, apperrors.InvalidParameter("query", "is required for "+req.Type)
		}
		return session.ChangeQuery{Query: *req.Query, SearchFrom: domain.Provenance(req.SearchFrom)}, nil
	case ActionChangeSortBy:
		if req.SortType == "" {
			return nil, apperrors.InvalidParameter("sortType", "is required for "+req.Type)
		}
		return session.ChangeSortBy{SortType: domain.SortType(req.SortType)}, nil
	case ActionChangePage:
		if req.Page < 1 {
			return nil, apperrors.InvalidParameter("page", "is required for "+req.Type)
		}
		return session.ChangePage{Page: req.Page}, nil
	case ActionSetFilter:
		if req.Filter == nil {
			return nil, apperrors.InvalidParameter("filter", "is required for "+req.Type)
		}
		f := req.Filter
		if err := checkPlatforms(f.Platforms); err != nil {
			return nil, err
		}
		if err := checkColors(f.Colors); err != nil {
			return nil, err
		}
		if err := checkPriceRange(f.MinPrice, f.MaxPrice); err != nil {
			return nil, err
		}
		filter := domain.NewSearchFilter().Patch(domain.FilterPatch{
			CategoryIDs: orEmpty(f.CategoryIDs),
			Platforms:   orEmpty(f.Platforms),
			BrandNames:  orEmpty(f.BrandNames),
			Colors:      orEmpty(f.Colors),
			MinPrice:    domain.Set(f.MinPrice),
			MaxPrice:    domain.Set(f.MaxPrice),
			MinRating:   domain.Set(f.MinRating),
		})
		for _, m := range f.Metadata {
			filter = filter.WithMetadata(m.Name, m.Values)
		}
		return session.SetFilter{Filter: filter}, nil
	case ActionSetCategoryFilter:
		return session.SetCategoryFilter{CategoryIDs: req.CategoryIDs}, nil
	case ActionSetPlatformFilter:
		if err := checkPlatforms(req.Platforms); err != nil {
			return nil, err
		}
		return session.SetPlatformFilter{Platforms: req.Platforms}, nil
	case ActionSetBrandFilter:
		return session.SetBrandFilter{BrandNames: req.BrandNames}, nil
	case ActionSetColorFilter:
		if err := checkColors(req.Colors); err != nil {
			return nil, err
		}
		return session.SetColorFilter{Colors: req.Colors}, nil
	case ActionSetPriceFilter:
		if err := checkPriceRange(req.MinPrice, req.MaxPrice); err != nil {
			return nil, err
		}
		return session.SetPriceFilter{Min: req.MinPrice, Max: req.MaxPrice}, nil
	case ActionSetRatingFilter:
		return session.SetRatingFilter{MinRating: req.MinRating}, nil
	case ActionSetMetadataFilter:
		if req.Name == "" {
			return nil, apperrors.InvalidParameter("name", "is required for "+req.Type)
		}
		return session.SetMetadataFilter{Name: req.Name, Values: req.Values}, nil
	default:
		return nil, apperrors.InvalidParameter("type", fmt.Sprintf("unknown action %q", req.Type))
	}
}

func checkPriceRange(lo, hi *int) error {
	if lo != nil && hi != nil && *lo > *hi {
		return apperrors.InvalidParameter("minPrice", "must not exceed maxPrice")
	}
	return nil
}

func checkPlatforms(platforms []domain.Platform) error {
	for _, p := range platforms {
		if !p.IsValid() {
			return apperrors.InvalidParameter("platforms", fmt.Sprintf("unknown platform %q", p))
		}
	}
	return nil
}

func checkColors(colors []domain.Color) error {
	for _, c := range colors {
		if !c.IsValid() {
			return apperrors.InvalidParameter("colors", fmt.Sprintf("unknown color %q", c))
		}
	}
	return nil
}

func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// ClickRequest is the body of POST /api/v1/sessions/{id}/clicks.
type ClickRequest struct {
	SearchID string `json:"searchId" validate:"required"`
	ItemID   string `json:"itemId" validate:"required"`
}

// SelectSuggestionRequest is the body of POST
// /api/v1/sessions/{id}/suggestions/select.
type SelectSuggestionRequest struct {
	Query string `json:"query" validate:"required"`
}

// SessionResponse is the view of a session returned by every session
// endpoint.
type SessionResponse struct {
	SessionID string               `json:"sessionId"`
	State     domain.SearchState   `json:"state"`
	URL       string               `json:"url"`
	Result    *domain.SearchResult `json:"result"`
	Loading   bool                 `json:"loading"`
	// SearchError is set when the latest search failed. The result is
	// then empty.
	SearchError string `json:"searchError,omitempty"`
}

// ReindexResponse is returned when a catalog reindex is accepted.
type ReindexResponse struct {
	Status string `json:"status"`
}
