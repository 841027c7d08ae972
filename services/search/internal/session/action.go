// Package session implements the search session controller: the owner of a
// user's current search intent, its URL and its in-flight search.
package session

import (
	"fmt"

	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
)

// Action is a user-initiated change of the search state. The set of
// variants is closed; Reduce handles each of them.
type Action interface {
	isAction()
}

// ChangeQuery replaces the free-text query.
type ChangeQuery struct {
	Query      string
	SearchFrom domain.Provenance
}

// ChangeSortBy changes the result order.
type ChangeSortBy struct {
	SortType domain.SortType
}

// ChangePage moves to another result page. It is the only action that
// keeps the rest of the input intact.
type ChangePage struct {
	Page int
}

// SetFilter replaces the whole filter.
type SetFilter struct {
	Filter domain.SearchFilter
}

// SetCategoryFilter replaces the category set.
type SetCategoryFilter struct {
	CategoryIDs []string
}

// SetPlatformFilter replaces the platform set.
type SetPlatformFilter struct {
	Platforms []domain.Platform
}

// SetBrandFilter replaces the brand set.
type SetBrandFilter struct {
	BrandNames []string
}

// SetColorFilter replaces the color set.
type SetColorFilter struct {
	Colors []domain.Color
}

// SetPriceFilter replaces both price bounds. A nil bound is cleared.
// Min > Max is passed through unchanged.
type SetPriceFilter struct {
	Min *int
	Max *int
}

// SetRatingFilter replaces the minimum rating. Nil clears it.
type SetRatingFilter struct {
	MinRating *int
}

// SetMetadataFilter replaces the values of one metadata facet. Empty values
// remove the facet.
type SetMetadataFilter struct {
	Name   string
	Values []string
}

func (ChangeQuery) isAction()       {}
func (ChangeSortBy) isAction()      {}
func (ChangePage) isAction()        {}
func (SetFilter) isAction()         {}
func (SetCategoryFilter) isAction() {}
func (SetPlatformFilter) isAction() {}
func (SetBrandFilter) isAction()    {}
func (SetColorFilter) isAction()    {}
func (SetPriceFilter) isAction()    {}
func (SetRatingFilter) isAction()   {}
func (SetMetadataFilter) isAction() {}

// Reduce applies action to state and returns the new state. It is pure:
// state is not modified.
//
// Every action except ChangePage resets the page.
func Reduce(state domain.SearchState, action Action) domain.SearchState {
	next := state
	next.SearchInput.Filter = state.SearchInput.Filter.Clone()
	in := &next.SearchInput

	switch a := action.(type) {
	case ChangeQuery:
		in.Query = a.Query
		in.Page = domain.PageUnset
		next.SearchFrom = a.SearchFrom
		if !next.SearchFrom.IsValid() {
			next.SearchFrom = domain.FromSearch
		}
		return next
	case ChangeSortBy:
		in.SortType = a.SortType
		in.Page = domain.PageUnset
		next.SearchFrom = domain.FromSearch
		return next
	case ChangePage:
		in.Page = a.Page
		next.SearchFrom = domain.FromSearch
		return next
	case SetFilter:
		in.Filter = a.Filter.Canonical()
	case SetCategoryFilter:
		in.Filter = in.Filter.Patch(domain.FilterPatch{CategoryIDs: nonNil(a.CategoryIDs)})
	case SetPlatformFilter:
		in.Filter = in.Filter.Patch(domain.FilterPatch{Platforms: nonNil(a.Platforms)})
	case SetBrandFilter:
		in.Filter = in.Filter.Patch(domain.FilterPatch{BrandNames: nonNil(a.BrandNames)})
	case SetColorFilter:
		in.Filter = in.Filter.Patch(domain.FilterPatch{Colors: nonNil(a.Colors)})
	case SetPriceFilter:
		in.Filter = in.Filter.Patch(domain.FilterPatch{
			MinPrice: domain.Set(a.Min),
			MaxPrice: domain.Set(a.Max),
		})
	case SetRatingFilter:
		in.Filter = in.Filter.Patch(domain.FilterPatch{MinRating: domain.Set(a.MinRating)})
	case SetMetadataFilter:
		in.Filter = in.Filter.WithMetadata(a.Name, a.Values)
	default:
		panic(fmt.Sprintf("session: unhandled action %T", action))
	}

	in.Page = domain.PageUnset
	next.SearchFrom = domain.FromFilter
	return next
}

// nonNil turns a nil set into an empty one so that the patch clears the facet.
func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
