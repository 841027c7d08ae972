// Package pagination models the page-numbered list contract of the catalog
// APIs: page and per_page on the request, a Result envelope on the response.
package pagination

import (
	"net/url"
	"strconv"
)

// MaxPerPage is the largest page size a catalog API honors.
const MaxPerPage = 500

// Params selects one page of a list.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// NewParams returns params for page, clamping both values into range.
func NewParams(page, perPage int) Params {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return Params{Page: page, PerPage: perPage}
}

// Next returns the params of the following page.
func (p Params) Next() Params {
	return Params{Page: p.Page + 1, PerPage: p.PerPage}
}

// Values encodes p as query parameters.
func (p Params) Values() url.Values {
	return url.Values{
		"page":     {strconv.Itoa(p.Page)},
		"per_page": {strconv.Itoa(p.PerPage)},
	}
}

// Result wraps a paginated response.
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// Last reports whether no page follows r. An empty page is always last.
func (r Result[T]) Last() bool {
	if len(r.Data) == 0 {
		return true
	}
	if r.HasNext {
		return false
	}
	return r.Page >= r.TotalPages
}
