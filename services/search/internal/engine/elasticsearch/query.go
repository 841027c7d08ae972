package elasticsearch

import (
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxSuggestions  = 10
)

// pageWindow returns the 1-based page and page size to request.
func pageWindow(input domain.SearchInput) (page, size int) {
	size = defaultPageSize
	if input.PageSize != nil && *input.PageSize > 0 {
		size = min(*input.PageSize, maxPageSize)
	}
	return input.DisplayPage(), size
}

// buildSearchQuery constructs the query DSL for one search page.
func buildSearchQuery(input domain.SearchInput) map[string]any {
	page, size := pageWindow(input)

	var must any
	if input.Query != "" {
		must = map[string]any{
			"multi_match": map[string]any{
				"query":    input.Query,
				"fields":   []string{"name^3", "name.autocomplete", "description", "brandName"},
				"type":     "best_fields",
				"operator": "and",
			},
		}
	} else {
		must = map[string]any{"match_all": map[string]any{}}
	}

	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must":   []any{must},
				"filter": buildFilters(input.Filter),
			},
		},
		"from":             (page - 1) * size,
		"size":             size,
		"track_total_hits": true,
		"sort":             buildSort(input.SortType),
	}
}

// buildFilters turns every facet of f into a filter clause. Active status
// is always required.
func buildFilters(f domain.SearchFilter) []any {
	filters := []any{
		term("status", string(domain.ItemStatusActive)),
	}

	if len(f.CategoryIDs) > 0 {
		filters = append(filters, terms("categoryIds", f.CategoryIDs))
	}
	if len(f.Platforms) > 0 {
		filters = append(filters, terms("platform", f.Platforms))
	}
	if len(f.BrandNames) > 0 {
		filters = append(filters, terms("brandName", f.BrandNames))
	}
	if len(f.Colors) > 0 {
		filters = append(filters, terms("colors", f.Colors))
	}
	if f.MinPrice != nil || f.MaxPrice != nil {
		r := map[string]any{}
		if f.MinPrice != nil {
			r["gte"] = *f.MinPrice
		}
		if f.MaxPrice != nil {
			r["lte"] = *f.MaxPrice
		}
		filters = append(filters, map[string]any{"range": map[string]any{"price": r}})
	}
	if f.MinRating != nil {
		filters = append(filters, map[string]any{
			"range": map[string]any{"averageRating": map[string]any{"gte": *f.MinRating}},
		})
	}
	for _, m := range f.Metadata {
		filters = append(filters, terms("metadata."+m.Name, m.Values))
	}

	return filters
}

func term(field, value string) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func terms[T ~string](field string, values []T) map[string]any {
	vs := make([]string, 0, len(values))
	for _, v := range values {
		vs = append(vs, string(v))
	}
	return map[string]any{"terms": map[string]any{field: vs}}
}

// buildSort maps a SortType to a sort clause. The id tiebreaker keeps
// pages stable.
func buildSort(sortType domain.SortType) []any {
	var primary map[string]any
	switch sortType {
	case domain.SortPriceAsc:
		primary = map[string]any{"price": "asc"}
	case domain.SortPriceDesc:
		primary = map[string]any{"price": "desc"}
	case domain.SortReviewCount:
		primary = map[string]any{"reviewCount": "desc"}
	case domain.SortRating:
		primary = map[string]any{"averageRating": "desc"}
	default:
		primary = map[string]any{"_score": "desc"}
	}
	return []any{primary, map[string]any{"id": "asc"}}
}

// buildSuggestQuery matches a fragment against the autocomplete subfield.
func buildSuggestQuery(fragment string) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{"match": map[string]any{"name.autocomplete": fragment}},
				},
				"filter": []any{term("status", string(domain.ItemStatusActive))},
			},
		},
		"size":    maxSuggestions * 3,
		"_source": []string{"name"},
		"sort": []any{
			map[string]any{"_score": "desc"},
			map[string]any{"reviewCount": "desc"},
		},
	}
}
