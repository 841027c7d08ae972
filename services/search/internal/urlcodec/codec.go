// Package urlcodec maps a search session state to URL query parameters and back.
//
// Encoding is canonical: default or absent values are omitted so that equal
// states always produce equal URLs. List elements and metadata names are
// query-escaped before joining, so any string survives a round trip.
// Decoding never fails; malformed values are treated as absent.
package urlcodec

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
)

// Query-string keys.
const (
	KeyQuery       = "q"
	KeyCategoryIDs = "categoryIds"
	KeyPlatforms   = "platforms"
	KeyBrandNames  = "brandNames"
	KeyColors      = "colors"
	KeyMinPrice    = "minPrice"
	KeyMaxPrice    = "maxPrice"
	KeyMinRating   = "minRating"
	KeyMetadata    = "metadata"
	KeySort        = "sort"
	KeyPage        = "page"
	KeySearchFrom  = "searchFrom"
)

const (
	listSeparator     = ","
	metadataSeparator = ":"
)

// Decode builds a SearchState from URL query parameters.
func Decode(values url.Values) domain.SearchState {
	state := domain.NewSearchState()
	in := &state.SearchInput

	in.Query = values.Get(KeyQuery)

	in.Filter.CategoryIDs = splitList(values, KeyCategoryIDs)
	in.Filter.BrandNames = splitList(values, KeyBrandNames)
	for _, p := range splitList(values, KeyPlatforms) {
		if platform := domain.Platform(p); platform.IsValid() {
			in.Filter.Platforms = append(in.Filter.Platforms, platform)
		}
	}
	for _, c := range splitList(values, KeyColors) {
		if color := domain.Color(c); color.IsValid() {
			in.Filter.Colors = append(in.Filter.Colors, color)
		}
	}
	in.Filter.MinPrice = parseInt(values.Get(KeyMinPrice))
	in.Filter.MaxPrice = parseInt(values.Get(KeyMaxPrice))
	if rating := parseInt(values.Get(KeyMinRating)); rating != nil && *rating >= 1 {
		in.Filter.MinRating = rating
	}

	var metadata []domain.MetadataFilter
	for _, raw := range values[KeyMetadata] {
		escaped, list, ok := strings.Cut(raw, metadataSeparator)
		if !ok {
			continue
		}
		name, err := url.QueryUnescape(escaped)
		if err != nil {
			continue
		}
		metadata = append(metadata, domain.MetadataFilter{Name: name, Values: unescapeList(list)})
	}
	// Patch deduplicates sets and drops empty metadata entries.
	in.Filter = domain.NewSearchFilter().Patch(domain.FilterPatch{
		CategoryIDs: in.Filter.CategoryIDs,
		Platforms:   in.Filter.Platforms,
		BrandNames:  in.Filter.BrandNames,
		Colors:      in.Filter.Colors,
		MinPrice:    domain.Set(in.Filter.MinPrice),
		MaxPrice:    domain.Set(in.Filter.MaxPrice),
		MinRating:   domain.Set(in.Filter.MinRating),
		Metadata:    metadata,
	})

	if sort := domain.SortType(values.Get(KeySort)); sort.IsValid() {
		in.SortType = sort
	}
	if page := parseInt(values.Get(KeyPage)); page != nil && *page > 1 {
		in.Page = *page
	}
	if from := domain.Provenance(values.Get(KeySearchFrom)); from.IsValid() {
		state.SearchFrom = from
	}

	return state
}

// Encode renders a SearchState as URL query parameters. q and searchFrom are
// always present; every other key is omitted when it holds its default.
func Encode(state domain.SearchState) url.Values {
	in := state.SearchInput
	values := url.Values{}

	values.Set(KeyQuery, in.Query)

	f := in.Filter
	if len(f.CategoryIDs) > 0 {
		values.Set(KeyCategoryIDs, joinList(f.CategoryIDs))
	}
	if len(f.Platforms) > 0 {
		values.Set(KeyPlatforms, joinList(f.Platforms))
	}
	if len(f.BrandNames) > 0 {
		values.Set(KeyBrandNames, joinList(f.BrandNames))
	}
	if len(f.Colors) > 0 {
		values.Set(KeyColors, joinList(f.Colors))
	}
	if f.MinPrice != nil {
		values.Set(KeyMinPrice, strconv.Itoa(*f.MinPrice))
	}
	if f.MaxPrice != nil {
		values.Set(KeyMaxPrice, strconv.Itoa(*f.MaxPrice))
	}
	if f.MinRating != nil {
		values.Set(KeyMinRating, strconv.Itoa(*f.MinRating))
	}
	for _, m := range f.Metadata {
		if len(m.Values) == 0 {
			continue
		}
		values.Add(KeyMetadata, url.QueryEscape(m.Name)+metadataSeparator+joinList(m.Values))
	}

	if in.SortType != "" && in.SortType != domain.SortBestMatch {
		values.Set(KeySort, string(in.SortType))
	}
	if in.Page > 1 {
		values.Set(KeyPage, strconv.Itoa(in.Page))
	}

	from := state.SearchFrom
	if from == "" {
		from = domain.FromURL
	}
	values.Set(KeySearchFrom, string(from))

	return values
}

// splitList decodes the list under key. A present key always yields at least
// one element, since the encoder omits empty lists.
func splitList(values url.Values, key string) []string {
	if !values.Has(key) {
		return []string{}
	}
	return unescapeList(values.Get(key))
}

// unescapeList reverses joinList. Elements that are not valid escapes are
// dropped.
func unescapeList(raw string) []string {
	parts := strings.Split(raw, listSeparator)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		v, err := url.QueryUnescape(part)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func joinList[T ~string](in []T) string {
	parts := make([]string, 0, len(in))
	for _, v := range in {
		parts = append(parts, url.QueryEscape(string(v)))
	}
	return strings.Join(parts, listSeparator)
}

func parseInt(raw string) *int {
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &v
}
