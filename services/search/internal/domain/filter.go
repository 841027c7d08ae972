package domain

import "slices"

// Platform is an e-commerce platform an item is listed on.
type Platform string

const (
	PlatformRakuten       Platform = "RAKUTEN"
	PlatformYahooShopping Platform = "YAHOO_SHOPPING"
	PlatformPayPayMall    Platform = "PAYPAY_MALL"
)

// AllPlatforms returns every known platform.
func AllPlatforms() []Platform {
	return []Platform{PlatformRakuten, PlatformYahooShopping, PlatformPayPayMall}
}

// IsValid reports whether p is a known platform.
func (p Platform) IsValid() bool {
	return slices.Contains(AllPlatforms(), p)
}

// Color is a normalized item color.
type Color string

const (
	ColorWhite       Color = "WHITE"
	ColorYellow      Color = "YELLOW"
	ColorOrange      Color = "ORANGE"
	ColorPink        Color = "PINK"
	ColorRed         Color = "RED"
	ColorBeige       Color = "BEIGE"
	ColorSilver      Color = "SILVER"
	ColorGold        Color = "GOLD"
	ColorGray        Color = "GRAY"
	ColorPurple      Color = "PURPLE"
	ColorBrown       Color = "BROWN"
	ColorGreen       Color = "GREEN"
	ColorBlue        Color = "BLUE"
	ColorBlack       Color = "BLACK"
	ColorNavy        Color = "NAVY"
	ColorKhaki       Color = "KHAKI"
	ColorWineRed     Color = "WINE_RED"
	ColorTransparent Color = "TRANSPARENT"
)

// AllColors returns every known color.
func AllColors() []Color {
	return []Color{
		ColorWhite, ColorYellow, ColorOrange, ColorPink, ColorRed, ColorBeige,
		ColorSilver, ColorGold, ColorGray, ColorPurple, ColorBrown, ColorGreen,
		ColorBlue, ColorBlack, ColorNavy, ColorKhaki, ColorWineRed, ColorTransparent,
	}
}

// IsValid reports whether c is a known color.
func (c Color) IsValid() bool {
	return slices.Contains(AllColors(), c)
}

// RatingThresholds are the minimum ratings offered by the filter UI.
// SearchFilter accepts any positive value.
var RatingThresholds = []int{3, 4, 5}

// MetadataFilter narrows results by a free-form facet such as "material".
type MetadataFilter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// SearchFilter holds the structured filter criteria of a search.
// Set-valued fields are deduplicated; a metadata entry never has empty Values.
type SearchFilter struct {
	CategoryIDs []string         `json:"categoryIds"`
	Platforms   []Platform       `json:"platforms"`
	BrandNames  []string         `json:"brandNames"`
	Colors      []Color          `json:"colors"`
	MinPrice    *int             `json:"minPrice,omitempty"`
	MaxPrice    *int             `json:"maxPrice,omitempty"`
	MinRating   *int             `json:"minRating,omitempty"`
	Metadata    []MetadataFilter `json:"metadata"`
}

// NewSearchFilter returns a filter with no criteria.
func NewSearchFilter() SearchFilter {
	return SearchFilter{
		CategoryIDs: []string{},
		Platforms:   []Platform{},
		BrandNames:  []string{},
		Colors:      []Color{},
		Metadata:    []MetadataFilter{},
	}
}

// FilterPatch is a partial update of a SearchFilter. Nil fields are left
// untouched; set fields replace the current set wholesale.
//
// The price and rating fields are double pointers so a patch can clear a
// bound: a non-nil outer pointer holding a nil inner pointer unsets it.
type FilterPatch struct {
	CategoryIDs []string
	Platforms   []Platform
	BrandNames  []string
	Colors      []Color
	MinPrice    **int
	MaxPrice    **int
	MinRating   **int
	Metadata    []MetadataFilter
}

// Patch returns a copy of f with the fields present in p replaced.
func (f SearchFilter) Patch(p FilterPatch) SearchFilter {
	out := f.Clone()
	if p.CategoryIDs != nil {
		out.CategoryIDs = dedupe(p.CategoryIDs)
	}
	if p.Platforms != nil {
		out.Platforms = dedupe(p.Platforms)
	}
	if p.BrandNames != nil {
		out.BrandNames = dedupe(p.BrandNames)
	}
	if p.Colors != nil {
		out.Colors = dedupe(p.Colors)
	}
	if p.MinPrice != nil {
		out.MinPrice = cloneInt(*p.MinPrice)
	}
	if p.MaxPrice != nil {
		out.MaxPrice = cloneInt(*p.MaxPrice)
	}
	if p.MinRating != nil {
		out.MinRating = cloneInt(*p.MinRating)
	}
	if p.Metadata != nil {
		out.Metadata = pruneMetadata(p.Metadata)
	}
	return out
}

// WithMetadata returns a copy of f where the metadata entry called name holds
// values. The entry keeps its position if it exists and is appended otherwise;
// an empty values set removes it.
func (f SearchFilter) WithMetadata(name string, values []string) SearchFilter {
	out := f.Clone()
	md := make([]MetadataFilter, 0, len(out.Metadata)+1)
	replaced := false
	for _, m := range out.Metadata {
		if m.Name == name {
			m.Values = values
			replaced = true
		}
		md = append(md, m)
	}
	if !replaced {
		md = append(md, MetadataFilter{Name: name, Values: values})
	}
	out.Metadata = pruneMetadata(md)
	return out
}

// Canonical returns f with set fields deduplicated and empty metadata
// entries removed.
func (f SearchFilter) Canonical() SearchFilter {
	return NewSearchFilter().Patch(FilterPatch{
		CategoryIDs: orEmpty(f.CategoryIDs),
		Platforms:   orEmpty(f.Platforms),
		BrandNames:  orEmpty(f.BrandNames),
		Colors:      orEmpty(f.Colors),
		MinPrice:    Set(f.MinPrice),
		MaxPrice:    Set(f.MaxPrice),
		MinRating:   Set(f.MinRating),
		Metadata:    orEmpty(f.Metadata),
	})
}

// IsEmpty reports whether the filter has no criteria at all.
func (f SearchFilter) IsEmpty() bool {
	return len(f.CategoryIDs) == 0 &&
		len(f.Platforms) == 0 &&
		len(f.BrandNames) == 0 &&
		len(f.Colors) == 0 &&
		f.MinPrice == nil &&
		f.MaxPrice == nil &&
		f.MinRating == nil &&
		len(f.Metadata) == 0
}

// Equal reports whether two filters hold the same criteria. Nil and empty
// sets compare equal.
func (f SearchFilter) Equal(o SearchFilter) bool {
	if !slices.Equal(f.CategoryIDs, o.CategoryIDs) ||
		!slices.Equal(f.Platforms, o.Platforms) ||
		!slices.Equal(f.BrandNames, o.BrandNames) ||
		!slices.Equal(f.Colors, o.Colors) {
		return false
	}
	if !equalInt(f.MinPrice, o.MinPrice) || !equalInt(f.MaxPrice, o.MaxPrice) || !equalInt(f.MinRating, o.MinRating) {
		return false
	}
	return slices.EqualFunc(f.Metadata, o.Metadata, func(a, b MetadataFilter) bool {
		return a.Name == b.Name && slices.Equal(a.Values, b.Values)
	})
}

// Clone returns a deep copy of f with non-nil set fields.
func (f SearchFilter) Clone() SearchFilter {
	out := SearchFilter{
		CategoryIDs: append([]string{}, f.CategoryIDs...),
		Platforms:   append([]Platform{}, f.Platforms...),
		BrandNames:  append([]string{}, f.BrandNames...),
		Colors:      append([]Color{}, f.Colors...),
		MinPrice:    cloneInt(f.MinPrice),
		MaxPrice:    cloneInt(f.MaxPrice),
		MinRating:   cloneInt(f.MinRating),
		Metadata:    make([]MetadataFilter, 0, len(f.Metadata)),
	}
	for _, m := range f.Metadata {
		out.Metadata = append(out.Metadata, MetadataFilter{Name: m.Name, Values: append([]string{}, m.Values...)})
	}
	return out
}

// Int returns a pointer to v, for building optional filter bounds.
func Int(v int) *int {
	return &v
}

// Set wraps an optional bound for use in a FilterPatch.
func Set(v *int) **int {
	return &v
}

func dedupe[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func pruneMetadata(in []MetadataFilter) []MetadataFilter {
	out := make([]MetadataFilter, 0, len(in))
	for _, m := range in {
		values := dedupe(m.Values)
		if len(values) == 0 {
			continue
		}
		out = append(out, MetadataFilter{Name: m.Name, Values: values})
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
