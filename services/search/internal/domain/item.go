package domain

import "time"

// ItemStatus is the sale status of an item.
type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "ACTIVE"
	ItemStatusInactive ItemStatus = "INACTIVE"
)

// Item is a furniture product as returned by the search backend.
// BrandName, Colors and Metadata are only populated by the local engines,
// which need them to evaluate facets.
type Item struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Status        ItemStatus        `json:"status"`
	URL           string            `json:"url"`
	AffiliateURL  string            `json:"affiliateUrl"`
	Price         int               `json:"price"`
	ImageURLs     []string          `json:"imageUrls"`
	AverageRating float64           `json:"averageRating"`
	ReviewCount   int               `json:"reviewCount"`
	CategoryIDs   []string          `json:"categoryIds"`
	Platform      Platform          `json:"platform"`
	BrandName     string            `json:"brandName,omitempty"`
	Colors        []Color           `json:"colors,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	IndexedAt     time.Time         `json:"indexedAt,omitempty"`
}
