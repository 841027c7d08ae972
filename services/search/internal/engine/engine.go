package engine

import (
	"context"

	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
)

// Backend answers search and query-suggestion requests. Implementations may
// call the remote GraphQL API or evaluate the request locally.
type Backend interface {
	// Search returns one page of items for the input. The input query is
	// already trimmed.
	Search(ctx context.Context, input domain.SearchInput) (*domain.SearchResult, error)

	// SuggestQueries returns ranked completions for a query fragment.
	SuggestQueries(ctx context.Context, query string) (*domain.QuerySuggestions, error)
}

// Indexer maintains the item index of a local engine.
type Indexer interface {
	// Index adds or updates a single item.
	Index(ctx context.Context, item *domain.Item) error

	// BulkIndex adds or updates multiple items.
	BulkIndex(ctx context.Context, items []domain.Item) error

	// Delete removes an item by its ID.
	Delete(ctx context.Context, id string) error
}

// SearchEngine is a local engine that can both serve and index items.
type SearchEngine interface {
	Backend
	Indexer
}
