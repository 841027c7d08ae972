package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxSuggestions  = 10
)

// Engine is an in-memory search engine. It evaluates every facet of a
// SearchInput with plain string matching and is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	items map[string]domain.Item
}

// New creates an empty in-memory engine.
func New() *Engine {
	return &Engine{
		items: make(map[string]domain.Item),
	}
}

// Index adds or updates a single item.
func (e *Engine) Index(_ context.Context, item *domain.Item) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.items[item.ID] = *item
	return nil
}

// BulkIndex adds or updates multiple items.
func (e *Engine) BulkIndex(_ context.Context, items []domain.Item) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range items {
		e.items[items[i].ID] = items[i]
	}
	return nil
}

// Delete removes an item by its ID.
func (e *Engine) Delete(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.items, id)
	return nil
}

// Len returns the number of indexed items.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items)
}

type scored struct {
	item  domain.Item
	score int
}

// Search returns one page of active items matching input.
func (e *Engine) Search(_ context.Context, input domain.SearchInput) (*domain.SearchResult, error) {
	terms := strings.Fields(strings.ToLower(input.Query))

	e.mu.RLock()
	matched := make([]scored, 0)
	for _, it := range e.items {
		if it.Status == domain.ItemStatusInactive || !matchesFilter(it, input.Filter) {
			continue
		}
		score, ok := matchTerms(it, terms)
		if !ok {
			continue
		}
		matched = append(matched, scored{item: it, score: score})
	}
	e.mu.RUnlock()

	sortItems(matched, input.SortType)

	pageSize := defaultPageSize
	if input.PageSize != nil && *input.PageSize > 0 {
		pageSize = min(*input.PageSize, maxPageSize)
	}
	page := input.DisplayPage()
	total := len(matched)

	offset := min((page-1)*pageSize, total)
	end := min(offset+pageSize, total)

	items := make([]domain.Item, 0, end-offset)
	for _, m := range matched[offset:end] {
		items = append(items, m.item)
	}

	return &domain.SearchResult{
		SearchID: uuid.NewString(),
		Items:    items,
		PageInfo: domain.PageInfo{
			Page:       page,
			TotalPage:  (total + pageSize - 1) / pageSize,
			TotalCount: total,
		},
	}, nil
}

// SuggestQueries returns item names containing a word that starts with the
// fragment, most reviewed first.
func (e *Engine) SuggestQueries(_ context.Context, query string) (*domain.QuerySuggestions, error) {
	prefix := strings.ToLower(strings.TrimSpace(query))
	out := &domain.QuerySuggestions{Query: query, SuggestedQueries: []string{}}
	if prefix == "" {
		return out, nil
	}

	type candidate struct {
		name    string
		reviews int
	}
	seen := make(map[string]struct{})
	candidates := make([]candidate, 0)

	e.mu.RLock()
	for _, it := range e.items {
		if it.Status == domain.ItemStatusInactive {
			continue
		}
		name := strings.ToLower(it.Name)
		if _, ok := seen[name]; ok || !hasWordPrefix(name, prefix) {
			continue
		}
		seen[name] = struct{}{}
		candidates = append(candidates, candidate{name: name, reviews: it.ReviewCount})
	}
	e.mu.RUnlock()

	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.reviews, a.reviews); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})
	for i, c := range candidates {
		if i == maxSuggestions {
			break
		}
		out.SuggestedQueries = append(out.SuggestedQueries, c.name)
	}
	return out, nil
}

func hasWordPrefix(s, prefix string) bool {
	if strings.HasPrefix(s, prefix) {
		return true
	}
	for _, w := range strings.Fields(s) {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}

// matchTerms reports whether every term occurs in the item text. The score
// counts the terms found in the name.
func matchTerms(it domain.Item, terms []string) (int, bool) {
	if len(terms) == 0 {
		return 0, true
	}
	name := strings.ToLower(it.Name)
	text := name + " " + strings.ToLower(it.Description) + " " + strings.ToLower(it.BrandName)

	score := 0
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return 0, false
		}
		if strings.Contains(name, term) {
			score++
		}
	}
	return score, true
}

func matchesFilter(it domain.Item, f domain.SearchFilter) bool {
	if len(f.CategoryIDs) > 0 && !containsAny(it.CategoryIDs, f.CategoryIDs) {
		return false
	}
	if len(f.Platforms) > 0 && !slices.Contains(f.Platforms, it.Platform) {
		return false
	}
	if len(f.BrandNames) > 0 && !slices.Contains(f.BrandNames, it.BrandName) {
		return false
	}
	if len(f.Colors) > 0 && !containsAny(it.Colors, f.Colors) {
		return false
	}
	if f.MinPrice != nil && it.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && it.Price > *f.MaxPrice {
		return false
	}
	if f.MinRating != nil && it.AverageRating < float64(*f.MinRating) {
		return false
	}
	for _, m := range f.Metadata {
		v, ok := it.Metadata[m.Name]
		if !ok || !slices.Contains(m.Values, v) {
			return false
		}
	}
	return true
}

func containsAny[T comparable](have, want []T) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

// sortItems orders matches by sortType. Ties fall back to the item ID so
// that paging is stable.
func sortItems(items []scored, sortType domain.SortType) {
	slices.SortFunc(items, func(a, b scored) int {
		var c int
		switch sortType {
		case domain.SortPriceAsc:
			c = cmp.Compare(a.item.Price, b.item.Price)
		case domain.SortPriceDesc:
			c = cmp.Compare(b.item.Price, a.item.Price)
		case domain.SortReviewCount:
			c = cmp.Compare(b.item.ReviewCount, a.item.ReviewCount)
		case domain.SortRating:
			c = cmp.Compare(b.item.AverageRating, a.item.AverageRating)
		default:
			c = cmp.Compare(b.score, a.score)
			if c == 0 {
				c = cmp.Compare(b.item.ReviewCount, a.item.ReviewCount)
			}
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.item.ID, b.item.ID)
	})
}
