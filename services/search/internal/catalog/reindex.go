package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
	"github.com/k-yomo/kagu-miru/pkg/httpclient"
	"github.com/k-yomo/kagu-miru/pkg/pagination"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
	"github.com/k-yomo/kagu-miru/services/search/internal/engine"
)

// DefaultReindexPageSize is the page size requested from the catalog API.
const DefaultReindexPageSize = 200

// Getter is the subset of the HTTP client used by Reindexer.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// Reindexer rebuilds a local index by paging through the catalog API. Only
// one run may be in progress at a time.
type Reindexer struct {
	client   Getter
	baseURL  string
	indexer  engine.Indexer
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
	running  atomic.Bool
}

// NewReindexer creates a reindexer reading from the catalog API at baseURL.
func NewReindexer(client Getter, baseURL string, indexer engine.Indexer, pageSize int, logger *slog.Logger) *Reindexer {
	if pageSize <= 0 {
		pageSize = DefaultReindexPageSize
	}
	return &Reindexer{
		client:   client,
		baseURL:  baseURL,
		indexer:  indexer,
		pageSize: pageSize,
		logger:   logger,
		now:      time.Now,
	}
}

// Running reports whether a run is in progress.
func (r *Reindexer) Running() bool { return r.running.Load() }

// Run indexes every catalog item and returns how many were written. It
// fails with a conflict error if another run is in progress. Items without
// an id are skipped.
func (r *Reindexer) Run(ctx context.Context) (int, error) {
	if !r.running.CompareAndSwap(false, true) {
		return 0, apperrors.Conflict("catalog reindex already running")
	}
	defer r.running.Store(false)

	start := r.now()
	indexed := 0
	for params := pagination.NewParams(1, r.pageSize); ; params = params.Next() {
		page := params.Page
		if err := ctx.Err(); err != nil {
			return indexed, fmt.Errorf("reindex interrupted at page %d: %w", page, err)
		}

		p, err := r.fetch(ctx, params)
		if err != nil {
			return indexed, err
		}
		if len(p.Data) == 0 {
			break
		}

		items := make([]domain.Item, 0, len(p.Data))
		indexedAt := r.now().UTC()
		for _, item := range p.Data {
			if item.ID == "" {
				continue
			}
			if item.Status == "" {
				item.Status = domain.ItemStatusActive
			}
			item.IndexedAt = indexedAt
			items = append(items, item)
		}
		if err := r.indexer.BulkIndex(ctx, items); err != nil {
			return indexed, fmt.Errorf("bulk index page %d: %w", page, err)
		}
		indexed += len(items)

		if p.Last() {
			break
		}
	}

	r.logger.InfoContext(ctx, "catalog reindex completed",
		slog.Int("indexed", indexed),
		slog.Duration("took", r.now().Sub(start)),
	)
	return indexed, nil
}

// fetch reads one page of GET /api/v1/items.
func (r *Reindexer) fetch(ctx context.Context, params pagination.Params) (*pagination.Result[domain.Item], error) {
	page := params.Page
	resp, err := r.client.Get(ctx, r.baseURL+"/api/v1/items?"+params.Values().Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch catalog page %d: %w", page, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "catalog-api")
	}
	defer func() { _ = resp.Body.Close() }()

	var p pagination.Result[domain.Item]
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode catalog page %d: %w", page, err)
	}
	return &p, nil
}
