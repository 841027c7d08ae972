package catalog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
	"github.com/k-yomo/kagu-miru/pkg/httpclient"
	"github.com/k-yomo/kagu-miru/pkg/pagination"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
	"github.com/k-yomo/kagu-miru/services/search/internal/engine/memory"
)

func newCatalogServer(t *testing.T, pages [][]domain.Item) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/v1/items", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))

		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		require.NoError(t, err)
		var data []domain.Item
		if page <= len(pages) {
			data = pages[page-1]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pagination.Result[domain.Item]{Data: data, Page: page, TotalPages: len(pages)})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestReindexer(baseURL string, eng *memory.Engine) *Reindexer {
	client := httpclient.New(httpclient.Config{MaxRetries: 0})
	return NewReindexer(client, baseURL, eng, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReindexer_IndexesEveryPage(t *testing.T) {
	srv, calls := newCatalogServer(t, [][]domain.Item{
		{{ID: "1", Name: "oak table"}, {ID: "2", Name: "oak chair"}},
		{{ID: "3", Name: "oak shelf", Status: domain.ItemStatusInactive}, {Name: "no id"}},
	})
	eng := memory.New()

	n, err := newTestReindexer(srv.URL, eng).Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Equal(t, 3, eng.Len())
	assert.Equal(t, int32(2), calls.Load())

	input := domain.NewSearchState().SearchInput
	input.Query = "oak"
	result, err := eng.Search(t.Context(), input.Normalized())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, result.ItemIDs(), "inactive items are indexed but hidden")
}

func TestReindexer_EmptyCatalog(t *testing.T) {
	srv, calls := newCatalogServer(t, nil)
	eng := memory.New()

	n, err := newTestReindexer(srv.URL, eng).Run(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReindexer_DownstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"no items route"}}`))
	}))
	t.Cleanup(srv.Close)

	_, err := newTestReindexer(srv.URL, memory.New()).Run(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReindexer_CanceledContext(t *testing.T) {
	srv, calls := newCatalogServer(t, [][]domain.Item{{{ID: "1", Name: "sofa"}}})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := newTestReindexer(srv.URL, memory.New()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestReindexer_RejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_ = json.NewEncoder(w).Encode(pagination.Result[domain.Item]{Page: 1, TotalPages: 1})
	}))
	t.Cleanup(srv.Close)

	r := newTestReindexer(srv.URL, memory.New())
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(t.Context())
		done <- err
	}()
	<-entered

	assert.True(t, r.Running())
	_, err := r.Run(t.Context())
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, r.Running())
}
