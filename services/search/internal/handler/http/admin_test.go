package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-yomo/kagu-miru/pkg/health"
	"github.com/k-yomo/kagu-miru/pkg/httpclient"
	"github.com/k-yomo/kagu-miru/services/search/internal/catalog"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
	"github.com/k-yomo/kagu-miru/services/search/internal/engine/memory"
	"github.com/k-yomo/kagu-miru/services/search/internal/service"
)

func TestAdminReindex(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	release := make(chan struct{})
	catalogAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":        []domain.Item{{ID: "c-1", Name: "teak bench"}},
			"page":        1,
			"total_pages": 1,
		})
	}))
	t.Cleanup(catalogAPI.Close)

	eng := memory.New()
	reindexer := catalog.NewReindexer(httpclient.New(httpclient.DefaultConfig()), catalogAPI.URL, eng, 0, logger)
	manager := service.NewSessionManager(eng, nil, nil, service.DefaultManagerConfig(), logger)
	t.Cleanup(manager.Shutdown)

	router := NewRouter(RouterConfig{
		Sessions: NewSessionHandler(manager, time.Second, logger),
		Admin:    NewAdminHandler(t.Context(), reindexer, logger),
		Health:   health.NewHandler(),
		Logger:   logger,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/reindex", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, reindexer.Running, time.Second, 5*time.Millisecond)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/reindex", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	require.Eventually(t, func() bool { return eng.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}
