package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-yomo/kagu-miru/pkg/health"
	"github.com/k-yomo/kagu-miru/pkg/middleware"
	"github.com/k-yomo/kagu-miru/services/search/internal/analytics"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
	"github.com/k-yomo/kagu-miru/services/search/internal/engine/memory"
	"github.com/k-yomo/kagu-miru/services/search/internal/service"
	"github.com/k-yomo/kagu-miru/services/search/internal/store"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (e *recordingEmitter) Emit(event analytics.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) actions(id analytics.EventID) []analytics.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []analytics.Action
	for _, ev := range e.events {
		if ev.ID == id {
			out = append(out, ev.Action)
		}
	}
	return out
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

type testServer struct {
	router  http.Handler
	emitter *recordingEmitter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newLimitedTestServer(t, 1000, 1000)
}

func newLimitedTestServer(t *testing.T, suggestRPS float64, suggestBurst int) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := memory.New()
	require.NoError(t, eng.BulkIndex(context.Background(), []domain.Item{
		{ID: "1", Name: "oak sofa", Status: domain.ItemStatusActive, Price: 50000, Platform: domain.PlatformRakuten},
		{ID: "2", Name: "leather sofa", Status: domain.ItemStatusActive, Price: 90000, Platform: domain.PlatformYahooShopping},
		{ID: "3", Name: "sofa bed", Status: domain.ItemStatusActive, Price: 20000, Platform: domain.PlatformRakuten},
		{ID: "4", Name: "walnut desk", Status: domain.ItemStatusActive, Price: 30000, Platform: domain.PlatformRakuten},
	}))

	emitter := &recordingEmitter{}
	cfg := service.DefaultManagerConfig()
	cfg.Session.SearchTimeout = time.Second
	manager := service.NewSessionManager(eng, emitter, store.NewMemory(0), cfg, logger)
	t.Cleanup(manager.Shutdown)

	limiter := middleware.NewRateLimiter("suggestions", suggestRPS, suggestBurst, time.Minute, logger)

	return &testServer{
		router: NewRouter(RouterConfig{
			Sessions:       NewSessionHandler(manager, 2*time.Second, logger),
			Health:         health.NewHandler(),
			SuggestLimiter: limiter,
			CORS:           middleware.DefaultCORSConfig(),
			Logger:         logger,
		}),
		emitter: emitter,
	}
}

func (s *testServer) do(t *testing.T, method, target string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (s *testServer) create(t *testing.T, query string) SessionResponse {
	t.Helper()
	rec, env := s.do(t, http.MethodPost, "/api/v1/sessions?"+query, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeSession(t, env)
}

func decodeSession(t *testing.T, env envelope) SessionResponse {
	t.Helper()
	require.Nil(t, env.Error)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp
}

func TestCreateSession(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.create(t, "q=sofa&sort=PRICE_ASC&platforms=RAKUTEN")

	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "sofa", resp.State.SearchInput.Query)
	assert.Equal(t, domain.FromURL, resp.State.SearchFrom)
	assert.Equal(t, "/search?platforms=RAKUTEN&q=sofa&sort=PRICE_ASC", resp.URL)
	assert.False(t, resp.Loading)
	require.NotNil(t, resp.Result)
	assert.Equal(t, []string{"3", "1"}, resp.Result.ItemIDs())
	assert.Equal(t, []analytics.Action{analytics.ActionDisplay}, srv.emitter.actions(analytics.EventSearch))
}

func TestGetSession(t *testing.T) {
	srv := newTestServer(t)
	created := srv.create(t, "q=desk")

	rec, env := srv.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	resp := decodeSession(t, env)
	assert.Equal(t, created.SessionID, resp.SessionID)
	assert.Equal(t, []string{"4"}, resp.Result.ItemIDs())
}

func TestGetSession_NotFound(t *testing.T) {
	srv := newTestServer(t)

	rec, env := srv.do(t, http.MethodGet, "/api/v1/sessions/7d444840-9dc0-11d1-b245-5ffdce74fad2", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestGetSession_MalformedID(t *testing.T) {
	srv := newTestServer(t)

	rec, env := srv.do(t, http.MethodGet, "/api/v1/sessions/nope", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_PARAMETER", env.Error.Code)
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		wantQuery  string
		wantFrom   domain.Provenance
		wantItems  []string
		wantSort   domain.SortType
		wantURLHas string
	}{
		{
			name:      "change query",
			body:      map[string]any{"type": ActionChangeQuery, "query": "desk"},
			wantQuery: "desk", wantFrom: domain.FromSearch, wantItems: []string{"4"}, wantSort: domain.SortBestMatch,
			wantURLHas: "q=desk",
		},
		{
			name:      "change sort",
			body:      map[string]any{"type": ActionChangeSortBy, "sortType": "PRICE_DESC"},
			wantQuery: "sofa", wantFrom: domain.FromSearch, wantItems: []string{"2", "1", "3"}, wantSort: domain.SortPriceDesc,
			wantURLHas: "sort=PRICE_DESC",
		},
		{
			name:      "price filter",
			body:      map[string]any{"type": ActionSetPriceFilter, "minPrice": 40000, "maxPrice": 60000},
			wantQuery: "sofa", wantFrom: domain.FromFilter, wantItems: []string{"1"}, wantSort: domain.SortBestMatch,
			wantURLHas: "maxPrice=60000",
		},
		{
			name:      "platform filter",
			body:      map[string]any{"type": ActionSetPlatformFilter, "platforms": []string{"YAHOO_SHOPPING"}},
			wantQuery: "sofa", wantFrom: domain.FromFilter, wantItems: []string{"2"}, wantSort: domain.SortBestMatch,
			wantURLHas: "platforms=YAHOO_SHOPPING",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			created := srv.create(t, "q=sofa")

			rec, env := srv.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/actions", tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			resp := decodeSession(t, env)
			assert.Equal(t, tt.wantQuery, resp.State.SearchInput.Query)
			assert.Equal(t, tt.wantFrom, resp.State.SearchFrom)
			assert.Equal(t, tt.wantSort, resp.State.SearchInput.SortType)
			assert.ElementsMatch(t, tt.wantItems, resp.Result.ItemIDs())
			assert.Contains(t, resp.URL, tt.wantURLHas)
			assert.NotContains(t, resp.URL, "searchFrom")
		})
	}
}

func TestDispatch_ChangePageKeepsFilter(t *testing.T) {
	srv := newTestServer(t)
	created := srv.create(t, "q=sofa&platforms=RAKUTEN")

	rec, env := srv.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/actions",
		map[string]any{"type": ActionChangePage, "page": 2})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSession(t, env)
	assert.Equal(t, 2, resp.State.SearchInput.Page)
	assert.Equal(t, []domain.Platform{domain.PlatformRakuten}, resp.State.SearchInput.Filter.Platforms)
	assert.Contains(t, resp.URL, "page=2")
}

func TestDispatch_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		raw      string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "inverted price range",
			body:     map[string]any{"type": ActionSetPriceFilter, "minPrice": 9000, "maxPrice": 100},
			wantCode: "INVALID_PARAMETER",
			wantMsg:  "minPrice: must not exceed maxPrice",
		},
		{
			name:     "inverted price range in full filter",
			body:     map[string]any{"type": ActionSetFilter, "filter": map[string]any{"minPrice": 5, "maxPrice": 1}},
			wantCode: "INVALID_PARAMETER",
		},
		{
			name:     "unknown action",
			body:     map[string]any{"type": "RESET"},
			wantCode: "VALIDATION_ERROR",
		},
		{
			name:     "missing query",
			body:     map[string]any{"type": ActionChangeQuery},
			wantCode: "INVALID_PARAMETER",
			wantMsg:  "query: is required for CHANGE_QUERY",
		},
		{
			name:     "unknown platform",
			body:     map[string]any{"type": ActionSetPlatformFilter, "platforms": []string{"AMAZON"}},
			wantCode: "INVALID_PARAMETER",
		},
		{
			name:     "negative price",
			body:     map[string]any{"type": ActionSetPriceFilter, "minPrice": -1},
			wantCode: "VALIDATION_ERROR",
		},
		{
			name:     "unknown field",
			body:     map[string]any{"type": ActionChangePage, "page": 2, "extra": true},
			wantCode: "INVALID_INPUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			created := srv.create(t, "q=sofa")

			rec, env := srv.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/actions", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, env.Error.Message)
			}
		})
	}
}

func TestDispatch_RequiresJSON(t *testing.T) {
	srv := newTestServer(t)
	created := srv.create(t, "q=sofa")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/actions",
		strings.NewReader(`type=CHANGE_PAGE`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestClick(t *testing.T) {
	srv := newTestServer(t)
	created := srv.create(t, "q=sofa")

	rec, _ := srv.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/clicks",
		map[string]any{"searchId": created.Result.SearchID, "itemId": "1"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []analytics.Action{analytics.ActionDisplay, analytics.ActionClickItem}, srv.emitter.actions(analytics.EventSearch))

	rec, env := srv.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/clicks",
		map[string]any{"itemId": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "is required", env.Error.Fields["searchId"])
}

func TestSuggestions(t *testing.T) {
	srv := newTestServer(t)
	created := srv.create(t, "")

	rec, env := srv.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/suggestions?q=so", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.QuerySuggestions
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "so", got.Query)
	assert.NotEmpty(t, got.SuggestedQueries)
	assert.Contains(t, srv.emitter.actions(analytics.EventQuerySuggestions), analytics.ActionDisplay)

	rec, env = srv.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/suggestions?q=", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Empty(t, got.SuggestedQueries)
}

func TestSuggestions_RateLimited(t *testing.T) {
	srv := newLimitedTestServer(t, 0.001, 1)
	created := srv.create(t, "")

	rec, _ := srv.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/suggestions?q=so", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := srv.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/suggestions?q=sof", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
}

func TestSelectSuggestion(t *testing.T) {
	srv := newTestServer(t)
	created := srv.create(t, "q=so")

	rec, env := srv.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/suggestions/select",
		map[string]any{"query": "walnut desk"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSession(t, env)
	assert.Equal(t, "walnut desk", resp.State.SearchInput.Query)
	assert.Equal(t, domain.FromQuerySuggestion, resp.State.SearchFrom)
	assert.Equal(t, "/search?q=walnut+desk", resp.URL)
	assert.Equal(t, []string{"4"}, resp.Result.ItemIDs())
}

func TestCloseSession(t *testing.T) {
	srv := newTestServer(t)
	created := srv.create(t, "q=sofa")

	rec, _ := srv.do(t, http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = srv.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := srv.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = srv.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	srv.router.ServeHTTP(mrec, req)
	assert.Equal(t, http.StatusOK, mrec.Code)
	assert.Contains(t, mrec.Body.String(), "search_sessions_active")
}

func TestReindexRouteOnlyWithAdmin(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/reindex", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
