package graphql

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

	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
	"github.com/k-yomo/kagu-miru/pkg/httpclient"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	hc := httpclient.New(httpclient.Config{
		Timeout:    time.Second,
		MaxRetries: 0,
	})
	cb := httpclient.NewCircuitBreakerClient(hc, httpclient.DefaultCircuitBreakerConfig(t.Name()),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return New(cb, srv.URL)
}

func TestClient_Search(t *testing.T) {
	var got request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"data":{"search":{
			"searchId":"s-1",
			"itemConnection":{
				"pageInfo":{"page":2,"totalPage":5,"totalCount":95},
				"nodes":[{"id":"i-1","name":"Oak Sofa","platform":"RAKUTEN","price":50000}]
			}
		}}}`)
	})

	input := domain.NewSearchState().SearchInput.Normalized()
	input.Query = "sofa"

	result, err := c.Search(t.Context(), input)
	require.NoError(t, err)

	assert.Equal(t, "s-1", result.SearchID)
	assert.Equal(t, []string{"i-1"}, result.ItemIDs())
	assert.Equal(t, domain.PlatformRakuten, result.Items[0].Platform)
	assert.Equal(t, domain.PageInfo{Page: 2, TotalPage: 5, TotalCount: 95}, result.PageInfo)

	assert.Equal(t, searchQuery, got.Query)
	sent := got.Variables["input"].(map[string]any)
	assert.Equal(t, "sofa", sent["query"])
	assert.Equal(t, "BEST_MATCH", sent["sortType"])
	assert.EqualValues(t, 1, sent["page"])
}

func TestClient_SearchGraphQLError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":null,"errors":[{"message":"index unavailable"}]}`)
	})

	_, err := c.Search(t.Context(), domain.NewSearchState().SearchInput)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index unavailable")
}

func TestClient_SearchEmptyConnection(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"search":{"searchId":"s-2","itemConnection":{"pageInfo":{"page":1}}}}}`)
	})

	result, err := c.Search(t.Context(), domain.NewSearchState().SearchInput)
	require.NoError(t, err)
	assert.NotNil(t, result.Items)
	assert.Empty(t, result.Items)
}

func TestClient_SearchHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":"RATE_LIMITED","message":"slow down"}}`)
	})

	_, err := c.Search(t.Context(), domain.NewSearchState().SearchInput)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestClient_SuggestQueries(t *testing.T) {
	var got request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"data":{"getQuerySuggestions":{"query":"so","suggestedQueries":["sofa","sofa bed"]}}}`)
	})

	s, err := c.SuggestQueries(t.Context(), "so")
	require.NoError(t, err)
	assert.Equal(t, &domain.QuerySuggestions{Query: "so", SuggestedQueries: []string{"sofa", "sofa bed"}}, s)
	assert.Equal(t, "so", got.Variables["query"])
}

func TestClient_SuggestQueriesNullList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"getQuerySuggestions":{"query":"zz","suggestedQueries":null}}}`)
	})

	s, err := c.SuggestQueries(t.Context(), "zz")
	require.NoError(t, err)
	assert.Equal(t, []string{}, s.SuggestedQueries)
}
