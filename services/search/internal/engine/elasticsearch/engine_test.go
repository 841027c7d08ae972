package elasticsearch

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCluster answers the few endpoints the engine talks to.
type fakeCluster struct {
	mu          sync.Mutex
	indexExists bool
	created     bool
	lastBody    map[string]any
	lastBulk    string
	searchReply string
	bulkReply   string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodHead:
		if f.indexExists {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut && !strings.Contains(r.URL.Path, "_doc"):
		f.created = true
		f.indexExists = true
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		f.lastBody = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		_, _ = io.WriteString(w, f.searchReply)
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		b, _ := io.ReadAll(r.Body)
		f.lastBulk = string(b)
		_, _ = io.WriteString(w, f.bulkReply)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"result":"not_found"}`)
	default:
		_, _ = io.WriteString(w, `{"result":"created"}`)
	}
}

func newFakeEngine(t *testing.T, cluster *fakeCluster) *Engine {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	eng, err := New(srv.URL, "", discardLogger())
	require.NoError(t, err)
	return eng
}

func TestNew_CreatesMissingIndex(t *testing.T) {
	cluster := &fakeCluster{}
	eng := newFakeEngine(t, cluster)

	assert.True(t, cluster.created)
	assert.Equal(t, DefaultIndexName, eng.indexName)
}

func TestNew_KeepsExistingIndex(t *testing.T) {
	cluster := &fakeCluster{indexExists: true}
	newFakeEngine(t, cluster)

	assert.False(t, cluster.created)
}

func TestEngine_Search(t *testing.T) {
	cluster := &fakeCluster{
		indexExists: true,
		searchReply: `{"hits":{"total":{"value":45},"hits":[
			{"_source":{"id":"a","name":"Oak Sofa","status":"ACTIVE","price":50000}},
			{"_source":{"id":"b","name":"Teak Sofa","status":"ACTIVE","price":70000}}
		]}}`,
	}
	eng := newFakeEngine(t, cluster)

	input := domain.NewSearchState().SearchInput
	input.Query = "sofa"
	input.Page = 2

	result, err := eng.Search(t.Context(), input)
	require.NoError(t, err)

	assert.NotEmpty(t, result.SearchID)
	assert.Equal(t, []string{"a", "b"}, result.ItemIDs())
	assert.Equal(t, domain.PageInfo{Page: 2, TotalPage: 3, TotalCount: 45}, result.PageInfo)
	assert.EqualValues(t, 20, cluster.lastBody["from"])
}

func TestEngine_SearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodHead {
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"parsing_exception","reason":"bad query"},"status":400}`)
	}))
	defer srv.Close()

	eng, err := New(srv.URL, "items", discardLogger())
	require.NoError(t, err)

	_, err = eng.Search(t.Context(), domain.NewSearchState().SearchInput)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing_exception")
}

func TestEngine_SuggestQueriesDedupes(t *testing.T) {
	cluster := &fakeCluster{
		indexExists: true,
		searchReply: `{"hits":{"total":{"value":3},"hits":[
			{"_source":{"name":"oak sofa"}},
			{"_source":{"name":"oak sofa"}},
			{"_source":{"name":"oak shelf"}}
		]}}`,
	}
	eng := newFakeEngine(t, cluster)

	got, err := eng.SuggestQueries(t.Context(), "oak")
	require.NoError(t, err)
	assert.Equal(t, "oak", got.Query)
	assert.Equal(t, []string{"oak sofa", "oak shelf"}, got.SuggestedQueries)
}

func TestEngine_SuggestQueriesBlank(t *testing.T) {
	cluster := &fakeCluster{indexExists: true}
	eng := newFakeEngine(t, cluster)

	got, err := eng.SuggestQueries(t.Context(), "  ")
	require.NoError(t, err)
	assert.Empty(t, got.SuggestedQueries)
	assert.Nil(t, cluster.lastBody)
}

func TestEngine_BulkIndex(t *testing.T) {
	cluster := &fakeCluster{indexExists: true, bulkReply: `{"errors":false,"items":[]}`}
	eng := newFakeEngine(t, cluster)

	err := eng.BulkIndex(t.Context(), []domain.Item{{ID: "a", Name: "Chair"}, {ID: "b", Name: "Desk"}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(cluster.lastBulk), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"_id":"a"`)
	assert.Contains(t, lines[3], `"name":"Desk"`)
}

func TestEngine_BulkIndexPartialFailure(t *testing.T) {
	cluster := &fakeCluster{
		indexExists: true,
		bulkReply: `{"errors":true,"items":[
			{"index":{"_id":"a","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad price"}}}
		]}`,
	}
	eng := newFakeEngine(t, cluster)

	err := eng.BulkIndex(t.Context(), []domain.Item{{ID: "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id=a: mapper_parsing_exception")
}

func TestEngine_DeleteMissingIsNotAnError(t *testing.T) {
	eng := newFakeEngine(t, &fakeCluster{indexExists: true})

	assert.NoError(t, eng.Delete(t.Context(), "gone"))
}

func TestBuildSearchQuery_MatchAllWithoutQuery(t *testing.T) {
	q := buildSearchQuery(domain.NewSearchState().SearchInput)

	must := q["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	assert.Contains(t, must[0], "match_all")
	assert.Equal(t, 0, q["from"])
	assert.Equal(t, defaultPageSize, q["size"])
}

func TestBuildSearchQuery_PageSizeCapped(t *testing.T) {
	input := domain.NewSearchState().SearchInput
	input.PageSize = domain.Int(500)
	input.Page = 3

	q := buildSearchQuery(input)
	assert.Equal(t, maxPageSize, q["size"])
	assert.Equal(t, 2*maxPageSize, q["from"])
}

func TestBuildFilters(t *testing.T) {
	f := domain.NewSearchFilter().Patch(domain.FilterPatch{
		CategoryIDs: []string{"c1"},
		Platforms:   []domain.Platform{domain.PlatformRakuten},
		MinPrice:    domain.Set(domain.Int(1000)),
		MinRating:   domain.Set(domain.Int(4)),
	}).WithMetadata("material", []string{"oak"})

	filters := buildFilters(f)

	assert.Equal(t, []any{
		term("status", "ACTIVE"),
		map[string]any{"terms": map[string]any{"categoryIds": []string{"c1"}}},
		map[string]any{"terms": map[string]any{"platform": []string{"RAKUTEN"}}},
		map[string]any{"range": map[string]any{"price": map[string]any{"gte": 1000}}},
		map[string]any{"range": map[string]any{"averageRating": map[string]any{"gte": 4}}},
		map[string]any{"terms": map[string]any{"metadata.material": []string{"oak"}}},
	}, filters)
}

func TestBuildSort(t *testing.T) {
	tests := []struct {
		sort domain.SortType
		want map[string]any
	}{
		{domain.SortBestMatch, map[string]any{"_score": "desc"}},
		{domain.SortPriceAsc, map[string]any{"price": "asc"}},
		{domain.SortPriceDesc, map[string]any{"price": "desc"}},
		{domain.SortReviewCount, map[string]any{"reviewCount": "desc"}},
		{domain.SortRating, map[string]any{"averageRating": "desc"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sort), func(t *testing.T) {
			got := buildSort(tt.sort)
			require.Len(t, got, 2)
			assert.Equal(t, tt.want, got[0])
			assert.Equal(t, map[string]any{"id": "asc"}, got[1])
		})
	}
}
