package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-yomo/kagu-miru/services/search/internal/analytics"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
	"github.com/k-yomo/kagu-miru/services/search/internal/urlcodec"
)

// --- fakes ---

type searchReply struct {
	result *domain.SearchResult
	err    error
}

type searchCall struct {
	input domain.SearchInput
	reply chan searchReply
}

// fakeSearcher hands every request to the test and blocks until the test
// replies. It ignores cancellation so late responses can be simulated.
type fakeSearcher struct {
	calls chan *searchCall
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{calls: make(chan *searchCall, 16)}
}

func (f *fakeSearcher) Search(_ context.Context, input domain.SearchInput) (*domain.SearchResult, error) {
	call := &searchCall{input: input, reply: make(chan searchReply, 1)}
	f.calls <- call
	r := <-call.reply
	return r.result, r.err
}

func (f *fakeSearcher) next(t *testing.T) *searchCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("no search request issued")
		return nil
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (e *recordingEmitter) Emit(event analytics.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) Events() []analytics.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]analytics.Event(nil), e.events...)
}

type panickingEmitter struct{}

func (panickingEmitter) Emit(analytics.Event) { panic("sink exploded") }

type panickingSearcher struct{}

func (panickingSearcher) Search(context.Context, domain.SearchInput) (*domain.SearchResult, error) {
	panic("backend exploded")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(initial domain.SearchState, searcher Searcher, emitter analytics.Emitter, nav Navigator) *Controller {
	return NewController(initial, searcher, emitter, nav, Config{SearchTimeout: 5 * time.Second}, testLogger())
}

func await(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := c.Await(ctx)
	require.NoError(t, err)
	return snap
}

func resultWith(searchID string, ids ...string) *domain.SearchResult {
	items := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, domain.Item{ID: id})
	}
	return &domain.SearchResult{
		SearchID: searchID,
		Items:    items,
		PageInfo: domain.PageInfo{Page: 1, TotalPage: 1, TotalCount: len(ids)},
	}
}

// --- tests ---

func TestController_MountSearchesInitialState(t *testing.T) {
	searcher := newFakeSearcher()
	nav := NewMemoryNavigator(urlcodec.Route{})
	initial := urlcodec.Decode(map[string][]string{"q": {"sofa"}, "sort": {"PRICE_ASC"}})
	c := newTestController(initial, searcher, &recordingEmitter{}, nav)
	defer c.Close()

	require.NoError(t, c.Mount())

	call := searcher.next(t)
	assert.Equal(t, "sofa", call.input.Query)
	assert.Equal(t, domain.SortPriceAsc, call.input.SortType)
	assert.Equal(t, 1, call.input.Page)
	assert.Equal(t, 1, nav.Replaced())
	assert.Equal(t, "q=sofa&sort=PRICE_ASC", nav.Route().Shareable)

	call.reply <- searchReply{result: resultWith("s1", "i1")}
	snap := await(t, c)
	assert.Equal(t, "s1", snap.Result.SearchID)
}

func TestController_ChangeQueryIssuesOneTrimmedRequest(t *testing.T) {
	searcher := newFakeSearcher()
	nav := NewMemoryNavigator(urlcodec.Route{})
	initial := domain.NewSearchState()
	initial.SearchInput.Page = 5
	c := newTestController(initial, searcher, &recordingEmitter{}, nav)
	defer c.Close()

	require.NoError(t, c.Dispatch(ChangeQuery{Query: "  lamp ", SearchFrom: domain.FromSearch}))

	state := c.State()
	assert.Equal(t, 1, state.SearchInput.DisplayPage())
	assert.Equal(t, "  lamp ", state.SearchInput.Query)
	assert.Equal(t, domain.FromSearch, state.SearchFrom)

	call := searcher.next(t)
	assert.Equal(t, "lamp", call.input.Query)
	assert.Equal(t, 1, call.input.Page)

	call.reply <- searchReply{result: resultWith("s1")}
	await(t, c)
	assert.Empty(t, searcher.calls, "exactly one request per transition")

	route := nav.Route()
	assert.Equal(t, "SEARCH", route.State.Get(urlcodec.KeySearchFrom))
	assert.NotContains(t, route.Shareable, urlcodec.KeySearchFrom)
	assert.Equal(t, "  lamp ", route.State.Get(urlcodec.KeyQuery))
}

func TestController_PublishesResultAndDisplayEvent(t *testing.T) {
	searcher := newFakeSearcher()
	emitter := &recordingEmitter{}
	c := newTestController(domain.NewSearchState(), searcher, emitter, nil)
	defer c.Close()

	require.NoError(t, c.Dispatch(ChangeQuery{Query: "chair", SearchFrom: domain.FromQuerySuggestion}))

	want := &domain.SearchResult{
		SearchID: "abc",
		Items:    []domain.Item{{ID: "i1"}},
		PageInfo: domain.PageInfo{Page: 1, TotalPage: 3, TotalCount: 30},
	}
	searcher.next(t).reply <- searchReply{result: want}

	snap := await(t, c)
	assert.Equal(t, want, snap.Result)
	assert.False(t, snap.Loading)
	assert.NoError(t, snap.Err)

	events := emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.EventSearch, events[0].ID)
	assert.Equal(t, analytics.ActionDisplay, events[0].Action)
	params, ok := events[0].Params.(analytics.SearchDisplayParams)
	require.True(t, ok)
	assert.Equal(t, "abc", params.SearchID)
	assert.Equal(t, []string{"i1"}, params.ItemIDs)
	assert.Equal(t, domain.FromQuerySuggestion, params.SearchFrom)
	assert.Equal(t, "chair", params.SearchInput.Query)
}

func TestController_ClearsResultOnTransition(t *testing.T) {
	searcher := newFakeSearcher()
	c := newTestController(domain.NewSearchState(), searcher, &recordingEmitter{}, nil)
	defer c.Close()

	require.NoError(t, c.Mount())
	searcher.next(t).reply <- searchReply{result: resultWith("s1", "i1")}
	require.NotNil(t, await(t, c).Result)

	require.NoError(t, c.Dispatch(ChangeSortBy{SortType: domain.SortRating}))

	snap := c.Snapshot()
	assert.Nil(t, snap.Result)
	assert.True(t, snap.Loading)

	searcher.next(t).reply <- searchReply{result: resultWith("s2")}
	await(t, c)
}

func TestController_SuppressesStaleResponse(t *testing.T) {
	searcher := newFakeSearcher()
	emitter := &recordingEmitter{}
	c := newTestController(domain.NewSearchState(), searcher, emitter, nil)

	require.NoError(t, c.Dispatch(ChangeQuery{Query: "s1", SearchFrom: domain.FromSearch}))
	first := searcher.next(t)
	require.NoError(t, c.Dispatch(ChangeQuery{Query: "s2", SearchFrom: domain.FromSearch}))
	second := searcher.next(t)

	second.reply <- searchReply{result: resultWith("second", "b")}
	snap := await(t, c)
	assert.Equal(t, "second", snap.Result.SearchID)

	first.reply <- searchReply{result: resultWith("first", "a")}
	c.Close()

	snap = c.Snapshot()
	assert.Equal(t, "second", snap.Result.SearchID)
	assert.Equal(t, "s2", snap.State.SearchInput.Query)

	events := emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "second", events[0].Params.(analytics.SearchDisplayParams).SearchID)
}

func TestController_AwaitFollowsNewerTransition(t *testing.T) {
	searcher := newFakeSearcher()
	c := newTestController(domain.NewSearchState(), searcher, &recordingEmitter{}, nil)
	defer c.Close()

	require.NoError(t, c.Dispatch(ChangePage{Page: 2}))
	first := searcher.next(t)

	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := c.Await(context.Background())
		done <- snap
	}()

	require.NoError(t, c.Dispatch(ChangePage{Page: 3}))
	second := searcher.next(t)
	first.reply <- searchReply{result: resultWith("first")}

	select {
	case <-done:
		t.Fatal("await returned for a superseded transition")
	case <-time.After(50 * time.Millisecond):
	}

	second.reply <- searchReply{result: resultWith("second")}
	select {
	case snap := <-done:
		assert.Equal(t, "second", snap.Result.SearchID)
		assert.Equal(t, 3, snap.State.SearchInput.Page)
	case <-time.After(2 * time.Second):
		t.Fatal("await did not return")
	}
}

func TestController_FailedSearchLeavesResultEmpty(t *testing.T) {
	searcher := newFakeSearcher()
	emitter := &recordingEmitter{}
	c := newTestController(domain.NewSearchState(), searcher, emitter, nil)
	defer c.Close()

	require.NoError(t, c.Mount())
	searcher.next(t).reply <- searchReply{err: errors.New("backend unavailable")}

	snap := await(t, c)
	assert.Nil(t, snap.Result)
	assert.False(t, snap.Loading)
	assert.EqualError(t, snap.Err, "backend unavailable")
	assert.Empty(t, emitter.Events())

	// The controller keeps working after a failure.
	require.NoError(t, c.Dispatch(ChangeQuery{Query: "desk"}))
	searcher.next(t).reply <- searchReply{result: resultWith("ok", "d1")}
	assert.Equal(t, "ok", await(t, c).Result.SearchID)
}

func TestController_RecoversFromPanickingCollaborators(t *testing.T) {
	c := newTestController(domain.NewSearchState(), panickingSearcher{}, panickingEmitter{}, nil)
	defer c.Close()

	require.NoError(t, c.Mount())
	snap := await(t, c)
	assert.Nil(t, snap.Result)
	assert.Error(t, snap.Err)

	assert.NotPanics(t, func() { c.ReportItemClick("s", "i") })
}

func TestController_DefaultPageSize(t *testing.T) {
	searcher := newFakeSearcher()
	c := NewController(domain.NewSearchState(), searcher, nil, nil, Config{DefaultPageSize: 24}, testLogger())
	defer c.Close()

	require.NoError(t, c.Mount())
	call := searcher.next(t)
	require.NotNil(t, call.input.PageSize)
	assert.Equal(t, 24, *call.input.PageSize)
	assert.Nil(t, c.State().SearchInput.PageSize)
	call.reply <- searchReply{result: resultWith("s")}
	await(t, c)
}

func TestController_ReportItemClick(t *testing.T) {
	searcher := newFakeSearcher()
	emitter := &recordingEmitter{}
	nav := NewMemoryNavigator(urlcodec.Route{})
	c := newTestController(domain.NewSearchState(), searcher, emitter, nav)
	defer c.Close()

	require.NoError(t, c.Mount())
	searcher.next(t).reply <- searchReply{result: resultWith("abc", "i1", "i2")}
	before := await(t, c)

	c.ReportItemClick("abc", "i2")
	c.ReportItemClick("abc", "i2")

	after := c.Snapshot()
	assert.Equal(t, before.Seq, after.Seq)
	assert.True(t, before.State.Equal(after.State))
	assert.Equal(t, 1, nav.Replaced())
	assert.Empty(t, searcher.calls)

	events := emitter.Events()
	require.Len(t, events, 3)
	for _, ev := range events[1:] {
		assert.Equal(t, analytics.ActionClickItem, ev.Action)
		assert.Equal(t, analytics.SearchClickParams{SearchID: "abc", ItemID: "i2"}, ev.Params)
	}
}

func TestController_DispatchAfterClose(t *testing.T) {
	c := newTestController(domain.NewSearchState(), newFakeSearcher(), nil, nil)
	c.Close()
	c.Close()

	assert.ErrorIs(t, c.Dispatch(ChangePage{Page: 2}), ErrClosed)
	assert.ErrorIs(t, c.Mount(), ErrClosed)
}

func TestController_AwaitBeforeMount(t *testing.T) {
	c := newTestController(domain.NewSearchState(), newFakeSearcher(), nil, nil)
	defer c.Close()

	snap := await(t, c)
	assert.Zero(t, snap.Seq)
	assert.Nil(t, snap.Result)
}
