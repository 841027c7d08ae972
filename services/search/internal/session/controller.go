package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/k-yomo/kagu-miru/pkg/tracing"
	"github.com/k-yomo/kagu-miru/services/search/internal/analytics"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
	"github.com/k-yomo/kagu-miru/services/search/internal/urlcodec"
)

// ErrClosed is returned when an action is dispatched to a closed controller.
var ErrClosed = errors.New("search session closed")

// Searcher is the remote search backend used by a Controller.
type Searcher interface {
	Search(ctx context.Context, input domain.SearchInput) (*domain.SearchResult, error)
}

// Config holds per-controller settings.
type Config struct {
	// SearchTimeout bounds a single backend search. Zero means no timeout.
	SearchTimeout time.Duration
	// DefaultPageSize is sent when the input has no page size. Zero lets
	// the backend decide.
	DefaultPageSize int
}

// Snapshot is a consistent view of a controller.
type Snapshot struct {
	State domain.SearchState
	// Result is nil while a search is in flight and after a failed search.
	Result *domain.SearchResult
	// Seq identifies the transition that produced State.
	Seq uint64
	// Loading reports whether the search for Seq is still in flight.
	Loading bool
	// Err is the failure of the search for Seq, if any. It is informational.
	Err error
}

// Controller owns one search state. Each transition clears the published
// result, replaces the route and starts exactly one backend search; only the
// search of the latest transition may publish.
type Controller struct {
	searcher  Searcher
	emitter   analytics.Emitter
	navigator Navigator
	logger    *slog.Logger
	tracer    trace.Tracer
	cfg       Config
	now       func() time.Time

	mu      sync.Mutex
	state   domain.SearchState
	result  *domain.SearchResult
	seq     uint64
	loading bool
	lastErr error
	cancel  context.CancelFunc
	settled chan struct{}
	closed  bool
	runs    sync.WaitGroup
}

// NewController creates a controller holding initial. Nothing is searched
// until Mount is called.
func NewController(
	initial domain.SearchState,
	searcher Searcher,
	emitter analytics.Emitter,
	navigator Navigator,
	cfg Config,
	logger *slog.Logger,
) *Controller {
	if emitter == nil {
		emitter = analytics.Nop{}
	}
	if navigator == nil {
		navigator = NewMemoryNavigator(urlcodec.Route{})
	}
	return &Controller{
		searcher:  searcher,
		emitter:   emitter,
		navigator: navigator,
		logger:    logger,
		tracer:    tracing.Tracer("search-session"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		state:     initial,
	}
}

// Mount runs the pipeline for the current state. It is called once when the
// search surface opens.
func (c *Controller) Mount() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.transitionLocked(c.state)
	return nil
}

// Dispatch applies action and runs the pipeline for the resulting state.
// It returns without waiting for the search.
func (c *Controller) Dispatch(action Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.transitionLocked(Reduce(c.state, action))
	return nil
}

// transitionLocked must be called with c.mu held.
func (c *Controller) transitionLocked(next domain.SearchState) {
	c.state = next
	c.seq++
	c.result = nil
	c.lastErr = nil
	c.loading = true

	if c.cancel != nil {
		c.cancel()
	}
	ctx := context.Background()
	var cancel context.CancelFunc
	if c.cfg.SearchTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SearchTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	c.cancel = cancel

	settled := make(chan struct{})
	c.settled = settled

	c.navigator.Replace(urlcodec.NewRoute(next))

	c.runs.Add(1)
	go c.search(ctx, cancel, c.seq, next, settled)
}

func (c *Controller) search(ctx context.Context, cancel context.CancelFunc, seq uint64, state domain.SearchState, settled chan struct{}) {
	defer c.runs.Done()
	defer cancel()

	input := state.SearchInput.Normalized()
	if input.PageSize == nil && c.cfg.DefaultPageSize > 0 {
		input.PageSize = domain.Int(c.cfg.DefaultPageSize)
	}

	ctx, span := c.tracer.Start(ctx, "session.search",
		trace.WithAttributes(
			attribute.Int64("search.seq", int64(seq)),
			attribute.String("search.query", input.Query),
			attribute.String("search.sort", string(input.SortType)),
			attribute.Int("search.page", input.Page),
			attribute.String("search.from", string(state.SearchFrom)),
		),
	)
	result, err := c.callSearch(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(settled)

	if seq != c.seq {
		c.logger.Debug("discarding stale search response",
			slog.Uint64("seq", seq),
			slog.Uint64("current_seq", c.seq),
		)
		return
	}

	c.loading = false
	if err != nil {
		c.lastErr = err
		c.logger.Warn("search failed",
			slog.Uint64("seq", seq),
			slog.String("query", input.Query),
			slog.String("error", err.Error()),
		)
		return
	}

	c.result = result
	c.emit(analytics.NewSearchDisplayEvent(c.now(), result, input, state.SearchFrom))
}

// callSearch turns a nil result or a panicking backend into an error.
func (c *Controller) callSearch(ctx context.Context, input domain.SearchInput) (result *domain.SearchResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("search backend panic: %v", rec)
		}
	}()
	result, err = c.searcher.Search(ctx, input)
	if err == nil && result == nil {
		err = errors.New("search backend returned no result")
	}
	return result, err
}

// ReportItemClick records a click on itemID from the search identified by
// searchID. The state is not changed.
func (c *Controller) ReportItemClick(searchID, itemID string) {
	c.emit(analytics.NewSearchClickEvent(c.now(), searchID, itemID))
}

func (c *Controller) emit(event analytics.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Debug("analytics emit panicked", slog.Any("panic", rec))
		}
	}()
	c.emitter.Emit(event)
}

// State returns the current search state.
func (c *Controller) State() domain.SearchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current state and published result.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:   c.state,
		Result:  c.result,
		Seq:     c.seq,
		Loading: c.loading,
		Err:     c.lastErr,
	}
}

// Await blocks until the search of the latest transition settles and returns
// the snapshot. If a newer transition happens meanwhile, Await follows it.
func (c *Controller) Await(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		settled, seq := c.settled, c.seq
		if settled == nil {
			snap := c.snapshotLocked()
			c.mu.Unlock()
			return snap, nil
		}
		c.mu.Unlock()

		select {
		case <-settled:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}

		c.mu.Lock()
		if c.seq == seq {
			snap := c.snapshotLocked()
			c.mu.Unlock()
			return snap, nil
		}
		c.mu.Unlock()
	}
}

// Close cancels the in-flight search and waits for its goroutine. Further
// dispatches fail with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.runs.Wait()
}
