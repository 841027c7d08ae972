// Package suggest fetches query completions for a search box as a side query
// that never touches the search session state.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/k-yomo/kagu-miru/services/search/internal/analytics"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
	"github.com/k-yomo/kagu-miru/services/search/internal/session"
)

// Suggester is the backend that produces completions.
type Suggester interface {
	SuggestQueries(ctx context.Context, query string) (*domain.QuerySuggestions, error)
}

// Dispatcher receives the action produced by selecting a suggestion.
type Dispatcher interface {
	Dispatch(action session.Action) error
}

// Fetcher issues one suggestion request per Fetch call. Only the most
// recently issued request may update the visible list; nothing is cached
// across fragments.
type Fetcher struct {
	backend Suggester
	emitter analytics.Emitter
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	seq     uint64
	current *domain.QuerySuggestions
	cancel  context.CancelFunc
	settled chan struct{}
	closed  bool
	runs    sync.WaitGroup
}

// NewFetcher creates a Fetcher. A zero timeout disables the per-request
// deadline.
func NewFetcher(backend Suggester, emitter analytics.Emitter, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if emitter == nil {
		emitter = analytics.Nop{}
	}
	return &Fetcher{
		backend: backend,
		emitter: emitter,
		logger:  logger,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Fetch requests suggestions for fragment and returns immediately. The
// visible list is cleared until the response arrives. A blank fragment
// clears the list without a request.
func (f *Fetcher) Fetch(fragment string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	f.seq++
	f.current = nil
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}

	settled := make(chan struct{})
	f.settled = settled
	if strings.TrimSpace(fragment) == "" {
		close(settled)
		return
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	f.cancel = cancel

	f.runs.Add(1)
	go f.fetch(ctx, cancel, f.seq, fragment, settled)
}

func (f *Fetcher) fetch(ctx context.Context, cancel context.CancelFunc, seq uint64, fragment string, settled chan struct{}) {
	defer f.runs.Done()
	defer cancel()

	suggestions, err := f.call(ctx, fragment)

	f.mu.Lock()
	defer f.mu.Unlock()
	defer close(settled)

	if seq != f.seq {
		return
	}
	if err != nil {
		f.logger.Debug("query suggestion failed",
			slog.String("query", fragment),
			slog.String("error", err.Error()),
		)
		return
	}

	f.current = suggestions
	f.emit(analytics.NewQuerySuggestionsDisplayEvent(f.now(), suggestions))
}

func (f *Fetcher) call(ctx context.Context, fragment string) (s *domain.QuerySuggestions, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s, err = nil, fmt.Errorf("suggestion backend panic: %v", rec)
		}
	}()
	s, err = f.backend.SuggestQueries(ctx, fragment)
	if err == nil && s == nil {
		err = errors.New("suggestion backend returned no result")
	}
	return s, err
}

func (f *Fetcher) emit(event analytics.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			f.logger.Debug("analytics emit panicked", slog.Any("panic", rec))
		}
	}()
	f.emitter.Emit(event)
}

// Suggestions returns the visible list, or nil when there is none.
func (f *Fetcher) Suggestions() *domain.QuerySuggestions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Await blocks until the most recent Fetch settles and returns its list.
func (f *Fetcher) Await(ctx context.Context) (*domain.QuerySuggestions, error) {
	for {
		f.mu.Lock()
		settled, seq := f.settled, f.seq
		f.mu.Unlock()
		if settled == nil {
			return nil, nil
		}

		select {
		case <-settled:
		case <-ctx.Done():
			return f.Suggestions(), ctx.Err()
		}

		f.mu.Lock()
		if f.seq == seq {
			current := f.current
			f.mu.Unlock()
			return current, nil
		}
		f.mu.Unlock()
	}
}

// Select applies a chosen suggestion to a search session.
func (f *Fetcher) Select(d Dispatcher, suggestion string) error {
	return d.Dispatch(session.ChangeQuery{Query: suggestion, SearchFrom: domain.FromQuerySuggestion})
}

// Close cancels the in-flight request and waits for it.
func (f *Fetcher) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	if f.cancel != nil {
		f.cancel()
	}
	f.mu.Unlock()

	f.runs.Wait()
}
