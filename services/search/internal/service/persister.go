package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/k-yomo/kagu-miru/services/search/internal/store"
	"github.com/k-yomo/kagu-miru/services/search/internal/urlcodec"
)

// persister is a session.Navigator that writes the latest route of one
// session to the store. Replace only records the route and wakes the
// writer goroutine, so it never blocks the controller; intermediate routes
// may be coalesced.
type persister struct {
	sessionID string
	store     store.SessionStore
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	latest *urlcodec.Route

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newPersister(sessionID string, s store.SessionStore, timeout time.Duration, logger *slog.Logger) *persister {
	p := &persister{
		sessionID: sessionID,
		store:     s,
		timeout:   timeout,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Replace implements session.Navigator.
func (p *persister) Replace(route urlcodec.Route) {
	p.mu.Lock()
	p.latest = &route
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.done:
			p.flush()
			return
		}
	}
}

func (p *persister) flush() {
	p.mu.Lock()
	route := p.latest
	p.latest = nil
	p.mu.Unlock()
	if route == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.store.Save(ctx, &store.Snapshot{
		SessionID: p.sessionID,
		Query:     route.State.Encode(),
		UpdatedAt: p.now(),
	})
	if err != nil {
		sessionPersistFailures.Inc()
		p.logger.Warn("failed to persist search session",
			slog.String("session_id", p.sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// Close writes any pending route and stops the writer.
func (p *persister) Close() {
	p.once.Do(func() { close(p.done) })
	<-p.stopped
}
