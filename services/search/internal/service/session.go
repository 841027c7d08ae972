package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
	"github.com/k-yomo/kagu-miru/pkg/logger"
	"github.com/k-yomo/kagu-miru/services/search/internal/analytics"
	"github.com/k-yomo/kagu-miru/services/search/internal/engine"
	"github.com/k-yomo/kagu-miru/services/search/internal/session"
	"github.com/k-yomo/kagu-miru/services/search/internal/store"
	"github.com/k-yomo/kagu-miru/services/search/internal/suggest"
	"github.com/k-yomo/kagu-miru/services/search/internal/urlcodec"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "search_sessions_active",
		Help: "Number of search sessions held in memory",
	})

	sessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_sessions_opened_total",
		Help: "Total number of search sessions opened, by origin",
	}, []string{"origin"})

	sessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_sessions_evicted_total",
		Help: "Total number of idle search sessions evicted from memory",
	})

	sessionPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_session_persist_failures_total",
		Help: "Total number of failed session snapshot writes",
	})
)

// ManagerConfig holds the settings of a SessionManager.
type ManagerConfig struct {
	Session        session.Config
	SuggestTimeout time.Duration
	// IdleTTL is how long an untouched session stays in memory. Its
	// snapshot outlives it in the store.
	IdleTTL        time.Duration
	SweepInterval  time.Duration
	PersistTimeout time.Duration
}

// DefaultManagerConfig returns the settings used when nothing is configured.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Session:        session.Config{SearchTimeout: 10 * time.Second},
		SuggestTimeout: 3 * time.Second,
		IdleTTL:        30 * time.Minute,
		SweepInterval:  time.Minute,
		PersistTimeout: 2 * time.Second,
	}
}

// Session is one search surface: a controller, its suggestion fetcher and
// the route it last navigated to.
type Session struct {
	id          string
	controller  *session.Controller
	suggestions *suggest.Fetcher
	route       *session.MemoryNavigator
	persister   *persister
	lastUsed    atomic.Int64
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Controller returns the search controller of the session.
func (s *Session) Controller() *session.Controller { return s.controller }

// Suggestions returns the suggestion fetcher of the session.
func (s *Session) Suggestions() *suggest.Fetcher { return s.suggestions }

// Route returns the route of the latest transition.
func (s *Session) Route() urlcodec.Route { return s.route.Route() }

func (s *Session) touch(now time.Time) { s.lastUsed.Store(now.UnixNano()) }

func (s *Session) close() {
	s.suggestions.Close()
	s.controller.Close()
	s.persister.Close()
}

// SessionManager owns the live search sessions of this process.
type SessionManager struct {
	backend engine.Backend
	emitter analytics.Emitter
	store   store.SessionStore
	cfg     ManagerConfig
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	sessions map[string]*Session
	// closed holds ids closed within closedRetention, so a restore that
	// read the snapshot before its deletion cannot resurrect the session.
	closed   map[string]time.Time
	restores singleflight.Group
}

const closedRetention = 10 * time.Minute

// NewSessionManager creates a manager. Sessions search through backend and
// emit analytics through emitter.
func NewSessionManager(
	backend engine.Backend,
	emitter analytics.Emitter,
	sessionStore store.SessionStore,
	cfg ManagerConfig,
	logger *slog.Logger,
) *SessionManager {
	def := DefaultManagerConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if sessionStore == nil {
		sessionStore = store.NewMemory(cfg.IdleTTL)
	}
	return &SessionManager{
		backend:  backend,
		emitter:  emitter,
		store:    sessionStore,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
		closed:   make(map[string]time.Time),
	}
}

// Create opens a session on the state decoded from query and mounts it.
func (m *SessionManager) Create(ctx context.Context, query url.Values) (*Session, error) {
	s := m.open(m.newID(), query)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	sessionsActive.Inc()
	sessionsOpened.WithLabelValues("url").Inc()

	if err := s.controller.Mount(); err != nil {
		return nil, fmt.Errorf("mount session: %w", err)
	}

	logger.WithContext(ctx, m.logger).Info("search session created", slog.String("session_id", s.id))
	return s, nil
}

// Get returns a live session, restoring it from the store when it is not
// in memory. Concurrent restores of one id share a single store read, which
// is not tied to the cancellation of whichever caller started it.
func (m *SessionManager) Get(ctx context.Context, id string) (*Session, error) {
	if s := m.lookup(id); s != nil {
		return s, nil
	}

	v, err, _ := m.restores.Do(id, func() (any, error) {
		if s := m.lookup(id); s != nil {
			return s, nil
		}
		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PersistTimeout)
		defer cancel()
		return m.restore(restoreCtx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *SessionManager) lookup(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.touch(m.now())
	}
	return s
}

func (m *SessionManager) restore(ctx context.Context, id string) (*Session, error) {
	snapshot, err := m.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("session", id)
		}
		return nil, apperrors.Wrap(err, "load session "+id)
	}

	m.mu.Lock()
	if _, closed := m.closed[id]; closed {
		m.mu.Unlock()
		return nil, apperrors.Gone("search session closed")
	}
	s := m.open(id, snapshot.Values())
	m.sessions[id] = s
	m.mu.Unlock()
	sessionsActive.Inc()
	sessionsOpened.WithLabelValues("restore").Inc()

	if err := s.controller.Mount(); err != nil {
		if errors.Is(err, session.ErrClosed) {
			return nil, apperrors.Gone("search session closed")
		}
		return nil, fmt.Errorf("mount restored session: %w", err)
	}

	logger.WithContext(ctx, m.logger).Info("search session restored",
		slog.String("session_id", id),
		slog.String("search_from", string(s.controller.State().SearchFrom)),
	)
	return s, nil
}

func (m *SessionManager) open(id string, query url.Values) *Session {
	state := urlcodec.Decode(query)
	log := m.logger.With(slog.String("session_id", id))

	s := &Session{
		id:        id,
		route:     session.NewMemoryNavigator(urlcodec.NewRoute(state)),
		persister: newPersister(id, m.store, m.cfg.PersistTimeout, log),
	}
	nav := session.NavigatorFunc(func(route urlcodec.Route) {
		s.route.Replace(route)
		s.persister.Replace(route)
	})
	s.controller = session.NewController(state, m.backend, m.emitter, nav, m.cfg.Session, log)
	s.suggestions = suggest.NewFetcher(m.backend, m.emitter, m.cfg.SuggestTimeout, log)
	s.touch(m.now())
	return s
}

// Close shuts a session down and forgets its snapshot.
func (m *SessionManager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.closed[id] = m.now()
	m.mu.Unlock()

	if ok {
		s.close()
		sessionsActive.Dec()
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return apperrors.Wrap(err, "delete session "+id)
	}
	if !ok {
		return nil
	}

	logger.WithContext(ctx, m.logger).Info("search session closed", slog.String("session_id", id))
	return nil
}

// Sweep evicts sessions idle for longer than IdleTTL and returns how many
// were evicted. Evicted sessions can still be restored from the store.
func (m *SessionManager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	for id, at := range m.closed {
		if now.Sub(at) >= closedRetention {
			delete(m.closed, id)
		}
	}
	var idle []*Session
	if m.cfg.IdleTTL > 0 {
		cutoff := now.Add(-m.cfg.IdleTTL).UnixNano()
		for id, s := range m.sessions {
			if s.lastUsed.Load() <= cutoff {
				idle = append(idle, s)
				delete(m.sessions, id)
			}
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.close()
		sessionsActive.Dec()
		sessionsEvicted.Inc()
	}
	if len(idle) > 0 {
		m.logger.Debug("evicted idle search sessions", slog.Int("count", len(idle)))
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is canceled.
func (m *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of sessions in memory.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every live session. Snapshots stay in the store.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
		sessionsActive.Dec()
	}
}
