// Package analytics publishes user-interaction events on a best-effort basis.
//
// Emit never blocks and never fails from the caller's point of view. Events
// are delivered at most once: a full buffer or a failing sink drops them.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_events_submitted_total",
			Help: "Total number of analytics events accepted by the sink",
		},
		[]string{"event", "action"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_events_dropped_total",
			Help: "Total number of analytics events dropped before or during submission",
		},
		[]string{"event", "action", "reason"},
	)
)

// Sink delivers a single event to the analytics backend.
type Sink interface {
	Submit(ctx context.Context, event Event) error
}

// Emitter is the fire-and-forget publisher used by search sessions.
type Emitter interface {
	Emit(event Event)
}

// Config holds the queueing parameters of an AsyncEmitter.
type Config struct {
	BufferSize    int
	Workers       int
	SubmitTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the emitter.
func DefaultConfig() Config {
	return Config{
		BufferSize:    1024,
		Workers:       2,
		SubmitTimeout: 5 * time.Second,
	}
}

// AsyncEmitter queues events in a bounded buffer drained by worker goroutines.
type AsyncEmitter struct {
	sink    Sink
	cfg     Config
	logger  *slog.Logger
	queue   chan Event
	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
}

// NewAsyncEmitter creates an emitter and starts its workers.
func NewAsyncEmitter(sink Sink, cfg Config, logger *slog.Logger) *AsyncEmitter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}

	e := &AsyncEmitter{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.BufferSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		e.workers.Add(1)
		go e.run()
	}
	return e
}

// Emit enqueues event for delivery. It returns immediately; the event is
// dropped if the buffer is full or the emitter is closed.
func (e *AsyncEmitter) Emit(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(event, "closed")
		return
	}

	select {
	case e.queue <- event:
	default:
		e.drop(event, "buffer_full")
		e.logger.Warn("analytics buffer full, dropping event",
			slog.String("event", string(event.ID)),
			slog.String("action", string(event.Action)),
		)
	}
}

// Close stops accepting events and waits until queued events are submitted.
func (e *AsyncEmitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	e.workers.Wait()
	return nil
}

func (e *AsyncEmitter) run() {
	defer e.workers.Done()
	for event := range e.queue {
		e.submit(event)
	}
}

// submit delivers one event, swallowing errors and panics from the sink.
func (e *AsyncEmitter) submit(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SubmitTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("sink panic: %v", rec)
			}
		}()
		return e.sink.Submit(ctx, event)
	}()
	if err != nil {
		e.drop(event, "sink_error")
		e.logger.Debug("analytics submission failed",
			slog.String("event", string(event.ID)),
			slog.String("action", string(event.Action)),
			slog.String("error", err.Error()),
		)
		return
	}

	eventsSubmitted.WithLabelValues(string(event.ID), string(event.Action)).Inc()
}

func (e *AsyncEmitter) drop(event Event, reason string) {
	eventsDropped.WithLabelValues(string(event.ID), string(event.Action), reason).Inc()
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
