package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/k-yomo/kagu-miru/pkg/kafka"

// maxHandlerAttempts bounds how often a handler runs for one message before
// the message is parked (or skipped when no DLQ is configured).
const maxHandlerAttempts = 3

// Handler processes one event. Returning backoff.Permanent(err) skips the
// remaining attempts.
type Handler func(ctx context.Context, event *Event) error

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int

	// RetryInterval is the first wait between handler attempts. Defaults to 100ms.
	RetryInterval time.Duration
	// DLQ receives messages that failed every attempt. Optional.
	DLQ *DLQProducer
}

// messageReader is the subset of kafka.Reader used by Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads event envelopes from one topic and hands them to a Handler.
type Consumer struct {
	reader    messageReader
	cfg       ConsumerConfig
	logger    *slog.Logger
	handler   Handler
	closeOnce sync.Once
}

// NewConsumer creates a consumer for cfg.Topic in cfg.GroupID.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
	return newConsumer(r, cfg, handler, logger)
}

func newConsumer(r messageReader, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	return &Consumer{
		reader:  r,
		cfg:     cfg,
		logger:  logger,
		handler: handler,
	}
}

// Start consumes messages until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started",
		slog.String("topic", c.cfg.Topic),
		slog.String("group", c.cfg.GroupID),
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", slog.String("topic", c.cfg.Topic))
				return c.Close()
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message", slog.String("error", err.Error()))
		}
	}
}

// process runs the handler for msg with exponential backoff between
// attempts. The span continues the producer's trace. Messages are
// committed by the caller whatever the outcome.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	ctx, span := otel.Tracer(tracerName).Start(extractTraceContext(ctx, &msg), "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.consumer.group.name", c.cfg.GroupID),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.ErrorContext(ctx, "undecodable kafka message",
			slog.String("error", err.Error()),
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
		)
		span.SetStatus(codes.Error, "malformed envelope")
		consumerMessages.WithLabelValues(c.cfg.Topic, c.cfg.GroupID, outcomeMalformed).Inc()
		c.park(ctx, msg, err)
		return
	}
	span.SetAttributes(attribute.String("messaging.event_type", event.EventType))

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInterval
	eb.MaxInterval = 10 * c.cfg.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, maxHandlerAttempts-1), ctx)

	start := time.Now()
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		return c.handler(ctx, event)
	}, policy)
	consumerHandlerDuration.WithLabelValues(c.cfg.Topic, c.cfg.GroupID).Observe(time.Since(start).Seconds())

	if err != nil {
		c.logger.ErrorContext(ctx, "handler failed, skipping message",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.String("error", err.Error()),
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempts", attempt),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		consumerMessages.WithLabelValues(c.cfg.Topic, c.cfg.GroupID, outcomeFailed).Inc()
		c.park(ctx, msg, err)
		return
	}

	consumerMessages.WithLabelValues(c.cfg.Topic, c.cfg.GroupID, outcomeProcessed).Inc()
}

func (c *Consumer) park(ctx context.Context, msg kafka.Message, cause error) {
	if c.cfg.DLQ == nil {
		return
	}
	if err := c.cfg.DLQ.Publish(ctx, msg, cause, c.cfg.GroupID); err != nil {
		c.logger.Error("failed to park message", slog.String("error", err.Error()))
		return
	}
	consumerMessages.WithLabelValues(c.cfg.Topic, c.cfg.GroupID, outcomeParked).Inc()
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}

// TopicPrefix is the prefix of every kagu-miru topic.
const TopicPrefix = "kagumiru"

// Topic builds a fully-qualified topic name.
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}
