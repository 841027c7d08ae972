// Package catalog keeps the local search engines in sync with item events
// published by the crawler pipeline.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	pkgkafka "github.com/k-yomo/kagu-miru/pkg/kafka"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
	"github.com/k-yomo/kagu-miru/services/search/internal/engine"
)

// Topics of the item events consumed for indexing. The event type of each
// envelope equals its topic.
var (
	TopicItemUpserted = pkgkafka.Topic("item", "upserted")
	TopicItemDeleted  = pkgkafka.Topic("item", "deleted")
)

// ConsumerGroup is the Kafka consumer group of the catalog sync.
const ConsumerGroup = "search-catalog-sync"

// ItemDeletedData is the payload of an item.deleted event.
type ItemDeletedData struct {
	ID string `json:"id"`
}

var errMissingID = errors.New("item event without id")

// Syncer applies item events to an engine.Indexer.
type Syncer struct {
	indexer engine.Indexer
	logger  *slog.Logger
	now     func() time.Time
}

// NewSyncer creates a syncer writing to indexer.
func NewSyncer(indexer engine.Indexer, logger *slog.Logger) *Syncer {
	return &Syncer{
		indexer: indexer,
		logger:  logger,
		now:     time.Now,
	}
}

// Handle is a pkgkafka.Handler. Payload errors are permanent; indexer
// errors are retried by the consumer.
func (s *Syncer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicItemUpserted:
		return s.handleUpserted(ctx, event)
	case TopicItemDeleted:
		return s.handleDeleted(ctx, event)
	default:
		s.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

func (s *Syncer) handleUpserted(ctx context.Context, event *pkgkafka.Event) error {
	var item domain.Item
	if err := event.UnmarshalData(&item); err != nil {
		return backoff.Permanent(fmt.Errorf("unmarshal item.upserted data: %w", err))
	}
	if item.ID == "" {
		return backoff.Permanent(errMissingID)
	}
	if item.Status == "" {
		item.Status = domain.ItemStatusActive
	}
	item.IndexedAt = s.now().UTC()

	if err := s.indexer.Index(ctx, &item); err != nil {
		return fmt.Errorf("index item %s: %w", item.ID, err)
	}

	s.logger.InfoContext(ctx, "indexed item from upserted event",
		slog.String("item_id", item.ID),
		slog.String("platform", string(item.Platform)),
	)
	return nil
}

func (s *Syncer) handleDeleted(ctx context.Context, event *pkgkafka.Event) error {
	var data ItemDeletedData
	if err := event.UnmarshalData(&data); err != nil {
		return backoff.Permanent(fmt.Errorf("unmarshal item.deleted data: %w", err))
	}
	if data.ID == "" {
		return backoff.Permanent(errMissingID)
	}

	if err := s.indexer.Delete(ctx, data.ID); err != nil {
		return fmt.Errorf("delete item %s: %w", data.ID, err)
	}

	s.logger.InfoContext(ctx, "deleted item from deleted event",
		slog.String("item_id", data.ID),
	)
	return nil
}

// Consumers builds one consumer per item topic, all dispatching to s.
func (s *Syncer) Consumers(brokers []string, dlq *pkgkafka.DLQProducer) []*pkgkafka.Consumer {
	topics := []string{TopicItemUpserted, TopicItemDeleted}
	consumers := make([]*pkgkafka.Consumer, 0, len(topics))
	for _, topic := range topics {
		consumers = append(consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  brokers,
			GroupID:  ConsumerGroup,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			DLQ:      dlq,
		}, s.Handle, s.logger))
	}
	return consumers
}
