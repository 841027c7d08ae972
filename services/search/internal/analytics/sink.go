package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/k-yomo/kagu-miru/pkg/httpclient"
	pkgkafka "github.com/k-yomo/kagu-miru/pkg/kafka"
)

// TopicAnalyticsEvents is the Kafka topic analytics events are published to.
var TopicAnalyticsEvents = pkgkafka.Topic("analytics", "events")

// Publisher is the subset of the Kafka producer used by KafkaSink.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// KafkaSink publishes analytics events wrapped in the standard event envelope.
type KafkaSink struct {
	publisher Publisher
	topic     string
	source    string
}

// NewKafkaSink creates a sink writing to topic. An empty topic selects
// TopicAnalyticsEvents.
func NewKafkaSink(publisher Publisher, topic, source string) *KafkaSink {
	if topic == "" {
		topic = TopicAnalyticsEvents
	}
	return &KafkaSink{publisher: publisher, topic: topic, source: source}
}

// Submit implements Sink.
func (s *KafkaSink) Submit(ctx context.Context, event Event) error {
	envelope, err := pkgkafka.NewEvent(EventType(event), aggregateKey(event), "analytics_event", s.source, event)
	if err != nil {
		return fmt.Errorf("build analytics envelope: %w", err)
	}
	envelope.Timestamp = event.CreatedAt
	envelope.WithMetadata("surface", string(event.ID)).WithMetadata("action", string(event.Action))
	if err := s.publisher.Publish(ctx, s.topic, envelope); err != nil {
		return fmt.Errorf("publish analytics event: %w", err)
	}
	return nil
}

// EventType returns the envelope event type, e.g. "analytics.search.display".
func EventType(event Event) string {
	return fmt.Sprintf("analytics.%s.%s", strings.ToLower(string(event.ID)), strings.ToLower(string(event.Action)))
}

// aggregateKey partitions events so that display and click events of one
// search land on the same partition.
func aggregateKey(event Event) string {
	switch p := event.Params.(type) {
	case SearchDisplayParams:
		return p.SearchID
	case SearchClickParams:
		return p.SearchID
	case QuerySuggestionsDisplayParams:
		return p.Query
	default:
		return string(event.ID)
	}
}

const trackEventMutation = `mutation trackEvent($event: Event!) { trackEvent(event: $event) }`

// Poster is the subset of the HTTP client used by HTTPSink.
type Poster interface {
	Post(ctx context.Context, url string, contentType string, body io.Reader) (*http.Response, error)
}

// HTTPSink submits events to the GraphQL API's trackEvent mutation.
type HTTPSink struct {
	client   Poster
	endpoint string
}

// NewHTTPSink creates a sink posting to the GraphQL endpoint.
func NewHTTPSink(client Poster, endpoint string) *HTTPSink {
	return &HTTPSink{client: client, endpoint: endpoint}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type trackEventResponse struct {
	Data struct {
		TrackEvent bool `json:"trackEvent"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Submit implements Sink. The boolean acknowledgement is not interpreted.
func (s *HTTPSink) Submit(ctx context.Context, event Event) error {
	body, err := json.Marshal(graphqlRequest{
		Query:     trackEventMutation,
		Variables: map[string]any{"event": event},
	})
	if err != nil {
		return fmt.Errorf("marshal trackEvent request: %w", err)
	}

	resp, err := s.client.Post(ctx, s.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post trackEvent: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, "analytics-api")
	}
	defer func() { _ = resp.Body.Close() }()

	var out trackEventResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return fmt.Errorf("decode trackEvent response: %w", err)
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("trackEvent: %s", out.Errors[0].Message)
	}
	return nil
}

// LogSink writes events to a structured logger. Used in development.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Submit implements Sink.
func (s *LogSink) Submit(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "analytics event",
		slog.String("event", string(event.ID)),
		slog.String("action", string(event.Action)),
		slog.Time("created_at", event.CreatedAt),
		slog.Any("params", event.Params),
	)
	return nil
}
