package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of a consumed message.
const (
	outcomeProcessed = "processed"
	outcomeFailed    = "failed"
	outcomeParked    = "parked"
	outcomeMalformed = "malformed"
)

var (
	consumerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_total",
			Help: "Total number of consumed Kafka messages, by outcome",
		},
		[]string{"topic", "consumer_group", "outcome"},
	)

	consumerHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_consumer_handler_duration_seconds",
			Help:    "Time spent handling one message, retries included",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"topic", "consumer_group"},
	)

	producerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_messages_total",
			Help: "Total number of Kafka publish attempts, by result",
		},
		[]string{"topic", "result"},
	)
)
