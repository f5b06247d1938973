package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the data plane.
type Metrics struct {
	// Ingest metrics
	MessagesProcessed *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec

	// Policy cache metrics
	PolicyLookups *prometheus.CounterVec
	Invalidations prometheus.Counter

	// Aggregation metrics
	AggregationRuns *prometheus.CounterVec

	// Broker metrics
	PublishErrors prometheus.Counter
}

// NewMetrics creates and registers all gateway metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_messages_processed_total",
				Help: "Inbound device messages by outcome",
			},
			[]string{"outcome"}, // outcome: published, accumulated, dropped
		),

		MessagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_messages_dropped_total",
				Help: "Dropped device messages by reason",
			},
			[]string{"reason"}, // reason: bad_topic, bad_payload, missing_titular, no_policy, bad_policy_key, unknown_strategy, strategy_error
		),

		PolicyLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_policy_lookups_total",
				Help: "Policy cache lookups by result",
			},
			[]string{"result"}, // result: hit, miss, error
		),

		Invalidations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_policy_invalidations_total",
				Help: "Cache invalidations triggered by MGC notifications",
			},
		),

		AggregationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_aggregation_runs_total",
				Help: "Aggregation tasks processed by outcome",
			},
			[]string{"outcome"}, // outcome: published, empty, skipped, error
		),

		PublishErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_publish_errors_total",
				Help: "Failed broker publishes",
			},
		),
	}
}
