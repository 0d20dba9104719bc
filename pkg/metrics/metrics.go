// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// InboundMessagesTotal tracks inbound messages by outcome.
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_messages_total",
			Help: "Inbound messages handled by the session manager, by outcome",
		},
		[]string{"outcome"},
	)

	// NewSendersTotal tracks conversations created by the welcome bootstrap.
	NewSendersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "new_senders_total",
			Help: "Conversations created for first-time senders",
		},
	)

	// CompletionDuration tracks completion call duration.
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "completion_duration_seconds",
			Help:    "Completion service call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// DeliveryTotal tracks outbound deliveries. Kept apart from store failures.
	DeliveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_total",
			Help: "Outbound message deliveries",
		},
		[]string{"kind", "status"},
	)

	// StoreOperationsTotal tracks conversation store calls.
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Conversation store operations",
		},
		[]string{"op", "status"},
	)

	// LockWaitDuration tracks time spent waiting for the per-conversation lock.
	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conversation_lock_wait_seconds",
			Help:    "Time spent waiting for the per-conversation exclusive section",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		},
	)

	// EventsPublishedTotal tracks conversation events published to JetStream.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Conversation turn events published to the event stream",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCompletion records metrics for a completion call.
func RecordCompletion(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	CompletionDuration.WithLabelValues(provider, status).Observe(duration)
	if tokensIn > 0 {
		LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	}
}

// RecordDelivery records the outcome of a delivery attempt.
func RecordDelivery(kind string, err error) {
	DeliveryTotal.WithLabelValues(kind, statusOf(err)).Inc()
}

// RecordStoreOp records the outcome of a store call.
func RecordStoreOp(op string, err error) {
	StoreOperationsTotal.WithLabelValues(op, statusOf(err)).Inc()
}

// RecordInbound records the outcome of one inbound message.
func RecordInbound(outcome string) {
	InboundMessagesTotal.WithLabelValues(outcome).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordEventPublished records the outcome of one stream publish.
func RecordEventPublished(err error) {
	EventsPublishedTotal.WithLabelValues(statusOf(err)).Inc()
}
