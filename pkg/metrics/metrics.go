// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration on the chat service.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests on the chat service.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesTotal tracks messages accepted by the chat service.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages sent",
		},
		[]string{"sender_role", "kind"},
	)

	// AttachmentBytes tracks the size of uploaded attachments.
	AttachmentBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_attachment_bytes",
			Help:    "Size of uploaded attachments in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	// ClientRequestsTotal tracks chat API calls made by the client core.
	ClientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_requests_total",
			Help: "Chat API calls made by the client, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// ClientRequestDuration tracks chat API call latency seen by the client core.
	ClientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_client_request_duration_seconds",
			Help:    "Chat API call latency seen by the client",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// PollsTotal tracks client polling rounds.
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_polls_total",
			Help: "Client polling rounds by target and result",
		},
		[]string{"target", "result"},
	)

	// ForwardSendsTotal tracks individual sends issued by forward operations.
	ForwardSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_forward_sends_total",
			Help: "Per-target sends issued by forward operations",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordClientCall records one chat API call made by the client core.
func RecordClientCall(operation string, err error, duration float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ClientRequestsTotal.WithLabelValues(operation, outcome).Inc()
	ClientRequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordPoll records one polling round. result is "applied", "stale" or "error".
func RecordPoll(target, result string) {
	PollsTotal.WithLabelValues(target, result).Inc()
}

// RecordForward records the outcome of one forward target send.
func RecordForward(err error) {
	if err != nil {
		ForwardSendsTotal.WithLabelValues("error").Inc()
		return
	}
	ForwardSendsTotal.WithLabelValues("success").Inc()
}
