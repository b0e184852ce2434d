// Package metrics defines the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequests counts inbound webhook deliveries by outcome
	// (ok, bad_signature, bad_request, error).
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prayerbot_webhook_requests_total",
		Help: "Inbound webhook deliveries by outcome.",
	}, []string{"outcome"})

	// Commands counts routed commands by command name and outcome
	// (ok, rejected, error, silent).
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prayerbot_commands_total",
		Help: "Routed bot commands by name and outcome.",
	}, []string{"command", "outcome"})

	// StoreOpDuration observes document store operation latency.
	StoreOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prayerbot_store_op_duration_seconds",
		Help:    "Document store operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)
