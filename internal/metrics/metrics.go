// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessageOps counts message writes by operation (send, edit, delete)
	// and outcome (ok, error).
	MessageOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "joakey",
		Name:      "message_operations_total",
		Help:      "Message writes by operation and outcome.",
	}, []string{"op", "outcome"})

	// DecodeFailures counts stored messages that could not be decoded.
	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "joakey",
		Name:      "message_decode_failures_total",
		Help:      "Stored messages that could not be decoded.",
	})

	// SessionSyncs counts chat session updates by kind (reload, incremental).
	SessionSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "joakey",
		Name:      "session_syncs_total",
		Help:      "Chat session list updates by kind.",
	}, []string{"kind"})

	// ActiveSessions is the number of open chat sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "joakey",
		Name:      "active_sessions",
		Help:      "Open chat sessions.",
	})

	// RealtimeReconnects counts change feed reconnections.
	RealtimeReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "joakey",
		Name:      "realtime_reconnects_total",
		Help:      "Change feed reconnections.",
	})
)

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Outcome labels an operation result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
