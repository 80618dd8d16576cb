// Package metrics provides Prometheus instrumentation for the match and
// messaging core. It exposes gauges for connection and session counts,
// counters for message, match and flag throughput, and histograms for
// latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pawmatch_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineIdentities tracks the number of distinct identities with at least
	// one registered session.
	OnlineIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pawmatch_online_identities",
		Help: "Distinct identities with at least one live session",
	})

	// MessagesTotal counts the messages processed, labeled by
	// type: "sent", "delivered", "dropped", or "auto_flagged".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pawmatch_messages_total",
		Help: "Total number of messages processed",
	}, []string{"type"})

	// MatchesTotal counts match registry mutations, labeled by
	// outcome: "created", "duplicate", or "removed".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pawmatch_matches_total",
		Help: "Total number of match registry mutations",
	}, []string{"outcome"})

	// FlagsTotal counts flag ledger appends, labeled by target kind.
	FlagsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pawmatch_flags_total",
		Help: "Total number of flags filed",
	}, []string{"kind"})

	// MessageLatency records message append latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pawmatch_message_latency_seconds",
		Help:    "Message append latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// DeliveryFanout records the number of live sessions each committed
	// message was delivered to.
	DeliveryFanout = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pawmatch_delivery_fanout",
		Help:    "Live sessions reached per committed message",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineIdentities,
		MessagesTotal,
		MatchesTotal,
		FlagsTotal,
		MessageLatency,
		DeliveryFanout,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
