// Package metrics provides Prometheus instrumentation for the community chat
// server. It exposes gauges for live connections, counters for message
// outcomes and side effects, and histograms for classifier latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "community_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RoomMembers tracks live handles per room.
	RoomMembers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "community_room_members",
		Help: "Current number of live connections per room",
	}, []string{"room"})

	// MessagesTotal counts inbound chat messages by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "community_messages_total",
		Help: "Total number of inbound chat messages processed",
	}, []string{"outcome"}) // outcome = "accepted", "blocked", "invalid", "persist_failed", "rate_limited"

	// BroadcastDrops counts peers pruned after a failed or timed-out send.
	BroadcastDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "community_broadcast_drops_total",
		Help: "Total number of peers dropped during broadcast",
	})

	// MessageLatency records the time from frame receipt to broadcast.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "community_message_latency_seconds",
		Help:    "Message processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// ClassifierDuration records how long risk assessment took, by the stage
	// that produced the verdict.
	ClassifierDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "community_classifier_duration_seconds",
		Help:    "Risk classification latency in seconds",
		Buckets: []float64{.0001, .001, .01, .1, .25, .5, 1, 2.5, 5},
	}, []string{"stage"}) // stage = "pattern", "secondary", "fallback"

	// ClassifierVerdicts counts verdicts by risk level.
	ClassifierVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "community_classifier_verdicts_total",
		Help: "Total number of risk verdicts by level",
	}, []string{"level"})

	// SecondaryFailures counts secondary classifier errors resolved by the
	// configured failure policy.
	SecondaryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "community_classifier_secondary_failures_total",
		Help: "Secondary classifier failures by applied policy",
	}, []string{"policy"})

	// LedgerCredits counts ledger writes by reason and result.
	LedgerCredits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "community_ledger_credits_total",
		Help: "Total number of ledger credits",
	}, []string{"reason", "result"})

	// CrisisEvents counts recorded crisis events by level.
	CrisisEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "community_crisis_events_total",
		Help: "Total number of recorded crisis events",
	}, []string{"level"})

	// CrisisNotifications counts notification attempts by result.
	CrisisNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "community_crisis_notifications_total",
		Help: "Crisis notifications by result",
	}, []string{"result"}) // result = "sent", "failed", "dropped"
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomMembers,
		MessagesTotal,
		BroadcastDrops,
		MessageLatency,
		ClassifierDuration,
		ClassifierVerdicts,
		SecondaryFailures,
		LedgerCredits,
		CrisisEvents,
		CrisisNotifications,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
