// Package metrics provides Prometheus instrumentation for the chat session
// client. It exposes counters for live traffic and reconciliation outcomes,
// a gauge for joined rooms, and a histogram for history load latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LiveConnected is 1 while a live channel connection is open.
	LiveConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shopchat_live_connected",
		Help: "Whether the live channel connection is open (1) or not (0)",
	})

	// LiveEvents counts frames received on the live channel, labeled by
	// frame type.
	LiveEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopchat_live_events_total",
		Help: "Total number of live channel frames received",
	}, []string{"type"})

	// JoinedRooms tracks the number of rooms with an active live membership.
	JoinedRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shopchat_joined_rooms",
		Help: "Current number of rooms joined on the live channel",
	})

	// RoomSwitches counts room selections.
	RoomSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shopchat_room_switches_total",
		Help: "Total number of room selections",
	})

	// StaleSelections counts selections abandoned because a newer one began.
	StaleSelections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shopchat_stale_selections_total",
		Help: "Total number of room selections superseded before completion",
	})

	// ReconcileOutcomes counts incoming messages by the reconciliation rule
	// they hit: "appended", "replaced_optimistic", "duplicate",
	// "replaced_near_duplicate", "preview".
	ReconcileOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopchat_reconcile_outcomes_total",
		Help: "Total number of incoming messages by reconciliation outcome",
	}, []string{"outcome"})

	// CollaboratorFailures counts failed calls to the REST backend or the
	// live channel, labeled by operation.
	CollaboratorFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopchat_collaborator_failures_total",
		Help: "Total number of failed collaborator calls",
	}, []string{"op"})

	// MessagesSent counts messages handed to the backend.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shopchat_messages_sent_total",
		Help: "Total number of messages sent",
	})

	// HistoryLoadDuration records how long a room's history page took to load.
	HistoryLoadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shopchat_history_load_seconds",
		Help:    "Time to load a room's message history",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
)

func init() {
	prometheus.MustRegister(
		LiveConnected,
		LiveEvents,
		JoinedRooms,
		RoomSwitches,
		StaleSelections,
		ReconcileOutcomes,
		CollaboratorFailures,
		MessagesSent,
		HistoryLoadDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
