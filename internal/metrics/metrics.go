// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FeedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_feed_events_total",
			Help: "Change feed events emitted, by kind.",
		},
		[]string{"kind"},
	)

	RouterSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "support_router_subscriptions",
			Help: "Active router subscriptions, by filter kind.",
		},
		[]string{"filter"},
	)

	RouterDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_router_delivered_total",
			Help: "Envelopes enqueued to subscribers.",
		},
	)

	RouterOverflows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_router_overflows_total",
			Help: "Subscriber queues that overflowed and were told to resync.",
		},
	)

	PresenceOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_presence_online_actors",
			Help: "Actors with at least one live session.",
		},
	)

	PresenceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_presence_transitions_total",
			Help: "Presence transitions, by resulting state.",
		},
		[]string{"state"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_ws_connections",
			Help: "Open websocket connections.",
		},
	)

	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_notifications_total",
			Help: "Offline notifications dispatched, by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	ReadRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_read_retries_total",
			Help: "Read transitions retried after an earlier failure.",
		},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FeedEvents,
			RouterSubscriptions,
			RouterDelivered,
			RouterOverflows,
			PresenceOnline,
			PresenceTransitions,
			WSConnections,
			NotificationsSent,
			ReadRetries,
		)
	})
}
