package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qwik_chat_active_sessions",
			Help: "Number of currently open chat connections",
		},
	)

	SessionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qwik_chat_sessions_rejected_total",
			Help: "Connections rejected before joining any group",
		},
	)

	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qwik_chat_inbound_events_total",
			Help: "Inbound client events by action and outcome",
		},
		[]string{"action", "result"},
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qwik_chat_messages_persisted_total",
			Help: "Chat messages written to the store",
		},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qwik_chat_publish_failures_total",
			Help: "Bus publishes that returned an error, by event type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qwik_chat_events_dropped_total",
			Help: "Outbound events dropped because a connection buffer was full",
		},
	)
)
