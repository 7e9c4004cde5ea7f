package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are registered once on the default registry and exposed on /metrics.
var (
	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kindly",
		Subsystem: "conversation_feed",
		Name:      "events_total",
		Help:      "Change feed events received, by kind.",
	}, []string{"kind"})

	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kindly",
		Subsystem: "conversation_feed",
		Name:      "reconnects_total",
		Help:      "Transport reconnections after a lost LISTEN connection.",
	})

	EnrichmentFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kindly",
		Subsystem: "conversation_store",
		Name:      "enrichment_failures_total",
		Help:      "Item lookups that failed while materializing a conversation.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kindly",
		Subsystem: "conversation_session",
		Name:      "active",
		Help:      "Open conversation sessions.",
	})

	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kindly",
		Subsystem: "items",
		Name:      "reservations_total",
		Help:      "Reservation requests, by outcome.",
	}, []string{"outcome"})
)
