// Package metrics exposes Prometheus collectors for the poll engine, the
// provider clients and the recipient stores. Collectors register with the
// default registry on import and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts completed poll cycles.
	// Labels:
	//   - outcome: "ok", "partial" (at least one fetch failed), "cancelled"
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_poll_cycles_total",
			Help: "Total number of poll cycles run",
		},
		[]string{"outcome"},
	)

	// CycleDuration measures wall time of one cycle, fetches and deliveries
	// included.
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_poll_cycle_duration_seconds",
			Help:    "Duration of a poll cycle in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// NotificationsTotal counts delivery attempts.
	// Labels:
	//   - kind: "stream", "lineup", "goal", "red_card"
	//   - outcome: "sent", "failed"
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_notifications_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"kind", "outcome"},
	)

	// FetchErrorsTotal counts snapshot fetch failures.
	// Labels:
	//   - source: "stream", "fixtures", "lineups", "events"
	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_fetch_errors_total",
			Help: "Total number of failed snapshot fetches",
		},
		[]string{"source"},
	)

	// ProviderRequestsTotal counts HTTP calls made to upstream providers.
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_provider_requests_total",
			Help: "Total number of upstream provider requests",
		},
		[]string{"provider", "status"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_circuit_breaker_state",
			Help: "Provider circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// DedupRecords tracks dedup store sizes.
	// Labels:
	//   - kind: "lineups", "events", "fixtures"
	DedupRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_dedup_records",
			Help: "Number of records held by the dedup store",
		},
		[]string{"kind"},
	)

	// DedupEvictionsTotal counts fixtures evicted by pruning.
	DedupEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_dedup_evictions_total",
			Help: "Total number of fixtures evicted from the dedup store",
		},
	)

	// Recipients tracks subscription store sizes.
	// Labels:
	//   - kind: "subscribers", "followers", "follow_entries"
	Recipients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_recipients",
			Help: "Number of recipients known to the subscription store",
		},
		[]string{"kind"},
	)

	// CommandsTotal counts inbound chat commands.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_commands_total",
			Help: "Total number of chat commands handled",
		},
		[]string{"command"},
	)
)
