package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal tracks dispatched commands by type and outcome
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapd_commands_total",
			Help: "Total number of commands dispatched",
		},
		[]string{"command", "outcome"},
	)

	// CommandDuration tracks end-to-end command handling latency
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swapd_command_duration_seconds",
			Help:    "Command handling latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// SubmissionsTotal tracks on-chain submissions by outcome
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapd_submissions_total",
			Help: "Total number of transaction submissions",
		},
		[]string{"outcome"},
	)

	// ConcurrencyConflicts tracks optimistic-concurrency retries
	ConcurrencyConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swapd_concurrency_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts",
		},
	)

	// RPCCallsTotal tracks RPC calls per endpoint and method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapd_rpc_calls_total",
			Help: "Total number of chain RPC calls",
		},
		[]string{"endpoint", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per endpoint
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapd_rpc_errors_total",
			Help: "Total number of chain RPC errors",
		},
		[]string{"endpoint", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swapd_rpc_latency_seconds",
			Help:    "Chain RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// OutboxPending tracks undelivered outbox rows
	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapd_outbox_pending",
			Help: "Number of committed events awaiting delivery",
		},
	)

	// EventsPublished tracks events forwarded to the broker
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapd_events_published_total",
			Help: "Total number of events forwarded to the broker",
		},
		[]string{"event_type"},
	)

	// ReconcilerTracked tracks transactions currently under observation
	ReconcilerTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapd_reconciler_tracked",
			Help: "Number of transactions the reconciler is tracking",
		},
	)
)
