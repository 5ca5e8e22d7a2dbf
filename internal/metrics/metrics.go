// Package metrics declares the tracker's Prometheus instrumentation,
// following the teacher's promauto declaration style: package-level vars
// registered at init, partitioned by the dimensions that matter for alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ZMQ listener (C10)
	ZMQMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "zmq",
		Name:      "messages_received_total",
		Help:      "Total ZMQ messages received by topic",
	}, []string{"topic"})

	ZMQReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "zmq",
		Name:      "reconnects_total",
		Help:      "Total ZMQ socket reconnect attempts by topic",
	}, []string{"topic"})

	// Raw tx classification (C1/C2)
	TxClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "classifier",
		Name:      "transactions_classified_total",
		Help:      "Total raw transactions classified by outcome",
	}, []string{"outcome"}) // matched, bloom_rejected, malformed, too_large

	BloomFilterChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "classifier",
		Name:      "bloom_filter_checks_total",
		Help:      "Total membership-set bloom prefilter checks by result",
	}, []string{"result"}) // maybe_member, definitely_not

	// Watched address tracking (C3)
	AddressesWatchedTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tracker",
		Subsystem: "addresses",
		Name:      "watched_total",
		Help:      "Current number of actively watched addresses",
	}, []string{})

	TransactionMatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "addresses",
		Name:      "transaction_matches_total",
		Help:      "Total address matches found across incoming transactions",
	}, []string{})

	// Confirmation tracker (C7)
	ConfirmationCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "confirmation",
		Name:      "cycles_total",
		Help:      "Total confirmation-update cycles run",
	}, []string{})

	ConfirmationCycleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tracker",
		Subsystem: "confirmation",
		Name:      "cycle_duration_seconds",
		Help:      "Confirmation-update cycle duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{})

	ConfirmationArchivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "confirmation",
		Name:      "archived_total",
		Help:      "Total active transactions promoted to archived storage",
	}, []string{})

	ConfirmationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "confirmation",
		Name:      "errors_total",
		Help:      "Total confirmation-update errors (node RPC failures)",
	}, []string{})

	// Explorer client / rate limiter (C5)
	ExplorerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "explorer",
		Name:      "requests_total",
		Help:      "Total requests issued to the block explorer API by outcome",
	}, []string{"outcome"}) // ok, rate_limited, upstream_error, circuit_open

	ExplorerCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tracker",
		Subsystem: "explorer",
		Name:      "circuit_state",
		Help:      "Explorer circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{})

	// Historical backfill (C8)
	BackfillRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "backfill",
		Name:      "runs_total",
		Help:      "Total backfill runs executed by outcome",
	}, []string{"outcome"}) // ok, error

	BackfillTransactionsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "backfill",
		Name:      "transactions_imported_total",
		Help:      "Total historical transactions imported by route",
	}, []string{"route"}) // active, archived

	// Webhook dispatcher (C9)
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total webhook delivery attempts by outcome",
	}, []string{"outcome"}) // completed, retry, failed

	WebhookQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tracker",
		Subsystem: "webhook",
		Name:      "queue_depth",
		Help:      "Pending or retry-scheduled webhook deliveries found due in the last processing pass, capped at the batch size",
	}, []string{})

	WebhookDeliveryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tracker",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Webhook HTTP delivery round-trip duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{})

	// Control surface (C11)
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total REST API requests by route and status class",
	}, []string{"route", "status_class"})
)
