// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	UpdatesReceived   prometheus.Counter
	DuplicateUpdates  prometheus.Counter
	DecodeFaults      *prometheus.CounterVec
	HighestSlotSeen   prometheus.Gauge
	StreamReconnects  prometheus.Counter
	TxFetchFailures   prometheus.Counter

	// Extraction metrics
	EventsExtracted *prometheus.CounterVec
	SchemaMismatch  *prometheus.CounterVec

	// Replication metrics
	AdapterAborts      *prometheus.CounterVec
	AssemblyErrors     *prometheus.CounterVec
	Outcomes           *prometheus.CounterVec
	InFlight           prometheus.Gauge
	PriorityFeeLamports prometheus.Histogram

	// Latency metrics
	StageLatency        *prometheus.HistogramVec
	ConfirmationLatency prometheus.Histogram
	RPCCallLatency      *prometheus.HistogramVec
	RelayRequests       *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// latencyBuckets covers sub-millisecond decoding up to multi-second confirmation.
var latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "copy_trader"
	}

	return &Metrics{
		UpdatesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "updates_received_total",
			Help:      "Total number of raw updates received from the stream",
		}),
		DuplicateUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicate_updates_total",
			Help:      "Updates skipped because their signature was already seen",
		}),
		DecodeFaults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "decode_faults_total",
			Help:      "Malformed transactions and instruction slots",
		}, []string{"scope"}),
		HighestSlotSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest slot number seen",
		}),
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "stream_reconnects_total",
			Help:      "WebSocket reconnect attempts",
		}),
		TxFetchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "tx_fetch_failures_total",
			Help:      "Notifications whose transaction could not be fetched",
		}),

		EventsExtracted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "events_total",
			Help:      "Swap events extracted for the target wallet",
		}, []string{"venue", "direction"}),
		SchemaMismatch: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "schema_mismatch_total",
			Help:      "Instructions of registered programs with unknown layout",
		}, []string{"venue"}),

		AdapterAborts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "adapter_aborts_total",
			Help:      "Replications aborted by venue adapters",
		}, []string{"venue", "kind"}),
		AssemblyErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "assembly_errors_total",
			Help:      "Transaction assembly failures",
		}, []string{"kind"}),
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "outcomes_total",
			Help:      "Submission outcomes",
		}, []string{"outcome"}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "in_flight",
			Help:      "Replications currently being processed",
		}),
		PriorityFeeLamports: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "priority_fee_lamports",
			Help:      "Priority fee paid per assembled transaction",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 10),
		}),

		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "latency",
			Name:      "stage_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   latencyBuckets,
		}, []string{"stage"}),
		ConfirmationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "latency",
			Name:      "confirmation_seconds",
			Help:      "Time from relay acceptance to confirmation",
			Buckets:   latencyBuckets,
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "latency",
			Name:      "rpc_call_seconds",
			Help:      "RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RelayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relay requests by method and status",
		}, []string{"method", "status"}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordUpdateReceived increments the raw update counter.
func RecordUpdateReceived() {
	DefaultMetrics.UpdatesReceived.Inc()
}

// RecordDuplicate increments the duplicate update counter.
func RecordDuplicate() {
	DefaultMetrics.DuplicateUpdates.Inc()
}

// RecordDecodeFault records a malformed transaction or instruction slot.
func RecordDecodeFault(scope string) {
	DefaultMetrics.DecodeFaults.WithLabelValues(scope).Inc()
}

// UpdateHighestSlot updates the highest slot seen gauge.
func UpdateHighestSlot(slot uint64) {
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// RecordStreamReconnect increments the reconnect counter.
func RecordStreamReconnect() {
	DefaultMetrics.StreamReconnects.Inc()
}

// RecordTxFetchFailure increments the transaction fetch failure counter.
func RecordTxFetchFailure() {
	DefaultMetrics.TxFetchFailures.Inc()
}

// RecordEventExtracted records an extracted swap event.
func RecordEventExtracted(venue, direction string) {
	DefaultMetrics.EventsExtracted.WithLabelValues(venue, direction).Inc()
}

// RecordSchemaMismatch records a dropped instruction with unknown layout.
func RecordSchemaMismatch(venue string) {
	DefaultMetrics.SchemaMismatch.WithLabelValues(venue).Inc()
}

// RecordAdapterAbort records an adapter abort by kind.
func RecordAdapterAbort(venue, kind string) {
	DefaultMetrics.AdapterAborts.WithLabelValues(venue, kind).Inc()
}

// RecordAssemblyError records an assembly failure by kind.
func RecordAssemblyError(kind string) {
	DefaultMetrics.AssemblyErrors.WithLabelValues(kind).Inc()
}

// RecordOutcome records a submission outcome.
func RecordOutcome(outcome string) {
	DefaultMetrics.Outcomes.WithLabelValues(outcome).Inc()
}

// IncInFlight and DecInFlight track replications being processed.
func IncInFlight() { DefaultMetrics.InFlight.Inc() }
func DecInFlight() { DefaultMetrics.InFlight.Dec() }

// RecordPriorityFee records the priority fee of an assembled transaction.
func RecordPriorityFee(lamports uint64) {
	DefaultMetrics.PriorityFeeLamports.Observe(float64(lamports))
}

// RecordStageLatency records a pipeline stage duration.
func RecordStageLatency(stage string, seconds float64) {
	DefaultMetrics.StageLatency.WithLabelValues(stage).Observe(seconds)
}

// RecordConfirmationLatency records time to confirmation.
func RecordConfirmationLatency(seconds float64) {
	DefaultMetrics.ConfirmationLatency.Observe(seconds)
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordRelayRequest records a relay request result.
func RecordRelayRequest(method, status string) {
	DefaultMetrics.RelayRequests.WithLabelValues(method, status).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
