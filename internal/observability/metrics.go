package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SettleLedger. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// --- Ingestion ---
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	LaneDepth        *prometheus.GaugeVec
	AckErrors        prometheus.Counter

	// --- Dispatch ---
	DispatchDuration *prometheus.HistogramVec
	HandlerErrors    *prometheus.CounterVec
	HandlerPanics    *prometheus.CounterVec

	// --- Reconciliation ---
	StaleMessages     *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	TransactionErrors *prometheus.CounterVec
	LedgerEntries     *prometheus.CounterVec
	AlertsPublished   *prometheus.CounterVec

	// --- Deduplication ---
	Duplicates        *prometheus.CounterVec
	DedupLRUSize      prometheus.Gauge
	DedupLRUEvictions prometheus.Counter
	DedupTier2Errors  prometheus.Counter
	DigestBatchSize   prometheus.Histogram
	DigestFlushDur    prometheus.Histogram
	DigestFlushErrors *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them on reg. Pass
// prometheus.DefaultRegisterer in the service and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	handlerBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}

	return &Metrics{
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_messages_received_total",
			Help: "Engine messages received from the bus",
		}, []string{"kind"}),

		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_messages_dropped_total",
			Help: "Envelopes dropped without dispatch",
		}, []string{"reason"}),

		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_decode_errors_total",
			Help: "Envelopes or payloads that failed to decode",
		}, []string{"kind"}),

		LaneDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settle_lane_depth",
			Help: "Messages queued per dispatch lane",
		}, []string{"lane"}),

		AckErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "settle_ack_errors_total",
			Help: "JetStream ack/nak failures",
		}),

		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settle_dispatch_duration_seconds",
			Help:    "Time to run one handler including its storage transaction",
			Buckets: handlerBuckets,
		}, []string{"kind"}),

		HandlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_handler_errors_total",
			Help: "Handler invocations that returned an error",
		}, []string{"kind"}),

		HandlerPanics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_handler_panics_total",
			Help: "Handler invocations that panicked and were recovered",
		}, []string{"kind"}),

		StaleMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_stale_messages_total",
			Help: "Messages rejected by the staleness guard",
		}, []string{"kind"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_transitions_total",
			Help: "Entity status transitions applied",
		}, []string{"kind", "to"}),

		TransactionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_transaction_errors_total",
			Help: "Engine failure envelopes handled, by kind and whether the record was found",
		}, []string{"kind", "found"}),

		LedgerEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_ledger_entries_total",
			Help: "Derived ledger entries written",
		}, []string{"entry"}),

		AlertsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_alerts_published_total",
			Help: "Operational alerts emitted",
		}, []string{"kind", "result"}),

		Duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_duplicate_envelopes_total",
			Help: "Redelivered envelopes skipped, by dedup tier",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "settle_dedup_lru_size",
			Help: "Digests held in the in-memory dedup tier",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "settle_dedup_lru_evictions_total",
			Help: "Digests evicted from the in-memory dedup tier",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "settle_dedup_tier2_errors_total",
			Help: "Durable dedup lookups that failed",
		}),

		DigestBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "settle_digest_batch_size",
			Help:    "Digests written per flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		DigestFlushDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "settle_digest_flush_duration_seconds",
			Help:    "Time to flush one digest batch",
			Buckets: handlerBuckets,
		}),

		DigestFlushErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_digest_flush_errors_total",
			Help: "Digest flush failures",
		}, []string{"stage"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "settle_query_requests_total",
			Help: "Record lookups served",
		}, []string{"kind", "result"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settle_query_duration_seconds",
			Help:    "Record lookup latency",
			Buckets: handlerBuckets,
		}, []string{"kind"}),
	}
}

func (m *Metrics) ObserveDispatch(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DispatchDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err != nil {
		m.HandlerErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncPanic(kind string) {
	if m == nil {
		return
	}
	m.HandlerPanics.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncStale(kind string) {
	if m == nil {
		return
	}
	m.StaleMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncTransition(kind, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, to).Inc()
}

func (m *Metrics) IncTransactionError(kind string, found bool) {
	if m == nil {
		return
	}
	label := "false"
	if found {
		label = "true"
	}
	m.TransactionErrors.WithLabelValues(kind, label).Inc()
}

func (m *Metrics) IncLedgerEntry(entry string) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(entry).Inc()
}

func (m *Metrics) IncAlert(kind, result string) {
	if m == nil {
		return
	}
	m.AlertsPublished.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncDuplicate(tier string) {
	if m == nil {
		return
	}
	m.Duplicates.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncReceived(kind string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDecodeError(kind string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetLaneDepth(lane, depth int) {
	if m == nil {
		return
	}
	m.LaneDepth.WithLabelValues(strconv.Itoa(lane)).Set(float64(depth))
}

func (m *Metrics) IncAckError() {
	if m == nil {
		return
	}
	m.AckErrors.Inc()
}

// ObserveQuery records one record lookup. result is "ok", "not_found" or
// "error".
func (m *Metrics) ObserveQuery(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueryRequests.WithLabelValues(kind, result).Inc()
	m.QueryDuration.WithLabelValues(kind).Observe(d.Seconds())
}
