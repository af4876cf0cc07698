package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "civicsync_"

// Result labels for Observe helpers.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var registerOnce sync.Once

var (
	billFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "bill_fetch_duration_seconds",
			Help:    "Per-account bill fetch duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "result"},
	)

	chartComputeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "chart_compute_duration_seconds",
			Help:    "Chart aggregation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode", "result"},
	)

	cacheLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "layout_cache_load_total",
			Help: "Layout cache load outcomes",
		},
		[]string{"outcome"},
	)

	cacheSaveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "layout_cache_save_total",
			Help: "Layout cache save outcomes",
		},
		[]string{"result"},
	)

	paymentInitiateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "payment_initiate_duration_seconds",
			Help:    "Payment session initiation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	paymentReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "payment_reconcile_total",
			Help: "Payment reconciliation outcomes",
		},
		[]string{"outcome"},
	)

	paymentDivergenceTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "payment_divergence_total",
			Help: "Optimistic paid transitions later contradicted upstream",
		},
	)

	incidentAnalyzeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "incident_analyze_duration_seconds",
			Help:    "Incident analysis round-trip duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "result"},
	)

	exportDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "export_duration_seconds",
			Help:    "Dues summary export duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"format", "result"},
	)

	linkedAccounts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "linked_accounts",
			Help: "Accounts currently linked across profiles",
		},
	)

	inflightFetches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "inflight_bill_fetches",
			Help: "Bill fetches currently in flight",
		},
	)
)

// Register installs all collectors. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			billFetchDuration,
			chartComputeDuration,
			cacheLoadTotal,
			cacheSaveTotal,
			paymentInitiateDuration,
			paymentReconcileTotal,
			paymentDivergenceTotal,
			incidentAnalyzeDuration,
			exportDuration,
			linkedAccounts,
			inflightFetches,
		)
	})
}

// ObserveBillFetch records a single account fetch.
func ObserveBillFetch(service, result string, d time.Duration) {
	billFetchDuration.WithLabelValues(service, result).Observe(d.Seconds())
}

// ObserveChartCompute records a chart aggregation run.
func ObserveChartCompute(mode, result string, d time.Duration) {
	chartComputeDuration.WithLabelValues(mode, result).Observe(d.Seconds())
}

// ObserveCacheLoad records a layout cache load outcome (hit, miss, stale, error).
func ObserveCacheLoad(outcome string) {
	cacheLoadTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheSave records a layout cache save.
func ObserveCacheSave(result string) {
	cacheSaveTotal.WithLabelValues(result).Inc()
}

// ObservePaymentInitiate records a payment session initiation.
func ObservePaymentInitiate(result string, d time.Duration) {
	paymentInitiateDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObservePaymentReconcile records a reconciliation outcome (settled, reverted, pending, error).
func ObservePaymentReconcile(outcome string) {
	paymentReconcileTotal.WithLabelValues(outcome).Inc()
}

// ObservePaymentDivergence counts an optimistic transition the backend contradicted.
func ObservePaymentDivergence() {
	paymentDivergenceTotal.Inc()
}

// ObserveIncidentAnalyze records an incident analysis attempt.
func ObserveIncidentAnalyze(kind, result string, d time.Duration) {
	incidentAnalyzeDuration.WithLabelValues(kind, result).Observe(d.Seconds())
}

// ObserveExport records a dues summary export.
func ObserveExport(format, result string, d time.Duration) {
	exportDuration.WithLabelValues(format, result).Observe(d.Seconds())
}

// SetLinkedAccounts updates the linked account gauge.
func SetLinkedAccounts(n int) {
	linkedAccounts.Set(float64(n))
}

// SetInFlightFetches updates the in-flight fetch gauge.
func SetInFlightFetches(n int) {
	inflightFetches.Set(float64(n))
}
