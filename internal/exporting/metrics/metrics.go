package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched tracks transfer pages fetched per direction
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txexport_pages_fetched_total",
			Help: "Total number of transfer pages fetched",
		},
		[]string{"direction"},
	)

	// RecordsFetched tracks transfer records fetched per direction
	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txexport_records_fetched_total",
			Help: "Total number of transfer records fetched",
		},
		[]string{"direction"},
	)

	// JobsSubmitted tracks jobs accepted by the broker
	JobsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txexport_jobs_submitted_total",
			Help: "Total number of enrichment jobs submitted",
		},
	)

	// JobsCompleted tracks completions counted by the dispatcher
	JobsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txexport_jobs_completed_total",
			Help: "Total number of enrichment jobs completed",
		},
	)

	// JobsFailed tracks failed job attempts; final marks retries exhausted
	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txexport_jobs_failed_total",
			Help: "Total number of failed enrichment job attempts",
		},
		[]string{"final"},
	)

	// FeeFallbacks tracks records exported with the sentinel fee
	FeeFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txexport_fee_fallbacks_total",
			Help: "Total number of records whose fee could not be obtained",
		},
	)

	// BatchesExported tracks flushed batches
	BatchesExported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txexport_batches_exported_total",
			Help: "Total number of batches exported",
		},
	)

	// RecordsExported tracks records written by flushes
	RecordsExported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txexport_records_exported_total",
			Help: "Total number of records exported",
		},
	)

	// ExportErrors tracks flushes that failed after all retries
	ExportErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txexport_export_errors_total",
			Help: "Total number of failed batch exports",
		},
	)

	// ExportRetries tracks re-attempted exports
	ExportRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txexport_export_retries_total",
			Help: "Total number of export retries",
		},
	)

	// RPCCallsTotal tracks RPC calls per provider and method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txexport_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txexport_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txexport_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// RPCComputeUnits tracks compute units spent per provider and method
	RPCComputeUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txexport_rpc_compute_units_total",
			Help: "Total compute units charged by the RPC provider",
		},
		[]string{"provider", "method"},
	)

	// RPCBudgetUsage tracks the share of the daily compute unit budget used
	RPCBudgetUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txexport_rpc_budget_usage_percent",
			Help: "Percentage of the daily compute unit budget used",
		},
		[]string{"provider"},
	)

	// CycleDuration tracks the time from cycle submission to flush
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txexport_cycle_duration_seconds",
			Help:    "Time from cycle submission to flush",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	// DBConnectionPoolUsage tracks sink connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txexport_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
