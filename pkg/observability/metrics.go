package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// RefreshTotal tracks refresh attempts by terminal status
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresher_refresh_total",
			Help: "Total refresh attempts by terminal status",
		},
		[]string{"dataset", "status"}, // status: initial_load, refreshed, cached, locked, failed
	)

	// RefreshDuration measures end-to-end refresh duration in seconds
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refresher_refresh_duration_seconds",
			Help:    "End-to-end refresh duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"dataset", "status"},
	)

	// QueryDuration measures backend query execution time
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refresher_query_duration_seconds",
			Help:    "Backend query execution time",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"dataset", "kind"}, // kind: full, incremental
	)

	// RowsFetched counts rows returned by the backend per dataset
	RowsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresher_rows_fetched_total",
			Help: "Rows returned by the query backend",
		},
		[]string{"dataset"},
	)

	// LockContention counts refresh attempts denied by a held lock
	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresher_lock_contention_total",
			Help: "Refresh attempts denied because another refresh held the lock",
		},
		[]string{"dataset"},
	)

	// PartialCommitTotal counts partial-commit anomalies, the one case where
	// the all-or-nothing guarantee cannot be preserved
	PartialCommitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresher_partial_commit_total",
			Help: "Refresh attempts where a later artifact commit failed after an earlier one succeeded",
		},
		[]string{"dataset"},
	)

	// DatasetLastRefresh tracks the last successful refresh time (unix seconds)
	DatasetLastRefresh = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "refresher_dataset_last_refresh_timestamp",
			Help: "Last successful refresh time as a unix timestamp",
		},
		[]string{"dataset"},
	)

	// DatasetRowCount tracks the row count of the last successful refresh
	DatasetRowCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "refresher_dataset_row_count",
			Help: "Row count of the last successful refresh",
		},
		[]string{"dataset"},
	)

	// ErrorsTotal counts internal errors by component and type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresher_errors_total",
			Help: "Internal errors by component and type",
		},
		[]string{"component", "type"},
	)
)

// RecordError increments the error counter for a component/type pair
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
