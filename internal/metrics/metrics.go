package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the query engine
type Metrics struct {
	// Query executor
	QueriesTotal     *prometheus.CounterVec
	QueryDuration    *prometheus.HistogramVec
	QueryErrorsTotal *prometheus.CounterVec
	SupersededTotal  *prometheus.CounterVec
	DisplayedRecords *prometheus.GaugeVec
	PaginationNoops  *prometheus.CounterVec

	// Export serializer
	ExportsTotal          *prometheus.CounterVec
	ExportRows            *prometheus.HistogramVec
	ExportsTruncatedTotal *prometheus.CounterVec
	ExportErrorsTotal     *prometheus.CounterVec

	// Annotation workflow
	CommentsSubmittedTotal prometheus.Counter
	CommentErrorsTotal     prometheus.Counter

	// Filter state persistence
	StateWritesTotal      prometheus.Counter
	StateWriteErrorsTotal prometheus.Counter

	// Connection-status indicator
	ServiceUp      prometheus.Gauge
	PingDuration   prometheus.Histogram
	PingLatencyP95 prometheus.Gauge
	PingLatencyP99 prometheus.Gauge
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// Get returns the singleton instance of the engine metrics
func Get() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

// newMetrics creates and registers all metrics (internal)
func newMetrics() *Metrics {
	kind := []string{"kind"}

	return &Metrics{
		QueriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recordscope_queries_total",
			Help: "Total number of filter queries issued",
		}, kind),
		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recordscope_query_duration_seconds",
			Help:    "Duration of filter queries",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, kind),
		QueryErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recordscope_query_errors_total",
			Help: "Total number of failed filter queries",
		}, kind),
		SupersededTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recordscope_query_superseded_total",
			Help: "Responses discarded because a newer query was issued",
		}, kind),
		DisplayedRecords: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recordscope_displayed_records",
			Help: "Records on the currently displayed page",
		}, kind),
		PaginationNoops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recordscope_pagination_noops_total",
			Help: "Page or limit changes ignored because they were out of range",
		}, kind),

		ExportsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recordscope_exports_total",
			Help: "Total number of CSV files produced",
		}, kind),
		ExportRows: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recordscope_export_rows",
			Help:    "Rows written per CSV export",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9), // 1 to ~65k
		}, kind),
		ExportsTruncatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recordscope_exports_truncated_total",
			Help: "Exports cut at the export ceiling",
		}, kind),
		ExportErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recordscope_export_errors_total",
			Help: "Exports that produced no file",
		}, kind),

		CommentsSubmittedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recordscope_comments_submitted_total",
			Help: "Comments created through the annotation workflow",
		}),
		CommentErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recordscope_comment_errors_total",
			Help: "Comment submissions rejected by the Query Service",
		}),

		StateWritesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recordscope_state_writes_total",
			Help: "Durable filter state writes attempted",
		}),
		StateWriteErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recordscope_state_write_errors_total",
			Help: "Durable filter state writes that failed and were swallowed",
		}),

		ServiceUp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "recordscope_query_service_up",
			Help: "1 when the last connection check succeeded",
		}),
		PingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "recordscope_query_service_ping_seconds",
			Help:    "Duration of connection checks",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		PingLatencyP95: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "recordscope_query_service_ping_p95_seconds",
			Help: "95th percentile of recent connection check latency",
		}),
		PingLatencyP99: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "recordscope_query_service_ping_p99_seconds",
			Help: "99th percentile of recent connection check latency",
		}),
	}
}

// RecordQuery records a query with its duration and outcome
func (m *Metrics) RecordQuery(kind string, duration time.Duration, err error) {
	m.QueriesTotal.WithLabelValues(kind).Inc()
	m.QueryDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err != nil {
		m.QueryErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// RecordSuperseded records a discarded out-of-order response
func (m *Metrics) RecordSuperseded(kind string) {
	m.SupersededTotal.WithLabelValues(kind).Inc()
}

// UpdateDisplayed sets the number of displayed records
func (m *Metrics) UpdateDisplayed(kind string, count int) {
	m.DisplayedRecords.WithLabelValues(kind).Set(float64(count))
}

// RecordPaginationNoop records an ignored navigation request
func (m *Metrics) RecordPaginationNoop(kind string) {
	m.PaginationNoops.WithLabelValues(kind).Inc()
}

// RecordExport records a produced file
func (m *Metrics) RecordExport(kind string, rows int, truncated bool) {
	m.ExportsTotal.WithLabelValues(kind).Inc()
	m.ExportRows.WithLabelValues(kind).Observe(float64(rows))
	if truncated {
		m.ExportsTruncatedTotal.WithLabelValues(kind).Inc()
	}
}

// RecordExportError records an export that produced no file
func (m *Metrics) RecordExportError(kind string) {
	m.ExportErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordComment records the outcome of a comment submission
func (m *Metrics) RecordComment(err error) {
	if err != nil {
		m.CommentErrorsTotal.Inc()
		return
	}
	m.CommentsSubmittedTotal.Inc()
}

// RecordStateWrite records a durable state write
func (m *Metrics) RecordStateWrite(err error) {
	m.StateWritesTotal.Inc()
	if err != nil {
		m.StateWriteErrorsTotal.Inc()
	}
}

// RecordPing records a connection check
func (m *Metrics) RecordPing(duration time.Duration, err error) {
	m.PingDuration.Observe(duration.Seconds())
	if err != nil {
		m.ServiceUp.Set(0)
		return
	}
	m.ServiceUp.Set(1)
}

// UpdatePingPercentiles updates connection latency percentile metrics
func (m *Metrics) UpdatePingPercentiles(p95, p99 time.Duration) {
	m.PingLatencyP95.Set(p95.Seconds())
	m.PingLatencyP99.Set(p99.Seconds())
}
