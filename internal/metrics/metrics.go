package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stationwatch"

// Metrics holds the Prometheus counters and histograms for ingestion, alerting
// and the HTTP and MQTT transports.
type Metrics struct {
	ReadingsIngested prometheus.Counter
	IngestDuration   prometheus.Histogram
	IngestFailures   *prometheus.CounterVec // labels: kind={validation,persistence}

	// Alert pipeline metrics.
	AlertsCreated         *prometheus.CounterVec // labels: type, severity
	AlertsSuppressed      *prometheus.CounterVec // labels: type
	AlertProcessingErrors *prometheus.CounterVec // labels: type
	AlertsResolved        prometheus.Counter

	StationTouchFailures prometheus.Counter
	StationsDeleted      prometheus.Counter
	StationDeleteAborts  prometheus.Counter

	RecordsPurged   *prometheus.CounterVec // labels: table={measurements,audit_logs}
	AuditSinkErrors *prometheus.CounterVec // labels: sink={db,kafka}

	MQTTMessages *prometheus.CounterVec // labels: outcome={stored,rejected,failed}

	HTTPRequests *prometheus.CounterVec   // labels: method, route, status
	HTTPDuration *prometheus.HistogramVec // labels: method, route
}

func build() *Metrics {
	return &Metrics{
		ReadingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Total readings persisted.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of a reading ingestion including alert evaluation.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		IngestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Rejected or failed ingestions by error kind.",
		}, []string{"kind"}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "System alerts persisted by type and severity.",
		}, []string{"type", "severity"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alert candidates dropped by the debounce window.",
		}, []string{"type"}),
		AlertProcessingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_processing_errors_total",
			Help:      "Rule or debounce failures by alert type.",
		}, []string{"type"}),
		AlertsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_resolved_total",
			Help:      "Resolve operations applied to system alerts.",
		}),
		StationTouchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "station_touch_failures_total",
			Help:      "Failed best-effort last_seen updates.",
		}),
		StationsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stations_deleted_total",
			Help:      "Stations removed with their dependent records.",
		}),
		StationDeleteAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "station_delete_aborts_total",
			Help:      "Station deletions rolled back.",
		}),
		RecordsPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_purged_total",
			Help:      "Rows removed by the retention purge.",
		}, []string{"table"}),
		AuditSinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_sink_errors_total",
			Help:      "Audit events a sink failed to record.",
		}, []string{"sink"}),
		MQTTMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_messages_total",
			Help:      "Telemetry messages received over MQTT by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReadingsIngested,
		m.IngestDuration,
		m.IngestFailures,
		m.AlertsCreated,
		m.AlertsSuppressed,
		m.AlertProcessingErrors,
		m.AlertsResolved,
		m.StationTouchFailures,
		m.StationsDeleted,
		m.StationDeleteAborts,
		m.RecordsPurged,
		m.AuditSinkErrors,
		m.MQTTMessages,
		m.HTTPRequests,
		m.HTTPDuration,
	}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := build()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := build()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
