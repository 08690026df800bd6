package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "analyst"

// Metrics holds the workflow collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	routes       *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	sqlAttempts  prometheus.Histogram
	sqlErrors    prometheus.Counter
	confidence   prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: status (complete, degraded, failed)
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Questions answered, by terminal status",
		}, []string{"status"}),

		routes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Routing decisions by route",
		}, []string{"route"}),

		nodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "node_duration_seconds",
			Help:      "Time spent in each workflow node",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"node"}),

		sqlAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "attempts",
			Help:      "SQL executions per request",
			Buckets:   []float64{0, 1, 2, 3},
		}),

		sqlErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sql",
			Name:      "errors_total",
			Help:      "Failed SQL executions",
		}),

		confidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence",
			Help:      "Distribution of answer confidence",
			Buckets:   []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1.0},
		}),
	}
}

func (m *Metrics) ObserveNode(node string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

func (m *Metrics) RecordRoute(route string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(route).Inc()
}

func (m *Metrics) RecordSQLError() {
	if m == nil {
		return
	}
	m.sqlErrors.Inc()
}

// RecordRequest records the outcome of one finished request.
func (m *Metrics) RecordRequest(status string, sqlAttempts int, confidence float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status).Inc()
	m.sqlAttempts.Observe(float64(sqlAttempts))
	m.confidence.Observe(confidence)
}
