package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the reconciler's Prometheus collectors.
type Metrics struct {
	reconciliations *prometheus.CounterVec
	unmatched       *prometheus.GaugeVec
	balanceDiff     prometheus.Gauge
	lastChecked     *prometheus.GaugeVec
	alertsSent      prometheus.Counter
	alertsDropped   prometheus.Counter
	errors          prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = newMetrics()
		prometheus.MustRegister(metrics.collectors()...)
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_monitor_reconciliations_total",
			Help: "Completed reconciliations by kind",
		}, []string{"kind"}),
		unmatched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_monitor_unmatched_events",
			Help: "Events present on one side without a counterpart on the other",
		}, []string{"category", "side"}),
		balanceDiff: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_monitor_balance_diff",
			Help: "Last computed balance difference in whole token units",
		}),
		lastChecked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_monitor_last_checked_seconds",
			Help: "Unix time of the last successful reconciliation by kind",
		}, []string{"kind"}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_monitor_alerts_sent_total",
			Help: "Total number of alerts sent to sinks",
		}),
		alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_monitor_alerts_dropped_total",
			Help: "Total number of alerts dropped (dedupe/rate-limit)",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_monitor_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.reconciliations,
		m.unmatched,
		m.balanceDiff,
		m.lastChecked,
		m.alertsSent,
		m.alertsDropped,
		m.errors,
	}
}

// Reconciled records a completed reconciliation of kind at unix time checkedAt.
func (m *Metrics) Reconciled(kind string, checkedAt int64) {
	if m != nil {
		m.reconciliations.WithLabelValues(kind).Inc()
		m.lastChecked.WithLabelValues(kind).Set(float64(checkedAt))
	}
}

// Unmatched sets the unmatched event count for a category and side.
func (m *Metrics) Unmatched(category, side string, n int) {
	if m != nil {
		m.unmatched.WithLabelValues(category, side).Set(float64(n))
	}
}

// BalanceDiff records the latest balance difference.
func (m *Metrics) BalanceDiff(v float64) {
	if m != nil {
		m.balanceDiff.Set(v)
	}
}

// AlertsSent increments the alerts sent counter.
func (m *Metrics) AlertsSent() {
	if m != nil {
		m.alertsSent.Inc()
	}
}

// AlertsDropped increments the alerts dropped counter.
func (m *Metrics) AlertsDropped() {
	if m != nil {
		m.alertsDropped.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
