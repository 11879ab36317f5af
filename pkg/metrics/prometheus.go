package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the global container of push-based Prometheus instruments for
// the proxy daemon's data plane. Pull-based gauges that mirror live state
// (connection counts, RTT, registry/binding sizes) are owned by
// StatsCollector instead, scraped on demand rather than set here.
type Metrics struct {
	SelectionsTotal *prometheus.CounterVec
	DialDuration    *prometheus.HistogramVec
	AcceptErrors    prometheus.Counter
	BytesForwarded  *prometheus.CounterVec

	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics constructs and registers every instrument under namespace/
// subsystem and sets it as the process-wide default.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		SelectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "selections_total",
				Help:      "Backend selections, labeled by affinity hit/miss and geo-score tier",
			},
			[]string{"outcome", "geo_tier"},
		),

		DialDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dial_duration_seconds",
				Help:      "Time to establish a backend connection",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"backend_id", "outcome"},
		),

		AcceptErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "accept_errors_total",
				Help:      "Errors returned by the listener's Accept call",
			},
		),

		BytesForwarded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "bytes_forwarded_total",
				Help:      "Bytes copied between client and backend",
			},
			[]string{"direction"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service build information",
			},
			[]string{"version"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the process-wide metrics, lazily initializing them with the
// default namespace if InitMetrics was never called.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("edgeproxy", "")
	}
	return defaultMetrics
}

// RecordSelection records a backend selection outcome.
func (m *Metrics) RecordSelection(outcome, geoTier string) {
	m.SelectionsTotal.WithLabelValues(outcome, geoTier).Inc()
}

// RecordDial records the outcome and duration of a backend dial attempt.
func (m *Metrics) RecordDial(backendID, outcome string, d time.Duration) {
	m.DialDuration.WithLabelValues(backendID, outcome).Observe(d.Seconds())
}

// RecordBytesForwarded records bytes copied in one direction.
func (m *Metrics) RecordBytesForwarded(direction string, n int) {
	m.BytesForwarded.WithLabelValues(direction).Add(float64(n))
}

// IncAcceptErrors increments the listener accept-error counter.
func (m *Metrics) IncAcceptErrors() {
	m.AcceptErrors.Inc()
}

// SetServiceInfo sets the build-version info gauge.
func (m *Metrics) SetServiceInfo(version string) {
	m.ServiceInfo.WithLabelValues(version).Set(1)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
