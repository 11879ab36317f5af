package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgeproxy/edgeproxy/internal/binding"
	"github.com/edgeproxy/edgeproxy/internal/connstats"
	"github.com/edgeproxy/edgeproxy/internal/routing"
)

// RuntimeCollector reports Go runtime memory/GC/goroutine statistics.
type RuntimeCollector struct {
	goroutines *prometheus.Desc
	memAlloc   *prometheus.Desc
	memTotal   *prometheus.Desc
	memSys     *prometheus.Desc
	gcPause    *prometheus.Desc
	gcRuns     *prometheus.Desc
}

// NewRuntimeCollector creates a runtime-statistics collector.
func NewRuntimeCollector(namespace, subsystem string) *RuntimeCollector {
	return &RuntimeCollector{
		goroutines: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_goroutines"),
			"Number of goroutines",
			nil, nil,
		),
		memAlloc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_memory_alloc_bytes"),
			"Bytes allocated and still in use",
			nil, nil,
		),
		memTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_memory_total_alloc_bytes"),
			"Total bytes allocated (even if freed)",
			nil, nil,
		),
		memSys: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_memory_sys_bytes"),
			"Bytes obtained from system",
			nil, nil,
		),
		gcPause: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_gc_pause_seconds"),
			"GC pause duration",
			nil, nil,
		),
		gcRuns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_gc_runs_total"),
			"Total number of completed GC cycles",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *RuntimeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.goroutines
	ch <- c.memAlloc
	ch <- c.memTotal
	ch <- c.memSys
	ch <- c.gcPause
	ch <- c.gcRuns
}

// Collect implements prometheus.Collector.
func (c *RuntimeCollector) Collect(ch chan<- prometheus.Metric) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue, float64(runtime.NumGoroutine()))
	ch <- prometheus.MustNewConstMetric(c.memAlloc, prometheus.GaugeValue, float64(stats.Alloc))
	ch <- prometheus.MustNewConstMetric(c.memTotal, prometheus.CounterValue, float64(stats.TotalAlloc))
	ch <- prometheus.MustNewConstMetric(c.memSys, prometheus.GaugeValue, float64(stats.Sys))
	ch <- prometheus.MustNewConstMetric(c.gcRuns, prometheus.CounterValue, float64(stats.NumGC))

	if stats.NumGC > 0 {
		ch <- prometheus.MustNewConstMetric(c.gcPause, prometheus.GaugeValue, float64(stats.PauseNs[(stats.NumGC-1)%256])/1e9)
	}
}

// StatsCollector reads the live connstats.Store, routing.Container, and
// binding.Table directly at scrape time instead of requiring every Incr/
// Decr/Install/Put call site to also touch a Prometheus instrument.
type StatsCollector struct {
	stats    *connstats.Store
	routes   *routing.Container
	bindings *binding.Table

	currentConnections *prometheus.Desc
	lastRTT            *prometheus.Desc
	registryVersion    *prometheus.Desc
	registryBackends   *prometheus.Desc
	bindingCount       *prometheus.Desc
}

// NewStatsCollector builds a StatsCollector over the given live state.
func NewStatsCollector(namespace, subsystem string, stats *connstats.Store, routes *routing.Container, bindings *binding.Table) *StatsCollector {
	return &StatsCollector{
		stats:    stats,
		routes:   routes,
		bindings: bindings,
		currentConnections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "backend_current_connections"),
			"Live connection count per backend", []string{"backend_id"}, nil,
		),
		lastRTT: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "backend_last_rtt_milliseconds"),
			"Most recently observed round-trip time per backend", []string{"backend_id"}, nil,
		),
		registryVersion: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "registry_version"),
			"Version of the currently installed routing snapshot", nil, nil,
		),
		registryBackends: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "registry_backend_count"),
			"Number of backends in the currently installed routing snapshot", nil, nil,
		),
		bindingCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "binding_count"),
			"Number of entries in the client affinity table", nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.currentConnections
	ch <- c.lastRTT
	ch <- c.registryVersion
	ch <- c.registryBackends
	ch <- c.bindingCount
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.routes.Current()
	ch <- prometheus.MustNewConstMetric(c.registryVersion, prometheus.GaugeValue, float64(snapshot.Version))
	ch <- prometheus.MustNewConstMetric(c.registryBackends, prometheus.GaugeValue, float64(len(snapshot.Backends)))
	ch <- prometheus.MustNewConstMetric(c.bindingCount, prometheus.GaugeValue, float64(c.bindings.Count()))

	for id, count := range c.stats.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.currentConnections, prometheus.GaugeValue, float64(count), id)
		if ms, ok := c.stats.LastRTT(id); ok {
			ch <- prometheus.MustNewConstMetric(c.lastRTT, prometheus.GaugeValue, float64(ms), id)
		}
	}
}

// Timer measures the duration of an operation against a histogram.
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer starts a Timer against histogram with the given label values.
func NewTimer(histogram *prometheus.HistogramVec, labels ...string) *Timer {
	return &Timer{start: time.Now(), observer: histogram.WithLabelValues(labels...)}
}

// ObserveDuration records the elapsed time since NewTimer and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.observer.Observe(d.Seconds())
	return d
}
