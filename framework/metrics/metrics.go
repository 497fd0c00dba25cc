// Package metrics exposes boot-observability collectors: scan statistics,
// per-service startup outcomes and the middleware chain size. Resolution
// logic never consumes these; they exist for the observability collaborator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomkit/loom/framework/scanner"
)

// Collector holds the framework's boot metrics behind its own registry so an
// embedding application's metrics stay separate.
type Collector struct {
	registry *prometheus.Registry

	modulesScanned  *prometheus.CounterVec
	scanDuration    prometheus.Gauge
	servicesStarted prometheus.Gauge
	startupFailures prometheus.Counter
	middlewareChain prometheus.Gauge
}

// NewCollector creates and registers the framework collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		modulesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_modules_scanned_total",
			Help: "Modules seen by the boot scan, by status.",
		}, []string{"status"}),
		scanDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loom_scan_duration_seconds",
			Help: "Wall-clock duration of the boot module scan.",
		}),
		servicesStarted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loom_services_initialized",
			Help: "Services that completed initialization at boot.",
		}),
		startupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loom_startup_failures_total",
			Help: "Lifecycle failures recorded during startup.",
		}),
		middlewareChain: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loom_middleware_chain_size",
			Help: "Entries in the resolved middleware chain.",
		}),
	}
	c.registry.MustRegister(
		c.modulesScanned,
		c.scanDuration,
		c.servicesStarted,
		c.startupFailures,
		c.middlewareChain,
	)
	return c
}

// ObserveScan records the aggregate of a boot scan.
func (c *Collector) ObserveScan(stats scanner.Stats) {
	c.modulesScanned.WithLabelValues(string(scanner.StatusImported)).Add(float64(stats.Imported))
	c.modulesScanned.WithLabelValues(string(scanner.StatusAlreadyLoaded)).Add(float64(stats.AlreadyLoaded))
	c.modulesScanned.WithLabelValues(string(scanner.StatusFailed)).Add(float64(stats.Failed))
	c.scanDuration.Set(stats.Duration.Seconds())
}

// ObserveStartup records boot outcomes.
func (c *Collector) ObserveStartup(initialized, failures, chainSize int) {
	c.servicesStarted.Set(float64(initialized))
	c.startupFailures.Add(float64(failures))
	c.middlewareChain.Set(float64(chainSize))
}

// Handler serves the framework metrics in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
