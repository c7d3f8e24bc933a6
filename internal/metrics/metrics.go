// Package metrics provides Prometheus metrics for monitoring the analysis
// service.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts analysis requests by signal and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urldater_requests_total",
			Help: "Total number of analysis requests processed",
		},
		[]string{"signal", "status"},
	)

	// RequestDuration tracks request duration by signal.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "urldater_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"signal"},
	)

	// BrowserPoolCapacity shows the configured pool size.
	BrowserPoolCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "urldater_browser_pool_capacity",
			Help: "Configured browser pool capacity",
		},
	)

	// BrowserPoolLive shows currently live browser instances.
	BrowserPoolLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "urldater_browser_pool_live",
			Help: "Live browser instances (leased plus idle)",
		},
	)

	// BrowserPoolIdle shows idle browser instances awaiting reuse.
	BrowserPoolIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "urldater_browser_pool_idle",
			Help: "Idle browser instances in the pool",
		},
	)

	// BrowserPoolTimeouts counts acquire timeouts by cause.
	BrowserPoolTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urldater_browser_pool_timeouts_total",
			Help: "Pool acquire timeouts by cause",
		},
		[]string{"cause"},
	)

	// DiscoveryTierResults counts which discovery tier produced results.
	DiscoveryTierResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "urldater_discovery_tier_results_total",
			Help: "Discovery outcomes by winning tier",
		},
		[]string{"tier"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "urldater_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "urldater_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "urldater_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "urldater_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		BrowserPoolCapacity,
		BrowserPoolLive,
		BrowserPoolIdle,
		BrowserPoolTimeouts,
		DiscoveryTierResults,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory
// metrics until stopCh closes.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records a completed analysis request.
func RecordRequest(signal, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(signal, status).Inc()
	RequestDuration.WithLabelValues(signal).Observe(duration.Seconds())
}

// RecordPoolTimeout records an acquire timeout.
// Cause is "timeout" or "memory_pressure".
func RecordPoolTimeout(cause string) {
	BrowserPoolTimeouts.WithLabelValues(cause).Inc()
}

// RecordTierResult records which discovery tier produced the winning
// results. Tier is "probe", "network" or "dom"; "none" means nothing was
// found.
func RecordTierResult(tier string) {
	DiscoveryTierResults.WithLabelValues(tier).Inc()
}

// UpdatePoolMetrics updates browser pool gauges.
func UpdatePoolMetrics(capacity, live, idle int) {
	BrowserPoolCapacity.Set(float64(capacity))
	BrowserPoolLive.Set(float64(live))
	BrowserPoolIdle.Set(float64(idle))
}
