package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Task outcomes per run. Watch for: error/skipped counts on any task.
	TaskRunsTotal *prometheus.CounterVec

	// Wall-clock time per task. The weather extraction task dominates; watch
	// its p95 for upstream degradation.
	TaskDurationSeconds *prometheus.HistogramVec

	// Rows written per table per run. Watch for: sudden drops in
	// bronze_weather (failing lookups shrink the silver join).
	RowsWrittenTotal *prometheus.CounterVec

	// OpenWeatherMap API call rate. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Customers dropped because their weather lookup failed after retries.
	// Each dropped customer disappears from silver_sales for the run.
	WeatherLookupsDroppedTotal prometheus.Counter

	// Cache hits for weather lookups by backend.
	CacheHitsTotal *prometheus.CounterVec

	// Circuit breaker state per guarded upstream (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	TaskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskRunsTotal",
			Help: "Task completions by outcome (success, error, skipped)",
		},
		[]string{"task", "status"},
	)
	TaskDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskDurationSeconds",
			Help:    "Task wall-clock duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"task"},
	)
	RowsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowsWrittenTotal",
			Help: "Rows written to the store per table",
		},
		[]string{"table"},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	WeatherLookupsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherLookupsDroppedTotal",
			Help: "Customers excluded from bronze_weather after lookup failure",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Weather lookup cache hits by backend",
		},
		[]string{"cacheType"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)

	registry.MustRegister(
		TaskRunsTotal, TaskDurationSeconds, RowsWrittenTotal,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		WeatherLookupsDroppedTotal,
		CacheHitsTotal, CircuitBreakerState,
	)
}

// ObserveTask records one task completion with its outcome and duration.
func ObserveTask(task, status string, d time.Duration) {
	TaskRunsTotal.WithLabelValues(task, status).Inc()
	if status != "skipped" {
		TaskDurationSeconds.WithLabelValues(task).Observe(d.Seconds())
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
