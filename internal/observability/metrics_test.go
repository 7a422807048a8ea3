package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across the pipeline packages.
func TestMetrics_Usable(t *testing.T) {
	TaskRunsTotal.WithLabelValues("etl_sales", "success").Inc()
	TaskRunsTotal.WithLabelValues("extract_weather", "error").Inc()
	TaskDurationSeconds.WithLabelValues("etl_sales").Observe(0.2)
	RowsWrittenTotal.WithLabelValues("bronze_customers").Add(10)
	WeatherAPICallsTotal.WithLabelValues("success").Inc()
	WeatherAPICallsTotal.WithLabelValues("error").Inc()
	WeatherAPIDuration.WithLabelValues("success").Observe(0.1)
	WeatherAPIRetriesTotal.Inc()
	WeatherLookupsDroppedTotal.Inc()
	CacheHitsTotal.WithLabelValues("in_memory").Inc()
}

func TestObserveTask(t *testing.T) {
	ObserveTask("load_orders", "success", 50*time.Millisecond)
	ObserveTask("load_orders", "error", 10*time.Millisecond)
	// Skipped tasks have no meaningful duration; only the counter moves.
	ObserveTask("process_total_sales", "skipped", 0)
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "taskRunsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
