package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	if r.CommitsTotal == nil {
		t.Error("CommitsTotal not initialized")
	}
	if r.ConflictsTotal == nil {
		t.Error("ConflictsTotal not initialized")
	}
	if r.CompactionsTotal == nil {
		t.Error("CompactionsTotal not initialized")
	}
	if r.registry == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	// Should return the same instance
	r1 := DefaultRegistry()
	r2 := DefaultRegistry()

	if r1 != r2 {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordCommit(t *testing.T) {
	r := NewRegistry()

	r.RecordCommit(10 * time.Millisecond)
	r.RecordCommit(20 * time.Millisecond)

	var metric dto.Metric
	if err := r.CommitsTotal.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("CommitsTotal = %v, want 2", metric.Counter.GetValue())
	}
}

func TestRecordConflictAndRetry(t *testing.T) {
	r := NewRegistry()

	r.RecordConflict()
	r.RecordRetry()
	r.RecordRetry()

	var metric dto.Metric
	if err := r.ConflictsTotal.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("ConflictsTotal = %v, want 1", metric.Counter.GetValue())
	}

	if err := r.RetriesTotal.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("RetriesTotal = %v, want 2", metric.Counter.GetValue())
	}
}

func TestRecordCompaction(t *testing.T) {
	r := NewRegistry()

	r.RecordCompaction("some", 5*time.Millisecond)
	r.RecordCompaction("some", 7*time.Millisecond)
	r.RecordCompaction("none", 1*time.Millisecond)

	someCounter, err := r.CompactionsTotal.GetMetricWithLabelValues("some")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	var metric dto.Metric
	if err := someCounter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("some compactions = %v, want 2", metric.Counter.GetValue())
	}
}

func TestSetListVersionGauges(t *testing.T) {
	r := NewRegistry()

	r.SetListVersionGauges(3, 42, 100)

	tests := []struct {
		name     string
		gauge    prometheus.Gauge
		expected float64
	}{
		{"HeldListVersions", r.HeldListVersions, 3},
		{"CurrentListVersion", r.CurrentListVersion, 42},
		{"CurrentCommitVersion", r.CurrentCommitVersion, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var metric dto.Metric
			if err := tt.gauge.Write(&metric); err != nil {
				t.Fatalf("Failed to write metric: %v", err)
			}
			if metric.Gauge.GetValue() != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, metric.Gauge.GetValue(), tt.expected)
			}
		})
	}
}

func TestRecordSICreation(t *testing.T) {
	r := NewRegistry()

	r.RecordSICreation("ok", 100*time.Millisecond)
	r.RecordSICreation("busy", 1*time.Millisecond)

	okCounter, err := r.SICreationsTotal.GetMetricWithLabelValues("ok")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	var metric dto.Metric
	if err := okCounter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("ok SI creations = %v, want 1", metric.Counter.GetValue())
	}
}

func TestSystemMetrics(t *testing.T) {
	r := NewRegistry()

	r.UptimeSeconds.Set(3600)
	r.GoRoutines.Set(50)
	r.MemoryAllocBytes.Set(1024 * 1024 * 100)
	r.MemorySysBytes.Set(1024 * 1024 * 200)

	tests := []struct {
		name     string
		gauge    prometheus.Gauge
		expected float64
	}{
		{"UptimeSeconds", r.UptimeSeconds, 3600},
		{"GoRoutines", r.GoRoutines, 50},
		{"MemoryAllocBytes", r.MemoryAllocBytes, 1024 * 1024 * 100},
		{"MemorySysBytes", r.MemorySysBytes, 1024 * 1024 * 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var metric dto.Metric
			if err := tt.gauge.Write(&metric); err != nil {
				t.Fatalf("Failed to write metric: %v", err)
			}
			if metric.Gauge.GetValue() != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, metric.Gauge.GetValue(), tt.expected)
			}
		})
	}
}

func TestGetPrometheusRegistry(t *testing.T) {
	r := NewRegistry()
	promRegistry := r.GetPrometheusRegistry()

	if promRegistry == nil {
		t.Fatal("GetPrometheusRegistry() returned nil")
	}

	metrics, err := promRegistry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	if len(metrics) == 0 {
		t.Error("No metrics registered")
	}

	expectedMetrics := []string{
		"lsmkv_commits_total",
		"lsmkv_conflicts_total",
		"lsmkv_uptime_seconds",
	}

	metricNames := make(map[string]bool)
	for _, m := range metrics {
		metricNames[m.GetName()] = true
	}

	for _, expected := range expectedMetrics {
		if !metricNames[expected] {
			t.Errorf("Expected metric %s not found", expected)
		}
	}
}

func TestMetricNaming(t *testing.T) {
	r := NewRegistry()
	promRegistry := r.GetPrometheusRegistry()

	metrics, err := promRegistry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, m := range metrics {
		name := m.GetName()
		if !strings.HasPrefix(name, "lsmkv_") {
			t.Errorf("Metric %s does not have lsmkv_ prefix", name)
		}
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.RecordCommit(1 * time.Millisecond)
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	var metric dto.Metric
	if err := r.CommitsTotal.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 1000 {
		t.Errorf("CommitsTotal = %v, want 1000", metric.Counter.GetValue())
	}
}

func BenchmarkRecordCommit(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.RecordCommit(10 * time.Millisecond)
	}
}

func BenchmarkSetListVersionGauges(b *testing.B) {
	r := NewRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.SetListVersionGauges(i%8, uint64(i), uint64(i))
	}
}
