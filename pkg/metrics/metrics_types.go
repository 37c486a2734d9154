package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the storage core
type Registry struct {
	// Commit path metrics
	CommitsTotal   prometheus.Counter
	ConflictsTotal prometheus.Counter
	RetriesTotal   prometheus.Counter
	AbortsTotal    prometheus.Counter
	CommitDuration prometheus.Histogram

	// Flushing + compaction metrics
	FlushesTotal       prometheus.Counter
	CompactionsTotal   *prometheus.CounterVec // label "result": none|empty|some
	CompactionDuration prometheus.Histogram
	DanglingNodeSets   prometheus.Gauge

	// List/version bookkeeping metrics
	HeldListVersions     prometheus.Gauge
	CurrentListVersion   prometheus.Gauge
	CurrentCommitVersion prometheus.Gauge

	// Secondary-index creation metrics
	SICreationsTotal   *prometheus.CounterVec // label "result": sicreate records ok|error (a Busy refusal is not recorded; AlreadyExists counts as error)
	SICreationDuration prometheus.Histogram

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	// Initialize all metrics
	r.initStorageMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
