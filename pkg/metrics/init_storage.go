package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStorageMetrics() {
	r.CommitsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmkv_commits_total",
			Help: "Total number of transactions committed",
		},
	)

	r.ConflictsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmkv_conflicts_total",
			Help: "Total number of SSI conflicts detected at commit time",
		},
	)

	r.RetriesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmkv_retries_total",
			Help: "Total number of transaction retries driven by the caller",
		},
	)

	r.AbortsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmkv_aborts_total",
			Help: "Total number of transactions aborted by user closure or retry exhaustion",
		},
	)

	r.CommitDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lsmkv_commit_duration_seconds",
			Help:    "Time spent in the commit-attempt loop",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		},
	)

	r.FlushesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmkv_flushes_total",
			Help: "Total number of memlogs written durably at commit",
		},
	)

	r.CompactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmkv_compactions_total",
			Help: "Total number of F+C segment compaction results",
		},
		[]string{"result"},
	)

	r.CompactionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lsmkv_compaction_duration_seconds",
			Help:    "Time spent merging a segment into one SSTable unit",
			Buckets: []float64{0.001, 0.01, 0.1, 1.0, 10.0},
		},
	)

	r.DanglingNodeSets = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lsmkv_dangling_node_sets",
			Help: "Number of detached node sets awaiting a safe list-version horizon",
		},
	)

	r.HeldListVersions = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lsmkv_held_list_versions",
			Help: "Number of distinct list versions currently held by readers",
		},
	)

	r.CurrentListVersion = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lsmkv_current_list_version",
			Help: "Current list version of the primary LSM",
		},
	)

	r.CurrentCommitVersion = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lsmkv_current_commit_version",
			Help: "Current commit version of the primary LSM",
		},
	)

	r.SICreationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmkv_secondary_index_creations_total",
			Help: "Total number of secondary-index creation attempts",
		},
		[]string{"result"},
	)

	r.SICreationDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lsmkv_secondary_index_creation_duration_seconds",
			Help:    "Time spent materializing a new secondary index",
			Buckets: []float64{0.01, 0.1, 1.0, 10.0, 60.0},
		},
	)
}
