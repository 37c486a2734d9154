package metrics

import (
	"time"
)

// RecordCommit records a successful transaction commit.
func (r *Registry) RecordCommit(duration time.Duration) {
	r.CommitsTotal.Inc()
	r.CommitDuration.Observe(duration.Seconds())
}

// RecordConflict records an SSI conflict detected during a commit attempt.
func (r *Registry) RecordConflict() {
	r.ConflictsTotal.Inc()
}

// RecordRetry records the driver retrying a transaction after a conflict.
func (r *Registry) RecordRetry() {
	r.RetriesTotal.Inc()
}

// RecordAbort records a transaction ending in abort (user choice or retry exhaustion).
func (r *Registry) RecordAbort() {
	r.AbortsTotal.Inc()
}

// RecordFlush records a memlog being durably written at commit time.
func (r *Registry) RecordFlush() {
	r.FlushesTotal.Inc()
}

// RecordCompaction records the outcome of one F+C segment compaction.
func (r *Registry) RecordCompaction(result string, duration time.Duration) {
	r.CompactionsTotal.WithLabelValues(result).Inc()
	r.CompactionDuration.Observe(duration.Seconds())
}

// SetDanglingNodeSets reports the current size of the F+C node-GC deque.
func (r *Registry) SetDanglingNodeSets(n int) {
	r.DanglingNodeSets.Set(float64(n))
}

// SetListVersionGauges reports the current held/list/commit version counters.
func (r *Registry) SetListVersionGauges(held int, listVersion, commitVersion uint64) {
	r.HeldListVersions.Set(float64(held))
	r.CurrentListVersion.Set(float64(listVersion))
	r.CurrentCommitVersion.Set(float64(commitVersion))
}

// RecordSICreation records the outcome of a secondary-index creation attempt.
func (r *Registry) RecordSICreation(result string, duration time.Duration) {
	r.SICreationsTotal.WithLabelValues(result).Inc()
	r.SICreationDuration.Observe(duration.Seconds())
}
