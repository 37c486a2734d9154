// Package unit implements the ownership boundary of files on disk that
// jointly represent a slice of the LSM: the three-stage unit lifecycle
// (Staging, Compacted, Committed), commit-info serialization, and the
// anti-collision directory namer.
package unit

import (
	"os"

	"github.com/coldfront/lsmkv/pkg/entryset"
)

const (
	PrimaryFileName = "prim.kv"
	scndFilePrefix  = "scnd-"
)

// ScndFileName returns the data filename for a secondary index number
// inside a unit directory, encoding the 16-hex-digit index number.
func ScndFileName(indexNum uint64) string {
	return scndFilePrefix + NamerPad(indexNum)
}

// NamerPad renders v as the same 16-hex-digit form the Namer issues, so
// secondary index numbers and unit names share one textual convention.
func NamerPad(v uint64) string {
	const hexdigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexdigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// Stage is the lifecycle variant of a Unit.
type Stage int

const (
	// Staging: one writable memlog per index, used by exactly one
	// transaction, removed on close.
	Staging Stage = iota
	// Compacted: temporary, holds freshly written SSTable(s), no
	// commit-info yet.
	Compacted
	// Committed: has commit-info on disk; immutable.
	Committed
)

// Unit owns a directory holding its data file(s) and (once Committed)
// a commit-info descriptor. A Committed unit holds an optional primary
// entry-set and a mapping from secondary-index number to secondary
// entry-set.
type Unit struct {
	Dir   string
	Stage Stage

	// CommitInfo is valid only when Stage == Committed.
	CommitInfo CommitInfo

	Primary     entryset.EntrySet // nil if this unit has no primary data
	Secondaries map[uint64]entryset.EntrySet
}

// NewStaging creates a fresh staging unit directory for a transaction.
func NewStaging(dir string) (*Unit, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Unit{Dir: dir, Stage: Staging, Secondaries: map[uint64]entryset.EntrySet{}}, nil
}

// Commit marks u Committed, recording its commit-info. The caller is
// responsible for having already durably written ci to disk via
// WriteCommitInfo before calling Commit, since commit-info presence on
// disk (not this in-memory flag) is the actual commit record.
func (u *Unit) Commit(ci CommitInfo) {
	u.Stage = Committed
	u.CommitInfo = ci
}

// Close discards a Staging unit: its directory is removed, as required
// on transaction close or abort. Committed and Compacted units are not
// affected by Close; their directories persist until an explicit GC
// removal (see pkg/fc).
func (u *Unit) Close() error {
	if u.Stage != Staging {
		return nil
	}
	return os.RemoveAll(u.Dir)
}

// Remove physically deletes this unit's directory from disk,
// regardless of stage. Used by load-time overlap eviction (pkg/lsm)
// and by F+C node GC once a detached unit is provably unreachable.
func (u *Unit) Remove() error {
	return os.RemoveAll(u.Dir)
}
