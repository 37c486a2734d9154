// Package entryset names the closed variant of "stored rows of one unit
// for one index" (memlog or SSTable) as an interface, so that pkg/unit
// can hold entry-sets without importing pkg/memlog or pkg/sstable
// directly and without either of those importing each other.
package entryset

import (
	"github.com/coldfront/lsmkv/pkg/entry"
	"github.com/coldfront/lsmkv/pkg/kv"
)

// Iterator walks entries in ascending key order. It is the shape every
// entry-set (memlog or SSTable) and the k-way merge (pkg/merge) speak.
type Iterator interface {
	// Next advances to the next entry and reports whether one exists.
	Next() bool
	// Entry returns the entry at the current position. Valid only
	// after a Next call that returned true.
	Entry() entry.Entry
	Close() error
}

// EntrySet is the stored rows of one unit for one index. Implementations:
// *memlog.Readonly and *sstable.SSTable.
type EntrySet interface {
	// GetOne returns the entry for k if present, or ok=false.
	GetOne(k kv.Key) (entry.Entry, bool, error)
	// Range returns an iterator over [lo, hi] (either bound may be nil
	// for unbounded).
	Range(lo, hi kv.Key) (Iterator, error)
	// Len reports the number of stored rows, for compactability
	// heuristics and tests.
	Len() int
}
