// Package lsm implements the lock-free append-prepend linked list of
// immutable units (spec.md §4.1), list-version bookkeeping (§4.2), and
// the LSM tree load/commit path (§4.5). It is a from-scratch rewrite:
// the teacher's pkg/lsm is a mutex-guarded leveled-compaction engine
// with no lock-free list or multi-version snapshot discipline, so this
// package keeps the teacher's naming, Options, and logging idiom
// while replacing the algorithm entirely.
package lsm

import (
	"sync/atomic"

	"github.com/coldfront/lsmkv/pkg/unit"
)

// Dummy carves the list into F+C-eligible segments. While HoldCount is
// nonzero, F+C will not coalesce across it; while IsFence is true, F+C
// also will not traverse past it (used by secondary-index creation to
// pin a stable snapshot head).
type Dummy struct {
	HoldCount atomic.Uint64
	IsFence   atomic.Bool
}

// Node is one entry of the lock-free list: a payload (either a
// Committed *unit.Unit or a *Dummy) plus an atomically-published
// pointer to the next-older node. Only the LSM mutex holder ever
// mutates Older; readers load it with acquire/sequentially-consistent
// semantics to chase the chain without blocking.
type Node struct {
	Unit  *unit.Unit // nil if this node wraps a Dummy
	Dummy *Dummy     // nil if this node wraps a Committed unit

	older atomic.Pointer[Node]

	// detachedAtListVersion is set once this node is spliced out of
	// the visible topology; it is the penultimate list version at
	// splice time, the horizon node GC (pkg/fc) waits to pass before
	// freeing this node and its unit's directory.
	detachedAtListVersion uint64
	detached              atomic.Bool
}

// NewUnitNode wraps a Committed unit in a fresh list node.
func NewUnitNode(u *unit.Unit) *Node {
	return &Node{Unit: u}
}

// NewDummyNode wraps a fresh, unheld, non-fence Dummy in a list node.
func NewDummyNode() *Node {
	return &Node{Dummy: &Dummy{}}
}

// Older loads the next-older node with sequentially-consistent
// ordering, matching the store used to publish a new node (see
// setOlder).
func (n *Node) Older() *Node {
	return n.older.Load()
}

// setOlder publishes next as n's older pointer. Called only by the
// mutex holder performing a head push or a mid-list splice.
func (n *Node) setOlder(next *Node) {
	n.older.Store(next)
}

// IsDummy reports whether this node wraps a Dummy rather than a unit.
func (n *Node) IsDummy() bool { return n.Dummy != nil }

// MarkDetached stamps the list version at which this node left the
// visible topology, the detached_at_list_version of spec.md §3
// invariant 3.
func (n *Node) MarkDetached(listVersion uint64) {
	n.detachedAtListVersion = listVersion
	n.detached.Store(true)
}

// DetachedAtListVersion returns the stamped list version, valid only
// once MarkDetached has been called.
func (n *Node) DetachedAtListVersion() uint64 {
	return n.detachedAtListVersion
}

// IsDetached reports whether MarkDetached has been called.
func (n *Node) IsDetached() bool { return n.detached.Load() }
