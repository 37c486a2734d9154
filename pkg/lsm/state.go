package lsm

import (
	"sync"

	"github.com/coldfront/lsmkv/pkg/logging"
	"github.com/coldfront/lsmkv/pkg/metrics"
)

// State is the LSM mutex-guarded state of spec.md §3: the list head,
// the commit-version counter, and list-version bookkeeping. Head
// mutation, counter bumps, and splices are all serialized by mu; list
// traversal outside the mutex is lock-free (see Node.Older).
type State struct {
	mu sync.Mutex

	head *Node

	currCommitVersion uint64
	currListVersion   uint64
	heldListVersions  map[uint64]int // multiset: version -> hold count
	minHeldListVersion uint64

	logger  logging.Logger
	metrics *metrics.Registry

	// onMinAdvance is invoked (outside the lock) whenever
	// minHeldListVersion increases, so F+C can retry draining its
	// dangling-set deque. nil is fine; Tree wires this up.
	onMinAdvance func(newMin uint64)
}

// NewState creates an empty LSM state with curr_commit_version = 1 (no
// units yet), matching "or to 1 on an empty store" from spec.md §4.5.
func NewState(logger logging.Logger, reg *metrics.Registry) *State {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &State{
		currCommitVersion: 1,
		heldListVersions:  map[uint64]int{},
		logger:            logger,
		metrics:           reg,
	}
}

// Snapshot is a (head_pointer, CV window, held list-version) bundle
// captured atomically under the LSM mutex.
type Snapshot struct {
	Head        *Node
	CVHigh      uint64 // snapshot_commit_version
	ListVersion uint64
}

// SnapshotHead returns the current head and CV under the mutex and
// holds the current list version on the caller's behalf. The caller
// must eventually call Unhold(snap.ListVersion).
func (s *State) SnapshotHead() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.holdCurrentLocked()
	return Snapshot{Head: s.head, CVHigh: s.currCommitVersion - 1, ListVersion: v}
}

// CurrCommitVersion returns the current commit version under the mutex.
func (s *State) CurrCommitVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currCommitVersion
}

// HoldCurrentListVersion bumps the hold count for curr_list_version
// and returns it, the "hold_current" call a reader makes at begin.
func (s *State) HoldCurrentListVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdCurrentLocked()
}

func (s *State) holdCurrentLocked() uint64 {
	v := s.currListVersion
	s.heldListVersions[v]++
	return v
}

// Unhold releases a previously held list version, recomputing
// min_held_list_version if the released bucket drained. If the minimum
// advanced, it calls onMinAdvance (when set) with the new minimum
// after releasing the mutex.
func (s *State) Unhold(v uint64) {
	var advanced bool
	var newMin uint64
	s.mu.Lock()
	s.heldListVersions[v]--
	if s.heldListVersions[v] <= 0 {
		delete(s.heldListVersions, v)
		advanced, newMin = s.advanceMinLocked()
	}
	if s.metrics != nil {
		s.metrics.SetListVersionGauges(len(s.heldListVersions), s.currListVersion, s.currCommitVersion)
	}
	s.mu.Unlock()

	if advanced && s.onMinAdvance != nil {
		s.onMinAdvance(newMin)
	}
}

// advanceMinLocked scans upward from min_held_list_version while it is
// strictly less than curr_list_version and absent from the held
// multiset, per spec.md §4.2. Caller must hold mu.
func (s *State) advanceMinLocked() (advanced bool, newMin uint64) {
	start := s.minHeldListVersion
	for s.minHeldListVersion < s.currListVersion {
		if _, held := s.heldListVersions[s.minHeldListVersion]; held {
			break
		}
		s.minHeldListVersion++
	}
	return s.minHeldListVersion > start, s.minHeldListVersion
}

// MinHeldListVersion returns the current safe-free horizon.
func (s *State) MinHeldListVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minHeldListVersion
}

// SetMetrics wires a metrics registry into the state after load, since
// Load itself doesn't take one (keeping pkg/lsm's load path usable in
// contexts with no metrics registry, e.g. tests).
func (s *State) SetMetrics(reg *metrics.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = reg
}

// SetOnMinAdvance wires the notification callback used to wake F+C.
func (s *State) SetOnMinAdvance(f func(newMin uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMinAdvance = f
}

// Lock/Unlock expose the LSM mutex directly for the commit path
// (pkg/lsm.Commit) and F+C splices (pkg/fc), which both need
// multi-step critical sections (e.g. "observe CV, then maybe commit").
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// HeadLocked returns the current head; caller must hold the mutex.
func (s *State) HeadLocked() *Node { return s.head }

// CurrCommitVersionLocked returns the current commit version; caller
// must hold the mutex.
func (s *State) CurrCommitVersionLocked() uint64 { return s.currCommitVersion }

// CurrListVersionLocked returns the current list version; caller must
// hold the mutex.
func (s *State) CurrListVersionLocked() uint64 { return s.currListVersion }

// PushLocked prepends node at head with no CAS loop needed: head
// mutation is serialized by the mutex the caller already holds.
func (s *State) PushLocked(node *Node) {
	node.setOlder(s.head)
	s.head = node
}

// BumpCommitVersionLocked increments and returns the new commit
// version; caller must hold the mutex.
func (s *State) BumpCommitVersionLocked() uint64 {
	s.currCommitVersion++
	return s.currCommitVersion
}

// ReserveCommitVersionLocked consumes and returns the next commit
// version without publishing a unit at it yet, used by secondary-index
// creation to reserve its output CV (spec.md §4.8 step 3).
func (s *State) ReserveCommitVersionLocked() uint64 {
	v := s.currCommitVersion
	s.BumpCommitVersionLocked()
	return v
}

// IncrementListVersionLocked bumps curr_list_version and returns the
// previous ("penultimate") value, which callers stamp onto nodes just
// detached from the visible topology.
func (s *State) IncrementListVersionLocked() uint64 {
	prev := s.currListVersion
	s.currListVersion++
	return prev
}

// Logger exposes the configured logger for callers in this package's
// sibling packages (pkg/fc, pkg/sicreate) that take a *State directly.
func (s *State) Logger() logging.Logger { return s.logger }

// Metrics exposes the configured metrics registry, possibly nil.
func (s *State) Metrics() *metrics.Registry { return s.metrics }
