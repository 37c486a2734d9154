// Package fc implements the flushing+compaction worker of spec.md
// §4.6: segment derivation bounded by held/fence Dummy nodes, the
// compactability heuristic, the three compaction-result variants, and
// node GC of detached segments via a FIFO dangling-set deque gated on
// min_held_list_version.
package fc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/coldfront/lsmkv/pkg/entry"
	"github.com/coldfront/lsmkv/pkg/entryset"
	"github.com/coldfront/lsmkv/pkg/logging"
	"github.com/coldfront/lsmkv/pkg/lsm"
	"github.com/coldfront/lsmkv/pkg/memlog"
	"github.com/coldfront/lsmkv/pkg/merge"
	"github.com/coldfront/lsmkv/pkg/metrics"
	"github.com/coldfront/lsmkv/pkg/sstable"
	"github.com/coldfront/lsmkv/pkg/unit"
)

// Result is the outcome of one segment compaction attempt (spec.md
// §4.6 "Compaction result").
type Result int

const (
	NoChange Result = iota
	Empty
	Some
)

func (r Result) String() string {
	switch r {
	case NoChange:
		return "none"
	case Empty:
		return "empty"
	default:
		return "some"
	}
}

// danglingSet is a group of nodes detached from the list topology at
// one splice, awaiting a safe min_held_list_version horizon before
// their unit directories are physically freed.
type danglingSet struct {
	nodes                 []*lsm.Node
	detachedAtListVersion uint64
}

// Worker is the flushing+compaction worker for one LSM tree. It
// receives asynchronous "look again" signals on a coalescing,
// bounded-capacity channel (overflow policy: drop newest, per spec.md
// §9) and drains a FIFO deque of dangling sets whenever the held-list
// horizon advances.
type Worker struct {
	tree   *lsm.Tree
	codec  memlog.Codec
	logger logging.Logger
	reg    *metrics.Registry

	signal    chan struct{}
	terminate chan struct{}
	done      chan struct{}

	dangleMu sync.Mutex
	dangling []*danglingSet
}

// New creates a Worker bound to tree. Call Start to run its loop on a
// goroutine.
func New(tree *lsm.Tree, codec memlog.Codec, logger logging.Logger, reg *metrics.Registry) *Worker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	w := &Worker{
		tree:      tree,
		codec:     codec,
		logger:    logger,
		reg:       reg,
		signal:    make(chan struct{}, 1),
		terminate: make(chan struct{}),
		done:      make(chan struct{}),
	}
	tree.State.SetOnMinAdvance(func(uint64) { w.Notify() })
	return w
}

// Notify wakes the worker to look for compactable/freeable work again.
// The channel's capacity-1 buffer implements "drop newest": a pending
// unconsumed signal already promises a fresh look, so a second signal
// before it's drained is redundant.
func (w *Worker) Notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Start runs the worker loop until Terminate is called.
func (w *Worker) Start() {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-w.terminate:
				w.drainDangling()
				return
			case <-w.signal:
				w.RunOnce()
				w.drainDangling()
			}
		}
	}()
}

// Terminate requests the worker stop; in-flight work completes but no
// further compaction passes begin.
func (w *Worker) Terminate() {
	close(w.terminate)
	<-w.done
}

// RunOnce performs one segment-derivation-and-compaction pass,
// re-probing immediately if the walk passed non-held boundaries (so
// adjacent freeable segments coalesce in one notification).
func (w *Worker) RunOnce() {
	for {
		segHead, segTailExclusive, more := w.deriveSegment()
		if segHead == nil {
			return
		}
		result := w.compactSegment(segHead, segTailExclusive)
		if w.reg != nil {
			w.reg.RecordCompaction(result.String(), 0)
		}
		if !more {
			return
		}
	}
}

// deriveSegment walks from head outward past any boundary whose
// hold_count == 0 and is not a fence, folding them into the segment,
// until a held or fence boundary (or end of list) is hit. Returns the
// segment bounds and whether any non-held boundary was folded in (in
// which case the caller should re-probe after compacting).
func (w *Worker) deriveSegment() (head, tailExclusive *lsm.Node, more bool) {
	w.tree.State.Lock()
	head = w.tree.State.HeadLocked()
	w.tree.State.Unlock()
	return deriveSegmentFrom(head)
}

// CompactBelow synchronously compacts the segment strictly older than
// boundary, from boundary's older neighbour down to the first held or
// fence Dummy (or the end of the list); nothing past that Dummy is
// compacted.
// Secondary-index creation calls this (spec.md §4.8 step 4) so its
// fence-bounded scan sees a minimal, mostly-SSTable tail before it
// starts reading.
func (w *Worker) CompactBelow(boundary *lsm.Node) {
	for {
		start := boundary.Older()
		if start == nil {
			return
		}
		segHead, segTailExclusive, more := deriveSegmentFrom(start)
		if segHead == nil {
			return
		}
		result := w.compactSegment(segHead, segTailExclusive)
		if w.reg != nil {
			w.reg.RecordCompaction(result.String(), 0)
		}
		if !more {
			return
		}
	}
}

// deriveSegmentFrom is deriveSegment generalized to start from an
// arbitrary node rather than always the current list head.
func deriveSegmentFrom(start *lsm.Node) (head, tailExclusive *lsm.Node, more bool) {
	n := start
	var tail *lsm.Node
	foldedBoundary := false
	for n != nil {
		if n.IsDummy() {
			if n.Dummy.IsFence.Load() || n.Dummy.HoldCount.Load() > 0 {
				tail = n
				break
			}
			foldedBoundary = true
		}
		n = n.Older()
	}
	if start == tail {
		return nil, nil, false
	}
	return start, tail, foldedBoundary
}

// compactable reports whether the segment [head, tailExclusive)
// contains any memlog unit, or two or more units -- spec.md §4.6's
// intentionally coarse heuristic.
func compactable(head, tailExclusive *lsm.Node) bool {
	count := 0
	for n := head; n != nil && n != tailExclusive; n = n.Older() {
		if n.IsDummy() {
			continue
		}
		count++
		if n.Unit.CommitInfo.DataType == unit.DataTypeMemLog {
			return true
		}
	}
	return count >= 2
}

func (w *Worker) compactSegment(head, tailExclusive *lsm.Node) Result {
	if !compactable(head, tailExclusive) {
		return NoChange
	}

	units := lsm.Units(head, tailExclusive)
	if len(units) == 0 {
		return NoChange
	}

	cvHigh := units[0].CommitInfo.CVHighInclusive
	cvLow := units[len(units)-1].CommitInfo.CVLowInclusive
	maxRN := uint64(0)
	for _, u := range units {
		if u.CommitInfo.ReplacementNum > maxRN {
			maxRN = u.CommitInfo.ReplacementNum
		}
	}

	dropTombstones := tailExclusive == nil // oldest segment of the list

	primaryPairs, secondaryPairs, err := w.mergeUnits(units, dropTombstones)
	if err != nil {
		w.logger.Error("compaction merge failed", logging.Error(err))
		return NoChange
	}
	if len(primaryPairs) == 0 && len(secondaryPairs) == 0 {
		return w.spliceEmpty(head, tailExclusive)
	}

	dir := w.tree.Namer.Path(w.tree.Namer.Next())
	if err := os.MkdirAll(dir, 0755); err != nil {
		w.logger.Error("compaction mkdir failed", logging.Error(err))
		return NoChange
	}

	if len(primaryPairs) > 0 {
		if _, err := sstable.Write(filepath.Join(dir, unit.PrimaryFileName), primaryPairs); err != nil {
			w.logger.Error("compaction sstable write failed", logging.Error(err))
			return NoChange
		}
	}
	for num, pairs := range secondaryPairs {
		if _, err := sstable.Write(filepath.Join(dir, unit.ScndFileName(num)), pairs); err != nil {
			w.logger.Error("compaction sstable write failed", logging.Error(err))
			return NoChange
		}
	}

	ci := unit.CommitInfo{CVHighInclusive: cvHigh, CVLowInclusive: cvLow, ReplacementNum: maxRN + 1, DataType: unit.DataTypeSSTable}
	if err := unit.WriteDigest(dir); err != nil {
		w.logger.Error("compaction digest failed", logging.Error(err))
	}
	if err := unit.WriteCommitInfo(dir, ci); err != nil {
		w.logger.Error("compaction commit-info write failed", logging.Error(err))
		return NoChange
	}

	newUnit, err := loadCompactedUnit(dir, ci, w.codec)
	if err != nil {
		w.logger.Error("compaction reload failed", logging.Error(err))
		return NoChange
	}
	if !w.splice(head, tailExclusive, lsm.NewUnitNode(newUnit)) {
		w.logger.Warn("compaction splice lost the race, discarding output", logging.String("dir", dir))
		_ = os.RemoveAll(dir)
		return NoChange
	}
	return Some
}

// spliceEmpty handles spec.md §4.6's "Empty" compaction result: the
// merged segment produced no surviving rows (every key was tombstoned
// away at the tail). A placeholder, non-fence Dummy takes the
// segment's place; a later pass folds it into the next segment like
// any other non-held, non-fence Dummy.
func (w *Worker) spliceEmpty(head, tailExclusive *lsm.Node) Result {
	if !w.splice(head, tailExclusive, lsm.NewDummyNode()) {
		return NoChange
	}
	return Empty
}

// splice replaces [head, tailExclusive) with newNode (nil collapses the
// segment directly onto tailExclusive), recording every detached node
// as a new dangling set awaiting a safe GC horizon. Returns false if a
// concurrent splice already displaced head, in which case the caller
// must discard its compaction output and let the next derive-and-retry
// pass pick the work back up.
func (w *Worker) splice(head, tailExclusive, newNode *lsm.Node) bool {
	detached, ok := w.tree.Splice(head, tailExclusive, newNode)
	if !ok {
		return false
	}
	if len(detached) == 0 {
		return true
	}
	w.dangleMu.Lock()
	w.dangling = append(w.dangling, &danglingSet{
		nodes:                 detached,
		detachedAtListVersion: detached[0].DetachedAtListVersion(),
	})
	n := len(w.dangling)
	w.dangleMu.Unlock()
	if w.reg != nil {
		w.reg.SetDanglingNodeSets(n)
	}
	return true
}

// drainDangling frees dangling sets whose detach point has fallen
// behind min_held_list_version: no live snapshot can still reach those
// nodes, so their units' directories are safe to remove from disk.
func (w *Worker) drainDangling() {
	min := w.tree.State.MinHeldListVersion()
	w.dangleMu.Lock()
	i := 0
	for i < len(w.dangling) && w.dangling[i].detachedAtListVersion < min {
		i++
	}
	freed := w.dangling[:i]
	w.dangling = w.dangling[i:]
	remaining := len(w.dangling)
	w.dangleMu.Unlock()

	if w.reg != nil {
		w.reg.SetDanglingNodeSets(remaining)
	}
	for _, set := range freed {
		for _, n := range set.nodes {
			if n.IsDummy() || n.Unit == nil {
				continue
			}
			if err := n.Unit.Remove(); err != nil {
				w.logger.Warn("failed to remove detached unit directory",
					logging.String("dir", n.Unit.Dir), logging.Error(err))
			}
		}
	}
}

func loadCompactedUnit(dir string, ci unit.CommitInfo, codec memlog.Codec) (*unit.Unit, error) {
	u := &unit.Unit{Dir: dir, Stage: unit.Committed, CommitInfo: ci, Secondaries: map[uint64]entryset.EntrySet{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case name == unit.PrimaryFileName:
			st, err := sstable.Load(filepath.Join(dir, name), codec)
			if err != nil {
				return nil, err
			}
			u.Primary = st
		case strings.HasPrefix(name, "scnd-"):
			num, err := strconv.ParseUint(strings.TrimPrefix(name, "scnd-"), 16, 64)
			if err != nil {
				continue
			}
			st, err := sstable.Load(filepath.Join(dir, name), codec)
			if err != nil {
				return nil, err
			}
			u.Secondaries[num] = st
		}
	}
	return u, nil
}

// mergeUnits k-way merges every unit's primary entry-set (and each
// secondary index present in any unit) into sorted pairs ready for
// sstable.Write.
func (w *Worker) mergeUnits(units []*unit.Unit, dropTombstones bool) (
	primary []sstable.Pair,
	secondary map[uint64][]sstable.Pair,
	err error,
) {
	var primaryIters []entryset.Iterator
	for _, u := range units {
		if u.Primary == nil {
			continue
		}
		it, err := u.Primary.Range(nil, nil)
		if err != nil {
			return nil, nil, err
		}
		primaryIters = append(primaryIters, it)
	}
	primaryEntries, err := merge.KWayMerge(primaryIters, dropTombstones)
	if err != nil {
		return nil, nil, err
	}
	primary = entriesToPairs(primaryEntries)

	secNums := map[uint64]bool{}
	for _, u := range units {
		for num := range u.Secondaries {
			secNums[num] = true
		}
	}
	nums := maps.Keys(secNums)
	slices.Sort(nums)

	secondary = map[uint64][]sstable.Pair{}
	for _, num := range nums {
		var iters []entryset.Iterator
		for _, u := range units {
			es, ok := u.Secondaries[num]
			if !ok {
				continue
			}
			it, err := es.Range(nil, nil)
			if err != nil {
				return nil, nil, err
			}
			iters = append(iters, it)
		}
		entries, err := merge.KWayMerge(iters, dropTombstones)
		if err != nil {
			return nil, nil, err
		}
		secondary[num] = entriesToPairs(entries)
	}
	return primary, secondary, nil
}

func entriesToPairs(entries []entry.Entry) []sstable.Pair {
	out := make([]sstable.Pair, 0, len(entries))
	for _, e := range entries {
		out = append(out, sstable.Pair{Key: e.Key, Val: e.Val})
	}
	return out
}
