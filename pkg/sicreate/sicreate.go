// Package sicreate implements the 8-step secondary-index creation
// protocol of spec.md §4.8: fence the list, reserve an output commit
// version, ask F+C to compact the tail, scan+extract+flush intermediate
// SSTables, k-merge them into one output unit, splice it in after the
// fence, and flip the index readable in the catalog. At most one
// creation job runs at a time per database, enforced by a try-locked
// mutex that surfaces Busy to a concurrent caller (spec.md §5).
package sicreate

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coldfront/lsmkv/pkg/coreerrors"
	"github.com/coldfront/lsmkv/pkg/dbstate"
	"github.com/coldfront/lsmkv/pkg/entryset"
	"github.com/coldfront/lsmkv/pkg/fc"
	"github.com/coldfront/lsmkv/pkg/kv"
	"github.com/coldfront/lsmkv/pkg/logging"
	"github.com/coldfront/lsmkv/pkg/lsm"
	"github.com/coldfront/lsmkv/pkg/memlog"
	"github.com/coldfront/lsmkv/pkg/merge"
	"github.com/coldfront/lsmkv/pkg/metrics"
	"github.com/coldfront/lsmkv/pkg/sstable"
	"github.com/coldfront/lsmkv/pkg/unit"
)

// BatchSize bounds the in-memory accumulator before it is sorted and
// flushed to an intermediate SSTable (spec.md §4.8 step 5's
// "size-bounded in-memory map").
const BatchSize = 4096

// Job drives secondary-index creation for one database.
type Job struct {
	tree      *lsm.Tree
	fc        *fc.Worker
	dbstate   *dbstate.State
	codec     memlog.Codec
	extractor kv.SubValueExtractor
	workDir   string
	logger    logging.Logger
	reg       *metrics.Registry

	mu sync.Mutex // try-locked: at most one creation job at a time
}

// New creates a Job. workDir is the scnd_idx_creation parent directory
// (spec.md §6's on-disk layout); it is created if missing.
func New(tree *lsm.Tree, worker *fc.Worker, db *dbstate.State, codec memlog.Codec,
	extractor kv.SubValueExtractor, workDir string, logger logging.Logger, reg *metrics.Registry) (*Job, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, err
	}
	return &Job{
		tree: tree, fc: worker, dbstate: db, codec: codec, extractor: extractor,
		workDir: workDir, logger: logger, reg: reg,
	}, nil
}

// Create runs the full 8-step protocol for spec, returning Busy if
// another creation job is already in flight, or AlreadyExistsError if
// spec is already defined (readable or still being created).
func (j *Job) Create(spec kv.SVSpec) (err error) {
	if !j.mu.TryLock() {
		return coreerrors.ErrBusy
	}
	defer j.mu.Unlock()

	start := recordStart(j.reg)

	// Steps 1-2: BeginCreate atomically fails fast if spec exists
	// (read-check) and otherwise inserts it defined-but-not-readable
	// under the write lock, folding spec.md's separate read-lock
	// fail-fast check and write-lock insert into dbstate's one
	// mutation entry point.
	num, err := j.dbstate.BeginCreate(spec)
	if err != nil {
		recordResult(j.reg, start, "error")
		return err
	}

	// Step 3: push a fence Dummy at head; reserve the output CV.
	j.tree.State.Lock()
	fenceNode := lsm.NewDummyNode()
	fenceNode.Dummy.IsFence.Store(true)
	j.tree.State.PushLocked(fenceNode)
	outputCV := j.tree.State.ReserveCommitVersionLocked()
	j.tree.State.Unlock()

	// Step 4: compact everything below the fence, synchronously.
	j.fc.CompactBelow(fenceNode)

	// Step 5: scan, extract, flush intermediates, k-merge.
	pairs, err := j.scanAndMerge(fenceNode, spec)
	if err != nil {
		recordResult(j.reg, start, "error")
		return err
	}

	var newUnit *unit.Unit
	if len(pairs) > 0 {
		newUnit, err = j.writeOutputUnit(pairs, num, outputCV)
		if err != nil {
			recordResult(j.reg, start, "error")
			return err
		}
	}

	// Step 6: splice the new unit in immediately after the fence (if
	// step 5 found no matching entries, nothing is spliced); unfence.
	if newUnit != nil {
		j.tree.InsertAfter(fenceNode, lsm.NewUnitNode(newUnit))
	}
	fenceNode.Dummy.IsFence.Store(false)

	// Step 7: mark the index readable.
	if err := j.dbstate.MarkReadable(spec); err != nil {
		recordResult(j.reg, start, "error")
		return err
	}

	// Step 8: wake F+C so the former fence can be coalesced.
	j.fc.Notify()

	recordResult(j.reg, start, "ok")
	return nil
}

func recordStart(reg *metrics.Registry) time.Time { return time.Now() }

func recordResult(reg *metrics.Registry, start time.Time, result string) {
	if reg != nil {
		reg.RecordSICreation(result, time.Since(start))
	}
}

// Delete removes a secondary index from the catalog. CreationInProgress
// is surfaced if the index is still defined-but-not-readable.
func (j *Job) Delete(spec kv.SVSpec) error {
	return j.dbstate.Delete(spec)
}

// scanAndMerge implements spec.md §4.8 step 5: read every primary entry
// older than the fence, extract its sub-value, spill sorted batches to
// intermediate SSTables, and k-merge them into one sorted run of
// (sv,pk)->pv pairs.
func (j *Job) scanAndMerge(fenceNode *lsm.Node, spec kv.SVSpec) ([]sstable.Pair, error) {
	jobDirNamer, err := unit.NamerFor(j.workDir)
	if err != nil {
		return nil, err
	}
	jobDir := jobDirNamer.Path(jobDirNamer.Next())
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return nil, err
	}
	defer os.RemoveAll(jobDir)

	fileNamer, err := unit.NamerFor(jobDir)
	if err != nil {
		return nil, err
	}

	units := lsm.Units(fenceNode.Older(), nil)
	var iters []entryset.Iterator
	for _, u := range units {
		if u.Primary == nil {
			continue
		}
		it, err := u.Primary.Range(nil, nil)
		if err != nil {
			return nil, err
		}
		iters = append(iters, it)
	}
	live, err := merge.KWayMerge(iters, true)
	if err != nil {
		return nil, err
	}

	var intermediates []string
	var batch []sstable.Pair
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		sort.Slice(batch, func(i, k int) bool { return batch[i].Key.Compare(batch[k].Key) < 0 })
		path := filepath.Join(jobDir, fileNamer.Next())
		if _, err := sstable.Write(path, batch); err != nil {
			return err
		}
		intermediates = append(intermediates, path)
		batch = batch[:0]
		return nil
	}

	for _, e := range live {
		if e.IsTombstone() {
			continue
		}
		sv, ok := j.extractor.Extract(spec, e.Val.Value)
		if !ok {
			continue
		}
		batch = append(batch, sstable.Pair{
			Key: kv.CompositeKey{SV: sv, PK: e.Key},
			Val: kv.Some(e.Val.Value),
		})
		if len(batch) >= BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(intermediates) == 0 {
		return nil, nil
	}

	var mergeIters []entryset.Iterator
	for _, path := range intermediates {
		st, err := sstable.Load(path, j.codec)
		if err != nil {
			return nil, err
		}
		it, err := st.Range(nil, nil)
		if err != nil {
			return nil, err
		}
		mergeIters = append(mergeIters, it)
	}
	merged, err := merge.KWayMerge(mergeIters, true)
	if err != nil {
		return nil, err
	}
	out := make([]sstable.Pair, 0, len(merged))
	for _, e := range merged {
		out = append(out, sstable.Pair{Key: e.Key, Val: e.Val})
	}
	return out, nil
}

func (j *Job) writeOutputUnit(pairs []sstable.Pair, indexNum, outputCV uint64) (*unit.Unit, error) {
	dir := j.tree.Namer.Path(j.tree.Namer.Next())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	filename := unit.ScndFileName(indexNum)
	st, err := sstable.Write(filepath.Join(dir, filename), pairs)
	if err != nil {
		return nil, err
	}
	ci := unit.CommitInfo{CVHighInclusive: outputCV, CVLowInclusive: outputCV, ReplacementNum: 1, DataType: unit.DataTypeSSTable}
	if err := unit.WriteDigest(dir); err != nil {
		return nil, err
	}
	if err := unit.WriteCommitInfo(dir, ci); err != nil {
		return nil, err
	}
	return &unit.Unit{
		Dir: dir, Stage: unit.Committed, CommitInfo: ci,
		Secondaries: map[uint64]entryset.EntrySet{indexNum: st},
	}, nil
}
