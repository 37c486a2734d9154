package txn

import (
	"github.com/coldfront/lsmkv/pkg/coreerrors"
	"github.com/coldfront/lsmkv/pkg/entry"
	"github.com/coldfront/lsmkv/pkg/entryset"
	"github.com/coldfront/lsmkv/pkg/intervalset"
	"github.com/coldfront/lsmkv/pkg/kv"
	"github.com/coldfront/lsmkv/pkg/lsm"
	"github.com/coldfront/lsmkv/pkg/memlog"
	"github.com/coldfront/lsmkv/pkg/merge"
	"github.com/coldfront/lsmkv/pkg/unit"
)

// Txn is one transaction attempt: a snapshot of the list head, held
// list-version, per-dimension interval-sets recording what was
// observed, and an optional staging unit accumulating writes.
type Txn struct {
	db *DB

	snapshotCV     uint64 // cv_high_inclusive of this attempt's snapshot
	cvLowExclusive uint64 // 0 until the first re-snapshot during commit-attempt
	head           *lsm.Node
	listVersion    uint64
	listVersionSet bool

	primary    *intervalset.Set
	secondary  map[uint64]*intervalset.Set // index number -> observed SV intervals

	staging          *unit.Unit
	stagingPrimary   *memlog.Writable
	stagingSecondary map[uint64]*memlog.Writable
}

// beginTxn implements spec.md §4.9 "Begin".
func beginTxn(db *DB) *Txn {
	snap := db.Tree.State.SnapshotHead()
	return &Txn{
		db:             db,
		snapshotCV:     snap.CVHigh,
		head:           snap.Head,
		listVersion:    snap.ListVersion,
		listVersionSet: true,
		primary:        intervalset.New(),
		secondary:      map[uint64]*intervalset.Set{},
	}
}

func (t *Txn) secondaryIntervals(num uint64) *intervalset.Set {
	s, ok := t.secondary[num]
	if !ok {
		s = intervalset.New()
		t.secondary[num] = s
	}
	return s
}

// GetPKOne reads the current value at pk, observing the staging
// overlay, and records the point read for conflict detection.
func (t *Txn) GetPKOne(pk kv.Key) (kv.Value, bool, error) {
	t.primary.Add(pk, pk)
	entries, err := t.readPrimary(pk, pk)
	if err != nil {
		return nil, false, err
	}
	if len(entries) == 0 || entries[0].IsTombstone() {
		return nil, false, nil
	}
	return entries[0].Val.Value, true, nil
}

// GetPKRange reads every live primary entry in [lo, hi] (either bound
// nil for unbounded) and records the range for conflict detection.
func (t *Txn) GetPKRange(lo, hi kv.Key) ([]entry.Entry, error) {
	t.primary.Add(lo, hi)
	entries, err := t.readPrimary(lo, hi)
	if err != nil {
		return nil, err
	}
	return dropTombstones(entries), nil
}

// GetSVRange reads every live secondary-index entry of the given
// secondary index spec in [lo, hi] and records the range against that
// index's interval-set. Returns ErrNotReadable if the index doesn't
// exist or is still being created.
func (t *Txn) GetSVRange(spec kv.SVSpec, lo, hi kv.Key) ([]entry.Entry, error) {
	idx, ok := t.db.DBState.Find(spec)
	if !ok || !idx.IsReadable {
		return nil, coreerrors.ErrNotReadable
	}
	t.secondaryIntervals(idx.Num).Add(lo, hi)
	entries, err := t.readSecondary(idx.Num, lo, hi)
	if err != nil {
		return nil, err
	}
	return dropTombstones(entries), nil
}

// Put implements spec.md §4.9 "Write (put)": read the current value
// (observing the staging overlay), compute each defined secondary
// index's (old_sv, new_sv) delta, and append the primary write plus any
// secondary tombstone/insert to the staging memlogs.
func (t *Txn) Put(pk kv.Key, newVal kv.OptionalValue) error {
	oldEntries, err := t.readPrimary(pk, pk)
	if err != nil {
		return err
	}
	var oldVal kv.OptionalValue
	hadOld := false
	if len(oldEntries) > 0 && !oldEntries[0].IsTombstone() {
		oldVal = oldEntries[0].Val
		hadOld = true
	}

	if t.db.Extractor != nil {
		indexes := t.db.DBState.AllReadable()
		for _, idx := range indexes {
			var oldSV, newSV kv.Key
			var haveOld, haveNew bool
			if hadOld {
				oldSV, haveOld = t.db.Extractor.Extract(idx.Spec, oldVal.Value)
			}
			if !newVal.IsTombstone() {
				newSV, haveNew = t.db.Extractor.Extract(idx.Spec, newVal.Value)
			}
			if haveOld && (!haveNew || oldSV.Compare(newSV) != 0) {
				w, err := t.stagingSecondaryWriter(idx.Num)
				if err != nil {
					return err
				}
				if err := w.Put(kv.CompositeKey{SV: oldSV, PK: pk}, kv.None()); err != nil {
					return err
				}
			}
			if haveNew && (!haveOld || oldSV.Compare(newSV) != 0) {
				w, err := t.stagingSecondaryWriter(idx.Num)
				if err != nil {
					return err
				}
				if err := w.Put(kv.CompositeKey{SV: newSV, PK: pk}, kv.Some(newVal.Value)); err != nil {
					return err
				}
			}
		}
	}

	w, err := t.stagingPrimaryWriter()
	if err != nil {
		return err
	}
	return w.Put(pk, newVal)
}

func (t *Txn) ensureStaging() error {
	if t.staging != nil {
		return nil
	}
	u, err := newStagingUnit(t.db)
	if err != nil {
		return err
	}
	t.staging = u
	return nil
}

func (t *Txn) stagingPrimaryWriter() (*memlog.Writable, error) {
	if t.stagingPrimary != nil {
		return t.stagingPrimary, nil
	}
	if err := t.ensureStaging(); err != nil {
		return nil, err
	}
	w, err := memlog.NewWritable(t.staging.Dir, unit.PrimaryFileName)
	if err != nil {
		return nil, err
	}
	t.stagingPrimary = w
	return w, nil
}

func (t *Txn) stagingSecondaryWriter(num uint64) (*memlog.Writable, error) {
	if t.stagingSecondary == nil {
		t.stagingSecondary = map[uint64]*memlog.Writable{}
	}
	if w, ok := t.stagingSecondary[num]; ok {
		return w, nil
	}
	if err := t.ensureStaging(); err != nil {
		return nil, err
	}
	w, err := memlog.NewWritable(t.staging.Dir, unit.ScndFileName(num))
	if err != nil {
		return nil, err
	}
	t.stagingSecondary[num] = w
	return w, nil
}

func dropTombstones(entries []entry.Entry) []entry.Entry {
	out := make([]entry.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsTombstone() {
			out = append(out, e)
		}
	}
	return out
}

func (t *Txn) readPrimary(lo, hi kv.Key) ([]entry.Entry, error) {
	var iters []entryset.Iterator
	if t.stagingPrimary != nil {
		it, err := t.stagingPrimary.Range(lo, hi)
		if err != nil {
			return nil, err
		}
		iters = append(iters, it)
	}
	for _, u := range lsm.Units(t.head, nil) {
		if u.Primary == nil {
			continue
		}
		it, err := u.Primary.Range(lo, hi)
		if err != nil {
			return nil, err
		}
		iters = append(iters, it)
	}
	return merge.KWayMerge(iters, false)
}

func (t *Txn) readSecondary(num uint64, lo, hi kv.Key) ([]entry.Entry, error) {
	var iters []entryset.Iterator
	if w, ok := t.stagingSecondary[num]; ok {
		it, err := w.Range(lo, hi)
		if err != nil {
			return nil, err
		}
		iters = append(iters, it)
	}
	for _, u := range lsm.Units(t.head, nil) {
		es, ok := u.Secondaries[num]
		if !ok {
			continue
		}
		it, err := es.Range(lo, hi)
		if err != nil {
			return nil, err
		}
		iters = append(iters, it)
	}
	return merge.KWayMerge(iters, false)
}
