package txn

import (
	"github.com/coldfront/lsmkv/pkg/coreerrors"
	"github.com/coldfront/lsmkv/pkg/entryset"
	"github.com/coldfront/lsmkv/pkg/kv"
	"github.com/coldfront/lsmkv/pkg/lsm"
	"github.com/coldfront/lsmkv/pkg/unit"
)

// commitAttempt implements spec.md §4.9 "Commit attempt": flush the
// staging memlog once, then loop trying to publish it at the current
// commit version, re-snapshotting and running the conflict test
// whenever the version has moved on since begin.
func (t *Txn) commitAttempt() error {
	if t.staging == nil {
		return nil
	}
	if t.stagingPrimary != nil {
		if err := t.stagingPrimary.Flush(); err != nil {
			return err
		}
	}
	for _, w := range t.stagingSecondary {
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if err := t.freezeStaging(); err != nil {
		return err
	}

	for {
		_, committed, err := t.db.Tree.Commit(t.staging, t.snapshotCV, unit.DataTypeMemLog)
		if err != nil {
			return err
		}
		if committed {
			t.db.Tree.State.Unhold(t.listVersion)
			t.listVersionSet = false
			if t.db.Metrics != nil {
				t.db.Metrics.RecordCommit(0)
			}
			t.staging = nil // ownership passed to the list; nothing left to clean up
			return nil
		}

		oldListVersion := t.listVersion
		t.cvLowExclusive = t.snapshotCV

		newSnap := t.db.Tree.State.SnapshotHead()
		t.head = newSnap.Head
		t.snapshotCV = newSnap.CVHigh
		t.listVersion = newSnap.ListVersion
		t.db.Tree.State.Unhold(oldListVersion)

		conflict, err := t.conflictCheck()
		if err != nil {
			return err
		}
		if conflict {
			if t.db.Metrics != nil {
				t.db.Metrics.RecordConflict()
			}
			return coreerrors.ErrConflict
		}
	}
}

// freezeStaging converts the staging memlogs into the Readonly views
// t.staging presents as a unit once lsm.Tree.Commit marks it Committed.
// Commit-info itself is written by Tree.Commit, not here.
func (t *Txn) freezeStaging() error {
	if t.stagingPrimary != nil {
		t.staging.Primary = t.stagingPrimary.Freeze()
		if err := t.stagingPrimary.Close(); err != nil {
			return err
		}
	}
	t.staging.Secondaries = map[uint64]entryset.EntrySet{}
	for num, w := range t.stagingSecondary {
		t.staging.Secondaries[num] = w.Freeze()
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

// conflictCheck implements spec.md §4.9 "Conflict test": for each of
// this transaction's dependency dimensions (primary plus every
// secondary index it read), merge its observed intervals and sweep
// them against the keys present in units newly observed in
// (cv_low_exclusive, snapshot_cv_high_inclusive].
func (t *Txn) conflictCheck() (bool, error) {
	newUnits := lsm.UnitsInCVWindow(t.head, t.cvLowExclusive, t.snapshotCV)
	if len(newUnits) == 0 {
		return false, nil
	}

	var primaryKeys []kv.Key
	secondaryKeys := map[uint64][]kv.Key{}
	for _, u := range newUnits {
		if u.Primary != nil {
			keys, err := entrySetKeys(u.Primary)
			if err != nil {
				return false, err
			}
			primaryKeys = append(primaryKeys, keys...)
		}
		for num, es := range u.Secondaries {
			keys, err := entrySetKeys(es)
			if err != nil {
				return false, err
			}
			for i, k := range keys {
				if ck, ok := k.(kv.CompositeKey); ok {
					keys[i] = ck.SV
				}
			}
			secondaryKeys[num] = append(secondaryKeys[num], keys...)
		}
	}

	if !t.primary.Empty() && t.primary.OverlapsWith(primaryKeys) {
		return true, nil
	}
	for num, keys := range secondaryKeys {
		s, ok := t.secondary[num]
		if !ok || s.Empty() {
			continue
		}
		if s.OverlapsWith(keys) {
			return true, nil
		}
	}
	return false, nil
}

func entrySetKeys(es entryset.EntrySet) ([]kv.Key, error) {
	it, err := es.Range(nil, nil)
	if err != nil {
		return nil, err
	}
	var out []kv.Key
	for it.Next() {
		out = append(out, it.Entry().Key)
	}
	return out, it.Close()
}

// closeAbort implements the non-commit half of spec.md §4.9 "Retry and
// close": release the staging unit's directory and the held
// list-version on every exit path that isn't a successful commit.
func (t *Txn) closeAbort() {
	if t.stagingPrimary != nil {
		_ = t.stagingPrimary.Close()
	}
	for _, w := range t.stagingSecondary {
		_ = w.Close()
	}
	if t.staging != nil {
		_ = t.staging.Close()
	}
	if t.listVersionSet {
		t.db.Tree.State.Unhold(t.listVersion)
		t.listVersionSet = false
	}
}
