package lsm

import (
	"github.com/coldfront/lsmkv/pkg/unit"
)

// Commit performs the "prepend one Committed node and bump counter"
// operation of spec.md §4.5/§4.9: under the LSM mutex, observe the
// current commit version; if the newest committed version (one below
// it) still equals expectedCV (the caller's snapshot_cv), assign the
// current version to u, bump the counter, durably write u's
// commit-info, and prepend a node wrapping u. Returns the commit
// version assigned to u and true on success,
// or the current commit version and false if expectedCV was stale (the
// caller must re-snapshot and run conflict detection before retrying).
func (t *Tree) Commit(u *unit.Unit, expectedCV uint64, dataType unit.DataType) (newCV uint64, committed bool, err error) {
	t.State.Lock()
	defer t.State.Unlock()

	curr := t.State.CurrCommitVersionLocked()
	if curr-1 != expectedCV {
		return curr, false, nil
	}

	newCV = curr
	t.State.BumpCommitVersionLocked()
	ci := unit.CommitInfo{
		CVHighInclusive: newCV,
		CVLowInclusive:  newCV,
		ReplacementNum:  1,
		DataType:        dataType,
	}
	if err := unit.WriteCommitInfo(u.Dir, ci); err != nil {
		return curr, false, err
	}
	u.Commit(ci)
	t.State.PushLocked(NewUnitNode(u))
	return newCV, true, nil
}

// Units walks from head down to (but excluding) tailExclusive,
// returning the Committed units in newest-to-oldest order. tailExclusive
// may be nil to walk to the end of the list. Dummy nodes are skipped.
func Units(head, tailExclusive *Node) []*unit.Unit {
	var out []*unit.Unit
	for n := head; n != nil && n != tailExclusive; n = n.Older() {
		if n.IsDummy() {
			continue
		}
		out = append(out, n.Unit)
	}
	return out
}

// UnitsInCVWindow returns, among the units reachable from head, those
// whose commit-info CV interval lies within (cvLowExclusive,
// cvHighInclusive] -- the window the SSI conflict test scans (spec.md
// §4.9).
func UnitsInCVWindow(head *Node, cvLowExclusive, cvHighInclusive uint64) []*unit.Unit {
	var out []*unit.Unit
	for n := head; n != nil; n = n.Older() {
		if n.IsDummy() {
			continue
		}
		ci := n.Unit.CommitInfo
		if ci.CVLowInclusive > cvHighInclusive {
			continue
		}
		if ci.CVHighInclusive <= cvLowExclusive {
			break
		}
		out = append(out, n.Unit)
	}
	return out
}
