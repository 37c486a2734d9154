package lsm

// Splice performs the mid-list atomic replacement of spec.md §4.6: the
// segment [oldHead, tailExclusive) is unlinked from the visible
// topology and newNode takes its place, or the segment simply collapses
// to tailExclusive if newNode is nil. Returns the detached nodes
// (oldest-to-newest is irrelevant; F+C only needs them as a set), each
// already stamped with the penultimate list version via MarkDetached,
// or ok=false if oldHead is no longer reachable from the
// current head (a concurrent splice already displaced this segment; the
// caller should re-derive and retry).
func (t *Tree) Splice(oldHead, tailExclusive, newNode *Node) (detached []*Node, ok bool) {
	t.State.Lock()
	defer t.State.Unlock()

	var successor *Node
	if newNode != nil {
		newNode.setOlder(tailExclusive)
		successor = newNode
	} else {
		successor = tailExclusive
	}

	if t.State.head == oldHead {
		t.State.head = successor
	} else {
		prev := t.State.head
		for prev != nil && prev.Older() != oldHead {
			prev = prev.Older()
		}
		if prev == nil {
			return nil, false
		}
		prev.setOlder(successor)
	}

	penultimate := t.State.IncrementListVersionLocked()
	for n := oldHead; n != nil && n != tailExclusive; n = n.Older() {
		n.MarkDetached(penultimate)
		detached = append(detached, n)
	}
	return detached, true
}

// InsertAfter publishes newNode immediately after prev without
// detaching anything, used by secondary-index creation to splice its
// output unit in right after the fence Dummy (spec.md §4.8 step 6):
// nothing is removed from the topology, so no list-version bump or
// dangling-set bookkeeping applies.
func (t *Tree) InsertAfter(prev, newNode *Node) {
	t.State.Lock()
	defer t.State.Unlock()
	newNode.setOlder(prev.Older())
	prev.setOlder(newNode)
}
