// Package merge implements the two merge flavors used throughout the
// storage core: a k-way merge across unit iterators from newest to
// oldest (used by F+C compaction and by range reads), and an overlay
// merge of a single optional in-memory memlog over a sequence of
// committed entry-sets (used by transactions to lay staged writes atop
// a snapshot). Adapted from the teacher's compaction_iterator.go
// MergeIterator, generalized from SSTable-only to any entryset.Iterator
// and taught newest-wins tie-breaking plus tombstone-drop-at-tail.
package merge

import (
	"container/heap"

	"github.com/coldfront/lsmkv/pkg/entry"
	"github.com/coldfront/lsmkv/pkg/entryset"
)

// ageSource pairs an iterator with its age: position in the
// newest-to-oldest source list. Smaller age wins ties.
type ageSource struct {
	it  entryset.Iterator
	age int

	hasCur bool
	cur    entry.Entry
}

// mergeHeap is the merge min-heap of sources, ordered by current key
// then by age (smaller age, i.e. newer, sorts first on ties).
type mergeHeap []*ageSource

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	ci, cj := h[i].cur.Key, h[j].cur.Key
	c := ci.Compare(cj)
	if c != 0 {
		return c < 0
	}
	return h[i].age < h[j].age
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*ageSource)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// KWayMerge merges iterators ordered newest-first (iterators[0] is the
// newest unit). dropTombstonesAtTail should be true only when merging
// the oldest segment of the list (segment_tail_exclusive is null): an
// older unit may still resurrect a key if compaction forgot it
// anywhere else.
func KWayMerge(iterators []entryset.Iterator, dropTombstonesAtTail bool) ([]entry.Entry, error) {
	h := make(mergeHeap, 0, len(iterators))
	for age, it := range iterators {
		src := &ageSource{it: it, age: age}
		if it.Next() {
			src.hasCur = true
			src.cur = it.Entry()
			h = append(h, src)
		}
	}
	heap.Init(&h)

	var out []entry.Entry

	for h.Len() > 0 {
		winner := h[0].cur

		// Drain (and discard) every other source whose current key
		// equals the winner's: the heap's key-then-age ordering
		// guarantees the surviving value is the newest source's, and
		// popping every source positioned at this key is exactly the
		// "deduplicate consecutive equal keys" rule.
		for h.Len() > 0 && h[0].cur.Key.Compare(winner.Key) == 0 {
			top := h[0]
			if top.it.Next() {
				top.cur = top.it.Entry()
				heap.Fix(&h, 0)
			} else {
				heap.Pop(&h)
			}
		}

		if winner.IsTombstone() && dropTombstonesAtTail {
			continue
		}
		out = append(out, winner)
	}
	return out, nil
}

// Overlay merges a single optional newer in-memory source (a
// transaction's staging memlog, age 0) with a sequence of committed
// entry-sets ordered newest to oldest (ages 1..N). This is the second
// merge flavor of spec.md §4.4, used by transaction reads to lay
// staged writes atop the snapshot without materializing a combined
// copy. committed entries are never tombstone-dropped here: dropping
// at read time would hide the "transaction sees the committed
// snapshot" contract from a reader that later reads an older key.
func Overlay(staged entryset.Iterator, committed []entryset.Iterator) ([]entry.Entry, error) {
	var iterators []entryset.Iterator
	if staged != nil {
		iterators = append(iterators, staged)
	}
	iterators = append(iterators, committed...)
	return KWayMerge(iterators, false)
}
