package merge

import (
	"testing"

	"github.com/coldfront/lsmkv/pkg/entry"
	"github.com/coldfront/lsmkv/pkg/entryset"
	"github.com/coldfront/lsmkv/pkg/kv"
)

// sliceIter is a fixture entryset.Iterator over a pre-sorted in-memory
// slice of entries, standing in for memlog/sstable iterators in tests.
type sliceIter struct {
	entries []entry.Entry
	idx     int
}

func newSliceIter(pairs ...entry.Entry) *sliceIter {
	return &sliceIter{entries: pairs, idx: -1}
}

func (s *sliceIter) Next() bool {
	s.idx++
	return s.idx < len(s.entries)
}

func (s *sliceIter) Entry() entry.Entry { return s.entries[s.idx] }
func (s *sliceIter) Close() error       { return nil }

func put(key string, val string) entry.Entry {
	return entry.NewBorrowed(kv.RawKey(key), kv.Some(kv.RawValue(val)))
}

func del(key string) entry.Entry {
	return entry.NewBorrowed(kv.RawKey(key), kv.None())
}

func keysOf(entries []entry.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Key.Bytes())
	}
	return out
}

func TestKWayMergeNewestWins(t *testing.T) {
	newest := newSliceIter(put("a", "newval"))
	oldest := newSliceIter(put("a", "oldval"))

	out, err := KWayMerge([]entryset.Iterator{newest, oldest}, false)
	if err != nil {
		t.Fatalf("KWayMerge: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d entries, want 1", len(out))
	}
	if string(out[0].Val.Value.Bytes()) != "newval" {
		t.Errorf("winner value = %q, want %q (newest source should win)", out[0].Val.Value.Bytes(), "newval")
	}
}

func TestKWayMergeOrdersAscending(t *testing.T) {
	a := newSliceIter(put("c", "1"), put("e", "1"))
	b := newSliceIter(put("a", "1"), put("d", "1"))

	out, err := KWayMerge([]entryset.Iterator{a, b}, false)
	if err != nil {
		t.Fatalf("KWayMerge: %v", err)
	}
	want := []string{"a", "c", "d", "e"}
	got := keysOf(out)
	if len(got) != len(want) {
		t.Fatalf("got keys %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keysOf(out) = %v, want %v", got, want)
			break
		}
	}
}

func TestKWayMergeDropsTombstonesAtTail(t *testing.T) {
	only := newSliceIter(del("a"), put("b", "1"))

	out, err := KWayMerge([]entryset.Iterator{only}, true)
	if err != nil {
		t.Fatalf("KWayMerge: %v", err)
	}
	if len(out) != 1 || string(out[0].Key.Bytes()) != "b" {
		t.Errorf("tombstone for a should have been dropped at the tail, got %v", keysOf(out))
	}
}

func TestKWayMergeKeepsTombstonesNotAtTail(t *testing.T) {
	only := newSliceIter(del("a"), put("b", "1"))

	out, err := KWayMerge([]entryset.Iterator{only}, false)
	if err != nil {
		t.Fatalf("KWayMerge: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2 (tombstone preserved)", len(out))
	}
	if !out[0].IsTombstone() {
		t.Error("first entry should be the preserved tombstone for a")
	}
}

func TestKWayMergeNewerTombstoneShadowsOlderValue(t *testing.T) {
	newest := newSliceIter(del("a"))
	oldest := newSliceIter(put("a", "old"))

	out, err := KWayMerge([]entryset.Iterator{newest, oldest}, true)
	if err != nil {
		t.Fatalf("KWayMerge: %v", err)
	}
	// dropTombstonesAtTail only applies to the winner after dedup; the
	// winning (newest) entry is still the tombstone, so it's dropped.
	if len(out) != 0 {
		t.Errorf("got %d entries, want 0 (newest tombstone wins and is dropped at tail)", len(out))
	}
}

func TestOverlayLaysStagedAtopCommitted(t *testing.T) {
	staged := newSliceIter(put("a", "staged"))
	committedNewer := newSliceIter(put("a", "committed-new"), put("b", "1"))
	committedOlder := newSliceIter(put("c", "1"))

	out, err := Overlay(staged, []entryset.Iterator{committedNewer, committedOlder})
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	want := map[string]string{"a": "staged", "b": "1", "c": "1"}
	if len(out) != len(want) {
		t.Fatalf("got %d entries, want %d", len(out), len(want))
	}
	for _, e := range out {
		k := string(e.Key.Bytes())
		if e.Val.IsTombstone() {
			t.Errorf("unexpected tombstone for key %q", k)
			continue
		}
		if got := string(e.Val.Value.Bytes()); got != want[k] {
			t.Errorf("key %q = %q, want %q", k, got, want[k])
		}
	}
}

func TestOverlayWithNilStaged(t *testing.T) {
	committed := newSliceIter(put("a", "1"))
	out, err := Overlay(nil, []entryset.Iterator{committed})
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if len(out) != 1 || string(out[0].Key.Bytes()) != "a" {
		t.Errorf("got %v, want single entry for key a", keysOf(out))
	}
}

func TestOverlayNeverDropsTombstones(t *testing.T) {
	committedOldest := newSliceIter(del("a"))
	out, err := Overlay(nil, []entryset.Iterator{committedOldest})
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if len(out) != 1 || !out[0].IsTombstone() {
		t.Error("Overlay must never drop tombstones, even from the oldest committed source")
	}
}
