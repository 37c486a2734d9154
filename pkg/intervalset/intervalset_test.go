package intervalset

import (
	"testing"

	"github.com/coldfront/lsmkv/pkg/kv"
)

func k(s string) kv.Key { return kv.RawKey(s) }

func TestEmptySet(t *testing.T) {
	s := New()
	if !s.Empty() {
		t.Error("fresh Set should be Empty")
	}
	if s.OverlapsWith([]kv.Key{k("a")}) {
		t.Error("empty Set should never overlap")
	}
}

func TestAddPointInterval(t *testing.T) {
	s := New()
	s.Add(k("m"), k("m"))
	if s.Empty() {
		t.Error("Set with one Add should not be Empty")
	}
	if !s.OverlapsWith([]kv.Key{k("m")}) {
		t.Error("point interval [m, m] should overlap point m")
	}
	if s.OverlapsWith([]kv.Key{k("n")}) {
		t.Error("point interval [m, m] should not overlap point n")
	}
}

func TestMergeCoalescesOverlapping(t *testing.T) {
	s := New()
	s.Add(k("a"), k("c"))
	s.Add(k("b"), k("e"))
	s.Add(k("g"), k("h"))

	merged := s.Merge()
	if len(merged) != 2 {
		t.Fatalf("Merge() produced %d intervals, want 2 (disjoint)", len(merged))
	}
	if merged[0].Lo.Compare(k("a")) != 0 || merged[0].Hi.Compare(k("e")) != 0 {
		t.Errorf("first merged interval = [%v, %v], want [a, e]", merged[0].Lo, merged[0].Hi)
	}
	if merged[1].Lo.Compare(k("g")) != 0 || merged[1].Hi.Compare(k("h")) != 0 {
		t.Errorf("second merged interval = [%v, %v], want [g, h]", merged[1].Lo, merged[1].Hi)
	}
}

func TestMergeIdempotent(t *testing.T) {
	s := New()
	s.Add(k("a"), k("c"))
	s.Add(k("b"), k("d"))

	first := s.Merge()
	second := s.Merge()
	if len(first) != len(second) {
		t.Fatalf("Merge() not idempotent: %d intervals then %d", len(first), len(second))
	}
}

func TestUnboundedLo(t *testing.T) {
	s := New()
	s.Add(nil, k("m"))
	if !s.OverlapsWith([]kv.Key{k("aaaaaa")}) {
		t.Error("unbounded-lo interval [-inf, m] should overlap any key <= m")
	}
	if s.OverlapsWith([]kv.Key{k("z")}) {
		t.Error("interval [-inf, m] should not overlap a key past m")
	}
}

func TestUnboundedHi(t *testing.T) {
	s := New()
	s.Add(k("m"), nil)
	if !s.OverlapsWith([]kv.Key{k("zzzzzz")}) {
		t.Error("unbounded-hi interval [m, +inf] should overlap any key >= m")
	}
	if s.OverlapsWith([]kv.Key{k("a")}) {
		t.Error("interval [m, +inf] should not overlap a key before m")
	}
}

func TestFullyUnboundedOverlapsEverything(t *testing.T) {
	s := New()
	s.Add(nil, nil)
	if !s.OverlapsWith([]kv.Key{k("anything")}) {
		t.Error("[-inf, +inf] should overlap every key")
	}
}

func TestOverlapsWithMultiplePointsOneHit(t *testing.T) {
	s := New()
	s.Add(k("d"), k("f"))
	points := []kv.Key{k("a"), k("b"), k("e"), k("z")}
	if !s.OverlapsWith(points) {
		t.Error("points containing one inside [d, f] should overlap")
	}
}

func TestOverlapsWithNoHits(t *testing.T) {
	s := New()
	s.Add(k("d"), k("f"))
	points := []kv.Key{k("a"), k("b"), k("z")}
	if s.OverlapsWith(points) {
		t.Error("points all outside [d, f] should not overlap")
	}
}

func TestAdjacentIntervalsCoalesce(t *testing.T) {
	s := New()
	s.Add(k("a"), k("c"))
	s.Add(k("c"), k("e"))
	merged := s.Merge()
	if len(merged) != 1 {
		t.Fatalf("adjacent intervals sharing an endpoint should coalesce, got %d intervals", len(merged))
	}
}
