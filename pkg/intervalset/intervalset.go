// Package intervalset implements the interval-set used by transactions
// to record observed PK/SV ranges for later conflict detection
// (spec.md §4.9, testable property in §8): add/merge/overlaps_with over
// kv.Key-bounded intervals, merged by a sort-then-sweep into disjoint,
// sorted form. A nil bound means unbounded (-inf for Lo, +inf for Hi),
// matching the typed API's optional lo/hi range-read parameters.
package intervalset

import (
	"sort"

	"github.com/coldfront/lsmkv/pkg/kv"
)

// Interval is an inclusive [Lo, Hi] range; either bound may be nil,
// meaning unbounded in that direction. A point read adds [k, k].
type Interval struct {
	Lo, Hi kv.Key
}

// Set accumulates intervals added by Add and merges them into disjoint,
// sorted form on demand. Not safe for concurrent use; one Set belongs
// to exactly one transaction's one dependency dimension (primary or one
// secondary index).
type Set struct {
	intervals []Interval
	dirty     bool
}

// New returns an empty interval-set.
func New() *Set {
	return &Set{}
}

// Add records a new observed interval (lo and/or hi nil for an
// unbounded range read). Merge must be called again before the result
// reflects it.
func (s *Set) Add(lo, hi kv.Key) {
	s.intervals = append(s.intervals, Interval{Lo: lo, Hi: hi})
	s.dirty = true
}

// loLess orders two Lo bounds, nil (-inf) sorting first.
func loLess(a, b kv.Key) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Compare(b) < 0
}

// hiLess orders two Hi bounds, nil (+inf) sorting last.
func hiLess(a, b kv.Key) bool {
	if b == nil {
		return a != nil
	}
	if a == nil {
		return false
	}
	return a.Compare(b) < 0
}

// Merge sorts and coalesces overlapping/adjacent intervals, returning
// the disjoint result. Idempotent and safe to call repeatedly.
func (s *Set) Merge() []Interval {
	if !s.dirty {
		return s.intervals
	}
	if len(s.intervals) == 0 {
		s.dirty = false
		return nil
	}

	sorted := make([]Interval, len(s.intervals))
	copy(sorted, s.intervals)
	sort.Slice(sorted, func(i, j int) bool { return loLess(sorted[i].Lo, sorted[j].Lo) })

	out := sorted[:1]
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		// iv.Lo <= last.Hi (with unbounded treated as extremes) means
		// overlap or adjacency; coalesce.
		if last.Hi == nil || (iv.Lo != nil && iv.Lo.Compare(last.Hi) <= 0) {
			if hiLess(last.Hi, iv.Hi) {
				last.Hi = iv.Hi
			}
			continue
		}
		out = append(out, iv)
	}
	s.intervals = out
	s.dirty = false
	return out
}

// OverlapsWith reports whether any of points lies within any merged
// interval, by a two-pointer sweep of the (already sorted) points
// against the merged, sorted, disjoint intervals.
func (s *Set) OverlapsWith(points []kv.Key) bool {
	merged := s.Merge()
	if len(merged) == 0 || len(points) == 0 {
		return false
	}
	sorted := make([]kv.Key, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })

	i, j := 0, 0
	for i < len(merged) && j < len(sorted) {
		iv, p := merged[i], sorted[j]
		switch {
		case iv.Lo != nil && p.Compare(iv.Lo) < 0:
			j++
		case iv.Hi != nil && p.Compare(iv.Hi) > 0:
			i++
		default:
			return true
		}
	}
	return false
}

// Empty reports whether no interval has ever been added.
func (s *Set) Empty() bool { return len(s.intervals) == 0 }
