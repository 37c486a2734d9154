package intervalset

import (
	"fmt"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/coldfront/lsmkv/pkg/kv"
)

// intKey renders n as a fixed-width zero-padded decimal RawKey, so
// kv.Key's byte-lexicographic Compare agrees with n's numeric order
// across the small ranges these properties generate.
func intKey(n int) kv.Key {
	return kv.RawKey(fmt.Sprintf("%06d", n))
}

// keyEqual compares two possibly-nil kv.Key bounds by their encoded
// bytes; Key implementations are not required to be comparable with
// Go's == (RawKey is a slice), so Compare/Bytes is the only safe way.
func keyEqual(a, b kv.Key) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Compare(b) == 0
}

func bruteForceContains(ivs []Interval, p int) bool {
	for _, iv := range ivs {
		lo, hi := iv.Lo, iv.Hi
		if lo != nil {
			var loN int
			fmt.Sscanf(string(lo.Bytes()), "%d", &loN)
			if p < loN {
				continue
			}
		}
		if hi != nil {
			var hiN int
			fmt.Sscanf(string(hi.Bytes()), "%d", &hiN)
			if p > hiN {
				continue
			}
		}
		return true
	}
	return false
}

// TestMergeProducesDisjointSortedIntervals checks spec.md §8's testable
// property that Merge's output is sorted and pairwise non-overlapping,
// over randomly generated bounded intervals.
func TestMergeProducesDisjointSortedIntervals(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("merge output is sorted and disjoint", prop.ForAll(
		func(bounds []int) bool {
			s := New()
			for i := 0; i+1 < len(bounds); i += 2 {
				lo, hi := bounds[i], bounds[i+1]
				if lo > hi {
					lo, hi = hi, lo
				}
				s.Add(intKey(lo), intKey(hi))
			}
			merged := s.Merge()
			for i := 1; i < len(merged); i++ {
				prevHi, curLo := merged[i-1].Hi, merged[i].Lo
				if prevHi == nil || curLo == nil {
					return false // an unbounded bound can never be followed/preceded by another
				}
				if prevHi.Compare(curLo) >= 0 {
					return false // adjacent/overlapping intervals should have been coalesced
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 200)),
	))

	properties.TestingRun(t)
}

// TestOverlapsWithAgreesWithBruteForce checks spec.md §8's testable
// property that OverlapsWith's two-pointer sweep agrees with a naive
// per-point, per-interval scan.
func TestOverlapsWithAgreesWithBruteForce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("OverlapsWith matches brute force containment", prop.ForAll(
		func(bounds []int, points []int) bool {
			s := New()
			var raw []Interval
			for i := 0; i+1 < len(bounds); i += 2 {
				lo, hi := bounds[i], bounds[i+1]
				if lo > hi {
					lo, hi = hi, lo
				}
				s.Add(intKey(lo), intKey(hi))
				raw = append(raw, Interval{Lo: intKey(lo), Hi: intKey(hi)})
			}

			keys := make([]kv.Key, len(points))
			for i, p := range points {
				keys[i] = intKey(p)
			}

			want := false
			for _, p := range points {
				if bruteForceContains(raw, p) {
					want = true
					break
				}
			}
			return s.OverlapsWith(keys) == want
		},
		gen.SliceOfN(10, gen.IntRange(0, 100)),
		gen.SliceOfN(10, gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}

// TestMergeIsIdempotentProperty checks that calling Merge twice in a
// row without an intervening Add returns the identical slice.
func TestMergeIsIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("merge is idempotent", prop.ForAll(
		func(bounds []int) bool {
			s := New()
			for i := 0; i+1 < len(bounds); i += 2 {
				lo, hi := bounds[i], bounds[i+1]
				if lo > hi {
					lo, hi = hi, lo
				}
				s.Add(intKey(lo), intKey(hi))
			}
			first := s.Merge()
			second := s.Merge()
			if len(first) != len(second) {
				return false
			}
			for i := range first {
				if !keyEqual(first[i].Lo, second[i].Lo) || !keyEqual(first[i].Hi, second[i].Hi) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 200)),
	))

	sortCheck := gopter.NewProperties(parameters)
	sortCheck.Property("merged intervals are Lo-ascending", prop.ForAll(
		func(bounds []int) bool {
			s := New()
			for i := 0; i+1 < len(bounds); i += 2 {
				lo, hi := bounds[i], bounds[i+1]
				if lo > hi {
					lo, hi = hi, lo
				}
				s.Add(intKey(lo), intKey(hi))
			}
			merged := s.Merge()
			return sort.SliceIsSorted(merged, func(i, j int) bool {
				if merged[i].Lo == nil {
					return merged[j].Lo != nil
				}
				if merged[j].Lo == nil {
					return false
				}
				return merged[i].Lo.Compare(merged[j].Lo) < 0
			})
		},
		gen.SliceOfN(20, gen.IntRange(0, 200)),
	))
	sortCheck.TestingRun(t)

	properties.TestingRun(t)
}
