// Package dirty tracks half-open slot ranges that changed since the last
// upload. Ranges are kept in an ordered B-tree and coalesced on insert, so
// no two stored ranges ever overlap or touch.
package dirty

import "github.com/google/btree"

// Range is the half-open slot interval [Start, End).
type Range struct {
	Start, End int
}

// Len returns End - Start.
func (r Range) Len() int { return r.End - r.Start }

func byStart(a, b Range) bool { return a.Start < b.Start }

// Set is a coalescing set of ranges. The zero value is not usable; call New.
type Set struct {
	tree *btree.BTreeG[Range]
}

// New returns an empty set.
func New() *Set {
	return &Set{tree: btree.NewG(8, byStart)}
}

// Mark adds the single slot i.
func (s *Set) Mark(i int) {
	s.Add(i, i+1)
}

// Add inserts [start, end), merging it with every stored range it overlaps
// or touches. Empty ranges are ignored.
func (s *Set) Add(start, end int) {
	if end <= start {
		return
	}
	var doomed []Range
	s.tree.DescendLessOrEqual(Range{Start: start}, func(prev Range) bool {
		if prev.End >= start {
			doomed = append(doomed, prev)
			start = prev.Start
			end = max(end, prev.End)
		}
		return false
	})
	s.tree.AscendGreaterOrEqual(Range{Start: start}, func(next Range) bool {
		if next.Start > end {
			return false
		}
		doomed = append(doomed, next)
		end = max(end, next.End)
		return true
	})
	for _, r := range doomed {
		s.tree.Delete(r)
	}
	s.tree.ReplaceOrInsert(Range{Start: start, End: end})
}

// Len returns the number of disjoint ranges.
func (s *Set) Len() int { return s.tree.Len() }

// Empty reports whether nothing is marked.
func (s *Set) Empty() bool { return s.tree.Len() == 0 }

// Ranges returns the stored ranges in ascending order.
func (s *Set) Ranges() []Range {
	out := make([]Range, 0, s.tree.Len())
	s.tree.Ascend(func(r Range) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Clipped returns the stored ranges intersected with [0, limit), dropping
// the ones that fall entirely outside.
func (s *Set) Clipped(limit int) []Range {
	out := make([]Range, 0, s.tree.Len())
	s.tree.Ascend(func(r Range) bool {
		if r.Start >= limit {
			return false
		}
		r.End = min(r.End, limit)
		out = append(out, r)
		return true
	})
	return out
}

// Clear empties the set.
func (s *Set) Clear() {
	s.tree.Clear(false)
}
