package core

import "fmt"

// Range is a closed interval [Start, End] of item indices.
//
// A Range with Start > End is empty. Ranges produced by the planner are always
// clamped to [0, total-1]; ranges arriving from callers may be invalid and are
// discarded rather than propagated as errors.
type Range struct {
	Start int
	End   int
}

// R is shorthand for Range{Start: start, End: end}.
func R(start, end int) Range {
	return Range{Start: start, End: end}
}

// EmptyRange is the canonical empty range.
var EmptyRange = Range{Start: 0, End: -1}

// Valid reports whether the range contains at least one index.
func (r Range) Valid() bool {
	return r.Start <= r.End
}

// Len returns the number of indices in the range (0 if empty).
func (r Range) Len() int {
	if r.Start > r.End {
		return 0
	}
	return r.End - r.Start + 1
}

// Contains reports whether i lies inside the range.
func (r Range) Contains(i int) bool {
	return i >= r.Start && i <= r.End
}

// Covers reports whether o lies entirely inside r. An empty o is covered by anything.
func (r Range) Covers(o Range) bool {
	if !o.Valid() {
		return true
	}
	return r.Valid() && o.Start >= r.Start && o.End <= r.End
}

// Overlaps reports whether r and o share at least one index.
func (r Range) Overlaps(o Range) bool {
	return r.Valid() && o.Valid() && r.Start <= o.End && o.Start <= r.End
}

// Touches reports whether r and o overlap or are directly adjacent.
func (r Range) Touches(o Range) bool {
	return r.Valid() && o.Valid() && r.Start <= o.End+1 && o.Start <= r.End+1
}

// Clamp restricts both bounds to [0, total-1]. The result is empty when total <= 0
// or when r lies entirely outside the dataset.
func (r Range) Clamp(total int) Range {
	if total <= 0 || !r.Valid() || r.End < 0 || r.Start > total-1 {
		return EmptyRange
	}
	return Range{
		Start: Clamp(r.Start, 0, total-1),
		End:   Clamp(r.End, 0, total-1),
	}
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// Clamp restricts n to [lo, hi].
func Clamp(n, lo, hi int) int {
	return max(lo, min(hi, n))
}
