package device

import "slices"

const (
	// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
	defaultRangeCapacity = 64

	// standardPageSize is the typical OS page size (4KB).
	standardPageSize = 4096
)

// Range is a dirty byte range of the pool buffer.
type Range struct {
	Off uint64
	Len uint64
}

// End returns the offset one past the range.
func (r Range) End() uint64 { return r.Off + r.Len }

// Tracker accumulates ranges written since the last flush and coalesces them
// into page-aligned, non-overlapping ranges.
//
// NOT thread-safe. Device serializes access.
type Tracker struct {
	ranges   []Range
	pageSize uint64
}

// NewTracker creates a tracker that aligns to pageSize (4096 if zero).
func NewTracker(pageSize uint64) *Tracker {
	if pageSize == 0 {
		pageSize = standardPageSize
	}
	return &Tracker{
		ranges:   make([]Range, 0, defaultRangeCapacity),
		pageSize: pageSize,
	}
}

// Add records a dirty range. Zero-length ranges are dropped.
func (t *Tracker) Add(off, length uint64) {
	if length == 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: off, Len: length})
}

// Len returns the number of raw (uncoalesced) ranges.
func (t *Tracker) Len() int { return len(t.ranges) }

// Reset clears all tracked ranges.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// Coalesced page-aligns all ranges, sorts them, and merges overlapping or
// adjacent ones. The result is a new slice.
func (t *Tracker) Coalesced() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(t.ranges))
	for i, r := range t.ranges {
		start := (r.Off / t.pageSize) * t.pageSize
		end := r.End()
		if end%t.pageSize != 0 {
			end = ((end / t.pageSize) + 1) * t.pageSize
		}
		aligned[i] = Range{Off: start, Len: end - start}
	}

	slices.SortFunc(aligned, func(a, b Range) int {
		switch {
		case a.Off < b.Off:
			return -1
		case a.Off > b.Off:
			return 1
		}
		return 0
	})

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.End() {
			current.Len = max(current.End(), next.End()) - current.Off
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}
