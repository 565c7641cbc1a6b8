package extent

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/joshuapare/devpool/pool/tiling"
)

// Runtime debug flag for allocation logging - controlled by DEVPOOL_LOG_ALLOC env var.
var logAlloc = os.Getenv("DEVPOOL_LOG_ALLOC") != ""

// Options configures an Allocator. A nil *Options is valid.
type Options struct {
	// Logger receives debug lines for allocations, frees and ignored frees.
	// If nil, logging is off unless DEVPOOL_LOG_ALLOC is set, in which case
	// a text logger on stderr is used.
	Logger *slog.Logger
}

const defaultChunkCapacity = 16

// Allocator hands out aligned, non-overlapping extents of a fixed-size pool
// using first-fit with splitting, and coalesces free neighbours on Free.
//
// NOT thread-safe.
type Allocator struct {
	poolSize  uint64
	alignment uint64

	// chunks tiles [0, poolSize) in ascending offset order.
	chunks []Chunk

	stats Stats
	log   *slog.Logger
}

// New creates an allocator for a pool of poolSize bytes whose allocations are
// rounded up to multiples of alignment. The pool starts as one free chunk.
func New(poolSize, alignment uint64, opts *Options) (*Allocator, error) {
	if poolSize == 0 || alignment == 0 {
		return nil, fmt.Errorf("%w: pool=%d alignment=%d", ErrBadConfig, poolSize, alignment)
	}
	if opts == nil {
		opts = &Options{}
	}

	log := opts.Logger
	if log == nil && logAlloc {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	a := &Allocator{
		poolSize:  poolSize,
		alignment: alignment,
		chunks:    make([]Chunk, 0, defaultChunkCapacity),
		log:       log,
	}
	a.chunks = append(a.chunks, Chunk{Offset: 0, Size: poolSize})
	return a, nil
}

// PoolSize returns the total number of bytes managed.
func (a *Allocator) PoolSize() uint64 { return a.poolSize }

// Alignment returns the allocation granularity.
func (a *Allocator) Alignment() uint64 { return a.alignment }

// Len returns the number of chunks currently in the list.
func (a *Allocator) Len() int { return len(a.chunks) }

// AlignedSize rounds size up to the allocator's alignment.
// ok is false if the rounded size does not fit in a uint64.
func (a *Allocator) AlignedSize(size uint64) (aligned uint64, ok bool) {
	return tiling.AlignUp(size, a.alignment)
}

// Alloc reserves at least size bytes and returns the offset of the extent.
// The extent is the first free chunk, in offset order, that can hold the
// aligned size; any excess is split off as a new free chunk.
//
// On failure the chunk list is unchanged.
func (a *Allocator) Alloc(size uint64) (Offset, error) {
	a.stats.AllocCalls++

	if size == 0 {
		a.stats.AllocFailures++
		return 0, ErrZeroSize
	}

	need, ok := a.AlignedSize(size)
	if !ok || need > a.poolSize {
		a.stats.AllocFailures++
		return 0, fmt.Errorf("%w: need %d bytes, pool is %d", ErrAllocationFailed, size, a.poolSize)
	}

	i := a.firstFit(need)
	if i < 0 {
		a.stats.AllocFailures++
		if a.log != nil {
			a.log.Debug("extent alloc failed", "size", size, "aligned", need, "chunks", len(a.chunks))
		}
		return 0, fmt.Errorf("%w: need %d bytes (aligned %d)", ErrAllocationFailed, size, need)
	}

	c := &a.chunks[i]
	c.Occupied = true
	if c.Size > need {
		rem := Chunk{Offset: c.Offset + need, Size: c.Size - need}
		c.Size = need
		// c is invalid after Insert may reallocate; off is read first.
		off := c.Offset
		a.chunks = slices.Insert(a.chunks, i+1, rem)
		a.stats.SplitCount++
		a.noteAlloc(off, size, need)
		return off, nil
	}

	a.noteAlloc(c.Offset, size, need)
	return c.Offset, nil
}

func (a *Allocator) noteAlloc(off Offset, size, need uint64) {
	a.stats.BytesAllocated += need
	a.stats.BytesInUse += need
	if a.stats.BytesInUse > a.stats.PeakBytesInUse {
		a.stats.PeakBytesInUse = a.stats.BytesInUse
	}
	if a.log != nil {
		a.log.Debug("extent alloc", "offset", off, "size", size, "aligned", need)
	}
}

// firstFit returns the index of the first free chunk of at least need bytes, or -1.
func (a *Allocator) firstFit(need uint64) int {
	for i := range a.chunks {
		if !a.chunks[i].Occupied && a.chunks[i].Size >= need {
			return i
		}
	}
	return -1
}

// find returns the index of the first chunk whose offset is >= off.
func (a *Allocator) find(off Offset) int {
	i, _ := slices.BinarySearchFunc(a.chunks, off, func(c Chunk, t Offset) int {
		switch {
		case c.Offset < t:
			return -1
		case c.Offset > t:
			return 1
		}
		return 0
	})
	return i
}

// Free returns the extent at off to the pool and merges it with free neighbours.
//
// An off that does not start a chunk, or that names a chunk which is already
// free, is ignored: the chunk list is left exactly as it was.
func (a *Allocator) Free(off Offset) {
	if err := a.Release(off); err != nil && a.log != nil {
		a.log.Debug("extent free ignored", "offset", off, "reason", err)
	}
}

// Release is the strict form of Free. It returns ErrBadOffset when off does not
// start a chunk and ErrDoubleFree when that chunk is already free; in both
// cases nothing changes.
func (a *Allocator) Release(off Offset) error {
	a.stats.FreeCalls++

	i := a.find(off)
	if i == len(a.chunks) || a.chunks[i].Offset != off {
		a.stats.FreeIgnored++
		return fmt.Errorf("%w: 0x%X", ErrBadOffset, off)
	}
	if !a.chunks[i].Occupied {
		a.stats.FreeIgnored++
		return fmt.Errorf("%w: 0x%X", ErrDoubleFree, off)
	}

	size := a.chunks[i].Size
	a.chunks[i].Occupied = false
	a.stats.BytesReleased += size
	a.stats.BytesInUse -= size

	cur := i
	if cur > 0 && !a.chunks[cur-1].Occupied {
		cur--
		a.stats.CoalesceLeft++
	}

	merged := 0
	for cur+1 < len(a.chunks) && !a.chunks[cur+1].Occupied {
		a.chunks[cur].Size += a.chunks[cur+1].Size
		a.chunks = slices.Delete(a.chunks, cur+1, cur+2)
		merged++
	}
	if cur < i {
		// The first merge folded the freed chunk into its left neighbour.
		merged--
	}
	a.stats.CoalesceRight += merged

	if a.log != nil {
		a.log.Debug("extent free", "offset", off, "size", size,
			"merged_offset", a.chunks[cur].Offset, "merged_size", a.chunks[cur].Size)
	}
	return nil
}

// SizeOf returns the size of the occupied extent starting at off.
func (a *Allocator) SizeOf(off Offset) (uint64, bool) {
	i := a.find(off)
	if i == len(a.chunks) || a.chunks[i].Offset != off || !a.chunks[i].Occupied {
		return 0, false
	}
	return a.chunks[i].Size, true
}

// Chunks returns a copy of the chunk list in offset order.
func (a *Allocator) Chunks() []Chunk {
	return slices.Clone(a.chunks)
}

// Stats returns a copy of the allocation counters.
func (a *Allocator) Stats() Stats {
	return a.stats
}

// Usage summarizes the current chunk list.
func (a *Allocator) Usage() Usage {
	var u Usage
	for _, c := range a.chunks {
		if c.Occupied {
			u.UsedChunks++
			u.UsedBytes += c.Size
			continue
		}
		u.FreeChunks++
		u.FreeBytes += c.Size
		u.LargestFree = max(u.LargestFree, c.Size)
	}
	return u
}

// Reset returns the allocator to its initial state: one free chunk spanning
// the pool and zeroed counters. Offsets handed out before Reset are invalid.
func (a *Allocator) Reset() {
	a.chunks = append(a.chunks[:0], Chunk{Offset: 0, Size: a.poolSize})
	a.stats = Stats{}
}

// Validate checks the chunk-list invariants: coverage of [0, PoolSize) with no
// gaps or overlaps, no two adjacent free chunks, positive sizes, and aligned
// chunk offsets. It returns an *InvariantError for the first violation found.
func (a *Allocator) Validate() error {
	if len(a.chunks) == 0 {
		return &InvariantError{Index: -1, Msg: "empty chunk list"}
	}

	var next uint64
	for i, c := range a.chunks {
		switch {
		case c.Size == 0:
			return &InvariantError{Index: i, Chunk: c, Msg: "zero size"}
		case c.Offset != next:
			return &InvariantError{Index: i, Chunk: c,
				Msg: fmt.Sprintf("expected offset 0x%X", next)}
		case c.Offset%a.alignment != 0:
			return &InvariantError{Index: i, Chunk: c, Msg: "offset not aligned"}
		case c.Occupied && c.Size%a.alignment != 0:
			return &InvariantError{Index: i, Chunk: c, Msg: "occupied size not aligned"}
		case c.Size > a.poolSize-c.Offset:
			return &InvariantError{Index: i, Chunk: c, Msg: "extends past pool end"}
		case i > 0 && !c.Occupied && !a.chunks[i-1].Occupied:
			return &InvariantError{Index: i, Chunk: c, Msg: "adjacent free chunks"}
		}
		next = c.End()
	}

	if next != a.poolSize {
		last := len(a.chunks) - 1
		return &InvariantError{Index: last, Chunk: a.chunks[last],
			Msg: fmt.Sprintf("list ends at 0x%X, pool size 0x%X", next, a.poolSize)}
	}
	return nil
}
