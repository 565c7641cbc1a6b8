// Package extent provides first-fit extent allocation over a fixed-size,
// byte-addressable device memory pool.
//
// # Overview
//
// The allocator tracks the pool as an ordered list of chunks. Every chunk is
// either free or occupied, and together the chunks tile [0, PoolSize) with no
// gaps. Callers never see the chunks themselves; they receive and pass back
// Offset values.
//
// # Allocation
//
// Alloc rounds the request up to the allocator's alignment and takes the first
// free chunk (in offset order) that is large enough. If that chunk is larger
// than needed it is split, and the free remainder is placed directly after it.
//
//	a, err := extent.New(1<<20, 64, nil)
//	if err != nil {
//	    return err
//	}
//
//	off, err := a.Alloc(100) // 128 bytes reserved at offset 0
//	if errors.Is(err, extent.ErrAllocationFailed) {
//	    // pool exhausted or too fragmented
//	}
//
// # Deallocation
//
// Free marks the chunk at an offset as free and coalesces it with a free left
// neighbour and any run of free right neighbours, so no two free chunks are
// ever adjacent.
//
// Free is lenient: an offset that is not a chunk boundary, or a chunk that is
// already free, leaves the allocator untouched. Release is the strict variant
// and reports ErrBadOffset or ErrDoubleFree instead.
//
// # Invariants
//
// Before and after every operation:
//
//   - Coverage: chunks partition [0, PoolSize) exactly, in ascending order
//   - No two consecutive chunks are both free
//   - Every chunk has a positive size
//
// Validate checks all three and returns an *InvariantError on the first
// violation.
//
// # Thread Safety
//
// Allocator instances are not thread-safe. Callers must synchronize access
// externally; the device package wraps one allocator behind a mutex.
package extent
