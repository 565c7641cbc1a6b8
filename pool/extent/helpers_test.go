package extent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

// newTestAllocator creates an allocator and fails the test on error.
func newTestAllocator(t testing.TB, poolSize, alignment uint64) *Allocator {
	t.Helper()
	a, err := New(poolSize, alignment, nil)
	require.NoError(t, err)
	return a
}

// mustAlloc allocates size bytes and fails the test on error.
func mustAlloc(t testing.TB, a *Allocator, size uint64) Offset {
	t.Helper()
	off, err := a.Alloc(size)
	require.NoError(t, err, "Alloc(%d)", size)
	return off
}

// assertInvariants validates the chunk list and the byte total.
func assertInvariants(t testing.TB, a *Allocator) {
	t.Helper()
	require.NoError(t, a.Validate())

	var total uint64
	for _, c := range a.Chunks() {
		total += c.Size
	}
	require.Equal(t, a.PoolSize(), total, "chunk sizes must sum to pool size")
}

// layout is a compact chunk description for table comparisons: size, negative if occupied.
func layout(a *Allocator) []int64 {
	chunks := a.Chunks()
	out := make([]int64, len(chunks))
	for i, c := range chunks {
		if c.Occupied {
			out[i] = -int64(c.Size)
		} else {
			out[i] = int64(c.Size)
		}
	}
	return out
}
