package extent

import (
	"fmt"
	"math/rand"
	"testing"
)

const benchAlign = 64

// newFragmented returns an allocator with the given number of 64-byte free holes separated
// by occupied 64-byte extents, followed by a 1 MiB free tail.
func newFragmented(b *testing.B, holes int) *Allocator {
	b.Helper()
	a, err := New(uint64(2*holes)*benchAlign+1<<20, benchAlign, nil)
	if err != nil {
		b.Fatal(err)
	}
	offs := make([]Offset, 0, 2*holes)
	for i := 0; i < 2*holes; i++ {
		off, err := a.Alloc(benchAlign)
		if err != nil {
			b.Fatal(err)
		}
		offs = append(offs, off)
	}
	for i := 0; i < len(offs); i += 2 {
		a.Free(offs[i])
	}
	return a
}

// Benchmark_AllocFree_ScanToTail measures a first-fit miss over every hole
// before the request lands in the tail, then the free that merges it back.
func Benchmark_AllocFree_ScanToTail(b *testing.B) {
	for _, holes := range []int{16, 256, 4096} {
		b.Run(fmt.Sprintf("holes=%d", holes), func(b *testing.B) {
			a := newFragmented(b, holes)
			chunks := a.Len()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				off, err := a.Alloc(2 * benchAlign)
				if err != nil {
					b.Fatal(err)
				}
				a.Free(off)
			}

			b.StopTimer()
			if a.Len() != chunks {
				b.Fatalf("chunk count drifted: %d -> %d", chunks, a.Len())
			}
		})
	}
}

// Benchmark_AllocFree_FirstHole measures the best case: the first hole fits
// exactly, so there is no split and no merge.
func Benchmark_AllocFree_FirstHole(b *testing.B) {
	a := newFragmented(b, 4096)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		off, err := a.Alloc(benchAlign)
		if err != nil {
			b.Fatal(err)
		}
		a.Free(off)
	}
}

// Benchmark_AllocFree_Random mixes sizes over a pool that starts empty.
func Benchmark_AllocFree_Random(b *testing.B) {
	a, err := New(64<<20, 256, nil)
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	live := make([]Offset, 0, 1024)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if len(live) < cap(live) && (len(live) == 0 || rng.Intn(2) == 0) {
			if off, err := a.Alloc(uint64(1 + rng.Intn(64<<10))); err == nil {
				live = append(live, off)
			}
			continue
		}
		i := rng.Intn(len(live))
		a.Free(live[i])
		live[i] = live[len(live)-1]
		live = live[:len(live)-1]
	}
}
