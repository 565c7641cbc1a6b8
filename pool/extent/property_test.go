package extent

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test_Property_RandomAllocFree performs seeded random alloc/free sequences and
// validates the chunk-list invariants after every step.
func Test_Property_RandomAllocFree(t *testing.T) {
	for _, seed := range []int64{1, 42, 1337, 90210} {
		rng := rand.New(rand.NewSource(seed))
		a := newTestAllocator(t, 64*1024, 64)
		live := make(map[Offset]uint64) // offset -> requested size

		for step := 0; step < 2000; step++ {
			if rng.Intn(3) > 0 || len(live) == 0 {
				size := uint64(1 + rng.Intn(4096))
				off, err := a.Alloc(size)
				if err != nil {
					require.ErrorIs(t, err, ErrAllocationFailed, "seed %d step %d", seed, step)
				} else {
					aligned, _ := a.AlignedSize(size)
					require.Zero(t, off%a.Alignment(), "seed %d step %d: offset 0x%X unaligned", seed, step, off)
					require.LessOrEqual(t, off+aligned, a.PoolSize())
					require.NotContains(t, live, off, "offset handed out twice")
					live[off] = size
				}
			} else {
				for off := range live {
					a.Free(off)
					delete(live, off)
					break
				}
			}

			require.NoError(t, a.Validate(), "seed %d step %d", seed, step)
			require.Equal(t, len(live), a.Usage().UsedChunks, "seed %d step %d", seed, step)
		}

		for off := range live {
			a.Free(off)
		}
		require.Equal(t, []Chunk{{Offset: 0, Size: a.PoolSize()}}, a.Chunks(),
			"seed %d: freeing everything must restore a single chunk", seed)
	}
}

// Test_Property_NoOverlap checks that live extents never overlap each other.
func Test_Property_NoOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := newTestAllocator(t, 16*1024, 256)
	type span struct{ off, end uint64 }
	var live []span

	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 || len(live) == 0 {
			size := uint64(1 + rng.Intn(1024))
			off, err := a.Alloc(size)
			if err != nil {
				continue
			}
			aligned, _ := a.AlignedSize(size)
			for _, s := range live {
				require.False(t, off < s.end && s.off < off+aligned,
					"[0x%X,0x%X) overlaps [0x%X,0x%X)", off, off+aligned, s.off, s.end)
			}
			live = append(live, span{off, off + aligned})
		} else {
			i := rng.Intn(len(live))
			a.Free(live[i].off)
			live = append(live[:i], live[i+1:]...)
		}
	}
	assertInvariants(t, a)
}

// Test_Property_StressInterleaved frees every other allocation to create
// maximal fragmentation, then frees the rest and expects full recovery.
func Test_Property_StressInterleaved(t *testing.T) {
	a := newTestAllocator(t, 1<<20, 4096)

	var offs []Offset
	for {
		off, err := a.Alloc(4096)
		if err != nil {
			require.ErrorIs(t, err, ErrAllocationFailed)
			break
		}
		offs = append(offs, off)
	}
	require.Len(t, offs, 256)

	for i := 0; i < len(offs); i += 2 {
		a.Free(offs[i])
	}
	assertInvariants(t, a)
	require.Equal(t, 256, a.Len())
	require.Equal(t, uint64(4096), a.Usage().LargestFree)

	_, err := a.Alloc(8192)
	require.ErrorIs(t, err, ErrAllocationFailed, "no two free pages are adjacent")

	for i := 1; i < len(offs); i += 2 {
		a.Free(offs[i])
		require.NoError(t, a.Validate())
	}
	require.Equal(t, 1, a.Len())
}

// FuzzAllocFree interprets the input as a script of alloc/free operations.
func FuzzAllocFree(f *testing.F) {
	f.Add([]byte{0, 100, 0, 200, 1, 0, 1, 1})
	f.Add([]byte{0, 255, 0, 255, 0, 255, 1, 2, 1, 0, 1, 1})
	f.Add([]byte{1, 7, 0, 1, 1, 0, 1, 0})

	f.Fuzz(func(t *testing.T, script []byte) {
		a, err := New(4096, 64, nil)
		if err != nil {
			t.Fatal(err)
		}
		var live []Offset

		for i := 0; i+1 < len(script); i += 2 {
			op, arg := script[i], script[i+1]
			switch op % 3 {
			case 0:
				off, err := a.Alloc(uint64(arg) * 8)
				if err == nil {
					live = append(live, off)
				}
			case 1:
				if len(live) > 0 {
					j := int(arg) % len(live)
					a.Free(live[j])
					live = append(live[:j], live[j+1:]...)
				}
			case 2:
				// Arbitrary offsets must never corrupt the list.
				a.Free(uint64(arg) * 8)
				live = liveAfterStrayFree(a, live)
			}

			if err := a.Validate(); err != nil {
				t.Fatalf("op %d: %v", i/2, err)
			}
		}
	})
}

// liveAfterStrayFree drops offsets whose chunks were released by an arbitrary Free.
func liveAfterStrayFree(a *Allocator, live []Offset) []Offset {
	out := live[:0]
	for _, off := range live {
		if _, ok := a.SizeOf(off); ok {
			out = append(out, off)
		}
	}
	return out
}
