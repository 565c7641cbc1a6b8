package extent

// Offset is a byte offset from the start of the pool. It is the only handle
// callers hold for an allocation.
type Offset = uint64

// Chunk is one contiguous extent of the pool.
type Chunk struct {
	Offset   Offset // Byte offset from pool start
	Size     uint64 // Length in bytes, always > 0
	Occupied bool   // True while the extent is allocated
}

// End returns the offset one past the last byte of the chunk.
func (c Chunk) End() uint64 { return c.Offset + c.Size }

// Stats holds cumulative allocator counters.
type Stats struct {
	AllocCalls     int    // Total Alloc() calls
	AllocFailures  int    // Alloc() calls that returned an error
	FreeCalls      int    // Total Free()/Release() calls
	FreeIgnored    int    // Frees that were bad offsets or double frees
	SplitCount     int    // Chunks split by Alloc
	CoalesceLeft   int    // Merges into a free left neighbour
	CoalesceRight  int    // Free right neighbours absorbed
	BytesInUse     uint64 // Bytes currently occupied (aligned sizes)
	PeakBytesInUse uint64 // High-water mark of BytesInUse
	BytesAllocated uint64 // Total aligned bytes handed out
	BytesReleased  uint64 // Total aligned bytes returned
}

// Usage is a point-in-time picture of the chunk list.
type Usage struct {
	UsedChunks  int
	FreeChunks  int
	UsedBytes   uint64
	FreeBytes   uint64
	LargestFree uint64 // Largest single free extent; caps the next Alloc
}

// Fragmentation returns 1 - LargestFree/FreeBytes: 0 when all free space is one
// extent, approaching 1 as free space splinters.
func (u Usage) Fragmentation() float64 {
	if u.FreeBytes == 0 {
		return 0
	}
	return 1 - float64(u.LargestFree)/float64(u.FreeBytes)
}
