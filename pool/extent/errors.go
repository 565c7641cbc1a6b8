package extent

import (
	"errors"
	"fmt"
)

var (
	// ErrAllocationFailed indicates that no free chunk large enough was found.
	ErrAllocationFailed = errors.New("extent: no free chunk large enough")

	// ErrZeroSize indicates a zero-length allocation request.
	ErrZeroSize = errors.New("extent: allocation size must be > 0")

	// ErrBadConfig indicates a zero pool size or zero alignment at construction.
	ErrBadConfig = errors.New("extent: pool size and alignment must be > 0")

	// ErrBadOffset indicates an offset that does not start any chunk.
	ErrBadOffset = errors.New("extent: offset is not a chunk boundary")

	// ErrDoubleFree indicates an attempt to free a chunk that is already free.
	ErrDoubleFree = errors.New("extent: chunk already free")
)

// InvariantError describes the first chunk-list invariant found broken by Validate.
type InvariantError struct {
	Index int // Position in the chunk list
	Chunk Chunk
	Msg   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("extent: invariant violation at chunk %d (off=0x%X size=%d): %s",
		e.Index, e.Chunk.Offset, e.Chunk.Size, e.Msg)
}
