package device

import "errors"

var (
	// ErrBadConfig indicates an invalid Config or buffer size.
	ErrBadConfig = errors.New("device: bad config")

	// ErrClosed indicates use of a closed device or buffer.
	ErrClosed = errors.New("device: closed")

	// ErrOutOfRange indicates a transfer outside the pool or outside its extent.
	ErrOutOfRange = errors.New("device: transfer out of range")

	// ErrNotAllocated indicates a strict transfer at an offset that is not an occupied extent.
	ErrNotAllocated = errors.New("device: offset is not an allocated extent")

	// ErrMisaligned indicates an offset that is not a multiple of the element width.
	ErrMisaligned = errors.New("device: offset not a multiple of element width")
)
