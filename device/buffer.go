package device

import (
	"context"
	"fmt"
	"io"

	"github.com/joshuapare/devpool/internal/buf"
)

// Buffer is the physical pool memory on the accelerator side. The allocator
// never touches it; Device moves bytes in and out at allocator offsets.
type Buffer interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the buffer length in bytes.
	Size() uint64

	// Flush makes the given ranges durable (or visible to the device).
	// Ranges may extend past Size and are clipped.
	Flush(ctx context.Context, ranges []Range) error

	// Close releases the buffer. Calling Close twice is a no-op.
	Close() error
}

// HostBuffer is a Buffer backed by host memory: an anonymous shared mapping,
// or a shared mapping of a backing file so the pool contents can be inspected
// after a run.
type HostBuffer struct {
	path     string
	data     []byte
	pageSize uint64

	// release unmaps data and closes the backing file, if any.
	release func() error
	// sync flushes b, which starts at off, to the backing store.
	sync func(off uint64, b []byte) error
}

// Path returns the backing file path, or "" for anonymous memory.
func (b *HostBuffer) Path() string { return b.path }

// Size returns the buffer length in bytes.
func (b *HostBuffer) Size() uint64 { return uint64(len(b.data)) }

// ReadAt copies len(p) bytes starting at off into p.
func (b *HostBuffer) ReadAt(p []byte, off int64) (int, error) {
	src, err := b.window(off, len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, src), nil
}

// WriteAt copies p into the buffer starting at off.
func (b *HostBuffer) WriteAt(p []byte, off int64) (int, error) {
	dst, err := b.window(off, len(p))
	if err != nil {
		return 0, err
	}
	return copy(dst, p), nil
}

func (b *HostBuffer) window(off int64, n int) ([]byte, error) {
	if b.data == nil {
		return nil, ErrClosed
	}
	if off < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}
	w, ok := buf.Slice(b.data, uint64(off), uint64(n))
	if !ok {
		return nil, fmt.Errorf("%w: [%d, +%d) in %d-byte buffer", ErrOutOfRange, off, n, len(b.data))
	}
	return w, nil
}

// Flush syncs each range to the backing file. Anonymous buffers have nothing
// to flush.
func (b *HostBuffer) Flush(ctx context.Context, ranges []Range) error {
	if b.data == nil {
		return ErrClosed
	}
	if b.sync == nil {
		return nil
	}
	size := uint64(len(b.data))
	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := (r.Off / b.pageSize) * b.pageSize
		if start >= size {
			continue
		}
		end := min(r.End(), size)
		if err := b.sync(start, b.data[start:end]); err != nil {
			return fmt.Errorf("device: flush [0x%X, 0x%X): %w", start, end, err)
		}
	}
	return nil
}

// Close unmaps the buffer and closes the backing file.
func (b *HostBuffer) Close() error {
	if b.data == nil {
		return nil
	}
	b.data = nil
	if b.release != nil {
		return b.release()
	}
	return nil
}
