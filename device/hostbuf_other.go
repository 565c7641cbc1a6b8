//go:build !linux && !darwin && !freebsd

package device

import (
	"fmt"
	"os"
)

// OpenHostBuffer allocates size bytes of heap memory when mmap is not
// available. With a path, Flush writes the dirty ranges to that file.
func OpenHostBuffer(path string, size uint64) (*HostBuffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-size buffer", ErrBadConfig)
	}

	b := &HostBuffer{
		data:     make([]byte, size),
		pageSize: standardPageSize,
	}
	if path == "" {
		return b, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("device: size backing file: %w", err)
	}
	if _, err := f.ReadAt(b.data, 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("device: load backing file: %w", err)
	}

	b.path = path
	b.release = f.Close
	b.sync = func(off uint64, p []byte) error {
		_, err := f.WriteAt(p, int64(off))
		return err
	}
	return b, nil
}
