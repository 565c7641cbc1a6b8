//go:build linux || darwin || freebsd

package device

import (
	"errors"
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// OpenHostBuffer maps size bytes of shared memory. With an empty path the
// mapping is anonymous; otherwise path is created (or truncated) to exactly
// size bytes and mapped MAP_SHARED so Flush reaches the file via msync.
func OpenHostBuffer(path string, size uint64) (*HostBuffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-size buffer", ErrBadConfig)
	}
	if size > math.MaxInt {
		return nil, fmt.Errorf("%w: buffer too large to map (%d bytes)", ErrBadConfig, size)
	}

	prot := unix.PROT_READ | unix.PROT_WRITE
	pageSize := uint64(unix.Getpagesize())

	if path == "" {
		data, err := unix.Mmap(-1, 0, int(size), prot, unix.MAP_ANON|unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("device: mmap anonymous %d bytes: %w", size, err)
		}
		return &HostBuffer{
			data:     data,
			pageSize: pageSize,
			release:  func() error { return munmap(data) },
		}, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("device: size backing file: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("device: mmap %s: %w", path, err)
	}

	return &HostBuffer{
		path:     path,
		data:     data,
		pageSize: pageSize,
		release: func() error {
			err := munmap(data)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			return err
		},
		sync: func(_ uint64, b []byte) error {
			return unix.Msync(b, unix.MS_SYNC)
		},
	}, nil
}

func munmap(data []byte) error {
	err := unix.Munmap(data)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}
