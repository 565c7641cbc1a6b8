package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/joshuapare/devpool/internal/buf"
	"github.com/joshuapare/devpool/pool/extent"
	"github.com/joshuapare/devpool/pool/tiling"
)

// Config describes a pool at setup time.
type Config struct {
	// PoolSize is the number of bytes reserved on the accelerator. Required.
	PoolSize uint64

	// Geometry is the tile shape used to derive the alignment.
	// The zero value means tiling.DefaultGeometry().
	Geometry tiling.Geometry

	// Alignment overrides the geometry-derived alignment when non-zero.
	Alignment uint64

	// BackingFile maps the pool onto a file instead of anonymous memory.
	BackingFile string

	// StrictTransfers confines WriteMem/ReadMem to the occupied extent that
	// starts at the given offset. Otherwise only the pool bounds are checked.
	StrictTransfers bool

	// Logger receives device and allocator diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Validate checks the config and returns the effective alignment.
func (c Config) Validate() (uint64, error) {
	if c.PoolSize == 0 {
		return 0, fmt.Errorf("%w: pool size must be > 0", ErrBadConfig)
	}
	if c.Alignment != 0 {
		return c.Alignment, nil
	}

	g := c.Geometry
	if g == (tiling.Geometry{}) {
		g = tiling.DefaultGeometry()
	}
	a, err := g.Alignment()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	return a, nil
}

// Device owns one pool buffer and the allocator that manages it.
type Device struct {
	mu sync.Mutex

	cfg   Config
	buf   Buffer
	alloc *extent.Allocator
	dirty *Tracker
	log   *slog.Logger

	closed bool
}

// Open validates cfg, maps the pool buffer and builds its allocator.
func Open(cfg Config) (*Device, error) {
	alignment, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	b, err := OpenHostBuffer(cfg.BackingFile, cfg.PoolSize)
	if err != nil {
		return nil, err
	}

	d, err := newDevice(cfg, alignment, b)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return d, nil
}

// OpenWithBuffer builds a device over an existing buffer. The pool size is
// taken from cfg and must not exceed b.Size(). The device takes ownership of b.
func OpenWithBuffer(cfg Config, b Buffer) (*Device, error) {
	alignment, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if cfg.PoolSize > b.Size() {
		return nil, fmt.Errorf("%w: pool size %d exceeds buffer size %d", ErrBadConfig, cfg.PoolSize, b.Size())
	}
	return newDevice(cfg, alignment, b)
}

func newDevice(cfg Config, alignment uint64, b Buffer) (*Device, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	a, err := extent.New(cfg.PoolSize, alignment, &extent.Options{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}

	pageSize := uint64(standardPageSize)
	if hb, ok := b.(*HostBuffer); ok && hb.pageSize != 0 {
		pageSize = hb.pageSize
	}

	log.Info("device pool ready", "size", cfg.PoolSize, "alignment", alignment, "backing", cfg.BackingFile)
	return &Device{
		cfg:   cfg,
		buf:   b,
		alloc: a,
		dirty: NewTracker(pageSize),
		log:   log,
	}, nil
}

// PoolSize returns the managed pool size in bytes.
func (d *Device) PoolSize() uint64 { return d.cfg.PoolSize }

// Alignment returns the allocation granularity.
func (d *Device) Alignment() uint64 { return d.alloc.Alignment() }

// Alloc reserves an extent of at least size bytes.
func (d *Device) Alloc(size uint64) (extent.Offset, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	return d.alloc.Alloc(size)
}

// Free returns the extent at off to the pool. Unknown offsets and double
// frees are logged and otherwise ignored.
func (d *Device) Free(off extent.Offset) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if err := d.alloc.Release(off); err != nil {
		d.log.Warn("ignored free", "offset", off, "err", err)
	}
}

// Release is the strict form of Free; see extent.Allocator.Release.
func (d *Device) Release(off extent.Offset) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	return d.alloc.Release(off)
}

// WriteMem copies src into the pool at off and marks the range dirty.
func (d *Device) WriteMem(off extent.Offset, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkTransfer(off, uint64(len(src))); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if _, err := d.buf.WriteAt(src, int64(off)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	d.dirty.Add(off, uint64(len(src)))
	return nil
}

// ReadMem copies len(dst) bytes from the pool at off into dst.
func (d *Device) ReadMem(off extent.Offset, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkTransfer(off, uint64(len(dst))); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if _, err := d.buf.ReadAt(dst, int64(off)); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

// checkTransfer bounds [off, off+n) by the pool, and by the extent at off in
// strict mode. Caller holds d.mu.
func (d *Device) checkTransfer(off, n uint64) error {
	if d.closed {
		return ErrClosed
	}
	if _, ok := buf.FileOffset(off); !ok {
		return fmt.Errorf("%w: offset 0x%X", ErrOutOfRange, off)
	}

	limit := d.cfg.PoolSize
	start := uint64(0)
	if d.cfg.StrictTransfers {
		size, ok := d.alloc.SizeOf(off)
		if !ok {
			return fmt.Errorf("%w: 0x%X", ErrNotAllocated, off)
		}
		start, limit = off, size
	}

	if _, err := buf.CheckRange(limit, off-start, n); err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfRange, err)
	}
	return nil
}

// ElemIndex translates a byte offset into an index of elemBytes-wide
// elements, the addressing the accelerator's load/store instructions use.
func (d *Device) ElemIndex(off extent.Offset, elemBytes uint64) (uint64, error) {
	if elemBytes == 0 {
		return 0, fmt.Errorf("%w: zero element width", ErrMisaligned)
	}
	if off%elemBytes != 0 {
		return 0, fmt.Errorf("%w: 0x%X %% %d = %d", ErrMisaligned, off, elemBytes, off%elemBytes)
	}
	return off / elemBytes, nil
}

// Sync flushes every range written since the last Sync.
// If ctx is cancelled mid-flush, some ranges may have been flushed and the
// dirty set is kept so a later Sync retries all of them.
func (d *Device) Sync(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ranges := d.dirty.Coalesced()
	if len(ranges) == 0 {
		return nil
	}
	if err := d.buf.Flush(ctx, ranges); err != nil {
		return err
	}
	d.log.Debug("device sync", "ranges", len(ranges), "writes", d.dirty.Len())
	d.dirty.Reset()
	return nil
}

// Stats returns the allocator counters.
func (d *Device) Stats() extent.Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alloc.Stats()
}

// Usage returns the allocator's current usage summary.
func (d *Device) Usage() extent.Usage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alloc.Usage()
}

// Chunks returns a copy of the allocator's chunk list.
func (d *Device) Chunks() []extent.Chunk {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alloc.Chunks()
}

// Validate checks the allocator invariants.
func (d *Device) Validate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alloc.Validate()
}

// Close releases the pool buffer. Further calls return ErrClosed, except
// Close itself, which is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	u := d.alloc.Usage()
	if u.UsedChunks > 0 {
		d.log.Warn("closing device with live extents", "extents", u.UsedChunks, "bytes", u.UsedBytes)
	}
	return d.buf.Close()
}
