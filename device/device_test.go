package device

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/devpool/pool/extent"
	"github.com/joshuapare/devpool/pool/tiling"
)

// newTestDevice opens an anonymous-memory device and closes it on cleanup.
func newTestDevice(t testing.TB, cfg Config) *Device {
	t.Helper()
	d, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// recordingBuffer is an in-memory Buffer that records Flush calls.
type recordingBuffer struct {
	data    []byte
	flushed [][]Range
	closed  bool
}

func (b *recordingBuffer) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, b.data[off:]), nil
}

func (b *recordingBuffer) WriteAt(p []byte, off int64) (int, error) {
	return copy(b.data[off:], p), nil
}

func (b *recordingBuffer) Size() uint64 { return uint64(len(b.data)) }

func (b *recordingBuffer) Flush(_ context.Context, ranges []Range) error {
	b.flushed = append(b.flushed, ranges)
	return nil
}

func (b *recordingBuffer) Close() error {
	b.closed = true
	return nil
}

func TestOpen_DefaultGeometry(t *testing.T) {
	d := newTestDevice(t, Config{PoolSize: 1 << 20})

	assert.Equal(t, uint64(1<<20), d.PoolSize())
	assert.Equal(t, uint64(256), d.Alignment(), "1x16x16 tiles with int32 accumulators")
	assert.Equal(t, []extent.Chunk{{Offset: 0, Size: 1 << 20}}, d.Chunks())
}

func TestOpen_AlignmentOverride(t *testing.T) {
	d := newTestDevice(t, Config{PoolSize: 1024, Alignment: 64})
	assert.Equal(t, uint64(64), d.Alignment())
}

func TestOpen_CustomGeometry(t *testing.T) {
	g := tiling.Geometry{Batch: 8, BlockIn: 16, BlockOut: 16, AccBytes: 4}
	d := newTestDevice(t, Config{PoolSize: 1 << 16, Geometry: g})
	assert.Equal(t, uint64(512), d.Alignment())
}

func TestOpen_BadConfig(t *testing.T) {
	_, err := Open(Config{})
	require.ErrorIs(t, err, ErrBadConfig)

	_, err = Open(Config{PoolSize: 1024, Geometry: tiling.Geometry{Batch: 1}})
	require.ErrorIs(t, err, ErrBadConfig)
	require.ErrorIs(t, err, tiling.ErrBadGeometry)
}

func TestOpenWithBuffer_PoolLargerThanBuffer(t *testing.T) {
	_, err := OpenWithBuffer(Config{PoolSize: 8192, Alignment: 64}, &recordingBuffer{data: make([]byte, 4096)})
	require.ErrorIs(t, err, ErrBadConfig)
}

func TestDevice_WriteReadRoundTrip(t *testing.T) {
	d := newTestDevice(t, Config{PoolSize: 1024, Alignment: 64})

	a, err := d.Alloc(100)
	require.NoError(t, err)
	b, err := d.Alloc(64)
	require.NoError(t, err)
	require.Equal(t, extent.Offset(0), a)
	require.Equal(t, extent.Offset(128), b)

	require.NoError(t, d.WriteMem(a, bytes.Repeat([]byte{0xAA}, 100)))
	require.NoError(t, d.WriteMem(b, bytes.Repeat([]byte{0xBB}, 64)))

	got := make([]byte, 100)
	require.NoError(t, d.ReadMem(a, got))
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 100), got)

	got = make([]byte, 64)
	require.NoError(t, d.ReadMem(b, got))
	assert.Equal(t, bytes.Repeat([]byte{0xBB}, 64), got)
}

func TestDevice_TransferPastPool(t *testing.T) {
	d := newTestDevice(t, Config{PoolSize: 1024, Alignment: 64})

	err := d.WriteMem(1000, make([]byte, 100))
	require.ErrorIs(t, err, ErrOutOfRange)

	err = d.ReadMem(1<<63, make([]byte, 1))
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestDevice_StrictTransfers(t *testing.T) {
	d := newTestDevice(t, Config{PoolSize: 1024, Alignment: 64, StrictTransfers: true})

	off, err := d.Alloc(100) // 128-byte extent
	require.NoError(t, err)

	require.NoError(t, d.WriteMem(off, make([]byte, 128)))

	err = d.WriteMem(off, make([]byte, 129))
	require.ErrorIs(t, err, ErrOutOfRange)

	err = d.WriteMem(off+64, make([]byte, 8))
	require.ErrorIs(t, err, ErrNotAllocated, "interior offsets are not extent starts")

	err = d.ReadMem(512, make([]byte, 8))
	require.ErrorIs(t, err, ErrNotAllocated, "free space")
}

func TestDevice_FreeAndRelease(t *testing.T) {
	var logBuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logBuf, nil))
	d := newTestDevice(t, Config{PoolSize: 1024, Alignment: 64, Logger: log})

	off, err := d.Alloc(100)
	require.NoError(t, err)

	d.Free(999)
	assert.Contains(t, logBuf.String(), "ignored free")
	require.NoError(t, d.Validate())

	d.Free(off)
	assert.Equal(t, []extent.Chunk{{Offset: 0, Size: 1024}}, d.Chunks())

	require.ErrorIs(t, d.Release(off), extent.ErrDoubleFree)
	require.ErrorIs(t, d.Release(5), extent.ErrBadOffset)
}

func TestDevice_AllocFailure(t *testing.T) {
	d := newTestDevice(t, Config{PoolSize: 1024, Alignment: 64})

	_, err := d.Alloc(2000)
	require.ErrorIs(t, err, extent.ErrAllocationFailed)

	_, err = d.Alloc(0)
	require.ErrorIs(t, err, extent.ErrZeroSize)

	assert.Equal(t, 2, d.Stats().AllocFailures)
}

func TestDevice_ElemIndex(t *testing.T) {
	d := newTestDevice(t, Config{PoolSize: 1024, Alignment: 64})

	idx, err := d.ElemIndex(256, 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), idx)

	_, err = d.ElemIndex(100, 16)
	require.ErrorIs(t, err, ErrMisaligned)

	_, err = d.ElemIndex(100, 0)
	require.ErrorIs(t, err, ErrMisaligned)
}

func TestDevice_SyncCoalescesDirtyRanges(t *testing.T) {
	rb := &recordingBuffer{data: make([]byte, 16384)}
	d, err := OpenWithBuffer(Config{PoolSize: 16384, Alignment: 64}, rb)
	require.NoError(t, err)

	require.NoError(t, d.WriteMem(10, []byte("abc")))
	require.NoError(t, d.WriteMem(100, []byte("def")))
	require.NoError(t, d.WriteMem(12288, []byte("ghi")))

	require.NoError(t, d.Sync(context.Background()))
	require.Len(t, rb.flushed, 1)
	assert.Equal(t, []Range{{Off: 0, Len: 4096}, {Off: 12288, Len: 4096}}, rb.flushed[0])

	// Nothing dirty: no second flush.
	require.NoError(t, d.Sync(context.Background()))
	assert.Len(t, rb.flushed, 1)

	require.NoError(t, d.Close())
	assert.True(t, rb.closed)
}

func TestDevice_SyncCancelled(t *testing.T) {
	d := newTestDevice(t, Config{PoolSize: 4096, Alignment: 64})
	require.NoError(t, d.WriteMem(0, []byte{1}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.Sync(ctx), context.Canceled)
}

func TestDevice_BackingFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.bin")
	d, err := Open(Config{PoolSize: 8192, Alignment: 64, BackingFile: path})
	require.NoError(t, err)

	off, err := d.Alloc(4000)
	require.NoError(t, err)
	off2, err := d.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, d.WriteMem(off2, []byte("weights!")))
	require.NoError(t, d.Sync(context.Background()))
	d.Free(off)
	require.NoError(t, d.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("weights!"), data[off2:off2+8])
}

func TestDevice_Closed(t *testing.T) {
	d, err := Open(Config{PoolSize: 1024, Alignment: 64})
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err = d.Alloc(1)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, d.WriteMem(0, []byte{1}), ErrClosed)
	require.ErrorIs(t, d.Release(0), ErrClosed)
	require.ErrorIs(t, d.Sync(context.Background()), ErrClosed)
	d.Free(0) // no panic
}

func TestDevice_ConcurrentAllocFree(t *testing.T) {
	d := newTestDevice(t, Config{PoolSize: 1 << 20, Alignment: 256})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				off, err := d.Alloc(uint64(64 + (w*31+i)%2048))
				if err != nil {
					continue
				}
				_ = d.WriteMem(off, []byte{byte(w)})
				d.Free(off)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, d.Validate())
	assert.Equal(t, []extent.Chunk{{Offset: 0, Size: 1 << 20}}, d.Chunks())
}
