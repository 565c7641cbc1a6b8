// Package device is the host-side owner of an accelerator memory pool.
//
// A Device pairs the physical pool Buffer with the extent allocator that
// carves it up. Callers allocate extents, move bytes in and out with
// WriteMem/ReadMem at the returned offsets, and free extents when the data is
// no longer needed on the accelerator:
//
//	d, err := device.Open(device.Config{PoolSize: 1 << 20})
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
//
//	off, err := d.Alloc(uint64(len(weights)))
//	if err != nil {
//	    return err
//	}
//	if err := d.WriteMem(off, weights); err != nil {
//	    return err
//	}
//	defer d.Free(off)
//
// # Alignment
//
// The allocation granularity is derived once from the accelerator's tile
// geometry (see package tiling) unless Config.Alignment overrides it.
//
// # Thread Safety
//
// All Device methods are safe for concurrent use; a single mutex serializes
// allocator and buffer access.
package device
