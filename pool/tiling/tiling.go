// Package tiling derives allocation alignment from accelerator tile geometry.
//
// The compute unit reads memory in fixed-width tiles: input tiles of
// Batch×BlockIn bytes, weight tiles of BlockIn×BlockOut bytes and accumulator
// tiles of Batch×BlockOut×AccBytes bytes. An extent whose offset is a common
// multiple of all three can hold any of them without padding.
package tiling

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

var (
	// ErrBadGeometry indicates a zero tile dimension.
	ErrBadGeometry = errors.New("tiling: tile dimensions must be > 0")

	// ErrOverflow indicates the derived alignment does not fit in a uint64.
	ErrOverflow = errors.New("tiling: alignment overflows uint64")
)

// Geometry describes the accelerator's tile shape.
type Geometry struct {
	Batch    uint64 // Rows per input/accumulator tile
	BlockIn  uint64 // Input channels per tile (1-byte elements)
	BlockOut uint64 // Output channels per tile
	AccBytes uint64 // Width of an accumulator element in bytes
}

// DefaultGeometry returns the stock 1×16×16 layout with 32-bit accumulators.
func DefaultGeometry() Geometry {
	return Geometry{
		Batch:    1,
		BlockIn:  16,
		BlockOut: 16,
		AccBytes: 4,
	}
}

// Validate reports whether every dimension is non-zero.
func (g Geometry) Validate() error {
	if g.Batch == 0 || g.BlockIn == 0 || g.BlockOut == 0 || g.AccBytes == 0 {
		return fmt.Errorf("%w: %+v", ErrBadGeometry, g)
	}
	return nil
}

// Alignment returns lcm(BlockIn*BlockOut, lcm(BlockIn, BlockOut*AccBytes)*Batch).
//
// Example:
//
//	DefaultGeometry().Alignment() = lcm(256, lcm(16, 64)*1) = 256
func (g Geometry) Alignment() (uint64, error) {
	if err := g.Validate(); err != nil {
		return 0, err
	}

	weight, ok := mul(g.BlockIn, g.BlockOut)
	if !ok {
		return 0, ErrOverflow
	}
	acc, ok := mul(g.BlockOut, g.AccBytes)
	if !ok {
		return 0, ErrOverflow
	}
	io, ok := LCM(g.BlockIn, acc)
	if !ok {
		return 0, ErrOverflow
	}
	io, ok = mul(io, g.Batch)
	if !ok {
		return 0, ErrOverflow
	}
	a, ok := LCM(weight, io)
	if !ok {
		return 0, ErrOverflow
	}
	return a, nil
}

// GCD returns the greatest common divisor of a and b.
func GCD(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// LCM returns the least common multiple of a and b.
// ok is false on overflow. LCM(0, x) is 0.
func LCM(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	return mul(a/GCD(a, b), b)
}

// AlignUp returns n rounded up to the next multiple of a.
//
// Example:
//
//	AlignUp(100, 64) = 128
//	AlignUp(128, 64) = 128
func AlignUp(n, a uint64) (uint64, bool) {
	if a == 0 {
		return 0, false
	}
	r := n % a
	if r == 0 {
		return n, true
	}
	if n > math.MaxUint64-(a-r) {
		return 0, false
	}
	return n + (a - r), true
}

func mul(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}
