package trace

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// ErrUnknownLabel indicates a reference to a label that is not bound to a
// live allocation.
var ErrUnknownLabel = errors.New("trace: unknown label")

// Target is the pool surface a trace drives. *device.Device satisfies it.
type Target interface {
	Alloc(size uint64) (uint64, error)
	Free(off uint64)
	Release(off uint64) error
	WriteMem(off uint64, src []byte) error
	ReadMem(off uint64, dst []byte) error
}

// Step is the outcome of one op. Err is per-step; a failed step does not stop
// the replay.
type Step struct {
	Index  int
	Op     Op
	Offset uint64 // resolved target, or the offset returned by alloc
	Err    error
}

// Result summarizes a replay.
type Result struct {
	Steps    []Step
	Allocs   int // successful allocs
	Frees    int // free/release ops issued
	Failures int // steps with Err != nil
	Live     map[string]uint64
}

// Run replays ops against t in order. onStep, if non-nil, is called after
// each op. Run stops early only when ctx is cancelled.
func Run(ctx context.Context, t Target, ops []Op, onStep func(Step)) (*Result, error) {
	res := &Result{
		Steps: make([]Step, 0, len(ops)),
		Live:  make(map[string]uint64),
	}

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		step := Step{Index: i, Op: op}
		step.Offset, step.Err = apply(t, op, res.Live)

		switch {
		case step.Err != nil:
			res.Failures++
		case op.Kind == OpAlloc:
			res.Allocs++
		}
		if op.Kind == OpFree || op.Kind == OpRelease {
			res.Frees++
		}

		res.Steps = append(res.Steps, step)
		if onStep != nil {
			onStep(step)
		}
	}
	return res, nil
}

func apply(t Target, op Op, live map[string]uint64) (uint64, error) {
	if op.Kind == OpAlloc {
		off, err := t.Alloc(op.Size)
		if err == nil && op.Label != "" {
			live[op.Label] = off
		}
		return off, err
	}

	off := op.Offset
	if op.Ref != "" {
		var ok bool
		if off, ok = live[op.Ref]; !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownLabel, op.Ref)
		}
	}

	switch op.Kind {
	case OpFree:
		t.Free(off)
		unbind(live, off)
		return off, nil
	case OpRelease:
		if err := t.Release(off); err != nil {
			return off, err
		}
		unbind(live, off)
		return off, nil
	case OpWrite:
		return off, t.WriteMem(off, pattern(off, op.Size))
	case OpRead:
		return off, t.ReadMem(off, make([]byte, op.Size))
	}
	return off, fmt.Errorf("trace: unsupported op %v", op.Kind)
}

// unbind drops every label bound to off, whether the free named it by label
// or by raw offset.
func unbind(live map[string]uint64, off uint64) {
	maps.DeleteFunc(live, func(_ string, v uint64) bool { return v == off })
}

// pattern returns n bytes derived from off so overlapping writes are visible.
func pattern(off, n uint64) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(off + uint64(i))
	}
	return p
}
