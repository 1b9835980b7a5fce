package vm

import (
	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
	"github.com/vbxq/aelys/vmerrors"
)

// execMakeClosure implements MakeClosure dest, k_func, upval_count: k_func
// is a constant-pool index holding a NestedFnMarker resolved against
// current_function.nested_functions[idx]; upval_count must equal the
// number of the target function's UpvalueDescs, and each descriptor is
// resolved (a register of this frame, or an upvalue of the enclosing
// closure) into the new heap-allocated Closure.
func (in *Interp) execMakeClosure(fr *callFrame, d bytecode.Decoded) error {
	marker := fr.fn.Constants[d.B]
	if marker.Kind() != value.TagNestedFn {
		return vmerrors.New(vmerrors.InvalidBytecode, "MakeClosure constant is not a nested-function marker")
	}
	idx := marker.AsNestedFnIndex()
	if idx >= uint64(len(fr.fn.NestedFuncs)) {
		return vmerrors.New(vmerrors.InvalidBytecode, "MakeClosure nested function index out of range")
	}
	target := fr.fn.NestedFuncs[idx]
	if int(d.C) != len(target.UpvalueDescs) {
		return vmerrors.New(vmerrors.InvalidBytecode, "MakeClosure upval_count does not match target's upvalue descriptors")
	}

	upvals := make([]heap.Ref, len(target.UpvalueDescs))
	for i, desc := range target.UpvalueDescs {
		if desc.IsLocal {
			upvals[i] = in.captureLocal(fr, desc.Index)
		} else {
			if fr.closure == nil || int(desc.Index) >= len(fr.closure.Upvals) {
				return vmerrors.New(vmerrors.InvalidBytecode, "MakeClosure inherited upvalue index out of range")
			}
			upvals[i] = fr.closure.Upvals[desc.Index]
		}
	}

	ref := in.heap.NewClosure(target, upvals)
	fr.setRegister(in.regs, d.A, value.Ptr(uint64(ref)))
	return nil
}

// captureLocal returns the heap Ref of the open Upvalue sharing register
// reg in fr, allocating one on first capture and reusing it for any later
// closure that captures the same register — the mechanism by which two
// closures created from sibling MakeClosure instructions in the same frame
// observe each other's mutations through a shared upvalue.
func (in *Interp) captureLocal(fr *callFrame, reg uint8) heap.Ref {
	if fr.openUpvals == nil {
		fr.openUpvals = make(map[uint8]heap.Ref)
	}
	if r, ok := fr.openUpvals[reg]; ok {
		return r
	}
	r := in.heap.NewOpenUpvalue(fr.gen, reg)
	fr.openUpvals[reg] = r
	return r
}

// getUpval reads the current value of the idx'th upvalue captured by the
// closure running in fr (open: read the live register it aliases; closed:
// read its owned Value).
func (in *Interp) getUpval(fr *callFrame, idx uint8) (value.Value, error) {
	if fr.closure == nil || int(idx) >= len(fr.closure.Upvals) {
		return value.Null, vmerrors.New(vmerrors.InvalidBytecode, "upvalue index out of range")
	}
	uv := in.heap.Upvalue(fr.closure.Upvals[idx])
	if uv.State == heap.UpvalClosed {
		return uv.Closed, nil
	}
	owner := in.frameByGen(uv.FrameGen)
	if owner == nil {
		// The owning frame already returned without closing this upvalue —
		// a verifier/compiler invariant violation, not a reachable user state.
		return value.Null, vmerrors.New(vmerrors.InvalidBytecode, "open upvalue outlived its owning frame")
	}
	return owner.register(in.regs, uv.Register), nil
}

// setUpval mirrors getUpval for writes.
func (in *Interp) setUpval(fr *callFrame, idx uint8, v value.Value) error {
	if fr.closure == nil || int(idx) >= len(fr.closure.Upvals) {
		return vmerrors.New(vmerrors.InvalidBytecode, "upvalue index out of range")
	}
	uv := in.heap.Upvalue(fr.closure.Upvals[idx])
	if uv.State == heap.UpvalClosed {
		uv.Closed = v
		return nil
	}
	owner := in.frameByGen(uv.FrameGen)
	if owner == nil {
		return vmerrors.New(vmerrors.InvalidBytecode, "open upvalue outlived its owning frame")
	}
	owner.setRegister(in.regs, uv.Register, v)
	return nil
}

func (in *Interp) frameByGen(gen uint64) *callFrame {
	for i := len(in.frames) - 1; i >= 0; i-- {
		if in.frames[i].gen == gen {
			return in.frames[i]
		}
	}
	return nil
}

// closeUpvalsFrom closes every open upvalue fr owns at register index >=
// fromReg: each transitions one-way from Open (aliasing a live register) to
// Closed (owning a copy of that register's current value), per CloseUpvals
// and the implicit full-frame close that happens whenever a frame returns.
func (in *Interp) closeUpvalsFrom(fr *callFrame, fromReg uint8) {
	if fr.openUpvals == nil {
		return
	}
	for reg, ref := range fr.openUpvals {
		if reg < fromReg {
			continue
		}
		uv := in.heap.Upvalue(ref)
		if uv.State == heap.UpvalOpen {
			uv.Closed = fr.register(in.regs, reg)
			uv.State = heap.UpvalClosed
		}
		delete(fr.openUpvals, reg)
	}
}
