// Package heap implements Aelys's tracing-GC object arena, string interning,
// and the separate manual (Alloc/Free) heap used by manual-memory opcodes.
//
// Heap objects are never referenced by machine pointer. Every reference is a
// Ref — an opaque index into a growable slice — so the garbage collector can
// relocate, compact, or simply mark-and-sweep without invalidating any Value
// that holds a Ptr tag, and so cyclic graphs (closures capturing upvalues
// capturing closures) can be marked iteratively without host-stack recursion.
package heap

import (
	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/value"
)

// Ref is an arena index into the Heap's object table.
type Ref uint64

// Kind distinguishes the live variants of a heap Object.
type Kind uint8

const (
	KindString Kind = iota
	KindFunction
	KindNative
	KindUpvalue
	KindClosure
	KindArray
	KindVec
)

// NativeFn is a host function export registered by a loaded native module.
type NativeFn struct {
	Name  string
	Arity int
	Fn    func(args []value.Value) (value.Value, error)
}

// UpvalueState distinguishes an upvalue still aliasing a live stack register
// from one that has been closed and now owns its Value directly.
type UpvalueState uint8

const (
	UpvalOpen UpvalueState = iota
	UpvalClosed
)

// Upvalue is either an open reference into a CallFrame's registers (by frame
// generation + register index, resolved through the owning frame) or, once
// closed, an owned Value.
type Upvalue struct {
	State    UpvalueState
	FrameGen uint64 // identifies the frame that owns the aliased register, while open
	Register uint8
	Closed   value.Value
}

// Closure pairs a compiled Function with the heap refs of its captured
// upvalues, in UpvalueDesc order.
type Closure struct {
	Func    *bytecode.Function
	Upvals  []Ref // each points to a KindUpvalue object
}

// Array is a fixed-length Value slice, Aelys's zero-filled composite value
// type. Its length never changes after NewArray.
type Array struct {
	Elems []value.Value
}

// Vec is Aelys's growable composite value type: Push/Pop change its logical
// length, and Reserve grows its underlying capacity ahead of time without
// changing that length, mirroring how a Go slice separates len from cap.
type Vec struct {
	Elems []value.Value
}

// Len reports the vec's current logical length.
func (v *Vec) Len() int { return len(v.Elems) }

// Cap reports the vec's current underlying capacity.
func (v *Vec) Cap() int { return cap(v.Elems) }

// Push appends val, growing the underlying slice if needed.
func (v *Vec) Push(val value.Value) {
	v.Elems = append(v.Elems, val)
}

// Pop removes and returns the last element. ok is false on an empty vec.
func (v *Vec) Pop() (val value.Value, ok bool) {
	n := len(v.Elems)
	if n == 0 {
		return value.Null, false
	}
	val = v.Elems[n-1]
	v.Elems = v.Elems[:n-1]
	return val, true
}

// Reserve ensures the vec's capacity can hold at least n more elements
// beyond its current length without reallocating again.
func (v *Vec) Reserve(n int) {
	want := len(v.Elems) + n
	if cap(v.Elems) >= want {
		return
	}
	grown := make([]value.Value, len(v.Elems), want)
	copy(grown, v.Elems)
	v.Elems = grown
}

// object is the tagged union stored in the arena, plus the GC mark bit.
type object struct {
	kind   Kind
	marked bool

	str      string
	fn       *bytecode.Function
	native   *NativeFn
	upvalue  *Upvalue
	closure  *Closure
	array    *Array
	vec      *Vec
}

// Heap is the single GC-managed object arena for one VM instance.
type Heap struct {
	objects []object
	free    []Ref // freelist of slots reclaimed by the last sweep

	intern *internTable

	bytesAllocated  uint64
	nextGCThreshold uint64
	growthFactor    float64

	gcCycles uint64
}

// New creates an empty Heap with the given initial GC threshold (bytes) and
// growth factor (e.g. 2.0 doubles the threshold after every collection).
func New(initialThreshold uint64, growthFactor float64) *Heap {
	return &Heap{
		intern:          newInternTable(),
		nextGCThreshold: initialThreshold,
		growthFactor:    growthFactor,
	}
}

func (h *Heap) alloc(o object) Ref {
	if n := len(h.free); n > 0 {
		idx := h.free[n-1]
		h.free = h.free[:n-1]
		h.objects[idx] = o
		return idx
	}
	h.objects = append(h.objects, o)
	return Ref(len(h.objects) - 1)
}

// InternString returns the Ref of the unique heap String object holding s,
// allocating one on first sight. Two Values boxing the same string content
// always compare Ref-equal afterward.
func (h *Heap) InternString(s string) Ref {
	if r, ok := h.intern.lookup(s); ok {
		return r
	}
	r := h.alloc(object{kind: KindString, str: s})
	h.intern.insert(s, r)
	h.bytesAllocated += uint64(len(s))
	return r
}

// NewFunction heap-allocates a Function object (used for top-level/module
// functions that closures may reference as nested_functions targets).
func (h *Heap) NewFunction(fn *bytecode.Function) Ref {
	h.bytesAllocated += 64
	return h.alloc(object{kind: KindFunction, fn: fn})
}

// NewNative heap-allocates a native export.
func (h *Heap) NewNative(n *NativeFn) Ref {
	h.bytesAllocated += 32
	return h.alloc(object{kind: KindNative, native: n})
}

// NewOpenUpvalue heap-allocates an upvalue aliasing a live register.
func (h *Heap) NewOpenUpvalue(frameGen uint64, register uint8) Ref {
	h.bytesAllocated += 24
	return h.alloc(object{kind: KindUpvalue, upvalue: &Upvalue{State: UpvalOpen, FrameGen: frameGen, Register: register}})
}

// NewClosure heap-allocates a closure.
func (h *Heap) NewClosure(fn *bytecode.Function, upvals []Ref) Ref {
	h.bytesAllocated += uint64(16 + 8*len(upvals))
	return h.alloc(object{kind: KindClosure, closure: &Closure{Func: fn, Upvals: upvals}})
}

// NewArray heap-allocates an array with the given initial length, zero-filled
// with Null.
func (h *Heap) NewArray(length int) Ref {
	return h.NewArrayTyped(length, bytecode.ElemP)
}

// NewArrayTyped heap-allocates an array with the given initial length,
// zero-filled with the zero value ArrayNewT's element kind implies (Int(0),
// Float(0), Bool(false), or Null for a pointer slot).
func (h *Heap) NewArrayTyped(length int, k bytecode.ElemKind) Ref {
	elems := make([]value.Value, length)
	zero := zeroForElemKind(k)
	for i := range elems {
		elems[i] = zero
	}
	h.bytesAllocated += uint64(8 * length)
	return h.alloc(object{kind: KindArray, array: &Array{Elems: elems}})
}

// NewVec heap-allocates an empty, growable vec with the given initial
// reserved capacity.
func (h *Heap) NewVec(capacity int) Ref {
	h.bytesAllocated += uint64(8 * capacity)
	return h.alloc(object{kind: KindVec, vec: &Vec{Elems: make([]value.Value, 0, capacity)}})
}

func zeroForElemKind(k bytecode.ElemKind) value.Value {
	switch k {
	case bytecode.ElemI:
		return value.Int(0)
	case bytecode.ElemF:
		return value.Float(0)
	case bytecode.ElemB:
		return value.Bool(false)
	default:
		return value.Null
	}
}

func (h *Heap) obj(r Ref) *object {
	return &h.objects[r]
}

func (h *Heap) Kind(r Ref) Kind { return h.obj(r).kind }

func (h *Heap) String(r Ref) string       { return h.obj(r).str }
func (h *Heap) Function(r Ref) *bytecode.Function { return h.obj(r).fn }
func (h *Heap) Native(r Ref) *NativeFn    { return h.obj(r).native }
func (h *Heap) Upvalue(r Ref) *Upvalue    { return h.obj(r).upvalue }
func (h *Heap) Closure(r Ref) *Closure    { return h.obj(r).closure }
func (h *Heap) Array(r Ref) *Array        { return h.obj(r).array }
func (h *Heap) Vec(r Ref) *Vec             { return h.obj(r).vec }

// BytesAllocated returns the GC's running estimate of live-object bytes,
// used to decide when maybe_collect should run.
func (h *Heap) BytesAllocated() uint64 { return h.bytesAllocated }

// ShouldCollect reports whether allocation has crossed the current
// threshold. A no-gc region (tracked by the VM, not the Heap) may suppress
// acting on this even when true.
func (h *Heap) ShouldCollect() bool { return h.bytesAllocated >= h.nextGCThreshold }

// GCCycles returns the number of completed collections, for diagnostics and
// tests (S5 asserts throwaway allocations get reclaimed).
func (h *Heap) GCCycles() uint64 { return h.gcCycles }
