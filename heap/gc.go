package heap

import (
	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/internal/vmlog"
	"github.com/vbxq/aelys/value"
)

// RootProvider supplies every Value the collector must treat as reachable:
// live registers across the call-frame stack, the global store, and any
// currently-open upvalues. The VM implements this; Heap has no notion of
// frames or globals itself.
type RootProvider interface {
	GCRoots() []value.Value
}

// Collect runs a full mark-sweep cycle. Marking is iterative (an explicit
// worklist, not recursive calls) specifically so a deeply nested or cyclic
// graph of closures and upvalues cannot blow the host Go stack. After every
// collection the caller (the VM) must clear all CallGlobal inline caches —
// Heap does not do this itself since caches live in bytecode.Function.Code,
// which the Heap does not own, but GCCycles()/ShouldCollect() exist so the
// VM can detect "a collection just happened" and react.
func (h *Heap) Collect(roots RootProvider) {
	h.gcCycles++
	for i := range h.objects {
		h.objects[i].marked = false
	}

	var worklist []Ref
	markValue := func(v value.Value) {
		if p, ok := v.AsPtr(); ok {
			worklist = append(worklist, Ref(p))
		}
	}
	for _, v := range roots.GCRoots() {
		markValue(v)
	}

	for len(worklist) > 0 {
		r := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if int(r) >= len(h.objects) {
			continue
		}
		o := &h.objects[r]
		if o.marked {
			continue
		}
		o.marked = true

		switch o.kind {
		case KindClosure:
			for _, uv := range o.closure.Upvals {
				worklist = append(worklist, uv)
			}
			markFunctionConstants(o.closure.Func, markValue)
		case KindUpvalue:
			if o.upvalue.State == UpvalClosed {
				markValue(o.upvalue.Closed)
			}
		case KindArray:
			for _, e := range o.array.Elems {
				markValue(e)
			}
		case KindVec:
			for _, e := range o.vec.Elems {
				markValue(e)
			}
		case KindFunction:
			markFunctionConstants(o.fn, markValue)
		}
	}

	reclaimed := 0
	var liveBytes uint64
	for i := range h.objects {
		if h.objects[i].marked {
			liveBytes += objectSize(&h.objects[i])
			continue
		}
		if h.objects[i].kind == KindString && h.objects[i].str != "" {
			delete(h.intern.backstop, h.objects[i].str)
			h.intern.fast.Del([]byte(h.objects[i].str))
		}
		if isEmpty(&h.objects[i]) {
			continue // already-freed slot, nothing to reclaim again
		}
		h.objects[i] = object{}
		h.free = append(h.free, Ref(i))
		reclaimed++
	}

	h.bytesAllocated = liveBytes
	h.nextGCThreshold = uint64(float64(liveBytes+1) * h.growthFactor)

	vmlog.Debug("gc cycle complete", "cycle", h.gcCycles, "reclaimed", reclaimed, "live_bytes", liveBytes)
}

// markFunctionConstants marks every Ptr-valued constant of fn, recursing
// into fn.NestedFuncs, so a closure's own constant pool and every function it
// could still MakeClosure over stay reachable as long as the closure (or the
// top-level heap-boxed function) is reachable — even when no live register
// or global currently holds the constant directly.
func markFunctionConstants(fn *bytecode.Function, markValue func(value.Value)) {
	if fn == nil {
		return
	}
	for _, c := range fn.Constants {
		markValue(c)
	}
	for _, nested := range fn.NestedFuncs {
		markFunctionConstants(nested, markValue)
	}
}

func isEmpty(o *object) bool {
	return o.kind == KindString && o.str == "" && o.fn == nil && o.native == nil && o.upvalue == nil && o.closure == nil && o.array == nil && o.vec == nil
}

func objectSize(o *object) uint64 {
	switch o.kind {
	case KindString:
		return uint64(len(o.str))
	case KindClosure:
		return uint64(16 + 8*len(o.closure.Upvals))
	case KindArray:
		return uint64(8 * len(o.array.Elems))
	case KindVec:
		return uint64(8 * cap(o.vec.Elems))
	case KindUpvalue:
		return 24
	case KindFunction:
		return 64
	case KindNative:
		return 32
	default:
		return 0
	}
}
