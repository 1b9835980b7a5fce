package vm

import (
	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
	"github.com/vbxq/aelys/vmerrors"
)

// execCall implements the generic Call dest, callee_reg, nargs: callee must
// be a Ptr to a heap Function, Closure, or Native; arguments occupy the
// nargs registers immediately following callee_reg in the caller's frame.
func (in *Interp) execCall(fr *callFrame, d bytecode.Decoded) error {
	callee := fr.register(in.regs, d.B)
	args := in.gatherArgs(fr, d.B+1, d.C)
	return in.dispatchCall(callee, args, d.A)
}

func (in *Interp) gatherArgs(fr *callFrame, start, n uint8) []value.Value {
	args := make([]value.Value, n)
	for i := uint8(0); i < n; i++ {
		args[i] = fr.register(in.regs, start+i)
	}
	return args
}

// dispatchCall resolves callee's runtime kind and either pushes a new frame
// (Function/Closure) or invokes the native function directly, storing its
// result in the caller's destReg register without consuming a frame slot.
func (in *Interp) dispatchCall(callee value.Value, args []value.Value, destReg uint8) error {
	p, ok := callee.AsPtr()
	if !ok {
		return vmerrors.NewType("call", "function, closure, or native", callee.Kind().String())
	}
	ref := heap.Ref(p)
	switch in.heap.Kind(ref) {
	case heap.KindFunction:
		return in.callFunction(in.heap.Function(ref), nil, args, destReg)
	case heap.KindClosure:
		cl := in.heap.Closure(ref)
		return in.callFunction(cl.Func, cl, args, destReg)
	case heap.KindNative:
		return in.callNativeInline(in.heap.Native(ref), args, destReg)
	default:
		return vmerrors.NewType("call", "function, closure, or native", "other")
	}
}

func (in *Interp) callFunction(fn *bytecode.Function, cl *heap.Closure, args []value.Value, destReg uint8) error {
	if len(args) != fn.Arity {
		return vmerrors.NewArity(fn.Arity, len(args))
	}
	return in.pushFrame(fn, cl, args, destReg)
}

// callNativeInline invokes a native export and stores its result directly
// into the *caller's* currently-top frame's destReg — natives never push a
// call frame of their own.
func (in *Interp) callNativeInline(n *heap.NativeFn, args []value.Value, destReg uint8) error {
	if len(args) != n.Arity {
		return vmerrors.NewArity(n.Arity, len(args))
	}
	result, err := n.Fn(args)
	if err != nil {
		return err
	}
	in.top().setRegister(in.regs, destReg, result)
	return nil
}

// ---- CallGlobal polymorphic inline cache protocol ---------------------------

// execCallGlobal implements the self-modifying CallGlobal/CallGlobalMono/
// CallGlobalNative family. Each call site is 3 instruction words (see
// cache.go); on first resolution the opcode byte of word[0] is rewritten in
// place to the specialized Mono/Native form and word[2] stores the resolved
// target's heap.Ref. A target mismatch on a later hit deoptimizes the site
// back to CallGlobal and restarts this same instruction so it re-resolves.
func (in *Interp) execCallGlobal(fr *callFrame, ip int, d bytecode.Decoded) error {
	globalIdx := callGlobalIdx(fr.fn.Code, ip)
	nargs := callGlobalNargs(fr.fn.Code, ip)
	dest := d.A

	// Every path below either commits to the call (and must skip the two
	// reserved cache words before the callee's frame starts executing at
	// ip 0) or deoptimizes and restarts this same instruction from ip, so
	// it can re-resolve against whatever the global now holds.
	switch d.Op {
	case bytecode.OpCallGlobalMono:
		ref := heap.Ref(readCacheTarget(fr.fn.Code, ip))
		current := in.globals.GetIndex(globalIdx)
		p, ok := current.AsPtr()
		if !ok || heap.Ref(p) != ref {
			deoptCache(fr.fn.Code, ip)
			fr.ip = ip
			return nil
		}
		fr.ip = ip + 3
		return in.callCachedFunctionOrClosure(fr, ref, nargs, dest)

	case bytecode.OpCallGlobalNative:
		ref := heap.Ref(readCacheTarget(fr.fn.Code, ip))
		current := in.globals.GetIndex(globalIdx)
		p, ok := current.AsPtr()
		if !ok || heap.Ref(p) != ref || in.heap.Kind(ref) != heap.KindNative {
			deoptCache(fr.fn.Code, ip)
			fr.ip = ip
			return nil
		}
		fr.ip = ip + 3
		return in.callCachedNative(fr, ref, nargs, dest)

	default: // bytecode.OpCallGlobal — unresolved, or just deoptimized
		target := in.globals.GetIndex(globalIdx)
		p, ok := target.AsPtr()
		if !ok {
			return vmerrors.NewType("call_global", "function, closure, or native", target.Kind().String())
		}
		ref := heap.Ref(p)
		switch in.heap.Kind(ref) {
		case heap.KindFunction, heap.KindClosure:
			fr.fn.Code[ip] = bytecode.Encode(bytecode.OpCallGlobalMono, d.A, d.B, d.C)
			writeCacheTarget(fr.fn.Code, ip, p)
			in.diag.observe(fr.fn.Globals, fr.fn.Name)
			fr.ip = ip + 3
			return in.callCachedFunctionOrClosure(fr, ref, nargs, dest)
		case heap.KindNative:
			fr.fn.Code[ip] = bytecode.Encode(bytecode.OpCallGlobalNative, d.A, d.B, d.C)
			writeCacheTarget(fr.fn.Code, ip, p)
			in.diag.observe(fr.fn.Globals, fr.fn.Name)
			fr.ip = ip + 3
			return in.callCachedNative(fr, ref, nargs, dest)
		default:
			return vmerrors.NewType("call_global", "function, closure, or native", "other")
		}
	}
}

// callCachedFunctionOrClosure is the fast path once a site is known to
// target a live Function or Closure: gather args, push a fresh frame. This
// mirrors the original runtime's call_cached_function/call_cached_closure
// shape of "copy args, prepare_globals_for_function, push frame".
func (in *Interp) callCachedFunctionOrClosure(fr *callFrame, ref heap.Ref, nargs uint8, dest uint8) error {
	args := in.gatherArgs(fr, dest+1, nargs)
	switch in.heap.Kind(ref) {
	case heap.KindFunction:
		return in.callFunction(in.heap.Function(ref), nil, args, dest)
	case heap.KindClosure:
		cl := in.heap.Closure(ref)
		return in.callFunction(cl.Func, cl, args, dest)
	}
	return vmerrors.New(vmerrors.TypeError, "cached call-global target is neither function nor closure")
}

func (in *Interp) callCachedNative(fr *callFrame, ref heap.Ref, nargs uint8, dest uint8) error {
	args := in.gatherArgs(fr, dest+1, nargs)
	return in.callNativeInline(in.heap.Native(ref), args, dest)
}

// ---- CallUpval / TailCallUpval ---------------------------------------------

// execCallUpval implements CallUpval/TailCallUpval: B names the upvalue
// index (not a register) holding the callee closure, C is nargs, arguments
// occupy registers [A+1, A+1+nargs). When tailCall is true the current
// frame is reused in place rather than pushing a new one. Either way callee
// arity must match nargs exactly, the same check the ordinary Call path
// makes (per spec: "arity-must-match assertion").
func (in *Interp) execCallUpval(fr *callFrame, d bytecode.Decoded, tailCall bool) error {
	v, err := in.getUpval(fr, d.B)
	if err != nil {
		return err
	}
	p, ok := v.AsPtr()
	if !ok || in.heap.Kind(heap.Ref(p)) != heap.KindClosure {
		return vmerrors.NewType("call_upval", "closure", v.Kind().String())
	}
	cl := in.heap.Closure(heap.Ref(p))
	args := in.gatherArgs(fr, d.A+1, d.C)

	if !tailCall {
		return in.callFunction(cl.Func, cl, args, d.A)
	}

	if len(args) != cl.Func.Arity {
		return vmerrors.NewArity(cl.Func.Arity, len(args))
	}
	return in.reuseFrameForTailCall(fr, cl.Func, cl, args)
}

// reuseFrameForTailCall implements TailCallUpval's no-push semantics: the
// current frame's registers are replaced in place and its ip reset to 0,
// rather than growing the frame stack.
func (in *Interp) reuseFrameForTailCall(fr *callFrame, fn *bytecode.Function, cl *heap.Closure, args []value.Value) error {
	in.closeUpvalsFrom(fr, 0)
	needed := fr.base + fn.NumRegisters
	if needed > len(in.regs) {
		in.regs = append(in.regs, make([]value.Value, needed-len(in.regs))...)
	}
	for i := fr.base; i < needed; i++ {
		in.regs[i] = value.Null
	}
	for i, a := range args {
		in.regs[fr.base+i] = a
	}
	fr.fn = fn
	fr.closure = cl
	fr.ip = 0
	fr.openUpvals = nil
	in.globals.PrepareForFunction(&fn.Globals)
	return nil
}

// invalidateCallSitesForGlobal implements the spec's SetGlobal/SetGlobalIdx
// invalidation trigger: every resolved CallGlobal-family site across the
// live call chain that is bound to this global index deoptimizes, since the
// slot it cached may now point somewhere else.
func (in *Interp) invalidateCallSitesForGlobal(idx int) {
	seen := make(map[*bytecode.Function]bool)
	var visit func(fn *bytecode.Function)
	visit = func(fn *bytecode.Function) {
		if fn == nil || seen[fn] {
			return
		}
		seen[fn] = true
		code := fn.Code
		for ip := 0; ip < len(code); ip++ {
			op := bytecode.Decode(code[ip]).Op
			if op.IsCallGlobalFamily() {
				if op != bytecode.OpCallGlobal && callGlobalIdx(code, ip) == idx {
					deoptCache(code, ip)
				}
				ip += 2
			}
		}
		for _, nested := range fn.NestedFuncs {
			visit(nested)
		}
	}
	for _, f := range in.frames {
		visit(f.fn)
	}
}
