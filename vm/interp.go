package vm

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/internal/vmlog"
	"github.com/vbxq/aelys/value"
	"github.com/vbxq/aelys/vmerrors"
)

// Interp is one Aelys execution context: its register stack, call-frame
// stack, global store, GC heap, and manual heap. It is not safe for
// concurrent use — Aelys has no coroutines (see design notes).
type Interp struct {
	cfg Config

	heap   *heap.Heap
	manual *heap.ManualHeap

	globals *globalStore

	regs   []value.Value
	frames []*callFrame

	frameGenCounter uint64
	noGcDepth       int // saturating; EnterNoGc/ExitNoGc balance is verified statically, this just gates maybe_collect at runtime

	diag   *hashDiagnostics
	stdout io.Writer // destination for the Print opcode
}

// New constructs an Interp ready to Call a Finalize()'d Function.
func New(cfg Config) *Interp {
	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Interp{
		cfg:     cfg,
		heap:    heap.New(cfg.InitialGCThreshold, cfg.GCGrowthFactor),
		manual:  heap.NewManualHeap(cfg.ManualHeapLimit),
		globals: newGlobalStore(),
		diag:    newHashDiagnostics(),
		regs:    make([]value.Value, 0, 1024),
		stdout:  stdout,
	}
}

// SetGlobal binds a top-level global by name, e.g. to install a native
// module's exports (see native.Loader) before running any Aelys code.
func (in *Interp) SetGlobal(name string, v value.Value) {
	in.globals.Set(name, v)
}

// Heap exposes the interpreter's GC heap, e.g. for interning host strings
// before boxing them as arguments.
func (in *Interp) Heap() *heap.Heap { return in.heap }

// GCRoots implements heap.RootProvider: every live register across every
// active frame, every live global, and every constant (recursively through
// NestedFuncs) of every function currently on the call stack — a frame's own
// function need not be heap-boxed or captured by any closure to still be
// executing, so its constant pool must be rooted directly rather than relying
// on reachability through some other heap object.
func (in *Interp) GCRoots() []value.Value {
	roots := make([]value.Value, 0, len(in.regs)+8)
	roots = append(roots, in.regs...)
	roots = append(roots, in.globals.gcRootValues()...)
	seen := make(map[*bytecode.Function]bool, len(in.frames))
	for _, fr := range in.frames {
		roots = appendFunctionConstants(roots, fr.fn, seen)
	}
	return roots
}

// appendFunctionConstants appends fn's constants (and, recursively, every
// NestedFuncs constant pool) to roots, skipping functions already visited.
func appendFunctionConstants(roots []value.Value, fn *bytecode.Function, seen map[*bytecode.Function]bool) []value.Value {
	if fn == nil || seen[fn] {
		return roots
	}
	seen[fn] = true
	roots = append(roots, fn.Constants...)
	for _, nested := range fn.NestedFuncs {
		roots = appendFunctionConstants(roots, nested, seen)
	}
	return roots
}

func (in *Interp) maybeCollect() {
	if in.noGcDepth > 0 {
		return
	}
	if in.heap.ShouldCollect() {
		in.heap.Collect(in)
		in.invalidateAllCallGlobalCaches()
	}
}

// invalidateAllCallGlobalCaches implements the chosen design from the
// spec's design notes: inline caches are not scanned as GC roots, so the
// policy is to clear CallGlobal-family caches at the end of every
// collection cycle. The sweep covers the function of every live frame and,
// transitively, their nested functions. Functions reachable only through a
// global or a heap closure, and not from any frame, are not visited; their
// call sites keep their cached targets.
func (in *Interp) invalidateAllCallGlobalCaches() {
	seen := make(map[*bytecode.Function]bool)
	var visit func(fn *bytecode.Function)
	visit = func(fn *bytecode.Function) {
		if fn == nil || seen[fn] {
			return
		}
		seen[fn] = true
		deoptAllCallSites(fn.Code)
		for _, nested := range fn.NestedFuncs {
			visit(nested)
		}
	}
	for _, fr := range in.frames {
		visit(fr.fn)
	}
}

func deoptAllCallSites(code []bytecode.Word) {
	for ip := 0; ip < len(code); ip++ {
		op := bytecode.Decode(code[ip]).Op
		if op == bytecode.OpCallGlobalMono || op == bytecode.OpCallGlobalNative {
			deoptCache(code, ip)
		}
		if op.IsCallGlobalFamily() {
			ip += 2
		}
	}
}

// Call invokes fn (which must already be Finalize()'d) with args and runs
// it to completion, returning its result.
func (in *Interp) Call(fn *bytecode.Function, args []value.Value) (value.Value, error) {
	if !fn.Finalized() {
		return value.Null, vmerrors.New(vmerrors.InvalidBytecode, "function has not been finalized")
	}
	if len(args) != fn.Arity {
		return value.Null, vmerrors.NewArity(fn.Arity, len(args))
	}
	if err := in.pushFrame(fn, nil, args, 0); err != nil {
		return value.Null, err
	}
	return in.run()
}

func (in *Interp) pushFrame(fn *bytecode.Function, cl *heap.Closure, args []value.Value, destReg uint8) error {
	if len(in.frames) >= in.cfg.MaxFrames {
		return vmerrors.New(vmerrors.StackOverflow, "call frame stack exceeded MaxFrames")
	}
	base := len(in.regs)
	in.regs = append(in.regs, make([]value.Value, fn.NumRegisters)...)
	for i, a := range args {
		in.regs[base+i] = a
	}
	in.frameGenCounter++
	fr := &callFrame{fn: fn, closure: cl, base: base, destReg: destReg, gen: in.frameGenCounter}
	in.frames = append(in.frames, fr)
	in.globals.PrepareForFunction(&fn.Globals)
	return nil
}

// popFrame closes every still-open upvalue owned by the popped frame (any
// closure capturing one of its registers keeps working against the closed,
// owned copy) and truncates the register stack back to the frame's base.
func (in *Interp) popFrame() *callFrame {
	fr := in.frames[len(in.frames)-1]
	in.frames = in.frames[:len(in.frames)-1]
	in.closeUpvalsFrom(fr, 0)
	in.regs = in.regs[:fr.base]
	if len(in.frames) > 0 {
		in.globals.PrepareForFunction(&in.frames[len(in.frames)-1].fn.Globals)
	}
	return fr
}

func (in *Interp) top() *callFrame { return in.frames[len(in.frames)-1] }

// run drains the frame stack, executing one instruction at a time until the
// initial Call's frame returns.
func (in *Interp) run() (value.Value, error) {
	baseDepth := len(in.frames) - 1
	var result value.Value
	for len(in.frames) > baseDepth {
		fr := in.top()
		if fr.ip >= len(fr.fn.Code) {
			return value.Null, in.wrapErr(vmerrors.New(vmerrors.InvalidBytecode, "fell off the end of bytecode"))
		}
		done, ret, err := in.step(fr)
		if err != nil {
			return value.Null, in.wrapErr(err)
		}
		if done && len(in.frames) == baseDepth {
			result = ret
			break
		}
	}
	return result, nil
}

func (in *Interp) wrapErr(err error) error {
	re, ok := err.(*vmerrors.RuntimeError)
	if !ok {
		return err
	}
	for i := len(in.frames) - 1; i >= 0; i-- {
		fr := in.frames[i]
		line := fr.fn.Lines.LineFor(uint32(fr.ip))
		re.PushFrame(fr.fn.Name, int(line), 0)
	}
	return re
}

// step executes exactly one instruction of the top frame. It returns
// done=true when this step caused the top frame to return, along with the
// value returned (only meaningful when the returning frame was the
// outermost one Call pushed).
func (in *Interp) step(fr *callFrame) (done bool, ret value.Value, err error) {
	word := fr.fn.Code[fr.ip]
	d := bytecode.Decode(word)
	ip := fr.ip
	fr.ip++

	switch d.Op {

	// ---- Type-specialized arithmetic (unguarded) ---------------------------
	case bytecode.OpAddII:
		fr.setRegister(in.regs, d.A, value.Int(fr.register(in.regs, d.B).AsInt()+fr.register(in.regs, d.C).AsInt()))
	case bytecode.OpSubII:
		fr.setRegister(in.regs, d.A, value.Int(fr.register(in.regs, d.B).AsInt()-fr.register(in.regs, d.C).AsInt()))
	case bytecode.OpMulII:
		fr.setRegister(in.regs, d.A, value.Int(fr.register(in.regs, d.B).AsInt()*fr.register(in.regs, d.C).AsInt()))
	case bytecode.OpDivII:
		divisor := fr.register(in.regs, d.C).AsInt()
		if divisor == 0 {
			return false, value.Null, vmerrors.New(vmerrors.DivisionByZero, "integer division by zero")
		}
		fr.setRegister(in.regs, d.A, value.Int(fr.register(in.regs, d.B).AsInt()/divisor))
	case bytecode.OpAddFF:
		fr.setRegister(in.regs, d.A, value.Float(fr.register(in.regs, d.B).AsFloat()+fr.register(in.regs, d.C).AsFloat()))
	case bytecode.OpSubFF:
		fr.setRegister(in.regs, d.A, value.Float(fr.register(in.regs, d.B).AsFloat()-fr.register(in.regs, d.C).AsFloat()))
	case bytecode.OpMulFF:
		fr.setRegister(in.regs, d.A, value.Float(fr.register(in.regs, d.B).AsFloat()*fr.register(in.regs, d.C).AsFloat()))
	case bytecode.OpDivFF:
		fr.setRegister(in.regs, d.A, value.Float(fr.register(in.regs, d.B).AsFloat()/fr.register(in.regs, d.C).AsFloat()))
	case bytecode.OpModII:
		divisor := fr.register(in.regs, d.C).AsInt()
		if divisor == 0 {
			return false, value.Null, vmerrors.New(vmerrors.DivisionByZero, "integer modulo by zero")
		}
		fr.setRegister(in.regs, d.A, value.Int(fr.register(in.regs, d.B).AsInt()%divisor))
	case bytecode.OpModFF:
		fr.setRegister(in.regs, d.A, value.Float(math.Mod(fr.register(in.regs, d.B).AsFloat(), fr.register(in.regs, d.C).AsFloat())))

	// ---- Guarded arithmetic -------------------------------------------------
	case bytecode.OpAddIIG, bytecode.OpSubIIG, bytecode.OpMulIIG, bytecode.OpDivIIG, bytecode.OpModIIG:
		if err := in.execGuardedIntOp(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpAddFFG, bytecode.OpSubFFG, bytecode.OpMulFFG, bytecode.OpDivFFG, bytecode.OpModFFG:
		if err := in.execGuardedFloatOp(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpAdd:
		if err := in.execGenericAdd(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		if err := in.execGenericArith(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpNeg:
		if err := in.execNeg(fr, d); err != nil {
			return false, value.Null, err
		}

	// ---- Immediate arithmetic -------------------------------------------------
	case bytecode.OpLoadI:
		fr.setRegister(in.regs, d.A, value.Int(int64(int16(d.Imm16))))
	case bytecode.OpAddI:
		fr.setRegister(in.regs, d.A, value.Int(fr.register(in.regs, d.B).AsInt()+int64(int8(d.C))))
	case bytecode.OpSubI:
		fr.setRegister(in.regs, d.A, value.Int(fr.register(in.regs, d.B).AsInt()-int64(int8(d.C))))

	// ---- Bitwise ---------------------------------------------------------------
	case bytecode.OpShl, bytecode.OpShr, bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpBitXor:
		if err := in.execCheckedBitwise(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpBitNot:
		if err := in.execCheckedBitNot(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpShlII, bytecode.OpShrII, bytecode.OpAndII, bytecode.OpOrII, bytecode.OpXorII:
		in.execTypedBitwise(fr, d)
	case bytecode.OpNotI:
		fr.setRegister(in.regs, d.A, value.Int(^fr.register(in.regs, d.B).AsInt()))
	case bytecode.OpShlIImm, bytecode.OpShrIImm, bytecode.OpAndIImm, bytecode.OpOrIImm, bytecode.OpXorIImm:
		in.execTypedBitwiseImm(fr, d)

	// ---- Comparison ----------------------------------------------------------
	case bytecode.OpEq, bytecode.OpNeq, bytecode.OpLt, bytecode.OpLte, bytecode.OpGt, bytecode.OpGte:
		if err := in.execCompare(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpLtImm, bytecode.OpLeImm, bytecode.OpGtImm, bytecode.OpGeImm:
		in.execCompareImm(fr, d)
	case bytecode.OpLtIImm, bytecode.OpLeIImm, bytecode.OpGtIImm, bytecode.OpGeIImm:
		in.execCompareIImm(fr, d)
	case bytecode.OpLtII, bytecode.OpLeII, bytecode.OpGtII, bytecode.OpGeII, bytecode.OpEqII, bytecode.OpNeII:
		in.execTypedCompareInt(fr, d)
	case bytecode.OpLtFF, bytecode.OpLeFF, bytecode.OpGtFF, bytecode.OpGeFF, bytecode.OpEqFF, bytecode.OpNeFF:
		in.execTypedCompareFloat(fr, d)
	case bytecode.OpLtIIG, bytecode.OpLeIIG, bytecode.OpGtIIG, bytecode.OpGeIIG, bytecode.OpEqIIG, bytecode.OpNeIIG:
		if err := in.execGuardedCompareInt(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpLtFFG, bytecode.OpLeFFG, bytecode.OpGtFFG, bytecode.OpGeFFG, bytecode.OpEqFFG, bytecode.OpNeFFG:
		if err := in.execGuardedCompareFloat(fr, d); err != nil {
			return false, value.Null, err
		}

	// ---- Load/move -----------------------------------------------------------
	case bytecode.OpLoadConst:
		fr.setRegister(in.regs, d.A, fr.fn.Constants[d.Imm16])
	case bytecode.OpLoadNull:
		fr.setRegister(in.regs, d.A, value.Null)
	case bytecode.OpLoadTrue:
		fr.setRegister(in.regs, d.A, value.Bool(true))
	case bytecode.OpLoadFalse:
		fr.setRegister(in.regs, d.A, value.Bool(false))
	case bytecode.OpMove:
		fr.setRegister(in.regs, d.A, fr.register(in.regs, d.B))

	// ---- Globals ---------------------------------------------------------------
	case bytecode.OpGetGlobalIdx:
		fr.setRegister(in.regs, d.A, in.globals.GetIndex(int(d.Imm16)))
	case bytecode.OpSetGlobalIdx:
		in.globals.SetIndex(int(d.Imm16), fr.register(in.regs, d.A))
		in.invalidateCallSitesForGlobal(int(d.Imm16))
	case bytecode.OpIncGlobalI:
		cur := in.globals.GetIndex(int(d.Imm16))
		in.globals.SetIndex(int(d.Imm16), value.Int(cur.AsInt()+1))

	// ---- Control flow ------------------------------------------------------
	case bytecode.OpJump:
		fr.ip = int(d.Imm16)
	case bytecode.OpJumpIf:
		if fr.register(in.regs, d.A).Truthy() {
			fr.ip = int(d.Imm16)
		}
	case bytecode.OpJumpIfNot:
		if !fr.register(in.regs, d.A).Truthy() {
			fr.ip = int(d.Imm16)
		}
	case bytecode.OpWhileLoopLt:
		target := int(fr.fn.Code[fr.ip])
		fr.ip++
		if fr.register(in.regs, d.A).AsInt() < fr.register(in.regs, d.B).AsInt() {
			fr.ip = target
		}
	case bytecode.OpForLoopI:
		target := int(fr.fn.Code[fr.ip])
		fr.ip++
		if fr.register(in.regs, d.A).AsInt() >= fr.register(in.regs, d.B).AsInt() {
			fr.ip = target
		}
	case bytecode.OpForLoopIInc:
		target := int(fr.fn.Code[fr.ip])
		fr.ip++
		v := fr.register(in.regs, d.A).AsInt() + 1
		fr.setRegister(in.regs, d.A, value.Int(v))
		fr.ip = target
	case bytecode.OpStringForLoop:
		target := int(fr.fn.Code[fr.ip])
		fr.ip++
		if fr.register(in.regs, d.A).AsInt() < fr.register(in.regs, d.B).AsInt() {
			fr.ip = target
		}

	// ---- Calls --------------------------------------------------------------
	case bytecode.OpCall:
		if err := in.execCall(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpCallGlobal, bytecode.OpCallGlobalMono, bytecode.OpCallGlobalNative:
		if err := in.execCallGlobal(fr, ip, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpCallUpval:
		if err := in.execCallUpval(fr, d, false); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpTailCallUpval:
		if err := in.execCallUpval(fr, d, true); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpReturn:
		retVal := fr.register(in.regs, d.A)
		destReg := fr.destReg
		caller := in.returnTo(retVal, destReg)
		return caller == nil, retVal, nil
	case bytecode.OpReturn0:
		destReg := fr.destReg
		caller := in.returnTo(value.Null, destReg)
		return caller == nil, value.Null, nil

	// ---- Closures / upvalues -------------------------------------------------
	case bytecode.OpMakeClosure:
		if err := in.execMakeClosure(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpGetUpval:
		v, err := in.getUpval(fr, d.B)
		if err != nil {
			return false, value.Null, err
		}
		fr.setRegister(in.regs, d.A, v)
	case bytecode.OpSetUpval:
		// a = source register holding the new value; b = upvalue index.
		if err := in.setUpval(fr, d.B, fr.register(in.regs, d.A)); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpCloseUpvals:
		in.closeUpvalsFrom(fr, d.A)

	// ---- Manual heap ----------------------------------------------------------
	case bytecode.OpAlloc:
		ptr, err := in.manual.Alloc(uint64(fr.register(in.regs, d.B).AsInt()))
		if err != nil {
			return false, value.Null, err
		}
		fr.setRegister(in.regs, d.A, value.Int(int64(ptr)))
	case bytecode.OpFree:
		if err := in.manual.Free(uint64(fr.register(in.regs, d.A).AsInt())); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpLoadMemI:
		addr := uint64(fr.register(in.regs, d.B).AsInt()) + uint64(d.C)
		v, err := in.manual.LoadMem(addr)
		if err != nil {
			return false, value.Null, err
		}
		fr.setRegister(in.regs, d.A, value.Int(int64(v)))
	case bytecode.OpStoreMemI:
		addr := uint64(fr.register(in.regs, d.A).AsInt()) + uint64(d.C)
		if err := in.manual.StoreMem(addr, uint64(fr.register(in.regs, d.B).AsInt())); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpLoadMem:
		addr := uint64(fr.register(in.regs, d.B).AsInt()) + uint64(fr.register(in.regs, d.C).AsInt())
		v, err := in.manual.LoadMem(addr)
		if err != nil {
			return false, value.Null, err
		}
		fr.setRegister(in.regs, d.A, value.Int(int64(v)))
	case bytecode.OpStoreMem:
		addr := uint64(fr.register(in.regs, d.A).AsInt()) + uint64(fr.register(in.regs, d.C).AsInt())
		if err := in.manual.StoreMem(addr, uint64(fr.register(in.regs, d.B).AsInt())); err != nil {
			return false, value.Null, err
		}

	// ---- No-gc regions ----------------------------------------------------------
	case bytecode.OpEnterNoGc:
		if in.noGcDepth < 1<<30 {
			in.noGcDepth++
		}
	case bytecode.OpExitNoGc:
		if in.noGcDepth > 0 {
			in.noGcDepth--
		}

	case bytecode.OpHalt:
		retVal := fr.register(in.regs, d.A)
		destReg := fr.destReg
		caller := in.returnTo(retVal, destReg)
		return caller == nil, retVal, nil

	// ---- Strings ----------------------------------------------------------------
	case bytecode.OpStringLoadChar:
		if err := in.execStringLoadChar(fr, d); err != nil {
			return false, value.Null, err
		}

	// ---- Arrays -------------------------------------------------------------------
	case bytecode.OpArrayNewI, bytecode.OpArrayNewF, bytecode.OpArrayNewB, bytecode.OpArrayNewP:
		in.execArrayNew(fr, d)
	case bytecode.OpArrayLitI, bytecode.OpArrayLitF, bytecode.OpArrayLitB, bytecode.OpArrayLitP:
		in.execArrayLit(fr, d)
	case bytecode.OpArrayGetI, bytecode.OpArrayGetF, bytecode.OpArrayGetB, bytecode.OpArrayGetP:
		if err := in.execArrayGet(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpArrayLoadI, bytecode.OpArrayLoadF, bytecode.OpArrayLoadB, bytecode.OpArrayLoadP:
		if err := in.execArrayLoad(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpArrayStoreI, bytecode.OpArrayStoreF, bytecode.OpArrayStoreB, bytecode.OpArrayStoreP:
		if err := in.execArrayStore(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpArrayLen:
		in.execArrayLen(fr, d)

	// ---- Vecs ---------------------------------------------------------------------
	case bytecode.OpVecNewI, bytecode.OpVecNewF, bytecode.OpVecNewB, bytecode.OpVecNewP:
		in.execVecNew(fr, d)
	case bytecode.OpVecLitI, bytecode.OpVecLitF, bytecode.OpVecLitB, bytecode.OpVecLitP:
		in.execVecLit(fr, d)
	case bytecode.OpVecPushI, bytecode.OpVecPushF, bytecode.OpVecPushB, bytecode.OpVecPushP:
		if err := in.execVecPush(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpVecPopI, bytecode.OpVecPopF, bytecode.OpVecPopB, bytecode.OpVecPopP:
		if err := in.execVecPop(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpVecGetI, bytecode.OpVecGetF, bytecode.OpVecGetB, bytecode.OpVecGetP:
		if err := in.execVecGet(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpVecLoadI, bytecode.OpVecLoadF, bytecode.OpVecLoadB, bytecode.OpVecLoadP:
		if err := in.execVecLoad(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpVecStoreI, bytecode.OpVecStoreF, bytecode.OpVecStoreB, bytecode.OpVecStoreP:
		if err := in.execVecStore(fr, d); err != nil {
			return false, value.Null, err
		}
	case bytecode.OpVecLen:
		in.execVecLen(fr, d)
	case bytecode.OpVecCap:
		in.execVecCap(fr, d)
	case bytecode.OpVecReserve:
		in.execVecReserve(fr, d)

	// ---- Misc ---------------------------------------------------------------------
	case bytecode.OpPrint:
		fmt.Fprintln(in.stdout, fr.register(in.regs, d.A).String())

	default:
		return false, value.Null, vmerrors.New(vmerrors.InvalidBytecode, "unimplemented opcode in dispatch")
	}

	in.maybeCollect()
	return false, value.Null, nil
}

// returnTo pops the current frame and, if a caller remains, writes the
// returned value into its destReg register. It returns the new top frame,
// or nil if the call chain is now empty.
func (in *Interp) returnTo(retVal value.Value, destReg uint8) *callFrame {
	popped := in.popFrame()
	if len(in.frames) == 0 {
		return nil
	}
	caller := in.top()
	caller.setRegister(in.regs, destReg, retVal)
	_ = popped
	return caller
}

var _ = vmlog.Debug
