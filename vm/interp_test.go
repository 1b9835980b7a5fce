package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
)

// TestLoopToFiftyFive exercises the WhileLoopLt superinstruction's 2-word
// encoding: sum 1..10 using a do-while-shaped accumulation loop.
func TestLoopToFiftyFive(t *testing.T) {
	fn := &bytecode.Function{
		Name:         "loop",
		NumRegisters: 4,
		Constants:    []value.Value{value.Int(0), value.Int(1), value.Int(11)},
		Code: []bytecode.Word{
			bytecode.EncodeWide(bytecode.OpLoadConst, 0, 0), // r0 = 0 (sum)
			bytecode.EncodeWide(bytecode.OpLoadConst, 1, 1), // r1 = 1 (i)
			bytecode.EncodeWide(bytecode.OpLoadConst, 2, 2), // r2 = 11 (limit)
			bytecode.EncodeWide(bytecode.OpLoadConst, 3, 1), // r3 = 1 (step)
			bytecode.Encode(bytecode.OpAddII, 0, 0, 1),      // body: sum += i
			bytecode.Encode(bytecode.OpAddII, 1, 1, 3),      //       i += 1
			bytecode.Encode(bytecode.OpWhileLoopLt, 1, 2, 0),
			bytecode.Word(4), // branch target: body start
			bytecode.Encode(bytecode.OpReturn, 0, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout(nil),
	}
	require.NoError(t, bytecode.Finalize(fn))

	in := New(DefaultConfig())
	result, err := in.Call(fn, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(55), result.AsInt())
}

// buildFactorial constructs a recursive factorial function that calls
// itself through the CallGlobal polymorphic-inline-cache protocol, bound
// to the global name "fact".
func buildFactorial() *bytecode.Function {
	return &bytecode.Function{
		Name:         "fact",
		Arity:        1,
		NumRegisters: 6, // r0=n r1=one r2=cmp r3=n-1 r4=callDest/result r5=argSlot
		Constants:    []value.Value{value.Int(1)},
		Code: []bytecode.Word{
			bytecode.EncodeWide(bytecode.OpLoadConst, 1, 0), // r1 = 1
			bytecode.Encode(bytecode.OpLte, 2, 0, 1),        // r2 = n <= 1
			bytecode.EncodeWide(bytecode.OpJumpIfNot, 2, 4), // if !r2 goto else(4)
			bytecode.Encode(bytecode.OpReturn, 1, 0, 0),     // base case: return 1
			bytecode.Encode(bytecode.OpSubIIG, 3, 0, 1),     // else: r3 = n-1
			bytecode.Encode(bytecode.OpMove, 5, 3, 0),       // r5 = r3 (call arg slot)
			bytecode.Encode(bytecode.OpCallGlobal, 4, 1, 0), // r4 = fact(r5)
			bytecode.Word(0),                                // global index (fact)
			bytecode.Word(0),                                // cache target, initially unresolved
			bytecode.Encode(bytecode.OpMulIIG, 4, 0, 4),     // r4 = n * r4
			bytecode.Encode(bytecode.OpReturn, 4, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout([]string{"fact"}),
	}
}

func TestRecursiveFactorialViaCallGlobal(t *testing.T) {
	fn := buildFactorial()
	require.NoError(t, bytecode.Finalize(fn))

	in := New(DefaultConfig())
	ref := in.Heap().NewFunction(fn)
	in.SetGlobal("fact", value.Ptr(uint64(ref)))

	result, err := in.Call(fn, []value.Value{value.Int(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(120), result.AsInt())
}

// TestRecursiveFactorialSurvivesMidRunGC forces a GC cycle to fire during
// execution (a tiny InitialGCThreshold) and asserts the CallGlobal site
// still resolves correctly afterward: the cycle must deoptimize every
// live call site, and the next hit must re-mono-ize and keep working.
func TestRecursiveFactorialSurvivesMidRunGC(t *testing.T) {
	fn := buildFactorial()
	require.NoError(t, bytecode.Finalize(fn))

	cfg := DefaultConfig()
	cfg.InitialGCThreshold = 1
	in := New(cfg)
	ref := in.Heap().NewFunction(fn)
	in.SetGlobal("fact", value.Ptr(uint64(ref)))

	result, err := in.Call(fn, []value.Value{value.Int(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(120), result.AsInt())
	assert.GreaterOrEqual(t, in.Heap().GCCycles(), uint64(1))
}

// TestClosureUpvalueSharing builds two sibling closures (inc/get) that
// capture the same outer local register, verifying writes through one
// closure's upvalue are visible through the other's — both created before
// either mutates the shared counter (pre-close visibility into the still-
// live enclosing frame).
func TestClosureUpvalueSharing(t *testing.T) {
	inc := &bytecode.Function{
		Name:         "inc",
		NumRegisters: 2,
		Constants:    []value.Value{value.Int(1)},
		UpvalueDescs: []bytecode.UpvalueDesc{{IsLocal: true, Index: 0}},
		Code: []bytecode.Word{
			bytecode.Encode(bytecode.OpGetUpval, 0, 0, 0),
			bytecode.EncodeWide(bytecode.OpLoadConst, 1, 0),
			bytecode.Encode(bytecode.OpAddII, 0, 0, 1),
			bytecode.Encode(bytecode.OpSetUpval, 0, 0, 0),
			bytecode.Encode(bytecode.OpReturn0, 0, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout(nil),
	}
	get := &bytecode.Function{
		Name:         "get",
		NumRegisters: 1,
		UpvalueDescs: []bytecode.UpvalueDesc{{IsLocal: true, Index: 0}},
		Code: []bytecode.Word{
			bytecode.Encode(bytecode.OpGetUpval, 0, 0, 0),
			bytecode.Encode(bytecode.OpReturn, 0, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout(nil),
	}
	outer := &bytecode.Function{
		Name:         "counter_test",
		NumRegisters: 4, // r0=count r1=incClosure r2=getClosure r3=call result
		Constants:    []value.Value{value.NestedFn(0), value.NestedFn(1), value.Int(0)},
		Code: []bytecode.Word{
			bytecode.EncodeWide(bytecode.OpLoadConst, 0, 2), // r0 = 0
			bytecode.Encode(bytecode.OpMakeClosure, 1, 0, 1),
			bytecode.Encode(bytecode.OpMakeClosure, 2, 1, 1),
			bytecode.Encode(bytecode.OpCall, 3, 1, 0), // call inc
			bytecode.Encode(bytecode.OpCall, 3, 1, 0), // call inc again
			bytecode.Encode(bytecode.OpCall, 3, 2, 0), // call get
			bytecode.Encode(bytecode.OpReturn, 3, 0, 0),
		},
		NestedFuncs: []*bytecode.Function{inc, get},
		Globals:     bytecode.NewGlobalLayout(nil),
	}
	require.NoError(t, bytecode.Finalize(outer))

	in := New(DefaultConfig())
	result, err := in.Call(outer, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.AsInt())
}

// TestNaNIsFalsy mirrors spec's NaN/falsy-safety requirement: a NaN-
// producing float operation yields the canonical NaN float, which is
// falsy and must take the JumpIfNot branch like any other falsy value.
func TestNaNIsFalsy(t *testing.T) {
	fn := &bytecode.Function{
		Name:         "nan_check",
		NumRegisters: 4,
		Constants:    []value.Value{value.Float(0), value.Int(1), value.Int(0)},
		Code: []bytecode.Word{
			bytecode.EncodeWide(bytecode.OpLoadConst, 0, 0), // r0 = 0.0
			bytecode.EncodeWide(bytecode.OpLoadConst, 1, 0), // r1 = 0.0
			bytecode.Encode(bytecode.OpDivFF, 2, 0, 1),      // r2 = 0.0/0.0 -> NaN (falsy)
			bytecode.EncodeWide(bytecode.OpJumpIfNot, 2, 6), // falsy -> goto 6
			bytecode.EncodeWide(bytecode.OpLoadConst, 3, 1), // (unreached) r3 = 1
			bytecode.Encode(bytecode.OpReturn, 3, 0, 0),
			bytecode.EncodeWide(bytecode.OpLoadConst, 3, 2), // r3 = 0
			bytecode.Encode(bytecode.OpReturn, 3, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout(nil),
	}
	require.NoError(t, bytecode.Finalize(fn))

	in := New(DefaultConfig())
	result, err := in.Call(fn, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.AsInt())
}

func TestDivisionByZeroIsRuntimeError(t *testing.T) {
	fn := &bytecode.Function{
		Name:         "div_zero",
		NumRegisters: 3,
		Constants:    []value.Value{value.Int(1), value.Int(0)},
		Code: []bytecode.Word{
			bytecode.EncodeWide(bytecode.OpLoadConst, 0, 0),
			bytecode.EncodeWide(bytecode.OpLoadConst, 1, 1),
			bytecode.Encode(bytecode.OpDivII, 2, 0, 1),
			bytecode.Encode(bytecode.OpReturn, 2, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout(nil),
	}
	require.NoError(t, bytecode.Finalize(fn))

	in := New(DefaultConfig())
	_, err := in.Call(fn, nil)
	require.Error(t, err)
}

// TestGCKeepsExecutingFrameConstantsAlive builds a function whose own
// constant pool holds the only reference to an interned string — the
// function is never heap-boxed (no NewFunction/NewClosure), so the string is
// reachable only via GCRoots walking the live call stack's function constant
// pools, not via any register or global at the moment the collection runs.
func TestGCKeepsExecutingFrameConstantsAlive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialGCThreshold = 1
	in := New(cfg)
	strRef := in.Heap().InternString("unreferenced-by-any-register")

	fn := &bytecode.Function{
		Name:         "touches_constants",
		NumRegisters: 1,
		Constants:    []value.Value{value.Int(0), value.Ptr(uint64(strRef))},
		Code: []bytecode.Word{
			bytecode.EncodeWide(bytecode.OpLoadConst, 0, 0), // r0 = 0; triggers a GC with the Ptr constant unloaded
			bytecode.EncodeWide(bytecode.OpLoadConst, 0, 1), // r0 = the Ptr constant, read back after that GC
			bytecode.Encode(bytecode.OpReturn, 0, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout(nil),
	}
	require.NoError(t, bytecode.Finalize(fn))

	result, err := in.Call(fn, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, in.Heap().GCCycles(), uint64(1))

	p, ok := result.AsPtr()
	require.True(t, ok)
	assert.Equal(t, "unreferenced-by-any-register", in.Heap().String(heap.Ref(p)))
}

func TestArityMismatchIsRejected(t *testing.T) {
	fn := buildFactorial()
	require.NoError(t, bytecode.Finalize(fn))
	in := New(DefaultConfig())
	in.SetGlobal("fact", value.Null)
	_, err := in.Call(fn, nil) // fact wants 1 argument
	assert.Error(t, err)
}
