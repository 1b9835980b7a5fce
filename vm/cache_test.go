package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
)

func constReturner(name string, c int64) *bytecode.Function {
	return &bytecode.Function{
		Name:         name,
		NumRegisters: 1,
		Constants:    []value.Value{value.Int(c)},
		Code: []bytecode.Word{
			bytecode.EncodeWide(bytecode.OpLoadConst, 0, 0),
			bytecode.Encode(bytecode.OpReturn, 0, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout(nil),
	}
}

func TestCallGlobalMonoSelfHealsOnTargetRebind(t *testing.T) {
	caller := &bytecode.Function{
		Name:         "caller",
		NumRegisters: 1,
		Code: []bytecode.Word{
			bytecode.Encode(bytecode.OpCallGlobal, 0, 0, 0),
			bytecode.Word(0), // global index
			bytecode.Word(0), // cache target
			bytecode.Encode(bytecode.OpReturn, 0, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout([]string{"target"}),
	}
	require.NoError(t, bytecode.Finalize(caller))

	one := constReturner("one", 1)
	two := constReturner("two", 2)
	require.NoError(t, bytecode.Finalize(one))
	require.NoError(t, bytecode.Finalize(two))

	in := New(DefaultConfig())
	oneRef := in.Heap().NewFunction(one)
	twoRef := in.Heap().NewFunction(two)

	in.SetGlobal("target", value.Ptr(uint64(oneRef)))
	result, err := in.Call(caller, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.AsInt())

	d := bytecode.Decode(caller.Code[0])
	assert.Equal(t, bytecode.OpCallGlobalMono, d.Op, "first call must have resolved the site to Mono")

	in.SetGlobal("target", value.Ptr(uint64(twoRef)))
	result, err = in.Call(caller, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.AsInt(), "a rebound global must be observed, not served from a stale cache")
}

func TestCallGlobalNativeDispatch(t *testing.T) {
	caller := &bytecode.Function{
		Name:         "caller",
		NumRegisters: 2, // r0=dest/result r1=arg
		Constants:    []value.Value{value.Int(10)},
		Code: []bytecode.Word{
			bytecode.EncodeWide(bytecode.OpLoadConst, 1, 0),
			bytecode.Encode(bytecode.OpCallGlobal, 0, 1, 0),
			bytecode.Word(0),
			bytecode.Word(0),
			bytecode.Encode(bytecode.OpReturn, 0, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout([]string{"double"}),
	}
	require.NoError(t, bytecode.Finalize(caller))

	double := &heap.NativeFn{
		Name:  "double",
		Arity: 1,
		Fn: func(args []value.Value) (value.Value, error) {
			return value.Int(args[0].AsInt() * 2), nil
		},
	}
	in := New(DefaultConfig())
	ref := in.Heap().NewNative(double)
	in.SetGlobal("double", value.Ptr(uint64(ref)))

	result, err := in.Call(caller, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(20), result.AsInt())

	d := bytecode.Decode(caller.Code[1])
	assert.Equal(t, bytecode.OpCallGlobalNative, d.Op)
}
