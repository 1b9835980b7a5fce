package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbxq/aelys/value"
)

func simpleFunction(code []Word, numRegisters int) *Function {
	return &Function{
		Name:         "test",
		NumRegisters: numRegisters,
		Code:         code,
		Constants:    []value.Value{value.Int(1)},
		Globals:      NewGlobalLayout([]string{"g0"}),
	}
}

func TestFinalizeAcceptsValidFunction(t *testing.T) {
	f := simpleFunction([]Word{
		EncodeWide(OpLoadConst, 0, 0),
		Encode(OpReturn, 0, 0, 0),
	}, 4)
	require.NoError(t, Finalize(f))
	assert.True(t, f.Finalized())
}

func TestFinalizeRejectsInvalidOpcode(t *testing.T) {
	f := simpleFunction([]Word{Word(250)}, 4)
	err := Finalize(f)
	assert.Error(t, err)
}

func TestFinalizeRejectsOutOfRangeRegister(t *testing.T) {
	f := simpleFunction([]Word{
		Encode(OpMove, 0, 9, 0), // register 9 out of range for NumRegisters=4
	}, 4)
	assert.Error(t, Finalize(f))
}

func TestFinalizeRejectsOutOfRangeConstant(t *testing.T) {
	f := simpleFunction([]Word{
		EncodeWide(OpLoadConst, 0, 99), // only 1 constant declared
	}, 4)
	assert.Error(t, Finalize(f))
}

func TestFinalizeCallRejectsArgumentsOutOfRange(t *testing.T) {
	// callee in register 2, claims 3 args (registers 3,4,5) but only 4
	// registers (0..3) exist.
	f := simpleFunction([]Word{
		Encode(OpCall, 0, 2, 3),
	}, 4)
	assert.Error(t, Finalize(f))
}

func TestFinalizeCallAcceptsInRangeArguments(t *testing.T) {
	// callee in register 0, 1 arg in register 1, dest register 2; 4 registers total.
	f := simpleFunction([]Word{
		Encode(OpCall, 2, 0, 1),
		Encode(OpReturn0, 0, 0, 0),
	}, 4)
	assert.NoError(t, Finalize(f))
}

func TestFinalizeCallGlobalRejectsArgumentsOutOfRange(t *testing.T) {
	// dest register 3, nargs=2 -> needs registers 4,5 which don't exist with 4 registers.
	f := simpleFunction([]Word{
		Encode(OpCallGlobal, 3, 2, 0),
		Word(0), // global index word
		Word(0), // cache target word
	}, 4)
	assert.Error(t, Finalize(f))
}

func TestFinalizeCallGlobalAcceptsInRangeArguments(t *testing.T) {
	f := simpleFunction([]Word{
		Encode(OpCallGlobal, 0, 1, 0),
		Word(0),
		Word(0),
		Encode(OpReturn0, 0, 0, 0),
	}, 4)
	assert.NoError(t, Finalize(f))
}

func TestFinalizeCallGlobalRejectsMissingCacheWords(t *testing.T) {
	f := simpleFunction([]Word{
		Encode(OpCallGlobal, 0, 0, 0),
	}, 4)
	assert.Error(t, Finalize(f))
}

func TestFinalizeCallUpvalRejectsArgumentsOutOfRange(t *testing.T) {
	// dest register 3, nargs=2 -> needs registers 4,5, out of range.
	f := simpleFunction([]Word{
		Encode(OpCallUpval, 3, 0, 2),
	}, 4)
	assert.Error(t, Finalize(f))
}

func TestFinalizeMakeClosureRequiresNestedFnConstant(t *testing.T) {
	f := simpleFunction([]Word{
		Encode(OpMakeClosure, 0, 0, 0), // constant 0 is an Int, not a NestedFn marker
	}, 4)
	assert.Error(t, Finalize(f))
}

func TestFinalizeUnbalancedNoGcRejected(t *testing.T) {
	f := simpleFunction([]Word{
		Encode(OpEnterNoGc, 0, 0, 0),
		Encode(OpReturn0, 0, 0, 0),
	}, 4)
	assert.Error(t, Finalize(f))
}

func TestFinalizeNestedFunctionsVerifiedRecursively(t *testing.T) {
	bad := simpleFunction([]Word{
		Encode(OpMove, 0, 9, 0),
	}, 4)
	outer := simpleFunction([]Word{
		Encode(OpReturn0, 0, 0, 0),
	}, 4)
	outer.NestedFuncs = []*Function{bad}
	assert.Error(t, Finalize(outer))
}
