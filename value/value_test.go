package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatRoundTrip(t *testing.T) {
	for _, f := range []float64{0, -0.0, 1.5, -1.5, math.MaxFloat64, -math.MaxFloat64, 1e-300} {
		v := Float(f)
		require.True(t, v.IsFloat())
		assert.Equal(t, TagFloat, v.Kind())
		assert.Equal(t, f, v.AsFloat())
	}
}

func TestFloatNaNStaysFloat(t *testing.T) {
	v := Float(math.NaN())
	assert.True(t, v.IsFloat(), "NaN must satisfy is_float per spec invariant")
	assert.Equal(t, TagFloat, v.Kind())
	assert.True(t, math.IsNaN(v.AsFloat()))
	_, ok := v.AsPtr()
	assert.False(t, ok, "NaN must never report as a pointer")
	assert.False(t, v.Truthy(), "NaN is falsy despite being a real float")
}

func TestFloatNaNAnySignOrPayloadCanonicalizes(t *testing.T) {
	negNaN := math.Float64frombits(0xFFF8_0000_0000_0001)
	require.True(t, math.IsNaN(negNaN))
	v := Float(negNaN)
	assert.True(t, v.IsFloat())
	assert.Equal(t, TagFloat, v.Kind())
	assert.True(t, math.IsNaN(v.AsFloat()))
}

func TestZeroValueIsFloatZero(t *testing.T) {
	var v Value
	assert.False(t, v.IsNull())
	assert.Equal(t, Float(0), v)
}

func TestBoolRoundTrip(t *testing.T) {
	assert.True(t, Bool(true).AsBool())
	assert.False(t, Bool(false).AsBool())
	assert.Equal(t, TagBool, Bool(true).Kind())
}

func TestIntRoundTrip(t *testing.T) {
	for _, i := range []int64{0, 1, -1, IntMax, IntMin, 12345, -12345} {
		v := Int(i)
		assert.Equal(t, TagInt, v.Kind())
		assert.Equal(t, i, v.AsInt())
	}
}

func TestPtrRoundTrip(t *testing.T) {
	v := Ptr(42)
	p, ok := v.AsPtr()
	require.True(t, ok)
	assert.Equal(t, uint64(42), p)
}

func TestAsPtrFalseForNonPtr(t *testing.T) {
	_, ok := Int(1).AsPtr()
	assert.False(t, ok)
	_, ok = Float(1.5).AsPtr()
	assert.False(t, ok)
	_, ok = Null.AsPtr()
	assert.False(t, ok)
}

func TestNestedFnRoundTrip(t *testing.T) {
	v := NestedFn(7)
	assert.Equal(t, TagNestedFn, v.Kind())
	assert.Equal(t, uint64(7), v.AsNestedFnIndex())
}

func TestTruthy(t *testing.T) {
	assert.False(t, Null.Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.True(t, Bool(true).Truthy())
	assert.True(t, Int(0).Truthy())
	assert.True(t, Float(0).Truthy())
	assert.True(t, Ptr(0).Truthy())
}

func TestStringFormatting(t *testing.T) {
	assert.Equal(t, "null", Null.String())
	assert.Equal(t, "true", Bool(true).String())
	assert.Equal(t, "false", Bool(false).String())
	assert.Equal(t, "42", Int(42).String())
	assert.Equal(t, "ptr(3)", Ptr(3).String())
}

func TestIntDoesNotAliasFloat(t *testing.T) {
	// A boxed Int must never be misread as IsFloat.
	v := Int(-1)
	assert.False(t, v.IsFloat())
}
