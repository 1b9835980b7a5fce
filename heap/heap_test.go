package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/value"
)

type fakeRoots struct {
	vals []value.Value
}

func (f fakeRoots) GCRoots() []value.Value { return f.vals }

func TestInternStringDedups(t *testing.T) {
	h := New(1<<20, 2.0)
	a := h.InternString("hello")
	b := h.InternString("hello")
	assert.Equal(t, a, b)
	assert.Equal(t, "hello", h.String(a))
}

func TestInternDifferentContentDistinctRefs(t *testing.T) {
	h := New(1<<20, 2.0)
	a := h.InternString("foo")
	b := h.InternString("bar")
	assert.NotEqual(t, a, b)
}

func TestNewArrayZeroFilled(t *testing.T) {
	h := New(1<<20, 2.0)
	r := h.NewArray(3)
	arr := h.Array(r)
	require.Len(t, arr.Elems, 3)
	for _, e := range arr.Elems {
		assert.True(t, e.IsNull())
	}
}

func TestCollectReclaimsUnreachableObjects(t *testing.T) {
	h := New(1<<20, 2.0)
	for i := 0; i < 10000; i++ {
		h.NewArray(1)
	}
	assert.Equal(t, uint64(0), h.GCCycles())
	h.Collect(fakeRoots{})
	assert.Equal(t, uint64(1), h.GCCycles())
	assert.Equal(t, uint64(0), h.BytesAllocated())

	// every slot should now be reusable by further allocation without
	// growing the underlying object table.
	before := len(h.objects)
	h.NewArray(1)
	assert.Equal(t, before, len(h.objects))
}

func TestCollectKeepsReachableGraph(t *testing.T) {
	h := New(1<<20, 2.0)
	strRef := h.InternString("kept")
	arrRef := h.NewArray(1)
	h.Array(arrRef).Elems[0] = value.Ptr(uint64(strRef))

	root := value.Ptr(uint64(arrRef))
	h.Collect(fakeRoots{vals: []value.Value{root}})

	assert.Equal(t, "kept", h.String(strRef))
}

func TestCollectTracesClosureUpvalues(t *testing.T) {
	h := New(1<<20, 2.0)
	strRef := h.InternString("captured")
	uvRef := h.NewOpenUpvalue(0, 0)
	h.Upvalue(uvRef).State = UpvalClosed
	h.Upvalue(uvRef).Closed = value.Ptr(uint64(strRef))

	closureRef := h.NewClosure(nil, []Ref{uvRef})
	root := value.Ptr(uint64(closureRef))
	h.Collect(fakeRoots{vals: []value.Value{root}})

	assert.Equal(t, "captured", h.String(strRef))
}

// TestCollectKeepsClosureFunctionConstantsAlive: a closure's Func.Constants
// holds the only reference to an interned string (no register or global
// holds it directly). The collector must still keep it alive by walking the
// closure's Func, not just its Upvals.
func TestCollectKeepsClosureFunctionConstantsAlive(t *testing.T) {
	h := New(1<<20, 2.0)
	strRef := h.InternString("captured-in-constants")

	fn := &bytecode.Function{
		Name:         "nested",
		NumRegisters: 1,
		Constants:    []value.Value{value.Ptr(uint64(strRef))},
	}
	closureRef := h.NewClosure(fn, nil)

	root := value.Ptr(uint64(closureRef))
	h.Collect(fakeRoots{vals: []value.Value{root}})

	assert.Equal(t, "captured-in-constants", h.String(strRef))
}

// TestCollectKeepsNestedFuncConstantsAlive extends the above one level: the
// closure's Func itself has a NestedFuncs entry whose own Constants hold the
// only reference to a second string, never boxed as a separate closure.
func TestCollectKeepsNestedFuncConstantsAlive(t *testing.T) {
	h := New(1<<20, 2.0)
	strRef := h.InternString("captured-two-levels-deep")

	inner := &bytecode.Function{
		Name:      "inner",
		Constants: []value.Value{value.Ptr(uint64(strRef))},
	}
	outer := &bytecode.Function{
		Name:        "outer",
		NestedFuncs: []*bytecode.Function{inner},
	}
	closureRef := h.NewClosure(outer, nil)

	root := value.Ptr(uint64(closureRef))
	h.Collect(fakeRoots{vals: []value.Value{root}})

	assert.Equal(t, "captured-two-levels-deep", h.String(strRef))
}

func TestCollectUnreachableStringDropsInternEntry(t *testing.T) {
	h := New(1<<20, 2.0)
	h.InternString("transient")
	h.Collect(fakeRoots{})

	// re-interning after the string was collected must allocate fresh,
	// not resolve to a stale freed slot.
	r := h.InternString("transient")
	assert.Equal(t, "transient", h.String(r))
}
