package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
)

func buildRoundTripFunction(h *heap.Heap) *bytecode.Function {
	strRef := h.InternString("greeting")
	fn := &bytecode.Function{
		Name:         "main",
		Arity:        0,
		NumRegisters: 3,
		Constants: []value.Value{
			value.Int(41),
			value.Float(2.5),
			value.Ptr(uint64(strRef)),
		},
		Code: []bytecode.Word{
			bytecode.EncodeWide(bytecode.OpLoadConst, 0, 0),
			bytecode.Encode(bytecode.OpCallGlobalMono, 1, 1, 0),
			bytecode.Word(0), // global index
			bytecode.Word(7), // stale cached target ref, must be stripped on write
			bytecode.Encode(bytecode.OpReturn, 0, 0, 0),
		},
		Globals: bytecode.NewGlobalLayout([]string{"helper"}),
	}
	return fn
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	h := heap.New(1<<20, 2.0)
	fn := buildRoundTripFunction(h)
	require.NoError(t, bytecode.Finalize(fn))

	data := Serialize(fn, h, nil, nil, nil)
	got, gotHeap, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, fn.Name, got.Name)
	assert.Equal(t, fn.Arity, got.Arity)
	assert.Equal(t, fn.NumRegisters, got.NumRegisters)
	assert.Equal(t, fn.Globals.Names, got.Globals.Names)
	require.Len(t, got.Constants, 3)
	assert.Equal(t, int64(41), got.Constants[0].AsInt())
	assert.Equal(t, 2.5, got.Constants[1].AsFloat())

	p, ok := got.Constants[2].AsPtr()
	require.True(t, ok)
	assert.Equal(t, "greeting", gotHeap.String(heap.Ref(p)))
}

func TestSerializeStripsCallGlobalCache(t *testing.T) {
	h := heap.New(1<<20, 2.0)
	fn := buildRoundTripFunction(h)
	require.NoError(t, bytecode.Finalize(fn))

	data := Serialize(fn, h, nil, nil, nil)
	got, _, err := Deserialize(data)
	require.NoError(t, err)

	d := bytecode.Decode(got.Code[1])
	assert.Equal(t, bytecode.OpCallGlobal, d.Op)
	assert.Equal(t, bytecode.Word(0), got.Code[3], "cache target word must be zeroed, not the stale value")
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	_, _, err := Deserialize([]byte{'X', 'X', 'X', 'X', 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.Error(t, err)
}

func TestDeserializeRejectsWrongVersion(t *testing.T) {
	h := heap.New(1<<20, 2.0)
	fn := buildRoundTripFunction(h)
	require.NoError(t, bytecode.Finalize(fn))
	data := Serialize(fn, h, nil, nil, nil)
	data[4] = 0xFF // corrupt the version field (bytes 4-5, little endian)
	data[5] = 0xFF

	_, _, err := Deserialize(data)
	assert.Error(t, err)
}

func TestManifestAndBundleSectionsRoundTrip(t *testing.T) {
	h := heap.New(1<<20, 2.0)
	fn := buildRoundTripFunction(h)
	require.NoError(t, bytecode.Finalize(fn))

	manifest := []byte(`{"name":"demo"}`)
	bundles := []NativeBundle{{Name: "math", Target: "linux-amd64", Checksum: "abc123", Bytes: []byte{1, 2, 3}}}
	data := Serialize(fn, h, manifest, bundles, nil)

	_, _, gotManifest, gotBundles, gotExtra, err := DeserializeWithSections(data)
	require.NoError(t, err)
	assert.Equal(t, manifest, gotManifest)
	require.Len(t, gotBundles, 1)
	assert.Equal(t, "math", gotBundles[0].Name)
	assert.Equal(t, []byte{1, 2, 3}, gotBundles[0].Bytes)
	assert.Empty(t, gotExtra)
}

// TestUnknownSectionRoundTrips is comment (d)'s regression: a section tag
// this package was never taught (here "SIG\x00", a hypothetical signature
// block) must survive DeserializeWithSections -> Serialize unchanged, not
// be silently dropped the way a forward-compatible-but-lossy reader would.
func TestUnknownSectionRoundTrips(t *testing.T) {
	h := heap.New(1<<20, 2.0)
	fn := buildRoundTripFunction(h)
	require.NoError(t, bytecode.Finalize(fn))

	manifest := []byte(`{"name":"demo"}`)
	const tagSignature uint32 = 0x00474953 // "SIG\x00" read little-endian, like tagManifest/tagBundles
	unknownPayload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02}
	data := Serialize(fn, h, manifest, nil, []RawSection{{Tag: tagSignature, Data: unknownPayload}})

	_, _, gotManifest, gotBundles, gotExtra, err := DeserializeWithSections(data)
	require.NoError(t, err)
	assert.Equal(t, manifest, gotManifest)
	assert.Empty(t, gotBundles)
	require.Len(t, gotExtra, 1)
	assert.Equal(t, tagSignature, gotExtra[0].Tag)
	assert.Equal(t, unknownPayload, gotExtra[0].Data)

	// Re-serializing with the preserved RawSection must reproduce the
	// original container exactly, not just an equivalent one.
	reserialized := Serialize(fn, h, manifest, nil, gotExtra)
	assert.Equal(t, data, reserialized)
}

func TestNestedFunctionsRoundTrip(t *testing.T) {
	h := heap.New(1<<20, 2.0)
	inner := &bytecode.Function{
		Name:         "inner",
		NumRegisters: 1,
		Code:         []bytecode.Word{bytecode.Encode(bytecode.OpReturn0, 0, 0, 0)},
		Globals:      bytecode.NewGlobalLayout(nil),
	}
	outer := &bytecode.Function{
		Name:         "outer",
		NumRegisters: 1,
		Constants:    []value.Value{value.NestedFn(0)},
		Code: []bytecode.Word{
			bytecode.Encode(bytecode.OpMakeClosure, 0, 0, 0),
			bytecode.Encode(bytecode.OpReturn, 0, 0, 0),
		},
		NestedFuncs: []*bytecode.Function{inner},
		Globals:     bytecode.NewGlobalLayout(nil),
	}
	require.NoError(t, bytecode.Finalize(outer))

	data := Serialize(outer, h, nil, nil, nil)
	got, _, err := Deserialize(data)
	require.NoError(t, err)
	require.Len(t, got.NestedFuncs, 1)
	assert.Equal(t, "inner", got.NestedFuncs[0].Name)
}
