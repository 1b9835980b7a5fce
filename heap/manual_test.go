package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualHeapAllocStoreLoad(t *testing.T) {
	m := NewManualHeap(0)
	base, err := m.Alloc(8)
	require.NoError(t, err)

	require.NoError(t, m.StoreMem(base, 0xDEADBEEF))
	got, err := m.LoadMem(base)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xDEADBEEF), got)
}

func TestManualHeapFreeScrubsAndInvalidatesHandle(t *testing.T) {
	m := NewManualHeap(0)
	base, err := m.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, m.StoreMem(base, 42))

	require.NoError(t, m.Free(base))

	_, err = m.LoadMem(base)
	assert.Error(t, err)
	assert.Error(t, m.Free(base)) // double free
}

func TestManualHeapAccessOutsideAllocationFails(t *testing.T) {
	m := NewManualHeap(0)
	base, err := m.Alloc(8)
	require.NoError(t, err)

	_, err = m.LoadMem(base + 1000)
	assert.Error(t, err)
}

func TestManualHeapOutOfMemory(t *testing.T) {
	m := NewManualHeap(16)
	_, err := m.Alloc(8)
	require.NoError(t, err)
	_, err = m.Alloc(8)
	require.NoError(t, err)
	_, err = m.Alloc(8)
	assert.Error(t, err)
}

func TestManualHeapUsedAccounting(t *testing.T) {
	m := NewManualHeap(0)
	base, err := m.Alloc(3) // rounds up to minManualAlloc=8
	require.NoError(t, err)
	assert.Equal(t, uint64(8), m.Used())
	require.NoError(t, m.Free(base))
	assert.Equal(t, uint64(0), m.Used())
}
