package heap

import (
	"github.com/vbxq/aelys/vmerrors"
)

// DefaultManualHeapLimit bounds the manual heap's total byte budget.
const DefaultManualHeapLimit = 16 * 1024 * 1024

const minManualAlloc = 8

type manualAlloc struct {
	base, size uint64
}

func (a manualAlloc) end() uint64 { return a.base + a.size }

// ManualHeap is the separate, non-GC-traced indexed pool of raw
// word-addressable buffers backing the Alloc/Free/LoadMem/StoreMem opcodes.
// It is adapted from the teacher VM's Memory type: same allocation-table
// approach, same scrub-on-free so a stale handle faults loudly (here as
// vmerrors.InvalidMemoryHandle) instead of silently reading freed bytes.
type ManualHeap struct {
	data    []byte
	allocs  map[uint64]manualAlloc
	limit   uint64
	used    uint64
	nextPtr uint64
}

// NewManualHeap creates a manual heap with the given byte budget (0 uses
// DefaultManualHeapLimit).
func NewManualHeap(limit uint64) *ManualHeap {
	if limit == 0 {
		limit = DefaultManualHeapLimit
	}
	return &ManualHeap{
		allocs: make(map[uint64]manualAlloc),
		limit:  limit,
	}
}

func roundUp(n, mult uint64) uint64 {
	if n == 0 {
		return mult
	}
	return ((n + mult - 1) / mult) * mult
}

// Alloc reserves size bytes and returns a handle (a byte offset into the
// manual heap's address space, never a Go pointer).
func (m *ManualHeap) Alloc(size uint64) (uint64, error) {
	size = roundUp(size, minManualAlloc)
	if m.used+size > m.limit {
		return 0, vmerrors.New(vmerrors.InvalidMemoryHandle, "manual heap out of memory")
	}
	base := m.nextPtr
	needed := base + size
	if uint64(len(m.data)) < needed {
		grown := make([]byte, needed)
		copy(grown, m.data)
		m.data = grown
	}
	m.allocs[base] = manualAlloc{base: base, size: size}
	m.nextPtr = needed
	m.used += size
	return base, nil
}

// Free releases a previously allocated handle and scrubs its bytes with
// 0xCC so a use-after-free reads garbage rather than stale live data; a
// second Free (or a Load/Store) on the same handle afterward is detected as
// InvalidMemoryHandle since the allocation entry is removed.
func (m *ManualHeap) Free(base uint64) error {
	a, ok := m.allocs[base]
	if !ok {
		return vmerrors.New(vmerrors.InvalidMemoryHandle, "free of unknown or already-freed handle")
	}
	for i := a.base; i < a.end(); i++ {
		m.data[i] = 0xCC
	}
	delete(m.allocs, base)
	m.used -= a.size
	return nil
}

func (m *ManualHeap) checkAccess(addr, size uint64) error {
	for _, a := range m.allocs {
		if addr >= a.base && addr+size <= a.end() {
			return nil
		}
	}
	return vmerrors.New(vmerrors.InvalidMemoryHandle, "access outside any live allocation")
}

// LoadMem reads an 8-byte little-endian word at addr.
func (m *ManualHeap) LoadMem(addr uint64) (uint64, error) {
	if err := m.checkAccess(addr, 8); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(m.data[addr+uint64(i)]) << (8 * i)
	}
	return v, nil
}

// StoreMem writes an 8-byte little-endian word at addr.
func (m *ManualHeap) StoreMem(addr, v uint64) error {
	if err := m.checkAccess(addr, 8); err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		m.data[addr+uint64(i)] = byte(v >> (8 * i))
	}
	return nil
}

// Used returns the number of bytes currently allocated (not freed).
func (m *ManualHeap) Used() uint64 { return m.used }
