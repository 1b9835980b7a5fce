package vm

import (
	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
)

// callFrame is one activation record. Registers are not stored per-frame;
// they live in a single growable register stack shared by the whole call
// chain, and Base is this frame's offset into it — the same base-register
// model the teacher VM uses for its (unused-in-v1) call frame, generalized
// to actually be load-bearing here.
type callFrame struct {
	fn       *bytecode.Function
	closure  *heap.Closure // nil for a plain function call
	base     int           // offset into the interpreter's register stack
	ip       int           // next instruction index (in Words, accounting for 3-word CallGlobal family entries)
	destReg  uint8         // caller's register to receive this frame's return value
	gen      uint64        // unique generation, used to key open upvalues

	// openUpvals maps a register index (relative to base) to the heap Ref
	// of the open Upvalue object sharing that register, so multiple
	// closures capturing the same local share one Upvalue object.
	openUpvals map[uint8]heap.Ref
}

func (f *callFrame) register(regs []value.Value, idx uint8) value.Value {
	return regs[f.base+int(idx)]
}

func (f *callFrame) setRegister(regs []value.Value, idx uint8, v value.Value) {
	regs[f.base+int(idx)] = v
}
