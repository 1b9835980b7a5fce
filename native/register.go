package native

import (
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
)

// Register wires every function export of m into the given heap and
// global-binding callback as a global named m.GlobalName(export), boxed
// as a Ptr to a heap NativeFn. setGlobal is typically (*vm.Interp).SetGlobal;
// this package takes it as a plain func rather than importing vm, since a
// host loads native modules before it necessarily has an Interp to hand
// them to.
//
// Data exports are skipped: Aelys has no mechanism to box arbitrary
// native data as a Value, so a module publishing one simply isn't
// reachable through it (not an error — most modules export only
// functions).
func (m *Module) Register(h *heap.Heap, setGlobal func(name string, v value.Value)) error {
	for name, exp := range m.Exports {
		if exp.Kind != ExportFunction {
			continue
		}
		nf, err := exp.AsNativeFn()
		if err != nil {
			return err
		}
		ref := h.NewNative(nf)
		setGlobal(m.GlobalName(name), value.Ptr(uint64(ref)))
	}
	return nil
}
