package vm

import (
	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
	"github.com/vbxq/aelys/vmerrors"
)

// execStringLoadChar implements StringLoadChar a,b,c: R[a] = Int(byte
// R[b][R[c]]), bounds-checked against the interned string's length.
func (in *Interp) execStringLoadChar(fr *callFrame, d bytecode.Decoded) error {
	sv := fr.register(in.regs, d.B)
	p, ok := sv.AsPtr()
	if !ok || in.heap.Kind(heap.Ref(p)) != heap.KindString {
		return vmerrors.NewType("string.load.char", "string", sv.Kind().String())
	}
	s := in.heap.String(heap.Ref(p))
	idx := int(fr.register(in.regs, d.C).AsInt())
	if idx < 0 || idx >= len(s) {
		return vmerrors.NewIndex("string.load.char", idx, len(s))
	}
	fr.setRegister(in.regs, d.A, value.Int(int64(s[idx])))
	return nil
}
