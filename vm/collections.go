package vm

import (
	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
	"github.com/vbxq/aelys/vmerrors"
)

// arrayRef resolves v to a heap Array ref, reporting TypeError if v isn't a
// Ptr to one — the array-family operations that take their array operand
// from a runtime register (Get/Load/Store) can be handed anything.
func (in *Interp) arrayRef(v value.Value, op string) (heap.Ref, error) {
	p, ok := v.AsPtr()
	if !ok || in.heap.Kind(heap.Ref(p)) != heap.KindArray {
		return 0, vmerrors.NewType(op, "array", v.Kind().String())
	}
	return heap.Ref(p), nil
}

// vecRef is arrayRef's vec counterpart.
func (in *Interp) vecRef(v value.Value, op string) (heap.Ref, error) {
	p, ok := v.AsPtr()
	if !ok || in.heap.Kind(heap.Ref(p)) != heap.KindVec {
		return 0, vmerrors.NewType(op, "vec", v.Kind().String())
	}
	return heap.Ref(p), nil
}

// elemKindMatches reports whether val may occupy a slot of the given
// element kind. ElemP slots are the generic/pointer variant and accept
// anything, mirroring how NewArrayTyped zero-fills them with Null rather
// than a typed zero.
func elemKindMatches(k bytecode.ElemKind, val value.Value) bool {
	switch k {
	case bytecode.ElemI:
		return val.Kind() == value.TagInt
	case bytecode.ElemF:
		return val.Kind() == value.TagFloat
	case bytecode.ElemB:
		return val.Kind() == value.TagBool
	default:
		return true
	}
}

// ---- Arrays --------------------------------------------------------------

func (in *Interp) execArrayNew(fr *callFrame, d bytecode.Decoded) {
	length := int(fr.register(in.regs, d.B).AsInt())
	if length < 0 {
		length = 0
	}
	k, _ := d.Op.ElemKind()
	ref := in.heap.NewArrayTyped(length, k)
	fr.setRegister(in.regs, d.A, value.Ptr(uint64(ref)))
}

func (in *Interp) execArrayLit(fr *callFrame, d bytecode.Decoded) {
	count := int(d.C)
	k, _ := d.Op.ElemKind()
	ref := in.heap.NewArrayTyped(count, k)
	arr := in.heap.Array(ref)
	for i := 0; i < count; i++ {
		arr.Elems[i] = fr.register(in.regs, d.B+uint8(i))
	}
	fr.setRegister(in.regs, d.A, value.Ptr(uint64(ref)))
}

func (in *Interp) execArrayGet(fr *callFrame, d bytecode.Decoded) error {
	ref, err := in.arrayRef(fr.register(in.regs, d.B), "array.get")
	if err != nil {
		return err
	}
	arr := in.heap.Array(ref)
	idx := int(fr.register(in.regs, d.C).AsInt())
	if idx < 0 || idx >= len(arr.Elems) {
		return vmerrors.NewIndex("array.get", idx, len(arr.Elems))
	}
	fr.setRegister(in.regs, d.A, arr.Elems[idx])
	return nil
}

func (in *Interp) execArrayLoad(fr *callFrame, d bytecode.Decoded) error {
	ref, err := in.arrayRef(fr.register(in.regs, d.B), "array.load")
	if err != nil {
		return err
	}
	arr := in.heap.Array(ref)
	idx := int(d.C)
	if idx >= len(arr.Elems) {
		return vmerrors.NewIndex("array.load", idx, len(arr.Elems))
	}
	fr.setRegister(in.regs, d.A, arr.Elems[idx])
	return nil
}

func (in *Interp) execArrayStore(fr *callFrame, d bytecode.Decoded) error {
	ref, err := in.arrayRef(fr.register(in.regs, d.A), "array.store")
	if err != nil {
		return err
	}
	arr := in.heap.Array(ref)
	idx := int(fr.register(in.regs, d.B).AsInt())
	if idx < 0 || idx >= len(arr.Elems) {
		return vmerrors.NewIndex("array.store", idx, len(arr.Elems))
	}
	val := fr.register(in.regs, d.C)
	k, _ := d.Op.ElemKind()
	if !elemKindMatches(k, val) {
		return vmerrors.NewType("array.store", k.String(), val.Kind().String())
	}
	arr.Elems[idx] = val
	return nil
}

func (in *Interp) execArrayLen(fr *callFrame, d bytecode.Decoded) {
	p, _ := fr.register(in.regs, d.B).AsPtr()
	arr := in.heap.Array(heap.Ref(p))
	fr.setRegister(in.regs, d.A, value.Int(int64(len(arr.Elems))))
}

// ---- Vecs -----------------------------------------------------------------

func (in *Interp) execVecNew(fr *callFrame, d bytecode.Decoded) {
	capacity := int(fr.register(in.regs, d.B).AsInt())
	if capacity < 0 {
		capacity = 0
	}
	ref := in.heap.NewVec(capacity)
	fr.setRegister(in.regs, d.A, value.Ptr(uint64(ref)))
}

func (in *Interp) execVecLit(fr *callFrame, d bytecode.Decoded) {
	count := int(d.C)
	ref := in.heap.NewVec(count)
	vec := in.heap.Vec(ref)
	for i := 0; i < count; i++ {
		vec.Push(fr.register(in.regs, d.B+uint8(i)))
	}
	fr.setRegister(in.regs, d.A, value.Ptr(uint64(ref)))
}

func (in *Interp) execVecPush(fr *callFrame, d bytecode.Decoded) error {
	ref, err := in.vecRef(fr.register(in.regs, d.A), "vec.push")
	if err != nil {
		return err
	}
	val := fr.register(in.regs, d.B)
	k, _ := d.Op.ElemKind()
	if !elemKindMatches(k, val) {
		return vmerrors.NewType("vec.push", k.String(), val.Kind().String())
	}
	in.heap.Vec(ref).Push(val)
	return nil
}

func (in *Interp) execVecPop(fr *callFrame, d bytecode.Decoded) error {
	ref, err := in.vecRef(fr.register(in.regs, d.B), "vec.pop")
	if err != nil {
		return err
	}
	v, ok := in.heap.Vec(ref).Pop()
	if !ok {
		return vmerrors.NewIndex("vec.pop", 0, 0)
	}
	fr.setRegister(in.regs, d.A, v)
	return nil
}

func (in *Interp) execVecGet(fr *callFrame, d bytecode.Decoded) error {
	ref, err := in.vecRef(fr.register(in.regs, d.B), "vec.get")
	if err != nil {
		return err
	}
	vec := in.heap.Vec(ref)
	idx := int(fr.register(in.regs, d.C).AsInt())
	if idx < 0 || idx >= vec.Len() {
		return vmerrors.NewIndex("vec.get", idx, vec.Len())
	}
	fr.setRegister(in.regs, d.A, vec.Elems[idx])
	return nil
}

func (in *Interp) execVecLoad(fr *callFrame, d bytecode.Decoded) error {
	ref, err := in.vecRef(fr.register(in.regs, d.B), "vec.load")
	if err != nil {
		return err
	}
	vec := in.heap.Vec(ref)
	idx := int(d.C)
	if idx >= vec.Len() {
		return vmerrors.NewIndex("vec.load", idx, vec.Len())
	}
	fr.setRegister(in.regs, d.A, vec.Elems[idx])
	return nil
}

func (in *Interp) execVecStore(fr *callFrame, d bytecode.Decoded) error {
	ref, err := in.vecRef(fr.register(in.regs, d.A), "vec.store")
	if err != nil {
		return err
	}
	vec := in.heap.Vec(ref)
	idx := int(fr.register(in.regs, d.B).AsInt())
	if idx < 0 || idx >= vec.Len() {
		return vmerrors.NewIndex("vec.store", idx, vec.Len())
	}
	val := fr.register(in.regs, d.C)
	k, _ := d.Op.ElemKind()
	if !elemKindMatches(k, val) {
		return vmerrors.NewType("vec.store", k.String(), val.Kind().String())
	}
	vec.Elems[idx] = val
	return nil
}

func (in *Interp) execVecLen(fr *callFrame, d bytecode.Decoded) {
	p, _ := fr.register(in.regs, d.B).AsPtr()
	fr.setRegister(in.regs, d.A, value.Int(int64(in.heap.Vec(heap.Ref(p)).Len())))
}

func (in *Interp) execVecCap(fr *callFrame, d bytecode.Decoded) {
	p, _ := fr.register(in.regs, d.B).AsPtr()
	fr.setRegister(in.regs, d.A, value.Int(int64(in.heap.Vec(heap.Ref(p)).Cap())))
}

func (in *Interp) execVecReserve(fr *callFrame, d bytecode.Decoded) {
	p, _ := fr.register(in.regs, d.A).AsPtr()
	n := int(fr.register(in.regs, d.B).AsInt())
	if n < 0 {
		n = 0
	}
	in.heap.Vec(heap.Ref(p)).Reserve(n)
}
