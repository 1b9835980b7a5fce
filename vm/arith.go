package vm

import (
	"math"

	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
	"github.com/vbxq/aelys/vmerrors"
)

// execGuardedIntOp implements the *IIG family: an inline tag check on both
// operands, falling back to TypeError if either is not an Int (guarded
// arithmetic never promotes int<->float — only the generic Add/Sub/Mul/Div/
// Mod do that).
func (in *Interp) execGuardedIntOp(fr *callFrame, d bytecode.Decoded) error {
	b := fr.register(in.regs, d.B)
	c := fr.register(in.regs, d.C)
	if b.Kind() != value.TagInt || c.Kind() != value.TagInt {
		return vmerrors.NewType(d.Op.String(), "int", mismatchedKind(b, c).String())
	}
	bi, ci := b.AsInt(), c.AsInt()
	var result value.Value
	switch d.Op {
	case bytecode.OpAddIIG:
		result = value.Int(bi + ci)
	case bytecode.OpSubIIG:
		result = value.Int(bi - ci)
	case bytecode.OpMulIIG:
		result = value.Int(bi * ci)
	case bytecode.OpDivIIG:
		if ci == 0 {
			return vmerrors.New(vmerrors.DivisionByZero, "integer division by zero")
		}
		result = value.Int(bi / ci)
	case bytecode.OpModIIG:
		if ci == 0 {
			return vmerrors.New(vmerrors.DivisionByZero, "integer modulo by zero")
		}
		result = value.Int(bi % ci)
	}
	fr.setRegister(in.regs, d.A, result)
	return nil
}

// execGuardedFloatOp implements the *FFG family: an inline tag check on both
// operands, falling back to TypeError if either is not a Float.
func (in *Interp) execGuardedFloatOp(fr *callFrame, d bytecode.Decoded) error {
	b := fr.register(in.regs, d.B)
	c := fr.register(in.regs, d.C)
	if b.Kind() != value.TagFloat || c.Kind() != value.TagFloat {
		return vmerrors.NewType(d.Op.String(), "float", mismatchedFloatKind(b, c).String())
	}
	bf, cf := b.AsFloat(), c.AsFloat()
	var result value.Value
	switch d.Op {
	case bytecode.OpAddFFG:
		result = value.Float(bf + cf)
	case bytecode.OpSubFFG:
		result = value.Float(bf - cf)
	case bytecode.OpMulFFG:
		result = value.Float(bf * cf)
	case bytecode.OpDivFFG:
		result = value.Float(bf / cf)
	case bytecode.OpModFFG:
		result = value.Float(math.Mod(bf, cf))
	}
	fr.setRegister(in.regs, d.A, result)
	return nil
}

func mismatchedFloatKind(b, c value.Value) value.Tag {
	if b.Kind() != value.TagFloat {
		return b.Kind()
	}
	return c.Kind()
}

// execGenericArith implements the generic Sub/Mul/Div/Mod: int/float with
// int<->float promotion, mirroring execGenericAdd minus the string-concat
// special case Add alone carries.
func (in *Interp) execGenericArith(fr *callFrame, d bytecode.Decoded) error {
	b := fr.register(in.regs, d.B)
	c := fr.register(in.regs, d.C)
	bf, ok1 := numericFloat(b)
	cf, ok2 := numericFloat(c)
	if !ok1 || !ok2 {
		return vmerrors.NewType(d.Op.String(), "int or float", "non-numeric")
	}
	bothInt := b.Kind() == value.TagInt && c.Kind() == value.TagInt
	var result value.Value
	switch d.Op {
	case bytecode.OpSub:
		if bothInt {
			result = value.Int(b.AsInt() - c.AsInt())
		} else {
			result = value.Float(bf - cf)
		}
	case bytecode.OpMul:
		if bothInt {
			result = value.Int(b.AsInt() * c.AsInt())
		} else {
			result = value.Float(bf * cf)
		}
	case bytecode.OpDiv:
		if bothInt {
			if c.AsInt() == 0 {
				return vmerrors.New(vmerrors.DivisionByZero, "integer division by zero")
			}
			result = value.Int(b.AsInt() / c.AsInt())
		} else {
			result = value.Float(bf / cf)
		}
	case bytecode.OpMod:
		if bothInt {
			if c.AsInt() == 0 {
				return vmerrors.New(vmerrors.DivisionByZero, "integer modulo by zero")
			}
			result = value.Int(b.AsInt() % c.AsInt())
		} else {
			result = value.Float(math.Mod(bf, cf))
		}
	}
	fr.setRegister(in.regs, d.A, result)
	return nil
}

// execNeg implements the generic Neg: R[a] = -R[b], int or float.
func (in *Interp) execNeg(fr *callFrame, d bytecode.Decoded) error {
	b := fr.register(in.regs, d.B)
	switch b.Kind() {
	case value.TagInt:
		fr.setRegister(in.regs, d.A, value.Int(-b.AsInt()))
	case value.TagFloat:
		fr.setRegister(in.regs, d.A, value.Float(-b.AsFloat()))
	default:
		return vmerrors.NewType("neg", "int or float", b.Kind().String())
	}
	return nil
}

func mismatchedKind(b, c value.Value) value.Tag {
	if b.Kind() != value.TagInt {
		return b.Kind()
	}
	return c.Kind()
}

// execGenericAdd implements the generic Add: int+int, float+float, and
// int<->float promotion, plus string concatenation, the one mixed-type
// family spec.md carves out of Add specifically.
func (in *Interp) execGenericAdd(fr *callFrame, d bytecode.Decoded) error {
	b := fr.register(in.regs, d.B)
	c := fr.register(in.regs, d.C)

	bk, ck := b.Kind(), c.Kind()
	switch {
	case bk == value.TagInt && ck == value.TagInt:
		fr.setRegister(in.regs, d.A, value.Int(b.AsInt()+c.AsInt()))
	case bk == value.TagFloat && ck == value.TagFloat:
		fr.setRegister(in.regs, d.A, value.Float(b.AsFloat()+c.AsFloat()))
	case bk == value.TagInt && ck == value.TagFloat:
		fr.setRegister(in.regs, d.A, value.Float(float64(b.AsInt())+c.AsFloat()))
	case bk == value.TagFloat && ck == value.TagInt:
		fr.setRegister(in.regs, d.A, value.Float(b.AsFloat()+float64(c.AsInt())))
	case bk == value.TagPtr && ck == value.TagPtr:
		bp, _ := b.AsPtr()
		cp, _ := c.AsPtr()
		if in.heap.Kind(heap.Ref(bp)) == heap.KindString && in.heap.Kind(heap.Ref(cp)) == heap.KindString {
			concatenated := in.heap.String(heap.Ref(bp)) + in.heap.String(heap.Ref(cp))
			fr.setRegister(in.regs, d.A, value.Ptr(uint64(in.heap.InternString(concatenated))))
			return nil
		}
		return vmerrors.NewType("add", "int, float, or string", "ptr")
	default:
		return vmerrors.NewType("add", "int, float, or string", bk.String())
	}
	return nil
}

// execCompare implements Eq/Neq/Lt/Lte/Gt/Gte. Equality compares across
// numeric kinds with promotion; ordering comparisons also promote a mixed
// int/float pair and fault with TypeError only on a non-numeric operand.
func (in *Interp) execCompare(fr *callFrame, d bytecode.Decoded) error {
	b := fr.register(in.regs, d.B)
	c := fr.register(in.regs, d.C)

	if d.Op == bytecode.OpEq || d.Op == bytecode.OpNeq {
		eq := valuesEqual(b, c)
		if d.Op == bytecode.OpNeq {
			eq = !eq
		}
		fr.setRegister(in.regs, d.A, value.Bool(eq))
		return nil
	}

	bf, ok1 := numericFloat(b)
	cf, ok2 := numericFloat(c)
	if !ok1 || !ok2 {
		return vmerrors.NewType(d.Op.String(), "numeric", "non-numeric")
	}
	var result bool
	switch d.Op {
	case bytecode.OpLt:
		result = bf < cf
	case bytecode.OpLte:
		result = bf <= cf
	case bytecode.OpGt:
		result = bf > cf
	case bytecode.OpGte:
		result = bf >= cf
	}
	fr.setRegister(in.regs, d.A, value.Bool(result))
	return nil
}

// execCompareImm implements the *Imm family: R[a] = R[a] OP imm16, in-place,
// comparing against a small sign-extended immediate. Generic like Lt/Lte/
// Gt/Gte: both sides are coerced via numericFloat.
func (in *Interp) execCompareImm(fr *callFrame, d bytecode.Decoded) {
	bf, _ := numericFloat(fr.register(in.regs, d.A))
	imm := float64(int16(d.Imm16))
	fr.setRegister(in.regs, d.A, value.Bool(compareFloat(d.Op, bf, imm)))
}

// execCompareIImm implements the *IImm family: R[a] = R[b] OP imm8, the int
// fast path (no kind check, assumes R[b] is already an Int).
func (in *Interp) execCompareIImm(fr *callFrame, d bytecode.Decoded) {
	bi := fr.register(in.regs, d.B).AsInt()
	imm := int64(int8(d.C))
	fr.setRegister(in.regs, d.A, value.Bool(compareInt(d.Op, bi, imm)))
}

// execTypedCompareInt implements the *II unguarded typed comparison family:
// the fast path assuming both operands are already Int.
func (in *Interp) execTypedCompareInt(fr *callFrame, d bytecode.Decoded) {
	bi := fr.register(in.regs, d.B).AsInt()
	ci := fr.register(in.regs, d.C).AsInt()
	fr.setRegister(in.regs, d.A, value.Bool(compareInt(d.Op, bi, ci)))
}

// execTypedCompareFloat implements the *FF unguarded typed comparison family.
func (in *Interp) execTypedCompareFloat(fr *callFrame, d bytecode.Decoded) {
	bf := fr.register(in.regs, d.B).AsFloat()
	cf := fr.register(in.regs, d.C).AsFloat()
	fr.setRegister(in.regs, d.A, value.Bool(compareFloat(d.Op, bf, cf)))
}

// execGuardedCompareInt implements the *IIG guarded typed comparison family.
func (in *Interp) execGuardedCompareInt(fr *callFrame, d bytecode.Decoded) error {
	b := fr.register(in.regs, d.B)
	c := fr.register(in.regs, d.C)
	if b.Kind() != value.TagInt || c.Kind() != value.TagInt {
		return vmerrors.NewType(d.Op.String(), "int", mismatchedKind(b, c).String())
	}
	fr.setRegister(in.regs, d.A, value.Bool(compareInt(d.Op, b.AsInt(), c.AsInt())))
	return nil
}

// execGuardedCompareFloat implements the *FFG guarded typed comparison family.
func (in *Interp) execGuardedCompareFloat(fr *callFrame, d bytecode.Decoded) error {
	b := fr.register(in.regs, d.B)
	c := fr.register(in.regs, d.C)
	if b.Kind() != value.TagFloat || c.Kind() != value.TagFloat {
		return vmerrors.NewType(d.Op.String(), "float", mismatchedFloatKind(b, c).String())
	}
	fr.setRegister(in.regs, d.A, value.Bool(compareFloat(d.Op, b.AsFloat(), c.AsFloat())))
	return nil
}

// compareInt resolves the ordering/equality family for an int pair, shared
// by every *II/*IIG/*IImm opcode variant.
func compareInt(op bytecode.Opcode, b, c int64) bool {
	switch op {
	case bytecode.OpLtII, bytecode.OpLtIIG, bytecode.OpLtIImm, bytecode.OpLtImm:
		return b < c
	case bytecode.OpLeII, bytecode.OpLeIIG, bytecode.OpLeIImm, bytecode.OpLeImm:
		return b <= c
	case bytecode.OpGtII, bytecode.OpGtIIG, bytecode.OpGtIImm, bytecode.OpGtImm:
		return b > c
	case bytecode.OpGeII, bytecode.OpGeIIG, bytecode.OpGeIImm, bytecode.OpGeImm:
		return b >= c
	case bytecode.OpEqII, bytecode.OpEqIIG:
		return b == c
	case bytecode.OpNeII, bytecode.OpNeIIG:
		return b != c
	default:
		return false
	}
}

// compareFloat resolves the ordering/equality family for a float pair,
// shared by every *FF/*FFG opcode variant and the generic *Imm family.
func compareFloat(op bytecode.Opcode, b, c float64) bool {
	switch op {
	case bytecode.OpLtFF, bytecode.OpLtFFG, bytecode.OpLtImm:
		return b < c
	case bytecode.OpLeFF, bytecode.OpLeFFG, bytecode.OpLeImm:
		return b <= c
	case bytecode.OpGtFF, bytecode.OpGtFFG, bytecode.OpGtImm:
		return b > c
	case bytecode.OpGeFF, bytecode.OpGeFFG, bytecode.OpGeImm:
		return b >= c
	case bytecode.OpEqFF, bytecode.OpEqFFG:
		return b == c
	case bytecode.OpNeFF, bytecode.OpNeFFG:
		return b != c
	default:
		return false
	}
}

func numericFloat(v value.Value) (float64, bool) {
	switch v.Kind() {
	case value.TagInt:
		return float64(v.AsInt()), true
	case value.TagFloat:
		return v.AsFloat(), true
	default:
		return 0, false
	}
}

func valuesEqual(a, b value.Value) bool {
	if af, aok := numericFloat(a); aok {
		if bf, bok := numericFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}
