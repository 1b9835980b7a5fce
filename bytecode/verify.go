package bytecode

import (
	"fmt"

	"github.com/vbxq/aelys/value"
	"github.com/vbxq/aelys/vmerrors"
)

// Limits bound every dimension of a Function and of the VBXQ container that
// holds it; a value exceeding any of these produces vmerrors.InvalidBytecode
// with a LimitExceeded-flavored detail, per spec.
const (
	MaxBytecodeLen      = 1_000_000
	MaxConstants        = 65_535
	MaxNestedFunctions  = 4_096
	MaxUpvalueDescs     = 256
	MaxLines            = 1_000_000
	MaxGlobalNames      = 65_535
	MaxStringLength     = 1_000_000
	MaxNestingDepth     = 64
	MaxSectionLength    = 256 * 1024 * 1024
)

// Finalize verifies f and every function nested within it, bottom-up, and
// marks each as finalized on success. It must be called (and must succeed)
// before the interpreter is permitted to execute f. Verification is grounded
// on the per-opcode register-touch table the original compiler's bytecode
// crate computes register requirements from: every register index, constant
// index, and jump target referenced by an instruction must lie within the
// bounds f itself declares.
func Finalize(f *Function) error {
	return finalizeDepth(f, 0)
}

func finalizeDepth(f *Function, depth int) error {
	if depth > MaxNestingDepth {
		return vmerrors.New(vmerrors.InvalidBytecode, "nesting depth exceeds limit")
	}
	if len(f.Code) > MaxBytecodeLen {
		return vmerrors.New(vmerrors.InvalidBytecode, "bytecode length exceeds limit")
	}
	if len(f.Constants) > MaxConstants {
		return vmerrors.New(vmerrors.InvalidBytecode, "constant pool exceeds limit")
	}
	if len(f.NestedFuncs) > MaxNestedFunctions {
		return vmerrors.New(vmerrors.InvalidBytecode, "nested function count exceeds limit")
	}
	if len(f.UpvalueDescs) > MaxUpvalueDescs {
		return vmerrors.New(vmerrors.InvalidBytecode, "upvalue descriptor count exceeds limit")
	}
	if len(f.Lines) > MaxLines {
		return vmerrors.New(vmerrors.InvalidBytecode, "line table exceeds limit")
	}
	if len(f.Globals.Names) > MaxGlobalNames {
		return vmerrors.New(vmerrors.InvalidBytecode, "global name table exceeds limit")
	}

	if err := verifyInstructions(f); err != nil {
		return err
	}

	for _, nested := range f.NestedFuncs {
		if err := finalizeDepth(nested, depth+1); err != nil {
			return err
		}
	}

	f.markFinalized()
	return nil
}

func verifyInstructions(f *Function) error {
	code := f.Code
	n := len(code)
	nogcDepth := 0

	for ip := 0; ip < n; ip++ {
		d := Decode(code[ip])
		if !d.Op.Valid() {
			return vmerrors.New(vmerrors.InvalidBytecode, fmt.Sprintf("invalid opcode byte 0x%02x at ip=%d", uint8(d.Op), ip))
		}

		if err := checkRegisters(f, d, ip); err != nil {
			return err
		}

		switch d.Op {
		case OpLoadConst, OpGetGlobalIdx:
			if err := checkConstOrGlobalIdx(f, d); err != nil {
				return err
			}
		case OpSetGlobalIdx, OpIncGlobalI:
			if int(d.Imm16) >= len(f.Globals.Names) {
				return vmerrors.New(vmerrors.InvalidBytecode, "global index out of range")
			}
		case OpJump, OpJumpIf, OpJumpIfNot:
			if int(d.Imm16) > n {
				return vmerrors.New(vmerrors.InvalidBytecode, "jump target out of range")
			}
		case OpWhileLoopLt, OpForLoopI, OpForLoopIInc, OpStringForLoop:
			if ip+1 >= n {
				return vmerrors.New(vmerrors.InvalidBytecode, "loop superinstruction missing branch target word")
			}
			if int(code[ip+1]) > n {
				return vmerrors.New(vmerrors.InvalidBytecode, "loop superinstruction branch target out of range")
			}
			ip++ // the branch target word is not itself an instruction
		case OpCallGlobal, OpCallGlobalMono, OpCallGlobalNative:
			if ip+2 >= n {
				return vmerrors.New(vmerrors.InvalidBytecode, "CallGlobal family missing reserved cache words")
			}
			globalIdx := int(uint16(code[ip+1]))
			if globalIdx >= len(f.Globals.Names) {
				return vmerrors.New(vmerrors.InvalidBytecode, "CallGlobal global index out of range")
			}
			// word[0]'s b field carries nargs (not a register); args occupy
			// registers [dest+1, dest+1+nargs) in the caller's frame.
			if int(d.A)+1+int(d.B) > int(f.NumRegisters) {
				return vmerrors.New(vmerrors.InvalidBytecode, "CallGlobal argument registers out of range")
			}
			ip += 2 // the two reserved cache words are not themselves instructions
		case OpCall:
			// c is a literal nargs count; the arguments it claims (registers
			// [b+1, b+1+c)) must themselves lie within the register file.
			if int(d.B)+1+int(d.C) > int(f.NumRegisters) {
				return vmerrors.New(vmerrors.InvalidBytecode, "Call argument registers out of range")
			}
		case OpCallUpval, OpTailCallUpval:
			// b is an upvalue index (not a register), c is a literal nargs
			// count; args occupy registers [a+1, a+1+nargs) in this frame.
			if int(d.A)+1+int(d.C) > int(f.NumRegisters) {
				return vmerrors.New(vmerrors.InvalidBytecode, "CallUpval argument registers out of range")
			}
		case OpMakeClosure:
			if int(d.B) >= len(f.Constants) {
				return vmerrors.New(vmerrors.InvalidBytecode, "MakeClosure constant index out of range")
			}
			if f.Constants[d.B].Kind() != value.TagNestedFn {
				return vmerrors.New(vmerrors.InvalidBytecode, "MakeClosure constant is not a nested-function marker")
			}
		case OpArrayLitI, OpArrayLitF, OpArrayLitB, OpArrayLitP,
			OpVecLitI, OpVecLitF, OpVecLitB, OpVecLitP:
			// b=regStart, c=count (not a register): the registers it spans,
			// [b, b+c), must themselves lie within the register file.
			if int(d.B)+int(d.C) > int(f.NumRegisters) {
				return vmerrors.New(vmerrors.InvalidBytecode, "array/vec literal register range out of range")
			}
		case OpEnterNoGc:
			nogcDepth++
		case OpExitNoGc:
			nogcDepth--
			if nogcDepth < 0 {
				return vmerrors.New(vmerrors.InvalidBytecode, "ExitNoGc without matching EnterNoGc")
			}
		}
	}

	if nogcDepth != 0 {
		return vmerrors.New(vmerrors.InvalidBytecode, "unbalanced EnterNoGc/ExitNoGc")
	}
	return nil
}

func checkConstOrGlobalIdx(f *Function, d Decoded) error {
	if d.Op == OpLoadConst {
		if int(d.Imm16) >= len(f.Constants) {
			return vmerrors.New(vmerrors.InvalidBytecode, "constant index out of range")
		}
		return nil
	}
	if int(d.Imm16) >= len(f.Globals.Names) {
		return vmerrors.New(vmerrors.InvalidBytecode, "global index out of range")
	}
	return nil
}

// checkRegisters validates that every register operand an instruction reads
// or writes is within [0, NumRegisters), per-opcode, mirroring the register
// operand shapes of the teacher's required_registers table.
func checkRegisters(f *Function, d Decoded, ip int) error {
	if f.NumRegisters > 256 {
		return vmerrors.New(vmerrors.InvalidBytecode, "NumRegisters exceeds 256")
	}

	check := func(r uint8) error {
		if int(r) >= f.NumRegisters {
			return vmerrors.New(vmerrors.InvalidBytecode, fmt.Sprintf("register r%d out of range at ip=%d", r, ip))
		}
		return nil
	}

	info := opcodeTable[d.Op]
	if info.wide {
		if info.operands >= 1 {
			return check(d.A)
		}
		return nil
	}
	switch info.operands {
	case 1:
		return check(d.A)
	case 2:
		if err := check(d.A); err != nil {
			return err
		}
		return check(d.B)
	case 3:
		if err := check(d.A); err != nil {
			return err
		}
		if err := check(d.B); err != nil {
			return err
		}
		return check(d.C)
	}
	return nil
}
