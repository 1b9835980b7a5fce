// Package vmerrors defines the runtime error taxonomy raised by the Aelys
// execution core and the stack-trace machinery attached to it.
package vmerrors

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Kind identifies the category of a runtime fault. Every fallible VM
// instruction returns one of these, never a bare error string.
type Kind uint8

const (
	ArityMismatch Kind = iota
	TypeError
	DivisionByZero
	IntegerOverflow
	InvalidMemoryHandle
	StackOverflow
	InvalidBytecode
	UndefinedVariable
	CapabilityDenied
	IndexOutOfRange
)

func (k Kind) String() string {
	switch k {
	case ArityMismatch:
		return "ArityMismatch"
	case TypeError:
		return "TypeError"
	case DivisionByZero:
		return "DivisionByZero"
	case IntegerOverflow:
		return "IntegerOverflow"
	case InvalidMemoryHandle:
		return "InvalidMemoryHandle"
	case StackOverflow:
		return "StackOverflow"
	case InvalidBytecode:
		return "InvalidBytecode"
	case UndefinedVariable:
		return "UndefinedVariable"
	case CapabilityDenied:
		return "CapabilityDenied"
	case IndexOutOfRange:
		return "IndexOutOfRange"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Sentinels usable with errors.Is; every *RuntimeError wraps exactly one.
var (
	ErrArityMismatch      = errors.New("arity mismatch")
	ErrTypeError          = errors.New("type error")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrIntegerOverflow    = errors.New("integer overflow")
	ErrInvalidMemHandle   = errors.New("invalid memory handle")
	ErrStackOverflow      = errors.New("call stack overflow")
	ErrInvalidBytecode    = errors.New("invalid bytecode")
	ErrUndefinedVariable  = errors.New("undefined variable")
	ErrCapabilityDenied   = errors.New("capability denied")
	ErrIndexOutOfRange    = errors.New("index out of range")
)

var sentinels = map[Kind]error{
	ArityMismatch:        ErrArityMismatch,
	TypeError:            ErrTypeError,
	DivisionByZero:       ErrDivisionByZero,
	IntegerOverflow:      ErrIntegerOverflow,
	InvalidMemoryHandle:  ErrInvalidMemHandle,
	StackOverflow:        ErrStackOverflow,
	InvalidBytecode:      ErrInvalidBytecode,
	UndefinedVariable:    ErrUndefinedVariable,
	CapabilityDenied:     ErrCapabilityDenied,
	IndexOutOfRange:      ErrIndexOutOfRange,
}

// Frame is one entry of a runtime stack trace.
type Frame struct {
	FuncName string
	Line     int
	Register uint8
}

// RuntimeError is the single error type returned by fallible VM operations.
// It carries the fault Kind, a short human-readable detail, and the call
// stack collected as the error unwinds through execute.
type RuntimeError struct {
	Kind    Kind
	Detail  string
	Trace   []Frame

	// Arity-specific fields, set only when Kind == ArityMismatch.
	Expected, Got int

	// TypeError-specific fields, set only when Kind == TypeError.
	Operation, WantType, GotType string
}

func New(kind Kind, detail string) *RuntimeError {
	return &RuntimeError{Kind: kind, Detail: detail}
}

func NewArity(expected, got int) *RuntimeError {
	return &RuntimeError{Kind: ArityMismatch, Expected: expected, Got: got,
		Detail: fmt.Sprintf("expected %d argument(s), got %d", expected, got)}
}

func NewType(operation, want, got string) *RuntimeError {
	return &RuntimeError{Kind: TypeError, Operation: operation, WantType: want, GotType: got,
		Detail: fmt.Sprintf("%s: expected %s, got %s", operation, want, got)}
}

// NewIndex reports an out-of-range index against a string, array, or vec of
// the given length.
func NewIndex(operation string, idx, length int) *RuntimeError {
	return &RuntimeError{Kind: IndexOutOfRange,
		Detail: fmt.Sprintf("%s: index %d out of range for length %d", operation, idx, length)}
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Detail)
	for _, f := range e.Trace {
		fmt.Fprintf(&b, "\n\tat %s:%d (r%d)", f.FuncName, f.Line, f.Register)
	}
	return b.String()
}

// Unwrap lets errors.Is(err, vmerrors.ErrTypeError) etc. work.
func (e *RuntimeError) Unwrap() error {
	return sentinels[e.Kind]
}

// PushFrame appends a stack frame as the error unwinds a call chain. Frames
// are appended innermost-first, matching the order execute() discovers them.
func (e *RuntimeError) PushFrame(funcName string, line int, reg uint8) *RuntimeError {
	e.Trace = append(e.Trace, Frame{FuncName: funcName, Line: line, Register: reg})
	return e
}

// Report renders the error and its stack trace as an aligned table, for a
// host CLI or log sink that wants something more readable than Error()'s
// one-line-per-frame format.
func (e *RuntimeError) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", e.Kind, e.Detail)
	if len(e.Trace) == 0 {
		return b.String()
	}
	table := tablewriter.NewWriter(&b)
	table.SetHeader([]string{"#", "function", "line", "register"})
	for i, f := range e.Trace {
		table.Append([]string{
			strconv.Itoa(i),
			f.FuncName,
			strconv.Itoa(f.Line),
			"r" + strconv.Itoa(int(f.Register)),
		})
	}
	table.Render()
	return b.String()
}
