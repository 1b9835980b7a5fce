package bytecode

import (
	"hash/fnv"

	"github.com/vbxq/aelys/value"
)

// UpvalueDesc describes how a closure's Nth upvalue is resolved when the
// closure is created: either by capturing a live register in the enclosing
// frame (IsLocal) or by inheriting an upvalue already captured by the
// enclosing function (IsLocal == false, Index into its own upvalue list).
type UpvalueDesc struct {
	IsLocal bool
	Index   uint8
}

// GlobalLayout binds the integer indices a Function's OpGetGlobalIdx /
// OpSetGlobalIdx instructions use to global variable names. Hash is a
// diagnostic fingerprint only — per the design notes, binding identity must
// never be decided by comparing hashes, only by (Function, index) or by the
// slot's live Value, since two different name sets can collide.
type GlobalLayout struct {
	Names []string
	Hash  uint64
}

// NewGlobalLayout builds a GlobalLayout from a name list, computing its
// diagnostic Hash as an FNV-1a digest over the names in order. Two layouts
// with the same names in the same order always hash equal; the converse is
// not guaranteed, which is exactly why Hash may only ever be used for
// logging, never for deciding cache or binding identity.
func NewGlobalLayout(names []string) GlobalLayout {
	h := fnv.New64a()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}
	return GlobalLayout{Names: names, Hash: h.Sum64()}
}

// LineEntry is one run of a run-length-encoded instruction-offset -> source
// line mapping: instructions [StartOffset, StartOffset+Count) all map to Line.
type LineEntry struct {
	StartOffset uint32
	Count       uint32
	Line        uint32
}

// LineTable resolves an instruction offset to the source line that produced
// it, for stack traces.
type LineTable []LineEntry

// LineFor returns the source line covering instruction offset ip, or 0 if
// the offset is not covered by any entry.
func (lt LineTable) LineFor(ip uint32) uint32 {
	for _, e := range lt {
		if ip >= e.StartOffset && ip < e.StartOffset+e.Count {
			return e.Line
		}
	}
	return 0
}

// Function is an immutable-after-finalization compiled function. Finalize
// must run (and succeed) before the interpreter is permitted to execute it.
type Function struct {
	Name           string
	Arity          int
	NumRegisters   int
	Code           []Word
	Constants      []value.Value
	NestedFuncs    []*Function
	UpvalueDescs   []UpvalueDesc
	Globals        GlobalLayout
	Lines          LineTable

	finalized bool
}

// Finalized reports whether Finalize has already accepted this Function.
func (f *Function) Finalized() bool { return f.finalized }

// markFinalized is called only by Finalize on success.
func (f *Function) markFinalized() { f.finalized = true }
