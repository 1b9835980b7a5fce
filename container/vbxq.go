// Package container implements the VBXQ binary container format: the
// portable, serialized form of a finalized Aelys Function plus its interned
// string constants. A .vbxq file is what a build step emits and what a host
// embedding Aelys loads to get a Function ready to hand to vm.Interp.Call.
//
// The format is a small fixed header followed by a recursive function
// record, optionally followed by a sequence of tagged, length-prefixed
// sections (a manifest and zero or more embedded native bundles) that a
// reader is free to skip without understanding.
package container

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
)

// defaultInitialThreshold and defaultGrowthFactor seed the Heap a
// deserialized Function's string constants are interned into; the caller
// is free to discard this heap in favor of an Interp's own once it starts
// executing the function for real.
const (
	defaultInitialThreshold = 1 << 20
	defaultGrowthFactor     = 2.0
)

// Magic identifies a VBXQ container.
var Magic = [4]byte{'V', 'B', 'X', 'Q'}

// Version is the current container format version. Deserialize rejects any
// other value rather than guessing at forward compatibility.
const Version uint16 = 1

const (
	tagManifest uint32 = 0x464E414D // "MANF" little-endian-read as the original's u32::from_le_bytes
	tagBundles  uint32 = 0x444E424E // "NBND"
)

const (
	constNull uint8 = iota
	constBool
	constInt
	constFloat
	constString
	constFunc
	constPtr
)

// NativeBundle is an embedded native module payload: a named, target-tagged
// blob (e.g. a shared object for a given OS/arch) along with a checksum
// string. The checksum is only carried through serialization; neither this
// package nor native.Loader verifies it.
type NativeBundle struct {
	Name     string
	Target   string
	Checksum string
	Bytes    []byte
}

// RawSection is a trailing section this build of the reader doesn't know the
// tag for. DeserializeWithSections hands these back byte-for-byte instead of
// dropping them, so a tool built against an older container/ package can
// load a file a newer writer produced, edit what it understands, and
// re-Serialize without silently losing the sections it couldn't parse.
type RawSection struct {
	Tag  uint32
	Data []byte
}

// Serialize encodes fn (which must already be bytecode.Finalize()'d) and its
// heap's interned string constants into a VBXQ byte stream. Manifest and
// bundles are optional trailing sections; pass nil to omit either. extra
// carries forward any sections DeserializeWithSections read back as
// RawSection (tags this package doesn't itself recognize) so round-tripping
// a container through this package never drops data; pass nil if there are
// none.
func Serialize(fn *bytecode.Function, h *heap.Heap, manifest []byte, bundles []NativeBundle, extra []RawSection) []byte {
	w := &writer{}
	w.putBytes(Magic[:])
	w.putU16(Version)
	w.putU16(0) // flags, reserved
	w.putU32(countFunctions(fn))
	w.putU32(0) // reserved
	w.putFunction(fn, h)

	if manifest != nil {
		w.putSection(tagManifest, manifest)
	}
	if len(bundles) > 0 {
		w.putSection(tagBundles, encodeBundles(bundles))
	}
	for _, s := range extra {
		w.putSection(s.Tag, s.Data)
	}
	return w.buf
}

func countFunctions(fn *bytecode.Function) uint32 {
	n := uint32(1)
	for _, nested := range fn.NestedFuncs {
		n += countFunctions(nested)
	}
	return n
}

// Deserialize decodes a VBXQ byte stream into a Function (not yet
// finalized — the caller must run it through bytecode.Finalize before
// executing it) and a fresh Heap holding its interned string constants.
func Deserialize(data []byte) (*bytecode.Function, *heap.Heap, error) {
	r := &reader{buf: data}
	h := heap.New(defaultInitialThreshold, defaultGrowthFactor)

	var magic [4]byte
	if err := r.getBytes(magic[:]); err != nil {
		return nil, nil, err
	}
	if magic != Magic {
		return nil, nil, fmt.Errorf("container: bad magic %v", magic)
	}
	version, err := r.getU16()
	if err != nil {
		return nil, nil, err
	}
	if version != Version {
		return nil, nil, fmt.Errorf("container: unsupported version %d", version)
	}
	if _, err := r.getU16(); err != nil { // flags
		return nil, nil, err
	}
	if _, err := r.getU32(); err != nil { // func count
		return nil, nil, err
	}
	if _, err := r.getU32(); err != nil { // reserved
		return nil, nil, err
	}

	fn, err := r.getFunction(h, 0)
	if err != nil {
		return nil, nil, err
	}
	return fn, h, nil
}

// DeserializeWithSections is Deserialize plus the trailing optional
// manifest and native bundle sections, for a loader that needs them. Any
// section tag besides MANF/NBND comes back as a RawSection rather than
// being discarded, so re-Serializing with it passed as extra reproduces the
// original container byte-for-byte in its section list.
func DeserializeWithSections(data []byte) (*bytecode.Function, *heap.Heap, []byte, []NativeBundle, []RawSection, error) {
	fn, h, err := Deserialize(data)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	r := &reader{buf: data}
	// Re-walk to find where the function record ends: simplest correct way
	// is to track consumption via a second pass using the same decode path
	// the first Deserialize used, since reader carries no shared position.
	pos, err := functionRecordEnd(data)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	r.pos = pos
	manifest, bundles, extra, err := r.getSections()
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	return fn, h, manifest, bundles, extra, nil
}

// functionRecordEnd re-parses the header and function record purely to find
// the byte offset sections begin at, discarding the decoded Function.
func functionRecordEnd(data []byte) (int, error) {
	r := &reader{buf: data}
	r.pos = 4 + 2 + 2 + 4 + 4 // magic, version, flags, func count, reserved
	scratch := heap.New(defaultInitialThreshold, defaultGrowthFactor)
	if _, err := r.getFunction(scratch, 0); err != nil {
		return 0, err
	}
	return r.pos, nil
}

// ---- writer -----------------------------------------------------------------

type writer struct{ buf []byte }

func (w *writer) putBytes(b []byte) { w.buf = append(w.buf, b...) }
func (w *writer) putU8(v uint8)     { w.buf = append(w.buf, v) }
func (w *writer) putU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.putBytes(b[:])
}
func (w *writer) putU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.putBytes(b[:])
}
func (w *writer) putU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.putBytes(b[:])
}
func (w *writer) putI64(v int64)   { w.putU64(uint64(v)) }
func (w *writer) putF64(v float64) { w.putU64(math.Float64bits(v)) }

func (w *writer) putString(s string) {
	w.putU16(uint16(len(s)))
	w.putBytes([]byte(s))
}

func (w *writer) putSection(tag uint32, data []byte) {
	w.putU32(tag)
	w.putU32(uint32(len(data)))
	w.putBytes(data)
}

// putFunction writes one function record, recursing into nested functions
// depth-first, matching the reader's read order exactly.
func (w *writer) putFunction(fn *bytecode.Function, h *heap.Heap) {
	w.putString(fn.Name)
	w.putU8(uint8(fn.Arity))
	w.putU8(uint8(fn.NumRegisters))

	w.putU16(uint16(len(fn.Constants)))
	for _, c := range fn.Constants {
		w.putConstant(c, h)
	}

	// Bytecode is written with every CallGlobal-family call site stripped
	// back to its unresolved form: inline-cache state is a runtime-only
	// optimization over a particular heap's object graph and must never
	// leak into a portable image, which may later be loaded against a
	// completely different set of global bindings. The global-index word
	// that follows each site's opcode word is kept; the cached-target word
	// after it is written as zero.
	w.putU32(uint32(len(fn.Code)))
	skipCacheWords := 0
	for _, instr := range fn.Code {
		if skipCacheWords > 0 {
			if skipCacheWords == 2 {
				w.putU32(uint32(instr))
			} else {
				w.putU32(0)
			}
			skipCacheWords--
			continue
		}
		d := bytecode.Decode(instr)
		if d.Op == bytecode.OpCallGlobalMono || d.Op == bytecode.OpCallGlobalNative {
			w.putU32(uint32(bytecode.Encode(bytecode.OpCallGlobal, d.A, d.B, d.C)))
			skipCacheWords = 2
		} else if d.Op == bytecode.OpCallGlobal {
			w.putU32(uint32(instr))
			skipCacheWords = 2
		} else {
			w.putU32(uint32(instr))
		}
	}

	w.putU16(uint16(len(fn.NestedFuncs)))
	for _, nested := range fn.NestedFuncs {
		w.putFunction(nested, h)
	}

	w.putU16(uint16(len(fn.UpvalueDescs)))
	for _, d := range fn.UpvalueDescs {
		if d.IsLocal {
			w.putU8(1)
		} else {
			w.putU8(0)
		}
		w.putU8(d.Index)
	}

	w.putU16(uint16(len(fn.Lines)))
	for _, e := range fn.Lines {
		w.putU16(uint16(e.Count))
		w.putU32(e.Line)
	}

	w.putU16(uint16(len(fn.Globals.Names)))
	for _, name := range fn.Globals.Names {
		w.putString(name)
	}
}

func (w *writer) putConstant(v value.Value, h *heap.Heap) {
	switch {
	case v.IsNull():
		w.putU8(constNull)
	case v.Kind() == value.TagBool:
		w.putU8(constBool)
		if v.AsBool() {
			w.putU8(1)
		} else {
			w.putU8(0)
		}
	case v.Kind() == value.TagInt:
		w.putU8(constInt)
		w.putI64(v.AsInt())
	case v.IsFloat():
		w.putU8(constFloat)
		w.putF64(v.AsFloat())
	case v.Kind() == value.TagNestedFn:
		w.putU8(constFunc)
		w.putU32(uint32(v.AsNestedFnIndex()))
	case v.Kind() == value.TagPtr:
		p, _ := v.AsPtr()
		ref := heap.Ref(p)
		if h.Kind(ref) == heap.KindString {
			w.putU8(constString)
			s := h.String(ref)
			w.putU32(uint32(len(s)))
			w.putBytes([]byte(s))
		} else {
			w.putU8(constPtr)
			w.putU64(p)
		}
	default:
		w.putU8(constNull)
	}
}

func encodeBundles(bundles []NativeBundle) []byte {
	w := &writer{}
	w.putU32(uint32(len(bundles)))
	for _, b := range bundles {
		w.putStringU32(b.Name)
		w.putStringU32(b.Target)
		w.putStringU32(b.Checksum)
		w.putBytesU32(b.Bytes)
	}
	return w.buf
}

func (w *writer) putStringU32(s string) {
	w.putU32(uint32(len(s)))
	w.putBytes([]byte(s))
}

func (w *writer) putBytesU32(b []byte) {
	w.putU32(uint32(len(b)))
	w.putBytes(b)
}

// ---- reader -----------------------------------------------------------------

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) getBytes(dst []byte) error {
	if r.remaining() < len(dst) {
		return fmt.Errorf("container: unexpected end of file")
	}
	copy(dst, r.buf[r.pos:r.pos+len(dst)])
	r.pos += len(dst)
	return nil
}

func (r *reader) getU8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("container: unexpected end of file")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) getU16() (uint16, error) {
	var b [2]byte
	if err := r.getBytes(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (r *reader) getU32() (uint32, error) {
	var b [4]byte
	if err := r.getBytes(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (r *reader) getU64() (uint64, error) {
	var b [8]byte
	if err := r.getBytes(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func (r *reader) getString(maxLen int) (string, error) {
	n, err := r.getU16()
	if err != nil {
		return "", err
	}
	if int(n) > maxLen {
		return "", fmt.Errorf("container: string length %d exceeds limit %d", n, maxLen)
	}
	b := make([]byte, n)
	if err := r.getBytes(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) getFunction(h *heap.Heap, depth int) (*bytecode.Function, error) {
	if depth > bytecode.MaxNestingDepth {
		return nil, fmt.Errorf("container: function nesting depth exceeds %d", bytecode.MaxNestingDepth)
	}
	name, err := r.getString(bytecode.MaxStringLength)
	if err != nil {
		return nil, err
	}

	arity, err := r.getU8()
	if err != nil {
		return nil, err
	}
	numRegs, err := r.getU8()
	if err != nil {
		return nil, err
	}

	constCount, err := r.getU16()
	if err != nil {
		return nil, err
	}
	if int(constCount) > bytecode.MaxConstants {
		return nil, fmt.Errorf("container: constant count %d exceeds limit", constCount)
	}
	constants := make([]value.Value, constCount)
	for i := range constants {
		v, err := r.getConstant(h)
		if err != nil {
			return nil, err
		}
		constants[i] = v
	}

	bcLen, err := r.getU32()
	if err != nil {
		return nil, err
	}
	if int(bcLen) > bytecode.MaxBytecodeLen {
		return nil, fmt.Errorf("container: bytecode length %d exceeds limit", bcLen)
	}
	code := make([]bytecode.Word, bcLen)
	for i := range code {
		w, err := r.getU32()
		if err != nil {
			return nil, err
		}
		code[i] = bytecode.Word(w)
	}

	nestedCount, err := r.getU16()
	if err != nil {
		return nil, err
	}
	if int(nestedCount) > bytecode.MaxNestedFunctions {
		return nil, fmt.Errorf("container: nested function count %d exceeds limit", nestedCount)
	}
	if err := validateFuncMarkers(constants, int(nestedCount)); err != nil {
		return nil, err
	}
	nested := make([]*bytecode.Function, nestedCount)
	for i := range nested {
		nf, err := r.getFunction(h, depth+1)
		if err != nil {
			return nil, err
		}
		nested[i] = nf
	}

	upvalCount, err := r.getU16()
	if err != nil {
		return nil, err
	}
	if int(upvalCount) > bytecode.MaxUpvalueDescs {
		return nil, fmt.Errorf("container: upvalue descriptor count %d exceeds limit", upvalCount)
	}
	upvals := make([]bytecode.UpvalueDesc, upvalCount)
	for i := range upvals {
		isLocal, err := r.getU8()
		if err != nil {
			return nil, err
		}
		idx, err := r.getU8()
		if err != nil {
			return nil, err
		}
		upvals[i] = bytecode.UpvalueDesc{IsLocal: isLocal != 0, Index: idx}
	}

	lineCount, err := r.getU16()
	if err != nil {
		return nil, err
	}
	if int(lineCount) > bytecode.MaxLines {
		return nil, fmt.Errorf("container: line table length %d exceeds limit", lineCount)
	}
	lines := make(bytecode.LineTable, lineCount)
	var start uint32
	for i := range lines {
		count, err := r.getU16()
		if err != nil {
			return nil, err
		}
		line, err := r.getU32()
		if err != nil {
			return nil, err
		}
		lines[i] = bytecode.LineEntry{StartOffset: start, Count: uint32(count), Line: line}
		start += uint32(count)
	}

	globalCount, err := r.getU16()
	if err != nil {
		return nil, err
	}
	if int(globalCount) > bytecode.MaxGlobalNames {
		return nil, fmt.Errorf("container: global name count %d exceeds limit", globalCount)
	}
	names := make([]string, globalCount)
	for i := range names {
		n, err := r.getString(bytecode.MaxStringLength)
		if err != nil {
			return nil, err
		}
		names[i] = n
	}

	fn := &bytecode.Function{
		Name:         name,
		Arity:        int(arity),
		NumRegisters: int(numRegs),
		Constants:    constants,
		Code:         code,
		NestedFuncs:  nested,
		UpvalueDescs: upvals,
		Lines:        lines,
		Globals:      bytecode.NewGlobalLayout(names),
	}
	return fn, nil
}

func validateFuncMarkers(constants []value.Value, nestedCount int) error {
	for _, c := range constants {
		if c.Kind() == value.TagNestedFn {
			idx := int(c.AsNestedFnIndex())
			if idx >= nestedCount {
				return fmt.Errorf("container: nested function marker index %d out of range (max %d)", idx, nestedCount-1)
			}
		}
	}
	return nil
}

func (r *reader) getConstant(h *heap.Heap) (value.Value, error) {
	tag, err := r.getU8()
	if err != nil {
		return value.Null, err
	}
	switch tag {
	case constNull:
		return value.Null, nil
	case constBool:
		b, err := r.getU8()
		if err != nil {
			return value.Null, err
		}
		return value.Bool(b != 0), nil
	case constInt:
		n, err := r.getU64()
		if err != nil {
			return value.Null, err
		}
		return value.Int(int64(n)), nil
	case constFloat:
		n, err := r.getU64()
		if err != nil {
			return value.Null, err
		}
		return value.Float(math.Float64frombits(n)), nil
	case constString:
		n, err := r.getU32()
		if err != nil {
			return value.Null, err
		}
		if int(n) > bytecode.MaxStringLength {
			return value.Null, fmt.Errorf("container: string constant length %d exceeds limit", n)
		}
		b := make([]byte, n)
		if err := r.getBytes(b); err != nil {
			return value.Null, err
		}
		ref := h.InternString(string(b))
		return value.Ptr(uint64(ref)), nil
	case constFunc:
		n, err := r.getU32()
		if err != nil {
			return value.Null, err
		}
		return value.NestedFn(uint64(n)), nil
	case constPtr:
		p, err := r.getU64()
		if err != nil {
			return value.Null, err
		}
		return value.Ptr(p), nil
	default:
		return value.Null, fmt.Errorf("container: invalid constant tag 0x%02x", tag)
	}
}

func (r *reader) getSections() ([]byte, []NativeBundle, []RawSection, error) {
	var manifest []byte
	var bundles []NativeBundle
	var extra []RawSection
	for r.remaining() > 0 {
		tag, err := r.getU32()
		if err != nil {
			return nil, nil, nil, err
		}
		length, err := r.getU32()
		if err != nil {
			return nil, nil, nil, err
		}
		if int(length) > bytecode.MaxSectionLength {
			return nil, nil, nil, fmt.Errorf("container: section length %d exceeds limit", length)
		}
		data := make([]byte, length)
		if err := r.getBytes(data); err != nil {
			return nil, nil, nil, err
		}
		switch tag {
		case tagManifest:
			manifest = data
		case tagBundles:
			parsed, err := decodeBundles(data)
			if err != nil {
				return nil, nil, nil, err
			}
			bundles = append(bundles, parsed...)
		default:
			// Unknown section: a forward-compatible reader must never fail
			// on a tag it doesn't recognize, but it must not silently drop
			// the bytes either — keep them so Serialize can re-emit this
			// section unchanged for a writer that only wants to touch the
			// tags it understands.
			extra = append(extra, RawSection{Tag: tag, Data: data})
		}
	}
	return manifest, bundles, extra, nil
}

func decodeBundles(data []byte) ([]NativeBundle, error) {
	r := &reader{buf: data}
	count, err := r.getU32()
	if err != nil {
		return nil, err
	}
	bundles := make([]NativeBundle, count)
	for i := range bundles {
		name, err := r.getStringU32()
		if err != nil {
			return nil, err
		}
		target, err := r.getStringU32()
		if err != nil {
			return nil, err
		}
		checksum, err := r.getStringU32()
		if err != nil {
			return nil, err
		}
		bytes, err := r.getBytesU32()
		if err != nil {
			return nil, err
		}
		bundles[i] = NativeBundle{Name: name, Target: target, Checksum: checksum, Bytes: bytes}
	}
	return bundles, nil
}

func (r *reader) getStringU32() (string, error) {
	n, err := r.getU32()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if err := r.getBytes(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) getBytesU32() ([]byte, error) {
	n, err := r.getU32()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if err := r.getBytes(b); err != nil {
		return nil, err
	}
	return b, nil
}
