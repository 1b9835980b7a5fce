package vm

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vbxq/aelys/bytecode"
)

// A CallGlobal-family call site occupies 3 instruction words:
//
//	word[0] = [op:8][dest:8][nargs:8][_unused:8]
//	word[1] = global index (low 16 bits meaningful; MaxGlobalNames bounds it)
//	word[2] = cached target heap.Ref as uint32, 0 when unresolved
//
// The opcode byte of word[0] IS the cache state: OpCallGlobal (unresolved or
// just-deoptimized), OpCallGlobalMono (a plain Function/Closure target), or
// OpCallGlobalNative (a native export). Self-modification rewrites only
// word[0]'s opcode byte and word[2]'s target; word[1]'s global index never
// changes for the lifetime of the call site.

func callGlobalIdx(code []bytecode.Word, ip int) int {
	return int(uint16(code[ip+1]))
}

func callGlobalNargs(code []bytecode.Word, ip int) uint8 {
	d := bytecode.Decode(code[ip])
	return d.B
}

func readCacheTarget(code []bytecode.Word, ip int) uint64 {
	return uint64(code[ip+2])
}

func writeCacheTarget(code []bytecode.Word, ip int, ref uint64) {
	code[ip+2] = bytecode.Word(ref)
}

func clearCacheTarget(code []bytecode.Word, ip int) {
	code[ip+2] = 0
}

// deoptCache reverts a CallGlobal-family call site back to the generic
// CallGlobal form and clears its cached target, so the instruction
// re-resolves (possibly against a different target) the next time it runs.
// This is also exactly what container.Serialize must do to every call site
// before writing a .avbc, since cache state is never part of the portable
// bytecode image.
func deoptCache(code []bytecode.Word, ip int) {
	d := bytecode.Decode(code[ip])
	code[ip] = bytecode.Encode(bytecode.OpCallGlobal, d.A, d.B, d.C)
	clearCacheTarget(code, ip)
}

// hashDiagnostics is a small, purely diagnostic LRU of recently observed
// GlobalLayout hashes -> owning function name, filled in whenever a call
// site resolves; nothing in the VM reads it back or logs it. Per the design notes
// this hash is NEVER used to decide cache validity or binding identity — a
// hash collision between two distinct layouts must never silently rebind a
// call site to the wrong target.
type hashDiagnostics struct {
	cache *lru.Cache[uint64, string]
}

func newHashDiagnostics() *hashDiagnostics {
	c, _ := lru.New[uint64, string](256)
	return &hashDiagnostics{cache: c}
}

func (h *hashDiagnostics) observe(layout bytecode.GlobalLayout, funcName string) {
	h.cache.Add(layout.Hash, funcName)
}

func (h *hashDiagnostics) lastSeenOwner(hash uint64) (string, bool) {
	return h.cache.Get(hash)
}
