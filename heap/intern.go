package heap

import (
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"
)

// internTable maps interned string bytes to their heap Ref. Lookups must
// always return the same Ref for the same bytes once interned — string
// equality in Aelys is Ref equality, not byte comparison — so this cannot
// be an ordinary evicting cache on its own. fastcache.Cache is used as a
// byte-keyed fast path (the same structure the teacher's dependency stack
// already pulls in for high-throughput byte-keyed lookups); a plain Go map
// underneath is the correctness backstop that survives any eviction
// fastcache performs under memory pressure, repopulating the fast path on
// a backstop hit.
type internTable struct {
	fast    *fastcache.Cache
	backstop map[string]Ref
}

func newInternTable() *internTable {
	return &internTable{
		fast:     fastcache.New(4 * 1024 * 1024),
		backstop: make(map[string]Ref),
	}
}

func (t *internTable) lookup(s string) (Ref, bool) {
	if buf, ok := t.fast.HasGet(nil, []byte(s)); ok {
		return Ref(binary.LittleEndian.Uint64(buf)), true
	}
	if r, ok := t.backstop[s]; ok {
		t.cacheFast(s, r)
		return r, true
	}
	return 0, false
}

func (t *internTable) insert(s string, r Ref) {
	t.backstop[s] = r
	t.cacheFast(s, r)
}

func (t *internTable) cacheFast(s string, r Ref) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(r))
	t.fast.Set([]byte(s), buf[:])
}
