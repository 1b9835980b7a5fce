package vm

import (
	"github.com/vbxq/aelys/bytecode"
	"github.com/vbxq/aelys/value"
)

// globalStore is the dual-view global variable table: a name-keyed map (the
// GC root and the source of truth) plus an indexed slice rebuilt for the
// currently executing function from its GlobalLayout before each call.
//
// Binding identity is never decided from GlobalLayout.Hash — two functions'
// layouts can hash-collide — only from the (Function, index) pair used to
// rebuild globalsByIndex, or from the slot's live Value once resolved.
type globalStore struct {
	byName map[string]value.Value
	order  []string // insertion order, for deterministic GCRoots() and dumps

	globalsByIndex []value.Value
	currentLayout  *bytecode.GlobalLayout
}

func newGlobalStore() *globalStore {
	return &globalStore{byName: make(map[string]value.Value)}
}

func (g *globalStore) Get(name string) (value.Value, bool) {
	v, ok := g.byName[name]
	return v, ok
}

func (g *globalStore) Set(name string, v value.Value) {
	if _, exists := g.byName[name]; !exists {
		g.order = append(g.order, name)
	}
	g.byName[name] = v
	// SetGlobal by name invalidates any index binding currently pointing at
	// this name in the active layout, since the slot's value changed.
	if g.currentLayout != nil {
		for i, n := range g.currentLayout.Names {
			if n == name && i < len(g.globalsByIndex) {
				g.globalsByIndex[i] = v
			}
		}
	}
}

// PrepareForFunction rebuilds globalsByIndex from layout immediately before
// a function (or the call-cached fast paths) begin executing its frame, per
// spec: "globals_by_index rebuilt per-function from global_layout.names".
func (g *globalStore) PrepareForFunction(layout *bytecode.GlobalLayout) {
	g.currentLayout = layout
	g.globalsByIndex = make([]value.Value, len(layout.Names))
	for i, name := range layout.Names {
		if v, ok := g.byName[name]; ok {
			g.globalsByIndex[i] = v
		} else {
			g.globalsByIndex[i] = value.Null
		}
	}
}

// GetIndex reads globalsByIndex[idx]; callers must have called
// PrepareForFunction for the currently executing function first.
func (g *globalStore) GetIndex(idx int) value.Value {
	return g.globalsByIndex[idx]
}

// SetIndex writes globalsByIndex[idx] and propagates to the name map, then
// returns the bound name so the caller (the interpreter) can invalidate any
// inline cache keyed on this global.
func (g *globalStore) SetIndex(idx int, v value.Value) string {
	g.globalsByIndex[idx] = v
	name := g.currentLayout.Names[idx]
	if _, exists := g.byName[name]; !exists {
		g.order = append(g.order, name)
	}
	g.byName[name] = v
	return name
}

// gcRootValues returns every live global Value, for the heap's mark phase.
func (g *globalStore) gcRootValues() []value.Value {
	out := make([]value.Value, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.byName[name])
	}
	return out
}
