// Package vm implements the Aelys interpreter: the call-frame stack, the
// global variable store, the dispatch loop, call machinery (including the
// polymorphic-inline-cache protocol for CallGlobal call sites), and
// upvalue/closure lifecycle management.
//
// The dispatch loop and frame model are adapted from the teacher VM's
// fetch/decode/execute Step loop, generalized from a flat 64-bit-register
// gas-metered machine to a NaN-boxed-Value, GC-traced, closure-capable one.
package vm

import "io"

// Config holds the interpreter's tunables. There is no config-file loader;
// embedders construct a Config directly (config loading is explicitly out
// of scope for this repository).
type Config struct {
	// MaxFrames bounds the call-frame stack; exceeding it is StackOverflow.
	MaxFrames int

	// InitialGCThreshold and GCGrowthFactor seed the heap's collection
	// policy (see heap.New).
	InitialGCThreshold uint64
	GCGrowthFactor     float64

	// ManualHeapLimit bounds the manual (Alloc/Free) heap in bytes; 0 uses
	// heap.DefaultManualHeapLimit.
	ManualHeapLimit uint64

	// MaxCallSiteSlots records the call-site slot limit (spec:
	// MAX_CALL_SITE_SLOTS). The interpreter does not read it, so the number
	// of CallGlobal call sites is not bounded by it.
	MaxCallSiteSlots int

	// Stdout is where the Print opcode writes; nil defaults to os.Stdout.
	Stdout io.Writer
}

// DefaultConfig returns the interpreter's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxFrames:          1024,
		InitialGCThreshold: 1 << 20, // 1 MiB
		GCGrowthFactor:     2.0,
		ManualHeapLimit:    0,
		MaxCallSiteSlots:   65536,
	}
}
