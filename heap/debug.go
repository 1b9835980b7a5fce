package heap

import (
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// DebugDump renders a per-Kind live-object census as an aligned table,
// for a host's diagnostic output when investigating memory growth.
func (h *Heap) DebugDump() string {
	counts := map[Kind]int{}
	for i := range h.objects {
		if isFreeSlot(h, Ref(i)) {
			continue
		}
		counts[h.objects[i].kind]++
	}

	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetHeader([]string{"kind", "live objects"})
	for _, k := range []Kind{KindString, KindFunction, KindNative, KindUpvalue, KindClosure, KindArray, KindVec} {
		table.Append([]string{kindName(k), strconv.Itoa(counts[k])})
	}
	table.Render()
	b.WriteString("bytes_allocated: " + strconv.FormatUint(h.bytesAllocated, 10) + "\n")
	b.WriteString("next_gc_threshold: " + strconv.FormatUint(h.nextGCThreshold, 10) + "\n")
	b.WriteString("gc_cycles: " + strconv.FormatUint(h.gcCycles, 10) + "\n")
	return b.String()
}

func isFreeSlot(h *Heap, r Ref) bool {
	for _, f := range h.free {
		if f == r {
			return true
		}
	}
	return false
}

func kindName(k Kind) string {
	switch k {
	case KindString:
		return "string"
	case KindFunction:
		return "function"
	case KindNative:
		return "native"
	case KindUpvalue:
		return "upvalue"
	case KindClosure:
		return "closure"
	case KindArray:
		return "array"
	case KindVec:
		return "vec"
	default:
		return "unknown"
	}
}
