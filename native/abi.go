// Package native loads Aelys native modules: shared libraries (or
// in-memory bundles extracted from a VBXQ container) exposing a fixed C
// ABI descriptor that this loader validates before ever calling into
// foreign code, then registers as globals an Interp can call through
// OpCallGlobalNative.
package native

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/vbxq/aelys/heap"
	"github.com/vbxq/aelys/value"
)

// ABIVersion is the only descriptor ABI version this loader accepts.
// A native module built against a different Aelys ABI generation must be
// rejected rather than guessed-at, since the descriptor layout itself may
// have changed shape.
const ABIVersion uint32 = 1

const (
	maxExportCount         = 65536
	maxRequiredModuleCount = 65536
	maxCStringLen          = 4096
)

// ExportKind distinguishes a callable export from a data export (e.g. a
// version string or capability flags table a module publishes alongside
// its functions).
type ExportKind uint32

const (
	ExportFunction ExportKind = iota
	ExportData
)

// descriptorLayout mirrors the C ABI's AelysModuleDescriptor, field for
// field, so it can be read directly out of the loaded library's data
// segment via unsafe.Pointer arithmetic instead of cgo. All pointer-sized
// fields are uintptr since purego already deals exclusively in uintptr.
//
//	struct AelysModuleDescriptor {
//	    uint32_t abi_version;
//	    uint32_t descriptor_size;
//	    const char *module_name;
//	    const char *module_version;
//	    uint32_t export_count;
//	    uint32_t _pad;
//	    const AelysExport *exports;
//	    uint64_t exports_hash;
//	    uint32_t required_module_count;
//	    uint32_t _pad2;
//	    const AelysRequiredModule *required_modules;
//	};
type descriptorLayout struct {
	abiVersion           uint32
	descriptorSize       uint32
	moduleName           uintptr
	moduleVersion        uintptr
	exportCount          uint32
	_pad                 uint32
	exports              uintptr
	exportsHash          uint64
	requiredModuleCount  uint32
	_pad2                uint32
	requiredModules      uintptr
}

// exportLayout mirrors one AelysExport entry:
//
//	struct AelysExport {
//	    const char *name;
//	    uint32_t kind;
//	    uint8_t arity;
//	    uint8_t _pad[3];
//	    const void *value;
//	};
type exportLayout struct {
	name  uintptr
	kind  uint32
	arity uint8
	_pad  [3]uint8
	value uintptr
}

const exportLayoutSize = int(unsafe.Sizeof(exportLayout{}))

// requiredModuleLayout mirrors one AelysRequiredModule entry:
//
//	struct AelysRequiredModule {
//	    const char *name;
//	    const char *version_req; // nullable
//	};
type requiredModuleLayout struct {
	name       uintptr
	versionReq uintptr
}

const requiredModuleLayoutSize = int(unsafe.Sizeof(requiredModuleLayout{}))

// Export is one validated native export, ready to be wired into an
// Interp's globals.
type Export struct {
	Name  string
	Kind  ExportKind
	Arity int
	Addr  uintptr
}

// RequiredModule is a dependency a native module declares on another
// (by name, with an optional version requirement string the caller is
// free to interpret however its module resolution policy demands).
type RequiredModule struct {
	Name       string
	VersionReq string
}

// Module is a loaded and validated native module: its descriptor has
// passed every check in the load sequence (ABI version, descriptor size,
// export table shape, function pointer sanity, and a recomputed exports
// hash) before a single byte of it is trusted.
type Module struct {
	Name             string
	Version          string
	RequiredModules  []RequiredModule
	Exports          map[string]Export

	handle uintptr
}

// Loader loads native modules from a path on disk or from an in-memory
// byte bundle (e.g. one extracted from a VBXQ container's native-bundle
// section).
type Loader struct{}

// NewLoader returns a ready-to-use Loader.
func NewLoader() *Loader { return &Loader{} }

// LoadDynamic dlopen()s the shared library at path and validates it.
func (l *Loader) LoadDynamic(name, path string) (*Module, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("native: dlopen %s: %w", path, err)
	}
	return loadFromHandle(name, handle)
}

// LoadEmbedded loads a module from an in-memory byte bundle by writing it
// to an anonymous, unlinked file descriptor (memfd_create on Linux) and
// dlopen()ing /proc/self/fd/<n>, so an embedded native bundle never
// touches a named path on disk. See embed_linux.go and embed_other.go for
// the platform-specific half of this.
func (l *Loader) LoadEmbedded(name string, bytes []byte) (*Module, error) {
	path, cleanup, err := writeEmbeddedLibrary(name, bytes)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("native: dlopen embedded %s: %w", name, err)
	}
	return loadFromHandle(name, handle)
}

func loadFromHandle(name string, handle uintptr) (*Module, error) {
	sym, err := purego.Dlsym(handle, "aelys_module_descriptor")
	if err != nil {
		return nil, fmt.Errorf("native: %w: %w", ErrMissingDescriptor, err)
	}
	// The symbol is itself a pointer-to-pointer: a global `const
	// AelysModuleDescriptor *aelys_module_descriptor`.
	descPtr := *(*uintptr)(unsafe.Pointer(sym))
	if descPtr == 0 {
		return nil, ErrMissingDescriptor
	}
	desc := (*descriptorLayout)(unsafe.Pointer(descPtr))

	if desc.abiVersion != ABIVersion {
		return nil, fmt.Errorf("native: %w: expected %d, found %d", ErrInvalidABI, ABIVersion, desc.abiVersion)
	}
	if desc.descriptorSize < uint32(unsafe.Sizeof(descriptorLayout{})) {
		return nil, fmt.Errorf("native: %w: descriptor size too small", ErrInvalidDescriptor)
	}

	moduleName := name
	if desc.moduleName != 0 {
		moduleName, err = readCString(desc.moduleName)
		if err != nil {
			return nil, err
		}
	}
	moduleVersion := ""
	if desc.moduleVersion != 0 {
		moduleVersion, err = readCString(desc.moduleVersion)
		if err != nil {
			return nil, err
		}
	}
	if desc.exportsHash == 0 {
		return nil, fmt.Errorf("native: %w: exports_hash is missing", ErrInvalidDescriptor)
	}

	required, err := readRequiredModules(desc)
	if err != nil {
		return nil, err
	}
	exports, rawExports, err := readExports(desc)
	if err != nil {
		return nil, err
	}
	if computed := computeExportsHash(rawExports); computed != desc.exportsHash {
		return nil, fmt.Errorf("native: %w: expected %d, computed %d", ErrInvalidExportsHash, desc.exportsHash, computed)
	}

	return &Module{
		Name:            moduleName,
		Version:         moduleVersion,
		RequiredModules: required,
		Exports:         exports,
		handle:          handle,
	}, nil
}

func readExports(desc *descriptorLayout) (map[string]Export, []byte, error) {
	if desc.exportCount == 0 {
		return map[string]Export{}, nil, nil
	}
	if desc.exports == 0 {
		return nil, nil, fmt.Errorf("native: %w: exports pointer is null", ErrInvalidDescriptor)
	}
	if desc.exportCount > maxExportCount {
		return nil, nil, fmt.Errorf("native: %w: export_count exceeds limit", ErrInvalidDescriptor)
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(desc.exports)), int(desc.exportCount)*exportLayoutSize)
	out := make(map[string]Export, desc.exportCount)
	for i := 0; i < int(desc.exportCount); i++ {
		e := (*exportLayout)(unsafe.Pointer(&raw[i*exportLayoutSize]))
		name, err := readCString(e.name)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := out[name]; dup {
			return nil, nil, fmt.Errorf("native: %w: %s", ErrDuplicateExport, name)
		}
		kind := ExportKind(e.kind)
		if kind == ExportFunction {
			if err := validateFunctionPointer(name, e.value); err != nil {
				return nil, nil, err
			}
		}
		out[name] = Export{Name: name, Kind: kind, Arity: int(e.arity), Addr: e.value}
	}
	return out, raw, nil
}

func readRequiredModules(desc *descriptorLayout) ([]RequiredModule, error) {
	if desc.requiredModuleCount == 0 {
		return nil, nil
	}
	if desc.requiredModules == 0 {
		return nil, fmt.Errorf("native: %w: required_modules pointer is null", ErrInvalidDescriptor)
	}
	if desc.requiredModuleCount > maxRequiredModuleCount {
		return nil, fmt.Errorf("native: %w: required_module_count exceeds limit", ErrInvalidDescriptor)
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(desc.requiredModules)), int(desc.requiredModuleCount)*requiredModuleLayoutSize)
	out := make([]RequiredModule, desc.requiredModuleCount)
	for i := range out {
		r := (*requiredModuleLayout)(unsafe.Pointer(&raw[i*requiredModuleLayoutSize]))
		name, err := readCString(r.name)
		if err != nil {
			return nil, err
		}
		versionReq := ""
		if r.versionReq != 0 {
			versionReq, err = readCString(r.versionReq)
			if err != nil {
				return nil, err
			}
		}
		out[i] = RequiredModule{Name: name, VersionReq: versionReq}
	}
	return out, nil
}

// validateFunctionPointer rejects a function export whose address looks
// corrupted before it is ever called: null, misaligned, in the
// conventionally-unmapped first page, or outside the user-space range a
// 64-bit process can legitimately occupy.
func validateFunctionPointer(name string, addr uintptr) error {
	if addr == 0 {
		return fmt.Errorf("native: %w: %s: function pointer is null", ErrInvalidFunctionPointer, name)
	}
	if addr%unsafe.Alignof(addr) != 0 {
		return fmt.Errorf("native: %w: %s: function pointer is not properly aligned", ErrInvalidFunctionPointer, name)
	}
	const minValidAddress = 0x1000
	if addr < minValidAddress {
		return fmt.Errorf("native: %w: %s: function pointer is in reserved address range", ErrInvalidFunctionPointer, name)
	}
	const maxUserAddress = 0x0000_7FFF_FFFF_FFFF
	if uint64(addr) > maxUserAddress {
		return fmt.Errorf("native: %w: %s: function pointer is outside valid user-space range", ErrInvalidFunctionPointer, name)
	}
	return nil
}

// computeExportsHash is an FNV-1a digest over the raw export table bytes,
// the Go-side half of the descriptor/loader integrity check: a module
// built with a tampered or truncated export table will fail this before
// any of its exports are ever wired in as globals.
func computeExportsHash(raw []byte) uint64 {
	var h uint64 = 0xcbf29ce484222325
	for _, b := range raw {
		h ^= uint64(b)
		h *= 0x100000001b3
	}
	return h
}

func readCString(addr uintptr) (string, error) {
	if addr == 0 {
		return "", nil
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), maxCStringLen)
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return "", ErrCStringTooLong
}

// nativeFnSig is the Go side of the one C calling convention every
// Aelys native export function uses: an array of NaN-boxed argument
// words plus a count in, one NaN-boxed result word out. Since
// value.Value is itself a bare uint64 this requires no marshaling beyond
// pointer arithmetic.
type nativeFnSig func(argsPtr uintptr, nargs int32) uint64

// AsNativeFn wraps a validated function Export as a heap.NativeFn ready
// to register as a global: its Fn boxes the interpreter's []value.Value
// arguments into a flat uint64 buffer, calls across the ABI boundary via
// purego.RegisterFunc, and unboxes the single uint64 result back as a
// value.Value.
func (e Export) AsNativeFn() (*heap.NativeFn, error) {
	if e.Kind != ExportFunction {
		return nil, fmt.Errorf("native: export %q is not a function", e.Name)
	}
	var fn nativeFnSig
	purego.RegisterFunc(&fn, e.Addr)

	arity := e.Arity
	name := e.Name
	return &heap.NativeFn{
		Name:  name,
		Arity: arity,
		Fn: func(args []value.Value) (value.Value, error) {
			buf := make([]byte, 8*len(args))
			for i, a := range args {
				binary.LittleEndian.PutUint64(buf[i*8:], uint64(a))
			}
			var argsPtr uintptr
			if len(buf) > 0 {
				argsPtr = uintptr(unsafe.Pointer(&buf[0]))
			}
			result := fn(argsPtr, int32(len(args)))
			runtime.KeepAlive(buf)
			return value.Value(result), nil
		},
	}, nil
}

// GlobalName is the "<module>::<export>" naming convention exports are
// registered under, so two modules may each export a function of the
// same local name without colliding.
func (m *Module) GlobalName(exportName string) string {
	return m.Name + "::" + exportName
}
