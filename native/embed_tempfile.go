package native

import (
	"fmt"
	"os"
)

// writeEmbeddedLibraryTempFile is the portable fallback embedded-loading
// path: write the bundle to a private temp file, dlopen it, then unlink
// it once loaded. Used on platforms without memfd_create and as the
// Linux path's own fallback when the kernel lacks memfd_create support.
func writeEmbeddedLibraryTempFile(name string, bytes []byte) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "aelys-native-"+name+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("native: create temp library file: %w", err)
	}
	if _, err := f.Write(bytes); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("native: write temp library file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("native: close temp library file: %w", err)
	}
	p := f.Name()
	return p, func() { os.Remove(p) }, nil
}
