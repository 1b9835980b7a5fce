//go:build !linux

package native

// writeEmbeddedLibrary delegates straight to the portable temp-file path
// on platforms without memfd_create.
func writeEmbeddedLibrary(name string, bytes []byte) (path string, cleanup func(), err error) {
	return writeEmbeddedLibraryTempFile(name, bytes)
}
