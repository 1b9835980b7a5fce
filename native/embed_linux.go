//go:build linux

package native

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// writeEmbeddedLibrary places bytes into an anonymous, unlinked memfd and
// returns the /proc/self/fd path purego.Dlopen can load it from, so an
// embedded native bundle never touches a named path on disk. cleanup
// closes the fd once the library has been dlopen()'d; Linux keeps the
// mapping alive via the open library handle, not the fd itself.
func writeEmbeddedLibrary(name string, bytes []byte) (path string, cleanup func(), err error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		if err == unix.ENOSYS {
			return writeEmbeddedLibraryTempFile(name, bytes)
		}
		return "", nil, fmt.Errorf("native: memfd_create: %w", err)
	}
	if _, err := unix.Write(fd, bytes); err != nil {
		unix.Close(fd)
		return "", nil, fmt.Errorf("native: write to memfd: %w", err)
	}
	path = fmt.Sprintf("/proc/self/fd/%d", fd)
	return path, func() { unix.Close(fd) }, nil
}
