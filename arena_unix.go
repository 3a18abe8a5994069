//go:build !plan9 && !windows && !js

package buddy

import "golang.org/x/sys/unix"

// arenaAlloc acquires numBytes of zeroed page-aligned memory from the
// operating system through an anonymous private mapping.
func arenaAlloc(numBytes int) ([]byte, bool, error) {
	mem, err := unix.Mmap(-1, 0, numBytes,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, false, err
	}
	return mem, true, nil
}

// arenaFree releases a mapping created by arenaAlloc. It must be passed the
// same slice arenaAlloc returned, not a derived one.
func arenaFree(mem []byte) error {
	return unix.Munmap(mem)
}
