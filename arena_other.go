//go:build plan9 || windows || js

package buddy

// arenaAlloc falls back to the Go heap on platforms without anonymous
// mappings; the runtime zeroes the slice.
func arenaAlloc(numBytes int) ([]byte, bool, error) {
	return make([]byte, numBytes), false, nil
}

func arenaFree(mem []byte) error { return nil }
