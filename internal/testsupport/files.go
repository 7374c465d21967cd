package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteUpload creates name under dir filled with size bytes and returns its
// path. Sizes above the upload limit are written sparse so tests stay fast.
func WriteUpload(t testing.TB, dir, name string, size int64) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	if size > 4*chunkSize {
		if err := f.Truncate(size); err != nil {
			t.Fatalf("truncate %s: %v", path, err)
		}
		return path
	}

	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}
	for remaining := size; remaining > 0; {
		n := min(remaining, int64(chunkSize))
		if _, err := f.Write(buf[:n]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= n
	}
	return path
}
