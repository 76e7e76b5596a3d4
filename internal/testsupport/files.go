package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// MinimalPDF is a tiny document header; the rasterizer is always faked in
// tests, so only the bytes' presence matters.
var MinimalPDF = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

// WritePDF writes MinimalPDF to dir/name and returns the path.
func WritePDF(t testing.TB, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, MinimalPDF, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
