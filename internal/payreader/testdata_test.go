package payreader

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// writeZip builds a zip archive at dir/name containing a single
// payload.bin entry holding content, stored under the given method.
func writeZip(t *testing.T, dir, name string, content []byte, method uint16) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "payload.bin", Method: method})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func readAll(t *testing.T, r ReadSeek) []byte {
	t.Helper()
	var buf bytes.Buffer
	tmp := make([]byte, 17) // odd size to exercise partial reads
	for {
		n, err := r.Read(tmp)
		buf.Write(tmp[:n])
		if err != nil {
			break
		}
	}
	return buf.Bytes()
}
