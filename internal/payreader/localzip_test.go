package payreader

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalZipReaderStored(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("payload-data-"), 1000)
	path := writeZip(t, dir, "ota.zip", content, zip.Store)

	r, err := OpenLocalZip(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if got := readAll(t, r); !bytes.Equal(got, content) {
		t.Fatalf("got %d bytes, want %d", len(got), len(content))
	}
}

func TestLocalZipReaderDeflate(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("compressible-payload-data-"), 1000)
	path := writeZip(t, dir, "ota.zip", content, zip.Deflate)

	r, err := OpenLocalZip(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if got := readAll(t, r); !bytes.Equal(got, content) {
		t.Fatalf("deflate round trip mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestLocalZipReaderSeek(t *testing.T) {
	dir := t.TempDir()
	content := []byte("0123456789abcdefghij")
	path := writeZip(t, dir, "ota.zip", content, zip.Store)

	r, err := OpenLocalZip(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Seek(10, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 5)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content[10:15]) {
		t.Fatalf("got %q, want %q", got, content[10:15])
	}

	if _, err := r.Seek(int64(len(content)+1), io.SeekStart); err == nil {
		t.Fatal("expected error seeking past end")
	}
}

func TestOpenLocalZipMissingEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	zw.Close()
	f.Close()

	if _, err := OpenLocalZip(path); err == nil {
		t.Fatal("expected error for zip without payload.bin")
	}
}
