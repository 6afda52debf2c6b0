package verify

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/otadump/payload-extract/internal/manifest"
)

func writeImg(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".img"), content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPartitionsAllMatch(t *testing.T) {
	dir := t.TempDir()
	content := []byte("boot partition image contents")
	writeImg(t, dir, "boot", content)
	sum := sha256.Sum256(content)

	pus := []manifest.PartitionUpdate{
		{PartitionName: "boot", NewPartitionInfo: &manifest.PartitionInfo{Hash: sum[:]}},
	}

	results := Partitions(pus, Options{OutDir: dir})
	if len(results) != 1 || !results[0].OK || results[0].Err != nil {
		t.Fatalf("unexpected result: %+v", results)
	}
}

func TestPartitionsMismatch(t *testing.T) {
	dir := t.TempDir()
	writeImg(t, dir, "system", []byte("actual content"))

	pus := []manifest.PartitionUpdate{
		{PartitionName: "system", NewPartitionInfo: &manifest.PartitionInfo{Hash: []byte{1, 2, 3, 4}}},
	}

	results := Partitions(pus, Options{OutDir: dir})
	if len(results) != 1 || results[0].OK {
		t.Fatalf("expected mismatch, got %+v", results)
	}
}

func TestPartitionsEmptyHashAutoSucceeds(t *testing.T) {
	dir := t.TempDir()
	pus := []manifest.PartitionUpdate{
		{PartitionName: "vendor", NewPartitionInfo: &manifest.PartitionInfo{}},
		{PartitionName: "product"},
	}

	results := Partitions(pus, Options{OutDir: dir})
	for _, r := range results {
		if !r.OK || r.Err != nil {
			t.Fatalf("expected automatic success for absent hash: %+v", r)
		}
	}
}

func TestPartitionsMissingFile(t *testing.T) {
	dir := t.TempDir()
	pus := []manifest.PartitionUpdate{
		{PartitionName: "nope", NewPartitionInfo: &manifest.PartitionInfo{Hash: []byte{1}}},
	}

	results := Partitions(pus, Options{OutDir: dir})
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected error for missing file, got %+v", results)
	}
}

func TestBufferSizeForTiers(t *testing.T) {
	cases := []struct {
		size int64
		want int
	}{
		{size: 1024, want: 64 << 10},
		{size: 50 << 20, want: 1 << 20},
		{size: 200 << 20, want: 8 << 20},
	}
	for _, c := range cases {
		if got := bufferSizeFor(c.size); got != c.want {
			t.Fatalf("bufferSizeFor(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}
