package extract

import (
	"bytes"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/otadump/payload-extract/internal/manifest"
)

func TestPartitionFullReplace(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte{0x42}, testBlockSize)
	sum := sha256.Sum256(payload)

	pu := manifest.PartitionUpdate{
		PartitionName: "boot",
		NewPartitionInfo: &manifest.PartitionInfo{
			Size: testBlockSize,
		},
		Operations: []manifest.InstallOperation{
			{
				Type:           manifest.OpReplace,
				DataOffset:     0,
				DataLength:     testBlockSize,
				DataSHA256Hash: sum[:],
				DstExtents:     []manifest.Extent{{StartBlock: 0, NumBlocks: 1}},
			},
		},
	}

	reader := bytes.NewReader(payload)
	result, err := Partition(pu, reader, 0, testBlockSize, Options{OutDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if result.OutPath != filepath.Join(dir, "boot.img") {
		t.Fatalf("unexpected out path: %s", result.OutPath)
	}

	got, err := os.ReadFile(result.OutPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("output file content mismatch")
	}
	if len(result.Hash) != sha256.Size {
		t.Fatalf("expected a computed hash since NewPartitionInfo had none, got %d bytes", len(result.Hash))
	}
}

func TestPartitionUsesManifestHashWhenPresent(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte{0x11}, testBlockSize)
	sum := sha256.Sum256(payload)
	wantHash := []byte{1, 2, 3, 4}

	pu := manifest.PartitionUpdate{
		PartitionName:    "system",
		NewPartitionInfo: &manifest.PartitionInfo{Size: testBlockSize, Hash: wantHash},
		Operations: []manifest.InstallOperation{
			{
				Type:           manifest.OpReplace,
				DataLength:     testBlockSize,
				DataSHA256Hash: sum[:],
				DstExtents:     []manifest.Extent{{StartBlock: 0, NumBlocks: 1}},
			},
		},
	}

	result, err := Partition(pu, bytes.NewReader(payload), 0, testBlockSize, Options{OutDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(result.Hash, wantHash) {
		t.Fatal("expected manifest-supplied hash to be returned as-is, without recomputation")
	}
}

// TestPartitionDataHashMismatch exercises spec §8 scenario 4: a corrupt
// operation with a non-matching data hash is logged and skipped, not
// treated as a partition failure — extraction still returns no error.
func TestPartitionDataHashMismatch(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte{0x33}, testBlockSize)

	pu := manifest.PartitionUpdate{
		PartitionName:    "vendor",
		NewPartitionInfo: &manifest.PartitionInfo{Size: testBlockSize},
		Operations: []manifest.InstallOperation{
			{
				Type:           manifest.OpReplace,
				DataLength:     testBlockSize,
				DataSHA256Hash: []byte{0xDE, 0xAD, 0xBE, 0xEF},
				DstExtents:     []manifest.Extent{{StartBlock: 0, NumBlocks: 1}},
			},
		},
	}

	result, err := Partition(pu, bytes.NewReader(payload), 0, testBlockSize, Options{OutDir: dir})
	if err != nil {
		t.Fatalf("expected hash mismatch to be skipped, not fatal: %v", err)
	}

	got, err := os.ReadFile(result.OutPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, make([]byte, testBlockSize)) {
		t.Fatal("skipped operation should leave its extent as pre-sized zeros")
	}
}

func TestPartitionDifferentialRequiresOldDir(t *testing.T) {
	dir := t.TempDir()
	pu := manifest.PartitionUpdate{
		PartitionName: "product",
		Operations: []manifest.InstallOperation{
			{Type: manifest.OpSourceCopy, SrcExtents: []manifest.Extent{{NumBlocks: 1}}, DstExtents: []manifest.Extent{{NumBlocks: 1}}},
		},
	}
	if _, err := Partition(pu, bytes.NewReader(nil), 0, testBlockSize, Options{OutDir: dir}); err == nil {
		t.Fatal("expected error for missing old partition directory")
	}
}

// TestPartitionUnknownOperationSkipped exercises spec §8 scenario 6: an
// operation with an unrecognized type is logged and skipped, and the
// operation after it still runs.
func TestPartitionUnknownOperationSkipped(t *testing.T) {
	dir := t.TempDir()
	known := bytes.Repeat([]byte{0x77}, testBlockSize)
	sum := sha256.Sum256(known)

	pu := manifest.PartitionUpdate{
		PartitionName:    "system",
		NewPartitionInfo: &manifest.PartitionInfo{Size: testBlockSize * 2},
		Operations: []manifest.InstallOperation{
			{Type: manifest.OpMove, DataOffset: 0, DataLength: 0},
			{
				Type:           manifest.OpReplace,
				DataOffset:     0,
				DataLength:     testBlockSize,
				DataSHA256Hash: sum[:],
				DstExtents:     []manifest.Extent{{StartBlock: 1, NumBlocks: 1}},
			},
		},
	}

	result, err := Partition(pu, bytes.NewReader(known), 0, testBlockSize, Options{OutDir: dir})
	if err != nil {
		t.Fatalf("unknown op type should be skipped, not fatal: %v", err)
	}
	got, err := os.ReadFile(result.OutPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[testBlockSize:2*testBlockSize], known) {
		t.Fatal("operation following the unknown op should still have run")
	}
}

func TestPartitionDifferentialHashMismatch(t *testing.T) {
	dir := t.TempDir()
	oldDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(oldDir, "product.img"), bytes.Repeat([]byte{0x99}, testBlockSize), 0o644); err != nil {
		t.Fatal(err)
	}

	pu := manifest.PartitionUpdate{
		PartitionName:    "product",
		OldPartitionInfo: &manifest.PartitionInfo{Size: testBlockSize, Hash: []byte{0, 0, 0, 0}},
		Operations: []manifest.InstallOperation{
			{Type: manifest.OpSourceCopy, SrcExtents: []manifest.Extent{{NumBlocks: 1}}, DstExtents: []manifest.Extent{{NumBlocks: 1}}},
		},
	}
	if _, err := Partition(pu, bytes.NewReader(nil), 0, testBlockSize, Options{OutDir: dir, OldDir: oldDir}); err == nil {
		t.Fatal("expected old partition hash mismatch error")
	}
}
