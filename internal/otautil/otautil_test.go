package otautil

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/otadump/payload-extract/internal/manifest"
)

func sampleManifest() *manifest.DeltaArchiveManifest {
	return &manifest.DeltaArchiveManifest{
		BlockSize: 4096,
		Partitions: []manifest.PartitionUpdate{
			{
				PartitionName:    "boot",
				NewPartitionInfo: &manifest.PartitionInfo{Size: 4096},
				Operations: []manifest.InstallOperation{
					{Type: manifest.OpReplace, DstExtents: []manifest.Extent{{NumBlocks: 1}}},
				},
			},
			{
				PartitionName:    "system",
				NewPartitionInfo: &manifest.PartitionInfo{Size: 8192},
				Operations: []manifest.InstallOperation{
					{Type: manifest.OpSourceBsdiff, DstExtents: []manifest.Extent{{NumBlocks: 2}}},
				},
			},
		},
	}
}

func TestIsDifferentialOTA(t *testing.T) {
	if !IsDifferentialOTA(sampleManifest()) {
		t.Fatal("expected manifest with SourceBsdiff op to be differential")
	}
}

func TestFormatSize(t *testing.T) {
	if got := FormatSize(1024); got == "" {
		t.Fatal("expected non-empty formatted size")
	}
}

func TestFormatElapsedTime(t *testing.T) {
	got := FormatElapsedTime(1500 * time.Millisecond)
	if !strings.Contains(got, "1.5s") {
		t.Fatalf("got %q", got)
	}
}

func TestListPartitions(t *testing.T) {
	m := sampleManifest()
	payload := manifest.EncodePayload(m, nil, []byte("data region"))

	var out bytes.Buffer
	if err := ListPartitions(&out, bytes.NewReader(payload)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "boot") || !strings.Contains(out.String(), "system") {
		t.Fatalf("expected both partitions listed, got %q", out.String())
	}
	if !strings.Contains(out.String(), "diff") {
		t.Fatalf("expected system partition marked diff, got %q", out.String())
	}
}

func TestListPartitionsRewindsFirst(t *testing.T) {
	m := sampleManifest()
	payload := manifest.EncodePayload(m, nil, []byte("data region"))
	r := bytes.NewReader(payload)
	if _, err := r.Seek(int64(len(payload)), 0); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := ListPartitions(&out, r); err != nil {
		t.Fatalf("expected ListPartitions to rewind before loading, got error: %v", err)
	}
}
