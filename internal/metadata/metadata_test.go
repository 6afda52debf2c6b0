package metadata

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/otadump/payload-extract/internal/manifest"
)

func TestBuildAndWrite(t *testing.T) {
	m := &manifest.DeltaArchiveManifest{
		BlockSize:          4096,
		SecurityPatchLevel: "2026-01-01",
		Partitions: []manifest.PartitionUpdate{
			{
				PartitionName:    "boot",
				NewPartitionInfo: &manifest.PartitionInfo{Size: 4096},
				Operations: []manifest.InstallOperation{
					{Type: manifest.OpReplace, DstExtents: []manifest.Extent{{NumBlocks: 1}}},
				},
			},
		},
	}

	doc := Build(m, 1234)
	if doc.DataOffset != 1234 {
		t.Fatalf("data offset = %d, want 1234", doc.DataOffset)
	}
	if len(doc.Partitions) != 1 || doc.Partitions[0].Name != "boot" {
		t.Fatalf("unexpected partitions: %+v", doc.Partitions)
	}
	if doc.Partitions[0].Differential {
		t.Fatal("replace-only partition should not be marked differential")
	}

	var buf bytes.Buffer
	if err := Write(&buf, doc); err != nil {
		t.Fatal(err)
	}

	var decoded Document
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.SecurityPatchLevel != "2026-01-01" {
		t.Fatalf("got %q", decoded.SecurityPatchLevel)
	}
}
