// Package metadata implements the --metadata JSON export (spec §6):
// enough of the decoded manifest to identify a payload and its partitions
// without reimplementing a full protobuf-to-JSON mapping, grounded on the
// shape save_metadata produces in the original Rust CLI.
package metadata

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/otadump/payload-extract/internal/manifest"
)

// Document is the top-level JSON shape written by --metadata.
type Document struct {
	BlockSize          uint32      `json:"block_size"`
	SecurityPatchLevel string      `json:"security_patch_level,omitempty"`
	DataOffset         int64       `json:"data_offset"`
	Partitions         []Partition `json:"partitions"`
}

// Partition is one manifest partition's metadata entry.
type Partition struct {
	Name         string `json:"name"`
	SizeBytes    uint64 `json:"size_bytes"`
	Operations   int    `json:"operations"`
	Differential bool   `json:"differential"`
}

// Build converts m into a Document. dataOffset is manifest.Loaded.DataOffset.
func Build(m *manifest.DeltaArchiveManifest, dataOffset int64) Document {
	blockSize := uint64(m.GetBlockSize())
	doc := Document{
		BlockSize:          m.GetBlockSize(),
		SecurityPatchLevel: m.SecurityPatchLevel,
		DataOffset:         dataOffset,
	}
	for _, p := range m.Partitions {
		doc.Partitions = append(doc.Partitions, Partition{
			Name:         p.PartitionName,
			SizeBytes:    p.DstByteSize(blockSize),
			Operations:   len(p.Operations),
			Differential: isDifferential(p),
		})
	}
	return doc
}

func isDifferential(p manifest.PartitionUpdate) bool {
	for _, op := range p.Operations {
		if op.Type.IsDifferential() {
			return true
		}
	}
	return false
}

// Write marshals doc as indented JSON to w.
func Write(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("metadata: encoding: %w", err)
	}
	return nil
}
