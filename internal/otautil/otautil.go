// Package otautil collects the small formatting and inspection helpers
// shared by the root package and the CLI: differential-OTA detection,
// human-readable size/duration formatting, and the partition listing used
// by --list (spec §6, §9).
package otautil

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/otadump/payload-extract/internal/manifest"
)

// IsDifferentialOTA reports whether m contains any differential
// (SourceCopy/SourceBsdiff/BrotliBsdiff) install operation.
func IsDifferentialOTA(m *manifest.DeltaArchiveManifest) bool {
	return m.IsDifferential()
}

// FormatSize renders a byte count the way the CLI reports payload and
// partition sizes.
func FormatSize(n uint64) string {
	return humanize.Bytes(n)
}

// FormatElapsedTime renders a run duration the way the CLI reports total
// elapsed time, to millisecond precision.
func FormatElapsedTime(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// ListPartitions writes a human-readable partition table to w. It always
// rewinds r to offset 0 before loading the manifest (spec §9: the listing
// path re-parses the payload from the start regardless of the reader's
// incoming position), so callers never need to seek first.
func ListPartitions(w io.Writer, r io.ReadSeeker) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("otautil: rewinding payload: %w", err)
	}

	loaded, err := manifest.Load(r)
	if err != nil {
		return fmt.Errorf("otautil: loading manifest: %w", err)
	}

	blockSize := uint64(loaded.Manifest.GetBlockSize())
	for _, p := range loaded.Manifest.Partitions {
		size := p.DstByteSize(blockSize)
		kind := "full"
		if partitionIsDifferential(p) {
			kind = "diff"
		}
		fmt.Fprintf(w, "%-24s %12s  %3d ops  %s\n", p.PartitionName, FormatSize(size), len(p.Operations), kind)
	}
	return nil
}

func partitionIsDifferential(p manifest.PartitionUpdate) bool {
	for _, op := range p.Operations {
		if op.Type.IsDifferential() {
			return true
		}
	}
	return false
}
