package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/otadump/payload-extract/internal/hashutil"
	"github.com/otadump/payload-extract/internal/manifest"
	"github.com/otadump/payload-extract/internal/otalog"
	"github.com/otadump/payload-extract/internal/payreader"
	"golang.org/x/sys/unix"
)

// Options configures a single partition extraction.
type Options struct {
	OutDir string
	OldDir string // non-empty in differential mode
}

// Result reports the outcome of extracting one partition.
type Result struct {
	PartitionName string
	OutPath       string
	Bytes         uint64
	Hash          []byte
}

// Partition extracts pu's operations into opts.OutDir, following the
// five-step sequence from spec §4.4: create the output directory, create
// and pre-size the image file, open (and hash-verify) the old partition
// image when pu is differential, run every operation in manifest order,
// then close and reopen the file to compute its hash only when the
// manifest didn't already supply one.
func Partition(pu manifest.PartitionUpdate, payloadData payreader.ReadSeek, dataStart int64, blockSize uint64, opts Options) (Result, error) {
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("extract: creating output dir: %w", err)
	}

	outPath := filepath.Join(opts.OutDir, pu.PartitionName+".img")
	out, err := os.Create(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("extract: creating %s: %w", outPath, err)
	}
	defer out.Close()

	size := int64(pu.DstByteSize(blockSize))
	if size > 0 {
		if err := unix.Fallocate(int(out.Fd()), 0, 0, size); err != nil {
			// Some filesystems (network mounts, certain overlay setups)
			// reject fallocate; fall back to a sparse truncate so the
			// extraction still proceeds.
			if err := out.Truncate(size); err != nil {
				return Result{}, fmt.Errorf("extract: sizing %s: %w", outPath, err)
			}
		}
	}

	var old OldPartitionReader
	if pu.IsDifferential() {
		if opts.OldDir == "" {
			return Result{}, fmt.Errorf("extract: %s requires an old partition image but none was provided", pu.PartitionName)
		}
		oldPath := filepath.Join(opts.OldDir, pu.PartitionName+".img")
		oldFile, err := os.Open(oldPath)
		if err != nil {
			return Result{}, fmt.Errorf("extract: opening old partition %s: %w", oldPath, err)
		}
		defer oldFile.Close()

		if pu.OldPartitionInfo != nil && len(pu.OldPartitionInfo.Hash) > 0 {
			sum, err := hashutil.SumReader(io.NewSectionReader(oldFile, 0, int64(pu.OldPartitionInfo.Size)), 0)
			if err != nil {
				return Result{}, fmt.Errorf("extract: hashing old partition %s: %w", oldPath, err)
			}
			if !bytes.Equal(sum, pu.OldPartitionInfo.Hash) {
				return Result{}, fmt.Errorf("extract: old partition %s hash mismatch", oldPath)
			}
		}
		old = oldFile
	}

	// Operations run in manifest order, not data_offset order (spec §4.4
	// step 4, §5, §8): overlapping dst extents legitimately rely on
	// later-wins semantics, and reordering would misattribute warnings to
	// the wrong operation index.
	for i, op := range pu.Operations {
		data := make([]byte, op.DataLength)
		if op.DataLength > 0 {
			if _, err := payloadData.Seek(dataStart+int64(op.DataOffset), io.SeekStart); err != nil {
				return Result{}, fmt.Errorf("extract: %s op %d: seeking payload data: %w", pu.PartitionName, i, err)
			}
			if _, err := io.ReadFull(payloadData, data); err != nil {
				return Result{}, fmt.Errorf("extract: %s op %d: reading payload data: %w", pu.PartitionName, i, err)
			}
		}
		// Per-operation data-hash mismatch is operation-scoped (spec §7
		// tier 3): log and skip this operation, the partition continues.
		if !hashutil.Matches(data, op.DataSHA256Hash) {
			otalog.Warn("%s op %d: data hash mismatch, skipping operation", pu.PartitionName, i)
			continue
		}
		if err := Apply(op, data, blockSize, out, old); err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				return Result{}, fmt.Errorf("extract: %s op %d (%s): %w", pu.PartitionName, i, op.Type, err)
			}
			otalog.Warn("%s op %d (%s): %v, skipping operation", pu.PartitionName, i, op.Type, err)
		}
	}

	if err := out.Sync(); err != nil {
		return Result{}, fmt.Errorf("extract: syncing %s: %w", outPath, err)
	}
	if err := out.Close(); err != nil {
		return Result{}, fmt.Errorf("extract: closing %s: %w", outPath, err)
	}

	result := Result{PartitionName: pu.PartitionName, OutPath: outPath, Bytes: uint64(size)}
	if pu.NewPartitionInfo != nil && len(pu.NewPartitionInfo.Hash) > 0 {
		result.Hash = pu.NewPartitionInfo.Hash
		return result, nil
	}

	verify, err := os.Open(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("extract: reopening %s for hashing: %w", outPath, err)
	}
	defer verify.Close()
	sum, err := hashutil.SumReader(verify, 0)
	if err != nil {
		return Result{}, fmt.Errorf("extract: hashing %s: %w", outPath, err)
	}
	result.Hash = sum
	return result, nil
}
