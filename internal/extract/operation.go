// Package extract implements the install-operation interpreter (spec
// §4.3) and the per-partition extraction sequence (spec §4.4) that drives
// it.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/otadump/payload-extract/internal/decompress"
	"github.com/otadump/payload-extract/internal/manifest"
	"github.com/otadump/payload-extract/internal/patch"
)

// ErrTruncatedExtents is returned by writeExtents when the decompressed or
// patched buffer runs out before every destination extent is covered
// (spec §4.3). It is operation-scoped and soft (tier 3), not a FatalError.
var ErrTruncatedExtents = errors.New("extract: decompressed data too short for destination extents")

// FatalError wraps an operation error that must abort the partition rather
// than being logged and skipped (spec §7 tier 2): non-recoverable I/O on
// the output file, and a missing or unreadable old-partition reader for a
// differential operation. Every other error Apply returns — decompression failure,
// BSDIFF failure, an unknown operation type, a truncated decompressed
// buffer — is operation-scoped and soft (tier 3): the caller logs a
// warning and moves on to the next operation.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// OldPartitionReader supplies bytes from the previous partition image,
// needed by the differential operation types (SourceCopy, SourceBsdiff,
// BrotliBsdiff). A nil value is only valid for operation types that never
// read it.
type OldPartitionReader interface {
	io.ReaderAt
}

// Apply executes a single install operation against dst. payloadData holds
// exactly the bytes at [op.DataOffset, op.DataOffset+op.DataLength) already
// read out of the payload's data region; old supplies the previous
// partition image for differential ops.
//
// Replace-family operations (Replace, ReplaceBz, ReplaceXz) and SourceCopy
// write their entire payload at DstExtents[0] only — a quirk of the
// upstream format preserved deliberately (spec §4.3, §9): a real payload's
// Replace/SourceCopy op always has exactly one destination extent sized to
// match, so this never loses data in practice. Zstd and the BSDIFF family
// distribute their decoded bytes across every DstExtents entry in order.
func Apply(op manifest.InstallOperation, payloadData []byte, blockSize uint64, dst io.WriterAt, old OldPartitionReader) error {
	switch op.Type {
	case manifest.OpReplace:
		if len(op.DstExtents) == 0 {
			return fmt.Errorf("extract: replace op has no destination extent")
		}
		return writeExtent(dst, op.DstExtents[0], blockSize, payloadData)

	case manifest.OpReplaceBz:
		raw, err := decompress.BZ2(payloadData)
		if err != nil {
			return err
		}
		if len(op.DstExtents) == 0 {
			return fmt.Errorf("extract: replace_bz op has no destination extent")
		}
		return writeExtent(dst, op.DstExtents[0], blockSize, raw)

	case manifest.OpReplaceXz:
		raw, err := decompress.XZ(payloadData)
		if err != nil {
			return err
		}
		if len(op.DstExtents) == 0 {
			return fmt.Errorf("extract: replace_xz op has no destination extent")
		}
		return writeExtent(dst, op.DstExtents[0], blockSize, raw)

	case manifest.OpZstd:
		raw, err := decompress.Zstd(payloadData)
		if err != nil {
			return err
		}
		return writeExtents(dst, op.DstExtents, blockSize, raw)

	case manifest.OpZero:
		return zeroExtents(dst, op.DstExtents, blockSize)

	case manifest.OpSourceCopy:
		oldBytes, err := readExtents(old, op.SrcExtents, blockSize)
		if err != nil {
			return fmt.Errorf("extract: source_copy: reading old partition: %w", err)
		}
		if len(op.DstExtents) == 0 {
			return fmt.Errorf("extract: source_copy op has no destination extent")
		}
		return writeExtent(dst, op.DstExtents[0], blockSize, oldBytes)

	case manifest.OpSourceBsdiff, manifest.OpBrotliBsdiff:
		// BrotliBsdiff is handled identically to SourceBsdiff: no example
		// repo in the corpus carries a brotli decompressor, and the plain
		// BSDIFF patch format already bzip2-compresses its internal
		// streams. If a real BrotliBsdiff payload turns out to wrap the
		// patch bytes in an outer brotli stream, bspatch rejects it and
		// the failure surfaces as an ordinary per-operation error (spec §7
		// tier 3), not a crash.
		oldBytes, err := readExtents(old, op.SrcExtents, blockSize)
		if err != nil {
			return fmt.Errorf("extract: %s: reading old partition: %w", op.Type, err)
		}
		newBytes, err := patch.Apply(oldBytes, payloadData)
		if err != nil {
			return fmt.Errorf("extract: %s: %w", op.Type, err)
		}
		return writeExtents(dst, op.DstExtents, blockSize, newBytes)

	default:
		return fmt.Errorf("extract: unsupported operation type %s", op.Type)
	}
}

func writeExtent(dst io.WriterAt, ext manifest.Extent, blockSize uint64, data []byte) error {
	if _, err := dst.WriteAt(data, int64(ext.StartBlock*blockSize)); err != nil {
		return &FatalError{Err: err}
	}
	return nil
}

// writeExtents distributes data across exts in order, spec §4.3's
// "distribute across dst_extents" rule for Zstd and the BSDIFF family. If
// data runs out before an extent is fully covered, that extent (and every
// one after it) is left unwritten and ErrTruncatedExtents is returned so
// the caller can log the operation-scoped warning spec §4.3/§7 require
// ("insufficient decompressed bytes ⇒ warn and stop processing further
// extents") — a short write is never silently treated as success.
func writeExtents(dst io.WriterAt, exts []manifest.Extent, blockSize uint64, data []byte) error {
	off := 0
	for _, ext := range exts {
		n := int(ext.NumBlocks * blockSize)
		if off+n > len(data) {
			return ErrTruncatedExtents
		}
		if _, err := dst.WriteAt(data[off:off+n], int64(ext.StartBlock*blockSize)); err != nil {
			return &FatalError{Err: err}
		}
		off += n
	}
	return nil
}

func zeroExtents(dst io.WriterAt, exts []manifest.Extent, blockSize uint64) error {
	for _, ext := range exts {
		zeros := make([]byte, ext.NumBlocks*blockSize)
		if _, err := dst.WriteAt(zeros, int64(ext.StartBlock*blockSize)); err != nil {
			return &FatalError{Err: err}
		}
	}
	return nil
}

func readExtents(src OldPartitionReader, exts []manifest.Extent, blockSize uint64) ([]byte, error) {
	if src == nil {
		return nil, &FatalError{Err: fmt.Errorf("no old partition reader available")}
	}
	var buf bytes.Buffer
	for _, ext := range exts {
		chunk := make([]byte, ext.NumBlocks*blockSize)
		if _, err := src.ReadAt(chunk, int64(ext.StartBlock*blockSize)); err != nil && err != io.EOF {
			return nil, &FatalError{Err: err}
		}
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}
