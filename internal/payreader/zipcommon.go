package payreader

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"
)

// storedEntryReader exposes one ZIP entry as a ReadSeekCloser, fast-pathing
// the common case — the entry stored uncompressed — straight through to the
// underlying io.ReaderAt (spec §4.1: "only the Store method is required for
// the fast path"). A Deflate-compressed entry falls back to a reopened
// decompression stream, discarding up to the requested offset; this keeps
// odd OTA ZIPs readable without requiring every seek to be forward-only.
type storedEntryReader struct {
	ra         io.ReaderAt
	entry      *zip.File
	dataOffset int64
	pos        int64

	stream    io.ReadCloser
	streamPos int64
}

// newStoredEntryReader locates entryName (matched case-sensitively, exact or
// as a "/"-suffixed path component) inside the ZIP whose central directory
// is reachable through ra, and prepares a reader over its data.
func newStoredEntryReader(ra io.ReaderAt, size int64, entryName string) (*storedEntryReader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("payreader: parsing zip central directory: %w", err)
	}

	var entry *zip.File
	for _, f := range zr.File {
		if f.Name == entryName || strings.HasSuffix(f.Name, "/"+entryName) {
			entry = f
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("payreader: no %q entry in zip", entryName)
	}

	dataOffset, err := entry.DataOffset()
	if err != nil {
		return nil, fmt.Errorf("payreader: locating %q data offset: %w", entryName, err)
	}

	return &storedEntryReader{ra: ra, entry: entry, dataOffset: dataOffset}, nil
}

func (r *storedEntryReader) Size() int64 { return int64(r.entry.UncompressedSize64) }

func (r *storedEntryReader) Read(p []byte) (int, error) {
	if r.pos >= r.Size() {
		return 0, io.EOF
	}
	if max := r.Size() - r.pos; int64(len(p)) > max {
		p = p[:max]
	}

	if r.entry.Method == zip.Store {
		n, err := r.ra.ReadAt(p, r.dataOffset+r.pos)
		r.pos += int64(n)
		if err == io.EOF && n > 0 {
			err = nil
		}
		return n, err
	}
	return r.readCompressed(p)
}

func (r *storedEntryReader) readCompressed(p []byte) (int, error) {
	if r.stream == nil || r.streamPos > r.pos {
		if r.stream != nil {
			r.stream.Close()
		}
		rc, err := r.entry.Open()
		if err != nil {
			return 0, fmt.Errorf("payreader: opening compressed entry: %w", err)
		}
		r.stream = rc
		r.streamPos = 0
	}
	if r.streamPos < r.pos {
		if _, err := io.CopyN(io.Discard, r.stream, r.pos-r.streamPos); err != nil {
			return 0, fmt.Errorf("payreader: skipping to offset %d: %w", r.pos, err)
		}
		r.streamPos = r.pos
	}

	n, err := r.stream.Read(p)
	r.pos += int64(n)
	r.streamPos += int64(n)
	return n, err
}

func (r *storedEntryReader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = r.Size() + offset
	default:
		return 0, errors.New("payreader: unsupported whence")
	}
	if newPos < 0 || newPos > r.Size() {
		return 0, fmt.Errorf("payreader: seek to %d out of range [0,%d]", newPos, r.Size())
	}
	r.pos = newPos
	return r.pos, nil
}

func (r *storedEntryReader) Close() error {
	if r.stream != nil {
		return r.stream.Close()
	}
	return nil
}
