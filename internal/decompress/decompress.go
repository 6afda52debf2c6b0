// Package decompress wraps the three in-memory decompression codecs an
// install operation can reference: XZ, Zstd and BZ2. Every function returns
// a plain error on malformed input — decompression failure is a recoverable,
// operation-scoped condition (spec §7 tier 3); callers warn and skip rather
// than aborting.
package decompress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// XZ decompresses an XZ stream fully into memory.
func XZ(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}
	return out, nil
}

// Zstd decompresses a single Zstd frame fully into memory.
func Zstd(data []byte) ([]byte, error) {
	out, err := zstd.Decompress(nil, data)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

// BZ2 decompresses a BZ2 stream fully into memory.
func BZ2(data []byte) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("bzip2: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("bzip2: %w", err)
	}
	return out, nil
}
