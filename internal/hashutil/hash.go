// Package hashutil provides the incremental SHA-256 helpers used to verify
// operation data, old-partition images and new-partition images.
package hashutil

import (
	"bytes"
	"crypto/sha256"
	"io"
)

// Sum returns the SHA-256 digest of data.
func Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Matches reports whether data's SHA-256 equals expected. An empty expected
// hash always matches — callers use this to express "no hash to check."
func Matches(data, expected []byte) bool {
	if len(expected) == 0 {
		return true
	}
	return bytes.Equal(Sum(data), expected)
}

// SumReader streams r through SHA-256 with the given buffer size, without
// holding the whole input in memory. bufSize <= 0 selects a 1 MiB buffer.
func SumReader(r io.Reader, bufSize int) ([]byte, error) {
	if bufSize <= 0 {
		bufSize = 1 << 20
	}
	h := sha256.New()
	buf := make([]byte, bufSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// TeeVerifier wraps an io.Reader and accumulates a SHA-256 hash of every
// byte read through it, mirroring the io.TeeReader(reader, hasher) pattern.
type TeeVerifier struct {
	io.Reader
	sum func([]byte) []byte
}

// NewTeeVerifier returns a reader that hashes as it is read from r.
func NewTeeVerifier(r io.Reader) *TeeVerifier {
	h := sha256.New()
	return &TeeVerifier{Reader: io.TeeReader(r, h), sum: h.Sum}
}

// Sum returns the running SHA-256 digest of everything read so far.
func (t *TeeVerifier) Sum() []byte { return t.sum(nil) }
