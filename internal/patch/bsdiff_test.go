package patch

import (
	"bytes"
	"testing"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
)

func TestApplyRoundTrip(t *testing.T) {
	old := bytes.Repeat([]byte("old-partition-block"), 256)
	newData := append(append([]byte(nil), old...), []byte("-appended-tail")...)
	newData[10] = 'X'

	patchBytes, err := bsdiff.Bytes(old, newData)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Apply(old, patchBytes)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, newData) {
		t.Fatal("bsdiff round trip mismatch")
	}
}

func TestApplyInvalidPatch(t *testing.T) {
	if _, err := Apply([]byte("old"), []byte("not a real patch")); err == nil {
		t.Fatal("expected error for malformed patch")
	}
}
