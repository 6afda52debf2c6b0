package hashutil

import (
	"bytes"
	"strings"
	"testing"
)

func TestMatchesEmptyExpectedAlwaysTrue(t *testing.T) {
	if !Matches([]byte("anything"), nil) {
		t.Fatal("empty expected hash must always match")
	}
}

func TestMatches(t *testing.T) {
	data := []byte("hello world")
	good := Sum(data)
	if !Matches(data, good) {
		t.Fatal("expected matching hash to match")
	}
	bad := append([]byte(nil), good...)
	bad[0] ^= 0xff
	if Matches(data, bad) {
		t.Fatal("expected mismatched hash to not match")
	}
}

func TestSumReader(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	want := Sum(data)
	got, err := SumReader(bytes.NewReader(data), 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("SumReader mismatch: got %x want %x", got, want)
	}
}

func TestTeeVerifier(t *testing.T) {
	data := "partition payload bytes"
	tv := NewTeeVerifier(strings.NewReader(data))
	buf := make([]byte, len(data))
	if _, err := tv.Read(buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(tv.Sum(), Sum([]byte(data))) {
		t.Fatal("TeeVerifier hash mismatch")
	}
}
