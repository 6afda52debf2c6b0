package payreader

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

func rangeServer(t *testing.T, content []byte, failFirstN *int32) *httptest.Server {
	t.Helper()
	handler := rangeServerHandler(content)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if failFirstN != nil && atomic.AddInt32(failFirstN, -1) >= 0 {
			http.Error(w, "injected failure", http.StatusServiceUnavailable)
			return
		}
		handler(w, req)
	}))
}

func TestHTTPReaderReadSequential(t *testing.T) {
	content := bytes.Repeat([]byte("remote-payload-"), 100000) // > one cache block
	srv := rangeServer(t, content, nil)
	defer srv.Close()

	r, err := NewHTTPReader(srv.URL, "test-agent")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.Size() != int64(len(content)) {
		t.Fatalf("size = %d, want %d", r.Size(), len(content))
	}

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("got %d bytes, want %d", len(got), len(content))
	}
}

func TestHTTPReaderCacheAvoidsRefetch(t *testing.T) {
	content := []byte("small cached content")
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Range") != "" {
			atomic.AddInt32(&hits, 1)
		}
		rangeServerHandler(content)(w, req)
	}))
	defer srv.Close()

	r, err := NewHTTPReader(srv.URL, "test-agent")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	buf := make([]byte, 5)
	if _, err := r.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected exactly one ranged GET, got %d", hits)
	}
}

func rangeServerHandler(content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		rng := req.Header.Get("Range")
		if rng == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			if req.Method == http.MethodHead {
				return
			}
			w.Write(content)
			return
		}
		var start, end int
		fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
		if end >= len(content) {
			end = len(content) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}
}

func TestHTTPReaderRetriesTransientFailures(t *testing.T) {
	content := []byte("retry me please")
	var failures int32
	srv := rangeServer(t, content, &failures)
	defer srv.Close()

	r, err := NewHTTPReader(srv.URL, "test-agent")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	// Fail the next two requests (the read's first two ranged GETs) so the
	// read succeeds on its third attempt.
	atomic.StoreInt32(&failures, 2)

	buf := make([]byte, len(content))
	if _, err := r.ReadAt(buf, 0); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if !bytes.Equal(buf, content) {
		t.Fatalf("got %q, want %q", buf, content)
	}
}

func TestDetectRemoteKindBySuffix(t *testing.T) {
	kind, err := DetectRemoteKind("http://example.invalid/ota.zip", "test-agent")
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindRemoteZip {
		t.Fatalf("got %v, want KindRemoteZip", kind)
	}
}

func TestDetectRemoteKindByContentType(t *testing.T) {
	content := []byte("raw payload bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if req.Method != http.MethodHead {
			w.Write(content)
		}
	}))
	defer srv.Close()

	kind, err := DetectRemoteKind(srv.URL, "test-agent")
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindRemoteRaw {
		t.Fatalf("got %v, want KindRemoteRaw", kind)
	}
	if !strings.Contains(srv.URL, "http://") {
		t.Fatal("sanity check on test server URL")
	}
}
