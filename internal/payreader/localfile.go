package payreader

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// mmapThreshold is the file size above which OpenLocalFile memory-maps the
// payload instead of relying on ordinary buffered reads (spec §4.1).
const mmapThreshold = 10 * 1024 * 1024

// OpenLocalFile opens path for reading. Files larger than mmapThreshold are
// memory-mapped; smaller files are served directly off *os.File, which
// already satisfies ReadSeekCloser.
func OpenLocalFile(path string) (ReadSeekCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() > mmapThreshold {
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err == nil {
			return &mmapReader{data: m, file: f}, nil
		}
		// mmap unsupported on this filesystem/platform: fall back to the
		// plain file handle rather than failing the whole extraction.
	}
	return f, nil
}

// mmapReader serves Read/Seek directly off a memory-mapped byte slice. It
// guards against out-of-range seeks and never reads past the mapped length.
type mmapReader struct {
	data mmap.MMap
	file *os.File
	pos  int64
}

func (r *mmapReader) Read(p []byte) (int, error) {
	if r.pos >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += int64(n)
	return n, nil
}

func (r *mmapReader) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = r.pos + offset
	case io.SeekEnd:
		newPos = int64(len(r.data)) + offset
	default:
		return 0, errors.New("payreader: unsupported whence")
	}
	if newPos < 0 || newPos > int64(len(r.data)) {
		return 0, fmt.Errorf("payreader: seek to %d out of range [0,%d]", newPos, len(r.data))
	}
	r.pos = newPos
	return r.pos, nil
}

func (r *mmapReader) Close() error {
	unmapErr := r.data.Unmap()
	closeErr := r.file.Close()
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}
