package payreader

import "fmt"

// RemoteZipReader composes the HTTP backend with the same ZIP
// central-directory logic as LocalZipReader: archive/zip itself fetches the
// end-of-central-directory record and the directory entries through
// HTTPReader's io.ReaderAt, each satisfied out of the block cache.
type RemoteZipReader struct {
	http  *HTTPReader
	entry *storedEntryReader
}

// NewRemoteZipReader opens rawURL and locates payload.bin inside the
// remote ZIP.
func NewRemoteZipReader(rawURL, userAgent string) (*RemoteZipReader, error) {
	h, err := NewHTTPReader(rawURL, userAgent)
	if err != nil {
		return nil, err
	}
	entry, err := newStoredEntryReader(h, h.Size(), payloadEntryName)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("payreader: remote zip %s: %w", rawURL, err)
	}
	return &RemoteZipReader{http: h, entry: entry}, nil
}

func (r *RemoteZipReader) Read(p []byte) (int, error) { return r.entry.Read(p) }

func (r *RemoteZipReader) Seek(offset int64, whence int) (int64, error) {
	return r.entry.Seek(offset, whence)
}

func (r *RemoteZipReader) Close() error {
	entryErr := r.entry.Close()
	httpErr := r.http.Close()
	if entryErr != nil {
		return entryErr
	}
	return httpErr
}
