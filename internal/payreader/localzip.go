package payreader

import "os"

// payloadEntryName is the file the scheduler looks for inside an OTA zip.
const payloadEntryName = "payload.bin"

// LocalZipReader serves payload.bin out of a local OTA zip by reading its
// central directory once and then, for the common Store-method case,
// reading straight off the file's descriptor at a translated offset —
// avoiding a second full decompression pass for an archive that is already
// uncompressed inside (spec §4.1, grounded on
// yuan22-payload_extract/zippayloadreader.go).
type LocalZipReader struct {
	file  *os.File
	entry *storedEntryReader
}

// OpenLocalZip opens path and locates payload.bin inside it.
func OpenLocalZip(path string) (*LocalZipReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	entry, err := newStoredEntryReader(f, info.Size(), payloadEntryName)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &LocalZipReader{file: f, entry: entry}, nil
}

func (r *LocalZipReader) Read(p []byte) (int, error) { return r.entry.Read(p) }

func (r *LocalZipReader) Seek(offset int64, whence int) (int64, error) {
	return r.entry.Seek(offset, whence)
}

func (r *LocalZipReader) Close() error {
	entryErr := r.entry.Close()
	fileErr := r.file.Close()
	if entryErr != nil {
		return entryErr
	}
	return fileErr
}
