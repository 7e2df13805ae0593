package anvil

import (
	"encoding/binary"
	"fmt"
	"io"
	"runtime"

	"github.com/yehan2002/errors"
)

// Read reads the entry at the given position to `r`.
// `r` must not retain the reader passed to it.
func (f *File) Read(x, z uint8, r io.ReaderFrom) (n int64, err error) {
	var src io.ReadCloser
	if src, err = f.ReaderFor(x, z); err == nil {
		n, err = r.ReadFrom(src)
		closeErr := src.Close()
		if err == nil {
			err = closeErr
		}
	}
	return n, err
}

// ReaderFor returns a reader that reads the entry at the given position.
// The returned reader must be closed or any calls to Write may block forever.
// [File.Read] should be used in most cases.
func (f *File) ReaderFor(x, z uint8) (reader io.ReadCloser, err error) {
	if x > 31 || z > 31 {
		return nil, fmt.Errorf("anvil: invalid entry position (%d,%d)", x, z)
	}

	f.mux.RLock()

	if f.header == nil {
		f.mux.RUnlock()
		return nil, ErrClosed
	}

	entry := f.header.Get(x, z)

	if !entry.Exists() {
		f.mux.RUnlock()
		return nil, ErrNotExist
	}

	var length int64
	var method CompressMethod

	if length, method, err = f.readEntryHeader(entry); err == nil {
		src := io.NopCloser(io.NewSectionReader(f.read, entry.OffsetBytes()+entryHeaderSize, length))
		if reader, err = method.decompressor(src); err == nil {
			mr := &muxReader{ReadCloser: reader, mux: &f.mux}
			runtime.SetFinalizer(mr, func(m *muxReader) { m.Close() })
			return mr, nil
		}
	}

	f.mux.RUnlock()
	return nil, err
}

// readEntryHeader reads the frame header for the given entry.
func (f *File) readEntryHeader(entry *Entry) (length int64, method CompressMethod, err error) {
	header := [entryHeaderSize]byte{}
	if _, err = f.read.ReadAt(header[:], entry.OffsetBytes()); err != nil {
		return 0, 0, errors.Wrap("anvil: unable to read entry header", err)
	}

	// the first 4 bytes of the header hold the length of the data as a
	// big endian uint32, including the compression byte that follows it
	frameLength := binary.BigEndian.Uint32(header[:4])
	method = CompressMethod(header[4])

	if frameLength == 0 || uint64(frameLength)+4 > uint64(entry.Size)*SectionSize {
		return 0, 0, errors.CauseStr(ErrCorrupted, "entry size mismatch")
	}

	// reduce the length by 1 since we already read the compression byte
	return int64(frameLength) - 1, method, nil
}
