package anvil

import (
	"encoding/binary"
	"io"
	"sync"
)

var sectionPool = sync.Pool{New: func() interface{} { return &section{} }}

type section [SectionSize]byte

func (b *section) Free() { sectionPool.Put(b) }

// Buffer a reusable buffer for assembling entry frames.
// The first 5 bytes hold the frame header: the length of the data plus
// the compression byte as a big endian uint32, followed by the
// compression method.
type Buffer struct {
	length   int64
	compress CompressMethod
	buf      []*section
}

// Write appends data to this buffer.
// This never returns an error.
func (b *Buffer) Write(p []byte) (n int, err error) {
	if b.buf == nil {
		b.grow()
		// reserve space for the frame header, clearing any bytes left
		// in the pooled section
		var zero [entryHeaderSize]byte
		copy(b.buf[0][:], zero[:])
		b.length = entryHeaderSize
	}

	idx := b.length >> sectionShift
	offset := b.length & sectionSizeMask

	for n < len(p) {
		if idx >= int64(len(b.buf)) {
			b.grow()
		}

		n += copy(b.buf[idx][offset:], p[n:])

		idx++
		offset = 0
	}

	b.length += int64(n)
	return n, nil
}

// CompressMethod sets the compression method used by the data in the buffer.
// This is only used to set the compression byte in the frame header.
// Callers must compress the data before writing it to this buffer.
// If this is not called, DefaultCompression is used.
func (b *Buffer) CompressMethod(c CompressMethod) { b.compress = c }

// WriteAt writes this buffer to the given writer at the given position,
// including the 5 byte frame header.
func (b *Buffer) WriteAt(w io.WriterAt, off int64) error {
	binary.BigEndian.PutUint32(b.buf[0][:4], uint32(b.length-4))
	if b.compress == 0 {
		b.compress = DefaultCompression
	}
	b.buf[0][4] = byte(b.compress)

	for i := 0; i < len(b.buf); i++ {
		end := b.length - int64(i)<<sectionShift
		if end > SectionSize {
			end = SectionSize
		}

		buf := b.buf[i][:end]
		if _, err := w.WriteAt(buf, off); err != nil {
			return err
		}

		off += int64(len(buf))
	}

	return nil
}

// Free frees the buffer for reuse.
func (b *Buffer) Free() {
	for _, s := range b.buf {
		s.Free()
	}
	*b = Buffer{}
}

// Len returns the length of the buffer including the frame header.
// If nothing was written to the buffer this returns 0.
func (b *Buffer) Len() int {
	if b.length == entryHeaderSize {
		return 0
	}
	return int(b.length)
}

func (b *Buffer) grow() { b.buf = append(b.buf, sectionPool.Get().(*section)) }
