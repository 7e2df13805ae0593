package anvil

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/yehan2002/errors"
	"github.com/yehan2002/fastbytes/v2"
)

// File is a single anvil region file.
type File struct {
	mux    sync.RWMutex
	region Region
	header *Header
	size   int64

	write writer
	read  reader

	cache    *Anvil
	useCount atomic.Int32

	close sync.Once

	c  compressor
	cm CompressMethod
}

// OpenFile opens the given region file.
// If readonly is set any attempt to modify the file will return [ErrReadOnly].
func OpenFile(path string, readonly bool) (f *File, err error) {
	settings := defaultSettings
	settings.fs = filesystem
	settings.ReadOnly = readonly

	var r reader
	var size int64
	if r, size, err = openFile(path, settings); err == nil {
		f, err = open(Region{0, 0}, r, settings, size)
	}
	return
}

func open(rg Region, r reader, settings Settings, fileSize int64) (f *File, err error) {
	// the file size must be 0 or a multiple of 4096 with space for the header
	if fileSize&sectionSizeMask != 0 || (fileSize != 0 && fileSize < headerSize) {
		r.Close()
		return nil, ErrSize
	}

	f = &File{region: rg, read: r, size: fileSize}
	if write, ok := r.(writer); !settings.ReadOnly && ok {
		f.write = write
	}

	if fileSize == 0 {
		f.header = newHeader(Entries)

		// pad freshly created files to the full header size
		if f.write != nil {
			if err = f.write.Truncate(headerSize); err != nil {
				r.Close()
				return nil, errors.Wrap("anvil: unable to create file header", err)
			}
			f.size = headerSize
		}
		return f, nil
	}

	fileSections := uint(fileSize) >> sectionShift
	f.header = newHeader(fileSections)

	var locations, timestamps [Entries]uint32
	if err = f.readHeader(locations[:], timestamps[:]); err == nil {
		err = f.header.load(&locations, &timestamps, uint32(fileSections))
	}

	if err != nil {
		f.header.Free()
		r.Close()
		return nil, err
	}

	return f, nil
}

// readHeader reads the region file header.
func (f *File) readHeader(locations, timestamps []uint32) (err error) {
	if err = f.readUint32Section(locations, 0); err == nil {
		err = f.readUint32Section(timestamps, SectionSize)
	}
	return err
}

// readUint32Section reads a 4096 byte section at the given offset into the given uint32 slice.
func (f *File) readUint32Section(dst []uint32, offset int) error {
	tmp := sectionPool.Get().(*section)
	defer tmp.Free()

	if n, err := f.read.ReadAt(tmp[:], int64(offset)); err != nil {
		return errors.Wrap("anvil: unable to read file header", err)
	} else if n != SectionSize {
		return errors.Wrap("anvil: incorrect number of bytes read", io.EOF)
	}

	fastbytes.BigEndian.ToU32(tmp[:], dst)
	return nil
}

// Info gets information stored in the region file header for the given entry.
func (f *File) Info(x, z uint8) (entry Entry, exists bool) {
	f.mux.RLock()
	defer f.mux.RUnlock()

	if f.header == nil {
		return Entry{}, false
	}

	e := f.header.Get(x, z)
	return *e, e.Exists()
}

// CompressionMethod sets the compression method to be used by the writer.
func (f *File) CompressionMethod(m CompressMethod) (err error) {
	var c compressor
	if c, err = m.compressor(); err == nil {
		f.mux.Lock()
		f.cm, f.c = m, c
		f.mux.Unlock()
	}
	return
}

func (f *File) initCompression() (err error) {
	if f.cm == 0 {
		var c compressor
		if c, err = DefaultCompression.compressor(); err == nil {
			f.cm, f.c = DefaultCompression, c
		}
	}
	return
}

// Close closes the file.
// This blocks until all readers returned by [File.ReaderFor] are closed.
func (f *File) Close() (err error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.close.Do(func() {
		if f.write != nil {
			if err = f.write.Sync(); err != nil {
				return
			}
		}
		f.header.Free()
		f.header = nil
		err = f.read.Close()
	})

	return
}
