package anvil

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/yehan2002/errors"
)

// Write updates the data for the entry at x,z to the given buffer.
// The buffer is compressed and written to the region file.
// The compression method used can be changed using [File.CompressionMethod].
// Calling this with an empty buffer is the equivalent of calling [File.Remove].
func (f *File) Write(x, z uint8, b []byte) (err error) {
	if x > 31 || z > 31 {
		return fmt.Errorf("anvil: invalid entry position (%d,%d)", x, z)
	}

	if len(b) == 0 {
		return f.Remove(x, z)
	}

	f.mux.Lock()
	defer f.mux.Unlock()

	if f.header == nil {
		return ErrClosed
	}
	if f.write == nil {
		return ErrReadOnly
	}

	if err = f.initCompression(); err != nil {
		return
	}

	var buf *Buffer
	if buf, err = f.compress(b); err != nil {
		return errors.Wrap("anvil: error compressing data", err)
	}
	defer buf.Free()

	size := sections(uint(buf.Len()))
	if size > maxEntrySections {
		return ErrTooLarge
	}

	entry := *f.header.Get(x, z)

	var offset uint
	if entry.Exists() && uint(entry.Size) == size {
		// the data needs exactly the entry's current sections, rewrite in place
		offset = uint(entry.Offset)
		log.Debugf("anvil: entry (%d,%d) rewritten in place at section %d", x, z, offset)
	} else {
		// release the old sections before searching so they can be reused
		if entry.Exists() {
			if err = f.header.Remove(x, z); err != nil {
				return err
			}
		}

		var found bool
		if offset, found = f.header.FindSpace(size); found {
			log.Debugf("anvil: entry (%d,%d) placed in free gap at section %d", x, z, offset)
		} else {
			if offset, err = f.growFile(size); err != nil {
				return errors.Wrap("anvil: unable to grow file", err)
			}
			log.Debugf("anvil: file %s grown to %d sections for entry (%d,%d)", f.region.Name(), offset+size, x, z)
		}
	}

	if err = buf.WriteAt(f.write, int64(offset)*SectionSize); err != nil {
		return errors.Wrap("anvil: unable to write entry data", err)
	}
	if err = f.write.Sync(); err != nil {
		return errors.Wrap("anvil: unable to sync entry data", err)
	}

	return f.updateHeader(x, z, Entry{
		Offset:    uint32(offset),
		Size:      uint8(size),
		Timestamp: int32(time.Now().Unix()),
	})
}

// Remove removes the entry at the given position from the file.
// The sections used by the entry are marked as free for reuse.
// Removing an entry that does not exist is a no-op.
func (f *File) Remove(x, z uint8) (err error) {
	if x > 31 || z > 31 {
		return fmt.Errorf("anvil: invalid entry position (%d,%d)", x, z)
	}

	f.mux.Lock()
	defer f.mux.Unlock()

	if f.header == nil {
		return ErrClosed
	}
	if f.write == nil {
		return ErrReadOnly
	}

	if !f.header.Get(x, z).Exists() {
		return nil
	}

	if err = f.header.Remove(x, z); err != nil {
		return err
	}

	return f.writeHeaderEntry(x, z, 0, 0)
}

// growFile grows the file to fit `size` more sections.
// Any free sections at the end of the file are reused.
func (f *File) growFile(size uint) (offset uint, err error) {
	fileSize := f.size

	// make space for the header if the file does not have one
	if fileSize < headerSize {
		fileSize = headerSize
	}

	offset = sections(uint(fileSize))
	for offset > 2 && !f.header.used.Test(offset-1) {
		offset--
	}

	f.size = int64(offset+size) * SectionSize // insure the file size is a multiple of 4096 bytes
	err = f.write.Truncate(f.size)
	return
}

// updateHeader updates the entry at x,z in the in-memory header
// and writes it to the location and timestamp tables on disk.
func (f *File) updateHeader(x, z uint8, entry Entry) (err error) {
	if err = f.header.Set(x, z, entry); err != nil {
		return err
	}
	return f.writeHeaderEntry(x, z, entry.Offset<<8|uint32(entry.Size), uint32(entry.Timestamp))
}

// writeHeaderEntry writes the packed location and timestamp for the entry at
// x,z and syncs the changes to disk.
func (f *File) writeHeaderEntry(x, z uint8, location, timestamp uint32) (err error) {
	headerOffset := int64(x)<<2 | int64(z)<<7

	if err = f.writeUint32At(location, headerOffset); err != nil {
		return errors.Wrap("anvil: unable to update location", err)
	}
	if err = f.writeUint32At(timestamp, headerOffset+SectionSize); err != nil {
		return errors.Wrap("anvil: unable to update timestamp", err)
	}
	return
}

// writeUint32At writes the given uint32 at the given position
// and syncs the changes to disk.
func (f *File) writeUint32At(v uint32, offset int64) (err error) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	if _, err = f.write.WriteAt(tmp[:], offset); err == nil {
		err = f.write.Sync()
	}

	return
}

// compress compresses the given byte slice and writes it to a Buffer.
func (f *File) compress(b []byte) (buf *Buffer, err error) {
	buf = &Buffer{}
	buf.CompressMethod(f.cm)

	f.c.Reset(buf)

	if _, err = f.c.Write(b); err == nil {
		if err = f.c.Close(); err == nil {
			return buf, nil
		}
	}

	buf.Free()
	return nil, err
}
