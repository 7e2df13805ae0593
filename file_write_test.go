package anvil

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/yehan2002/is/v2"
)

func init() { filesystem = afero.NewMemMapFs() }

var compressionMethods = []CompressMethod{CompressionGzip, CompressionZlib}

func TestWriteNew(t *testing.T) {
	entries := [Entries][]byte{}
	for i := range entries {
		entries[i] = bytes.Repeat([]byte{byte(i + 1)}, (i+1)*128)
	}
	for _, method := range compressionMethods {
		testRoundtrip(is.New(t), method, "write-test-new", entries[:])
	}
}

func TestWriteNewLarge(t *testing.T) {
	entries := [16][]byte{}
	for i := range entries {
		buf := make([]byte, SectionSize*16)
		rand.Read(buf)
		entries[i] = buf
	}
	for _, method := range compressionMethods {
		testRoundtrip(is.New(t), method, "write-test-new-large", entries[:])
	}
}

func testRoundtrip(is is.Is, cm CompressMethod, name string, entries [][]byte) {
	name = fmt.Sprintf("%s-%s.mca", name, cm.String())
	f, err := OpenFile(name, false)
	is(err == nil, "unexpected error occurred while creating region file: %s", err)

	f.CompressionMethod(cm)

	var bb bytes.Buffer

	for i, buf := range entries {
		err = f.Write(uint8(i&0x1f), uint8(i>>5), buf)
		is(err == nil, "failed to write data: %s", err)

		size := fileSize(is, name)
		is(size&sectionSizeMask == 0, "file size is not a multiple of the section size: %d", size)
		is(size >= headerSize, "file is smaller than the header: %d", size)

		_, err = f.Read(uint8(i&0x1f), uint8(i>>5), &bb)
		is(err == nil, "failed to read data: %s", err)
		is(bytes.Equal(buf, bb.Bytes()), "incorrect value read")
		bb.Reset()
	}
	f.Close()

	f, err = OpenFile(name, false)
	is(err == nil, "unexpected error occurred while opening region file: %s", err)
	for i, buf := range entries {
		_, err = f.Read(uint8(i&0x1f), uint8(i>>5), &bb)
		is(err == nil, "failed to read data: %s", err)
		is(bytes.Equal(buf, bb.Bytes()), "incorrect value read")
		bb.Reset()
	}
	f.Close()
}

func TestReadAbsent(t *testing.T) {
	is := is.New(t)

	f, err := OpenFile("read-absent.mca", false)
	is(err == nil, "unexpected error occurred while creating region file: %s", err)
	defer f.Close()

	var bb bytes.Buffer
	_, err = f.Read(0, 0, &bb)
	is(err == ErrNotExist, "expected ErrNotExist, got %v", err)

	is(fileSize(is, "read-absent.mca") == headerSize, "fresh region file should contain only the header")
}

func TestOverwriteSameSize(t *testing.T) {
	is := is.New(t)

	f, err := OpenFile("overwrite-same.mca", false)
	is(err == nil, "unexpected error occurred while creating region file: %s", err)
	defer f.Close()

	is(f.Write(0, 0, []byte("first")) == nil, "failed to write data")
	entry, exists := f.Info(0, 0)
	is(exists, "entry should exist after write")
	is(entry.Offset == 2 && entry.Size == 1, "unexpected entry placement (%d,%d)", entry.Offset, entry.Size)
	is(fileSize(is, "overwrite-same.mca") == headerSize+SectionSize, "unexpected file size")

	is(f.Write(0, 0, []byte("second")) == nil, "failed to write data")
	entry, _ = f.Info(0, 0)
	is(entry.Offset == 2 && entry.Size == 1, "entry should be rewritten in place (%d,%d)", entry.Offset, entry.Size)
	is(fileSize(is, "overwrite-same.mca") == headerSize+SectionSize, "overwriting with the same size should not grow the file")

	var bb bytes.Buffer
	_, err = f.Read(0, 0, &bb)
	is(err == nil, "failed to read data: %s", err)
	is(bytes.Equal(bb.Bytes(), []byte("second")), "read returned stale data")
}

func TestOverwriteLarger(t *testing.T) {
	is := is.New(t)

	f, err := OpenFile("overwrite-larger.mca", false)
	is(err == nil, "unexpected error occurred while creating region file: %s", err)
	defer f.Close()

	is(f.Write(1, 1, []byte("small")) == nil, "failed to write data")
	entry, _ := f.Info(1, 1)
	is(entry.Offset == 2 && entry.Size == 1, "unexpected entry placement (%d,%d)", entry.Offset, entry.Size)

	// incompressible data spanning 3 sections
	big := make([]byte, SectionSize*2+512)
	rand.Read(big)
	is(f.Write(1, 1, big) == nil, "failed to write data")

	entry, _ = f.Info(1, 1)
	is(entry.Size == 3, "expected the entry to use 3 sections, got %d", entry.Size)
	is(entry.Offset == 2, "expected the freed section to be reused, got offset %d", entry.Offset)

	var bb bytes.Buffer
	_, err = f.Read(1, 1, &bb)
	is(err == nil, "failed to read data: %s", err)
	is(bytes.Equal(bb.Bytes(), big), "read returned stale data")
}

func TestRemoveReuse(t *testing.T) {
	is := is.New(t)

	f, err := OpenFile("remove-reuse.mca", false)
	is(err == nil, "unexpected error occurred while creating region file: %s", err)
	defer f.Close()

	is(f.Write(5, 5, []byte("first")) == nil, "failed to write data")
	is(f.Write(6, 5, []byte("second")) == nil, "failed to write data")

	entry, _ := f.Info(5, 5)
	is(entry.Offset == 2, "unexpected entry placement %d", entry.Offset)
	entry, _ = f.Info(6, 5)
	is(entry.Offset == 3, "unexpected entry placement %d", entry.Offset)

	is(f.Remove(5, 5) == nil, "failed to remove entry")
	_, exists := f.Info(5, 5)
	is(!exists, "removed entry should not exist")

	var bb bytes.Buffer
	_, err = f.Read(5, 5, &bb)
	is(err == ErrNotExist, "expected ErrNotExist, got %v", err)

	// removing an absent entry is a no-op
	size := fileSize(is, "remove-reuse.mca")
	is(f.Remove(5, 5) == nil, "removing an absent entry should not fail")
	is(fileSize(is, "remove-reuse.mca") == size, "removing an absent entry should not change the file")

	// the freed section is reused for the next write
	is(f.Write(7, 5, []byte("third")) == nil, "failed to write data")
	entry, _ = f.Info(7, 5)
	is(entry.Offset == 2, "expected the freed section to be reused, got offset %d", entry.Offset)
	is(fileSize(is, "remove-reuse.mca") == size, "the write should not have grown the file")

	// other entries are unaffected
	_, err = f.Read(6, 5, &bb)
	is(err == nil, "failed to read data: %s", err)
	is(bytes.Equal(bb.Bytes(), []byte("second")), "unrelated entry was modified")
}

func TestRemovePersists(t *testing.T) {
	is := is.New(t)

	f, err := OpenFile("remove-persist.mca", false)
	is(err == nil, "unexpected error occurred while creating region file: %s", err)

	is(f.Write(3, 4, []byte("data")) == nil, "failed to write data")
	is(f.Remove(3, 4) == nil, "failed to remove entry")
	is(f.Close() == nil, "failed to close file")

	f, err = OpenFile("remove-persist.mca", false)
	is(err == nil, "unexpected error occurred while opening region file: %s", err)
	defer f.Close()

	entry, exists := f.Info(3, 4)
	is(!exists, "removed entry should not exist after reopening")
	is(entry.Timestamp == 0, "removed entry should have no timestamp")
}

func TestWriteEmptyRemoves(t *testing.T) {
	is := is.New(t)

	f, err := OpenFile("write-empty.mca", false)
	is(err == nil, "unexpected error occurred while creating region file: %s", err)
	defer f.Close()

	is(f.Write(0, 1, []byte("data")) == nil, "failed to write data")
	is(f.Write(0, 1, nil) == nil, "failed to write empty data")

	_, exists := f.Info(0, 1)
	is(!exists, "writing an empty buffer should remove the entry")
}

func TestWriteTooLarge(t *testing.T) {
	is := is.New(t)

	f, err := OpenFile("write-too-large.mca", false)
	is(err == nil, "unexpected error occurred while creating region file: %s", err)
	defer f.Close()

	// incompressible data that cannot fit in 255 sections
	big := make([]byte, SectionSize*256)
	rand.Read(big)
	is(f.Write(0, 0, big) == ErrTooLarge, "expected ErrTooLarge")

	_, exists := f.Info(0, 0)
	is(!exists, "failed write should not create an entry")
}

func TestReadOnly(t *testing.T) {
	is := is.New(t)

	f, err := OpenFile("read-only.mca", false)
	is(err == nil, "unexpected error occurred while creating region file: %s", err)
	is(f.Write(0, 0, []byte("data")) == nil, "failed to write data")
	is(f.Close() == nil, "failed to close file")

	f, err = OpenFile("read-only.mca", true)
	is(err == nil, "unexpected error occurred while opening region file: %s", err)
	defer f.Close()

	is(f.Write(0, 0, []byte("update")) == ErrReadOnly, "expected ErrReadOnly for Write")
	is(f.Remove(0, 0) == ErrReadOnly, "expected ErrReadOnly for Remove")

	var bb bytes.Buffer
	_, err = f.Read(0, 0, &bb)
	is(err == nil, "reading from a read-only file should succeed: %s", err)
	is(bytes.Equal(bb.Bytes(), []byte("data")), "incorrect value read")
}

func TestOpenCorrupted(t *testing.T) {
	is := is.New(t)

	// a file with a non multiple of 4096 size
	err := afero.WriteFile(filesystem, "corrupt-size.mca", make([]byte, 100), 0666)
	is(err == nil, "unexpected error while writing test file: %s", err)
	_, err = OpenFile("corrupt-size.mca", false)
	is(err == ErrSize, "expected ErrSize, got %v", err)

	// a header with two entries sharing a section
	buf := make([]byte, headerSize+SectionSize)
	buf[0], buf[1], buf[2], buf[3] = 0, 0, 2, 1
	buf[4], buf[5], buf[6], buf[7] = 0, 0, 2, 1
	err = afero.WriteFile(filesystem, "corrupt-overlap.mca", buf, 0666)
	is(err == nil, "unexpected error while writing test file: %s", err)
	_, err = OpenFile("corrupt-overlap.mca", false)
	is(err != nil, "expected an error for an overlapping header")

	// an entry pointing into the header sections
	buf = make([]byte, headerSize+SectionSize)
	buf[0], buf[1], buf[2], buf[3] = 0, 0, 1, 1
	err = afero.WriteFile(filesystem, "corrupt-header-overlap.mca", buf, 0666)
	is(err == nil, "unexpected error while writing test file: %s", err)
	_, err = OpenFile("corrupt-header-overlap.mca", false)
	is(err != nil, "expected an error for an entry inside the header")

	// an entry outside the file
	buf = make([]byte, headerSize+SectionSize)
	buf[0], buf[1], buf[2], buf[3] = 0, 0, 200, 10
	err = afero.WriteFile(filesystem, "corrupt-outside.mca", buf, 0666)
	is(err == nil, "unexpected error while writing test file: %s", err)
	_, err = OpenFile("corrupt-outside.mca", false)
	is(err != nil, "expected an error for an entry outside the file")
}

func TestCorruptFrame(t *testing.T) {
	is := is.New(t)

	f, err := OpenFile("corrupt-frame.mca", false)
	is(err == nil, "unexpected error occurred while creating region file: %s", err)
	is(f.Write(0, 0, []byte("data")) == nil, "failed to write data")

	// corrupt the frame length
	var zero [4]byte
	_, err = f.write.WriteAt(zero[:], headerSize)
	is(err == nil, "unexpected error while corrupting file: %s", err)

	var bb bytes.Buffer
	_, err = f.Read(0, 0, &bb)
	is(err != nil, "expected an error for a zero frame length")

	// an unsupported compression method
	frame := []byte{0, 0, 0, 2, 42, 0}
	_, err = f.write.WriteAt(frame, headerSize)
	is(err == nil, "unexpected error while corrupting file: %s", err)

	_, err = f.Read(0, 0, &bb)
	is(err == ErrUnsupportedCompression, "expected ErrUnsupportedCompression, got %v", err)

	f.Close()
}

func fileSize(is is.Is, name string) int64 {
	var info os.FileInfo
	info, err := filesystem.Stat(name)
	is(err == nil, "unexpected error while getting the file size: %s", err)
	return info.Size()
}
