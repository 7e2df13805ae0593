package anvil

import (
	"archive/zip"
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/afero/zipfs"
	"github.com/yehan2002/errors"
)

const (
	// ErrNoRegionDir returned if the archive does not contain a region directory.
	ErrNoRegionDir = errors.Error("anvil: no region directory in archive")
	// ErrMultipleRegionDirs returned if the archive contains more than one region directory.
	ErrMultipleRegionDirs = errors.Error("anvil: multiple region directories in archive")
)

// Zip a read-only directory of region files stored in a zip archive.
// The archive must contain exactly one directory named `region`.
// All write operations on files opened through this return [ErrReadOnly].
type Zip struct {
	fs     afero.Fs
	prefix string
	close  io.Closer
}

// OpenZip opens the zip archive at the given path.
func OpenZip(name string) (z *Zip, err error) {
	f, err := filesystem.Open(name)
	if err != nil {
		return nil, errors.Wrap("anvil: unable to open archive", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap("anvil: unable to stat archive", err)
	}

	if z, err = NewZip(f, info.Size()); err != nil {
		f.Close()
		return nil, err
	}

	z.close = f
	return z, nil
}

// NewZip opens a zip archive from the given reader.
func NewZip(r io.ReaderAt, size int64) (*Zip, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap("anvil: unable to read archive", err)
	}

	prefix, err := findRegionDir(zr)
	if err != nil {
		return nil, err
	}

	return &Zip{fs: zipfs.New(zr), prefix: prefix}, nil
}

// findRegionDir finds the path of the region directory inside the archive.
// The prefix may be nested, e.g. `region`, `world/region` or `saves/world/region`.
func findRegionDir(zr *zip.Reader) (prefix string, err error) {
	var found int
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			continue
		}
		name := strings.TrimSuffix(f.Name, "/")
		if path.Base(name) == "region" {
			found++
			prefix = name
		}
	}

	if found == 0 {
		return "", ErrNoRegionDir
	}
	if found > 1 {
		return "", ErrMultipleRegionDirs
	}
	return prefix, nil
}

// File opens the region file at the given position.
func (z *Zip) File(rg Region) (f *File, err error) {
	zf, err := z.fs.Open(path.Join(z.prefix, rg.Name()))
	if err != nil {
		return nil, errors.Wrap("anvil: unable to open region in archive", err)
	}

	info, err := zf.Stat()
	if err != nil {
		zf.Close()
		return nil, errors.Wrap("anvil: unable to stat region in archive", err)
	}

	settings := defaultSettings
	settings.ReadOnly = true

	return open(rg, zf, settings, info.Size())
}

// Read reads the entry at the given chunk coords to `read`.
func (z *Zip) Read(entryX, entryZ int32, read io.ReaderFrom) (n int64, err error) {
	var f *File
	rg := Region{entryX >> 5, entryZ >> 5}
	if f, err = z.File(rg); err == nil {
		n, err = f.Read(uint8(entryX&0x1f), uint8(entryZ&0x1f), read)
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
	}
	return
}

// ReadTag reads the entry at the given chunk coords into the tag tree `v`.
func (z *Zip) ReadTag(entryX, entryZ int32, v interface{}) (err error) {
	var f *File
	rg := Region{entryX >> 5, entryZ >> 5}
	if f, err = z.File(rg); err == nil {
		err = f.ReadTag(uint8(entryX&0x1f), uint8(entryZ&0x1f), v)
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
	}
	return
}

// Regions lists the positions of the region files present in the archive.
func (z *Zip) Regions() (rgs []Region, err error) {
	infos, err := afero.ReadDir(z.fs, z.prefix)
	if err != nil {
		return nil, errors.Wrap("anvil: unable to read archive directory", err)
	}

	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if rg, ok := ParseRegionName(info.Name()); ok {
			rgs = append(rgs, rg)
		}
	}
	return rgs, nil
}

// Close closes the archive.
func (z *Zip) Close() error {
	if z.close != nil {
		return z.close.Close()
	}
	return nil
}
