// Package anvil reads and writes chunk data stored in the anvil region format.
//
// A region file stores up to 32x32 entries. The file starts with two 4096
// byte header sections: a table of packed entry locations and a table of
// modification timestamps. The remainder of the file is divided into 4096
// byte sections and each entry occupies a contiguous run of them.
package anvil

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/simplelru"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/yehan2002/errors"
)

const (
	// ErrNotExist returned if the entry does not exist.
	ErrNotExist = errors.Error("anvil: entry does not exist")
	// ErrSize returned if the size of the region file is not a multiple of [SectionSize].
	ErrSize = errors.Error("anvil: invalid file size")
	// ErrCorrupted the given file contains invalid/corrupted data.
	ErrCorrupted = errors.Error("anvil: corrupted file")
	// ErrClosed the given file has already been closed.
	ErrClosed = errors.Error("anvil: file closed")
	// ErrReadOnly the file was opened in read-only mode.
	ErrReadOnly = errors.Error("anvil: file is opened in read-only mode")
	// ErrTooLarge returned if the compressed entry does not fit in the
	// 255 sections a header entry can address.
	ErrTooLarge = errors.Error("anvil: entry data too large")
	// ErrUnsupportedCompression the compression method is not gzip or zlib.
	ErrUnsupportedCompression = errors.Error("anvil: unsupported compression method")
)

const (
	sectionShift     = 12
	sectionSizeMask  = SectionSize - 1
	entryHeaderSize  = 5
	maxEntrySections = 255

	// Entries the number of entries in a region file.
	Entries = 32 * 32
	// SectionSize the size of a section.
	SectionSize = 1 << sectionShift

	headerSize = SectionSize * 2
)

// sections returns the minimum number of sections to store the given number of bytes.
func sections(v uint) uint { return (v + sectionSizeMask) / SectionSize }

var filesystem afero.Fs = &afero.OsFs{}

var log = logrus.StandardLogger()

// Settings settings for opening a region directory.
type Settings struct {
	// ReadOnly if the files should be opened in read-only mode.
	// If this is set, all write operations on an existing region file will
	// return [ErrReadOnly]. Missing region files are not created in this
	// mode; operations on them return the error from opening the file.
	// Default: false
	ReadOnly bool
	// Sync if the files should be opened for synchronous I/O.
	// Default: false
	Sync bool

	// CacheSize the number of open region files kept by [Anvil].
	// If this value is -1 the cache is disabled.
	// Default: 20
	CacheSize int

	fs afero.Fs
}

var defaultSettings = Settings{CacheSize: 20, fs: filesystem}

// Anvil a directory of region files.
// At most one live handle exists per region file at any time.
type Anvil struct {
	inUse map[Region]*File

	lru *lru.LRU

	settings Settings

	mux sync.RWMutex
}

// Read reads the entry at the given chunk coords to `read`.
// `read` must not retain the reader passed to it.
func (a *Anvil) Read(entryX, entryZ int32, read io.ReaderFrom) (n int64, err error) {
	var f *File
	if f, err = a.get(entryX>>5, entryZ>>5); err == nil {
		defer a.free(f)
		n, err = f.Read(uint8(entryX&0x1f), uint8(entryZ&0x1f), read)
	}
	return
}

// Write writes the entry data for the given chunk coords.
func (a *Anvil) Write(entryX, entryZ int32, p []byte) (err error) {
	var f *File
	if f, err = a.get(entryX>>5, entryZ>>5); err == nil {
		defer a.free(f)
		err = f.Write(uint8(entryX&0x1f), uint8(entryZ&0x1f), p)
	}
	return
}

// Remove removes the entry at the given chunk coords.
// Removing an entry that does not exist is a no-op.
func (a *Anvil) Remove(entryX, entryZ int32) (err error) {
	var f *File
	if f, err = a.get(entryX>>5, entryZ>>5); err == nil {
		defer a.free(f)
		err = f.Remove(uint8(entryX&0x1f), uint8(entryZ&0x1f))
	}
	return
}

// ReadTag reads the entry at the given chunk coords into the tag tree `v`.
func (a *Anvil) ReadTag(entryX, entryZ int32, v interface{}) (err error) {
	var f *File
	if f, err = a.get(entryX>>5, entryZ>>5); err == nil {
		defer a.free(f)
		err = f.ReadTag(uint8(entryX&0x1f), uint8(entryZ&0x1f), v)
	}
	return
}

// WriteTag encodes the tag tree `v` and writes it to the entry at the given chunk coords.
func (a *Anvil) WriteTag(entryX, entryZ int32, v interface{}) (err error) {
	var f *File
	if f, err = a.get(entryX>>5, entryZ>>5); err == nil {
		defer a.free(f)
		err = f.WriteTag(uint8(entryX&0x1f), uint8(entryZ&0x1f), v)
	}
	return
}

// Info gets information stored in the region file header for the given entry.
func (a *Anvil) Info(entryX, entryZ int32) (entry Entry, exists bool, err error) {
	var f *File
	if f, err = a.get(entryX>>5, entryZ>>5); err == nil {
		defer a.free(f)
		entry, exists = f.Info(uint8(entryX&0x1f), uint8(entryZ&0x1f))
	}
	return
}

// File opens the region file at rgX, rgZ.
// Callers must close the returned file for it to be released back to the cache.
func (a *Anvil) File(rgX, rgZ int32) (f *CachedFile, err error) {
	c, err := a.get(rgX, rgZ)
	if err != nil {
		return nil, err
	}
	return &CachedFile{File: c}, nil
}

// Regions lists the positions of the region files present in the directory.
func (a *Anvil) Regions() (rgs []Region, err error) {
	infos, err := afero.ReadDir(a.settings.fs, ".")
	if err != nil {
		return nil, errors.Wrap("anvil: unable to read directory", err)
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

// get gets the region file for the given coords.
func (a *Anvil) get(rgX, rgZ int32) (f *File, err error) {
	rg := Region{rgX, rgZ}
	a.mux.RLock()
	f, ok := a.getFile(rg)
	a.mux.RUnlock()

	if !ok {
		a.mux.Lock()
		defer a.mux.Unlock()
		// check if the file was opened while we were waiting for the mux
		if f, ok = a.getFile(rg); !ok {

			if a.lru != nil {
				// check if the file is in the lru cache
				if v, ok := a.lru.Get(rg); ok {
					a.lru.Remove(rg)
					f = v.(*File)
				}
			}

			// file wasn't in the cache. read the file from the disk
			if f == nil {
				var r reader
				var size int64
				if r, size, err = openFile(rg.Name(), a.settings); err == nil {
					if f, err = open(rg, r, a.settings, size); err == nil {
						f.cache = a
					}
				}
			}

			if err == nil {
				f.useCount.Add(1)
				a.inUse[rg] = f
			}
		}
	}

	return
}

func (a *Anvil) free(f *File) (err error) {
	a.mux.RLock()
	newCount := f.useCount.Add(-1)
	a.mux.RUnlock()

	if newCount == 0 {
		a.mux.Lock()
		defer a.mux.Unlock()
		if newCount = f.useCount.Load(); newCount == 0 {

			if a.lru == nil {
				// cache is disabled. close the file
				delete(a.inUse, f.region)
				return f.Close()
			}

			// evict the oldest file from the lru if adding a new element will cause
			// an element to be evicted. We do this to insure the file gets closed
			// properly and to free all associated resources.
			if a.lru.Len() == a.settings.CacheSize {
				if _, old, ok := a.lru.RemoveOldest(); ok {
					if err = old.(*File).Close(); err != nil {
						err = errors.Wrap("anvil: error occurred while evicting file", err)
					}
				}
			}

			if evicted := a.lru.Add(f.region, f); evicted {
				// This should never happen since we manually evicted the oldest element
				panic("anvil: File was incorrectly evicted")
			}

			delete(a.inUse, f.region)
		}
	}
	return
}

func (a *Anvil) getFile(rg Region) (f *File, ok bool) {
	f, ok = a.inUse[rg]
	if ok {
		f.useCount.Add(1)
	}
	return
}

// Close closes all region files held in the cache that are not in use.
// Files that are still in use are not closed by this; when their last user
// frees them they are put back into the cache, or closed if the cache is
// disabled.
func (a *Anvil) Close() (err error) {
	a.mux.Lock()
	defer a.mux.Unlock()

	if a.lru != nil {
		for a.lru.Len() > 0 {
			if _, old, ok := a.lru.RemoveOldest(); ok {
				if cerr := old.(*File).Close(); cerr != nil && err == nil {
					err = cerr
				}
			}
		}
	}
	return
}

// Open opens the given directory.
func Open(path string, opt ...Settings) (a *Anvil, err error) {
	if path, err = filepath.Abs(path); err == nil {
		var info os.FileInfo
		if info, err = filesystem.Stat(path); err == nil {
			if !info.IsDir() {
				return nil, errors.New("anvil: Open: " + path + " is not a directory")
			}
			return OpenFs(afero.NewBasePathFs(filesystem, path), opt...)
		}
	}
	return
}

// OpenFs opens the given directory.
func OpenFs(fs afero.Fs, opt ...Settings) (a *Anvil, err error) {
	settings := getSettings(opt, fs)

	cache := Anvil{inUse: map[Region]*File{}, settings: settings}

	if settings.CacheSize > 0 {
		if cache.lru, err = lru.NewLRU(settings.CacheSize, nil); err != nil {
			return nil, err
		}
	}

	return &cache, nil
}

func getSettings(s []Settings, fs afero.Fs) Settings {
	var settings = defaultSettings

	if len(s) == 1 {
		settings = s[0]

		if settings.CacheSize == 0 {
			settings.CacheSize = defaultSettings.CacheSize
		}
	}

	settings.fs = fs

	return settings
}
