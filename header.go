package anvil

import (
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/yehan2002/errors"
)

var headerPool = sync.Pool{New: func() interface{} { return &[Entries]Entry{} }}

// Entry an entry in the region file header.
type Entry struct {
	// Size the number of sections used by the entry.
	// If this is zero the entry is not stored in this file.
	Size uint8
	// Offset the offset of the entry in the region file (in sections).
	Offset uint32
	// Timestamp when the entry was last modified,
	// stored as the number of seconds since January 1, 1970 UTC.
	Timestamp int32
}

// Exists returns if the entry is stored in this file.
func (e *Entry) Exists() bool { return e.Offset != 0 && e.Size != 0 }

// Modified returns when the entry was last modified.
func (e *Entry) Modified() time.Time { return time.Unix(int64(e.Timestamp), 0) }

// OffsetBytes the offset of the entry in the region file (in bytes).
func (e *Entry) OffsetBytes() int64 { return int64(e.Offset) * SectionSize }

// Header the header of a region file.
// It mirrors the two header sections of the file and tracks which
// sections of the file are in use.
type Header struct {
	entries *[Entries]Entry
	used    *bitset.BitSet
}

func newHeader(sections uint) *Header {
	if sections < Entries {
		sections = Entries
	}
	h := &Header{entries: headerPool.Get().(*[Entries]Entry), used: bitset.New(sections)}
	h.clear()
	return h
}

func (h *Header) clear() {
	*h.entries = [Entries]Entry{}
	h.used.ClearAll()
	// the first two sections always hold the location and timestamp tables
	h.used.Set(0)
	h.used.Set(1)
}

// Get gets the entry at the given x,z coords.
// If the given x,z values are not between 0 and 31 (inclusive) this panics.
func (h *Header) Get(x, z uint8) *Entry {
	if x > 31 || z > 31 {
		panic(fmt.Errorf("anvil/Header: Get: invalid position (%d,%d)", x, z))
	}
	return &h.entries[uint16(x)|uint16(z)<<5]
}

// Set updates the entry at x,z and marks the space used by the
// given entry in the `used` bitset as used.
func (h *Header) Set(x, z uint8, c Entry) error {
	if c.Offset < 2 || c.Size == 0 {
		panic(fmt.Errorf("anvil/Header: Set: invalid entry (%d,%d)", c.Offset, c.Size))
	}

	old := h.Get(x, z)
	if old.Exists() {
		if err := h.freeSpace(old); err != nil {
			return err
		}
	}

	if err := h.markSpace(c); err != nil {
		return err
	}

	*old = c
	return nil
}

// Remove removes the given entry from the header and marks the space used
// by the entry in the `used` bitset as unused.
func (h *Header) Remove(x, z uint8) error {
	e := h.Get(x, z)

	if err := h.freeSpace(e); err != nil {
		return err
	}

	*e = Entry{}
	return nil
}

// markSpace marks the space used by the given entry as used.
func (h *Header) markSpace(c Entry) error {
	end := uint(c.Offset) + uint(c.Size)
	for i := uint(c.Offset); i < end; i++ {
		if h.used.Test(i) {
			return errors.CauseStr(ErrCorrupted, "entry overflows into used space")
		}
		h.used.Set(i)
	}
	return nil
}

// freeSpace marks the space used by the entry as unused.
// This is a no-op for entries that do not exist.
func (h *Header) freeSpace(c *Entry) error {
	if !c.Exists() {
		return nil
	}

	end := uint(c.Offset) + uint(c.Size)
	for i := uint(c.Offset); i < end; i++ {
		if !h.used.Test(i) {
			return errors.CauseStr(ErrCorrupted, "inconsistent usage of space")
		}
		h.used.Clear(i)
	}
	return nil
}

// FindSpace finds the next free space large enough to store `size` sections.
func (h *Header) FindSpace(size uint) (offset uint, found bool) {
	// ignore the first two sections since they are used for the header
	offset = 2

	var hasSpace = true
	for hasSpace {
		var next uint

		offset, hasSpace = h.used.NextClear(offset)
		if !hasSpace {
			break
		}

		next, hasSpace = h.used.NextSet(offset)
		if hasSpace && next-offset >= size {
			return offset, true
		}

		offset = next
	}

	return 0, false
}

// load reads the header from the given arrays.
// `locations` holds the packed size and position of entries, with the least
// significant byte being the number of sections used by the entry and the
// rest containing the section offset where the entry starts.
// `fileSections` is the total number of sections in the file.
func (h *Header) load(locations, timestamps *[Entries]uint32, fileSections uint32) error {
	for i := 0; i < Entries; i++ {
		size, offset := locations[i]&0xFF, locations[i]>>8

		if size == 0 {
			// stale offsets with a zero size are treated as absent
			offset = 0
		}

		if offset+size > fileSections {
			return errors.CauseStr(ErrCorrupted, "entry is outside the file")
		}

		for p := uint32(0); p < size; p++ {
			// sections 0 and 1 are pre-marked so entries that overlap the
			// header tables fail here as well
			if h.used.Test(uint(offset + p)) {
				return errors.CauseStr(ErrCorrupted, "entry overlaps with another entry")
			}
			h.used.Set(uint(offset + p))
		}

		h.entries[i] = Entry{Timestamp: int32(timestamps[i]), Size: uint8(size), Offset: offset}
	}
	return nil
}

// Write writes the header to the given arrays.
func (h *Header) Write(locations, timestamps *[Entries]uint32) {
	for i := 0; i < Entries; i++ {
		entry := h.entries[i]
		locations[i] = entry.Offset<<8 | uint32(entry.Size)
		timestamps[i] = uint32(entry.Timestamp)
	}
}

// Free frees the header and puts it into the pool.
// Callers must not use the header after calling this.
func (h *Header) Free() { headerPool.Put(h.entries) }
