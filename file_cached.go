package anvil

import (
	"io"
	"sync"
)

// CachedFile a region file opened through an [Anvil] cache.
type CachedFile struct {
	*File

	closeMux sync.RWMutex
	closed   bool
}

// Close releases the file back to the cache.
// This function can be called multiple times.
func (c *CachedFile) Close() (err error) {
	c.closeMux.Lock()
	defer c.closeMux.Unlock()

	if !c.closed {
		err = c.File.cache.free(c.File)
		c.closed = true
	}

	return
}

// Read reads the entry at x,z to the given `reader`.
// `reader` must not retain the [io.Reader] passed to it.
func (c *CachedFile) Read(x, z uint8, reader io.ReaderFrom) (n int64, err error) {
	c.closeMux.RLock()
	defer c.closeMux.RUnlock()
	if c.closed {
		return 0, ErrClosed
	}

	return c.File.Read(x, z, reader)
}

// Write updates the data for the entry at x,z to the given buffer.
func (c *CachedFile) Write(x, z uint8, b []byte) (err error) {
	c.closeMux.RLock()
	defer c.closeMux.RUnlock()
	if c.closed {
		return ErrClosed
	}

	return c.File.Write(x, z, b)
}

// Remove removes the given entry from the file.
func (c *CachedFile) Remove(x, z uint8) (err error) {
	c.closeMux.RLock()
	defer c.closeMux.RUnlock()
	if c.closed {
		return ErrClosed
	}

	return c.File.Remove(x, z)
}

// ReadTag reads the entry at x,z into the tag tree `v`.
func (c *CachedFile) ReadTag(x, z uint8, v interface{}) (err error) {
	c.closeMux.RLock()
	defer c.closeMux.RUnlock()
	if c.closed {
		return ErrClosed
	}

	return c.File.ReadTag(x, z, v)
}

// WriteTag encodes the tag tree `v` and writes it to the entry at x,z.
func (c *CachedFile) WriteTag(x, z uint8, v interface{}) (err error) {
	c.closeMux.RLock()
	defer c.closeMux.RUnlock()
	if c.closed {
		return ErrClosed
	}

	return c.File.WriteTag(x, z, v)
}

// CompressionMethod sets the compression method to be used by the writer.
func (c *CachedFile) CompressionMethod(m CompressMethod) (err error) {
	c.closeMux.RLock()
	defer c.closeMux.RUnlock()
	if c.closed {
		return ErrClosed
	}

	return c.File.CompressionMethod(m)
}

// Info gets information stored in the region file header for the given entry.
func (c *CachedFile) Info(x, z uint8) (entry Entry, exists bool) {
	c.closeMux.RLock()
	defer c.closeMux.RUnlock()
	if c.closed {
		return
	}
	return c.File.Info(x, z)
}
