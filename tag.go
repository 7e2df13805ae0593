package anvil

import (
	"io"

	"github.com/Tnze/go-mc/nbt"
	"github.com/valyala/bytebufferpool"
	"github.com/yehan2002/errors"
)

// ReadTag reads the entry at the given position and decodes it into the
// tag tree `v`. `v` must be a pointer to a struct, map or [nbt.RawMessage].
func (f *File) ReadTag(x, z uint8, v interface{}) (err error) {
	var src io.ReadCloser
	if src, err = f.ReaderFor(x, z); err != nil {
		return err
	}

	_, err = nbt.NewDecoder(src).Decode(v)
	closeErr := src.Close()

	if err != nil {
		return errors.CauseStr(ErrCorrupted, "unable to decode entry tag")
	}
	return closeErr
}

// WriteTag encodes the tag tree `v` and writes it to the entry at the
// given position.
func (f *File) WriteTag(x, z uint8, v interface{}) (err error) {
	buf := bufferpool.Get()
	defer bufferpool.Put(buf)

	if err = nbt.NewEncoder(buf).Encode(v, ""); err != nil {
		return errors.Wrap("anvil: unable to encode entry tag", err)
	}

	return f.Write(x, z, buf.B)
}

var bufferpool bytebufferpool.Pool
