package mbin

import (
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"

	"github.com/moffa90/go-mbin/retcode"
)

// Reader extracts little-endian fields from an image. It never reads past
// the end of the buffer and never copies or modifies it.
type Reader struct {
	size int
	s    cryptobyte.String
}

// NewReader returns a reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{
		size: len(buf),
		s:    cryptobyte.String(buf),
	}
}

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int {
	return r.size - len(r.s)
}

// Remaining returns the number of bytes left.
func (r *Reader) Remaining() int {
	return len(r.s)
}

// Empty returns true if all bytes have been consumed.
func (r *Reader) Empty() bool {
	return r.s.Empty()
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadBytes returns the next n bytes as a sub-slice of the image.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	var out []byte
	if n < 0 || !r.s.ReadBytes(&out, n) {
		return nil, r.truncated(n)
	}
	return out, nil
}

// Skip advances past the next n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || !r.s.Skip(n) {
		return r.truncated(n)
	}
	return nil
}

func (r *Reader) truncated(n int) error {
	return retcode.Wrap("read image", retcode.ErrFileCorrupt, &TruncatedError{
		Offset:    r.Offset(),
		Need:      n,
		Remaining: r.Remaining(),
	})
}
