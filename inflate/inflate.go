// Package inflate expands compressed mbin segments into a bounded scratch
// buffer.
//
// Compressed segments carry a raw DEFLATE stream (RFC 1951, no zlib or gzip
// framing) and declare their expanded size up front. Expansion never
// allocates: the output lands in a caller-owned Buffer whose capacity is
// sized to the maximum segment size.
package inflate

import (
	"bytes"
	"compress/flate"
	"io"

	"github.com/moffa90/go-mbin/retcode"
)

const op = "inflate segment"

// Inflate expands the raw DEFLATE stream src into dst and returns the
// expanded bytes. The stream must expand to exactly want bytes; a malformed
// stream, an expansion past want or past the capacity of dst, or a short
// expansion fails with retcode.ErrFileDecompression.
func Inflate(dst *Buffer, src []byte, want int) ([]byte, error) {
	dst.Reset()

	if want < 0 || want > dst.Cap() {
		return nil, retcode.Wrap(op, retcode.ErrFileDecompression,
			&CapacityError{Capacity: dst.Cap(), Need: want})
	}

	fr := flate.NewReader(bytes.NewReader(src))
	defer fr.Close()

	// read at most one byte more than expected to detect overlong streams
	n, err := io.Copy(dst, io.LimitReader(fr, int64(want)+1))
	if err != nil {
		return nil, retcode.Wrap(op, retcode.ErrFileDecompression, err)
	}

	if int(n) > want {
		return nil, retcode.New(op, retcode.ErrFileDecompression,
			"stream expands past declared size of %d bytes", want)
	}
	if int(n) < want {
		return nil, retcode.New(op, retcode.ErrFileDecompression,
			"stream expands to %d bytes, declared %d", n, want)
	}

	return dst.Bytes(), nil
}

// Deflate compresses data into a raw DEFLATE stream. It is the host-side
// counterpart of Inflate.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}

	_, err = fw.Write(data)
	if err != nil {
		return nil, err
	}

	err = fw.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
