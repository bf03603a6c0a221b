package mbin

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSigner struct {
	content []byte
	block   []byte
	err     error
}

func (s *stubSigner) SignImage(content []byte) ([]byte, error) {
	s.content = append([]byte(nil), content...)
	return s.block, s.err
}

func TestBuilderFinish(t *testing.T) {
	b := NewBuilder(0)
	b.AddSegment(0x08010000, []byte{0xDE, 0xAD})

	img, err := b.Finish()
	require.NoError(t, err)

	assert.Equal(t, []byte{
		0x00, 0x80, 0x04, 0x00, 0x4D, 0x4D, 0x53, 0x57, // magic
		0x03, 0x80, 0x06, 0x00, 0x00, 0x00, 0x01, 0x08, 0xDE, 0xAD, // segment
		0x00, 0x00, 0x00, 0x00, // eof
	}, img)
}

func TestBuilderChunks(t *testing.T) {
	data := bytes.Repeat([]byte{0x5A}, 250)

	b := NewBuilder(100)
	b.AddSegment(testRegion.Start, data)
	img, err := b.Finish()
	require.NoError(t, err)

	sum, err := Parse(img, Options{Region: testRegion, MaxSegmentSize: 100}, nil)
	require.NoError(t, err)
	require.Len(t, sum.Segments, 3)

	assert.Equal(t, testRegion.Start, sum.Segments[0].Address)
	assert.Equal(t, testRegion.Start+100, sum.Segments[1].Address)
	assert.Equal(t, testRegion.Start+200, sum.Segments[2].Address)
	assert.Equal(t, uint32(50), sum.Segments[2].Size)
	assert.Equal(t, 250, sum.PayloadBytes)
}

func TestBuilderCompressed(t *testing.T) {
	t.Run("compressible chunk", func(t *testing.T) {
		b := NewBuilder(0)
		b.AddCompressedSegment(testRegion.Start, bytes.Repeat([]byte{0x00}, 4096))
		img, err := b.Finish()
		require.NoError(t, err)

		sum, err := Parse(img, Options{Region: testRegion}, nil)
		require.NoError(t, err)
		require.Len(t, sum.Segments, 1)
		assert.True(t, sum.Segments[0].Compressed)
		assert.Equal(t, uint32(4096), sum.Segments[0].Size)
		assert.Less(t, len(img), 4096)
	})

	t.Run("incompressible chunk is stored raw", func(t *testing.T) {
		b := NewBuilder(0)
		b.AddCompressedSegment(testRegion.Start, []byte{0x01, 0x02, 0x03})
		img, err := b.Finish()
		require.NoError(t, err)

		sum, err := Parse(img, Options{Region: testRegion}, nil)
		require.NoError(t, err)
		require.Len(t, sum.Segments, 1)
		assert.False(t, sum.Segments[0].Compressed)
	})
}

func TestBuilderFinishSigned(t *testing.T) {
	block := bytes.Repeat([]byte{0x11}, SignatureBlockSize)
	signer := &stubSigner{block: block}

	b := NewBuilder(0)
	b.AddSegment(testRegion.Start, []byte{0x01})
	unsigned, err := b.Bytes()
	require.NoError(t, err)
	unsigned = append([]byte(nil), unsigned...)

	img, err := b.FinishSigned(signer)
	require.NoError(t, err)

	assert.Equal(t, unsigned, signer.content)

	sum, err := Parse(img, Options{Region: testRegion}, nil)
	require.NoError(t, err)
	assert.True(t, sum.Signed())
	assert.Equal(t, len(unsigned), sum.SignedLength)
	assert.Equal(t, block, sum.Trailer)
}

func TestBuilderErrors(t *testing.T) {
	t.Run("signer failure", func(t *testing.T) {
		b := NewBuilder(0)
		_, err := b.FinishSigned(&stubSigner{err: errors.New("no key")})
		assert.ErrorContains(t, err, "no key")
	})

	t.Run("oversized field", func(t *testing.T) {
		b := NewBuilder(0)
		b.AddField(FieldTypeBCFRegdom, make([]byte, MaxFieldLength+1))
		_, err := b.Finish()
		assert.Error(t, err)
	})

	t.Run("address space overflow", func(t *testing.T) {
		b := NewBuilder(0)
		b.AddSegment(0xFFFFFFF0, make([]byte, 32))
		_, err := b.Finish()
		assert.Error(t, err)
	})
}
