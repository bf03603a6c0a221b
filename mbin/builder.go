package mbin

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/moffa90/go-mbin/inflate"
)

// Signer produces the signature block for the signed part of an image.
type Signer interface {
	SignImage(content []byte) ([]byte, error)
}

// Builder assembles an image. Errors are deferred and reported by Finish.
type Builder struct {
	b     *cryptobyte.Builder
	chunk int
	err   error
}

// NewBuilder returns a builder that starts with the magic field and splits
// segments into chunks of at most maxSegmentSize bytes (0 selects
// DefaultMaxSegmentSize).
func NewBuilder(maxSegmentSize int) *Builder {
	if maxSegmentSize <= 0 {
		maxSegmentSize = DefaultMaxSegmentSize
	}

	// the value length of a field is 16 bits wide
	maxSegmentSize = min(maxSegmentSize, MaxFieldLength-DeflatedPrefixSize)

	b := &Builder{
		b:     cryptobyte.NewBuilder(nil),
		chunk: maxSegmentSize,
	}
	b.AddField(FieldTypeMagic, binary.LittleEndian.AppendUint32(nil, MagicNumber))

	return b
}

// AddField appends a field of any type.
func (b *Builder) AddField(t FieldType, value []byte) {
	if b.err != nil {
		return
	}
	if len(value) > MaxFieldLength {
		b.err = fmt.Errorf("%s value is %d bytes, maximum is %d", t, len(value), MaxFieldLength)
		return
	}

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:], uint16(t))
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(value)))

	b.b.AddBytes(hdr[:])
	b.b.AddBytes(value)
}

// AddRaw appends bytes as they are.
func (b *Builder) AddRaw(data []byte) {
	if b.err != nil {
		return
	}
	b.b.AddBytes(data)
}

// AddSegment appends data to be programmed at addr, split into chunks.
func (b *Builder) AddSegment(addr uint32, data []byte) {
	b.eachChunk(addr, data, func(addr uint32, chunk []byte) {
		b.addRawSegment(addr, chunk)
	})
}

// AddCompressedSegment appends data to be programmed at addr as compressed
// chunks. Chunks that do not shrink are stored uncompressed.
func (b *Builder) AddCompressedSegment(addr uint32, data []byte) {
	b.eachChunk(addr, data, func(addr uint32, chunk []byte) {
		stream, err := inflate.Deflate(chunk)
		if err != nil {
			b.err = fmt.Errorf("compress segment at 0x%08X: %w", addr, err)
			return
		}

		if len(stream)+DeflatedPrefixSize >= len(chunk)+AddressSize {
			b.addRawSegment(addr, chunk)
			return
		}

		value := make([]byte, 0, DeflatedPrefixSize+len(stream))
		value = binary.LittleEndian.AppendUint32(value, addr)
		value = binary.LittleEndian.AppendUint32(value, uint32(len(chunk)))
		value = append(value, stream...)
		b.AddField(FieldTypeSWSegmentDeflated, value)
	})
}

func (b *Builder) addRawSegment(addr uint32, chunk []byte) {
	value := make([]byte, 0, AddressSize+len(chunk))
	value = binary.LittleEndian.AppendUint32(value, addr)
	value = append(value, chunk...)
	b.AddField(FieldTypeSWSegment, value)
}

func (b *Builder) eachChunk(addr uint32, data []byte, fn func(uint32, []byte)) {
	if uint64(addr)+uint64(len(data)) > 1<<32 {
		b.err = fmt.Errorf("segment at 0x%08X with %d bytes exceeds the address space", addr, len(data))
		return
	}

	for off := 0; off < len(data) && b.err == nil; off += b.chunk {
		end := min(off+b.chunk, len(data))
		fn(addr+uint32(off), data[off:end])
	}
}

// Bytes returns the image built so far, without an end field.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.b.Bytes()
}

// Finish appends FieldTypeEOF and returns the image.
func (b *Builder) Finish() ([]byte, error) {
	b.AddField(FieldTypeEOF, nil)
	return b.Bytes()
}

// FinishSigned signs the image built so far and appends the signature block
// in a FieldTypeEOFWithSignature field.
func (b *Builder) FinishSigned(s Signer) ([]byte, error) {
	content, err := b.Bytes()
	if err != nil {
		return nil, err
	}

	block, err := s.SignImage(content)
	if err != nil {
		return nil, fmt.Errorf("failed to sign image: %w", err)
	}

	b.AddField(FieldTypeEOFWithSignature, block)
	return b.Bytes()
}
