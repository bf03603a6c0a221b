package mbin

import (
	"fmt"

	"github.com/moffa90/go-mbin/inflate"
	"github.com/moffa90/go-mbin/retcode"
)

// Region is a half-open flash address range [Start, End).
type Region struct {
	// Start is the first address of the region (application_start)
	Start uint32

	// End is the first address after the region (application_end)
	End uint32
}

// FullRegion accepts every address below 4 GiB. It is meant for host-side
// inspection of images whose target device is unknown.
var FullRegion = Region{Start: 0, End: 0xFFFFFFFF}

// Valid returns true if the region is not empty.
func (r Region) Valid() bool {
	return r.Start < r.End
}

// Size returns the number of bytes covered by the region.
func (r Region) Size() uint32 {
	if !r.Valid() {
		return 0
	}
	return r.End - r.Start
}

// Contains returns true if [addr, addr+size) lies inside the region.
func (r Region) Contains(addr, size uint32) bool {
	if !r.Valid() {
		return false
	}

	start := uint64(addr)
	end := start + uint64(size)

	return start >= uint64(r.Start) && start < uint64(r.End) && end <= uint64(r.End)
}

// Overlaps returns true if [addr, addr+size) shares a byte with the region.
func (r Region) Overlaps(addr, size uint32) bool {
	if !r.Valid() || size == 0 {
		return false
	}

	start := uint64(addr)
	end := start + uint64(size)

	return start < uint64(r.End) && end > uint64(r.Start)
}

func (r Region) String() string {
	return fmt.Sprintf("[0x%08X, 0x%08X)", r.Start, r.End)
}

// Header is a validated field header.
type Header struct {
	// Type is the field type
	Type FieldType

	// Length is the value length declared by the TLV header
	Length uint16

	// Address is the load address (segments only)
	Address uint32

	// Size is the payload size after decompression (segments only)
	Size uint32

	// Compressed is set for FieldTypeSWSegmentDeflated
	Compressed bool

	// Offset is the position of the TLV header in the image
	Offset int
}

// prefix returns the number of value bytes consumed ahead of the payload.
func (h *Header) prefix() int {
	switch h.Type {
	case FieldTypeSWSegment:
		return AddressSize
	case FieldTypeSWSegmentDeflated:
		return DeflatedPrefixSize
	default:
		return 0
	}
}

// PayloadLength returns the number of bytes stored in the image for the
// payload, which for compressed segments is the size of the stream.
func (h *Header) PayloadLength() int {
	return int(h.Length) - h.prefix()
}

// Target returns the range written by a segment.
func (h *Header) Target() Region {
	return Region{Start: h.Address, End: h.Address + h.Size}
}

// Segment is an application segment. Payload is a sub-slice of the image and
// must not be modified.
type Segment struct {
	Header

	// Payload is the raw data or the compressed stream
	Payload []byte
}

// Data returns the bytes to program. Compressed payloads are expanded into
// scratch, so the result is only valid until scratch is reused.
func (s *Segment) Data(scratch *inflate.Buffer) ([]byte, error) {
	if !s.Compressed {
		return s.Payload, nil
	}

	if scratch == nil {
		return nil, retcode.New("inflate segment", retcode.ErrFileDecompression,
			"no scratch buffer for segment at 0x%08X", s.Address)
	}

	data, err := inflate.Inflate(scratch, s.Payload, int(s.Size))
	if err != nil {
		return nil, fmt.Errorf("segment at 0x%08X: %w", s.Address, err)
	}

	return data, nil
}

// Summary is the result of a full structural pass over an image.
type Summary struct {
	// Segments holds the headers of all application segments in image order
	Segments []Header

	// Skipped is the number of fields that are not programmed
	Skipped int

	// PayloadBytes is the total number of bytes to program
	PayloadBytes int

	// SignedLength is the number of bytes ahead of the end field
	SignedLength int

	// Trailer is the value of the end field (nil for FieldTypeEOF)
	Trailer []byte

	// End is the type of the end field
	End FieldType
}

// Signed returns true if the image ends with a signature block field.
func (s *Summary) Signed() bool {
	return s.End == FieldTypeEOFWithSignature
}
