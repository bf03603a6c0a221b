package mbin

import "fmt"

// TruncatedError indicates a read past the end of the image.
type TruncatedError struct {
	Offset    int
	Need      int
	Remaining int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("need %d bytes at offset %d, only %d remaining", e.Need, e.Offset, e.Remaining)
}

// SegmentSizeError indicates a field larger than the scratch buffer.
type SegmentSizeError struct {
	Type   FieldType
	Offset int
	Size   int
	Max    int
}

func (e *SegmentSizeError) Error() string {
	return fmt.Sprintf("%s at offset %d is %d bytes, maximum is %d", e.Type, e.Offset, e.Size, e.Max)
}

// AddressRangeError indicates a segment outside the application region.
type AddressRangeError struct {
	Address uint32
	Size    uint32
	Region  Region
}

func (e *AddressRangeError) Error() string {
	return fmt.Sprintf("segment [0x%08X, +%d) outside application region %s", e.Address, e.Size, e.Region)
}

// OverlapError indicates a segment writing bytes already written by an
// earlier segment.
type OverlapError struct {
	Offset  int
	Address uint32
	Size    uint32
	Other   Header
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("segment [0x%08X, +%d) at offset %d overlaps segment [0x%08X, +%d) at offset %d",
		e.Address, e.Size, e.Offset, e.Other.Address, e.Other.Size, e.Other.Offset)
}
