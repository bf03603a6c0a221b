package mbin

import "fmt"

// FieldType identifies a TLV field.
type FieldType uint16

// Field types.
const (
	// FieldTypeEOF ends an image without a signature block
	FieldTypeEOF FieldType = 0x0000

	// FieldTypeMagic must be the first field, holding MagicNumber
	FieldTypeMagic FieldType = 0x8000

	// FieldTypeFWSegment is a radio firmware segment (skipped)
	FieldTypeFWSegment FieldType = 0x8001

	// FieldTypeFWSegmentDeflated is a compressed radio firmware segment (skipped)
	FieldTypeFWSegmentDeflated FieldType = 0x8002

	// FieldTypeSWSegment is an application segment
	FieldTypeSWSegment FieldType = 0x8003

	// FieldTypeSWSegmentDeflated is a compressed application segment
	FieldTypeSWSegmentDeflated FieldType = 0x8004

	// FieldTypeEOFWithSignature ends an image with a signature block
	FieldTypeEOFWithSignature FieldType = 0x8005

	// FieldTypeBCFBoardConfig is a board configuration blob (skipped)
	FieldTypeBCFBoardConfig FieldType = 0x8100

	// FieldTypeBCFRegdom is a regulatory domain blob (skipped)
	FieldTypeBCFRegdom FieldType = 0x8101

	// FieldTypeFWTLVBCFAddr is the board configuration address (skipped)
	FieldTypeFWTLVBCFAddr FieldType = 0x8102
)

var fieldTypeNames = map[FieldType]string{
	FieldTypeEOF:               "EOF",
	FieldTypeMagic:             "MAGIC",
	FieldTypeFWSegment:         "FW_SEGMENT",
	FieldTypeFWSegmentDeflated: "FW_SEGMENT_DEFLATED",
	FieldTypeSWSegment:         "SW_SEGMENT",
	FieldTypeSWSegmentDeflated: "SW_SEGMENT_DEFLATED",
	FieldTypeEOFWithSignature:  "EOF_WITH_SIGNATURE",
	FieldTypeBCFBoardConfig:    "BCF_BOARD_CONFIG",
	FieldTypeBCFRegdom:         "BCF_REGDOM",
	FieldTypeFWTLVBCFAddr:      "FW_TLV_BCF_ADDR",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%04X)", uint16(t))
}

// Segment reports whether fields of this type are programmed into the
// application region.
func (t FieldType) Segment() bool {
	return t == FieldTypeSWSegment || t == FieldTypeSWSegmentDeflated
}

// Skipped reports whether fields of this type are ignored by the bootloader.
func (t FieldType) Skipped() bool {
	switch t {
	case FieldTypeFWSegment, FieldTypeFWSegmentDeflated, FieldTypeFWTLVBCFAddr,
		FieldTypeBCFBoardConfig, FieldTypeBCFRegdom:
		return true
	default:
		return false
	}
}

// End reports whether fields of this type end the image.
func (t FieldType) End() bool {
	return t == FieldTypeEOF || t == FieldTypeEOFWithSignature
}

// Format constants.
const (
	// MagicNumber is the value of the magic field ("MMSW" in file order)
	MagicNumber uint32 = 0x57534D4D

	// HeaderSize is the size of a TLV header
	HeaderSize = 4

	// MagicSize is the value length of the magic field
	MagicSize = 4

	// AddressSize is the size of the load address of a segment
	AddressSize = 4

	// DeflatedPrefixSize is the size of the address and expanded size ahead
	// of a compressed segment
	DeflatedPrefixSize = 8

	// MaxFieldLength is the largest value length a TLV header can declare
	MaxFieldLength = 0xFFFF

	// DefaultMaxSegmentSize is the default scratch buffer size and the largest
	// segment the bootloader accepts
	DefaultMaxSegmentSize = 32768
)

// Signature block layout.
const (
	// DigestSize is the size of the SHA-256 digest in the signature block
	DigestSize = 32

	// SignatureSize is the size of the Ed25519 signature in the signature block
	SignatureSize = 64

	// SignatureBlockSize is the value length of FieldTypeEOFWithSignature
	SignatureBlockSize = DigestSize + SignatureSize
)
