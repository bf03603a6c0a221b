// Package mbin provides parsing and building of mbin firmware update images.
//
// # MBIN File Format
//
// An mbin image is a sequence of TLV fields. Every field starts with a fixed
// 4-byte header, little-endian:
//
//	[Type(2)][Length(2)][Value(Length)]
//
// The first field is always the magic field:
//
//	00 80 04 00 4D 4D 53 57
//	  0x8000 = FieldTypeMagic
//	  0x0004 = Length
//	  0x57534D4D = MagicNumber ("MMSW")
//
// Application segments carry their load address, and compressed ones also the
// expanded size, ahead of the data:
//
//	SW_SEGMENT:          [Address(4)][Data(Length-4)]
//	SW_SEGMENT_DEFLATED: [Address(4)][Size(4)][RawDeflate(Length-8)]
//
// Radio firmware, board configuration and regulatory fields may appear in the
// same image and are skipped. The image ends with either FieldTypeEOF or
// FieldTypeEOFWithSignature, whose value is the signature block:
//
//	[SHA256(32)][Ed25519(64)]
//
// The digest covers every byte of the image before the header of the end
// field. Nothing may follow the end field.
//
// # Usage
//
// Run a full structural pass over an image:
//
//	sum, err := mbin.Parse(data, mbin.Options{
//	    Region:         mbin.Region{Start: 0x08010000, End: 0x08100000},
//	    MaxSegmentSize: mbin.DefaultMaxSegmentSize,
//	}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Walk segments one at a time:
//
//	p := mbin.NewParser(data, opts)
//	for {
//	    seg, err := p.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    // ...
//	}
//
// # Error Handling
//
// Every error carries a retcode.Code:
//   - Truncated fields, oversized segments, unknown field types, a missing end
//     field or trailing bytes: retcode.ErrFileCorrupt
//   - Wrong magic, or a segment outside the application region:
//     retcode.ErrInvalidFile
//   - Broken compressed segments: retcode.ErrFileDecompression
//   - An empty image: retcode.ErrFileNotFound
package mbin
