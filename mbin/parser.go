package mbin

import (
	"io"

	"github.com/samber/lo"

	"github.com/moffa90/go-mbin/inflate"
	"github.com/moffa90/go-mbin/retcode"
)

const opParse = "parse image"

// Options control image validation.
type Options struct {
	// Region is the application region all segments must fall into
	Region Region

	// MaxSegmentSize is the largest accepted field and expanded segment
	// (default: DefaultMaxSegmentSize)
	MaxSegmentSize int
}

func (o Options) withDefaults() Options {
	if o.MaxSegmentSize <= 0 {
		o.MaxSegmentSize = DefaultMaxSegmentSize
	}
	return o
}

// Parser walks the fields of an image in order. A parser that has failed
// keeps returning the same error.
type Parser struct {
	r    *Reader
	opts Options

	magic   bool
	done    bool
	err     error
	skipped int

	signedLength int
	trailer      []byte
	end          FieldType
}

// NewParser returns a parser over buf.
func NewParser(buf []byte, opts Options) *Parser {
	return &Parser{
		r:    NewReader(buf),
		opts: opts.withDefaults(),
	}
}

// ReadMagic consumes and checks the magic field. It is called implicitly by
// ReadSegmentHeader and Next.
func (p *Parser) ReadMagic() error {
	if p.err != nil {
		return p.err
	}
	if p.magic {
		return nil
	}

	typ, err := p.r.ReadUint16()
	if err != nil {
		return p.fail(err)
	}
	if FieldType(typ) != FieldTypeMagic {
		return p.fail(retcode.New(opParse, retcode.ErrInvalidFile,
			"first field is %s, expected %s", FieldType(typ), FieldTypeMagic))
	}

	length, err := p.r.ReadUint16()
	if err != nil {
		return p.fail(err)
	}
	if length != MagicSize {
		return p.fail(retcode.New(opParse, retcode.ErrFileCorrupt,
			"magic field length is %d, expected %d", length, MagicSize))
	}

	value, err := p.r.ReadUint32()
	if err != nil {
		return p.fail(err)
	}
	if value != MagicNumber {
		return p.fail(retcode.New(opParse, retcode.ErrInvalidFile,
			"magic number is 0x%08X, expected 0x%08X", value, MagicNumber))
	}

	p.magic = true
	return nil
}

// ReadSegmentHeader consumes the next TLV header and, for application
// segments, the address and size ahead of the payload. The remaining
// PayloadLength bytes are left for the caller. It returns io.EOF once the end
// field has been consumed.
func (p *Parser) ReadSegmentHeader() (*Header, error) {
	err := p.ReadMagic()
	if err != nil {
		return nil, err
	}
	if p.done {
		return nil, io.EOF
	}

	if p.r.Empty() {
		return nil, p.fail(retcode.New(opParse, retcode.ErrFileCorrupt,
			"image ends at offset %d without an end field", p.r.Offset()))
	}

	h := &Header{Offset: p.r.Offset()}

	typ, err := p.r.ReadUint16()
	if err != nil {
		return nil, p.fail(err)
	}
	length, err := p.r.ReadUint16()
	if err != nil {
		return nil, p.fail(err)
	}
	h.Type = FieldType(typ)
	h.Length = length

	if int(length) > p.r.Remaining() {
		return nil, p.fail(retcode.Wrap(opParse, retcode.ErrFileCorrupt, &TruncatedError{
			Offset:    p.r.Offset(),
			Need:      int(length),
			Remaining: p.r.Remaining(),
		}))
	}

	switch {
	case h.Type == FieldTypeMagic:
		return nil, p.fail(retcode.New(opParse, retcode.ErrFileCorrupt,
			"repeated magic field at offset %d", h.Offset))

	case h.Type == FieldTypeEOF:
		if length != 0 {
			return nil, p.fail(retcode.New(opParse, retcode.ErrFileCorrupt,
				"end field at offset %d has length %d", h.Offset, length))
		}

	case h.Type == FieldTypeEOFWithSignature:
		// the length of the signature block is checked by the verifier

	case h.Type.Skipped():
		if int(length) > p.opts.MaxSegmentSize {
			return nil, p.fail(p.oversize(h, int(length)))
		}

	case h.Type.Segment():
		err = p.readSegmentPrefix(h)
		if err != nil {
			return nil, p.fail(err)
		}

	default:
		return nil, p.fail(retcode.New(opParse, retcode.ErrFileCorrupt,
			"unknown field type 0x%04X at offset %d", typ, h.Offset))
	}

	return h, nil
}

func (p *Parser) readSegmentPrefix(h *Header) error {
	if int(h.Length) < h.prefix() {
		return retcode.New(opParse, retcode.ErrFileCorrupt,
			"%s at offset %d has length %d, minimum is %d", h.Type, h.Offset, h.Length, h.prefix())
	}

	address, err := p.r.ReadUint32()
	if err != nil {
		return err
	}
	h.Address = address

	if h.Type == FieldTypeSWSegmentDeflated {
		size, err := p.r.ReadUint32()
		if err != nil {
			return err
		}
		h.Size = size
		h.Compressed = true

		if h.PayloadLength() > p.opts.MaxSegmentSize {
			return p.oversize(h, h.PayloadLength())
		}
	} else {
		h.Size = uint32(h.PayloadLength())
	}

	if uint64(h.Size) > uint64(p.opts.MaxSegmentSize) {
		return p.oversize(h, int(h.Size))
	}

	if !p.opts.Region.Contains(h.Address, h.Size) {
		return retcode.Wrap(opParse, retcode.ErrInvalidFile, &AddressRangeError{
			Address: h.Address,
			Size:    h.Size,
			Region:  p.opts.Region,
		})
	}

	return nil
}

func (p *Parser) oversize(h *Header, size int) error {
	return retcode.Wrap(opParse, retcode.ErrFileCorrupt, &SegmentSizeError{
		Type:   h.Type,
		Offset: h.Offset,
		Size:   size,
		Max:    p.opts.MaxSegmentSize,
	})
}

// NextField consumes the next field of any type and returns its header and
// payload. It returns io.EOF after the end field.
func (p *Parser) NextField() (*Header, []byte, error) {
	h, err := p.ReadSegmentHeader()
	if err != nil {
		return nil, nil, err
	}

	value, err := p.r.ReadBytes(h.PayloadLength())
	if err != nil {
		return nil, nil, p.fail(err)
	}

	switch {
	case h.Type.End():
		p.done = true
		p.end = h.Type
		p.signedLength = h.Offset
		if h.Type == FieldTypeEOFWithSignature {
			p.trailer = value
		}

		if !p.r.Empty() {
			return nil, nil, p.fail(retcode.New(opParse, retcode.ErrFileCorrupt,
				"%d trailing bytes after end field", p.r.Remaining()))
		}

	case h.Type.Skipped():
		p.skipped++
	}

	return h, value, nil
}

// Next returns the next application segment, stepping over skipped fields.
// It returns io.EOF after the end field.
func (p *Parser) Next() (*Segment, error) {
	for {
		h, value, err := p.NextField()
		if err != nil {
			return nil, err
		}

		if h.Type.Segment() {
			return &Segment{Header: *h, Payload: value}, nil
		}
	}
}

// Skipped returns the number of fields stepped over so far.
func (p *Parser) Skipped() int {
	return p.skipped
}

// SignedLength returns the offset of the end field, once reached.
func (p *Parser) SignedLength() int {
	return p.signedLength
}

// Trailer returns the value of a FieldTypeEOFWithSignature end field.
func (p *Parser) Trailer() []byte {
	return p.trailer
}

func (p *Parser) fail(err error) error {
	if p.err == nil {
		p.err = err
	}
	return p.err
}

// Parse runs a full structural pass over buf. Compressed segments are
// expanded into scratch to check their declared size; a nil scratch
// allocates one of MaxSegmentSize bytes. The image is never modified.
//
// Example:
//
//	sum, err := mbin.Parse(data, mbin.Options{Region: region}, nil)
//	if err != nil {
//	    return retcode.Of(err)
//	}
//	fmt.Printf("%d segments, %d bytes\n", len(sum.Segments), sum.PayloadBytes)
func Parse(buf []byte, opts Options, scratch *inflate.Buffer) (*Summary, error) {
	if len(buf) == 0 {
		return nil, retcode.New(opParse, retcode.ErrFileNotFound, "image is empty")
	}

	p := NewParser(buf, opts)
	if scratch == nil {
		scratch = inflate.NewBuffer(p.opts.MaxSegmentSize)
	}

	sum := &Summary{}
	for {
		seg, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		_, err = seg.Data(scratch)
		if err != nil {
			return nil, err
		}

		// flash is erased once, so no byte may be programmed twice
		other, found := lo.Find(sum.Segments, func(h Header) bool {
			return h.Target().Overlaps(seg.Address, seg.Size)
		})
		if found {
			return nil, retcode.Wrap(opParse, retcode.ErrInvalidFile, &OverlapError{
				Offset:  seg.Offset,
				Address: seg.Address,
				Size:    seg.Size,
				Other:   other,
			})
		}

		sum.Segments = append(sum.Segments, seg.Header)
	}

	writes := lo.ContainsBy(sum.Segments, func(h Header) bool {
		return h.Size > 0
	})
	if !writes {
		return nil, retcode.New(opParse, retcode.ErrInvalidFile,
			"image does not write the application region")
	}

	sum.Skipped = p.Skipped()
	sum.PayloadBytes = lo.SumBy(sum.Segments, func(h Header) int {
		return int(h.Size)
	})
	sum.SignedLength = p.SignedLength()
	sum.Trailer = p.Trailer()
	sum.End = p.end

	return sum, nil
}
