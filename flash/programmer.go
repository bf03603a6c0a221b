package flash

import (
	"bytes"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-mbin/hal"
	"github.com/moffa90/go-mbin/inflate"
	"github.com/moffa90/go-mbin/mbin"
	"github.com/moffa90/go-mbin/retcode"
	"github.com/moffa90/go-mbin/signature"
)

const (
	opErase   = "erase application"
	opProgram = "program application"
)

// DefaultPollTimeout is the default number of milliseconds to wait for a
// busy device.
const DefaultPollTimeout = 1000

// Config configures a Programmer.
type Config struct {
	// Region is the application region
	Region mbin.Region

	// MaxSegmentSize must match the value the image was parsed with
	// (default: mbin.DefaultMaxSegmentSize)
	MaxSegmentSize int

	// Scratch receives decompressed segments; allocated when nil
	Scratch *inflate.Buffer

	// PollTimeout is the busy wait limit in milliseconds
	// (default: DefaultPollTimeout)
	PollTimeout uint32

	// VerifyWrites reads back every segment after writing it
	VerifyWrites bool

	// Logger is used for logging operations (optional)
	Logger logrus.FieldLogger
}

// ProgressFunc is called after each programmed segment.
type ProgressFunc func(segment, total, written int)

// BlockError indicates a block that could not be erased.
type BlockError struct {
	Address uint32
	Size    uint32
	Err     error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block 0x%08X (%d bytes): %v", e.Address, e.Size, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a device that stayed busy.
type TimeoutError struct {
	Address uint32
	Timeout uint32
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("device busy at 0x%08X after %d ms", e.Address, e.Timeout)
}

// Programmer erases and programs the application region.
type Programmer struct {
	dev   Device
	clock hal.Clock
	cfg   Config
	log   logrus.FieldLogger
}

// NewProgrammer creates a programmer for dev.
func NewProgrammer(dev Device, clock hal.Clock, cfg Config) *Programmer {
	if cfg.MaxSegmentSize <= 0 {
		cfg.MaxSegmentSize = mbin.DefaultMaxSegmentSize
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.Scratch == nil {
		cfg.Scratch = inflate.NewBuffer(cfg.MaxSegmentSize)
	}

	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Programmer{
		dev:   dev,
		clock: clock,
		cfg:   cfg,
		log:   log,
	}
}

// Region returns the application region.
func (p *Programmer) Region() mbin.Region {
	return p.cfg.Region
}

// EraseApplicationArea erases every block of the application region. A
// failing block is retried once.
func (p *Programmer) EraseApplicationArea() error {
	region := p.cfg.Region

	err := p.CheckRegion()
	if err != nil {
		return err
	}

	addr := region.Start
	for {
		size := p.dev.BlockSize(addr)

		err := p.eraseBlock(addr)
		if err != nil {
			p.log.WithError(err).WithField("address", addr).Warn("erase failed, retrying")
			err = p.eraseBlock(addr)
		}
		if err != nil {
			return retcode.Wrap(opErase, retcode.ErrEraseFailed, &BlockError{
				Address: addr,
				Size:    size,
				Err:     err,
			})
		}

		next := uint64(addr) + uint64(size)
		if next >= uint64(region.End) {
			break
		}
		addr = uint32(next)
	}

	p.log.WithField("region", region.String()).Debug("application region erased")

	return nil
}

// CheckRegion checks that the erase blocks of the device tile the
// application region exactly. It does not touch flash.
func (p *Programmer) CheckRegion() error {
	region := p.cfg.Region
	if !region.Valid() {
		return retcode.New(opErase, retcode.ErrEraseFailed, "invalid application region %s", region)
	}

	addr := uint64(region.Start)
	for addr < uint64(region.End) {
		size := p.dev.BlockSize(uint32(addr))
		if size == 0 || addr+uint64(size) > uint64(region.End) {
			return retcode.New(opErase, retcode.ErrEraseFailed,
				"block at 0x%08X (%d bytes) does not fit application region %s", addr, size, region)
		}
		addr += uint64(size)
	}

	return nil
}

func (p *Programmer) eraseBlock(addr uint32) error {
	err := p.dev.Erase(addr)
	if err != nil {
		return err
	}
	return p.wait(addr)
}

// wait polls the device until it is idle or the timeout elapsed.
func (p *Programmer) wait(addr uint32) error {
	poller, ok := p.dev.(Poller)
	if !ok {
		return nil
	}

	for elapsed := uint32(0); poller.Busy(); elapsed++ {
		if elapsed >= p.cfg.PollTimeout {
			return &TimeoutError{Address: addr, Timeout: p.cfg.PollTimeout}
		}
		p.clock.DelayMS(1)
	}

	return nil
}

// Program writes every segment of a verified image. The region must have
// been erased.
func (p *Programmer) Program(img *signature.VerifiedImage, progress ProgressFunc) error {
	if img == nil || img.Summary() == nil {
		return retcode.New(opProgram, retcode.ErrProgramFailed, "no verified image")
	}

	parser := mbin.NewParser(img.Data(), mbin.Options{
		Region:         p.cfg.Region,
		MaxSegmentSize: p.cfg.MaxSegmentSize,
	})

	total := len(img.Summary().Segments)
	written := 0

	for i := 1; ; i++ {
		seg, err := parser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		data, err := seg.Data(p.cfg.Scratch)
		if err != nil {
			return err
		}

		err = p.writeSegment(seg.Address, data)
		if err != nil {
			return err
		}

		written += len(data)

		p.log.WithFields(logrus.Fields{
			"address": seg.Address,
			"size":    len(data),
		}).Debug("segment programmed")

		if progress != nil {
			progress(i, total, written)
		}
	}

	return nil
}

func (p *Programmer) writeSegment(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if !p.cfg.Region.Contains(addr, uint32(len(data))) {
		return retcode.Wrap(opProgram, retcode.ErrProgramFailed, &mbin.AddressRangeError{
			Address: addr,
			Size:    uint32(len(data)),
			Region:  p.cfg.Region,
		})
	}

	err := p.dev.Write(addr, data)
	if err == nil {
		err = p.wait(addr)
	}
	if err != nil {
		return retcode.Wrap(opProgram, retcode.ErrProgramFailed,
			fmt.Errorf("segment at 0x%08X: %w", addr, err))
	}

	if p.cfg.VerifyWrites {
		buf := make([]byte, len(data))
		err = p.dev.Read(addr, buf)
		if err != nil {
			return retcode.Wrap(opProgram, retcode.ErrProgramFailed,
				fmt.Errorf("read back segment at 0x%08X: %w", addr, err))
		}
		if !bytes.Equal(buf, data) {
			return retcode.New(opProgram, retcode.ErrProgramFailed,
				"read back mismatch for segment at 0x%08X", addr)
		}
	}

	return nil
}
