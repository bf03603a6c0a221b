package bootloader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-mbin/flash"
	"github.com/moffa90/go-mbin/hal"
	"github.com/moffa90/go-mbin/inflate"
	"github.com/moffa90/go-mbin/mbin"
	"github.com/moffa90/go-mbin/retcode"
	"github.com/moffa90/go-mbin/signature"
	"github.com/moffa90/go-mbin/store"
)

const (
	flashBase = 0x08000000
	flashSize = 0x20000
	blockSize = 0x4000
	appStart  = 0x08008000
	appEnd    = 0x08020000
	appOffset = appStart - flashBase
	imageName = "update.mbin"
)

var testRegion = mbin.Region{Start: appStart, End: appEnd}

// oldApp is the application installed before an update.
var oldApp = bytes.Repeat([]byte{0x0A}, 64)

type fixture struct {
	region   mbin.Region
	dev      *flash.MemoryDevice
	clock    *hal.ManualClock
	led      *hal.LogIndicator
	platform *hal.SimPlatform
	store    *store.Memory
	images   fstest.MapFS
	key      *signature.Key
	hook     *test.Hook
	logger   *logrus.Logger
	states   []State
	progress []Progress
}

func newFixture(t *testing.T) *fixture {
	key, err := signature.GenerateKey(bytes.NewReader(bytes.Repeat([]byte{0x42}, 32)))
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	dev := flash.NewMemoryDevice(flashBase, flashSize, blockSize)
	require.NoError(t, dev.Load(appStart, oldApp))

	return &fixture{
		region:   testRegion,
		dev:      dev,
		clock:    &hal.ManualClock{},
		led:      &hal.LogIndicator{},
		platform: &hal.SimPlatform{},
		store:    store.NewMemory(),
		images:   fstest.MapFS{},
		key:      key,
		hook:     hook,
		logger:   logger,
	}
}

func (f *fixture) bootloader(opts ...Option) *Bootloader {
	f.states = nil
	f.progress = nil

	base := []Option{
		WithPublicKey(f.key.Public()),
		WithHaltCycles(1),
		WithLogger(f.logger),
		WithProgressCallback(func(p Progress) {
			f.progress = append(f.progress, p)
			if n := len(f.states); n == 0 || f.states[n-1] != p.State {
				f.states = append(f.states, p.State)
			}
		}),
	}

	return New(Board{
		Application: f.region,
		Flash:       f.dev,
		Clock:       f.clock,
		LED:         f.led,
		Platform:    f.platform,
		Store:       f.store,
		Images:      f.images,
	}, append(base, opts...)...)
}

func (f *fixture) stage(t *testing.T, img []byte) {
	f.images[imageName] = &fstest.MapFile{Data: img}
	require.NoError(t, f.store.WriteString(store.KeyUpdateImage, imageName))
}

func (f *fixture) appBytes(n int) []byte {
	return f.dev.Bytes()[appOffset : appOffset+n]
}

func (f *fixture) record(t *testing.T, key string) (int, bool) {
	n, ok, err := f.store.ReadInt(key)
	require.NoError(t, err)
	return n, ok
}

func signedImage(t *testing.T, key *signature.Key, fn func(b *mbin.Builder)) []byte {
	b := mbin.NewBuilder(0)
	fn(b)
	img, err := b.FinishSigned(key)
	require.NoError(t, err)
	return img
}

func unsignedImage(t *testing.T, fn func(b *mbin.Builder)) []byte {
	b := mbin.NewBuilder(0)
	fn(b)
	img, err := b.Finish()
	require.NoError(t, err)
	return img
}

func segmentValue(addr uint32, data []byte) []byte {
	return append(binary.LittleEndian.AppendUint32(nil, addr), data...)
}

func assertUntouched(t *testing.T, f *fixture) {
	assert.Equal(t, 0, f.dev.Erases)
	assert.Equal(t, 0, f.dev.Writes)
	assert.Equal(t, oldApp, f.appBytes(len(oldApp)))
}

func assertKeptApplication(t *testing.T, f *fixture, out *Outcome, code retcode.Code) {
	assert.Equal(t, code, out.Code, "%v", out.Err)
	assert.Equal(t, StateFailed, out.State)
	assert.False(t, out.Updated)
	assert.False(t, out.Halted)
	assert.Equal(t, uint32(appStart), out.Entry)
	assert.Equal(t, []uint32{appStart}, f.platform.Jumps)

	stored, ok := f.record(t, store.KeyBootloaderError)
	assert.True(t, ok)
	assert.Equal(t, int(code), stored)
	assert.Equal(t, int(code), f.led.Blinks())

	assertUntouched(t, f)
}

func TestRunWithoutUpdate(t *testing.T) {
	f := newFixture(t)

	out := f.bootloader(WithVersion("1.0.0")).Run()

	assert.Equal(t, retcode.OK, out.Code)
	assert.Equal(t, StateBooting, out.State)
	assert.False(t, out.Updated)
	assert.Equal(t, []uint32{appStart}, f.platform.Jumps)
	assertUntouched(t, f)

	version, ok, err := f.store.ReadString(store.KeyBootloaderVersion)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1.0.0", version)
}

func TestScenarioEmptyImage(t *testing.T) {
	f := newFixture(t)
	f.stage(t, []byte{})

	out := f.bootloader().Run()

	assertKeptApplication(t, f, out, retcode.ErrFileNotFound)
	assert.Equal(t, 1, out.Attempts)
}

func TestMissingImage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.WriteString(store.KeyUpdateImage, "gone.mbin"))

	out := f.bootloader().Run()

	assertKeptApplication(t, f, out, retcode.ErrFileNotFound)
}

func TestScenarioValidUpdate(t *testing.T) {
	f := newFixture(t)
	payload := bytes.Repeat([]byte{0xA5}, 100)

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appStart+0x100, payload)
	}))
	require.NoError(t, f.store.WriteInt(store.KeyBootloaderError, 3))

	out := f.bootloader().Run()

	assert.Equal(t, retcode.OK, out.Code, "%v", out.Err)
	assert.Equal(t, StateBooting, out.State)
	assert.True(t, out.Updated)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, []uint32{appStart}, f.platform.Jumps)

	assert.Equal(t, payload, f.dev.Bytes()[appOffset+0x100:appOffset+0x100+100])

	// old application erased
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, len(oldApp)), f.appBytes(len(oldApp)))

	assert.Equal(t, []string{}, f.store.Keys())

	assert.Equal(t, []State{
		StateSearching,
		StateParsing,
		StateVerifying,
		StateErasing,
		StateProgramming,
		StateBooting,
	}, f.states)

	last := f.progress[len(f.progress)-2]
	assert.Equal(t, StateProgramming, last.State)
	assert.Equal(t, 1, last.Segment)
	assert.Equal(t, 1, last.TotalSegments)
	assert.Equal(t, 100, last.BytesWritten)
	assert.Equal(t, 1, last.Attempt)

	assert.Equal(t, 0, f.led.Blinks())
}

func TestScenarioForgedSignature(t *testing.T) {
	f := newFixture(t)

	img := signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appStart, bytes.Repeat([]byte{0xA5}, 100))
	})
	img[len(img)-1] ^= 0x01
	f.stage(t, img)

	out := f.bootloader().Run()

	assertKeptApplication(t, f, out, retcode.ErrFileVerificationFailed)
	assert.NotContains(t, f.states, StateErasing)
}

func TestScenarioOversizedSegment(t *testing.T) {
	f := newFixture(t)

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddField(mbin.FieldTypeSWSegment, segmentValue(appStart, make([]byte, mbin.DefaultMaxSegmentSize+1)))
	}))

	out := f.bootloader().Run()

	assertKeptApplication(t, f, out, retcode.ErrFileCorrupt)
	assert.NotContains(t, f.states, StateVerifying)
}

func TestScenarioDecompressionOverflow(t *testing.T) {
	f := newFixture(t)

	stream, err := inflate.Deflate(make([]byte, 40000))
	require.NoError(t, err)

	value := binary.LittleEndian.AppendUint32(nil, appStart)
	value = binary.LittleEndian.AppendUint32(value, 100)
	value = append(value, stream...)

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddField(mbin.FieldTypeSWSegmentDeflated, value)
	}))

	out := f.bootloader().Run()

	assertKeptApplication(t, f, out, retcode.ErrFileDecompression)
}

func TestSegmentOutsideRegion(t *testing.T) {
	f := newFixture(t)

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(flashBase, []byte{0xEE})
	}))

	out := f.bootloader().Run()

	assertKeptApplication(t, f, out, retcode.ErrInvalidFile)
	assert.Equal(t, byte(0xFF), f.dev.Bytes()[0])
}

func TestUnsignedImage(t *testing.T) {
	img := unsignedImage(t, func(b *mbin.Builder) {
		b.AddSegment(appStart, []byte{1, 2, 3, 4})
	})

	t.Run("without digest", func(t *testing.T) {
		f := newFixture(t)
		f.stage(t, img)

		out := f.bootloader().Run()
		assertKeptApplication(t, f, out, retcode.ErrSignatureNotFound)
	})

	t.Run("with stored digest", func(t *testing.T) {
		f := newFixture(t)
		f.stage(t, img)
		require.NoError(t, f.store.WriteBytes(store.KeyImageSignature, signature.Digest(img)))

		out := f.bootloader().Run()
		assert.Equal(t, retcode.OK, out.Code, "%v", out.Err)
		assert.Equal(t, []byte{1, 2, 3, 4}, f.appBytes(4))
		assert.False(t, f.store.Has(store.KeyImageSignature))
	})

	t.Run("with empty stored digest", func(t *testing.T) {
		f := newFixture(t)
		f.stage(t, img)
		require.NoError(t, f.store.WriteBytes(store.KeyImageSignature, []byte{}))

		out := f.bootloader().Run()
		assertKeptApplication(t, f, out, retcode.ErrSignatureNotFound)
	})

	t.Run("with wrong stored digest", func(t *testing.T) {
		f := newFixture(t)
		f.stage(t, img)
		require.NoError(t, f.store.WriteBytes(store.KeyImageSignature, signature.Digest([]byte("other"))))

		out := f.bootloader().Run()
		assertKeptApplication(t, f, out, retcode.ErrFileVerificationFailed)
	})
}

func TestSignedImageWithShortStoredDigest(t *testing.T) {
	f := newFixture(t)
	img := signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appStart, []byte{1})
	})
	f.stage(t, img)
	require.NoError(t, f.store.WriteBytes(store.KeyImageSignature, signature.Digest(img)[:31]))

	out := f.bootloader().Run()
	assertKeptApplication(t, f, out, retcode.ErrSignatureNotFound)
}

func TestSignedImageWithoutKey(t *testing.T) {
	f := newFixture(t)
	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appStart, []byte{1})
	}))

	out := f.bootloader(WithPublicKey(nil)).Run()
	assertKeptApplication(t, f, out, retcode.ErrFileVerificationFailed)
}

func TestSkippedFieldsDoNotTouchFlash(t *testing.T) {
	f := newFixture(t)

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddField(mbin.FieldTypeFWSegment, bytes.Repeat([]byte{0x11}, 512))
		b.AddField(mbin.FieldTypeBCFBoardConfig, []byte("board"))
		b.AddSegment(appStart, []byte{0x22, 0x22})
		b.AddField(mbin.FieldTypeBCFRegdom, []byte("US"))
	}))

	out := f.bootloader().Run()
	require.Equal(t, retcode.OK, out.Code, "%v", out.Err)

	app := f.dev.Bytes()[appOffset:]
	assert.Equal(t, []byte{0x22, 0x22}, app[:2])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, len(app)-2), app[2:])
	assert.Equal(t, 1, f.dev.Writes)
}

func TestCompressedUpdate(t *testing.T) {
	f := newFixture(t)
	payload := bytes.Repeat([]byte("mbin"), 20000)

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddCompressedSegment(appStart, payload)
	}))

	out := f.bootloader().Run()
	require.Equal(t, retcode.OK, out.Code, "%v", out.Err)
	assert.Equal(t, payload, f.appBytes(len(payload)))
}

func TestAttemptBudget(t *testing.T) {
	valid := func(t *testing.T, f *fixture) []byte {
		return signedImage(t, f.key, func(b *mbin.Builder) {
			b.AddSegment(appStart, []byte{1, 2, 3})
		})
	}

	t.Run("exhausted budget keeps application", func(t *testing.T) {
		f := newFixture(t)
		f.stage(t, valid(t, f))
		require.NoError(t, f.store.WriteInt(store.KeyUpdateAttempts, DefaultMaxUpdateAttempts))

		out := f.bootloader().Run()

		assertKeptApplication(t, f, out, retcode.ErrTooManyAttempts)
		assert.Equal(t, []State{StateSearching, StateFailed}, f.states)

		n, _ := f.record(t, store.KeyUpdateAttempts)
		assert.Equal(t, DefaultMaxUpdateAttempts, n)

		var be *BudgetError
		assert.True(t, errors.As(out.Err, &be))
	})

	t.Run("exhausted budget with erased application halts", func(t *testing.T) {
		f := newFixture(t)
		f.stage(t, valid(t, f))
		require.NoError(t, f.store.WriteInt(store.KeyUpdateAttempts, 3))
		require.NoError(t, f.store.WriteInt(store.KeyApplicationErased, 1))

		out := f.bootloader(WithMaxUpdateAttempts(3), WithHaltCycles(2)).Run()

		assert.Equal(t, retcode.ErrTooManyAttempts, out.Code)
		assert.True(t, out.Halted)
		assert.Empty(t, f.platform.Jumps)
		assert.Equal(t, 2*int(retcode.ErrTooManyAttempts), f.led.Blinks())
		assert.Equal(t, 0, f.dev.Erases)
	})

	t.Run("corrupt image is tried once per boot", func(t *testing.T) {
		f := newFixture(t)
		img := valid(t, f)
		img[len(img)-10] ^= 0xFF
		f.stage(t, img)

		for i := 1; i <= 3; i++ {
			out := f.bootloader(WithMaxUpdateAttempts(3)).Run()
			assert.Equal(t, retcode.ErrFileVerificationFailed, out.Code)
			assert.Equal(t, i, out.Attempts)
		}

		out := f.bootloader(WithMaxUpdateAttempts(3)).Run()
		assert.Equal(t, retcode.ErrTooManyAttempts, out.Code)
		assert.NotContains(t, f.states, StateParsing)

		n, _ := f.record(t, store.KeyUpdateAttempts)
		assert.Equal(t, 3, n)
		assertUntouched(t, f)
		assert.Len(t, f.platform.Jumps, 4)
	})

	t.Run("unreadable counter counts as exhausted", func(t *testing.T) {
		f := newFixture(t)
		f.stage(t, valid(t, f))
		require.NoError(t, f.store.WriteString(store.KeyUpdateAttempts, "many"))

		out := f.bootloader().Run()
		assertKeptApplication(t, f, out, retcode.ErrTooManyAttempts)
	})
}

func TestOverlappingSegments(t *testing.T) {
	f := newFixture(t)

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appStart, []byte{1, 2, 3, 4})
		b.AddSegment(appStart+2, []byte{5, 6})
	}))

	out := f.bootloader(WithMaxUpdateAttempts(3)).Run()

	assertKeptApplication(t, f, out, retcode.ErrInvalidFile)
	assert.NotContains(t, f.states, StateVerifying)
	assert.False(t, f.store.Has(store.KeyApplicationErased))

	var overlap *mbin.OverlapError
	assert.True(t, errors.As(out.Err, &overlap))
}

func TestRegionNotTiledByBlocks(t *testing.T) {
	f := newFixture(t)
	f.region = mbin.Region{Start: appStart, End: appEnd - blockSize/2}

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appStart, []byte{1, 2, 3})
	}))

	out := f.bootloader(WithMaxUpdateAttempts(3)).Run()

	assertKeptApplication(t, f, out, retcode.ErrEraseFailed)
	assert.Equal(t, 3, out.Attempts)
	assert.False(t, f.store.Has(store.KeyApplicationErased))
}

func TestErasedApplicationWithoutUpdate(t *testing.T) {
	t.Run("halts with recorded code", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.WriteInt(store.KeyApplicationErased, 1))
		require.NoError(t, f.store.WriteInt(store.KeyBootloaderError, int(retcode.ErrProgramFailed)))

		out := f.bootloader().Run()

		assert.Equal(t, retcode.ErrProgramFailed, out.Code)
		assert.Equal(t, StateFailed, out.State)
		assert.True(t, out.Halted)
		assert.Empty(t, f.platform.Jumps)
		assert.Equal(t, int(retcode.ErrProgramFailed), f.led.Blinks())
		assert.Equal(t, 0, f.dev.Erases)
	})

	t.Run("halts without recorded code", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.WriteInt(store.KeyApplicationErased, 1))

		out := f.bootloader().Run()

		assert.Equal(t, retcode.ErrFileNotFound, out.Code)
		assert.True(t, out.Halted)
		assert.Empty(t, f.platform.Jumps)
	})

	t.Run("cleared marker boots", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.WriteInt(store.KeyApplicationErased, 0))

		out := f.bootloader().Run()

		assert.Equal(t, retcode.OK, out.Code)
		assert.False(t, out.Halted)
		assert.Equal(t, []uint32{appStart}, f.platform.Jumps)
	})
}

func TestAbsoluteImagePath(t *testing.T) {
	f := newFixture(t)
	payload := []byte{0xAB, 0xCD}

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appStart, payload)
	}))
	require.NoError(t, f.store.WriteString(store.KeyUpdateImage, "/"+imageName))

	out := f.bootloader().Run()

	assert.Equal(t, retcode.OK, out.Code, "%v", out.Err)
	assert.True(t, out.Updated)
	assert.Equal(t, payload, f.appBytes(len(payload)))
}

func TestIdempotentReject(t *testing.T) {
	f := newFixture(t)

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appEnd-1, []byte{1, 2})
	}))

	first := f.bootloader().Run()
	second := f.bootloader().Run()

	assert.Equal(t, retcode.ErrInvalidFile, first.Code)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Err.Error(), second.Err.Error())
	assert.Equal(t, 2, second.Attempts)
	assertUntouched(t, f)
}

func TestHardwareRetry(t *testing.T) {
	f := newFixture(t)
	payload := []byte{0xC0, 0xFF, 0xEE}

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appStart, payload)
	}))

	failures := 2
	f.dev.EraseFault = func(addr uint32) error {
		if failures > 0 {
			failures--
			return errors.New("erase timeout")
		}
		return nil
	}

	out := f.bootloader().Run()

	assert.Equal(t, retcode.OK, out.Code, "%v", out.Err)
	assert.True(t, out.Updated)
	assert.Equal(t, 2, out.Attempts)
	assert.Contains(t, f.states, StateRetry)
	assert.Equal(t, payload, f.appBytes(len(payload)))
	assert.Equal(t, []uint32{appStart}, f.platform.Jumps)
}

func TestHardwareFailureHalts(t *testing.T) {
	f := newFixture(t)

	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appStart, []byte{1, 2, 3})
	}))
	f.dev.WriteFault = func(uint32, []byte) error {
		return errors.New("program error")
	}

	out := f.bootloader(WithMaxUpdateAttempts(3)).Run()

	assert.Equal(t, retcode.ErrProgramFailed, out.Code)
	assert.Equal(t, StateFailed, out.State)
	assert.True(t, out.Halted)
	assert.Equal(t, 3, out.Attempts)
	assert.Empty(t, f.platform.Jumps)
	assert.Equal(t, 3*(appEnd-appStart)/blockSize, f.dev.Erases)
	assert.Equal(t, int(retcode.ErrProgramFailed), f.led.Blinks())

	erased, ok := f.record(t, store.KeyApplicationErased)
	assert.True(t, ok)
	assert.Equal(t, 1, erased)

	code, _ := f.record(t, store.KeyBootloaderError)
	assert.Equal(t, int(retcode.ErrProgramFailed), code)

	// the next boot finds the budget spent and nothing to boot
	f.led = &hal.LogIndicator{}
	out = f.bootloader(WithMaxUpdateAttempts(3)).Run()
	assert.Equal(t, retcode.ErrTooManyAttempts, out.Code)
	assert.True(t, out.Halted)
	assert.Empty(t, f.platform.Jumps)
}

func TestResetAfterUpdate(t *testing.T) {
	f := newFixture(t)
	f.stage(t, signedImage(t, f.key, func(b *mbin.Builder) {
		b.AddSegment(appStart, []byte{1})
	}))

	out := f.bootloader(WithResetAfterUpdate(true)).Run()

	assert.Equal(t, retcode.OK, out.Code)
	assert.Equal(t, 1, f.platform.Resets)
	assert.Empty(t, f.platform.Jumps)
	assert.Zero(t, out.Entry)
}

func TestCycleLogging(t *testing.T) {
	f := newFixture(t)
	f.stage(t, []byte{})

	f.bootloader().Run()

	var cycles []interface{}
	for _, e := range f.hook.AllEntries() {
		if c, ok := e.Data["cycle"]; ok {
			cycles = append(cycles, c)
		}
	}
	require.NotEmpty(t, cycles)
	for _, c := range cycles {
		assert.Equal(t, cycles[0], c)
	}

	last := f.hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, last.Level)
	assert.Equal(t, "BOOTLOADER_ERR_FILE_NOT_FOUND", last.Data["code"])
}

func TestNewPanicsOnIncompleteBoard(t *testing.T) {
	assert.Panics(t, func() {
		New(Board{})
	})
}
