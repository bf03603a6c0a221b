package bootloader

import (
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-mbin/flash"
	"github.com/moffa90/go-mbin/hal"
	"github.com/moffa90/go-mbin/inflate"
	"github.com/moffa90/go-mbin/mbin"
	"github.com/moffa90/go-mbin/retcode"
	"github.com/moffa90/go-mbin/signature"
	"github.com/moffa90/go-mbin/store"
)

// Board bundles the hardware the bootloader runs on.
type Board struct {
	// Application is the region holding the application
	Application mbin.Region

	// Flash is the flash holding the application region
	Flash flash.Device

	// Clock provides delays
	Clock hal.Clock

	// LED is the error indicator
	LED hal.Indicator

	// Platform resets the device and starts the application
	Platform hal.Platform

	// Store holds the persistent records
	Store store.Store

	// Images is the slot holding pending images
	Images fs.FS
}

// Outcome is the result of a boot.
type Outcome struct {
	// Code is the result of the update, OK when there was nothing to do
	Code retcode.Code

	// State is the terminal state
	State State

	// Attempts is the attempt counter of the last update cycle
	Attempts int

	// Updated is set when a new application was programmed
	Updated bool

	// Halted is set when the device stopped in the blink loop
	Halted bool

	// Entry is the address control was transferred to (Run only)
	Entry uint32

	// Err is the failure behind Code
	Err error
}

// Bootloader drives the update state machine.
type Bootloader struct {
	board   Board
	config  Config
	log     logrus.FieldLogger
	scratch *inflate.Buffer
	prog    *flash.Programmer

	started time.Time
	attempt int
	total   int
}

// New creates a new Bootloader for the given board and options.
//
// Example:
//
//	bl := bootloader.New(board,
//	    bootloader.WithPublicKey(pub),
//	    bootloader.WithLogger(logger),
//	)
//	out := bl.Run()
func New(board Board, opts ...Option) *Bootloader {
	if board.Flash == nil || board.Clock == nil || board.LED == nil ||
		board.Platform == nil || board.Store == nil || board.Images == nil {
		panic("board is incomplete")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	scratch := inflate.NewBuffer(cfg.MaxSegmentSize)

	return &Bootloader{
		board:   board,
		config:  cfg,
		log:     log,
		scratch: scratch,
		prog: flash.NewProgrammer(board.Flash, board.Clock, flash.Config{
			Region:         board.Application,
			MaxSegmentSize: cfg.MaxSegmentSize,
			Scratch:        scratch,
			PollTimeout:    cfg.PollTimeout,
			VerifyWrites:   cfg.VerifyWrites,
			Logger:         log,
		}),
	}
}

// Run is the bootloader entry point. It records the bootloader version,
// processes a pending update and then starts the application, resets the
// device after an update if configured, or stays halted.
func (b *Bootloader) Run() *Outcome {
	b.writeVersion()

	out := b.CheckUpdate()
	if out.Halted {
		return out
	}

	if out.Updated && b.config.ResetAfterUpdate {
		b.log.Info("update complete, resetting")
		b.board.Platform.Reset()
		return out
	}

	out.Entry = b.board.Application.Start
	b.board.Platform.Jump(out.Entry)

	return out
}

// CheckUpdate processes the pending update, if any. It never transfers
// control away from the bootloader.
func (b *Bootloader) CheckUpdate() *Outcome {
	path, ok, err := b.board.Store.ReadString(store.KeyUpdateImage)
	if err != nil {
		b.log.WithError(err).Warn("failed to read update marker, booting application")
		return &Outcome{Code: retcode.OK, State: StateBooting, Err: err}
	}
	if !ok {
		if b.applicationErased() {
			return b.haltErased()
		}
		b.log.Debug("no pending update")
		return &Outcome{Code: retcode.OK, State: StateBooting}
	}

	log := b.log
	b.log = log.WithFields(logrus.Fields{
		"cycle": uuid.NewString(),
		"image": path,
	})
	defer func() { b.log = log }()

	b.started = time.Now()
	b.log.Info("update pending")

	for {
		out := b.updateCycle(path)
		if out.State != StateRetry {
			return out
		}
	}
}

// updateCycle runs one attempt on the pending image.
func (b *Bootloader) updateCycle(path string) *Outcome {
	b.attempt = 0
	b.total = 0
	b.enter(StateSearching)

	attempts, err := b.attempts()
	if err != nil {
		return b.updateFailed(err, attempts)
	}

	if attempts >= b.config.MaxUpdateAttempts {
		return b.updateFailed(retcode.Wrap("check update", retcode.ErrTooManyAttempts, &BudgetError{
			Attempts: attempts,
			Max:      b.config.MaxUpdateAttempts,
		}), attempts)
	}

	attempts++
	err = b.board.Store.WriteInt(store.KeyUpdateAttempts, attempts)
	if err != nil {
		// without a persisted counter the budget cannot be enforced
		return b.updateFailed(retcode.Wrap("check update", retcode.ErrTooManyAttempts, &StoreError{
			Op:  "write",
			Key: store.KeyUpdateAttempts,
			Err: err,
		}), attempts-1)
	}

	b.attempt = attempts
	b.log = b.log.WithField("attempt", attempts)

	err = b.LoadAndFlash(path)
	if err == nil {
		return b.updateSucceeded(attempts)
	}

	code := retcode.Of(err)
	if code.Retryable() && attempts < b.config.MaxUpdateAttempts {
		b.log.WithError(err).WithField("code", code.String()).Warn("update failed, retrying")
		b.enter(StateRetry)
		return &Outcome{Code: code, State: StateRetry, Attempts: attempts, Err: err}
	}

	return b.updateFailed(err, attempts)
}

// attempts reads the attempt counter. An unreadable counter counts as an
// exhausted budget.
func (b *Bootloader) attempts() (int, error) {
	n, _, err := b.board.Store.ReadInt(store.KeyUpdateAttempts)
	if err != nil {
		return b.config.MaxUpdateAttempts, retcode.Wrap("check update", retcode.ErrTooManyAttempts, &StoreError{
			Op:  "read",
			Key: store.KeyUpdateAttempts,
			Err: err,
		})
	}
	return n, nil
}

// LoadAndFlash parses, verifies and programs the image at path. Flash is
// only touched once the image has been fully parsed and verified. Paths are
// relative to the image slot; a leading slash is ignored.
func (b *Bootloader) LoadAndFlash(path string) error {
	err := b.prog.CheckRegion()
	if err != nil {
		return err
	}

	data, err := fs.ReadFile(b.board.Images, strings.TrimPrefix(path, "/"))
	if err != nil {
		return retcode.Wrap("load image", retcode.ErrFileNotFound, err)
	}
	if len(data) == 0 {
		return retcode.New("load image", retcode.ErrFileNotFound, "image %s is empty", path)
	}

	b.enter(StateParsing)

	sum, err := mbin.Parse(data, mbin.Options{
		Region:         b.board.Application,
		MaxSegmentSize: b.config.MaxSegmentSize,
	}, b.scratch)
	if err != nil {
		return fmt.Errorf("image %s: %w", path, err)
	}
	b.total = len(sum.Segments)

	b.log.WithFields(logrus.Fields{
		"segments": len(sum.Segments),
		"skipped":  sum.Skipped,
		"size":     sum.PayloadBytes,
	}).Debug("image parsed")

	b.enter(StateVerifying)

	digest, ok, err := b.board.Store.ReadBytes(store.KeyImageSignature)
	if err != nil {
		return retcode.Wrap("verify image", retcode.ErrFileVerificationFailed, &StoreError{
			Op:  "read",
			Key: store.KeyImageSignature,
			Err: err,
		})
	}
	if ok && digest == nil {
		// a present but empty record is a malformed digest, not a missing one
		digest = []byte{}
	}

	verifier := signature.Verifier{
		PublicKey: b.config.PublicKey,
		Digest:    digest,
	}
	img, err := verifier.Verify(data, sum)
	if err != nil {
		return fmt.Errorf("image %s: %w", path, err)
	}

	b.log.WithFields(logrus.Fields{
		"signed": img.Signed(),
		"stored": img.StoredDigest(),
	}).Debug("image verified")

	b.enter(StateErasing)

	err = b.board.Store.WriteInt(store.KeyApplicationErased, 1)
	if err != nil {
		return retcode.Wrap("erase application", retcode.ErrEraseFailed, &StoreError{
			Op:  "write",
			Key: store.KeyApplicationErased,
			Err: err,
		})
	}

	err = b.prog.EraseApplicationArea()
	if err != nil {
		return err
	}

	b.enter(StateProgramming)

	return b.prog.Program(img, func(segment, total, written int) {
		b.reportProgress(Progress{
			State:         StateProgramming,
			Segment:       segment,
			TotalSegments: total,
			BytesWritten:  written,
			Attempt:       b.attempt,
			ElapsedTime:   b.elapsed(),
		})
	})
}

var updateKeys = []string{
	store.KeyUpdateImage,
	store.KeyUpdateAttempts,
	store.KeyImageSignature,
	store.KeyBootloaderError,
	store.KeyApplicationErased,
}

func (b *Bootloader) updateSucceeded(attempts int) *Outcome {
	for _, key := range updateKeys {
		err := b.board.Store.Delete(key)
		if err != nil {
			b.log.WithError(err).WithField("key", key).Warn("failed to delete record")
		}
	}

	b.enter(StateBooting)
	b.log.WithField("elapsed", b.elapsed()).Info("update complete")

	return &Outcome{
		Code:     retcode.OK,
		State:    StateBooting,
		Attempts: attempts,
		Updated:  true,
	}
}

// updateFailed records and signals a failed update. If the application
// region has been erased there is nothing left to boot and the device halts
// blinking the code; otherwise the existing application is kept.
func (b *Bootloader) updateFailed(err error, attempts int) *Outcome {
	code := retcode.Of(err)

	werr := b.board.Store.WriteInt(store.KeyBootloaderError, int(code))
	if werr != nil {
		b.log.WithError(werr).Warn("failed to record error")
	}

	erased := b.applicationErased()

	b.enter(StateFailed)

	out := &Outcome{
		Code:     code,
		State:    StateFailed,
		Attempts: attempts,
		Err:      err,
	}

	log := b.log.WithError(err).WithField("code", code.String())

	if erased {
		log.Error("update failed with application erased, halting")
		out.Halted = true
		hal.HaltBlinking(b.board.LED, b.board.Clock, code, b.config.HaltCycles)
		return out
	}

	log.Warn("update failed, keeping application")
	hal.BlinkErrorCode(b.board.LED, b.board.Clock, code)

	return out
}

// applicationErased reports whether the application region may have been
// erased. An unreadable marker counts as erased.
func (b *Bootloader) applicationErased() bool {
	erased, _, err := b.board.Store.ReadInt(store.KeyApplicationErased)
	if err != nil {
		b.log.WithError(err).Warn("failed to read erase marker")
		return true
	}
	return erased != 0
}

// haltErased stops a device whose application was erased by an update that
// is no longer pending. The last recorded code is blinked.
func (b *Bootloader) haltErased() *Outcome {
	code := retcode.ErrFileNotFound
	stored, ok, err := b.board.Store.ReadInt(store.KeyBootloaderError)
	if err == nil && ok && stored > 0 && stored <= int(retcode.MaxCode) {
		code = retcode.Code(stored)
	}

	b.enter(StateFailed)
	b.log.WithField("code", code.String()).Error("application erased and no update pending, halting")

	hal.HaltBlinking(b.board.LED, b.board.Clock, code, b.config.HaltCycles)

	return &Outcome{
		Code:   code,
		State:  StateFailed,
		Halted: true,
		Err:    retcode.New("check update", code, "application erased and no update pending"),
	}
}

func (b *Bootloader) writeVersion() {
	if b.config.Version == "" {
		return
	}

	current, ok, err := b.board.Store.ReadString(store.KeyBootloaderVersion)
	if err == nil && ok && current == b.config.Version {
		return
	}

	err = b.board.Store.WriteString(store.KeyBootloaderVersion, b.config.Version)
	if err != nil {
		b.log.WithError(err).Warn("failed to record bootloader version")
	}
}

// enter reports a state change.
func (b *Bootloader) enter(state State) {
	b.log.WithField("state", state.String()).Debug("state changed")

	b.reportProgress(Progress{
		State:         state,
		TotalSegments: b.total,
		Attempt:       b.attempt,
		ElapsedTime:   b.elapsed(),
	})
}

func (b *Bootloader) elapsed() time.Duration {
	if b.started.IsZero() {
		return 0
	}
	return time.Since(b.started)
}

// reportProgress calls the progress callback if configured.
func (b *Bootloader) reportProgress(progress Progress) {
	if b.config.ProgressCallback != nil {
		b.config.ProgressCallback(progress)
	}
}
