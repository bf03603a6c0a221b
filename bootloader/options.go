package bootloader

import (
	"crypto/ed25519"

	"github.com/sirupsen/logrus"

	"github.com/moffa90/go-mbin/flash"
	"github.com/moffa90/go-mbin/mbin"
)

// DefaultMaxUpdateAttempts is the default attempt budget of a pending image.
const DefaultMaxUpdateAttempts = 10

// Config holds the bootloader configuration.
type Config struct {
	// ProgressCallback is called on every state change and programmed segment (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger logrus.FieldLogger

	// MaxSegmentSize is the largest accepted segment and the scratch buffer size
	MaxSegmentSize int

	// MaxUpdateAttempts is the number of update cycles a pending image gets
	MaxUpdateAttempts int

	// PublicKey verifies signed images (optional)
	PublicKey ed25519.PublicKey

	// ResetAfterUpdate resets the device after a successful update instead
	// of jumping to the application
	ResetAfterUpdate bool

	// HaltCycles bounds the blink loop of a halted device; zero blinks forever
	HaltCycles int

	// PollTimeout is the flash busy wait limit in milliseconds
	PollTimeout uint32

	// VerifyWrites reads back every programmed segment
	VerifyWrites bool

	// Version is written to the store when it differs (optional)
	Version string
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		MaxSegmentSize:    mbin.DefaultMaxSegmentSize,
		MaxUpdateAttempts: DefaultMaxUpdateAttempts,
		PollTimeout:       flash.DefaultPollTimeout,
		VerifyWrites:      true,
	}
}

// Option is a functional option for configuring the Bootloader.
type Option func(*Config)

// WithProgressCallback sets a callback function to track update progress.
//
// Example:
//
//	bl := bootloader.New(board,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%s %d/%d\n", p.State, p.Segment, p.TotalSegments)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the bootloader operations.
//
// Example:
//
//	bl := bootloader.New(board, bootloader.WithLogger(logrus.StandardLogger()))
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMaxSegmentSize sets the largest accepted segment. Values outside of
// what a field can carry are ignored.
func WithMaxSegmentSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= mbin.MaxFieldLength-mbin.DeflatedPrefixSize {
			c.MaxSegmentSize = size
		}
	}
}

// WithMaxUpdateAttempts sets the attempt budget of a pending image.
//
// Example:
//
//	bl := bootloader.New(board, bootloader.WithMaxUpdateAttempts(3))
func WithMaxUpdateAttempts(attempts int) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.MaxUpdateAttempts = attempts
		}
	}
}

// WithPublicKey sets the key that signed images must verify against.
func WithPublicKey(key ed25519.PublicKey) Option {
	return func(c *Config) {
		c.PublicKey = key
	}
}

// WithResetAfterUpdate resets the device after a successful update.
func WithResetAfterUpdate(reset bool) Option {
	return func(c *Config) {
		c.ResetAfterUpdate = reset
	}
}

// WithHaltCycles bounds the blink loop of a halted device. It is meant for
// simulation and tests.
func WithHaltCycles(cycles int) Option {
	return func(c *Config) {
		if cycles >= 0 {
			c.HaltCycles = cycles
		}
	}
}

// WithPollTimeout sets the flash busy wait limit in milliseconds.
func WithPollTimeout(ms uint32) Option {
	return func(c *Config) {
		if ms > 0 {
			c.PollTimeout = ms
		}
	}
}

// WithVerifyWrites enables or disables read back of programmed segments.
// Default is true.
func WithVerifyWrites(verify bool) Option {
	return func(c *Config) {
		c.VerifyWrites = verify
	}
}

// WithVersion sets the bootloader version recorded in the store.
func WithVersion(version string) Option {
	return func(c *Config) {
		c.Version = version
	}
}
