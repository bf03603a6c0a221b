// Package hal defines the hardware services the bootloader depends on, plus
// host implementations used by the simulator and tests.
package hal

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Clock provides blocking delays. It is the only suspension point of the
// bootloader.
type Clock interface {
	DelayMS(ms uint32)
}

// Indicator drives the error LED.
type Indicator interface {
	SetErrorLED(on bool)
}

// Platform transfers control away from the bootloader. On hardware neither
// call returns.
type Platform interface {
	// Reset restarts the device
	Reset()

	// Jump starts the application at entry
	Jump(entry uint32)
}

// SleepClock delays with time.Sleep.
type SleepClock struct{}

// DelayMS implements Clock.
func (SleepClock) DelayMS(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// ManualClock records delays without sleeping.
type ManualClock struct {
	// Elapsed is the sum of all delays
	Elapsed time.Duration

	// Calls is the number of delays
	Calls int
}

// DelayMS implements Clock.
func (c *ManualClock) DelayMS(ms uint32) {
	c.Elapsed += time.Duration(ms) * time.Millisecond
	c.Calls++
}

// LogIndicator logs LED changes.
type LogIndicator struct {
	Logger logrus.FieldLogger

	on     bool
	blinks int
}

// SetErrorLED implements Indicator.
func (i *LogIndicator) SetErrorLED(on bool) {
	if on && !i.on {
		i.blinks++
	}
	i.on = on

	if i.Logger != nil {
		i.Logger.WithField("led", on).Trace("error led")
	}
}

// On returns the current LED state.
func (i *LogIndicator) On() bool {
	return i.on
}

// Blinks returns the number of times the LED was switched on.
func (i *LogIndicator) Blinks() int {
	return i.blinks
}

// SimPlatform records control transfers instead of performing them.
type SimPlatform struct {
	Logger logrus.FieldLogger

	// Resets is the number of reset requests
	Resets int

	// Jumps holds the entry points of all jump requests
	Jumps []uint32
}

// Reset implements Platform.
func (p *SimPlatform) Reset() {
	p.Resets++
	if p.Logger != nil {
		p.Logger.Info("reset requested")
	}
}

// Jump implements Platform.
func (p *SimPlatform) Jump(entry uint32) {
	p.Jumps = append(p.Jumps, entry)
	if p.Logger != nil {
		p.Logger.WithField("entry", entry).Infof("jump to application at 0x%08X", entry)
	}
}
