package hal

import "github.com/moffa90/go-mbin/retcode"

// Blink timing in milliseconds.
const (
	BlinkOnMS    = 100
	BlinkOffMS   = 100
	BlinkPauseMS = 1000
)

// BlinkErrorCode blinks the error LED once per unit of the code value, so
// the code can be read off the device.
func BlinkErrorCode(ind Indicator, clock Clock, code retcode.Code) {
	for i := 0; i < int(code); i++ {
		ind.SetErrorLED(true)
		clock.DelayMS(BlinkOnMS)
		ind.SetErrorLED(false)
		clock.DelayMS(BlinkOffMS)
	}
}

// HaltBlinking repeats the error code with a pause between rounds. It runs
// forever when cycles is zero.
func HaltBlinking(ind Indicator, clock Clock, code retcode.Code, cycles int) {
	for i := 0; cycles == 0 || i < cycles; i++ {
		BlinkErrorCode(ind, clock, code)
		clock.DelayMS(BlinkPauseMS)
	}
}
