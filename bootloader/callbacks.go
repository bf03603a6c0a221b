package bootloader

import (
	"fmt"
	"time"
)

// State is a state of the update state machine.
type State int

// States.
const (
	// StateSearching looks up the pending image and checks the attempt budget
	StateSearching State = iota

	// StateParsing validates the structure of the image
	StateParsing

	// StateVerifying checks integrity and authenticity
	StateVerifying

	// StateErasing erases the application region
	StateErasing

	// StateProgramming writes the segments
	StateProgramming

	// StateBooting hands over to the application (terminal)
	StateBooting

	// StateFailed gave up on the image (terminal)
	StateFailed

	// StateRetry restarts the cycle after a hardware failure
	StateRetry
)

var stateNames = [...]string{
	StateSearching:   "searching",
	StateParsing:     "parsing",
	StateVerifying:   "verifying",
	StateErasing:     "erasing",
	StateProgramming: "programming",
	StateBooting:     "booting",
	StateFailed:      "failed",
	StateRetry:       "retry",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Progress contains information about the update progress.
// Passed to ProgressCallback on every state change and programmed segment.
type Progress struct {
	// State is the current state
	State State

	// Segment is the last programmed segment (1-based, programming only)
	Segment int

	// TotalSegments is the number of segments in the image
	TotalSegments int

	// BytesWritten is the total number of bytes programmed so far
	BytesWritten int

	// Attempt is the value of the attempt counter for this cycle
	Attempt int

	// ElapsedTime is the time elapsed since the update cycle started
	ElapsedTime time.Duration
}

// ProgressCallback is called to report progress.
// Implementations should return quickly to avoid delaying the update.
//
// Example:
//
//	bl := bootloader.New(board,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] attempt %d, %d bytes\n", p.State, p.Attempt, p.BytesWritten)
//	    }),
//	)
type ProgressCallback func(Progress)
