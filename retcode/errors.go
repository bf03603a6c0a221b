package retcode

import (
	"errors"
	"fmt"
)

// Error is returned by every stage of the update pipeline.
type Error struct {
	// Op is the operation that failed
	Op string

	// Code is the bootloader return code
	Code Code

	// Err is the underlying cause (optional)
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed: %s (%d)", e.Op, e.Code.Description(), uint8(e.Code))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an *Error with a formatted cause.
func New(op string, code Code, format string, args ...interface{}) error {
	return &Error{
		Op:   op,
		Code: code,
		Err:  fmt.Errorf(format, args...),
	}
}

// Wrap returns an *Error wrapping err. A nil err still yields an error, so a
// stage can report a code without a further cause.
func Wrap(op string, code Code, err error) error {
	return &Error{
		Op:   op,
		Code: code,
		Err:  err,
	}
}

// Of returns the code carried by err. A nil error is OK; an error without an
// *Error in its chain is reported as ErrFileCorrupt so that unknown failures
// never read as success.
func Of(err error) Code {
	if err == nil {
		return OK
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrFileCorrupt
}

// IsError returns true if err carries an *Error.
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
