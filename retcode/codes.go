package retcode

import "fmt"

// Code is a bootloader return code.
type Code uint8

// Return codes. The values are part of the external interface and must not
// be renumbered.
const (
	// OK indicates the operation completed successfully
	OK Code = iota

	// ErrFileNotFound indicates the candidate image is missing or empty
	ErrFileNotFound

	// ErrSignatureNotFound indicates neither a signature block nor a stored
	// image digest is available, or the signature block is truncated
	ErrSignatureNotFound

	// ErrFileVerificationFailed indicates a digest or signature mismatch
	ErrFileVerificationFailed

	// ErrInvalidFile indicates a well-formed file that is not a valid update
	// for this device (bad magic, target outside the application region)
	ErrInvalidFile

	// ErrFileCorrupt indicates a structurally broken container
	ErrFileCorrupt

	// ErrEraseFailed indicates a flash erase hardware failure
	ErrEraseFailed

	// ErrProgramFailed indicates a flash program hardware failure
	ErrProgramFailed

	// ErrTooManyAttempts indicates the update attempt budget is exhausted
	ErrTooManyAttempts

	// ErrFileDecompression indicates a malformed or oversized compressed segment
	ErrFileDecompression
)

// MaxCode is the highest defined code.
const MaxCode = ErrFileDecompression

var codeNames = [...]string{
	OK:                        "BOOTLOADER_OK",
	ErrFileNotFound:           "BOOTLOADER_ERR_FILE_NOT_FOUND",
	ErrSignatureNotFound:      "BOOTLOADER_ERR_SIGNATURE_NOT_FOUND",
	ErrFileVerificationFailed: "BOOTLOADER_ERR_FILE_VERIFICATION_FAILED",
	ErrInvalidFile:            "BOOTLOADER_ERR_INVALID_FILE",
	ErrFileCorrupt:            "BOOTLOADER_ERR_FILE_CORRUPT",
	ErrEraseFailed:            "BOOTLOADER_ERR_ERASE_FAILED",
	ErrProgramFailed:          "BOOTLOADER_ERR_PROGRAM_FAILED",
	ErrTooManyAttempts:        "BOOTLOADER_ERR_TOO_MANY_ATTEMPTS",
	ErrFileDecompression:      "BOOTLOADER_ERR_FILE_DECOMPRESSION",
}

var codeDescriptions = [...]string{
	OK:                        "success",
	ErrFileNotFound:           "update image not found",
	ErrSignatureNotFound:      "signature not found",
	ErrFileVerificationFailed: "image verification failed",
	ErrInvalidFile:            "invalid update image",
	ErrFileCorrupt:            "update image corrupt",
	ErrEraseFailed:            "flash erase failed",
	ErrProgramFailed:          "flash program failed",
	ErrTooManyAttempts:        "too many update attempts",
	ErrFileDecompression:      "segment decompression failed",
}

// String returns the C-style name of the code.
func (c Code) String() string {
	if c > MaxCode {
		return fmt.Sprintf("BOOTLOADER_ERR_UNKNOWN(%d)", uint8(c))
	}
	return codeNames[c]
}

// Description returns a human-readable description of the code.
func (c Code) Description() string {
	if c > MaxCode {
		return fmt.Sprintf("unknown code %d", uint8(c))
	}
	return codeDescriptions[c]
}

// Hardware reports whether the code originates from the flash hardware. These
// are the only failures that can leave the application region inconsistent.
func (c Code) Hardware() bool {
	return c == ErrEraseFailed || c == ErrProgramFailed
}

// Retryable reports whether another attempt may succeed without a new image.
// Structural, authenticity and decompression failures are deterministic for a
// given image; hardware failures may be transient.
func (c Code) Retryable() bool {
	return c.Hardware()
}

// Parse returns the code with the given C-style name.
func Parse(name string) (Code, bool) {
	for i, n := range codeNames {
		if n == name {
			return Code(i), true
		}
	}
	return 0, false
}
