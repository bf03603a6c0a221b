// Package retcode defines the bootloader return codes shared by every stage of
// the update pipeline.
//
// # Code Surface
//
// The numeric values are stable. They are persisted under BOOTLOADER_ERROR for
// the application to read and blinked on the error LED, so a technician can
// tell the failure loci apart without a console:
//
//	0  BOOTLOADER_OK
//	1  BOOTLOADER_ERR_FILE_NOT_FOUND
//	2  BOOTLOADER_ERR_SIGNATURE_NOT_FOUND
//	3  BOOTLOADER_ERR_FILE_VERIFICATION_FAILED
//	4  BOOTLOADER_ERR_INVALID_FILE
//	5  BOOTLOADER_ERR_FILE_CORRUPT
//	6  BOOTLOADER_ERR_ERASE_FAILED
//	7  BOOTLOADER_ERR_PROGRAM_FAILED
//	8  BOOTLOADER_ERR_TOO_MANY_ATTEMPTS
//	9  BOOTLOADER_ERR_FILE_DECOMPRESSION
//
// # Error Handling
//
// Stages return an *Error carrying the operation, the code and an optional
// cause. Callers may wrap it further with fmt.Errorf and %w; Of recovers the
// code from anywhere in the chain:
//
//	err := parser.Next()
//	if retcode.Of(err) == retcode.ErrFileCorrupt {
//	    // ...
//	}
package retcode
