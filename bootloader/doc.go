// Package bootloader implements the update state machine of the mbin
// secure bootloader.
//
// # Overview
//
// On every boot the bootloader looks for a pending update image and, if one
// exists, runs update cycles on it:
//   - Checking and incrementing the persisted attempt counter
//   - Parsing the image and validating every segment
//   - Verifying the signature block and/or the stored digest
//   - Erasing the application region
//   - Programming every segment
//
// Flash is only touched after the whole image has been parsed and verified.
// Once the update succeeds or is given up, control passes to the
// application.
//
// # Basic Usage
//
// The hardware is supplied as a Board:
//
//	board := bootloader.Board{
//	    Application: mbin.Region{Start: 0x08010000, End: 0x08100000},
//	    Flash:       dev,
//	    Clock:       hal.SleepClock{},
//	    LED:         led,
//	    Platform:    platform,
//	    Store:       records,
//	    Images:      os.DirFS("/updates"),
//	}
//
//	bl := bootloader.New(board, bootloader.WithPublicKey(pub))
//	out := bl.Run()
//
// A pending update is announced by writing the image path to the
// store.KeyUpdateImage record, optionally with the image digest in
// store.KeyImageSignature.
//
// # Progress Tracking
//
// Track the update with a callback:
//
//	bl := bootloader.New(board,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] segment %d/%d, %d bytes\n",
//	            p.State, p.Segment, p.TotalSegments, p.BytesWritten)
//	    }),
//	)
//
// # Configuration Options
//
// Customize behavior with functional options:
//
//	bl := bootloader.New(board,
//	    bootloader.WithLogger(logger),
//	    bootloader.WithMaxUpdateAttempts(5),
//	    bootloader.WithMaxSegmentSize(16*1024),
//	    bootloader.WithResetAfterUpdate(true),
//	    bootloader.WithVersion("1.4.0"),
//	)
//
// # Failure Handling
//
// Every failure carries a retcode.Code, which is stored in
// store.KeyBootloaderError and blinked on the error LED:
//   - A missing, malformed, unsigned or forged image is rejected before
//     flash is touched; the existing application keeps running and the next
//     boot tries again.
//   - Erase and program failures are retried within the same boot.
//   - Once the attempt budget is spent the image is no longer touched.
//   - If the application region has been erased and no attempt is left, the
//     device halts blinking the code.
package bootloader
