// Package flash erases and programs the application region.
//
// The Programmer talks to hardware through the Device interface. Devices
// that complete operations asynchronously also implement Poller; the
// programmer then waits for completion in 1 ms steps up to a timeout.
//
// Two host implementations are provided: MemoryDevice keeps the flash array
// in memory and supports fault injection, MappedDevice keeps it in a memory
// mapped file so state survives between simulator runs. Both follow NOR
// semantics: erase sets every byte of a block to 0xFF and a byte can only be
// programmed while erased.
//
// Programming is only possible with a signature.VerifiedImage:
//
//	prog := flash.NewProgrammer(dev, clock, flash.Config{Region: region})
//	if err := prog.EraseApplicationArea(); err != nil {
//	    return err // ErrEraseFailed
//	}
//	if err := prog.Program(img, nil); err != nil {
//	    return err // ErrProgramFailed
//	}
package flash
