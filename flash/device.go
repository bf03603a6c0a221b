package flash

import "fmt"

// ErasedByte is the value of an erased flash byte.
const ErasedByte = 0xFF

// Device is the flash HAL.
type Device interface {
	// BlockSize returns the size of the erase block containing addr
	BlockSize(addr uint32) uint32

	// Erase erases the block starting at addr
	Erase(addr uint32) error

	// Write programs data at addr
	Write(addr uint32, data []byte) error

	// Read reads len(buf) bytes at addr
	Read(addr uint32, buf []byte) error
}

// Poller is implemented by devices whose operations complete asynchronously.
type Poller interface {
	// Busy returns true while the last operation is in progress
	Busy() bool
}

// AccessError indicates an access outside the flash array.
type AccessError struct {
	Op      string
	Address uint32
	Length  int
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s at 0x%08X (%d bytes) outside flash array", e.Op, e.Address, e.Length)
}

// array implements NOR semantics over a byte slice.
type array struct {
	base  uint32
	block uint32
	mem   []byte
}

func (a *array) offset(op string, addr uint32, n int) (int, error) {
	if addr < a.base || uint64(addr-a.base)+uint64(n) > uint64(len(a.mem)) {
		return 0, &AccessError{Op: op, Address: addr, Length: n}
	}
	return int(addr - a.base), nil
}

func (a *array) BlockSize(uint32) uint32 {
	return a.block
}

func (a *array) Erase(addr uint32) error {
	if (addr-a.base)%a.block != 0 {
		return fmt.Errorf("erase at 0x%08X not aligned to %d byte block", addr, a.block)
	}

	off, err := a.offset("erase", addr, int(a.block))
	if err != nil {
		return err
	}

	blk := a.mem[off : off+int(a.block)]
	for i := range blk {
		blk[i] = ErasedByte
	}

	return nil
}

func (a *array) Write(addr uint32, data []byte) error {
	off, err := a.offset("write", addr, len(data))
	if err != nil {
		return err
	}

	dst := a.mem[off : off+len(data)]
	for i, b := range dst {
		if b != ErasedByte {
			return fmt.Errorf("write to non-erased byte at 0x%08X", addr+uint32(i))
		}
	}
	copy(dst, data)

	return nil
}

func (a *array) Read(addr uint32, buf []byte) error {
	off, err := a.offset("read", addr, len(buf))
	if err != nil {
		return err
	}
	copy(buf, a.mem[off:])
	return nil
}
