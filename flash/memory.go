package flash

// MemoryDevice is an in-memory flash array with fault injection.
type MemoryDevice struct {
	array

	// EraseFault, when set, is consulted before every erase
	EraseFault func(addr uint32) error

	// WriteFault, when set, is consulted before every write
	WriteFault func(addr uint32, data []byte) error

	// BusyPolls is the number of Busy calls that report true after each
	// erase or write
	BusyPolls int

	// Erases counts erase calls, including failed ones
	Erases int

	// Writes counts write calls, including failed ones
	Writes int

	busy int
}

// NewMemoryDevice returns an erased flash array of size bytes at base.
func NewMemoryDevice(base, size, block uint32) *MemoryDevice {
	if block == 0 {
		block = size
	}

	d := &MemoryDevice{
		array: array{
			base:  base,
			block: block,
			mem:   make([]byte, size),
		},
	}
	for i := range d.mem {
		d.mem[i] = ErasedByte
	}

	return d
}

// Erase implements Device.
func (d *MemoryDevice) Erase(addr uint32) error {
	d.Erases++
	d.busy = d.BusyPolls

	if d.EraseFault != nil {
		if err := d.EraseFault(addr); err != nil {
			return err
		}
	}

	return d.array.Erase(addr)
}

// Write implements Device.
func (d *MemoryDevice) Write(addr uint32, data []byte) error {
	d.Writes++
	d.busy = d.BusyPolls

	if d.WriteFault != nil {
		if err := d.WriteFault(addr, data); err != nil {
			return err
		}
	}

	return d.array.Write(addr, data)
}

// Busy implements Poller.
func (d *MemoryDevice) Busy() bool {
	if d.busy > 0 {
		d.busy--
		return true
	}
	return false
}

// Bytes returns the flash array contents.
func (d *MemoryDevice) Bytes() []byte {
	return d.mem
}

// Load copies data into the array at addr without erase semantics. It is
// used to seed an existing application.
func (d *MemoryDevice) Load(addr uint32, data []byte) error {
	off, err := d.offset("load", addr, len(data))
	if err != nil {
		return err
	}
	copy(d.mem[off:], data)
	return nil
}
