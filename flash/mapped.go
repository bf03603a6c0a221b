package flash

import (
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MappedDevice is a flash array backed by a memory mapped file.
type MappedDevice struct {
	array

	file *os.File
	mmap mmap.MMap
}

// OpenMappedDevice maps the file at path as a flash array of size bytes at
// base. A missing or short file is extended with erased bytes.
func OpenMappedDevice(path string, base, size, block uint32) (*MappedDevice, error) {
	if size == 0 {
		return nil, fmt.Errorf("invalid flash size: 0")
	}
	if block == 0 {
		block = size
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash file: %w", err)
	}

	err = extend(f, int64(size))
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	m, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to map flash file: %w", err)
	}

	return &MappedDevice{
		array: array{
			base:  base,
			block: block,
			mem:   m,
		},
		file: f,
		mmap: m,
	}, nil
}

func extend(f *os.File, size int64) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat flash file: %w", err)
	}
	if info.Size() >= size {
		return nil
	}

	_, err = f.Seek(info.Size(), io.SeekStart)
	if err != nil {
		return fmt.Errorf("failed to extend flash file: %w", err)
	}

	fill := make([]byte, size-info.Size())
	for i := range fill {
		fill[i] = ErasedByte
	}

	_, err = f.Write(fill)
	if err != nil {
		return fmt.Errorf("failed to extend flash file: %w", err)
	}

	return nil
}

// Bytes returns the mapped flash array.
func (d *MappedDevice) Bytes() []byte {
	return d.mmap
}

// Flush writes changes back to the file.
func (d *MappedDevice) Flush() error {
	return d.mmap.Flush()
}

// Close flushes and unmaps the array and closes the file.
func (d *MappedDevice) Close() error {
	err := d.mmap.Flush()
	if uerr := d.mmap.Unmap(); err == nil {
		err = uerr
	}
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	return err
}
