package main

import (
	"debug/elf"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// chunk is a block of data with its load address.
type chunk struct {
	addr uint32
	data []byte
}

// readInput reads an input of the build command: path@address for raw
// binaries, an ELF file otherwise.
func readInput(input string) ([]chunk, error) {
	if i := strings.LastIndex(input, "@"); i >= 0 {
		addr, err := strconv.ParseUint(input[i+1:], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid load address in %q: %w", input, err)
		}

		data, err := os.ReadFile(input[:i])
		if err != nil {
			return nil, err
		}

		return []chunk{{addr: uint32(addr), data: data}}, nil
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return extractELF(f)
}

// extractELF returns the loadable segments of an ELF file at their physical
// addresses.
func extractELF(r io.ReaderAt) ([]chunk, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var chunks []chunk
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		if prog.Paddr+prog.Filesz > 1<<32 {
			return nil, fmt.Errorf("segment at 0x%X exceeds 32-bit address space", prog.Paddr)
		}

		data, err := io.ReadAll(prog.Open())
		if err != nil {
			return nil, fmt.Errorf("failed to extract segment at 0x%X: %w", prog.Paddr, err)
		}

		chunks = append(chunks, chunk{addr: uint32(prog.Paddr), data: data})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("file does not contain loadable segments")
	}

	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].addr < chunks[j].addr
	})

	return chunks, nil
}
