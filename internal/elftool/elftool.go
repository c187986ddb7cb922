// Package elftool is a small standalone ELF header inspector, adapted
// from the teacher's chentry command: instead of rewriting an
// executable's entry point for a bootloader, it opens a file, parses
// its ELF header, and runs it through the loader package's validation
// path end to end.
package elftool

import (
	"debug/elf"
	"fmt"
	"os"

	"pintos/loader"
)

// Probe opens fn, parses its ELF header, and validates it via
// loader.ValidateHeader. It returns the parsed header on success.
func Probe(fn string) (*elf.FileHeader, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, fmt.Errorf("elftool: %w", err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, fmt.Errorf("elftool: %w", err)
	}
	defer ef.Close()

	if err := loader.ValidateHeader(&ef.FileHeader); err != nil {
		return nil, err
	}
	return &ef.FileHeader, nil
}
