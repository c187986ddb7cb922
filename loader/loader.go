// Package loader adapts an ELF executable into SPT entries (spec.md
// §4.7): one FILE entry per page of every PT_LOAD segment, a minimal
// bootstrap stack page, and a deny-write token on the executable for
// the process's lifetime. Parsing is deliberately shallow — spec.md
// §1 puts "the loader/ELF parser beyond the SPT population it
// triggers" out of scope, so this package reads only what program-
// header walking needs and nothing of symbol tables or relocations.
// Grounded on biscuit/src/kernel/chentry.go's use of the stdlib
// debug/elf package to parse and validate an ELF header.
package loader

import (
	"debug/elf"
	"fmt"
	"os"

	"pintos/defs"
	"pintos/fs"
	"pintos/mem"
	"pintos/share"
	"pintos/spt"
	"pintos/vmctx"

	"golang.org/x/arch/x86/x86asm"
)

// Config parameterizes Load, mirroring the teacher's explicit-
// constructor-argument style (vmctx.Config) rather than a global flag.
type Config struct {
	// TraceLoads disassembles and prints the entry point's first
	// instruction when set (SPEC_FULL.md §4 Domain Stack).
	TraceLoads bool
}

// ValidateHeader checks the fields chentry.go's chkELF checks:
// 32-bit class, little-endian, a plain executable, x86 machine type.
func ValidateHeader(fh *elf.FileHeader) error {
	if fh.Class != elf.ELFCLASS32 {
		return fmt.Errorf("loader: not a 32-bit ELF object (class %s)", fh.Class)
	}
	if fh.Data != elf.ELFDATA2LSB {
		return fmt.Errorf("loader: unsupported byte order %s", fh.Data)
	}
	if fh.Type != elf.ET_EXEC {
		return fmt.Errorf("loader: not an executable (type %s)", fh.Type)
	}
	if fh.Machine != elf.EM_386 {
		return fmt.Errorf("loader: unsupported machine %s", fh.Machine)
	}
	return nil
}

// Load parses file as an ELF executable, populates p's SPT with one
// FILE entry per page of every PT_LOAD segment (spec.md §4.7),
// establishes the minimal bootstrap stack, and takes a deny-write
// token on file for the process's lifetime. Returns the entry point on
// success.
func Load(c *vmctx.Context, p *vmctx.Process, file fs.File, cfg Config) (uintptr, defs.Err_t) {
	ef, perr := elf.NewFile(file)
	if perr != nil {
		return 0, -defs.EINVAL
	}
	defer ef.Close()

	if verr := ValidateHeader(&ef.FileHeader); verr != nil {
		return 0, -defs.EINVAL
	}

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		writable := prog.Flags&elf.PF_W != 0
		vaddr := uintptr(prog.Vaddr)
		fileOfs := int64(prog.Off)
		readBytes := int(prog.Filesz)
		zeroBytes := int(prog.Memsz) - int(prog.Filesz)

		if off := mem.PageOffset(vaddr); off != 0 {
			vaddr -= off
			fileOfs -= int64(off)
			readBytes += int(off)
		}

		if cerr := loadSegment(p.SPT(), p, file, fileOfs, vaddr, readBytes, zeroBytes, writable); cerr != 0 {
			return 0, cerr
		}
	}

	if serr := establishStack(c, p); serr != 0 {
		return 0, serr
	}

	if dw, ok := file.(fs.DenyWriter); ok {
		if err := dw.DenyWrite(); err == nil {
			p.ExecFile = dw
		}
	}

	entry := uintptr(ef.Entry)
	if cfg.TraceLoads {
		traceEntry(file, ef, entry)
	}
	return entry, 0
}

// loadSegment walks one PT_LOAD segment page by page, mirroring the
// teacher's page-at-a-time load_segment loop: each page gets exactly
// read_bytes of file content (min(remaining, PGSIZE)) and the rest
// zero-filled, merging with any already-covering entry from an
// overlapping prior segment via spt.CreateFile.
func loadSegment(st *spt.Table, owner spt.Owner, file fs.File, ofs int64, upage uintptr, readBytes, zeroBytes int, writable bool) defs.Err_t {
	for readBytes > 0 || zeroBytes > 0 {
		pageReadBytes := readBytes
		if pageReadBytes > mem.PGSIZE {
			pageReadBytes = mem.PGSIZE
		}
		pageZeroBytes := mem.PGSIZE - pageReadBytes

		if _, cerr := st.CreateFile(owner, file, ofs, upage, pageReadBytes, pageZeroBytes, writable); cerr != 0 {
			return cerr
		}

		readBytes -= pageReadBytes
		zeroBytes -= pageZeroBytes
		ofs += int64(pageReadBytes)
		upage += uintptr(mem.PGSIZE)
	}
	return 0
}

// establishStack creates the one STACK SPT entry at PHYS_BASE -
// PAGE_SIZE and faults it in immediately rather than leaving it to the
// first stack access (spec.md §4.7: "A minimal stack is established by
// creating one STACK SPT entry... and faulting it in via the
// swap-or-zero path").
func establishStack(c *vmctx.Context, p *vmctx.Process) defs.Err_t {
	stackPage := mem.PHYSBASE - uintptr(mem.PGSIZE)
	h, cerr := p.SPT().CreateStack(p, stackPage)
	if cerr != 0 {
		return cerr
	}
	e, _ := p.SPT().Get(h)

	frameH, page, aerr := c.Frame.Allocate(p.SPT(), h, false, share.Key{})
	if aerr != 0 {
		return aerr
	}
	for i := range page {
		page[i] = 0
	}
	p.AddressSpace().Install(e.VAddr, page, true)
	e.Frame = frameH
	return 0
}

// traceEntry disassembles the instruction at the executable's entry
// point and prints it, best-effort: any failure to locate or decode it
// is silently skipped, since this path only serves SPEC_FULL.md's
// TraceLoads debug aid, not the loader's success criteria.
func traceEntry(file fs.File, ef *elf.File, entry uintptr) {
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		lo := uintptr(prog.Vaddr)
		hi := lo + uintptr(prog.Filesz)
		if entry < lo || entry >= hi {
			continue
		}
		fileOfs := int64(prog.Off) + int64(entry-lo)
		buf := make([]byte, 16)
		n, err := file.ReadAt(buf, fileOfs)
		if err != nil && n == 0 {
			return
		}
		inst, derr := x86asm.Decode(buf[:n], 32)
		if derr != nil {
			return
		}
		fmt.Fprintf(os.Stdout, "loader: entry %#x: %s\n", entry, x86asm.GNUSyntax(inst, uint64(entry), nil))
		return
	}
}
