// Package spt implements the per-process supplemental page table
// (spec.md §4.1): a map from page-aligned user virtual address to a
// lazy-loading descriptor. It generalizes biscuit's vm.Vmregion_t /
// vm.Vminfo_t (a per-region table consulted on every fault via
// vmi.Ptefor) to the spec's per-page model, keeping the same tagged-
// dispatch idiom biscuit's Sys_pgfault uses on vmi.Mtype — here as a
// Source interface with a type switch, per spec.md §9's note on
// replacing switch(page_source) with a tagged variant carrying only
// the data each source needs.
package spt

import (
	"sync"

	"pintos/addrspace"
	"pintos/defs"
	"pintos/fs"
	"pintos/handle"
	"pintos/mem"
)

// Handle identifies one SPT entry. The zero value never refers to a
// real entry.
type Handle = handle.H

// Kind tags an entry's source.
type Kind int

// Source kinds named in spec.md §3.
const (
	KindFile Kind = iota
	KindStack
	KindMmap
)

// Source is the tagged union of per-page lazy-loading descriptors.
type Source interface {
	Kind() Kind
}

// FileSource backs an ELF-segment page (spec.md §4.7) or a read-only
// shared FILE page reached via the share table.
type FileSource struct {
	File      fs.File
	Ofs       int64
	ReadBytes int
	ZeroBytes int
}

// Kind implements Source.
func (FileSource) Kind() Kind { return KindFile }

// StackSource backs a lazily-grown user stack page (spec.md §4.2.1,
// §4.6 "stack-growth eligibility").
type StackSource struct{}

// Kind implements Source.
func (StackSource) Kind() Kind { return KindStack }

// MmapSource backs one page of an mmap'd region (spec.md §4.5).
type MmapSource struct {
	File      fs.File
	Ofs       int64
	ReadBytes int
	ZeroBytes int
	Mapid     int
}

// Kind implements Source.
func (MmapSource) Kind() Kind { return KindMmap }

// Owner is the back-reference an SPT entry holds to its owning
// process (spec.md §3, "needed by the evictor to clear the correct
// page directory"). RemoveMmapEntry lets the evictor unlink an MMAP
// entry from the owner's memory-map registry without this package
// importing the mmap package (which itself imports spt).
type Owner interface {
	AddressSpace() addrspace.AddressSpace
	RemoveMmapEntry(h Handle)
	ID() int
}

// Entry is one supplemental PTE (spec.md §3).
type Entry struct {
	VAddr    uintptr
	Owner    Owner
	Source   Source
	Writable bool
	Frame    handle.H // zero value: non-resident
	InSwap   bool
	Share    handle.H // zero value: not a share-table alias
}

// Table is one process's supplemental page table.
//
// Insert/Lookup/Create*/Destroy/Exists mutate the table's own
// bookkeeping (the address->handle map) under mu. The residency
// fields of an *Entry returned by Get or Lookup (Frame, InSwap, Share)
// are instead protected by FRAME_LOCK+SHARE_LOCK at the call sites
// that mutate them (the page-fault handler and the frame evictor),
// per spec.md §5 ("Shared mutation"): the evictor may touch another
// process's SPT entries precisely because, and only because, it holds
// both of those locks, and every path that reads residency state holds
// them too.
type Table struct {
	mu      sync.Mutex
	byAddr  map[uintptr]handle.H
	entries map[handle.H]*Entry
	nextIdx uint32
	nextGen uint32
}

// NewTable returns an empty supplemental page table.
func NewTable() *Table {
	return &Table{
		byAddr:  make(map[uintptr]handle.H),
		entries: make(map[handle.H]*Entry),
		nextGen: 1,
	}
}

func (t *Table) alloc(e *Entry) handle.H {
	h := handle.H{Index: t.nextIdx, Gen: t.nextGen}
	t.nextIdx++
	t.nextGen++
	t.entries[h] = e
	return h
}

// Insert adds entry, keyed by its page-rounded VAddr. It fails with
// EEXIST if that page is already present (spec.md §4.1).
func (t *Table) Insert(e *Entry) (handle.H, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	va := mem.PageRoundDown(e.VAddr)
	e.VAddr = va
	if _, exists := t.byAddr[va]; exists {
		return handle.H{}, -defs.EEXIST
	}
	h := t.alloc(e)
	t.byAddr[va] = h
	return h, 0
}

// Lookup page-rounds vaddr and returns the entry there, if any.
func (t *Table) Lookup(vaddr uintptr) (handle.H, *Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byAddr[mem.PageRoundDown(vaddr)]
	if !ok {
		return handle.H{}, nil, false
	}
	return h, t.entries[h], true
}

// Get resolves a handle directly.
func (t *Table) Get(h handle.H) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	return e, ok
}

// Exists reports whether upage already has an SPT entry (used by
// mmap's pre-flight overlap check, spec.md §4.5).
func (t *Table) Exists(vaddr uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byAddr[mem.PageRoundDown(vaddr)]
	return ok
}

// CreateFile constructs or merges a non-resident FILE entry (the
// loader adapter's per-page call, spec.md §4.1/§4.7). When an entry
// for upage already exists from an overlapping segment, permissions
// are merged: writable is OR-ed and read_bytes widened to the maximum
// (zero_bytes adjusted so the sum stays page-sized).
func (t *Table) CreateFile(owner Owner, file fs.File, ofs int64, upage uintptr, readBytes, zeroBytes int, writable bool) (handle.H, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	va := mem.PageRoundDown(upage)
	if h, ok := t.byAddr[va]; ok {
		e := t.entries[h]
		fsrc, ok := e.Source.(FileSource)
		if !ok || fsrc.File.Inode() != file.Inode() || fsrc.Ofs != ofs {
			return handle.H{}, -defs.EEXIST
		}
		e.Writable = e.Writable || writable
		if readBytes > fsrc.ReadBytes {
			fsrc.ReadBytes = readBytes
			fsrc.ZeroBytes = mem.PGSIZE - readBytes
			e.Source = fsrc
		}
		return h, 0
	}
	e := &Entry{
		VAddr:    va,
		Owner:    owner,
		Writable: writable,
		Source:   FileSource{File: file, Ofs: ofs, ReadBytes: readBytes, ZeroBytes: zeroBytes},
	}
	h := t.alloc(e)
	t.byAddr[va] = h
	return h, 0
}

// CreateStack constructs a writable STACK entry at upage (spec.md
// §4.1/§4.6).
func (t *Table) CreateStack(owner Owner, upage uintptr) (handle.H, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	va := mem.PageRoundDown(upage)
	if _, ok := t.byAddr[va]; ok {
		return handle.H{}, -defs.EEXIST
	}
	e := &Entry{VAddr: va, Owner: owner, Writable: true, Source: StackSource{}}
	h := t.alloc(e)
	t.byAddr[va] = h
	return h, 0
}

// CreateMmap constructs a writable MMAP entry at upage (spec.md §4.5).
func (t *Table) CreateMmap(owner Owner, upage uintptr, src MmapSource) (handle.H, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	va := mem.PageRoundDown(upage)
	if _, ok := t.byAddr[va]; ok {
		return handle.H{}, -defs.EEXIST
	}
	e := &Entry{VAddr: va, Owner: owner, Writable: true, Source: src}
	h := t.alloc(e)
	t.byAddr[va] = h
	return h, 0
}

// Destroy removes the bookkeeping for h. Callers must have already
// released any resident frame and any swap slot (spec.md §4.1:
// "releases the frame if resident..., releases swap slot if any, then
// removes and frees the entry" — the release calls live in the frame
// and swap packages and are orchestrated by vmctx, since spt must not
// import either to avoid a cycle).
func (t *Table) Destroy(h handle.H) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return
	}
	delete(t.entries, h)
	delete(t.byAddr, e.VAddr)
}

// Count returns the number of live entries, for diagnostics and
// teardown enumeration.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Handles returns a snapshot of all live handles, for teardown.
func (t *Table) Handles() []handle.H {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]handle.H, 0, len(t.entries))
	for h := range t.entries {
		out = append(out, h)
	}
	return out
}
