// Package mmap implements the per-process memory-map registry
// (spec.md §4.5): mapid-keyed records of the SPT entries covering one
// mmap'd file region. Grounded on biscuit's vm.Vmregion_t
// Vmadd_sharefile/Unpin_i handling of file-backed shared regions,
// generalized to the spec's explicit per-mapid record list.
package mmap

import (
	"fmt"
	"os"

	"pintos/defs"
	"pintos/frame"
	"pintos/fs"
	"pintos/mem"
	"pintos/spt"

	pkgerrors "github.com/pkg/errors"
)

type record struct {
	mapid   int
	file    fs.File
	entries []spt.Handle
}

// Table is one process's memory-map registry.
type Table struct {
	records   map[int]*record
	byEntry   map[spt.Handle]int // spt handle -> mapid, for RemoveEntry
	nextMapid int
}

// NewTable returns an empty memory-map registry.
func NewTable() *Table {
	return &Table{
		records: make(map[int]*record),
		byEntry: make(map[spt.Handle]int),
	}
}

// Mmap implements the mmap(fd, addr) syscall body (spec.md §4.5).
// file must already be the independently reopened handle for the
// mapping (reopening a caller-supplied fd is a filesystem-layer
// concern outside this package). Returns defs.MapFailed-compatible
// negative Err_t on any of §4.5's failure conditions, with no side
// effects on failure.
func (t *Table) Mmap(st *spt.Table, owner spt.Owner, fd int, addr uintptr, file fs.File) (int, defs.Err_t) {
	if fd == 0 || fd == 1 {
		return 0, -defs.EINVAL
	}
	if addr == 0 {
		return 0, -defs.EINVAL
	}
	if !mem.PageAligned(addr) {
		return 0, -defs.EINVAL
	}
	if !mem.IsUserAddress(addr) {
		return 0, -defs.EINVAL
	}
	length, err := file.Length()
	if err != nil || length <= 0 {
		return 0, -defs.EINVAL
	}

	numPages := int((length + int64(mem.PGSIZE) - 1) / int64(mem.PGSIZE))
	for i := 0; i < numPages; i++ {
		vaddr := addr + uintptr(i*mem.PGSIZE)
		if st.Exists(vaddr) {
			return 0, -defs.EEXIST
		}
	}

	entries := make([]spt.Handle, 0, numPages)
	for i := 0; i < numPages; i++ {
		vaddr := addr + uintptr(i*mem.PGSIZE)
		ofs := int64(i * mem.PGSIZE)
		remaining := length - ofs
		readBytes := int(remaining)
		if readBytes > mem.PGSIZE {
			readBytes = mem.PGSIZE
		}
		zeroBytes := mem.PGSIZE - readBytes
		src := spt.MmapSource{File: file, Ofs: ofs, ReadBytes: readBytes, ZeroBytes: zeroBytes, Mapid: t.nextMapid}
		h, cerr := st.CreateMmap(owner, vaddr, src)
		if cerr != 0 {
			// Overlap check above should have precluded this; roll
			// back anything created so far rather than leave a
			// partially-mapped region.
			for _, done := range entries {
				st.Destroy(done)
			}
			return 0, -defs.EEXIST
		}
		entries = append(entries, h)
	}

	mapid := t.nextMapid
	t.nextMapid++
	t.records[mapid] = &record{mapid: mapid, file: file, entries: entries}
	for _, h := range entries {
		t.byEntry[h] = mapid
	}
	return mapid, 0
}

// Munmap implements the munmap(mapid) syscall body (spec.md §4.5): for
// every SPT entry in the record, writes back dirty resident pages,
// releases the frame via ft, destroys the SPT entry, then frees the
// record. Silent no-op if mapid is absent.
func (t *Table) Munmap(st *spt.Table, ft *frame.Table, mapid int) {
	rec, ok := t.records[mapid]
	if !ok {
		return
	}
	for _, h := range rec.entries {
		t.writeBackAndDestroy(st, ft, h)
	}
	delete(t.records, mapid)
}

// MunmapAll tears down every outstanding mapping (process-exit path).
func (t *Table) MunmapAll(st *spt.Table, ft *frame.Table) {
	for mapid := range t.records {
		t.Munmap(st, ft, mapid)
	}
}

func (t *Table) writeBackAndDestroy(st *spt.Table, ft *frame.Table, h spt.Handle) {
	e, ok := st.Get(h)
	if ok && e.Frame.Valid() {
		as := e.Owner.AddressSpace()
		if as.Dirty(e.VAddr) {
			if src, isMmap := e.Source.(spt.MmapSource); isMmap {
				if page := ft.Page(e.Frame); page != nil {
					if _, werr := src.File.WriteAt(page[:src.ReadBytes], src.Ofs); werr != nil {
						// The frame and SPT entry are torn down regardless
						// (spec.md §4.5's munmap has no failure path to
						// report through), but a dropped flush must not
						// look like success.
						fmt.Fprintln(os.Stderr, pkgerrors.Wrapf(werr, "mmap: write-back at ofs %d failed", src.Ofs))
					}
				}
			}
		}
	}
	ft.FreeFromSPT(st, h)
	st.Destroy(h)
	delete(t.byEntry, h)
}

// RemoveEntry unlinks h from whichever record tracks it, for use by
// the frame evictor (spec.md §4.2.1's MMAP branch: "remove the list
// record"). It only drops h from its record's entry list — the
// record itself, and its other pages, survive until munmap or process
// exit — except that an empty record (its last page evicted) is
// deleted outright. The caller (frame.Table.Evict) destroys h's SPT
// entry itself; RemoveEntry only maintains this registry's own
// bookkeeping.
func (t *Table) RemoveEntry(h spt.Handle) {
	mapid, ok := t.byEntry[h]
	if !ok {
		return
	}
	delete(t.byEntry, h)
	rec, ok := t.records[mapid]
	if !ok {
		return
	}
	for i, e := range rec.entries {
		if e == h {
			rec.entries = append(rec.entries[:i], rec.entries[i+1:]...)
			break
		}
	}
	if len(rec.entries) == 0 {
		delete(t.records, mapid)
	}
}

// Count returns the number of live mappings, for diagnostics.
func (t *Table) Count() int {
	return len(t.records)
}
