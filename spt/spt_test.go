package spt

import (
	"testing"

	"pintos/addrspace"
	"pintos/fs"
	"pintos/mem"
)

type fakeOwner struct {
	as *addrspace.Sim
}

func (f *fakeOwner) AddressSpace() addrspace.AddressSpace { return f.as }
func (f *fakeOwner) RemoveMmapEntry(h Handle)              {}
func (f *fakeOwner) ID() int                               { return 1 }

func newOwner() Owner {
	return &fakeOwner{as: addrspace.NewSim()}
}

func TestInsertRejectsDuplicate(t *testing.T) {
	tbl := NewTable()
	owner := newOwner()
	va := mem.PHYSBASE - uintptr(mem.PGSIZE)
	if _, err := tbl.CreateStack(owner, va); err != 0 {
		t.Fatalf("first CreateStack: err=%d", err)
	}
	if _, err := tbl.CreateStack(owner, va); err == 0 {
		t.Fatal("expected EEXIST on duplicate insert")
	}
}

func TestLookupRoundsDown(t *testing.T) {
	tbl := NewTable()
	owner := newOwner()
	base := mem.PHYSBASE - uintptr(mem.PGSIZE)
	if _, err := tbl.CreateStack(owner, base); err != 0 {
		t.Fatalf("CreateStack: err=%d", err)
	}
	h, e, ok := tbl.Lookup(base + 100)
	if !ok {
		t.Fatal("expected lookup hit for unaligned address within page")
	}
	if e.VAddr != base {
		t.Fatalf("entry VAddr = %#x, want %#x", e.VAddr, base)
	}
	got, ok := tbl.Get(h)
	if !ok || got != e {
		t.Fatal("Get(handle) should return the same entry")
	}
}

func TestCreateFileMergesOverlap(t *testing.T) {
	tbl := NewTable()
	owner := newOwner()
	file := fs.NewMemFile(1, make([]byte, mem.PGSIZE))
	va := uintptr(0x1000)

	h1, err := tbl.CreateFile(owner, file, 0, va, 100, mem.PGSIZE-100, false)
	if err != 0 {
		t.Fatalf("first CreateFile: err=%d", err)
	}
	h2, err := tbl.CreateFile(owner, file, 0, va, 300, mem.PGSIZE-300, true)
	if err != 0 {
		t.Fatalf("second (overlapping) CreateFile: err=%d", err)
	}
	if h1 != h2 {
		t.Fatal("overlapping CreateFile should return the same handle")
	}
	e, _ := tbl.Get(h1)
	if !e.Writable {
		t.Fatal("writable should be OR-ed across merges")
	}
	fsrc := e.Source.(FileSource)
	if fsrc.ReadBytes != 300 {
		t.Fatalf("ReadBytes = %d, want widened to 300", fsrc.ReadBytes)
	}
	if fsrc.ReadBytes+fsrc.ZeroBytes != mem.PGSIZE {
		t.Fatalf("ReadBytes+ZeroBytes = %d, want %d", fsrc.ReadBytes+fsrc.ZeroBytes, mem.PGSIZE)
	}
}

func TestDestroyRemovesEntry(t *testing.T) {
	tbl := NewTable()
	owner := newOwner()
	va := mem.PHYSBASE - uintptr(mem.PGSIZE)
	h, _ := tbl.CreateStack(owner, va)
	tbl.Destroy(h)
	if _, _, ok := tbl.Lookup(va); ok {
		t.Fatal("entry should be gone after Destroy")
	}
	if tbl.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", tbl.Count())
	}
}
