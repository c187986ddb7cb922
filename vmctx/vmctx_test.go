package vmctx

import (
	"testing"

	"pintos/addrspace"
	"pintos/fs"
	"pintos/mem"
	"pintos/share"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestContext(capacity int) *Context {
	dev := fs.NewMemBlockDevice(mem.SECTORSPERPAGE*8, mem.SECTORSIZE)
	return New(Config{FrameCapacity: capacity, MetricsNS: "pintos_vmctx_test"}, dev, prometheus.NewRegistry())
}

func TestLockTablesThenUnlockTablesDoesNotDeadlock(t *testing.T) {
	c := newTestContext(4)
	c.LockTables()
	c.UnlockTables()
}

func TestDestroyReleasesFramesSwapAndMmap(t *testing.T) {
	c := newTestContext(4)
	as := addrspace.NewSim()
	p := NewProcess(1, "destroytest", as)

	file := fs.NewMemFile(1, make([]byte, mem.PGSIZE))
	h, cerr := p.SPT().CreateFile(p, file, 0, 0x401000, mem.PGSIZE, 0, true)
	if cerr != 0 {
		t.Fatalf("CreateFile: err=%d", cerr)
	}
	frameH, page, aerr := c.Frame.Allocate(p.SPT(), h, false, share.Key{})
	if aerr != 0 {
		t.Fatalf("Allocate: err=%d", aerr)
	}
	as.Install(0x401000, page, true)
	e, _ := p.SPT().Get(h)
	e.Frame = frameH

	mapfile := fs.NewMemFile(2, make([]byte, mem.PGSIZE))
	if _, merr := p.MmapTable().Mmap(p.SPT(), p, 5, 0x500000, mapfile); merr != 0 {
		t.Fatalf("Mmap: err=%d", merr)
	}

	p.ExecFile = file
	if err := file.DenyWrite(); err != nil {
		t.Fatalf("DenyWrite: %v", err)
	}

	p.Destroy(c)

	if p.SPT().Count() != 0 {
		t.Fatalf("expected all SPT entries released, got %d", p.SPT().Count())
	}
	if p.MmapTable().Count() != 0 {
		t.Fatalf("expected all mmap records released, got %d", p.MmapTable().Count())
	}
	if c.Frame.Len() != 0 {
		t.Fatalf("expected all frames released, got %d", c.Frame.Len())
	}
	if as.Mapped(0x401000) {
		t.Fatal("expected the address space mapping cleared")
	}
	if p.ExecFile != nil {
		t.Fatal("expected ExecFile cleared after Destroy")
	}
	if _, err := file.WriteAt([]byte{1}, 0); err != nil {
		t.Fatalf("expected write allowed again after Destroy, got %v", err)
	}
}
