package pagefault

import (
	"testing"

	"pintos/addrspace"
	"pintos/fs"
	"pintos/mem"
	"pintos/swap"
	"pintos/vmctx"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestContext(capacity int) *vmctx.Context {
	dev := fs.NewMemBlockDevice(mem.SECTORSPERPAGE*8, mem.SECTORSIZE)
	return vmctx.New(vmctx.Config{FrameCapacity: capacity, MetricsNS: "pintos_vm_test"}, dev, prometheus.NewRegistry())
}

func pattern(b byte, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestFileFaultLoadsFromFilesystem(t *testing.T) {
	c := newTestContext(4)
	as := addrspace.NewSim()
	p := vmctx.NewProcess(1, "loadtest", as)

	file := fs.NewMemFile(1, pattern(0x42, mem.PGSIZE))
	h, cerr := p.SPT().CreateFile(p, file, 0, 0x401000, mem.PGSIZE, 0, true)
	if cerr != 0 {
		t.Fatalf("CreateFile: err=%d", cerr)
	}
	_ = h

	ok := Handle(c, p, Fault{Addr: 0x401000, NotPresent: true, User: true}, false)
	if !ok {
		t.Fatal("expected fault to be serviced")
	}
	got := as.FrameAt(0x401000)
	if got == nil {
		t.Fatal("expected page installed")
	}
	for _, b := range got {
		if b != 0x42 {
			t.Fatalf("expected file contents loaded, got byte %x", b)
		}
	}
}

func TestReadOnlyFileFaultIsShared(t *testing.T) {
	c := newTestContext(4)
	file := fs.NewMemFile(1, pattern(0x7, mem.PGSIZE))

	as1 := addrspace.NewSim()
	p1 := vmctx.NewProcess(1, "p1", as1)
	p1.SPT().CreateFile(p1, file, 0, 0x401000, mem.PGSIZE, 0, false)

	as2 := addrspace.NewSim()
	p2 := vmctx.NewProcess(2, "p2", as2)
	p2.SPT().CreateFile(p2, file, 0, 0x500000, mem.PGSIZE, 0, false)

	if !Handle(c, p1, Fault{Addr: 0x401000, NotPresent: true, User: true}, false) {
		t.Fatal("expected p1 fault serviced")
	}
	if c.Share.Size() != 1 {
		t.Fatalf("expected one share entry after first fault, got %d", c.Share.Size())
	}
	if !Handle(c, p2, Fault{Addr: 0x500000, NotPresent: true, User: true}, false) {
		t.Fatal("expected p2 fault serviced")
	}
	if c.Frame.Len() != 1 {
		t.Fatalf("expected a single shared frame across both processes, got %d", c.Frame.Len())
	}
	f1 := as1.FrameAt(0x401000)
	f2 := as2.FrameAt(0x500000)
	if &f1[0] != &f2[0] {
		t.Fatal("expected both processes to share the same backing frame")
	}
}

func TestStackGrowthCreatesEntryWithinWindow(t *testing.T) {
	c := newTestContext(4)
	as := addrspace.NewSim()
	p := vmctx.NewProcess(1, "stacktest", as)

	esp := mem.PHYSBASE - uintptr(mem.PGSIZE)*2
	fault := Fault{Addr: esp - 4, NotPresent: true, User: true, ESP: esp}

	if !Handle(c, p, fault, false) {
		t.Fatal("expected stack-growth fault serviced")
	}
	if !p.SPT().Exists(esp - 4) {
		t.Fatal("expected a new STACK entry")
	}
}

func TestStackGrowthRejectsBeyondCeiling(t *testing.T) {
	c := newTestContext(4)
	as := addrspace.NewSim()
	p := vmctx.NewProcess(1, "stacktest", as)

	addr := mem.PHYSBASE - mem.STACKLIMIT - uintptr(mem.PGSIZE)*2
	fault := Fault{Addr: addr, NotPresent: true, User: true, ESP: addr + 4}

	if Handle(c, p, fault, false) {
		t.Fatal("expected fault beyond the 8MiB ceiling to terminate the process")
	}
}

func TestSwapRestoreClearsInSwap(t *testing.T) {
	c := newTestContext(4)
	as := addrspace.NewSim()
	p := vmctx.NewProcess(1, "swaptest", as)

	h, cerr := p.SPT().CreateStack(p, 0x700000)
	if cerr != 0 {
		t.Fatalf("CreateStack: err=%d", cerr)
	}
	page := pattern(0x99, mem.PGSIZE)
	if serr := c.Swap.WriteOut(swap.Key{Table: p.SPT(), Entry: h}, page); serr != 0 {
		t.Fatalf("WriteOut: err=%d", serr)
	}
	e, _ := p.SPT().Get(h)
	e.InSwap = true

	if !Handle(c, p, Fault{Addr: 0x700000, NotPresent: true, User: true}, false) {
		t.Fatal("expected fault serviced")
	}
	if e.InSwap {
		t.Fatal("expected InSwap cleared after restore")
	}
	got := as.FrameAt(0x700000)
	for _, b := range got {
		if b != 0x99 {
			t.Fatal("expected restored swap contents")
		}
	}
}

func TestInvalidKernelAddressFaultTerminates(t *testing.T) {
	c := newTestContext(4)
	as := addrspace.NewSim()
	p := vmctx.NewProcess(1, "badaddr", as)

	if Handle(c, p, Fault{Addr: mem.PHYSBASE + uintptr(mem.PGSIZE), NotPresent: true, User: true}, false) {
		t.Fatal("expected kernel-address fault to terminate the process")
	}
}

func TestMmapFaultLoadsFromFile(t *testing.T) {
	c := newTestContext(4)
	as := addrspace.NewSim()
	p := vmctx.NewProcess(1, "mmaptest", as)

	file := fs.NewMemFile(2, pattern(0x11, mem.PGSIZE))
	mapid, merr := p.MmapTable().Mmap(p.SPT(), p, 5, 0x600000, file)
	if merr != 0 {
		t.Fatalf("Mmap: err=%d", merr)
	}
	_ = mapid

	if !Handle(c, p, Fault{Addr: 0x600000, NotPresent: true, User: true}, false) {
		t.Fatal("expected mmap fault serviced")
	}
	got := as.FrameAt(0x600000)
	for _, b := range got {
		if b != 0x11 {
			t.Fatal("expected mmap'd file contents loaded")
		}
	}
}

