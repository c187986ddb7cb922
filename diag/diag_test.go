package diag

import (
	"bytes"
	"strings"
	"testing"

	"pintos/addrspace"
	"pintos/frame"
	"pintos/fs"
	"pintos/mem"
	"pintos/share"
	"pintos/spt"
	"pintos/swap"
)

type fakeOwner struct {
	id int
	as addrspace.AddressSpace
}

func (o *fakeOwner) AddressSpace() addrspace.AddressSpace { return o.as }
func (o *fakeOwner) RemoveMmapEntry(h spt.Handle)          {}
func (o *fakeOwner) ID() int                               { return o.id }

func newFrameTable(capacity int) *frame.Table {
	dev := fs.NewMemBlockDevice(mem.SECTORSPERPAGE*8, mem.SECTORSIZE)
	return frame.NewTable(capacity, share.NewTable(), swap.NewStore(dev), nil)
}

func TestBuildProfileOneSamplePerFrame(t *testing.T) {
	ft := newFrameTable(4)
	st := spt.NewTable()
	as := addrspace.NewSim()
	owner := &fakeOwner{id: 1, as: as}

	h1, _ := st.CreateStack(owner, 0x700000)
	h2, _ := st.CreateStack(owner, 0x701000)
	if _, _, err := ft.Allocate(st, h1, false, share.Key{}); err != 0 {
		t.Fatalf("allocate h1: err=%d", err)
	}
	if _, _, err := ft.Allocate(st, h2, false, share.Key{}); err != 0 {
		t.Fatalf("allocate h2: err=%d", err)
	}

	prof := BuildProfile(ft)
	if len(prof.Sample) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(prof.Sample))
	}
	for _, s := range prof.Sample {
		if len(s.Value) != 2 || s.Value[0] != 1 {
			t.Fatalf("expected a frame-count value of 1, got %v", s.Value)
		}
	}
}

func TestDumpFrameTableReportsTotals(t *testing.T) {
	ft := newFrameTable(2)
	st := spt.NewTable()
	as := addrspace.NewSim()
	owner := &fakeOwner{id: 7, as: as}

	h, _ := st.CreateStack(owner, 0x700000)
	if _, _, err := ft.Allocate(st, h, false, share.Key{}); err != 0 {
		t.Fatalf("allocate: err=%d", err)
	}

	var buf bytes.Buffer
	if err := DumpFrameTable(&buf, ft); err != nil {
		t.Fatalf("DumpFrameTable: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "total: 1 frames") {
		t.Fatalf("expected a total line, got:\n%s", out)
	}
	if !strings.Contains(out, "4,096") && !strings.Contains(out, "4096") {
		t.Fatalf("expected the frame's byte size reported, got:\n%s", out)
	}
}
