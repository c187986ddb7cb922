// Package diag implements the profiling/dump tooling the teacher's
// go.mod pulls in pprof and x/text for but the retrieved pack slice
// never exercises: a pprof-format frame-table snapshot and a
// human-readable column report. It gives the D_PROF device constant
// named in the teacher's defs/device.go a concrete implementation.
package diag

import (
	"fmt"
	"io"
	"time"

	"pintos/frame"

	"github.com/google/pprof/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// BuildProfile renders ft's current frames as a pprof profile.Profile:
// one sample per frame, valued by frame count and byte size, tagged
// with numeric labels for shareable/dirty/clock-r so `pprof -tags` can
// slice the snapshot along any of them.
func BuildProfile(ft *frame.Table) *profile.Profile {
	infos := ft.Snapshot()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "frames", Unit: "count"},
			{Type: "bytes", Unit: "bytes"},
		},
		TimeNanos: time.Now().UnixNano(),
	}

	for i, info := range infos {
		id := uint64(i + 1)
		fn := &profile.Function{
			ID:   id,
			Name: fmt.Sprintf("frame[%d:%d]/owner=%d", info.Handle.Index, info.Handle.Gen, info.OwnerID),
		}
		loc := &profile.Location{
			ID:   id,
			Line: []profile.Line{{Function: fn, Line: 0}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)

		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1, int64(info.Bytes)},
			NumLabel: map[string][]int64{
				"shareable": {boolValue(info.Shareable)},
				"dirty":     {boolValue(info.Dirty)},
				"clock_r":   {boolValue(info.Accessed)},
			},
		})
	}
	return p
}

// DumpFrameTable writes a column-aligned human report of ft's current
// frames to w, formatting counts with message.Printer for thousands
// separators — the one place in the module a report is meant for a
// human rather than another program.
func DumpFrameTable(w io.Writer, ft *frame.Table) error {
	infos := ft.Snapshot()
	p := message.NewPrinter(language.English)

	if _, err := p.Fprintf(w, "%-10s %8s %10s %6s %6s %8s\n", "FRAME", "OWNER", "SHAREABLE", "DIRTY", "R-BIT", "BYTES"); err != nil {
		return err
	}
	var totalBytes int
	for _, info := range infos {
		totalBytes += info.Bytes
		if _, err := p.Fprintf(w, "%d:%-8d %8d %10t %6t %6t %8d\n",
			info.Handle.Index, info.Handle.Gen, info.OwnerID, info.Shareable, info.Dirty, info.Accessed, info.Bytes); err != nil {
			return err
		}
	}
	_, err := p.Fprintf(w, "total: %d frames, %d bytes\n", len(infos), totalBytes)
	return err
}
