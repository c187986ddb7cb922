// Package handle defines the generational index type used throughout
// the VM core in place of the teacher's raw pointers (spec.md §9,
// Design Notes: "a portable design uses stable handles (generational
// indices) into arena-allocated tables; cross-table references store
// handles, lookups go through the owning table"). A single neutral
// type lets spt, frame, and share reference each other's entries
// without import cycles.
package handle

// H is a generational index into the owning table's arena. Index and
// Gen are both issued from monotonically increasing counters bumped
// together on every allocation (neither spt.Table nor frame.Table
// recycles a freed Index), so in this module Gen serves only to keep
// the zero value reserved — it does not yet disambiguate a reused
// slot, since no allocator reuses slots. The zero value is never
// issued by a table's allocator and therefore safely denotes "no
// entry" wherever a handle field is optional.
type H struct {
	Index uint32
	Gen   uint32
}

// Valid reports whether h could have been issued by a table.
func (h H) Valid() bool {
	return h.Gen != 0
}
