// Package mem defines the page-sized physical memory primitives the
// rest of the VM core builds on: page size constants, a physical
// address type, and a byte view of one page's backing storage. It deliberately does not reproduce the teacher's hardware
// page-table walk (Pmap_t, Dmap, recursive mapping slots) — this
// module targets a portable simulation of frames, and the hardware
// accessed/dirty-bit surface is represented instead by the narrow
// addrspace.AddressSpace interface the frame table consults during
// eviction.
package mem

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks the byte offset within a page.
const PGOFFSET uintptr = uintptr(PGSIZE - 1)

// PGMASK masks the page number of an address.
const PGMASK uintptr = ^PGOFFSET

// SECTORSIZE is the size of one block-device sector in bytes.
const SECTORSIZE int = 512

// SECTORSPERPAGE is the number of contiguous sectors one swap slot
// occupies (K in spec.md §4.4).
const SECTORSPERPAGE int = PGSIZE / SECTORSIZE

// PHYSBASE is the highest user virtual address plus one: the address
// the user stack grows down from. Set to the value real Pintos uses
// (0xc0000000); the only property this simulation relies on is that
// arithmetic against it stays in range of a 64-bit uintptr.
const PHYSBASE uintptr = 0xc0000000

// STACKLIMIT is the maximum distance the stack may grow below
// PHYSBASE (spec.md §6, "Stack-growth window").
const STACKLIMIT uintptr = 8 * 1024 * 1024

// Pa_t is a physical address type carried over from the teacher's mem
// package. The VM core's tables key on plain uintptr user virtual
// addresses rounded via PageRoundDown, not on Pa_t.
type Pa_t uintptr

// Pg_t is one page's backing storage.
type Pg_t [PGSIZE]byte

// PageRoundDown rounds a virtual address down to its containing page.
func PageRoundDown(va uintptr) uintptr {
	return va &^ PGOFFSET
}

// PageOffset returns the byte offset of va within its page.
func PageOffset(va uintptr) uintptr {
	return va & PGOFFSET
}

// PageAligned reports whether va is page-aligned.
func PageAligned(va uintptr) bool {
	return va&PGOFFSET == 0
}

// IsUserAddress reports whether va lies in the user address range
// this module simulates: (0, PHYSBASE).
func IsUserAddress(va uintptr) bool {
	return va > 0 && va < PHYSBASE
}
