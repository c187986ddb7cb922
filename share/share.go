// Package share implements the global read-only-executable share
// table (spec.md §4.3): deduplication of identical read-only
// file-backed frames across processes, keyed by (inode, offset). The
// alias-list/dedup shape is grounded on the Anthony4m-UltraSQL clock
// buffer pool's bufferPool map[BlockId]*Buffer (other_examples), here
// re-keyed from a block id to a (inode, offset) pair per spec.md §4.3,
// and the paired-lock convenience-helper idiom on biscuit's
// Vm_t.Lock_pmap/Unlock_pmap.
package share

import (
	"sync"

	"pintos/fs"
	"pintos/handle"
	"pintos/spt"
)

// Key identifies one deduplicated file region.
type Key struct {
	Inode fs.Inode
	Ofs   int64
}

// Alias names one SPT entry aliasing a shared frame: the owning
// process's own supplemental page table plus the handle within it.
// share stores Alias rather than a bare spt.Handle because spt
// handles are only meaningful relative to the table that issued them,
// and distinct processes have distinct tables.
type Alias struct {
	Table *spt.Table
	Entry spt.Handle
}

type entry struct {
	key     Key
	frame   handle.H
	members []Alias
}

// Table is the global share table. Embeds sync.Mutex directly so
// SHARE_LOCK can be paired with FRAME_LOCK via plain Lock()/Unlock()
// calls, matching biscuit's mem.Physmem_t / vm.Vm_t convention of
// promoting an embedded Mutex's methods rather than wrapping them.
type Table struct {
	sync.Mutex
	entries map[Key]*entry
}

// NewTable returns an empty share table.
func NewTable() *Table {
	return &Table{entries: make(map[Key]*entry)}
}

// FindOrAbsent looks up the share entry for key. Callers must hold
// the table's lock (SHARE_LOCK) — paired with FRAME_LOCK by the
// caller, never acquired alone, per spec.md §4.3's locking rule.
func (t *Table) FindOrAbsent(key Key) (handle.H, []Alias, bool) {
	e, ok := t.entries[key]
	if !ok {
		return handle.H{}, nil, false
	}
	return e.frame, e.members, true
}

// InsertNew creates a new share entry for key containing frame and
// the singleton alias list {first}. Requires no existing entry for
// key (spec.md §4.3).
func (t *Table) InsertNew(key Key, frame handle.H, first Alias) {
	if _, exists := t.entries[key]; exists {
		panic("share: InsertNew called with existing key")
	}
	t.entries[key] = &entry{key: key, frame: frame, members: []Alias{first}}
}

// AddAlias appends alias to the entry for key.
func (t *Table) AddAlias(key Key, alias Alias) {
	e, ok := t.entries[key]
	if !ok {
		panic("share: AddAlias on missing key")
	}
	e.members = append(e.members, alias)
}

// RemoveAlias removes alias from the entry for key and reports
// whether the entry's member list became empty (in which case the
// caller — holding both FRAME_LOCK and SHARE_LOCK — deletes the entry
// and frees the frame, spec.md §4.3).
func (t *Table) RemoveAlias(key Key, alias Alias) (empty bool) {
	e, ok := t.entries[key]
	if !ok {
		return true
	}
	for i, m := range e.members {
		if m.Table == alias.Table && m.Entry == alias.Entry {
			e.members = append(e.members[:i], e.members[i+1:]...)
			break
		}
	}
	return len(e.members) == 0
}

// Delete removes the entry for key outright (used once RemoveAlias
// reports the member list is empty).
func (t *Table) Delete(key Key) {
	delete(t.entries, key)
}

// Size reports the number of distinct shared regions, for metrics and
// diagnostics.
func (t *Table) Size() int {
	t.Lock()
	defer t.Unlock()
	return len(t.entries)
}
