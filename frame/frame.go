// Package frame implements the global frame table and its clock
// (second-chance) eviction policy (spec.md §4.2), the largest single
// component of the VM core. The free-list/refcount bookkeeping shape
// is grounded on biscuit's mem.Physmem_t (_phys_new/_phys_put,
// percpu-free-list style simplified to one global arena); the
// circular clock-hand/reference-bit eviction loop is grounded on
// other_examples/7b706bef_Anthony4m-UltraSQL (buffer.Clock.evictLocked:
// a bounded two-pass "clear references, then evict" scan).
package frame

import (
	"sync"

	"pintos/defs"
	"pintos/handle"
	"pintos/mem"
	"pintos/metrics"
	"pintos/share"
	"pintos/spt"
	"pintos/swap"
)

// Handle identifies one frame-table entry.
type Handle = handle.H

type frameEntry struct {
	page         []byte
	creatorTable *spt.Table
	creator      spt.Handle
	shareable    bool
	key          share.Key
	r            bool
}

// Table is the global frame table. Embeds sync.Mutex directly so it
// plays FRAME_LOCK in the fixed lock order FRAME_LOCK < SHARE_LOCK <
// SWAP_LOCK < BITMAP_LOCK (spec.md §5), matching biscuit's
// mem.Physmem_t / vm.Vm_t convention of promoting an embedded Mutex's
// own Lock()/Unlock() rather than wrapping them in new names.
type Table struct {
	sync.Mutex
	capacity int
	arena    map[handle.H]*frameEntry
	order    []handle.H
	pos      map[handle.H]int
	hand     int
	nextIdx  uint32
	nextGen  uint32
	share    *share.Table
	swap     *swap.Store
	metrics  *metrics.VM
}

// NewTable returns a frame table able to hold capacity frames,
// reclaiming via sh (the share table, for the shareable eviction
// branch) and sw (the swap store, for the single-owner eviction
// branch). m may be nil to disable metrics.
func NewTable(capacity int, sh *share.Table, sw *swap.Store, m *metrics.VM) *Table {
	return &Table{
		capacity: capacity,
		arena:    make(map[handle.H]*frameEntry),
		pos:      make(map[handle.H]int),
		share:    sh,
		swap:     sw,
		metrics:  m,
		nextGen:  1,
	}
}

// Page returns the backing memory of frame h, or nil if absent.
func (t *Table) Page(h handle.H) []byte {
	t.Lock()
	defer t.Unlock()
	fe, ok := t.arena[h]
	if !ok {
		return nil
	}
	return fe.page
}

// Len reports how many frames are currently allocated.
func (t *Table) Len() int {
	t.Lock()
	defer t.Unlock()
	return len(t.arena)
}

// Info is a point-in-time snapshot of one frame, for the diag package's
// profile/dump tooling. Dirty is best-effort: for a shareable frame
// with several aliases it reports only the creator alias's bit, since
// a frame-table-wide view has no single "the" dirty bit to report for
// a frame several page tables map differently.
type Info struct {
	Handle    handle.H
	Bytes     int
	OwnerID   int
	Shareable bool
	Accessed  bool
	Dirty     bool
}

// Snapshot returns Info for every frame currently allocated.
func (t *Table) Snapshot() []Info {
	t.Lock()
	defer t.Unlock()
	out := make([]Info, 0, len(t.arena))
	for h, fe := range t.arena {
		info := Info{Handle: h, Bytes: len(fe.page), Shareable: fe.shareable, Accessed: fe.r}
		if e, ok := fe.creatorTable.Get(fe.creator); ok {
			info.OwnerID = e.Owner.ID()
			info.Dirty = e.Owner.AddressSpace().Dirty(e.VAddr)
		}
		out = append(out, info)
	}
	return out
}

func (t *Table) tryAllocLocked(st *spt.Table, creator spt.Handle, shareable bool, key share.Key) (handle.H, []byte, bool) {
	if len(t.arena) >= t.capacity {
		return handle.H{}, nil, false
	}
	h := handle.H{Index: t.nextIdx, Gen: t.nextGen}
	t.nextIdx++
	t.nextGen++
	fe := &frameEntry{
		page:         make([]byte, mem.PGSIZE),
		creatorTable: st,
		creator:      creator,
		shareable:    shareable,
		key:          key,
	}
	t.arena[h] = fe
	t.pos[h] = len(t.order)
	t.order = append(t.order, h)
	if t.metrics != nil {
		t.metrics.FramesInUse.Set(float64(len(t.arena)))
	}
	return h, fe.page, true
}

// Allocate obtains a frame for the given SPT entry (spec.md §4.2).
// shareable and key must already reflect "!writable && source==FILE"
// and the (inode, offset) key, as derived by the page-fault handler;
// Allocate itself only records them for the clock algorithm's
// shareable branch — it never touches the share table. On capacity
// exhaustion it runs Evict and retries once, which succeeds unless
// another allocation raced the freed slot away (spec.md §4.2 promises
// eviction frees at least one frame, not that it stays free).
func (t *Table) Allocate(st *spt.Table, creator spt.Handle, shareable bool, key share.Key) (handle.H, []byte, defs.Err_t) {
	t.Lock()
	if h, page, ok := t.tryAllocLocked(st, creator, shareable, key); ok {
		t.Unlock()
		return h, page, 0
	}
	t.Unlock()

	if err := t.Evict(); err != 0 {
		return handle.H{}, nil, err
	}

	t.Lock()
	h, page, ok := t.tryAllocLocked(st, creator, shareable, key)
	t.Unlock()
	if !ok {
		return handle.H{}, nil, -defs.ENOMEM
	}
	return h, page, 0
}

// Discard releases a frame directly by its own handle, bypassing the
// creator-SPT-entry bookkeeping FreeFromSPT performs. It is for
// rollback paths where a frame was just allocated but never linked
// into an SPT entry or share-table alias — e.g. the page-fault
// handler discarding a frame after a short read (spec.md §4.6: "Any
// allocation or install failure rolls back: free the allocated
// frame").
func (t *Table) Discard(h handle.H) {
	t.Lock()
	defer t.Unlock()
	t.freeFrameLocked(h)
}

// freeFrameLocked removes h from the arena/clock order, moving the
// clock hand to the predecessor element first if it pointed at h
// (spec.md §4.2: "If the clock hand referred to this frame, move it
// to the previous element first"). Callers must hold t.Mutex.
func (t *Table) freeFrameLocked(h handle.H) {
	idx, ok := t.pos[h]
	if !ok {
		return
	}
	if t.hand == idx {
		if idx > 0 {
			t.hand = idx - 1
		} else if len(t.order) > 1 {
			// The circular predecessor of index 0 is the last element,
			// which sits at len-2 once h is removed below.
			t.hand = len(t.order) - 2
		} else {
			t.hand = 0
		}
	} else if t.hand > idx {
		t.hand--
	}
	t.order = append(t.order[:idx], t.order[idx+1:]...)
	delete(t.pos, h)
	for i := idx; i < len(t.order); i++ {
		t.pos[t.order[i]] = i
	}
	delete(t.arena, h)
	if t.metrics != nil {
		t.metrics.FramesInUse.Set(float64(len(t.arena)))
	}
}

func (t *Table) advanceHandLocked() {
	if len(t.order) == 0 {
		t.hand = 0
		return
	}
	t.hand = (t.hand + 1) % len(t.order)
}

// FreeFromSPT releases the frame referenced by the SPT entry h in st
// (spec.md §4.2). If the frame is shareable, st/h is removed from the
// share entry's alias list; the share entry and frame are freed only
// once that list becomes empty. Otherwise the frame is freed outright.
// The owner's page-directory mapping for the entry's vaddr is always
// cleared.
func (t *Table) FreeFromSPT(st *spt.Table, h spt.Handle) {
	e, ok := st.Get(h)
	if !ok || !e.Frame.Valid() {
		return
	}
	frameH := e.Frame

	t.Lock()
	fe, ok := t.arena[frameH]
	if !ok {
		t.Unlock()
		e.Frame = handle.H{}
		e.Share = handle.H{}
		return
	}

	if fe.shareable {
		t.share.Lock()
		empty := t.share.RemoveAlias(fe.key, share.Alias{Table: st, Entry: h})
		if empty {
			t.share.Delete(fe.key)
			t.freeFrameLocked(frameH)
		}
		t.share.Unlock()
	} else {
		t.freeFrameLocked(frameH)
	}
	t.Unlock()

	e.Owner.AddressSpace().Clear(e.VAddr)
	e.Frame = handle.H{}
	e.Share = handle.H{}
}

// Evict runs the clock replacement algorithm (spec.md §4.2.1),
// reclaiming exactly one frame and returning 0, or failing with
// -defs.ENOMEM if the table is empty or every frame was accessed
// within the bounded 2*|frame_table| hand advances (spec.md §8,
// invariant 7's termination bound).
func (t *Table) Evict() defs.Err_t {
	t.Lock()
	if len(t.order) == 0 {
		t.Unlock()
		return -defs.ENOMEM
	}
	maxSteps := 2 * len(t.order)

	for step := 0; step < maxSteps; step++ {
		if len(t.order) == 0 {
			t.Unlock()
			return -defs.ENOMEM
		}
		idx := t.hand
		h := t.order[idx]
		fe := t.arena[h]

		if fe.shareable {
			if done := t.evictShareableStep(fe, h); done {
				t.Unlock()
				return 0
			}
			continue
		}
		if done, err := t.evictSingleOwnerStep(fe, h); done {
			t.Unlock()
			return err
		}
	}
	t.Unlock()
	return -defs.ENOMEM
}

// evictShareableStep runs one clock step for a shareable frame.
// Returns true if a frame was freed (Evict should return success).
// Callers must hold t.Mutex; it advances the hand itself when it does
// not evict.
func (t *Table) evictShareableStep(fe *frameEntry, h handle.H) bool {
	t.share.Lock()
	frameH, members, ok := t.share.FindOrAbsent(fe.key)
	if !ok || frameH != h {
		t.share.Unlock()
		t.advanceHandLocked()
		return false
	}

	accessed := false
	for _, m := range members {
		e, ok := m.Table.Get(m.Entry)
		if !ok {
			continue
		}
		as := e.Owner.AddressSpace()
		if as.Accessed(e.VAddr) {
			accessed = true
		}
		as.ClearAccessed(e.VAddr)
	}
	if accessed {
		fe.r = true
		t.share.Unlock()
		t.advanceHandLocked()
		return false
	}
	if !fe.r {
		for _, m := range members {
			if e, ok := m.Table.Get(m.Entry); ok {
				e.Owner.AddressSpace().Clear(e.VAddr)
				e.Frame = handle.H{}
				e.Share = handle.H{}
			}
		}
		t.share.Delete(fe.key)
		t.freeFrameLocked(h)
		t.share.Unlock()
		if t.metrics != nil {
			t.metrics.EvictionsTotal.Inc()
			t.metrics.ShareTableSize.Set(float64(t.share.Size()))
		}
		return true
	}
	fe.r = false
	t.share.Unlock()
	t.advanceHandLocked()
	return false
}

// evictSingleOwnerStep runs one clock step for a single-owner frame.
// Returns (true, err) if Evict should stop (either a frame was freed,
// err==0, or an unrecoverable I/O error occurred, err!=0); callers
// must hold t.Mutex.
func (t *Table) evictSingleOwnerStep(fe *frameEntry, h handle.H) (bool, defs.Err_t) {
	e, ok := fe.creatorTable.Get(fe.creator)
	if !ok {
		// Creator entry is gone without having freed its frame first;
		// reclaim defensively rather than leak.
		t.freeFrameLocked(h)
		if t.metrics != nil {
			t.metrics.EvictionsTotal.Inc()
		}
		return true, 0
	}
	as := e.Owner.AddressSpace()
	accessed := as.Accessed(e.VAddr)
	as.ClearAccessed(e.VAddr)
	if accessed {
		fe.r = true
		t.advanceHandLocked()
		return false, 0
	}
	if fe.r {
		fe.r = false
		t.advanceHandLocked()
		return false, 0
	}

	if mmapSrc, isMmap := e.Source.(spt.MmapSource); isMmap {
		if as.Dirty(e.VAddr) {
			if _, err := mmapSrc.File.WriteAt(fe.page[:mmapSrc.ReadBytes], mmapSrc.Ofs); err != nil {
				return true, -defs.ENOMEM
			}
		}
		as.Clear(e.VAddr)
		creator := fe.creator
		creatorTable := fe.creatorTable
		t.freeFrameLocked(h)
		e.Owner.RemoveMmapEntry(creator)
		creatorTable.Destroy(creator)
		if t.metrics != nil {
			t.metrics.EvictionsTotal.Inc()
		}
		return true, 0
	}

	_, isStack := e.Source.(spt.StackSource)
	if isStack || as.Dirty(e.VAddr) {
		if werr := t.swap.WriteOut(swap.Key{Table: fe.creatorTable, Entry: fe.creator}, fe.page); werr != 0 {
			return true, werr
		}
		if t.metrics != nil {
			t.metrics.SwapWritesTotal.Inc()
		}
		e.InSwap = true
	}
	as.Clear(e.VAddr)
	e.Frame = handle.H{}
	t.freeFrameLocked(h)
	if t.metrics != nil {
		t.metrics.EvictionsTotal.Inc()
	}
	return true, 0
}
