package vm

import (
	"encoding/binary"
	"sync"

	"pml/src/defs"
	"pml/src/physmem"
)

// Ram_i abstracts the RAM backing store so the walker
// doesn't need to know how physical frames are stored.
type Ram_i interface {
	Dmap(physmem.Pa_t) []byte
}

// pagetab reads the 512 64-bit entries of the table living at pa.
func pagetab(ram Ram_i, pa Pa_t) []Pa_t {
	buf := ram.Dmap(pa)
	out := make([]Pa_t, entries)
	for i := 0; i < entries; i++ {
		out[i] = Pa_t(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out
}

func writePTE(ram Ram_i, pa Pa_t, idx int, val Pa_t) {
	buf := ram.Dmap(pa)
	binary.LittleEndian.PutUint64(buf[idx*8:], uint64(val))
}

func readPTE(ram Ram_i, pa Pa_t, idx int) Pa_t {
	buf := ram.Dmap(pa)
	return Pa_t(binary.LittleEndian.Uint64(buf[idx*8:]))
}

// Frames_i is the subset of the physical allocator the VMM needs.
type Frames_i interface {
	AllocFrame() (physmem.Pa_t, bool)
	FreeFrame(physmem.Pa_t)
	Refcnt(physmem.Pa_t) int
	Refup(physmem.Pa_t)
	Refdown(physmem.Pa_t) bool
}

// Vm_t is a process address space: the physical address of its PML4,
// plus the memory-mapping table (component G) kept sorted by base. The
// mutex protects both the page tables and Mmaps, matching the
// teacher's single as-lock covering Vmregion+Pmap.
type Vm_t struct {
	sync.Mutex

	PML4   Pa_t
	Ram    Ram_i
	Frames Frames_i

	Mmaps []*Region_t // sorted by Base, non-overlapping
}

// MkAddrSpace allocates a fresh, empty PML4.
func MkAddrSpace(ram Ram_i, frames Frames_i) (*Vm_t, defs.Err_t) {
	p, ok := frames.AllocFrame()
	if !ok {
		return nil, defs.ENOMEM
	}
	return &Vm_t{PML4: p, Ram: ram, Frames: frames}, 0
}

// Translate walks the page tables for va and returns the mapped
// physical address, or (0, false) if unmapped. A PTE with the SIZE bit
// set terminates the walk early at a huge/large page.
func Translate(ram Ram_i, pml4 Pa_t, va uintptr) (Pa_t, bool) {
	if !canonical(va) {
		return 0, false
	}
	tab := pml4
	for lvl := lvlPML4; lvl >= lvlPT; lvl-- {
		idx := lvl.index(va)
		pte := readPTE(ram, tab, idx)
		if pte&PTE_P == 0 {
			return 0, false
		}
		if lvl != lvlPT && pte&PTE_PS != 0 {
			// Huge/large page: mask to this level's frame size
			// and OR in the low bits of va.
			frameMask := Pa_t(^(uintptr(1)<<lvl.shift() - 1))
			off := Pa_t(va) & ^frameMask
			return (pte & PTE_ADDR & frameMask) | off, true
		}
		tab = pte & PTE_ADDR
	}
	off := Pa_t(va) & pgoffset
	return (tab & PTE_ADDR) | off, true
}

// ensureTable returns the physical address of the next-level table
// reached by idx in tab, allocating and zeroing it (with user+RW bits,
// since a leaf mapping beneath it may eventually be user-accessible)
// if it is not yet present.
func ensureTable(ram Ram_i, frames Frames_i, tab Pa_t, idx int) (Pa_t, bool) {
	pte := readPTE(ram, tab, idx)
	if pte&PTE_P != 0 {
		return pte & PTE_ADDR, true
	}
	np, ok := frames.AllocFrame()
	if !ok {
		return 0, false
	}
	buf := ram.Dmap(np)
	for i := range buf {
		buf[i] = 0
	}
	writePTE(ram, tab, idx, np|PTE_P|PTE_W|PTE_U)
	return np, true
}

// Map installs a mapping from va to pa with the given extra flags
// (e.g. PTE_W, PTE_U, PTE_COW) OR'd onto PTE_P. It allocates any
// missing intermediate tables. Returns false on allocation failure,
// rolling back any tables it allocated for this call.
func Map(ram Ram_i, frames Frames_i, pml4 Pa_t, pa physmem.Pa_t, va uintptr, extra Pa_t) bool {
	if !canonical(va) {
		return false
	}
	tab := pml4
	var allocated [][2]Pa_t // {parent table, index} of each table installed
	for lvl := lvlPML4; lvl >= lvlPDT; lvl-- {
		idx := lvl.index(va)
		before := readPTE(ram, tab, idx)
		nt, ok := ensureTable(ram, frames, tab, idx)
		if !ok {
			for i := len(allocated) - 1; i >= 0; i-- {
				a := allocated[i]
				t := readPTE(ram, a[0], int(a[1])) & PTE_ADDR
				writePTE(ram, a[0], int(a[1]), 0)
				frames.FreeFrame(t)
			}
			return false
		}
		if before&PTE_P == 0 {
			allocated = append(allocated, [2]Pa_t{tab, Pa_t(idx)})
		}
		tab = nt
	}
	idx := lvlPT.index(va)
	writePTE(ram, tab, idx, pa|PTE_P|extra)
	return true
}

// Unmap clears the mapping for va, if any. It does not free the
// underlying frame; callers drop their own reference via the physical
// allocator's refcounting.
func Unmap(ram Ram_i, pml4 Pa_t, va uintptr) {
	tab := pml4
	for lvl := lvlPML4; lvl >= lvlPDT; lvl-- {
		idx := lvl.index(va)
		pte := readPTE(ram, tab, idx)
		if pte&PTE_P == 0 {
			return
		}
		tab = pte & PTE_ADDR
	}
	idx := lvlPT.index(va)
	writePTE(ram, tab, idx, 0)
}

// FreeTable recursively tears down a page-table tree, freeing every
// child that is present and not a terminal huge/large page (those
// frames are user data, owned by the mmap table / physical refcounts,
// not by the page-table walk).
func FreeTable(ram Ram_i, frames Frames_i, lvl level, tab Pa_t) {
	if lvl == lvlPT {
		frames.FreeFrame(tab)
		return
	}
	for i := 0; i < entries; i++ {
		pte := readPTE(ram, tab, i)
		if pte&PTE_P == 0 {
			continue
		}
		if pte&PTE_PS != 0 {
			continue // huge/large leaf: not a table, don't recurse
		}
		FreeTable(ram, frames, lvl-1, pte&PTE_ADDR)
	}
	frames.FreeFrame(tab)
}

// CloneSpace duplicates the page-table structure of src into a new
// address space for fork: user mappings below the thread-local region
// are shared copy-on-write at the PDT level (the top-level structure is
// copied, not the data), matching the teacher's CoW stack clone
// generalized to the whole user region.
func CloneSpace(ram Ram_i, frames Frames_i, src Pa_t) (Pa_t, defs.Err_t) {
	dst, ok := frames.AllocFrame()
	if !ok {
		return 0, defs.ENOMEM
	}
	dbuf := ram.Dmap(dst)
	for i := range dbuf {
		dbuf[i] = 0
	}
	// Only the user-space PML4 slots (the lower half, 0..255) need
	// cloning; kernel slots are shared as-is.
	for i := 0; i < entries/2; i++ {
		pte := readPTE(ram, src, i)
		if pte&PTE_P == 0 {
			continue
		}
		clonedPDPT, err := clonePDPT(ram, frames, pte&PTE_ADDR)
		if err != 0 {
			FreeTable(ram, frames, lvlPML4, dst) // best effort rollback
			return 0, err
		}
		writePTE(ram, dst, i, clonedPDPT|PTE_P|PTE_W|PTE_U)
	}
	// Kernel half (including the linear RAM map and thread-local
	// slot) is shared by reference: copy PTEs directly without
	// recursing, since the teacher's kernel PML4 is a singleton.
	for i := entries / 2; i < entries; i++ {
		pte := readPTE(ram, src, i)
		writePTE(ram, dst, i, pte)
	}
	return dst, 0
}

func clonePDPT(ram Ram_i, frames Frames_i, src Pa_t) (Pa_t, defs.Err_t) {
	dst, ok := frames.AllocFrame()
	if !ok {
		return 0, defs.ENOMEM
	}
	for i := 0; i < entries; i++ {
		pte := readPTE(ram, src, i)
		if pte&PTE_P == 0 {
			continue
		}
		if pte&PTE_PS != 0 {
			writePTE(ram, dst, i, pte)
			continue
		}
		clonedPDT, err := clonePDTCow(ram, frames, pte&PTE_ADDR)
		if err != 0 {
			return 0, err
		}
		writePTE(ram, dst, i, clonedPDT|PTE_P|PTE_W|PTE_U)
	}
	return dst, 0
}

// clonePDTCow implements the CoW stack clone of spec.md §4.D: every
// present leaf entry is copied with COW set and RW cleared, and the
// backing frame's refcount is bumped since two address spaces now
// point at it.
func clonePDTCow(ram Ram_i, frames Frames_i, src Pa_t) (Pa_t, defs.Err_t) {
	dst, ok := frames.AllocFrame()
	if !ok {
		return 0, defs.ENOMEM
	}
	for i := 0; i < entries; i++ {
		pte := readPTE(ram, src, i)
		if pte&PTE_P == 0 {
			continue
		}
		if pte&PTE_PS != 0 {
			// Leaf page table entry one level up from here would
			// be unusual at the PT granularity; treat as data leaf.
			np := pte &^ PTE_W
			np |= PTE_COW
			frames.Refup(pte & PTE_ADDR)
			writePTE(ram, src, i, np)
			writePTE(ram, dst, i, np)
			continue
		}
		clonedPT, err := clonePTCow(ram, frames, pte&PTE_ADDR)
		if err != 0 {
			return 0, err
		}
		writePTE(ram, dst, i, clonedPT|PTE_P|PTE_W|PTE_U)
	}
	return dst, 0
}

func clonePTCow(ram Ram_i, frames Frames_i, src Pa_t) (Pa_t, defs.Err_t) {
	dst, ok := frames.AllocFrame()
	if !ok {
		return 0, defs.ENOMEM
	}
	for i := 0; i < entries; i++ {
		pte := readPTE(ram, src, i)
		if pte&PTE_P == 0 {
			continue
		}
		np := (pte &^ PTE_W) | PTE_COW
		frames.Refup(pte & PTE_ADDR)
		writePTE(ram, src, i, np)
		writePTE(ram, dst, i, np)
	}
	return dst, 0
}

// PageFaultCow handles a write fault on a CoW page: if the frame's
// refcount (via refcnt) is 1, no other address space shares it, so the
// fault is resolved in place by clearing COW and setting RW; otherwise
// a fresh frame is allocated, the data duplicated, the old frame's
// reference dropped, and the new frame mapped RW in place of the old
// one. This resolves the fork TODO spec.md §4.D calls out explicitly.
func PageFaultCow(ram Ram_i, frames Frames_i, pml4 Pa_t, va uintptr) defs.Err_t {
	tab := pml4
	for lvl := lvlPML4; lvl >= lvlPDT; lvl-- {
		idx := lvl.index(va)
		pte := readPTE(ram, tab, idx)
		if pte&PTE_P == 0 {
			return defs.EFAULT
		}
		tab = pte & PTE_ADDR
	}
	idx := lvlPT.index(va)
	pte := readPTE(ram, tab, idx)
	if pte&PTE_P == 0 || pte&PTE_COW == 0 {
		return defs.EFAULT
	}
	old := pte & PTE_ADDR
	if frames.Refcnt(old) == 1 {
		writePTE(ram, tab, idx, (pte&^PTE_COW)|PTE_W)
		return 0
	}
	np, ok := frames.AllocFrame()
	if !ok {
		return defs.ENOMEM
	}
	copy(ram.Dmap(np), ram.Dmap(old))
	writePTE(ram, tab, idx, np|PTE_P|PTE_W|PTE_U)
	frames.Refdown(old)
	return 0
}
