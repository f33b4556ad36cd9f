// Package vm implements the virtual memory manager (component D) and
// the per-process memory-mapping table (component G). It is grounded on
// the teacher's vm.Vm_t/mem.Pmap_t, generalized from the teacher's
// fixed two-level page-walk helpers to the full four-level PML4 walk
// spec.md §3/§4.D describes, including the software COW bit and
// huge-page identity mapping of physical RAM.
package vm

import (
	"pml/src/physmem"
)

type Pa_t = physmem.Pa_t

const PGSIZE = physmem.PGSIZE
const pgshift = 12

// Page-table entry bits (spec.md §3): present/RW/user/write-through/
// no-cache/accessed/dirty/size/global, plus the non-architectural COW
// bit borrowed from the software-available range.
const (
	PTE_P   Pa_t = 1 << 0
	PTE_W   Pa_t = 1 << 1
	PTE_U   Pa_t = 1 << 2
	PTE_PWT Pa_t = 1 << 3
	PTE_PCD Pa_t = 1 << 4
	PTE_A   Pa_t = 1 << 5
	PTE_D   Pa_t = 1 << 6
	PTE_PS  Pa_t = 1 << 7 // SIZE: terminates the walk early (1G/2M page)
	PTE_G   Pa_t = 1 << 8
	PTE_COW Pa_t = 1 << 9 // software-available bit: CoW stack page

	pgoffset Pa_t = 0xfff
	pgmask   Pa_t = ^pgoffset
	// PTE_ADDR extracts the physical frame address from an entry,
	// masking off both the low flag bits and the high no-execute/
	// reserved bits outside the 52-bit physical address range.
	PTE_ADDR Pa_t = 0x000f_ffff_ffff_f000
)

// Address-space layout constants (spec.md §3).
const (
	UserTop       = 0x00007fff_ffffffff
	ThreadLocalVA = 0xfffffdff_00000000
	ThreadLocalSz = 4 << 30 // 4 GiB window
	LinearRamVA   = 0xfffffe00_00000000
	LinearRamSz   = 2 << 40 // 2 TiB identity-mapped window
)

const entries = 512

// level identifies one of the four x86-64 page-table levels.
type level int

const (
	lvlPML4 level = 4
	lvlPDPT level = 3
	lvlPDT  level = 2
	lvlPT   level = 1
)

// shift returns the bit position of the index field for this level.
func (l level) shift() uint {
	return pgshift + 9*uint(l-1)
}

// index extracts this level's 9-bit index out of a virtual address.
func (l level) index(va uintptr) int {
	return int((va >> l.shift()) & 0x1ff)
}

// canonical reports whether va is a canonical x86-64 virtual address
// (bits 48..63 are a sign-extension of bit 47).
func canonical(va uintptr) bool {
	top := va >> 47
	return top == 0 || top == 0x1ffff
}
