// Package physmem implements the physical frame allocator (component C):
// a page-aligned free stack over a bump region carved out of the boot
// memory map. It is grounded on the teacher's mem.Physmem_t, simplified
// to the free-stack-plus-bump-pointer model spec.md §3/§4.C describes
// (the teacher's per-CPU free lists are a scalability refinement for the
// SMP execution this revision explicitly declines to schedule, so they
// are dropped rather than carried unused — see DESIGN.md).
package physmem

import (
	"sync"

	"pml/src/defs"
	"pml/src/lock"
)

const pgshift = 12

// PGSIZE is the size of one physical frame in bytes.
const PGSIZE = 1 << pgshift

// Pa_t is a physical address.
type Pa_t uintptr

// pground rounds a down to the start of its containing page.
func pground(a Pa_t) Pa_t {
	return a &^ (PGSIZE - 1)
}

// hole_t describes a range of physical memory the boot memory map marks
// unusable (reserved, ACPI, etc.) that the bump allocator must skip.
type hole_t struct {
	start, end Pa_t // [start, end)
}

// Allocator_t is the free-stack-over-bump physical frame allocator.
// Frames on the free stack are zeroed when popped (invariant 2 in
// spec.md §8); the bump region hands out fresh frames, skipping holes
// declared by the boot memory map.
type Allocator_t struct {
	mu sync.Mutex
	sp lock.Spinlock_t

	// Linear backs the "zero on pop" invariant: it maps a physical
	// frame to a byte slice the allocator can memset.
	Linear func(Pa_t) []byte

	freeStack  []Pa_t // stack of freed frame addresses
	bumpNext   Pa_t
	bumpEnd    Pa_t
	holes      []hole_t
	totalBytes int64
	handedOut  int64

	refcnt map[Pa_t]int32
}

// MkAllocator creates an allocator over [bumpStart, bumpEnd), with the
// given holes excluded from the bump region, and linear mapping
// function used to zero popped frames.
func MkAllocator(bumpStart, bumpEnd Pa_t, holes []hole_t, linear func(Pa_t) []byte) *Allocator_t {
	a := &Allocator_t{
		bumpNext: pground(bumpStart + PGSIZE - 1),
		bumpEnd:  bumpEnd,
		holes:    holes,
		Linear:   linear,
		refcnt:   make(map[Pa_t]int32),
	}
	a.totalBytes = int64(bumpEnd - a.bumpNext)
	return a
}

func (a *Allocator_t) inHole(p Pa_t) bool {
	for _, h := range a.holes {
		if p >= h.start && p < h.end {
			return true
		}
	}
	return false
}

// AllocFrame returns a newly allocated, zero-filled physical frame, or
// (0, false) if the allocator is exhausted.
func (a *Allocator_t) AllocFrame() (Pa_t, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freeStack); n > 0 {
		p := a.freeStack[n-1]
		a.freeStack = a.freeStack[:n-1]
		if a.Linear != nil {
			buf := a.Linear(p)
			for i := range buf {
				buf[i] = 0
			}
		}
		a.handedOut++
		a.refcnt[p] = 1
		return p, true
	}

	for a.bumpNext < a.bumpEnd {
		p := a.bumpNext
		a.bumpNext += PGSIZE
		if a.inHole(p) {
			continue
		}
		a.handedOut++
		a.refcnt[p] = 1
		// Bump-region frames are assumed already zero (fresh boot
		// memory); callers that need a guarantee should zero
		// explicitly, matching the teacher's Refpg_new vs
		// Refpg_new_nozero split.
		return p, true
	}
	return 0, false
}

// FreeFrame pushes a frame back onto the free stack. The address is
// aligned down to a page boundary first, matching spec.md §4.C.
func (a *Allocator_t) FreeFrame(p Pa_t) {
	p = pground(p)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeStack = append(a.freeStack, p)
	a.handedOut--
	delete(a.refcnt, p)
}

// Refcnt returns the current reference count of the frame at p,
// matching the teacher's mem.Physmem_t.Refcnt.
func (a *Allocator_t) Refcnt(p Pa_t) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.refcnt[pground(p)])
}

// Refup increments the reference count of the frame at p, for a CoW
// clone that now shares it.
func (a *Allocator_t) Refup(p Pa_t) {
	p = pground(p)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refcnt[p]++
}

// Refdown decrements the reference count of the frame at p, pushing it
// back onto the free stack (left un-zeroed; the next AllocFrame pop
// zeroes it) if it drops to zero. Reports whether the frame was freed.
func (a *Allocator_t) Refdown(p Pa_t) bool {
	p = pground(p)
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.refcnt[p] - 1
	if n > 0 {
		a.refcnt[p] = n
		return false
	}
	delete(a.refcnt, p)
	a.handedOut--
	a.freeStack = append(a.freeStack, p)
	return true
}

// Dmap maps a frame this allocator handed out to its backing bytes via
// the same Linear function AllocFrame zeroes through, letting an
// Allocator_t stand in wherever a Page_i (allocate-and-map) is needed
// instead of requiring a separate Ram_t reference.
func (a *Allocator_t) Dmap(p Pa_t) []byte {
	return a.Linear(pground(p))
}

// Stats reports the number of frames currently handed out and the total
// capacity in bytes, for diagnostics.
func (a *Allocator_t) Stats() (handedOut int64, totalBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handedOut, a.totalBytes
}

// ErrOOM is returned by callers that wrap AllocFrame's boolean result in
// the kernel's Err_t convention.
const ErrOOM = defs.ENOMEM
