// Package kheap implements the kernel's boundary-tag heap allocator
// (component E): a single arena carved out of whole physical frames,
// managed as a doubly-linked list of blocks each bracketed by a header
// and a matching tail tag so a free can coalesce with either neighbor
// without a separate index. It is grounded on the teacher's
// util.Readn/Writen fixed-width field idiom (package util) applied to
// a purpose-built block header rather than an on-disk format.
package kheap

import (
	"sync"
	"unsafe"

	"pml/src/defs"
	"pml/src/physmem"
)

// Block layout: [header][payload...][tail]. Header and tail each store
// the same size-and-free-bit word so a block can be walked in either
// direction; the magic guards against a corrupted or stray free().
const (
	magic     = 0x6b686561 // "khea"
	tagSize   = 16         // size(8, high bit = free) + magic(4), padded to 16
	freeBit   = uint64(1) << 63
	minBlock  = 32
	alignment = 16
)

type tag_t struct {
	size uint64 // high bit is the free flag
	magicWord uint32
}

func (t tag_t) sz() uint64   { return t.size &^ freeBit }
func (t tag_t) free() bool   { return t.size&freeBit != 0 }

// Heap_t is one arena: a contiguous byte range backed by whole
// physical frames, carved into a boundary-tagged block list.
type Heap_t struct {
	mu    sync.Mutex
	arena []byte
	frames []physmem.Pa_t
	alloc func() (physmem.Pa_t, bool)
	dmap  func(physmem.Pa_t) []byte

	used int64
}

// MkHeap creates an empty heap that grows one physical frame at a time
// via alloc, mapped to a byte slice via dmap.
func MkHeap(alloc func() (physmem.Pa_t, bool), dmap func(physmem.Pa_t) []byte) *Heap_t {
	return &Heap_t{alloc: alloc, dmap: dmap}
}

func readTag(b []byte, off int) tag_t {
	size := beUint64(b[off:])
	magicWord := beUint32(b[off+8:])
	return tag_t{size: size, magicWord: magicWord}
}

func writeTag(b []byte, off int, sz uint64, free bool) {
	s := sz
	if free {
		s |= freeBit
	}
	bePutUint64(b[off:], s)
	bePutUint32(b[off+8:], magic)
}

func beUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
func bePutUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
func beUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v = v<<8 | uint32(b[i])
	}
	return v
}
func bePutUint32(b []byte, v uint32) {
	for i := 3; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// grow appends one more physical frame to the arena and formats it as
// a single free block, coalescing with a trailing free block if the
// new frame happens to be contiguous in the arena's byte space (it
// always is, since grow always appends at the end).
func (h *Heap_t) grow() bool {
	pa, ok := h.alloc()
	if !ok {
		return false
	}
	buf := h.dmap(pa)
	base := len(h.arena)
	h.arena = append(h.arena, buf...)
	h.frames = append(h.frames, pa)
	sz := uint64(len(buf)) - 2*tagSize
	off := base
	if base >= tagSize {
		lt := readTag(h.arena, base-tagSize)
		if lt.magicWord == magic && lt.free() {
			off = base - tagSize - int(lt.sz()) - tagSize
			sz += 2*tagSize + lt.sz()
		}
	}
	writeTag(h.arena, off, sz, true)
	writeTag(h.arena, base+len(buf)-tagSize, sz, true)
	return true
}

func roundup(v, n int) int { return (v + n - 1) &^ (n - 1) }

// Alloc returns n bytes of zeroed heap memory aligned to 16 bytes, or
// ENOMEM if the heap cannot grow further.
func (h *Heap_t) Alloc(n int) ([]byte, defs.Err_t) {
	if n <= 0 {
		return nil, defs.EINVAL
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	need := uint64(roundup(n, alignment))
	if need < minBlock {
		need = minBlock
	}

	for {
		if off, ok := h.firstFit(need); ok {
			h.split(off, need)
			payload := h.arena[off+tagSize : off+tagSize+int(need)]
			for i := range payload {
				payload[i] = 0
			}
			h.used += int64(need)
			return payload[:n], 0
		}
		if !h.grow() {
			return nil, defs.ENOMEM
		}
	}
}

func (h *Heap_t) firstFit(need uint64) (int, bool) {
	off := 0
	for off < len(h.arena) {
		t := readTag(h.arena, off)
		if t.magicWord != magic {
			panic("kheap: corrupt header")
		}
		if t.free() && t.sz() >= need {
			return off, true
		}
		off += int(t.sz()) + 2*tagSize
	}
	return 0, false
}

// split marks block at off (of size >= need) allocated, splitting off
// a trailing free block when the remainder is large enough to hold
// its own tag pair plus a minimum payload.
func (h *Heap_t) split(off int, need uint64) {
	t := readTag(h.arena, off)
	total := t.sz()
	rem := total - need
	if rem >= minBlock+2*tagSize {
		writeTag(h.arena, off, need, false)
		writeTag(h.arena, off+tagSize+int(need), need, false)
		newOff := off + tagSize + int(need) + tagSize
		newSz := rem - 2*tagSize
		writeTag(h.arena, newOff, newSz, true)
		writeTag(h.arena, newOff+tagSize+int(newSz), newSz, true)
	} else {
		writeTag(h.arena, off, total, false)
		writeTag(h.arena, off+tagSize+int(total), total, false)
	}
}

// Free releases a block previously returned by Alloc, coalescing with
// either physically adjacent neighbor that is itself free.
func (h *Heap_t) Free(buf []byte) defs.Err_t {
	if len(buf) == 0 {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	off := h.offsetOf(buf)
	if off < 0 {
		return defs.EUCLEAN
	}
	t := readTag(h.arena, off)
	if t.magicWord != magic || t.free() {
		return defs.EUCLEAN
	}
	sz := t.sz()
	h.used -= int64(sz)

	// Coalesce with the block to the right.
	rightOff := off + tagSize + int(sz) + tagSize
	if rightOff < len(h.arena) {
		rt := readTag(h.arena, rightOff)
		if rt.magicWord == magic && rt.free() {
			sz += 2*tagSize + rt.sz()
		}
	}
	// Coalesce with the block to the left.
	if off >= tagSize {
		lt := readTag(h.arena, off-tagSize)
		if lt.magicWord == magic && lt.free() {
			lsz := lt.sz()
			off = off - tagSize - int(lsz) - tagSize
			sz += 2*tagSize + lsz
		}
	}
	writeTag(h.arena, off, sz, true)
	writeTag(h.arena, off+tagSize+int(sz), sz, true)
	return 0
}

func (h *Heap_t) offsetOf(buf []byte) int {
	if len(h.arena) == 0 {
		return -1
	}
	base := uintptr(unsafe.Pointer(&h.arena[0]))
	off := int(uintptr(unsafe.Pointer(&buf[0])) - base)
	if off < tagSize || off >= len(h.arena) {
		return -1
	}
	return off - tagSize
}

// Used reports the number of bytes currently allocated out of the heap.
func (h *Heap_t) Used() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}
