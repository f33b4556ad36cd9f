package kheap

import (
	"testing"

	"pml/src/physmem"
)

func testHeap() (*Heap_t, *physmem.Allocator_t) {
	ram := physmem.MkRam(0x100000)
	alloc := physmem.MkAllocator(ram.Fresh(), ram.Fresh()+256*physmem.PGSIZE, nil, ram.Dmap)
	h := MkHeap(alloc.AllocFrame, ram.Dmap)
	return h, alloc
}

func TestAllocFreeCoalesce(t *testing.T) {
	h, _ := testHeap()

	a, err := h.Alloc(64)
	if err != 0 {
		t.Fatalf("alloc a: %v", err)
	}
	b, err := h.Alloc(64)
	if err != 0 {
		t.Fatalf("alloc b: %v", err)
	}
	usedAfterTwo := h.Used()
	if usedAfterTwo <= 0 {
		t.Fatalf("expected nonzero used, got %d", usedAfterTwo)
	}

	if err := h.Free(a); err != 0 {
		t.Fatalf("free a: %v", err)
	}
	if err := h.Free(b); err != 0 {
		t.Fatalf("free b: %v", err)
	}
	if h.Used() != 0 {
		t.Fatalf("expected heap fully reclaimed after coalescing, used=%d", h.Used())
	}

	// A subsequent allocation of the combined size should succeed
	// without growing the arena, proving the two blocks coalesced.
	before := len(h.arena)
	c, err := h.Alloc(96)
	if err != 0 {
		t.Fatalf("alloc c: %v", err)
	}
	if len(h.arena) != before {
		t.Fatalf("arena grew on an allocation that should have reused coalesced space")
	}
	if err := h.Free(c); err != 0 {
		t.Fatalf("free c: %v", err)
	}
}

func TestAllocZeroed(t *testing.T) {
	h, _ := testHeap()
	buf, err := h.Alloc(128)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %v", i, v)
		}
	}
}

func TestDoubleFreeRejected(t *testing.T) {
	h, _ := testHeap()
	buf, _ := h.Alloc(32)
	if err := h.Free(buf); err != 0 {
		t.Fatalf("first free: %v", err)
	}
	if err := h.Free(buf); err == 0 {
		t.Fatalf("expected double free to be rejected")
	}
}
