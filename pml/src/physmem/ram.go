package physmem

import "sync"

// Ram_t is a hosted stand-in for "all of physical memory linearly
// mapped at a high offset" (spec.md §3's linear-RAM region): since this
// kernel runs as an ordinary Go program rather than on bare metal,
// physical frames are simply slices drawn from a Go-managed backing
// store, addressed by the same Pa_t values the page-table and ext2 code
// already use. Dmap(pa) is the hosted equivalent of indexing the linear
// map at pa's high-offset alias.
type Ram_t struct {
	mu     sync.Mutex
	frames map[Pa_t]*[PGSIZE]byte
	next   Pa_t
}

// MkRam creates an empty RAM backing store. Frame addresses are handed
// out starting at base, page-aligned.
func MkRam(base Pa_t) *Ram_t {
	return &Ram_t{frames: make(map[Pa_t]*[PGSIZE]byte), next: pground(base)}
}

// Dmap returns the byte slice backing the frame at physical address pa,
// allocating backing storage for it lazily (a frame that was handed out
// by the bump allocator but never explicitly zeroed still needs
// somewhere to live).
func (r *Ram_t) Dmap(pa Pa_t) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := pground(pa)
	f, ok := r.frames[p]
	if !ok {
		f = &[PGSIZE]byte{}
		r.frames[p] = f
	}
	return f[:]
}

// Fresh hands back a brand new frame address from the bump region; it
// is the backing store's analogue of the boot memory map's "next free
// physical range", used by MkAllocator's caller to size the bump
// region.
func (r *Ram_t) Fresh() Pa_t {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.next
	r.next += PGSIZE
	return p
}

// Release drops the backing storage for a frame, simulating the memory
// becoming available to the host OS again.
func (r *Ram_t) Release(pa Pa_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.frames, pground(pa))
}
