// Package proc implements process and thread bookkeeping and the
// cooperative scheduler (component F): PID allocation, the process and
// per-process thread queues yield() walks, fork/exec/exit, and the
// wait4 rendezvous. It is grounded on the teacher's bit-array style
// fixed-size tables (mem.Physmem_t's Pgs array, fs's field accessors)
// generalized to a growable PID bitmap, since no proc package survived
// in the retrieved source for direct adaptation.
package proc

import (
	"sync"

	"pml/src/defs"
)

const maxPid = 32768

// pidAlloc_t is the expanding bit-array PID allocator spec.md §4.F
// describes: a monotonic cursor that only regresses when a PID lower
// than it is freed, so the common case (alloc, free in FIFO order)
// never rescans the bitmap.
type pidAlloc_t struct {
	mu     sync.Mutex
	bits   []uint64 // bit i set means PID i is in use
	cursor int
}

var pids = &pidAlloc_t{bits: make([]uint64, maxPid/64), cursor: 1}

func (p *pidAlloc_t) test(i int) bool {
	return p.bits[i/64]&(1<<uint(i%64)) != 0
}
func (p *pidAlloc_t) set(i int)   { p.bits[i/64] |= 1 << uint(i%64) }
func (p *pidAlloc_t) clear(i int) { p.bits[i/64] &^= 1 << uint(i%64) }

// AllocPid returns a fresh PID, or ENOMEM once every ID up to maxPid is
// in use.
func AllocPid() (defs.Pid_t, defs.Err_t) {
	pids.mu.Lock()
	defer pids.mu.Unlock()
	for i := 0; i < maxPid; i++ {
		c := pids.cursor
		if !pids.test(c) {
			pids.set(c)
			pids.cursor = c + 1
			if pids.cursor >= maxPid {
				pids.cursor = 1 // PID 0 is reserved
			}
			return defs.Pid_t(c), 0
		}
		pids.cursor++
		if pids.cursor >= maxPid {
			pids.cursor = 1
		}
	}
	return 0, defs.ENOMEM
}

// FreePid releases a PID back to the allocator, regressing the cursor
// if the freed PID is lower, so the next allocation prefers reusing
// the lowest free slot (matching spec.md §4.F).
func FreePid(pid defs.Pid_t) {
	pids.mu.Lock()
	defer pids.mu.Unlock()
	pids.clear(int(pid))
	if int(pid) < pids.cursor {
		pids.cursor = int(pid)
	}
}
