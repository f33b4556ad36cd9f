// Package lock provides the kernel's synchronization primitives: a
// test-and-set spinlock, a single global "thread switch" flag the
// scheduler honours, and a counting semaphore with an explicit list of
// blocked threads (component A of the design).
package lock

import (
	"sync/atomic"
)

// Spinlock_t is a test-and-set spinlock. It backs entropy_lock; the
// PID allocator, pipes and the kernel heap use sync.Mutex instead.
type Spinlock_t struct {
	taken uint32
}

// Lock spins until the lock is acquired.
func (l *Spinlock_t) Lock() {
	for !atomic.CompareAndSwapUint32(&l.taken, 0, 1) {
	}
}

// Unlock releases the lock. It panics if the lock was not held, which
// would indicate a double-unlock bug in the caller.
func (l *Spinlock_t) Unlock() {
	if !atomic.CompareAndSwapUint32(&l.taken, 1, 0) {
		panic("spinlock: unlock of unheld lock")
	}
}

// TryLock attempts to acquire the lock without spinning.
func (l *Spinlock_t) TryLock() bool {
	return atomic.CompareAndSwapUint32(&l.taken, 0, 1)
}

// Flag_t models thread_switch_lock: a single global non-reentrant flag
// that, while set, tells the scheduler the current context is
// uninterruptible. Every code path that mutates thread/process queues,
// fd slots, or mmap tables must hold it across the mutation.
type Flag_t struct {
	set uint32
}

// Raise sets the flag. It panics on an attempted nested use, matching
// spec.md §5's "nested uses are not supported" note.
func (f *Flag_t) Raise() {
	if !atomic.CompareAndSwapUint32(&f.set, 0, 1) {
		panic("thread_switch_lock: nested use")
	}
}

// Lower clears the flag.
func (f *Flag_t) Lower() {
	if !atomic.CompareAndSwapUint32(&f.set, 1, 0) {
		panic("thread_switch_lock: lower of unraised flag")
	}
}

// Held reports whether the flag is currently raised; the scheduler
// consults this before attempting a context switch.
func (f *Flag_t) Held() bool {
	return atomic.LoadUint32(&f.set) != 0
}

// Sema_t is a counting semaphore with an explicit FIFO of blocked
// waiters, matching spec.md's "blocked-thread list" framing rather than
// a condition variable hidden inside the runtime.
type Sema_t struct {
	sp       Spinlock_t
	count    int
	waiters  []chan struct{}
}

// MkSema returns a semaphore with the given initial count.
func MkSema(initial int) *Sema_t {
	return &Sema_t{count: initial}
}

// Down blocks until a unit is available, then consumes it.
func (s *Sema_t) Down() {
	s.sp.Lock()
	if s.count > 0 {
		s.count--
		s.sp.Unlock()
		return
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.sp.Unlock()
	<-ch
}

// TryDown attempts to consume a unit without blocking.
func (s *Sema_t) TryDown() bool {
	s.sp.Lock()
	defer s.sp.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// Up releases a unit, waking the oldest blocked waiter if any.
func (s *Sema_t) Up() {
	s.sp.Lock()
	if len(s.waiters) > 0 {
		ch := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.sp.Unlock()
		close(ch)
		return
	}
	s.count++
	s.sp.Unlock()
}

// Nwaiters reports how many threads are currently blocked, for
// diagnostics and tests.
func (s *Sema_t) Nwaiters() int {
	s.sp.Lock()
	defer s.sp.Unlock()
	return len(s.waiters)
}
