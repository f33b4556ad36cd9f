// Package tinfo tracks per-thread kill/doom state used to tear down a
// thread that a signal or exit has targeted mid-syscall. The teacher
// threads the running thread's Tnote_t through a patched runtime's
// g-local pointer (runtime.Gptr/Setgptr); since this module runs on an
// unmodified Go runtime, the current thread's note travels explicitly
// via context.Context instead, using the Go idiom for request-scoped
// values.
package tinfo

import (
	"context"
	"sync"

	"pml/src/defs"
)

// Tnote_t stores per-thread state a signal delivery or process exit
// needs to interrupt a blocked syscall.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	// protects Killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

// Threadinfo_t tracks all thread notes belonging to one process, keyed
// by TID.
type Threadinfo_t struct {
	sync.Mutex
	Notes map[defs.Tid_t]*Tnote_t
}

// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

type ctxKey struct{}

// WithCurrent returns a context carrying note as the running thread's
// Tnote_t, for callees that need to check or set doom/kill state
// without it being threaded through every function signature.
func WithCurrent(ctx context.Context, note *Tnote_t) context.Context {
	return context.WithValue(ctx, ctxKey{}, note)
}

// Current returns the Tnote_t installed on ctx by WithCurrent. It
// panics if none was installed, matching the teacher's "must have a
// current thread" invariant.
func Current(ctx context.Context) *Tnote_t {
	t, ok := ctx.Value(ctxKey{}).(*Tnote_t)
	if !ok {
		panic("no current thread note in context")
	}
	return t
}
