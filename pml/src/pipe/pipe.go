// Package pipe implements the unnamed pipe named in spec.md §4.H/4.J's
// `pipe(fds[2])` and §5's pipe_lock/widowed-flag/SIGPIPE contract.
// Grounded directly on original_source's drivers/fs/pipe.c: one
// allocate-on-demand buffer shared between a read end and a write end,
// a widowed flag raised when either side closes, and a write to a
// widowed pipe that queues SIGPIPE and fails with EPIPE. The buffer
// itself is circbuf.Circbuf_t (component — previously built but
// unwired), generalized from the teacher's byte-addressed ring to the
// Userio_i-based Copyin/Copyout calls every other fdops.Fdops_i here
// already uses. Sized to a single physical frame rather than
// pipe.c's PIPE_PAGES*PAGE_SIZE ring, since circbuf.Circbuf_t's Page_i
// backs exactly one frame per buffer (see circbuf.go's Cb_ensure).
package pipe

import (
	"sync"

	"pml/src/circbuf"
	"pml/src/defs"
	"pml/src/fdops"
	"pml/src/physmem"
	"pml/src/signal"
)

// SignalTarget receives the SIGPIPE a write to a widowed pipe raises,
// kept as an interface (rather than *proc.Process_t) so this package
// doesn't import proc, the same seam tty.SignalTarget and
// rusage.Prioritized use.
type SignalTarget interface {
	SendSignal(sig int, info signal.Siginfo_t) defs.Err_t
}

// pipe_t is the shared state behind both ends, guarded by one mutex
// (spec.md §5's pipe_lock) and a condition variable standing in for
// pipe.c's sched_yield() busy-wait — an event-driven wakeup spec.md
// itself says is a legal replacement for the busy loop.
type pipe_t struct {
	mu          sync.Mutex
	cond        *sync.Cond
	cb          circbuf.Circbuf_t
	readClosed  bool // the reader went away: further writes are widowed
	writeClosed bool // the writer went away: reads drain then see EOF
}

// New allocates a pipe's shared buffer (lazily backed by one physical
// frame drawn from mem on first use) and returns its two ends.
func New(mem circbuf.Page_i) (*ReadEnd, *WriteEnd) {
	p := &pipe_t{}
	p.cond = sync.NewCond(&p.mu)
	p.cb.Cb_init(physmem.PGSIZE, mem)
	return &ReadEnd{p: p}, &WriteEnd{p: p}
}

// ReadEnd is the fds[0] half of a pipe(fds[2]) pair.
type ReadEnd struct {
	p *pipe_t
}

// WriteEnd is the fds[1] half; Target is wired by whatever syscall
// dispatch creates the pipe, since only it knows which process a
// SIGPIPE belongs to.
type WriteEnd struct {
	p      *pipe_t
	Target SignalTarget
}

func (r *ReadEnd) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.cb.Empty() && !p.writeClosed {
		p.cond.Wait()
	}
	if p.cb.Empty() && p.writeClosed {
		return 0, 0 // EOF: writer gone and nothing left buffered
	}
	n, err := p.cb.Copyout(dst)
	p.cond.Broadcast()
	return n, err
}

func (r *ReadEnd) Close() defs.Err_t {
	p := r.p
	p.mu.Lock()
	p.readClosed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return 0
}

func (r *ReadEnd) Reopen() defs.Err_t { return 0 }
func (r *ReadEnd) Fstat(st []uint8) defs.Err_t { return 0 }
func (r *ReadEnd) Lseek(off int, whence int) (int, defs.Err_t)  { return 0, defs.ESPIPE }
func (r *ReadEnd) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t)  { return 0, defs.ESPIPE }
func (r *ReadEnd) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) { return 0, defs.ESPIPE }
func (r *ReadEnd) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, defs.EBADF }
func (r *ReadEnd) Truncate(newlen uint) defs.Err_t { return defs.EINVAL }
func (r *ReadEnd) Pathi() (string, defs.Err_t) { return "", defs.ENOTSUP }
func (r *ReadEnd) Pollone(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	var ready fdops.Ready_t
	if pm.Events&fdops.READY_READ != 0 && (!p.cb.Empty() || p.writeClosed) {
		ready |= fdops.READY_READ
	}
	return ready, 0
}

func (w *WriteEnd) Write(src fdops.Userio_i) (int, defs.Err_t) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readClosed {
		if w.Target != nil {
			w.Target.SendSignal(signal.SIGPIPE, signal.Siginfo_t{Code: int(defs.EPIPE)})
		}
		return 0, defs.EPIPE
	}
	for p.cb.Full() && !p.readClosed {
		p.cond.Wait()
	}
	if p.readClosed {
		if w.Target != nil {
			w.Target.SendSignal(signal.SIGPIPE, signal.Siginfo_t{Code: int(defs.EPIPE)})
		}
		return 0, defs.EPIPE
	}
	n, err := p.cb.Copyin(src)
	p.cond.Broadcast()
	return n, err
}

func (w *WriteEnd) Close() defs.Err_t {
	p := w.p
	p.mu.Lock()
	p.writeClosed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return 0
}

func (w *WriteEnd) Reopen() defs.Err_t { return 0 }
func (w *WriteEnd) Fstat(st []uint8) defs.Err_t { return 0 }
func (w *WriteEnd) Lseek(off int, whence int) (int, defs.Err_t)  { return 0, defs.ESPIPE }
func (w *WriteEnd) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t)  { return 0, defs.ESPIPE }
func (w *WriteEnd) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) { return 0, defs.ESPIPE }
func (w *WriteEnd) Read(dst fdops.Userio_i) (int, defs.Err_t) { return 0, defs.EBADF }
func (w *WriteEnd) Truncate(newlen uint) defs.Err_t { return defs.EINVAL }
func (w *WriteEnd) Pathi() (string, defs.Err_t) { return "", defs.ENOTSUP }
func (w *WriteEnd) Pollone(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	var ready fdops.Ready_t
	if pm.Events&fdops.READY_WRITE != 0 && (!p.cb.Full() || p.readClosed) {
		ready |= fdops.READY_WRITE
	}
	return ready, 0
}
