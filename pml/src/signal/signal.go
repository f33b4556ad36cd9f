// Package signal implements component K: per-thread pending sigsets,
// the per-process sigaction table, and delivery to a runnable thread.
// Grounded on proc's own scheduler-state shape (a plain mutex-guarded
// struct rather than a lock-free table, matching proc.Process_t) since
// no signal package survived in the retrieved source for direct
// adaptation. The delivery half (building a user-stack sigreturn
// frame) is an IDT-level responsibility and stays outside this
// package, per spec.md §4.K.
package signal

import (
	"sync"

	"pml/src/defs"
)

const (
	SIGHUP  = 1
	SIGINT  = 2
	SIGQUIT = 3
	SIGILL  = 4
	SIGABRT = 6
	SIGFPE  = 8
	SIGKILL = 9
	SIGSEGV = 11
	SIGPIPE = 13
	SIGALRM = 14
	SIGTERM = 15
	SIGCHLD = 17
	SIGCONT = 18
	SIGSTOP = 19
	SIGTSTP = 20
	SIGWINCH = 28
)

// Disp_t is a signal's disposition: the default action, ignored, or
// handled by a registered handler address.
type Disp_t int

const (
	SIG_DFL Disp_t = iota
	SIG_IGN
	SIG_HANDLER
)

// Sigaction_t mirrors struct sigaction's fields this kernel actually
// consults: the disposition, the handler address (meaningless unless
// Disp == SIG_HANDLER), and the mask to install while the handler
// runs.
type Sigaction_t struct {
	Disp    Disp_t
	Handler uintptr
	Mask    uint64
	Flags   int
}

// immutable reports whether sig's disposition can never be changed.
func immutable(sig int) bool {
	return sig == SIGKILL || sig == SIGSTOP
}

// Table_t is one process's sigaction array plus the per-thread pending
// sigsets and siginfo it delivers into. Installed on proc.Process_t as
// its Sigtable.
type Table_t struct {
	mu      sync.Mutex
	actions [defs.NSIG]Sigaction_t
	// pending/info are keyed by thread ID; a thread with no entry has
	// nothing pending.
	pending map[defs.Tid_t]uint64
	info    map[defs.Tid_t]map[int]Siginfo_t
}

// Siginfo_t is the subset of siginfo_t this kernel threads through to
// a handler: the sending process and an optional payload (SIGCHLD's
// exit status, a fault's faulting address).
type Siginfo_t struct {
	Sender defs.Pid_t
	Code   int
	Value  int
}

// NewTable returns a process's initial sigaction table: every signal
// at its default disposition.
func NewTable() *Table_t {
	return &Table_t{
		pending: make(map[defs.Tid_t]uint64),
		info:    make(map[defs.Tid_t]map[int]Siginfo_t),
	}
}

// Sigaction installs a new disposition for sig, returning the previous
// one. SIGKILL and SIGSTOP reject any change with EINVAL, per
// spec.md §4.K.
func (tb *Table_t) Sigaction(sig int, act *Sigaction_t) (Sigaction_t, defs.Err_t) {
	if sig <= 0 || sig >= defs.NSIG {
		return Sigaction_t{}, defs.EINVAL
	}
	if immutable(sig) {
		return Sigaction_t{}, defs.EINVAL
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	old := tb.actions[sig]
	if act != nil {
		tb.actions[sig] = *act
	}
	return old, 0
}

// CloneInto copies every signal's disposition from tb into dst, as
// fork inherits the parent's sigaction table (pending sigsets are not
// inherited — a forked child starts with nothing pending).
func (tb *Table_t) CloneInto(dst *Table_t) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	dst.actions = tb.actions
}

// Disposition returns sig's currently installed action.
func (tb *Table_t) Disposition(sig int) Sigaction_t {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.actions[sig]
}

// blocks reports whether the mask stored with sig's process-wide
// installed action blocks sig; tid is not consulted. With no action
// installed for sig the mask is empty, so sig is never blocked.
func (tb *Table_t) blocks(tid defs.Tid_t, sig int) bool {
	a := tb.actions[sig]
	return a.Mask&(1<<uint(sig-1)) != 0
}

// SendThread sets sig pending for a specific thread and records info,
// coalescing a duplicate (already-pending, un-delivered) raise into a
// single bit per spec.md §4.K — re-raising a signal that hasn't been
// delivered yet does not queue a second delivery.
func (tb *Table_t) SendThread(tid defs.Tid_t, sig int, info Siginfo_t) defs.Err_t {
	if sig <= 0 || sig >= defs.NSIG {
		return defs.EINVAL
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.pending[tid] |= 1 << uint(sig-1)
	if tb.info[tid] == nil {
		tb.info[tid] = make(map[int]Siginfo_t)
	}
	tb.info[tid][sig] = info
	return 0
}

// RunnableThread abstracts the scheduler state Send needs to pick a
// delivery target without signal importing proc (which would create
// an import cycle, since proc installs a Table_t on every process).
type RunnableThread interface {
	ThreadID() defs.Tid_t
	Running() bool
}

// Send implements spec.md §4.K's send_signal: prefer a RUNNING thread
// that does not block sig, else any RUNNING thread, else thread 0
// (threads[0], the process's first thread, by convention).
func (tb *Table_t) Send(threads []RunnableThread, sig int, info Siginfo_t) defs.Err_t {
	if len(threads) == 0 {
		return defs.ESRCH
	}
	tb.mu.Lock()
	var target defs.Tid_t
	found := false
	for _, t := range threads {
		if t.Running() && !tb.blocks(t.ThreadID(), sig) {
			target = t.ThreadID()
			found = true
			break
		}
	}
	if !found {
		for _, t := range threads {
			if t.Running() {
				target = t.ThreadID()
				found = true
				break
			}
		}
	}
	if !found {
		target = threads[0].ThreadID()
	}
	tb.mu.Unlock()
	return tb.SendThread(target, sig, info)
}

// Pending returns tid's pending sigset without clearing it; a caller
// that intends to deliver a specific signal uses TakeSiginfo instead,
// which clears that signal's bit once its info has been consumed.
func (tb *Table_t) Pending(tid defs.Tid_t) uint64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.pending[tid]
}

// TakeSiginfo returns and clears the recorded info for a specific
// pending signal, along with whether it was in fact pending.
func (tb *Table_t) TakeSiginfo(tid defs.Tid_t, sig int) (Siginfo_t, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	bit := uint64(1) << uint(sig-1)
	if tb.pending[tid]&bit == 0 {
		return Siginfo_t{}, false
	}
	tb.pending[tid] &^= bit
	info, ok := tb.info[tid][sig]
	if ok {
		delete(tb.info[tid], sig)
	}
	return info, ok
}

// Forget drops every pending/info entry for tid, as thread exit does.
func (tb *Table_t) Forget(tid defs.Tid_t) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.pending, tid)
	delete(tb.info, tid)
}
