package proc

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"pml/src/accnt"
	"pml/src/defs"
	"pml/src/fd"
	"pml/src/limits"
	"pml/src/lock"
	"pml/src/physmem"
	"pml/src/pipe"
	"pml/src/signal"
	"pml/src/tinfo"
	"pml/src/vm"
)

// Thread state, matching the scheduler's yield() walk in spec.md §4.F.
type Tstate_t int

const (
	RUNNABLE Tstate_t = iota
	RUNNING
	BLOCKED
	DEAD
)

// Thread_t is one schedulable thread within a process. Priority is
// stored but not consulted by yield in this revision, matching the
// spec's explicit TODO.
type Thread_t struct {
	Tid      defs.Tid_t
	State    Tstate_t
	Priority int
	// Accnt accumulates this thread's own user/system time; Reap merges
	// every thread's Accnt into the process's before the PID is freed.
	Accnt *accnt.Accnt_t
	// Note carries this thread's kill/doom state (tinfo.Tnote_t), set
	// when a blocked syscall needs to notice a signal or process exit
	// that targeted it mid-wait.
	Note *tinfo.Tnote_t
}

// GetPriority and SetPriority satisfy rusage.Prioritized.
func (p *Process_t) GetPriority() int {
	p.Lock()
	defer p.Unlock()
	return p.Priority
}
func (p *Process_t) SetPriority(prio int) {
	p.Lock()
	defer p.Unlock()
	p.Priority = prio
}

// ThreadID and Running satisfy signal.RunnableThread, letting
// send_signal pick a delivery target without package signal importing
// proc.
func (t *Thread_t) ThreadID() defs.Tid_t { return t.Tid }
func (t *Thread_t) Running() bool        { return t.State == RUNNING }

// Wstatus_t is the wait4 rendezvous state machine spec.md §4.F
// describes: a parent's outstanding wait request and, once a child
// reports in, the result of that child's exit/signal/stop.
type Wstatus_t int

const (
	W_NONE Wstatus_t = iota
	W_WAITING
	W_EXITED
	W_SIGNALED
	W_STOPPED
)

type WaitState_t struct {
	Pid       defs.Pid_t
	Status    Wstatus_t
	Code      int
	Pgid      int
	Rusage    []uint8
	DoStopped bool
}

// Process_t is the kernel's process control block: address space, file
// descriptor table, thread queue, and the bookkeeping fork/exit/wait4
// need.
type Process_t struct {
	sync.Mutex

	Pid    defs.Pid_t
	Parent defs.Pid_t

	Vm  *vm.Vm_t
	Fds []*fd.Fd_t
	Cwd *fd.Cwd_t

	Uid, Gid int
	Priority int
	// Sigtable holds this process's sigaction dispositions and every
	// thread's pending sigset; package signal owns its shape so proc
	// doesn't need to know the layout, only that every process has one.
	Sigtable *signal.Table_t

	Threads     []*Thread_t
	threadFront int

	Accnt *accnt.Accnt_t

	Children []defs.Pid_t
	Wait     WaitState_t

	ExitStatus int
	Exited     bool
}

// Scheduler state (spec.md §4.F): a single global process_queue shared
// by every process, cooperative round-robin, guarded by
// thread_switch_lock rather than a mutex so Raise's double-raise panic
// surfaces programming errors in the scheduler itself.
var (
	schedMu          sync.Mutex
	processQueue     []*Process_t
	processFront     int
	ThreadSwitchLock lock.Flag_t
)

// AddProcess enqueues p onto the process queue, as fork and the initial
// boot process creation do.
func AddProcess(p *Process_t) {
	schedMu.Lock()
	defer schedMu.Unlock()
	processQueue = append(processQueue, p)
}

// RemoveProcess dequeues p, as exit's reaping step does once every
// thread has been torn down.
func RemoveProcess(p *Process_t) {
	schedMu.Lock()
	defer schedMu.Unlock()
	for i, q := range processQueue {
		if q == p {
			processQueue = append(processQueue[:i], processQueue[i+1:]...)
			if processFront > i {
				processFront--
			}
			if len(processQueue) > 0 {
				processFront %= len(processQueue)
			} else {
				processFront = 0
			}
			return
		}
	}
}

// Yield implements spec.md §4.F's scheduler step: advance the current
// process's thread_queue.front modulo its length; if that wraps,
// advance process_queue.front similarly; skip threads that are not
// RUNNABLE/RUNNING. Returns the process and thread picked to run next,
// or (nil, nil) if nothing is runnable. When ThreadSwitchLock is
// raised, the scheduler must not switch and returns (nil, nil)
// immediately, per spec.
func Yield() (*Process_t, *Thread_t) {
	if ThreadSwitchLock.Held() {
		return nil, nil
	}
	schedMu.Lock()
	defer schedMu.Unlock()

	n := len(processQueue)
	for i := 0; i < n; i++ {
		p := processQueue[processFront]
		if t := p.nextRunnableThread(); t != nil {
			return p, t
		}
		processFront = (processFront + 1) % n
	}
	return nil, nil
}

func (p *Process_t) nextRunnableThread() *Thread_t {
	n := len(p.Threads)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		t := p.Threads[p.threadFront]
		p.threadFront = (p.threadFront + 1) % n
		if t.State == RUNNABLE || t.State == RUNNING {
			return t
		}
	}
	return nil
}

// MkProcess allocates a fresh process with a single initial thread
// whose TID equals the process's PID, as spec.md §3 requires.
func MkProcess(vmas *vm.Vm_t, cwd *fd.Cwd_t) (*Process_t, defs.Err_t) {
	if limits.Syslimit.Sysprocs <= 0 {
		return nil, defs.ENOMEM
	}
	pid, err := AllocPid()
	if err != 0 {
		return nil, err
	}
	limits.Syslimit.Sysprocs--
	p := &Process_t{
		Pid:         pid,
		Vm:          vmas,
		Cwd:         cwd,
		Accnt:       &accnt.Accnt_t{},
		Sigtable:    signal.NewTable(),
	}
	p.Threads = append(p.Threads, &Thread_t{
		Tid:      defs.Tid_t(pid),
		State:    RUNNABLE,
		Accnt:    &accnt.Accnt_t{},
		Note:     &tinfo.Tnote_t{Alive: true},
	})
	return p, 0
}

// Fork implements spec.md §4.F's fork: a new process with a single
// cloned thread, a CoW-cloned address space, duplicated fd table (with
// reference counts bumped, not deep-copied), a copied mmap table
// (carried inside Vm already by CloneSpace's caller), a shared cwd
// vnode reference, and inherited uid/gid/priority/sighandlers.
func (p *Process_t) Fork(childVm *vm.Vm_t) (*Process_t, defs.Err_t) {
	p.Lock()
	defer p.Unlock()

	child, err := MkProcess(childVm, p.Cwd)
	if err != 0 {
		return nil, err
	}
	child.Parent = p.Pid
	child.Uid, child.Gid, child.Priority = p.Uid, p.Gid, p.Priority
	p.Sigtable.CloneInto(child.Sigtable)

	child.Fds = make([]*fd.Fd_t, len(p.Fds))
	for i, f := range p.Fds {
		if f == nil {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			return nil, err
		}
		child.Fds[i] = nf
	}

	p.Children = append(p.Children, child.Pid)
	AddProcess(child)
	return child, 0
}

// SendSignal delivers sig to one of p's threads per spec.md §4.K's
// send_signal, choosing the target from p's current thread list.
func (p *Process_t) SendSignal(sig int, info signal.Siginfo_t) defs.Err_t {
	p.Lock()
	targets := make([]signal.RunnableThread, len(p.Threads))
	for i, t := range p.Threads {
		targets[i] = t
	}
	p.Unlock()
	return p.Sigtable.Send(targets, sig, info)
}

// Exit implements spec.md §4.F's exit: it records the encoded exit
// status (low 7 bits the exit code, bit 7 set for "died by signal")
// and marks the process exited. Removing it from process_queue and
// freeing its PID is left to Reap, which Exit does not call, following
// the teacher's two-phase "mark, then reap" pattern.
func (p *Process_t) Exit(code int, signaled bool) {
	p.Lock()
	status := code & 0x7f
	if signaled {
		status |= 0x80
	}
	p.ExitStatus = status
	p.Exited = true
	for _, t := range p.Threads {
		t.State = DEAD
		if t.Note != nil {
			t.Note.Lock()
			t.Note.Isdoomed = true
			t.Note.Alive = false
			if t.Note.Killnaps.Killch != nil {
				select {
				case t.Note.Killnaps.Killch <- true:
				default:
				}
			}
			if t.Note.Killnaps.Cond != nil {
				t.Note.Killnaps.Cond.Broadcast()
			}
			t.Note.Unlock()
		}
	}
	p.Unlock()
}

// vmPipePage adapts a process's own Vm_t (its Ram mapper and frame
// allocator) to circbuf.Page_i, letting Pipe hand a pipe's buffer the
// same physical memory the process's address space already draws from
// rather than a separate allocator just for pipes.
type vmPipePage struct {
	ram    vm.Ram_i
	frames vm.Frames_i
}

func (v vmPipePage) AllocFrame() (physmem.Pa_t, bool) { return v.frames.AllocFrame() }
func (v vmPipePage) FreeFrame(pa physmem.Pa_t)        { v.frames.FreeFrame(pa) }
func (v vmPipePage) Refup(pa physmem.Pa_t)            { v.frames.Refup(pa) }
func (v vmPipePage) Refdown(pa physmem.Pa_t) bool     { return v.frames.Refdown(pa) }
func (v vmPipePage) Dmap(pa physmem.Pa_t) []byte      { return v.ram.Dmap(pa) }

// Pipe implements spec.md §4.H/4.J's pipe(fds[2]): it allocates a new
// circbuf-backed pipe (package pipe) over this process's own address
// space and appends its two ends as new file descriptors, returning
// their indices into p.Fds. Fails with ENOMEM once limits.Syslimit's
// system-wide pipe budget (component M) is exhausted, the same
// resource-limit gate every other open circbuf-backed fd counts
// against.
func (p *Process_t) Pipe() (rfd int, wfd int, err defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return -1, -1, defs.ENOMEM
	}

	p.Lock()
	defer p.Unlock()

	page := vmPipePage{ram: p.Vm.Ram, frames: p.Vm.Frames}
	rend, wend := pipe.New(page)
	wend.Target = p

	p.Fds = append(p.Fds, &fd.Fd_t{Fops: rend, Perms: fd.FD_READ})
	rfd = len(p.Fds) - 1
	p.Fds = append(p.Fds, &fd.Fd_t{Fops: wend, Perms: fd.FD_WRITE})
	wfd = len(p.Fds) - 1
	return rfd, wfd, 0
}

// Reap removes an exited process from the scheduler and frees its PID,
// first draining every thread's own accounting record into the
// process's via errgroup so the merge (cheap, but independent per
// thread) fans out rather than walking the thread list serially.
// Callers must have already observed p.Exited.
func Reap(p *Process_t) {
	var g errgroup.Group
	for _, t := range p.Threads {
		t := t
		g.Go(func() error {
			if t.Accnt != nil {
				p.Accnt.Add(t.Accnt)
			}
			p.Sigtable.Forget(t.Tid)
			return nil
		})
	}
	g.Wait()
	RemoveProcess(p)
	FreePid(p.Pid)
	limits.Syslimit.Sysprocs++
}

// Wait4 implements spec.md §4.F's wait rendezvous as one scan of p's
// children (only pid, when pid is non-zero) for one whose Exited flag
// is set, returning it. It does not record a wait request on p (p.Wait
// is left unchanged) and never blocks: with no exited child it returns
// (nil, 0) under WNOHANG and EAGAIN otherwise, and a blocking caller
// loops calling Wait4 across scheduler yields.
func (p *Process_t) Wait4(pid defs.Pid_t, nohang bool, find func(defs.Pid_t) *Process_t) (*Process_t, defs.Err_t) {
	p.Lock()
	defer p.Unlock()

	for _, cpid := range p.Children {
		if pid != 0 && pid != cpid {
			continue
		}
		c := find(cpid)
		if c == nil {
			continue
		}
		c.Lock()
		exited := c.Exited
		c.Unlock()
		if exited {
			return c, 0
		}
	}
	if nohang {
		return nil, 0
	}
	return nil, defs.EAGAIN
}
