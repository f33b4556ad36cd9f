// Package fdops defines the operations vtable an open file descriptor
// dispatches through (component H), kept separate from package fd so
// that fd, vfs, circbuf, and tty can all implement Fdops_i without an
// import cycle. Grounded on the teacher's Fdops_i/Userio_i split
// between "read/write a byte range" and "copy that range to/from user
// memory", which lets the same read/write implementation serve both a
// real vnode and a kernel-internal Fakeubuf_t.
package fdops

import "pml/src/defs"

// Userio_i abstracts a source/destination for a read or write: either
// real user memory (vm.Userbuf_t/Useriovec_t) or an in-kernel buffer
// (vm.Fakeubuf_t), so fdops implementations never need to know which.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Pollmsg_t describes what a poll/select call is waiting for.
type Pollmsg_t struct {
	Events Ready_t
}

// Ready_t reports which of the requested events are currently ready.
type Ready_t int

const (
	READY_NONE  Ready_t = 0
	READY_READ  Ready_t = 1 << 0
	READY_WRITE Ready_t = 1 << 1
	READY_ERROR Ready_t = 1 << 2
)

// Fdops_i is the operations vtable every open file descriptor
// implements, dispatched to from package fd without fd needing to know
// whether the backing object is a regular/directory vnode (package
// vfs), a pipe (package circbuf), or a tty line discipline (package
// tty).
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(st []uint8) defs.Err_t
	Lseek(off int, whence int) (int, defs.Err_t)
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	Pread(dst Userio_i, offset int) (int, defs.Err_t)
	Pwrite(src Userio_i, offset int) (int, defs.Err_t)
	Reopen() defs.Err_t
	Truncate(newlen uint) defs.Err_t
	Pathi() (string, defs.Err_t)
	Pollone(pm Pollmsg_t) (Ready_t, defs.Err_t)
}
