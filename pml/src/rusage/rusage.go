// Package rusage implements component M's getrusage/priority surface:
// translating a process's accnt.Accnt_t into a struct rusage byte
// image, and the nice-bounded setpriority/getpriority pair. Grounded
// on stat.Stat_t's raw-bytes-behind-a-typed-view idiom and on
// accnt.Accnt_t.To_rusage, which already knows how to lay out the two
// user/system timevals this package's RUSAGE_SELF case reuses.
package rusage

import (
	"pml/src/accnt"
	"pml/src/defs"
)

// Who selects whose usage getrusage reports, per getrusage(2).
type Who int

const (
	RUSAGE_SELF Who = iota
	RUSAGE_CHILDREN
)

// Getrusage renders a's accounting as a struct rusage byte image: two
// timevals (user, system) followed by the remaining fields this
// kernel does not track, left zeroed rather than fabricated.
func Getrusage(who Who, a *accnt.Accnt_t, childrenUs, childrenSy int64) []uint8 {
	const ruSize = 18 * 8 // struct rusage: 2 timevals + 14 longs
	buf := make([]uint8, ruSize)
	switch who {
	case RUSAGE_SELF:
		copy(buf, a.Fetch())
	case RUSAGE_CHILDREN:
		tmp := &accnt.Accnt_t{Userns: childrenUs, Sysns: childrenSy}
		copy(buf, tmp.To_rusage())
	}
	return buf
}

// clampPriority bounds a nice value to [PRIO_MIN, PRIO_MAX] per
// spec.md §6, rather than rejecting an out-of-range request outright
// (matching setpriority(2), which silently clamps).
func clampPriority(prio int) int {
	if prio < defs.PRIO_MIN {
		return defs.PRIO_MIN
	}
	if prio > defs.PRIO_MAX {
		return defs.PRIO_MAX
	}
	return prio
}

// Prioritized is satisfied by proc.Process_t; kept as an interface so
// this package doesn't import proc (which would create a cycle, since
// the syscall layer that calls into both already lives above proc).
type Prioritized interface {
	GetPriority() int
	SetPriority(int)
}

// Setpriority installs a clamped nice value on p.
func Setpriority(p Prioritized, prio int) defs.Err_t {
	p.SetPriority(clampPriority(prio))
	return 0
}

// Getpriority reads back p's nice value.
func Getpriority(p Prioritized) int {
	return p.GetPriority()
}
