package vm

import (
	"fmt"
	"sync"

	"pml/src/bounds"
	"pml/src/defs"
	"pml/src/res"
)

// Userbuf_t assists reading and writing user memory. Address lookups
// and accesses are atomic with respect to page faults: a write fault
// on a CoW page is resolved in-line before the copy proceeds.
type Userbuf_t struct {
	userva uintptr
	len    int
	// 0 <= off <= len
	off int
	as  *Vm_t
}

// Ub_init initialises the buffer for the given address space.
func (ub *Userbuf_t) Ub_init(as *Vm_t, uva uintptr, ln int) {
	if ln < 0 {
		panic("negative length")
	}
	if ln >= 1<<39 {
		fmt.Printf("suspiciously large user buffer (%v)\n", ln)
	}
	ub.userva = uva
	ub.len = ln
	ub.off = 0
	ub.as = as
}

// Remain returns the number of unread bytes left in the buffer.
func (ub *Userbuf_t) Remain() int {
	return ub.len - ub.off
}

// Totalsz reports the total size of the buffer in bytes.
func (ub *Userbuf_t) Totalsz() int {
	return ub.len
}

// Uioread copies data from user memory into dst and returns the number
// of bytes read along with an error code.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	ub.as.Lock()
	a, b := ub.tx(dst, false)
	ub.as.Unlock()
	return a, b
}

// Uiowrite copies data from src into user memory and returns the
// number of bytes written along with an error code.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	ub.as.Lock()
	a, b := ub.tx(src, true)
	ub.as.Unlock()
	return a, b
}

// userPage resolves va to the containing page's physical address,
// transparently fixing up a CoW fault when write is true and the page
// is currently read-only because of a pending copy-on-write share.
func userPage(as *Vm_t, va uintptr, write bool) (Pa_t, defs.Err_t) {
	pa, ok := Translate(as.Ram, as.PML4, va)
	if !ok {
		return 0, defs.EFAULT
	}
	if write {
		idx := lvlPT.index(va)
		tab := as.PML4
		for lvl := lvlPML4; lvl > lvlPT; lvl-- {
			tab = readPTE(as.Ram, tab, lvl.index(va)) & PTE_ADDR
		}
		pte := readPTE(as.Ram, tab, idx)
		if pte&PTE_W == 0 {
			if pte&PTE_COW == 0 {
				return 0, defs.EFAULT
			}
			if err := PageFaultCow(as.Ram, as.Frames, as.PML4, va); err != 0 {
				return 0, err
			}
			pa, _ = Translate(as.Ram, as.PML4, va)
		}
	}
	return pa, 0
}

// tx copies the min of either the provided buffer or ub.len. It returns
// the number of bytes copied and an error. If an error occurs partway
// through, the userbuf's state is updated so the operation can be
// restarted.
func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERBUF_T__TX)) {
			return ret, defs.EAGAIN
		}
		va := ub.userva + uintptr(ub.off)
		pg := va &^ pgoffsetMask
		pa, err := userPage(ub.as, va, write)
		if err != 0 {
			return ret, err
		}
		pagebuf := ub.as.Ram.Dmap(pa)
		start := int(va - pg)
		ubuf := pagebuf[start:]

		end := ub.off + len(ubuf)
		if end > ub.len {
			left := ub.len - ub.off
			ubuf = ubuf[:left]
		}
		var c int
		if write {
			c = copy(ubuf, buf)
		} else {
			c = copy(buf, ubuf)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, 0
}

const pgoffsetMask = uintptr(PGSIZE - 1)

type iove_t struct {
	uva uintptr
	sz  int
}

// Useriovec_t represents a sequence of user buffers defined by the
// iovec array in user memory.
type Useriovec_t struct {
	iovs []iove_t
	tsz  int
	as   *Vm_t
}

// Iov_init initializes the iovec array from user memory at iovarn. It
// returns an error code if the array cannot be read.
func (iov *Useriovec_t) Iov_init(as *Vm_t, iovarn uintptr, niovs int) defs.Err_t {
	if niovs > 10 {
		fmt.Printf("many iovecs\n")
		return defs.EINVAL
	}
	iov.tsz = 0
	iov.iovs = make([]iove_t, niovs)
	iov.as = as

	as.Lock()
	defer as.Unlock()
	ub := &Userbuf_t{}
	for i := range iov.iovs {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERIOVEC_T_IOV_INIT)) {
			return defs.EAGAIN
		}
		elmsz := uintptr(16)
		va := iovarn + uintptr(i)*elmsz

		var raw [16]byte
		ub.userva, ub.len, ub.off, ub.as = va, 16, 0, as
		if _, err := ub.tx(raw[:], false); err != 0 {
			return err
		}
		dstva := leUint64(raw[0:8])
		sz := leUint64(raw[8:16])
		iov.iovs[i].uva = uintptr(dstva)
		iov.iovs[i].sz = int(sz)
		iov.tsz += int(sz)
	}
	return 0
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Remain returns the number of bytes remaining across all iovecs.
func (iov *Useriovec_t) Remain() int {
	ret := 0
	for i := range iov.iovs {
		ret += iov.iovs[i].sz
	}
	return ret
}

// Totalsz returns the total number of bytes described by the iovec array.
func (iov *Useriovec_t) Totalsz() int {
	return iov.tsz
}

func (iov *Useriovec_t) _tx(buf []uint8, touser bool) (int, defs.Err_t) {
	ub := &Userbuf_t{}
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERIOVEC_T__TX)) {
			return did, defs.EAGAIN
		}
		ciov := &iov.iovs[0]
		ub.Ub_init(iov.as, ciov.uva, ciov.sz)
		c, err := ub.tx(buf, touser)
		ciov.uva += uintptr(c)
		ciov.sz -= c
		if ciov.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[c:]
		did += c
		if err != 0 {
			return did, err
		}
	}
	return did, 0
}

// Uioread reads into dst from the set of user buffers and returns the
// number of bytes copied along with an error code.
func (iov *Useriovec_t) Uioread(dst []uint8) (int, defs.Err_t) {
	iov.as.Lock()
	a, b := iov._tx(dst, false)
	iov.as.Unlock()
	return a, b
}

// Uiowrite writes src to the user buffers and returns the number of
// bytes copied along with an error code.
func (iov *Useriovec_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	iov.as.Lock()
	a, b := iov._tx(src, true)
	iov.as.Unlock()
	return a, b
}

// Fakeubuf_t implements the same interface as Userbuf_t but operates on
// a kernel buffer. It is used when the kernel needs to treat internal
// memory like user memory (e.g. an in-kernel exec argv buffer).
type Fakeubuf_t struct {
	fbuf []uint8
	len  int
}

// Fake_init sets up the fake buffer with the provided slice.
func (fb *Fakeubuf_t) Fake_init(buf []uint8) {
	fb.fbuf = buf
	fb.len = len(fb.fbuf)
}

// Remain returns the number of bytes left in the fake buffer.
func (fb *Fakeubuf_t) Remain() int {
	return len(fb.fbuf)
}

// Totalsz returns the total length of the fake buffer.
func (fb *Fakeubuf_t) Totalsz() int {
	return fb.len
}

func (fb *Fakeubuf_t) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.fbuf, buf)
	} else {
		c = copy(buf, fb.fbuf)
	}
	fb.fbuf = fb.fbuf[c:]
	return c, 0
}

// Uioread copies from the fake buffer into dst.
func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return fb.tx(dst, false)
}

// Uiowrite copies src into the fake buffer.
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return fb.tx(src, true)
}

// Ubpool provides reusable Userbuf_t structures to reduce allocations.
var Ubpool = sync.Pool{New: func() interface{} { return new(Userbuf_t) }}
