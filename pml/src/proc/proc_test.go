package proc

import (
	"testing"

	"pml/src/defs"
	"pml/src/physmem"
	"pml/src/vm"
)

func testVm() *vm.Vm_t {
	ram := physmem.MkRam(0x100000)
	alloc := physmem.MkAllocator(ram.Fresh(), ram.Fresh()+64*physmem.PGSIZE, nil, ram.Dmap)
	as, err := vm.MkAddrSpace(alloc, alloc)
	if err != 0 {
		panic("MkAddrSpace failed in test setup")
	}
	return as
}

func TestMkProcessHasNoteOnInitialThread(t *testing.T) {
	p, err := MkProcess(testVm(), nil)
	if err != 0 {
		t.Fatalf("MkProcess: %v", err)
	}
	if len(p.Threads) != 1 {
		t.Fatalf("expected one initial thread, got %d", len(p.Threads))
	}
	note := p.Threads[0].Note
	if note == nil {
		t.Fatalf("expected initial thread to carry a tinfo.Tnote_t")
	}
	if !note.Alive || note.Isdoomed {
		t.Fatalf("expected a fresh thread to be alive and not doomed, got alive=%v doomed=%v", note.Alive, note.Isdoomed)
	}
}

func TestExitDoomsEveryThreadsNote(t *testing.T) {
	p, err := MkProcess(testVm(), nil)
	if err != 0 {
		t.Fatalf("MkProcess: %v", err)
	}
	note := p.Threads[0].Note

	p.Exit(7, false)

	if !note.Isdoomed {
		t.Fatalf("expected Exit to mark the thread's note doomed")
	}
	if note.Alive {
		t.Fatalf("expected Exit to mark the thread's note not alive")
	}
	if p.ExitStatus != 7 {
		t.Fatalf("expected exit status 7, got %d", p.ExitStatus)
	}
}

func TestPipeRoundTrips(t *testing.T) {
	p, err := MkProcess(testVm(), nil)
	if err != 0 {
		t.Fatalf("MkProcess: %v", err)
	}

	rfd, wfd, perr := p.Pipe()
	if perr != 0 {
		t.Fatalf("Pipe: %v", perr)
	}
	if rfd == wfd {
		t.Fatalf("expected distinct fd slots, got %d and %d", rfd, wfd)
	}
	if len(p.Fds) != 2 {
		t.Fatalf("expected two fds installed, got %d", len(p.Fds))
	}

	src := &fakeUio{buf: []byte("hello")}
	n, werr := p.Fds[wfd].Fops.Write(src)
	if werr != 0 {
		t.Fatalf("write: %v", werr)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %d", n)
	}

	dst := &fakeUio{out: make([]byte, 5)}
	n, rerr := p.Fds[rfd].Fops.Read(dst)
	if rerr != 0 {
		t.Fatalf("read: %v", rerr)
	}
	if string(dst.out[:n]) != "hello" {
		t.Fatalf("expected to read back %q, got %q", "hello", string(dst.out[:n]))
	}
}

func TestPipeWriteAfterReaderCloseIsEpipeAndSignals(t *testing.T) {
	p, err := MkProcess(testVm(), nil)
	if err != 0 {
		t.Fatalf("MkProcess: %v", err)
	}
	rfd, wfd, perr := p.Pipe()
	if perr != 0 {
		t.Fatalf("Pipe: %v", perr)
	}
	if e := p.Fds[rfd].Fops.Close(); e != 0 {
		t.Fatalf("close read end: %v", e)
	}

	src := &fakeUio{buf: []byte("x")}
	_, werr := p.Fds[wfd].Fops.Write(src)
	if werr != defs.EPIPE {
		t.Fatalf("expected EPIPE writing to a widowed pipe, got %v", werr)
	}
}

// fakeUio is a minimal fdops.Userio_i backed by a plain byte slice, in
// the same spirit as the teacher's Fakeubuf_t used for kernel-internal
// transfers that don't cross a user/kernel boundary.
type fakeUio struct {
	buf []byte // source for reads-from-this-Userio_i (Uioread)
	out []byte // destination for writes-into-this-Userio_i (Uiowrite)
	off int
}

func (f *fakeUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, f.buf[f.off:])
	f.off += n
	return n, 0
}

func (f *fakeUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(f.out[f.off:], src)
	f.off += n
	return n, 0
}

func (f *fakeUio) Remain() int {
	if f.buf != nil {
		return len(f.buf) - f.off
	}
	return len(f.out) - f.off
}

func (f *fakeUio) Totalsz() int {
	if f.buf != nil {
		return len(f.buf)
	}
	return len(f.out)
}
