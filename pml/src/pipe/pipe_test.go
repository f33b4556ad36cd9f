package pipe

import (
	"testing"
	"time"

	"pml/src/defs"
	"pml/src/fdops"
	"pml/src/physmem"
	"pml/src/signal"
)

func testMem() *physmem.Allocator_t {
	ram := physmem.MkRam(0x100000)
	return physmem.MkAllocator(ram.Fresh(), ram.Fresh()+8*physmem.PGSIZE, nil, ram.Dmap)
}

type fakeUio struct {
	buf []byte
	out []byte
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

type fakeTarget struct {
	sig  int
	info signal.Siginfo_t
	got  bool
}

func (f *fakeTarget) SendSignal(sig int, info signal.Siginfo_t) defs.Err_t {
	f.sig, f.info, f.got = sig, info, true
	return 0
}

func TestWriteThenReadRoundtrip(t *testing.T) {
	r, w := New(testMem())
	src := &fakeUio{buf: []byte("hello, pipe")}
	n, err := w.Write(src)
	if err != 0 {
		t.Fatalf("write: %v", err)
	}
	if n != len(src.buf) {
		t.Fatalf("expected to write %d bytes, wrote %d", len(src.buf), n)
	}

	dst := &fakeUio{out: make([]byte, len(src.buf))}
	n, err = r.Read(dst)
	if err != 0 {
		t.Fatalf("read: %v", err)
	}
	if string(dst.out[:n]) != "hello, pipe" {
		t.Fatalf("expected %q, got %q", "hello, pipe", string(dst.out[:n]))
	}
}

func TestReadBlocksThenSeesEOFOnWriterClose(t *testing.T) {
	r, w := New(testMem())
	done := make(chan struct{})
	var n int
	var err defs.Err_t
	go func() {
		dst := &fakeUio{out: make([]byte, 4)}
		n, err = r.Read(dst)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("expected Read to block while the pipe is empty and the writer is open")
	case <-time.After(20 * time.Millisecond):
	}

	w.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Read to wake up once the writer closed")
	}
	if err != 0 {
		t.Fatalf("expected EOF (err=0, n=0), got err=%v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes read at EOF, got %d", n)
	}
}

func TestWriteToClosedReaderIsEpipeAndSignals(t *testing.T) {
	r, w := New(testMem())
	target := &fakeTarget{}
	w.Target = target

	if e := r.Close(); e != 0 {
		t.Fatalf("close read end: %v", e)
	}

	src := &fakeUio{buf: []byte("x")}
	_, err := w.Write(src)
	if err != defs.EPIPE {
		t.Fatalf("expected EPIPE, got %v", err)
	}
	if !target.got || target.sig != signal.SIGPIPE {
		t.Fatalf("expected SIGPIPE to be delivered to the target, got sig=%d got=%v", target.sig, target.got)
	}
}

func TestPollReportsReadinessAcrossEnds(t *testing.T) {
	r, w := New(testMem())

	ready, err := r.Pollone(fdops.Pollmsg_t{Events: fdops.READY_READ})
	if err != 0 {
		t.Fatalf("pollone: %v", err)
	}
	if ready != 0 {
		t.Fatalf("expected read end not ready with nothing written yet")
	}

	src := &fakeUio{buf: []byte("x")}
	if _, err := w.Write(src); err != 0 {
		t.Fatalf("write: %v", err)
	}

	ready, err = r.Pollone(fdops.Pollmsg_t{Events: fdops.READY_READ})
	if err != 0 || ready == 0 {
		t.Fatalf("expected read end ready after a write, ready=%v err=%v", ready, err)
	}
}
