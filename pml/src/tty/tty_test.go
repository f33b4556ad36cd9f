package tty

import (
	"testing"

	"pml/src/defs"
	"pml/src/signal"
)

// fakeUserio is a minimal fdops.Userio_i backed by a plain byte slice,
// standing in for vm.Userbuf_t the way the teacher's own tests stand
// in for real user memory with an in-kernel buffer.
type fakeUserio struct {
	buf []byte
}

func (f *fakeUserio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, f.buf)
	f.buf = f.buf[n:]
	return n, 0
}

func (f *fakeUserio) Uiowrite(src []uint8) (int, defs.Err_t) {
	f.buf = append(f.buf, src...)
	return len(src), 0
}

func (f *fakeUserio) Remain() int  { return len(f.buf) }
func (f *fakeUserio) Totalsz() int { return len(f.buf) }

func TestCanonicalLineAssembly(t *testing.T) {
	tty := New()
	tty.Input([]byte("hello\n"), nil)

	dst := &fakeUserio{}
	n, err := tty.Read(dst)
	if err != 0 {
		t.Fatalf("read: %v", err)
	}
	if string(dst.buf[:n]) != "hello\n" {
		t.Fatalf("expected completed line %q, got %q", "hello\n", dst.buf[:n])
	}
}

func TestEraseEditsLine(t *testing.T) {
	tty := New()
	tty.Input([]byte("helpp"), nil)
	tty.Input([]byte{127, 127}, nil) // VERASE twice
	tty.Input([]byte("lo\n"), nil)

	dst := &fakeUserio{}
	n, _ := tty.Read(dst)
	if string(dst.buf[:n]) != "hello\n" {
		t.Fatalf("expected erase-corrected line %q, got %q", "hello\n", dst.buf[:n])
	}
}

func TestKillDiscardsLine(t *testing.T) {
	tty := New()
	tty.Input([]byte("garbage"), nil)
	tty.Input([]byte{21}, nil) // VKILL
	tty.Input([]byte("ok\n"), nil)

	dst := &fakeUserio{}
	n, _ := tty.Read(dst)
	if string(dst.buf[:n]) != "ok\n" {
		t.Fatalf("expected VKILL to discard the line so far, got %q", dst.buf[:n])
	}
}

type recordingTarget struct {
	sig int
}

func (r *recordingTarget) SendSignal(sig int, info signal.Siginfo_t) defs.Err_t {
	r.sig = sig
	return 0
}

func TestIntrDeliversSIGINT(t *testing.T) {
	tty := New()
	target := &recordingTarget{}
	tty.Foreground = target
	tty.Input([]byte{3}, nil) // ^C
	if target.sig != signal.SIGINT {
		t.Fatalf("expected SIGINT delivered, got %d", target.sig)
	}
}

func TestIoctlWinsizeRoundtrip(t *testing.T) {
	tty := New()
	set := &Winsize_t{Row: 24, Col: 80}
	if err := tty.Ioctl(TIOCSWINSZ, set); err != 0 {
		t.Fatalf("set winsize: %v", err)
	}
	got := &Winsize_t{}
	if err := tty.Ioctl(TIOCGWINSZ, got); err != 0 {
		t.Fatalf("get winsize: %v", err)
	}
	if *got != *set {
		t.Fatalf("expected winsize roundtrip, got %+v want %+v", got, set)
	}
}

func TestIoctlWinsizeChangeSignalsForeground(t *testing.T) {
	tty := New()
	target := &recordingTarget{}
	tty.Foreground = target
	tty.Ioctl(TIOCSWINSZ, &Winsize_t{Row: 50, Col: 120})
	if target.sig != signal.SIGWINCH {
		t.Fatalf("expected SIGWINCH on winsize change, got %d", target.sig)
	}
}

func TestRawModePassesBytesThrough(t *testing.T) {
	tty := New()
	tty.Ioctl(TCSETS, &Termios_t{Lflag: 0}) // canonical mode off
	tty.Input([]byte("xy"), nil)

	dst := &fakeUserio{}
	n, err := tty.Read(dst)
	if err != 0 {
		t.Fatalf("read: %v", err)
	}
	if string(dst.buf[:n]) != "xy" {
		t.Fatalf("expected raw-mode bytes to pass straight through, got %q", dst.buf[:n])
	}
}
