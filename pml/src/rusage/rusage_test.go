package rusage

import (
	"testing"

	"pml/src/accnt"
	"pml/src/defs"
)

type fakeProc struct {
	prio int
}

func (f *fakeProc) GetPriority() int  { return f.prio }
func (f *fakeProc) SetPriority(p int) { f.prio = p }

func TestGetrusageSelfReflectsAccounting(t *testing.T) {
	a := &accnt.Accnt_t{}
	a.Utadd(1000)
	a.Systadd(2000)
	buf := Getrusage(RUSAGE_SELF, a, 0, 0)
	if len(buf) != 18*8 {
		t.Fatalf("expected struct rusage image of 144 bytes, got %d", len(buf))
	}
	want := a.Fetch()
	if string(buf[:len(want)]) != string(want) {
		t.Fatalf("expected the leading timevals to match Accnt_t.Fetch()")
	}
}

func TestGetrusageChildrenZeroedWhenUnused(t *testing.T) {
	a := &accnt.Accnt_t{}
	buf := Getrusage(RUSAGE_CHILDREN, a, 0, 0)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zero with no children accounting supplied: %v", i, b)
		}
	}
}

func TestSetpriorityClamps(t *testing.T) {
	p := &fakeProc{}
	Setpriority(p, defs.PRIO_MAX+100)
	if got := Getpriority(p); got != defs.PRIO_MAX {
		t.Fatalf("expected clamp to PRIO_MAX=%d, got %d", defs.PRIO_MAX, got)
	}
	Setpriority(p, defs.PRIO_MIN-100)
	if got := Getpriority(p); got != defs.PRIO_MIN {
		t.Fatalf("expected clamp to PRIO_MIN=%d, got %d", defs.PRIO_MIN, got)
	}
}

func TestSetpriorityInRangePassesThrough(t *testing.T) {
	p := &fakeProc{}
	Setpriority(p, 5)
	if got := Getpriority(p); got != 5 {
		t.Fatalf("expected in-range priority to pass through unchanged, got %d", got)
	}
}
