package signal

import (
	"testing"

	"pml/src/defs"
)

type fakeThread struct {
	tid     defs.Tid_t
	running bool
}

func (f fakeThread) ThreadID() defs.Tid_t { return f.tid }
func (f fakeThread) Running() bool        { return f.running }

func TestSigactionRejectsKillAndStop(t *testing.T) {
	tb := NewTable()
	if _, err := tb.Sigaction(SIGKILL, &Sigaction_t{Disp: SIG_IGN}); err != defs.EINVAL {
		t.Fatalf("expected EINVAL installing SIGKILL handler, got %v", err)
	}
	if _, err := tb.Sigaction(SIGSTOP, &Sigaction_t{Disp: SIG_IGN}); err != defs.EINVAL {
		t.Fatalf("expected EINVAL installing SIGSTOP handler, got %v", err)
	}
}

func TestSigactionInstallAndReadBack(t *testing.T) {
	tb := NewTable()
	old, err := tb.Sigaction(SIGTERM, &Sigaction_t{Disp: SIG_IGN})
	if err != 0 {
		t.Fatalf("sigaction: %v", err)
	}
	if old.Disp != SIG_DFL {
		t.Fatalf("expected previous disposition SIG_DFL, got %v", old.Disp)
	}
	if got := tb.Disposition(SIGTERM).Disp; got != SIG_IGN {
		t.Fatalf("expected SIG_IGN installed, got %v", got)
	}
}

const sigUser = 10 // an arbitrary in-range signal not otherwise named above

func TestSendThreadCoalescesDuplicateRaise(t *testing.T) {
	tb := NewTable()
	tb.SendThread(1, sigUser, Siginfo_t{Sender: 7})
	tb.SendThread(1, sigUser, Siginfo_t{Sender: 8})
	if n := popcount(tb.Pending(1)); n != 1 {
		t.Fatalf("expected exactly one bit set after duplicate raise, got %d bits", n)
	}
	info, ok := tb.TakeSiginfo(1, sigUser)
	if !ok {
		t.Fatalf("expected siginfo to be pending")
	}
	if info.Sender != 8 {
		t.Fatalf("expected latest raise's info to win, got sender %d", info.Sender)
	}
	if tb.Pending(1) != 0 {
		t.Fatalf("expected pending cleared after TakeSiginfo")
	}
}

func TestSendPrefersRunningNonBlockedThread(t *testing.T) {
	tb := NewTable()
	threads := []RunnableThread{
		fakeThread{tid: 1, running: false},
		fakeThread{tid: 2, running: true},
	}
	if err := tb.Send(threads, SIGTERM, Siginfo_t{}); err != 0 {
		t.Fatalf("send: %v", err)
	}
	if tb.Pending(2) == 0 {
		t.Fatalf("expected the running thread to receive the signal")
	}
	if tb.Pending(1) != 0 {
		t.Fatalf("expected the non-running thread to receive nothing")
	}
}

func TestSendFallsBackToFirstThread(t *testing.T) {
	tb := NewTable()
	threads := []RunnableThread{
		fakeThread{tid: 5, running: false},
		fakeThread{tid: 6, running: false},
	}
	if err := tb.Send(threads, SIGTERM, Siginfo_t{}); err != 0 {
		t.Fatalf("send: %v", err)
	}
	if tb.Pending(5) == 0 {
		t.Fatalf("expected the first thread to receive the signal when none are running")
	}
}

func TestForgetClearsThread(t *testing.T) {
	tb := NewTable()
	tb.SendThread(3, SIGTERM, Siginfo_t{})
	tb.Forget(3)
	if tb.Pending(3) != 0 {
		t.Fatalf("expected pending cleared after Forget")
	}
}

func TestCloneIntoCopiesActionsNotPending(t *testing.T) {
	parent := NewTable()
	parent.Sigaction(SIGTERM, &Sigaction_t{Disp: SIG_IGN})
	parent.SendThread(1, SIGTERM, Siginfo_t{})

	child := NewTable()
	parent.CloneInto(child)

	if got := child.Disposition(SIGTERM).Disp; got != SIG_IGN {
		t.Fatalf("expected child to inherit SIG_IGN, got %v", got)
	}
	if child.Pending(1) != 0 {
		t.Fatalf("expected child to start with nothing pending")
	}
}

func popcount(x uint64) int {
	n := 0
	for x != 0 {
		n += int(x & 1)
		x >>= 1
	}
	return n
}
