package limits

import "testing"

func TestTakenGivenRoundTrip(t *testing.T) {
	var s Sysatomic_t = 2
	if !s.Taken(2) {
		t.Fatalf("expected to take the full budget")
	}
	if s.Taken(1) {
		t.Fatalf("expected Taken to fail once the budget is exhausted")
	}
	s.Given(1)
	if !s.Take() {
		t.Fatalf("expected Take to succeed after Given restored budget")
	}
}

func TestMkSysLimitDefaults(t *testing.T) {
	l := MkSysLimit()
	if l.Sysprocs <= 0 || l.Vnodes <= 0 || l.Futexes <= 0 || l.Blocks <= 0 {
		t.Fatalf("expected nonzero default limits, got %+v", l)
	}
}
