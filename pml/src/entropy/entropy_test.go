package entropy

import "testing"

func TestExtractDeterministicGivenFixedState(t *testing.T) {
	p := &Pool_t{}
	p.Mix([]byte("seed"))
	a := p.Extract(16)
	q := &Pool_t{}
	q.Mix([]byte("seed"))
	b := q.Extract(16)
	if string(a) != string(b) {
		t.Fatalf("expected two pools mixed with identical input to extract identically")
	}
}

func TestExtractSuccessiveDrawsDiverge(t *testing.T) {
	p := &Pool_t{}
	p.Mix([]byte("seed"))
	a := p.Extract(16)
	b := p.Extract(16)
	if string(a) == string(b) {
		t.Fatalf("expected successive extracts from the same pool to differ")
	}
}

func TestExtractLengthHonored(t *testing.T) {
	p := &Pool_t{}
	p.Mix([]byte("x"))
	for _, n := range []int{1, 31, 32, 33, 100} {
		if got := len(p.Extract(n)); got != n {
			t.Fatalf("Extract(%d): expected %d bytes, got %d", n, n, got)
		}
	}
}

func TestMixChangesState(t *testing.T) {
	p := &Pool_t{}
	before := p.state
	p.Mix([]byte("entropy"))
	if p.state == before {
		t.Fatalf("expected Mix to change the pool's internal state")
	}
}

func TestGlobalMixAndExtract(t *testing.T) {
	Mix([]byte("from test"))
	if len(Extract(8)) != 8 {
		t.Fatalf("expected the package-level Extract to honor the requested length")
	}
	if Estimate() < 1 {
		t.Fatalf("expected at least one mixin recorded after seeding and this test's Mix call")
	}
}
