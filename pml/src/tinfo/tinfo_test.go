package tinfo

import (
	"context"
	"testing"
)

func TestWithCurrentRoundTrips(t *testing.T) {
	note := &Tnote_t{Alive: true}
	ctx := WithCurrent(context.Background(), note)
	if got := Current(ctx); got != note {
		t.Fatalf("expected Current to return the installed note")
	}
}

func TestCurrentPanicsWithoutInstalledNote(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Current to panic with no installed note")
		}
	}()
	Current(context.Background())
}

func TestDoomedReflectsIsdoomed(t *testing.T) {
	note := &Tnote_t{}
	if note.Doomed() {
		t.Fatalf("expected a fresh note to not be doomed")
	}
	note.Isdoomed = true
	if !note.Doomed() {
		t.Fatalf("expected Doomed to reflect Isdoomed")
	}
}

func TestThreadinfoInit(t *testing.T) {
	var ti Threadinfo_t
	ti.Init()
	if ti.Notes == nil {
		t.Fatalf("expected Init to allocate the Notes map")
	}
}
