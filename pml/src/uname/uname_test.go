package uname

import (
	"strings"
	"testing"
)

func field(buf []uint8, i int) string {
	raw := buf[i*fieldLen : (i+1)*fieldLen]
	return string(raw[:strings.IndexByte(string(raw), 0)])
}

func TestBytesLayout(t *testing.T) {
	buf := Bytes("host1")
	if len(buf) != 6*fieldLen {
		t.Fatalf("expected 6 fixed-width fields, got %d bytes", len(buf))
	}
	if got := field(buf, 0); got != "PML" {
		t.Fatalf("expected sysname PML, got %q", got)
	}
	if got := field(buf, 1); got != "host1" {
		t.Fatalf("expected nodename host1, got %q", got)
	}
	if got := field(buf, 4); got != "x86_64" {
		t.Fatalf("expected machine x86_64, got %q", got)
	}
}

func TestBytesPadsShortNodename(t *testing.T) {
	buf := Bytes("h")
	off := 1 * fieldLen
	for i := off + 1; i < off+fieldLen; i++ {
		if buf[i] != 0 {
			t.Fatalf("expected NUL padding after short nodename at offset %d", i)
		}
	}
}

func TestBytesReflectsReleaseVar(t *testing.T) {
	old := Release
	defer func() { Release = old }()
	Release = "9.9.9"
	buf := Bytes("h")
	if got := field(buf, 2); got != "9.9.9" {
		t.Fatalf("expected release to reflect the package var, got %q", got)
	}
}
