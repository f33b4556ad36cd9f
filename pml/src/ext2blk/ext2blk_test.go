package ext2blk

import (
	"path/filepath"
	"testing"

	"pml/src/defs"
)

func TestCreateThenWriteReadBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Create(path, 512, 16)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer d.Close()

	want := make([]byte, 512)
	for i := range want {
		want[i] = byte(i)
	}
	if e := d.WriteBlock(3, want); e != 0 {
		t.Fatalf("writeblock: %v", e)
	}

	got := make([]byte, 512)
	if e := d.ReadBlock(3, got); e != 0 {
		t.Fatalf("readblock: %v", e)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestReadBlockOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Create(path, 512, 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer d.Close()

	buf := make([]byte, 512)
	if e := d.ReadBlock(4, buf); e != defs.EINVAL {
		t.Fatalf("expected EINVAL reading past capacity, got %v", e)
	}
	if e := d.ReadBlock(-1, buf); e != defs.EINVAL {
		t.Fatalf("expected EINVAL reading a negative block, got %v", e)
	}
}

func TestOpenRejectsConcurrentUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Create(path, 512, 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer d.Close()

	if _, err := Open(path, 512); err == nil {
		t.Fatalf("expected Open to fail while the disk is already locked by Create's handle")
	}
}

func TestCreateThenReopenAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Create(path, 512, 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, 512)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Nblocks() != 4 {
		t.Fatalf("expected 4 blocks on reopen, got %d", reopened.Nblocks())
	}
}
