package ext2

import (
	"path/filepath"
	"testing"

	"pml/src/defs"
	"pml/src/ustr"
	"pml/src/vfs"
)

func mustFormat(t *testing.T) *Fs_t {
	t.Helper()
	path := filepath.Join(t.TempDir(), "root.img")
	fs, err := Format(path, 512, 128)
	if err != 0 {
		t.Fatalf("format: %v", err)
	}
	return fs
}

func TestFormatSuperblock(t *testing.T) {
	fs := mustFormat(t)
	if fs.sb.BlocksCountLo == 0 {
		t.Fatalf("expected a nonzero block count in the freshly formatted superblock")
	}
	if fs.Root() != vfs.Ino_t(rootIno) {
		t.Fatalf("expected root inode %d, got %d", rootIno, fs.Root())
	}
}

func TestCreateAndReadback(t *testing.T) {
	fs := mustFormat(t)
	root := fs.Root()

	ino, err := fs.Create(root, ustr.Ustr("hello.txt"), 0644)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}

	src := &memUserio{buf: []byte("hello, ext2")}
	n, err := fs.Write(ino, src, 0)
	if err != 0 {
		t.Fatalf("write: %v", err)
	}
	if n != len("hello, ext2") {
		t.Fatalf("expected %d bytes written, got %d", len("hello, ext2"), n)
	}

	dst := &memUserio{limit: 64}
	n, err = fs.Read(ino, dst, 0)
	if err != 0 {
		t.Fatalf("read: %v", err)
	}
	if string(dst.buf[:n]) != "hello, ext2" {
		t.Fatalf("expected readback to match what was written, got %q", dst.buf[:n])
	}

	looked, err := fs.Lookup(root, ustr.Ustr("hello.txt"))
	if err != 0 {
		t.Fatalf("lookup: %v", err)
	}
	if looked != ino {
		t.Fatalf("expected lookup to find the created inode, got %d want %d", looked, ino)
	}
}

func TestUnlinkRemovesDirent(t *testing.T) {
	fs := mustFormat(t)
	root := fs.Root()

	ino, err := fs.Create(root, ustr.Ustr("gone.txt"), 0644)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}

	if err := fs.Unlink(root, ustr.Ustr("gone.txt")); err != 0 {
		t.Fatalf("unlink: %v", err)
	}

	if _, err := fs.Lookup(root, ustr.Ustr("gone.txt")); err == 0 {
		t.Fatalf("expected lookup to fail after unlink")
	}
	_ = ino
}

func TestMkdirAndLookupNested(t *testing.T) {
	fs := mustFormat(t)
	root := fs.Root()

	dir, err := fs.Mkdir(root, ustr.Ustr("sub"), 0755)
	if err != 0 {
		t.Fatalf("mkdir: %v", err)
	}
	_, err = fs.Create(dir, ustr.Ustr("nested.txt"), 0644)
	if err != 0 {
		t.Fatalf("create nested: %v", err)
	}
	if _, err := fs.Lookup(dir, ustr.Ustr("nested.txt")); err != 0 {
		t.Fatalf("expected nested lookup to succeed: %v", err)
	}
}

// memUserio is a minimal fdops.Userio_i backed by a plain slice. A
// source reports its unread bytes as Remain; a sink built with a
// non-zero limit reports the room left below that limit.
type memUserio struct {
	buf   []byte
	limit int
}

func (m *memUserio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, m.buf)
	m.buf = m.buf[n:]
	return n, 0
}
func (m *memUserio) Uiowrite(src []uint8) (int, defs.Err_t) {
	m.buf = append(m.buf, src...)
	return len(src), 0
}
func (m *memUserio) Remain() int {
	if m.limit > 0 {
		return m.limit - len(m.buf)
	}
	return len(m.buf)
}
func (m *memUserio) Totalsz() int { return len(m.buf) }
