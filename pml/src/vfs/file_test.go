package vfs

import (
	"testing"

	"pml/src/defs"
	"pml/src/fdops"
	"pml/src/stat"
	"pml/src/ustr"
)

// fakeFs is a minimal in-memory Filesystem_i exercising just enough of
// the interface for File_t's tests; every method not needed here
// returns ENOTSUP.
type fakeFs struct {
	data []byte
}

func (f *fakeFs) Root() Ino_t { return 1 }
func (f *fakeFs) Lookup(dir Ino_t, name ustr.Ustr) (Ino_t, defs.Err_t) {
	return 0, defs.ENOTSUP
}
func (f *fakeFs) Getattr(ino Ino_t) (Attr_t, defs.Err_t) {
	return Attr_t{Ino: ino, Type: T_REGULAR, Size: uint64(len(f.data))}, 0
}
func (f *fakeFs) Read(ino Ino_t, dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	if offset >= len(f.data) {
		return 0, 0
	}
	return dst.Uiowrite(f.data[offset:])
}
func (f *fakeFs) Write(ino Ino_t, src fdops.Userio_i, offset int) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	if need := offset + n; need > len(f.data) {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:], buf[:n])
	return n, 0
}
func (f *fakeFs) Sync() defs.Err_t                         { return 0 }
func (f *fakeFs) Chmod(ino Ino_t, mode uint32) defs.Err_t  { return defs.ENOTSUP }
func (f *fakeFs) Chown(ino Ino_t, uid, gid uint32) defs.Err_t { return defs.ENOTSUP }
func (f *fakeFs) Create(dir Ino_t, name ustr.Ustr, mode uint32) (Ino_t, defs.Err_t) {
	return 0, defs.ENOTSUP
}
func (f *fakeFs) Mkdir(dir Ino_t, name ustr.Ustr, mode uint32) (Ino_t, defs.Err_t) {
	return 0, defs.ENOTSUP
}
func (f *fakeFs) Rename(olddir Ino_t, oldname ustr.Ustr, newdir Ino_t, newname ustr.Ustr) defs.Err_t {
	return defs.ENOTSUP
}
func (f *fakeFs) Link(dir Ino_t, name ustr.Ustr, target Ino_t) defs.Err_t { return defs.ENOTSUP }
func (f *fakeFs) Unlink(dir Ino_t, name ustr.Ustr) defs.Err_t             { return defs.ENOTSUP }
func (f *fakeFs) Symlink(dir Ino_t, name ustr.Ustr, target string) (Ino_t, defs.Err_t) {
	return 0, defs.ENOTSUP
}
func (f *fakeFs) Readdir(ino Ino_t, offset int) (Dirent_t, int, defs.Err_t) {
	return Dirent_t{}, 0, defs.ENOTSUP
}
func (f *fakeFs) Readlink(ino Ino_t) (string, defs.Err_t) { return "", defs.ENOTSUP }
func (f *fakeFs) Truncate(ino Ino_t, newsize uint64) defs.Err_t {
	f.data = f.data[:newsize]
	return 0
}
func (f *fakeFs) Utime(ino Ino_t, atime, mtime int64) defs.Err_t { return defs.ENOTSUP }
func (f *fakeFs) Bmap(ino Ino_t, lblock int, flags int) (int, int, defs.Err_t) {
	return 0, 0, defs.ENOTSUP
}
func (f *fakeFs) Dealloc(ino Ino_t) defs.Err_t { return defs.ENOTSUP }

type fakeUserio struct{ buf []byte }

func (u *fakeUserio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.buf)
	u.buf = u.buf[n:]
	return n, 0
}
func (u *fakeUserio) Uiowrite(src []uint8) (int, defs.Err_t) {
	u.buf = append(u.buf, src...)
	return len(src), 0
}
func (u *fakeUserio) Remain() int  { return len(u.buf) }
func (u *fakeUserio) Totalsz() int { return len(u.buf) }

func mustMount(t *testing.T, fs *fakeFs) *Vnode_t {
	t.Helper()
	mnt, err := Mount(fs, ustr.MkUstrRoot())
	if err != 0 {
		t.Fatalf("mount: %v", err)
	}
	return mnt.Root()
}

func TestFileReadWriteEachGetOwnCursor(t *testing.T) {
	fs := &fakeFs{data: []byte("hello world")}
	vn := mustMount(t, fs)

	a := Open(vn)
	b := Open(vn)

	dstA := &fakeUserio{}
	n, err := a.Read(dstA)
	if err != 0 {
		t.Fatalf("read a: %v", err)
	}
	if string(dstA.buf[:n]) != "hello world" {
		t.Fatalf("expected full contents, got %q", dstA.buf[:n])
	}

	// b's cursor is independent and still starts at 0.
	dstB := &fakeUserio{}
	n2, err := b.Read(dstB)
	if err != 0 {
		t.Fatalf("read b: %v", err)
	}
	if string(dstB.buf[:n2]) != "hello world" {
		t.Fatalf("expected b's independent cursor to also read from 0, got %q", dstB.buf[:n2])
	}
}

func TestFileWriteAdvancesCursor(t *testing.T) {
	fs := &fakeFs{}
	vn := mustMount(t, fs)
	f := Open(vn)

	if _, err := f.Write(&fakeUserio{buf: []byte("abc")}); err != 0 {
		t.Fatalf("write: %v", err)
	}
	if _, err := f.Write(&fakeUserio{buf: []byte("def")}); err != 0 {
		t.Fatalf("write: %v", err)
	}
	if string(fs.data) != "abcdef" {
		t.Fatalf("expected sequential writes to append, got %q", fs.data)
	}
}

func TestFileLseekModes(t *testing.T) {
	fs := &fakeFs{data: []byte("0123456789")}
	vn := mustMount(t, fs)
	f := Open(vn)

	if off, err := f.Lseek(3, defs.SEEK_SET); err != 0 || off != 3 {
		t.Fatalf("SEEK_SET: off=%d err=%v", off, err)
	}
	if off, err := f.Lseek(2, defs.SEEK_CUR); err != 0 || off != 5 {
		t.Fatalf("SEEK_CUR: off=%d err=%v", off, err)
	}
	if off, err := f.Lseek(0, defs.SEEK_END); err != 0 || off != 10 {
		t.Fatalf("SEEK_END: off=%d err=%v", off, err)
	}
}

func TestFileLseekNegativeRejected(t *testing.T) {
	fs := &fakeFs{data: []byte("x")}
	vn := mustMount(t, fs)
	f := Open(vn)
	if _, err := f.Lseek(-5, defs.SEEK_SET); err != defs.EINVAL {
		t.Fatalf("expected EINVAL seeking negative, got %v", err)
	}
}

func TestFileFstatReportsRegularType(t *testing.T) {
	fs := &fakeFs{data: []byte("abcd")}
	vn := mustMount(t, fs)
	f := Open(vn)

	buf := make([]uint8, 64)
	if err := f.Fstat(buf); err != 0 {
		t.Fatalf("fstat: %v", err)
	}
	var s stat.Stat_t
	copy(s.Bytes(), buf)
	if s.Mode()&0xf000 != 0x8000 {
		t.Fatalf("expected S_IFREG in mode, got %#o", s.Mode())
	}
}

func TestFilePathiUnsupported(t *testing.T) {
	fs := &fakeFs{}
	vn := mustMount(t, fs)
	f := Open(vn)
	if _, err := f.Pathi(); err != defs.ENOTSUP {
		t.Fatalf("expected ENOTSUP from Pathi, got %v", err)
	}
}

func TestOpenBumpsRefcnt(t *testing.T) {
	fs := &fakeFs{}
	vn := mustMount(t, fs)
	before := vn.Refcnt
	f := Open(vn)
	if vn.Refcnt != before+1 {
		t.Fatalf("expected Open to bump refcnt, before=%d after=%d", before, vn.Refcnt)
	}
	f.Close()
	if vn.Refcnt != before {
		t.Fatalf("expected Close to drop refcnt back, got %d", vn.Refcnt)
	}
}
