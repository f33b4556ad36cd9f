package vfs

import (
	"sync"

	"pml/src/defs"
	"pml/src/fdops"
	"pml/src/stat"
)

// File_t is the fdops.Fdops_i implementation fd.Fd_t.Fops holds for an
// ordinary (non-pipe, non-tty) open file: a vnode plus the private
// read/write cursor POSIX's open-file-description semantics require
// (two fds from separate opens of the same path each get their own
// offset; two fds from dup share one). Grounded on the teacher's own
// fd/vfs split, generalized so any Filesystem_i can back one instead
// of only the teacher's bespoke format.
type File_t struct {
	mu     sync.Mutex
	Vn     *Vnode_t
	offset int
}

// Open wraps vn in a File_t with a fresh zero offset, the way opening
// a path always starts reading/writing from byte 0 regardless of how
// many other descriptors already reference vn.
func Open(vn *Vnode_t) *File_t {
	vn.Lock()
	vn.Refcnt++
	vn.Unlock()
	return &File_t{Vn: vn}
}

func (f *File_t) Close() defs.Err_t {
	f.Vn.Lock()
	f.Vn.Refcnt--
	f.Vn.Unlock()
	return 0
}

func (f *File_t) Reopen() defs.Err_t {
	f.Vn.Lock()
	f.Vn.Refcnt++
	f.Vn.Unlock()
	return 0
}

func (f *File_t) Fstat(st []uint8) defs.Err_t {
	attr, err := f.Vn.Mount.Fs.Getattr(f.Vn.Ino)
	if err != 0 {
		return err
	}
	var s stat.Stat_t
	s.Wdev(0)
	s.Wino(uint(attr.Ino))
	s.Wmode(uint(modeWithType(attr)))
	s.Wsize(uint(attr.Size))
	s.Wrdev(0)
	copy(st, s.Bytes())
	return 0
}

// modeWithType ORs the POSIX S_IFMT bits for attr.Type into attr.Mode,
// since Attr_t keeps type and permission bits separate but stat(2)
// packs them into one field.
func modeWithType(attr Attr_t) uint32 {
	var ifmt uint32
	switch attr.Type {
	case T_REGULAR:
		ifmt = 0x8000
	case T_DIR:
		ifmt = 0x4000
	case T_SYMLINK:
		ifmt = 0xa000
	case T_CHAR:
		ifmt = 0x2000
	case T_BLOCK:
		ifmt = 0x6000
	case T_FIFO:
		ifmt = 0x1000
	case T_SOCK:
		ifmt = 0xc000
	}
	return ifmt | (attr.Mode &^ 0xf000)
}

func (f *File_t) Lseek(off int, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case defs.SEEK_SET:
		f.offset = off
	case defs.SEEK_CUR:
		f.offset += off
	case defs.SEEK_END:
		attr, err := f.Vn.Mount.Fs.Getattr(f.Vn.Ino)
		if err != 0 {
			return 0, err
		}
		f.offset = int(attr.Size) + off
	default:
		return 0, defs.EINVAL
	}
	if f.offset < 0 {
		f.offset = 0
		return 0, defs.EINVAL
	}
	return f.offset, 0
}

func (f *File_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Vn.Mount.Fs.Read(f.Vn.Ino, dst, f.offset)
	if err != 0 {
		return 0, err
	}
	f.offset += n
	return n, 0
}

func (f *File_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Vn.Mount.Fs.Write(f.Vn.Ino, src, f.offset)
	if err != 0 {
		return 0, err
	}
	f.offset += n
	return n, 0
}

func (f *File_t) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return f.Vn.Mount.Fs.Read(f.Vn.Ino, dst, offset)
}

func (f *File_t) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return f.Vn.Mount.Fs.Write(f.Vn.Ino, src, offset)
}

func (f *File_t) Truncate(newlen uint) defs.Err_t {
	return f.Vn.Mount.Fs.Truncate(f.Vn.Ino, uint64(newlen))
}

// Pathi is unsupported at the File_t level: reconstructing a full path
// from a vnode requires walking parent links the cache doesn't keep
// once a directory entry is forgotten, so callers needing a path
// (e.g. /proc/self/fd) must track it themselves at open time.
func (f *File_t) Pathi() (string, defs.Err_t) { return "", defs.ENOTSUP }

func (f *File_t) Pollone(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.READY_READ | fdops.READY_WRITE, 0
}
