// Package vfs is the filesystem-independent layer every mounted
// filesystem plugs into (component I): vnode/dentry caching, path
// resolution, and permission gating ahead of dispatch. It is grounded
// on the teacher's ufs.Ufs_t wrapper, generalized from one hardcoded
// log-structured format to any Filesystem_i implementation — in this
// repository, only package ext2 implements one.
package vfs

import (
	"sync"

	"pml/src/defs"
	"pml/src/fdops"
	"pml/src/htable"
	"pml/src/limits"
	"pml/src/ustr"
)

// Ino_t identifies an inode within a single mounted filesystem. It is
// only unique per-mount; a vnode's identity is (Mount, Ino).
type Ino_t uint64

// FileType_t classifies a vnode the way a dirent's d_type byte does.
type FileType_t int

const (
	T_UNKNOWN FileType_t = iota
	T_REGULAR
	T_DIR
	T_SYMLINK
	T_CHAR
	T_BLOCK
	T_FIFO
	T_SOCK
)

// Attr_t is the filesystem-independent subset of stat(2) fields a
// Filesystem_i reports about one inode.
type Attr_t struct {
	Ino    Ino_t
	Type   FileType_t
	Mode   uint32
	Size   uint64
	Uid    uint32
	Gid    uint32
	Nlink  uint32
	Atime  int64
	Mtime  int64
	Ctime  int64
	Blocks uint64
}

// Dirent_t is one directory entry as returned by Filesystem_i.Readdir.
type Dirent_t struct {
	Name string
	Ino  Ino_t
	Type FileType_t
}

// Bmap flags, mirroring ext2's ALLOC/SET/UNINIT/ZERO flag set used by
// both the indirect and extent-based block addressing paths.
const (
	BMAP_ALLOC = 1 << iota
	BMAP_SET
	BMAP_UNINIT
	BMAP_ZERO
)

// BMAP_RET_UNINIT is set in a Bmap call's returned flags when the
// logical block maps to a sparse/uninitialized extent.
const BMAP_RET_UNINIT = 1

// Filesystem_i is implemented by one mounted filesystem driver (only
// package ext2 in this repository). Every method may fail with
// ENOTSUP if the underlying format has no such operation; the vfs
// layer performs all permission checks before calling any of these, so
// implementations never need to recheck permission bits.
type Filesystem_i interface {
	Root() Ino_t
	Lookup(dir Ino_t, name ustr.Ustr) (Ino_t, defs.Err_t)
	Getattr(ino Ino_t) (Attr_t, defs.Err_t)
	Read(ino Ino_t, dst fdops.Userio_i, offset int) (int, defs.Err_t)
	Write(ino Ino_t, src fdops.Userio_i, offset int) (int, defs.Err_t)
	Sync() defs.Err_t
	Chmod(ino Ino_t, mode uint32) defs.Err_t
	Chown(ino Ino_t, uid, gid uint32) defs.Err_t
	Create(dir Ino_t, name ustr.Ustr, mode uint32) (Ino_t, defs.Err_t)
	Mkdir(dir Ino_t, name ustr.Ustr, mode uint32) (Ino_t, defs.Err_t)
	Rename(olddir Ino_t, oldname ustr.Ustr, newdir Ino_t, newname ustr.Ustr) defs.Err_t
	Link(dir Ino_t, name ustr.Ustr, target Ino_t) defs.Err_t
	Unlink(dir Ino_t, name ustr.Ustr) defs.Err_t
	Symlink(dir Ino_t, name ustr.Ustr, target string) (Ino_t, defs.Err_t)
	Readdir(ino Ino_t, offset int) (Dirent_t, int, defs.Err_t)
	Readlink(ino Ino_t) (string, defs.Err_t)
	Truncate(ino Ino_t, newsize uint64) defs.Err_t
	Utime(ino Ino_t, atime, mtime int64) defs.Err_t
	Bmap(ino Ino_t, lblock int, flags int) (int, int, defs.Err_t)
	Dealloc(ino Ino_t) defs.Err_t
}

// Mount_t binds one Filesystem_i instance into the tree at a path.
type Mount_t struct {
	Fs   Filesystem_i
	Path ustr.Ustr
	root *Vnode_t
}

// Vnode_t is the VFS's in-core handle on one inode: a cached Attr_t
// plus a by-name child cache, grounded on spec.md §4.I's "in-memory
// string map on the vnode; on miss it calls the filesystem's lookup".
type Vnode_t struct {
	sync.Mutex
	Mount    *Mount_t
	Ino      Ino_t
	Attr     Attr_t
	Refcnt   int32
	parent   *Vnode_t
	children *htable.Hashtable_t[string, *Vnode_t]
}

// childCacheBuckets is the initial bucket count for a directory's
// by-name child cache; Hashtable_t grows no further than this, trading
// a fixed-size table (the teacher's hashtable.go convention) for the
// unbounded growth a native map would give, in exchange for per-bucket
// rather than per-vnode locking on lookups.
const childCacheBuckets = 32

// Mount creates the root vnode for fs and returns a Mount_t ready for
// path resolution to walk into.
func Mount(fs Filesystem_i, path ustr.Ustr) (*Mount_t, defs.Err_t) {
	attr, err := fs.Getattr(fs.Root())
	if err != 0 {
		return nil, err
	}
	m := &Mount_t{Fs: fs, Path: path}
	m.root = &Vnode_t{Mount: m, Ino: fs.Root(), Attr: attr, Refcnt: 1}
	return m, 0
}

// Root returns the mount's root vnode.
func (m *Mount_t) Root() *Vnode_t { return m.root }

// Unmount flushes the filesystem (Fs.Sync), matching the teacher's
// ufs.ShutdownFS lifecycle call; the root vnode is left in place.
func (m *Mount_t) Unmount() defs.Err_t {
	return m.Fs.Sync()
}

// child looks up name among v's cached children, calling the
// filesystem's Lookup on a cache miss and inserting the result.
func (v *Vnode_t) child(name ustr.Ustr) (*Vnode_t, defs.Err_t) {
	v.Lock()
	if v.children == nil {
		v.children = htable.MkHash[string, *Vnode_t](childCacheBuckets, htable.StringHash)
	}
	ht := v.children
	v.Unlock()

	if c, ok := ht.Get(string(name)); ok {
		return c, 0
	}

	ino, err := v.Mount.Fs.Lookup(v.Ino, name)
	if err != 0 {
		return nil, err
	}
	attr, err := v.Mount.Fs.Getattr(ino)
	if err != 0 {
		return nil, err
	}
	c := &Vnode_t{Mount: v.Mount, Ino: ino, Attr: attr, Refcnt: 1, parent: v}

	if existing, ok := ht.Get(string(name)); ok {
		return existing, 0
	}
	ht.Set(string(name), c)
	limits.Syslimit.Vnodes--
	return c, 0
}

// forget drops a stale cache entry, e.g. after unlink or rename.
func (v *Vnode_t) forget(name ustr.Ustr) {
	v.Lock()
	ht := v.children
	v.Unlock()
	if ht != nil {
		if _, ok := ht.Get(string(name)); ok {
			ht.Del(string(name))
			limits.Syslimit.Vnodes++
		}
	}
}

const maxSymlinkDepth = 40

// Walker resolves slash-separated paths against a root and a starting
// cwd, the way the teacher's Cwd_t.Canonicalpath plus ufs lookups do
// together, with permission gating folded in per spec.md §4.I.
type Walker struct {
	Root *Vnode_t
	Uid  int
	Gid  int
}

// Lookup resolves path (absolute or relative to cwd) to a vnode,
// following symlinks in all but the final component, and in the final
// component too when followLast is set (the O_NOFOLLOW-absent case).
func (w *Walker) Lookup(cwd *Vnode_t, path ustr.Ustr, followLast bool) (*Vnode_t, defs.Err_t) {
	return w.resolve(cwd, path, followLast, 0)
}

func (w *Walker) resolve(cwd *Vnode_t, path ustr.Ustr, followLast bool, depth int) (*Vnode_t, defs.Err_t) {
	if depth > maxSymlinkDepth {
		return nil, defs.ELOOP
	}
	cur := cwd
	if path.IsAbsolute() {
		cur = w.Root
	}
	comps := splitPath(path)
	for i, c := range comps {
		last := i == len(comps)-1
		if c.Isdot() {
			continue
		}
		if c.Isdotdot() {
			if cur.parent != nil {
				cur = cur.parent
			} else {
				cur = w.Root
			}
			continue
		}
		if cur.Attr.Type != T_DIR {
			return nil, defs.ENOTDIR
		}
		if err := w.checkPerm(cur, permExec); err != 0 {
			return nil, err
		}
		next, err := cur.child(c)
		if err != 0 {
			return nil, err
		}
		if next.Attr.Type == T_SYMLINK && (!last || followLast) {
			target, err := cur.Mount.Fs.Readlink(next.Ino)
			if err != 0 {
				return nil, err
			}
			base := cur
			if ustr.Ustr(target).IsAbsolute() {
				base = w.Root
			}
			resolved, err := w.resolve(base, ustr.Ustr(target), true, depth+1)
			if err != 0 {
				return nil, err
			}
			cur = resolved
			continue
		}
		cur = next
	}
	return cur, 0
}

// splitPath breaks an (possibly absolute) Ustr path into components,
// dropping empty segments produced by a leading '/' or doubled slash.
func splitPath(path ustr.Ustr) []ustr.Ustr {
	var out []ustr.Ustr
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}

type permClass int

const (
	permRead permClass = iota
	permWrite
	permExec
)

// checkPerm performs the owner/group/other gating spec.md §4.I
// describes, root bypassing every bit but exec-without-any-x-bit.
func (w *Walker) checkPerm(v *Vnode_t, want permClass) defs.Err_t {
	mode := v.Attr.Mode
	var shift uint
	switch {
	case w.Uid == 0:
		if want != permExec {
			return 0
		}
		if mode&0111 == 0 {
			return defs.EACCES
		}
		return 0
	case uint32(w.Uid) == v.Attr.Uid:
		shift = 6
	case uint32(w.Gid) == v.Attr.Gid:
		shift = 3
	default:
		shift = 0
	}
	var bit uint32
	switch want {
	case permRead:
		bit = 4
	case permWrite:
		bit = 2
	case permExec:
		bit = 1
	}
	if mode>>shift&bit == 0 {
		return defs.EACCES
	}
	return 0
}

// CheckRead, CheckWrite, CheckExec expose the permission gate to
// callers (package fd's open/read/write/exec paths) that must check a
// vnode before dispatching to the filesystem.
func (w *Walker) CheckRead(v *Vnode_t) defs.Err_t  { return w.checkPerm(v, permRead) }
func (w *Walker) CheckWrite(v *Vnode_t) defs.Err_t { return w.checkPerm(v, permWrite) }
func (w *Walker) CheckExec(v *Vnode_t) defs.Err_t  { return w.checkPerm(v, permExec) }

// Create checks write permission on the parent directory dir and asks
// the filesystem to create a new regular file, invalidating any stale
// negative cache entry for name.
func (w *Walker) Create(dir *Vnode_t, name ustr.Ustr, mode uint32) (*Vnode_t, defs.Err_t) {
	if err := w.checkPerm(dir, permWrite); err != 0 {
		return nil, err
	}
	_, err := dir.Mount.Fs.Create(dir.Ino, name, mode)
	if err != 0 {
		return nil, err
	}
	dir.forget(name)
	return dir.child(name)
}

// Mkdir is Create's directory-creating counterpart.
func (w *Walker) Mkdir(dir *Vnode_t, name ustr.Ustr, mode uint32) (*Vnode_t, defs.Err_t) {
	if err := w.checkPerm(dir, permWrite); err != 0 {
		return nil, err
	}
	if _, err := dir.Mount.Fs.Mkdir(dir.Ino, name, mode); err != 0 {
		return nil, err
	}
	dir.forget(name)
	return dir.child(name)
}

// Unlink removes name from dir, dropping the cache entry either way
// so a subsequent lookup re-derives ENOENT from the filesystem.
func (w *Walker) Unlink(dir *Vnode_t, name ustr.Ustr) defs.Err_t {
	if err := w.checkPerm(dir, permWrite); err != 0 {
		return err
	}
	err := dir.Mount.Fs.Unlink(dir.Ino, name)
	dir.forget(name)
	return err
}
