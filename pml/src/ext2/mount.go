package ext2

import (
	"pml/src/defs"
	"pml/src/ustr"
	"pml/src/vfs"
)

// S_IFMT file-type bits, or'd with the caller's permission bits to
// form a fresh inode's i_mode.
const (
	sIfdir = 0x4000
	sIflnk = 0xa000
	sIfreg = 0x8000
)

// allocInode reserves an inode number and writes its initial contents,
// giving it an extents root only when the filesystem has the EXTENTS
// feature; on an image without it the new inode is indirect-mapped.
func (fs *Fs_t) allocInode(dirIno uint32, kind uint16, mode uint32) (uint32, *Inode_t, defs.Err_t) {
	ino, err := fs.newInode(dirIno, kind == sIfdir)
	if err != 0 {
		return 0, nil, err
	}
	in := &Inode_t{Mode: kind | uint16(mode&0xfff), LinksCount: 1}
	if fs.sb.HasExtents() {
		initExtentRoot(in)
	}
	if err := writeNewInode(fs, ino, in, now()); err != 0 {
		return 0, nil, err
	}
	return ino, in, 0
}

func (fs *Fs_t) Create(dir vfs.Ino_t, name ustr.Ustr, mode uint32) (vfs.Ino_t, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	din, err := readInode(fs, uint32(dir))
	if err != 0 {
		return 0, err
	}
	if !din.IsDir() {
		return 0, defs.ENOTDIR
	}
	if _, err := fs.lookupName(uint32(dir), din, string(name)); err == 0 {
		return 0, defs.EEXIST
	}
	ino, _, err := fs.allocInode(uint32(dir), sIfreg, mode)
	if err != 0 {
		return 0, err
	}
	if err := fs.addLink(uint32(dir), din, string(name), ino, direntFtype(sIfreg)); err != 0 {
		return 0, err
	}
	return vfs.Ino_t(ino), updateInode(fs, uint32(dir), din)
}

// Mkdir creates a new directory inode with "." and ".." already
// populated, then links it into its parent, bumping the parent's link
// count for the child's "..".
func (fs *Fs_t) Mkdir(dir vfs.Ino_t, name ustr.Ustr, mode uint32) (vfs.Ino_t, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	din, err := readInode(fs, uint32(dir))
	if err != 0 {
		return 0, err
	}
	if !din.IsDir() {
		return 0, defs.ENOTDIR
	}
	if _, err := fs.lookupName(uint32(dir), din, string(name)); err == 0 {
		return 0, defs.EEXIST
	}
	ino, in, err := fs.allocInode(uint32(dir), sIfdir, mode)
	if err != 0 {
		return 0, err
	}
	in.LinksCount = 2
	if err := fs.addLink(ino, in, ".", ino, direntFtype(sIfdir)); err != 0 {
		return 0, err
	}
	if err := fs.addLink(ino, in, "..", uint32(dir), direntFtype(sIfdir)); err != 0 {
		return 0, err
	}
	if err := updateInode(fs, ino, in); err != 0 {
		return 0, err
	}
	if err := fs.addLink(uint32(dir), din, string(name), ino, direntFtype(sIfdir)); err != 0 {
		return 0, err
	}
	din.LinksCount++
	return vfs.Ino_t(ino), updateInode(fs, uint32(dir), din)
}

// Link adds another name for an existing inode, incrementing its link
// count. Directory hard-linking is rejected, matching link(2) on Linux.
func (fs *Fs_t) Link(dir vfs.Ino_t, name ustr.Ustr, target vfs.Ino_t) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	din, err := readInode(fs, uint32(dir))
	if err != 0 {
		return err
	}
	tin, err := readInode(fs, uint32(target))
	if err != 0 {
		return err
	}
	if tin.IsDir() {
		return defs.EPERM
	}
	if _, err := fs.lookupName(uint32(dir), din, string(name)); err == 0 {
		return defs.EEXIST
	}
	if err := fs.addLink(uint32(dir), din, string(name), uint32(target), direntFtype(tin.Mode)); err != 0 {
		return err
	}
	tin.LinksCount++
	return updateInode(fs, uint32(target), tin)
}

// Unlink removes name from dir, freeing the target inode once its link
// count (and, for directories, its own emptiness) allow it.
func (fs *Fs_t) Unlink(dir vfs.Ino_t, name ustr.Ustr) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	din, err := readInode(fs, uint32(dir))
	if err != 0 {
		return err
	}
	targetIno, err := fs.lookupName(uint32(dir), din, string(name))
	if err != 0 {
		return err
	}
	tin, err := readInode(fs, targetIno)
	if err != 0 {
		return err
	}
	if tin.IsDir() {
		empty, err := fs.dirIsEmpty(targetIno, tin)
		if err != 0 {
			return err
		}
		if !empty {
			return defs.ENOTEMPTY
		}
		din.LinksCount--
	}
	if _, err := fs.unlinkName(uint32(dir), din, string(name)); err != 0 {
		return err
	}
	if tin.LinksCount > 0 {
		tin.LinksCount--
	}
	if err := updateInode(fs, targetIno, tin); err != 0 {
		return err
	}
	if tin.LinksCount == 0 {
		if err := fs.truncateFile(targetIno, tin, 0); err != 0 {
			return err
		}
		tin.Dtime = now()
		if err := updateInode(fs, targetIno, tin); err != 0 {
			return err
		}
		fs.icache.invalidate(targetIno)
		if err := fs.inodeAllocStats(targetIno, -1, tin.IsDir()); err != 0 {
			return err
		}
	}
	return updateInode(fs, uint32(dir), din)
}

// Symlink creates a new symlink inode; targets under 60 bytes are
// stored inline in i_block (the "fast symlink" layout), longer targets
// go through the ordinary file-write path.
func (fs *Fs_t) Symlink(dir vfs.Ino_t, name ustr.Ustr, target string) (vfs.Ino_t, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	din, err := readInode(fs, uint32(dir))
	if err != 0 {
		return 0, err
	}
	if !din.IsDir() {
		return 0, defs.ENOTDIR
	}
	if _, err := fs.lookupName(uint32(dir), din, string(name)); err == 0 {
		return 0, defs.EEXIST
	}
	ino, err := fs.newInode(uint32(dir), false)
	if err != 0 {
		return 0, err
	}
	in := &Inode_t{Mode: sIflnk | 0777, LinksCount: 1}
	if len(target) < 60 {
		var buf [60]byte
		copy(buf[:], target)
		for i := 0; i < 15; i++ {
			in.Block[i] = leUint32(buf[i*4 : i*4+4])
		}
		in.SizeLo = uint32(len(target))
	} else {
		if fs.sb.HasExtents() {
			initExtentRoot(in)
		}
		if err := writeNewInode(fs, ino, in, now()); err != 0 {
			return 0, err
		}
		src := &symlinkSource{buf: []byte(target)}
		if _, err := fs.writeFile(ino, in, src, 0); err != 0 {
			return 0, err
		}
	}
	if err := writeNewInode(fs, ino, in, now()); err != 0 {
		return 0, err
	}
	if err := fs.addLink(uint32(dir), din, string(name), ino, direntFtype(sIflnk)); err != 0 {
		return 0, err
	}
	return vfs.Ino_t(ino), updateInode(fs, uint32(dir), din)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

type symlinkSource struct {
	buf []byte
	off int
}

func (s *symlinkSource) Uiowrite(dst []uint8) (int, defs.Err_t) { panic("write-only source") }
func (s *symlinkSource) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, s.buf[s.off:])
	s.off += n
	return n, 0
}
func (s *symlinkSource) Remain() int  { return len(s.buf) - s.off }
func (s *symlinkSource) Totalsz() int { return len(s.buf) }

// Rename moves (olddir, oldname) to (newdir, newname), per rename(2):
// an existing, non-directory newname is silently replaced; replacing
// an existing directory requires it be empty.
func (fs *Fs_t) Rename(olddir vfs.Ino_t, oldname ustr.Ustr, newdir vfs.Ino_t, newname ustr.Ustr) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	odin, err := readInode(fs, uint32(olddir))
	if err != 0 {
		return err
	}
	srcIno, err := fs.lookupName(uint32(olddir), odin, string(oldname))
	if err != 0 {
		return err
	}
	srcIn, err := readInode(fs, srcIno)
	if err != 0 {
		return err
	}
	ndin, err := readInode(fs, uint32(newdir))
	if err != 0 {
		return err
	}
	if dstIno, err := fs.lookupName(uint32(newdir), ndin, string(newname)); err == 0 {
		if dstIno == srcIno {
			return 0
		}
		dstIn, err := readInode(fs, dstIno)
		if err != 0 {
			return err
		}
		if dstIn.IsDir() {
			empty, err := fs.dirIsEmpty(dstIno, dstIn)
			if err != 0 {
				return err
			}
			if !empty {
				return defs.ENOTEMPTY
			}
		}
		if _, err := fs.unlinkName(uint32(newdir), ndin, string(newname)); err != 0 {
			return err
		}
		if dstIn.LinksCount > 0 {
			dstIn.LinksCount--
		}
		if err := updateInode(fs, dstIno, dstIn); err != 0 {
			return err
		}
		if dstIn.LinksCount == 0 {
			fs.icache.invalidate(dstIno)
			fs.inodeAllocStats(dstIno, -1, dstIn.IsDir())
		}
	}
	if err := fs.addLink(uint32(newdir), ndin, string(newname), srcIno, direntFtype(srcIn.Mode)); err != 0 {
		return err
	}
	if _, err := fs.unlinkName(uint32(olddir), odin, string(oldname)); err != 0 {
		return err
	}
	if srcIn.IsDir() && olddir != newdir {
		fs.unlinkName(srcIno, srcIn, "..")
		if err := fs.addLink(srcIno, srcIn, "..", uint32(newdir), direntFtype(sIfdir)); err != 0 {
			return err
		}
		odin.LinksCount--
		ndin.LinksCount++
	}
	if err := updateInode(fs, uint32(olddir), odin); err != 0 {
		return err
	}
	return updateInode(fs, uint32(newdir), ndin)
}
