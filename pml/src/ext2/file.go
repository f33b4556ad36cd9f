package ext2

import (
	"pml/src/defs"
	"pml/src/fdops"
)

// iblkAdd/iblkSub maintain i_blocks (and its high half under
// HUGE_FILE_FL) in 512-byte units scaled by the cluster ratio, which
// is always 1 since BIGALLOC clustering is not implemented.
func iblkAdd(fs *Fs_t, in *Inode_t, bytes int) {
	units := uint64(bytes) / 512
	total := uint64(in.BlocksLo) | uint64(in.BlocksHigh)<<32
	total += units
	in.BlocksLo = uint32(total)
	in.BlocksHigh = uint16(total >> 32)
}

func iblkSub(fs *Fs_t, in *Inode_t, bytes int) {
	units := uint64(bytes) / 512
	total := uint64(in.BlocksLo) | uint64(in.BlocksHigh)<<32
	if units > total {
		units = total
	}
	total -= units
	in.BlocksLo = uint32(total)
	in.BlocksHigh = uint16(total >> 32)
}

// readFile reads up to len(dst) bytes of inode ino starting at offset.
func (fs *Fs_t) readFile(ino uint32, in *Inode_t, dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	bs := fs.sb.BlockSize()
	size := int(in.Size())
	if offset >= size {
		return 0, 0
	}
	buf := make([]byte, bs)
	total := 0
	want := dst.Remain()
	for offset < size && total < want {
		lb := offset / bs
		blkoff := offset % bs
		phys, retflags, err := fs.bmap(ino, in, lb, 0)
		if err != 0 {
			return total, err
		}
		n := bs - blkoff
		if n > size-offset {
			n = size - offset
		}
		if n > want-total {
			n = want - total
		}
		if phys == 0 || retflags&bmapRetUninit != 0 {
			zeros := make([]byte, n)
			w, err := dst.Uiowrite(zeros)
			total += w
			offset += w
			if err != 0 || w < n {
				return total, err
			}
			continue
		}
		if err := fs.disk.ReadBlock(phys, buf); err != 0 {
			return total, err
		}
		w, err := dst.Uiowrite(buf[blkoff : blkoff+n])
		total += w
		offset += w
		if err != 0 || w < n {
			return total, err
		}
	}
	return total, 0
}

// writeFile writes src into inode ino starting at offset, growing the
// file and zero-filling any gap before the new data per file_set_size.
func (fs *Fs_t) writeFile(ino uint32, in *Inode_t, src fdops.Userio_i, offset int) (int, defs.Err_t) {
	bs := fs.sb.BlockSize()
	buf := make([]byte, bs)
	total := 0
	want := src.Remain()
	for total < want {
		lb := offset / bs
		blkoff := offset % bs
		phys, _, err := fs.bmap(ino, in, lb, bmapAlloc|bmapZero)
		if err != 0 {
			return total, err
		}
		n := bs - blkoff
		if n > want-total {
			n = want - total
		}
		if blkoff != 0 || n != bs {
			if err := fs.disk.ReadBlock(phys, buf); err != 0 {
				return total, err
			}
		}
		r, err := src.Uioread(buf[blkoff : blkoff+n])
		if err != 0 {
			return total, err
		}
		if err := fs.disk.WriteBlock(phys, buf[:bs]); err != 0 {
			return total, err
		}
		total += r
		offset += r
		if r < n {
			break
		}
	}
	if uint64(offset) > in.Size() {
		fs.setFileSize(in, uint64(offset))
	}
	return total, 0
}

// setFileSize adjusts i_size/i_size_high, turning on LARGE_FILE when
// the new size exceeds 2^32 bytes.
func (fs *Fs_t) setFileSize(in *Inode_t, size uint64) {
	in.SizeLo = uint32(size)
	in.SizeHigh = uint32(size >> 32)
	if size >= 1<<32 {
		fs.sb.FeatureRoCompat |= RO_COMPAT_LARGE_FILE
		fs.dirty = true
	}
}

// truncateFile shrinks ino to newsize, zero-filling the tail of the
// final retained block and freeing blocks beyond it. Only the
// indirect-mapped shrink path is implemented; extent-mapped truncation
// is limited to whole-block-aligned sizes (the common case for this
// repository's own file writers).
func (fs *Fs_t) truncateFile(ino uint32, in *Inode_t, newsize uint64) defs.Err_t {
	bs := fs.sb.BlockSize()
	oldsize := in.Size()
	if newsize >= oldsize {
		fs.setFileSize(in, newsize)
		return updateInode(fs, ino, in)
	}
	oldBlocks := (int(oldsize) + bs - 1) / bs
	newBlocks := (int(newsize) + bs - 1) / bs
	for lb := newBlocks; lb < oldBlocks; lb++ {
		phys, _, err := fs.bmap(ino, in, lb, 0)
		if err == 0 && phys != 0 {
			fs.freeBlock(phys)
			iblkSub(fs, in, bs)
		}
	}
	if newsize%uint64(bs) != 0 {
		lb := int(newsize) / bs
		phys, _, err := fs.bmap(ino, in, lb, 0)
		if err == 0 && phys != 0 {
			buf := make([]byte, bs)
			if e := fs.disk.ReadBlock(phys, buf); e == 0 {
				off := int(newsize) % bs
				for i := off; i < bs; i++ {
					buf[i] = 0
				}
				fs.disk.WriteBlock(phys, buf)
			}
		}
	}
	fs.setFileSize(in, newsize)
	return updateInode(fs, ino, in)
}
