package ext2

import (
	"encoding/binary"

	"pml/src/defs"
)

// Bmap flag bits, mirroring spec.md §4.J's {ALLOC, SET, UNINIT, ZERO}.
// The Fs_t's ext2blk.FileDisk_t is always opened with its block size
// set to the filesystem's own block size (see Mount), so every block
// number here is directly a disk block number with no translation.
const (
	bmapAlloc  = 1 << 0
	bmapSet    = 1 << 1
	bmapUninit = 1 << 2
	bmapZero   = 1 << 3
)

// BMAP_RET_UNINIT is set in bmap's returned flags when the logical
// block maps to a sparse/uninitialized extent.
const bmapRetUninit = 1

// bmap resolves logical block lblock of inode ino to a physical block,
// dispatching to the indirect or extent-based addressing scheme
// depending on INODE_EXTENTS_FL.
func (fs *Fs_t) bmap(ino uint32, in *Inode_t, lblock int, flags int) (int, int, defs.Err_t) {
	if in.HasExtents() {
		return fs.bmapExtent(ino, in, lblock, flags)
	}
	return fs.bmapIndirect(ino, in, lblock, flags)
}

func ptrsPerBlock(bs int) int { return bs / 4 }

// bmapIndirect implements the classic direct/indirect/double/triple
// addressing scheme; a too-large logical block yields EFBIG.
func (fs *Fs_t) bmapIndirect(ino uint32, in *Inode_t, lblock int, flags int) (int, int, defs.Err_t) {
	bs := fs.sb.BlockSize()
	ppb := ptrsPerBlock(bs)

	if lblock < 12 {
		return fs.bmapSlot(ino, in, &in.Block[lblock], flags)
	}
	lblock -= 12
	if lblock < ppb {
		return fs.bmapPath(ino, in, &in.Block[12], []int{lblock}, flags)
	}
	lblock -= ppb
	if lblock < ppb*ppb {
		return fs.bmapPath(ino, in, &in.Block[13], []int{lblock / ppb, lblock % ppb}, flags)
	}
	lblock -= ppb * ppb
	if lblock < ppb*ppb*ppb {
		return fs.bmapPath(ino, in, &in.Block[14],
			[]int{lblock / (ppb * ppb), (lblock / ppb) % ppb, lblock % ppb}, flags)
	}
	return 0, 0, defs.EFBIG
}

// bmapSlot resolves (and optionally allocates/zeroes) one direct block
// pointer slot held directly in the inode.
func (fs *Fs_t) bmapSlot(ino uint32, in *Inode_t, slot *uint32, flags int) (int, int, defs.Err_t) {
	if *slot != 0 {
		return int(*slot), 0, 0
	}
	if flags&bmapAlloc == 0 {
		return 0, bmapRetUninit, 0
	}
	nb, err := fs.newBlock(fs.goalFor(ino, in, 0))
	if err != 0 {
		return 0, 0, err
	}
	if flags&bmapZero != 0 {
		if err := fs.zeroBlock(nb); err != 0 {
			fs.freeBlock(nb)
			return 0, 0, err
		}
	}
	*slot = uint32(nb)
	return nb, 0, 0
}

// bmapPath walks path (one pointer-table index per indirection level)
// starting from the top-level pointer stored at *top, allocating
// intermediate indirect blocks on the way down when BMAP_ALLOC is set.
func (fs *Fs_t) bmapPath(ino uint32, in *Inode_t, top *uint32, path []int, flags int) (int, int, defs.Err_t) {
	if *top == 0 {
		if flags&bmapAlloc == 0 {
			return 0, bmapRetUninit, 0
		}
		nb, err := fs.newBlock(fs.goalFor(ino, in, 0))
		if err != 0 {
			return 0, 0, err
		}
		if err := fs.zeroBlock(nb); err != 0 {
			fs.freeBlock(nb)
			return 0, 0, err
		}
		*top = uint32(nb)
	}
	cur := *top
	buf := make([]byte, fs.sb.BlockSize())
	for depth, idx := range path {
		if err := fs.disk.ReadBlock(int(cur), buf); err != 0 {
			return 0, 0, err
		}
		off := idx * 4
		ptr := binary.LittleEndian.Uint32(buf[off : off+4])
		last := depth == len(path)-1
		if ptr == 0 {
			if flags&bmapAlloc == 0 {
				return 0, bmapRetUninit, 0
			}
			nb, err := fs.newBlock(fs.goalFor(ino, in, 0))
			if err != 0 {
				return 0, 0, err
			}
			if !last || flags&bmapZero != 0 {
				if err := fs.zeroBlock(nb); err != 0 {
					fs.freeBlock(nb)
					return 0, 0, err
				}
			}
			binary.LittleEndian.PutUint32(buf[off:off+4], uint32(nb))
			if err := fs.disk.WriteBlock(int(cur), buf); err != 0 {
				return 0, 0, err
			}
			ptr = uint32(nb)
		}
		if last {
			return int(ptr), 0, 0
		}
		cur = ptr
	}
	panic("unreachable")
}

func (fs *Fs_t) zeroBlock(blk int) defs.Err_t {
	buf := make([]byte, fs.sb.BlockSize())
	return fs.disk.WriteBlock(blk, buf)
}
