package ext2

import (
	"pml/src/defs"
)

// groupBlockBitmap returns (loading if necessary) the block bitmap for
// group g, treating a BLOCK_UNINIT group as implicitly all-free plus
// its reserved superblock/GDT/inode-table blocks, per spec.md §4.J.
func (fs *Fs_t) groupBlockBitmap(g int) (*Bitmap_t, defs.Err_t) {
	if bm, ok := fs.blockBitmaps[g]; ok {
		return bm, 0
	}
	bm, err := fs.loadBlockBitmap(g)
	if err != 0 {
		return nil, err
	}
	fs.blockBitmaps[g] = bm
	return bm, 0
}

// readBlockBitmapLocked does the actual disk read and group-relative-
// to-absolute bit-range translation for groupBlockBitmap; split out so
// loadBlockBitmap can dedupe concurrent first-time loads of the same
// group through singleflight.
func (fs *Fs_t) readBlockBitmapLocked(g int) (*Bitmap_t, defs.Err_t) {
	gd := fs.gds[g]
	uninit := gd.Flags&BG_BLOCK_UNINIT != 0
	bm, err := readBitmap(fs, gd.BlockBitmap, int(fs.sb.BlocksPerGroup), uninit)
	if err != 0 {
		return nil, err
	}
	// block numbers are absolute (filesystem-wide), not group-relative,
	// so shift the bitmap's zero point to this group's first block.
	bm.start = int(fs.sb.FirstDataBlock) + g*int(fs.sb.BlocksPerGroup)
	bm.end = bm.start + int(fs.sb.BlocksPerGroup)
	bm.realEnd = bm.end
	if uninit {
		fs.reserveSuperBgd(bm, g)
	}
	return bm, 0
}

func (fs *Fs_t) groupInodeBitmap(g int) (*Bitmap_t, defs.Err_t) {
	if bm, ok := fs.inodeBitmaps[g]; ok {
		return bm, 0
	}
	bm, err := fs.loadInodeBitmap(g)
	if err != 0 {
		return nil, err
	}
	fs.inodeBitmaps[g] = bm
	return bm, 0
}

func (fs *Fs_t) readInodeBitmapLocked(g int) (*Bitmap_t, defs.Err_t) {
	gd := fs.gds[g]
	uninit := gd.Flags&BG_INODE_UNINIT != 0
	return readBitmap(fs, gd.InodeBitmap, int(fs.sb.InodesPerGroup), uninit)
}

// reserveSuperBgd marks the superblock backup, group descriptors, and
// inode table blocks as reserved within a group whose on-disk block
// bitmap was skipped because BLOCK_UNINIT was set.
func (fs *Fs_t) reserveSuperBgd(bm *Bitmap_t, g int) {
	sb := fs.sb
	groupFirst := int(sb.FirstDataBlock) + g*int(sb.BlocksPerGroup)
	off := 0
	if bgHasSuper(sb, g) {
		ngd := sb.GroupCount()
		gdtBlocks := (ngd*sb.DescriptorSize() + sb.BlockSize() - 1) / sb.BlockSize()
		off = 1 + gdtBlocks
	}
	for i := 0; i < off; i++ {
		bm.Mark(groupFirst + i)
	}
	gd := fs.gds[g]
	itBlocks := (int(sb.InodesPerGroup)*sb.InodeSz() + sb.BlockSize() - 1) / sb.BlockSize()
	for i := 0; i < itBlocks; i++ {
		bm.Mark(int(gd.InodeTable) - groupFirst + i + groupFirst)
	}
}

// blockAllocStats toggles bit `blk`'s allocation state (delta=+1 to
// allocate, -1 to free), maintaining free counters in the descriptor
// and superblock and clearing BLOCK_UNINIT, per spec.md §4.J.
func (fs *Fs_t) blockAllocStats(blk int, delta int) defs.Err_t {
	sb := fs.sb
	g := (blk - int(sb.FirstDataBlock)) / int(sb.BlocksPerGroup)
	bm, err := fs.groupBlockBitmap(g)
	if err != 0 {
		return err
	}
	if delta > 0 {
		bm.Mark(blk)
	} else {
		bm.Unmark(blk)
	}
	gd := fs.gds[g]
	gd.FreeBlocksCnt = uint32(int(gd.FreeBlocksCnt) - delta)
	gd.Flags &^= BG_BLOCK_UNINIT
	sb.FreeBlocksCountLo = uint32(int(sb.FreeBlocksCountLo) - delta)
	fs.dirty = true
	fs.dirtyGroups[g] = true
	return 0
}

// inodeAllocStats is blockAllocStats' inode-bitmap counterpart,
// additionally tracking the directory count per group.
func (fs *Fs_t) inodeAllocStats(ino uint32, delta int, isdir bool) defs.Err_t {
	sb := fs.sb
	g := int(ino-1) / int(sb.InodesPerGroup)
	bm, err := fs.groupInodeBitmap(g)
	if err != 0 {
		return err
	}
	idx := int(ino-1)%int(sb.InodesPerGroup) + 1
	if delta > 0 {
		bm.Mark(idx)
	} else {
		bm.Unmark(idx)
	}
	gd := fs.gds[g]
	gd.FreeInodesCnt = uint32(int(gd.FreeInodesCnt) - delta)
	gd.Flags &^= BG_INODE_UNINIT
	if isdir {
		gd.UsedDirsCnt = uint32(int(gd.UsedDirsCnt) + delta)
	}
	sb.FreeInodesCount = uint32(int(sb.FreeInodesCount) - delta)
	fs.dirty = true
	fs.dirtyGroups[g] = true
	return 0
}

// newBlock searches the block bitmap from goal forward, wrapping to
// [s_first_data_block, goal) on miss.
func (fs *Fs_t) newBlock(goal int) (int, defs.Err_t) {
	sb := fs.sb
	ngroups := sb.GroupCount()
	startG := (goal - int(sb.FirstDataBlock)) / int(sb.BlocksPerGroup)
	if startG < 0 || startG >= ngroups {
		startG = 0
	}
	for i := 0; i < ngroups; i++ {
		g := (startG + i) % ngroups
		bm, err := fs.groupBlockBitmap(g)
		if err != 0 {
			return 0, err
		}
		lo := int(sb.FirstDataBlock) + g*int(sb.BlocksPerGroup)
		hi := lo + int(sb.BlocksPerGroup)
		if hi > int(sb.BlocksCountLo) {
			hi = int(sb.BlocksCountLo)
		}
		search := lo
		if g == startG {
			search = goal
			if search < lo || search >= hi {
				search = lo
			}
		}
		b := bm.FindFirstZero(search, hi)
		if b < 0 && search > lo {
			b = bm.FindFirstZero(lo, search)
		}
		if b >= 0 {
			if err := fs.blockAllocStats(b, 1); err != 0 {
				return 0, err
			}
			return b, 0
		}
	}
	return 0, defs.ENOSPC
}

func (fs *Fs_t) freeBlock(blk int) {
	fs.blockAllocStats(blk, -1)
}

// newInode searches the inode bitmap starting at dir's group, handling
// INODE_UNINIT groups by lazily treating the tail as unused up to
// bg_itable_unused for GDT_CSUM filesystems.
func (fs *Fs_t) newInode(dirIno uint32, isdir bool) (uint32, defs.Err_t) {
	sb := fs.sb
	ngroups := sb.GroupCount()
	startG := int(dirIno-1) / int(sb.InodesPerGroup)
	for i := 0; i < ngroups; i++ {
		g := (startG + i) % ngroups
		gd := fs.gds[g]
		if gd.FreeInodesCnt == 0 {
			continue
		}
		bm, err := fs.groupInodeBitmap(g)
		if err != 0 {
			return 0, err
		}
		lo := 1
		hi := int(sb.InodesPerGroup)
		if sb.HasGdtCsum() && gd.ItableUnused > 0 {
			hi = int(sb.InodesPerGroup) - int(gd.ItableUnused)
		}
		idx := bm.FindFirstZero(lo, hi+1)
		if idx < 0 {
			idx = bm.FindFirstZero(lo, int(sb.InodesPerGroup)+1)
		}
		if idx < 0 {
			continue
		}
		ino := uint32(g)*sb.InodesPerGroup + uint32(idx)
		if err := fs.inodeAllocStats(ino, 1, isdir); err != 0 {
			return 0, err
		}
		return ino, 0
	}
	return 0, defs.ENOSPC
}

// goalFor implements the supplemented Orlov-lite placement heuristic
// from original_source's find_inode_goal: new directories prefer the
// least-loaded group within the parent's flex_bg window; regular files
// prefer their parent directory's group.
func (fs *Fs_t) goalFor(ino uint32, in *Inode_t, lblock int) int {
	sb := fs.sb
	g := int(ino-1) / int(sb.InodesPerGroup)
	if in != nil && in.IsDir() {
		best := g
		bestFree := fs.gds[g].FreeBlocksCnt
		flexWindow := 16
		for d := 1; d < flexWindow && g+d < len(fs.gds); d++ {
			if fs.gds[g+d].FreeBlocksCnt > bestFree {
				best = g + d
				bestFree = fs.gds[g+d].FreeBlocksCnt
			}
		}
		g = best
	}
	return int(sb.FirstDataBlock) + g*int(sb.BlocksPerGroup)
}
