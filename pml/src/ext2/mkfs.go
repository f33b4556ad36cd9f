package ext2

import (
	"crypto/rand"
	"encoding/binary"

	"pml/src/defs"
	"pml/src/ext2blk"
	"pml/src/ustr"
	"pml/src/vfs"
)

// reservedInodes is the count of inodes ext2 reserves at the head of
// every filesystem (bad-blocks, root, ACL, boot-loader, undelete,
// resize, journal, exclude, replica) regardless of how many of them a
// given image actually uses.
const reservedInodes = 10

// Format lays down a brand-new, single-block-group ext2 filesystem on
// a freshly created image at path and returns it already mounted. Only
// single-group images are produced (see DESIGN.md): nblocks must fit
// within one group's 8*blocksize bitmap capacity at the fixed 1024-byte
// block size this formatter always chooses. Larger, multi-group images
// can still be mounted (Mount and the bitmap/GDT code place no such
// limit) — only mkfs's own output is capped, matching every skeleton
// root filesystem this repository ever builds.
func Format(path string, nblocks, ninodes int) (*Fs_t, defs.Err_t) {
	const bs = 1024
	const firstDataBlock = 1
	if nblocks < 64 || ninodes <= reservedInodes {
		return nil, defs.EINVAL
	}
	blocksPerGroup := nblocks - firstDataBlock
	if blocksPerGroup > bs*8 {
		return nil, defs.EINVAL
	}
	const inodeSize = 128
	gdtBlocks := (1*32 + bs - 1) / bs
	off := 1 + gdtBlocks
	blockBitmapBlk := firstDataBlock + off
	inodeBitmapBlk := blockBitmapBlk + 1
	inodeTableBlk := inodeBitmapBlk + 1
	itableBlocks := (ninodes*inodeSize + bs - 1) / bs
	dataStart := inodeTableBlk + itableBlocks
	if dataStart >= nblocks {
		return nil, defs.ENOSPC
	}

	disk, derr := ext2blk.Create(path, bs, nblocks)
	if derr != nil {
		return nil, defs.EIO
	}

	var uuid [16]byte
	rand.Read(uuid[:])

	var raw [1024]byte
	binary.LittleEndian.PutUint32(raw[0:4], uint32(ninodes))
	binary.LittleEndian.PutUint32(raw[4:8], uint32(nblocks))
	freeBlocks := nblocks - dataStart
	binary.LittleEndian.PutUint32(raw[12:16], uint32(freeBlocks))
	freeInodes := ninodes - reservedInodes
	binary.LittleEndian.PutUint32(raw[16:20], uint32(freeInodes))
	binary.LittleEndian.PutUint32(raw[20:24], firstDataBlock)
	binary.LittleEndian.PutUint32(raw[24:28], 0) // log_block_size: 1024<<0
	binary.LittleEndian.PutUint32(raw[32:36], uint32(blocksPerGroup))
	binary.LittleEndian.PutUint32(raw[40:44], uint32(ninodes))
	binary.LittleEndian.PutUint16(raw[56:58], ExtMagic)
	binary.LittleEndian.PutUint16(raw[58:60], 1) // s_state: EXT2_VALID_FS
	binary.LittleEndian.PutUint32(raw[76:80], 1) // s_rev_level: dynamic
	binary.LittleEndian.PutUint32(raw[84:88], reservedInodes+1)
	binary.LittleEndian.PutUint16(raw[88:90], inodeSize)
	binary.LittleEndian.PutUint32(raw[96:100], INCOMPAT_FILETYPE)
	binary.LittleEndian.PutUint32(raw[100:104], RO_COMPAT_SPARSE_SUPER)
	copy(raw[104:120], uuid[:])

	if err := writeBytes(disk, superblockOffset, raw[:]); err != 0 {
		disk.Close()
		return nil, err
	}

	sb, err := ReadSuperblock(disk)
	if err != 0 {
		disk.Close()
		return nil, err
	}

	gd := &GroupDesc_t{
		BlockBitmap:   uint64(blockBitmapBlk),
		InodeBitmap:   uint64(inodeBitmapBlk),
		InodeTable:    uint64(inodeTableBlk),
		FreeBlocksCnt: uint32(freeBlocks),
		FreeInodesCnt: uint32(freeInodes),
		UsedDirsCnt:   1,
	}
	if err := writeGDT(disk, sb, []*GroupDesc_t{gd}); err != 0 {
		disk.Close()
		return nil, err
	}

	blockBits := make([]byte, (blocksPerGroup+7)/8)
	bbm := newBitmap(firstDataBlock, firstDataBlock+blocksPerGroup, firstDataBlock+blocksPerGroup, blockBits)
	for b := firstDataBlock; b < dataStart; b++ {
		bbm.Mark(b)
	}
	if err := writeBytes(disk, blockBitmapBlk*bs, blockBits); err != 0 {
		disk.Close()
		return nil, err
	}

	inodeBits := make([]byte, (ninodes+7)/8)
	ibm := newBitmap(0, ninodes+1, ninodes+1, inodeBits)
	for i := 1; i <= reservedInodes; i++ {
		ibm.Mark(i)
	}
	if err := writeBytes(disk, inodeBitmapBlk*bs, inodeBits); err != 0 {
		disk.Close()
		return nil, err
	}

	if err := disk.Sync(); err != 0 {
		disk.Close()
		return nil, err
	}
	disk.Close()

	fs, merr := Mount(path)
	if merr != 0 {
		return nil, merr
	}

	rootIn := &Inode_t{Mode: sIfdir | 0755, LinksCount: 2}
	if err := writeNewInode(fs, rootIno, rootIn, now()); err != 0 {
		return nil, err
	}
	if err := fs.addLink(rootIno, rootIn, ".", rootIno, direntFtype(sIfdir)); err != 0 {
		return nil, err
	}
	if err := fs.addLink(rootIno, rootIn, "..", rootIno, direntFtype(sIfdir)); err != 0 {
		return nil, err
	}
	if err := updateInode(fs, rootIno, rootIn); err != 0 {
		return nil, err
	}
	if _, err := fs.Mkdir(vfs.Ino_t(rootIno), ustr.Ustr("lost+found"), 0700); err != 0 {
		return nil, err
	}
	return fs, 0
}
