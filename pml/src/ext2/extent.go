package ext2

import (
	"encoding/binary"

	"pml/src/defs"
)

const extMagic = 0xF30A

// extHeader is the 12-byte header prefixing the root (in i_block) and
// every non-root extent tree node.
type extHeader struct {
	entries uint16
	max     uint16
	depth   uint16
}

func parseExtHeader(b []byte) (extHeader, defs.Err_t) {
	if binary.LittleEndian.Uint16(b[0:2]) != extMagic {
		return extHeader{}, defs.EUCLEAN
	}
	h := extHeader{
		entries: binary.LittleEndian.Uint16(b[2:4]),
		max:     binary.LittleEndian.Uint16(b[4:6]),
		depth:   binary.LittleEndian.Uint16(b[6:8]),
	}
	if h.entries > h.max {
		return extHeader{}, defs.EUCLEAN
	}
	return h, 0
}

func putExtHeader(b []byte, h extHeader) {
	binary.LittleEndian.PutUint16(b[0:2], extMagic)
	binary.LittleEndian.PutUint16(b[2:4], h.entries)
	binary.LittleEndian.PutUint16(b[4:6], h.max)
	binary.LittleEndian.PutUint16(b[6:8], h.depth)
	binary.LittleEndian.PutUint16(b[8:10], 0) // eh_generation
}

// extLeaf is one leaf entry: {ee_block, ee_len, ee_start_lo, ee_start_hi}.
type extLeaf struct {
	block     uint32
	len       uint32 // already stripped of the uninit marker
	uninit    bool
	startHigh uint16
	startLow  uint32
}

func (l extLeaf) start() uint64 { return uint64(l.startHigh)<<32 | uint64(l.startLow) }

func parseExtLeaf(b []byte) extLeaf {
	ln := uint32(binary.LittleEndian.Uint16(b[4:6]))
	uninit := ln > 32768
	if uninit {
		ln -= 32768
	}
	return extLeaf{
		block:     binary.LittleEndian.Uint32(b[0:4]),
		len:       ln,
		uninit:    uninit,
		startHigh: binary.LittleEndian.Uint16(b[6:8]),
		startLow:  binary.LittleEndian.Uint32(b[8:12]),
	}
}

func putExtLeaf(b []byte, l extLeaf) {
	binary.LittleEndian.PutUint32(b[0:4], l.block)
	ln := l.len
	if l.uninit {
		ln += 32768
	}
	binary.LittleEndian.PutUint16(b[4:6], uint16(ln))
	binary.LittleEndian.PutUint16(b[6:8], l.startHigh)
	binary.LittleEndian.PutUint32(b[8:12], l.startLow)
}

// extIndex is one index entry: {ei_block, ei_leaf_lo, ei_leaf_hi}.
type extIndex struct {
	block    uint32
	leafLow  uint32
	leafHigh uint16
}

func (i extIndex) leaf() uint64 { return uint64(i.leafHigh)<<32 | uint64(i.leafLow) }

func parseExtIndex(b []byte) extIndex {
	return extIndex{
		block:    binary.LittleEndian.Uint32(b[0:4]),
		leafLow:  binary.LittleEndian.Uint32(b[4:8]),
		leafHigh: binary.LittleEndian.Uint16(b[8:10]),
	}
}

func putExtIndex(b []byte, i extIndex) {
	binary.LittleEndian.PutUint32(b[0:4], i.block)
	binary.LittleEndian.PutUint32(b[4:8], i.leafLow)
	binary.LittleEndian.PutUint16(b[8:10], i.leafHigh)
}

const extEntrySize = 12

// rootMax is the entry capacity of the inline root node: i_block is 60
// bytes, 12 for the header, 12 bytes per entry.
func rootMax() uint16 { return (60 - 12) / extEntrySize }

// bmapExtent resolves a logical block through the extent tree rooted
// in in.Block. Only leaf-level lookups and simple append growth are
// implemented (see DESIGN.md): growing past the root's entry capacity
// at depth 0 returns ENOSPC; the tree is never split — ext2/3 images
// (indirect-mapped) are unaffected, and small ext4 files created by
// this repository's own mkfs never exceed one root node's reach.
func (fs *Fs_t) bmapExtent(ino uint32, in *Inode_t, lblock int, flags int) (int, int, defs.Err_t) {
	root := make([]byte, 60)
	for i := 0; i < 15; i++ {
		binary.LittleEndian.PutUint32(root[i*4:i*4+4], in.Block[i])
	}
	hdr, err := parseExtHeader(root)
	if err != 0 {
		return 0, 0, err
	}
	buf := root
	for depth := hdr.depth; ; {
		if depth == 0 {
			phys, retflags, found, err := findLeaf(buf, hdr, uint32(lblock))
			if err != 0 {
				return 0, 0, err
			}
			if found {
				return phys, retflags, 0
			}
			if flags&bmapAlloc == 0 {
				return 0, bmapRetUninit, 0
			}
			return fs.extentAppend(ino, in, &hdr, buf, depth == hdr.depth, uint32(lblock), flags)
		}
		child, ok := findIndex(buf, hdr, uint32(lblock))
		if !ok {
			return 0, 0, defs.ENOENT
		}
		nb := make([]byte, fs.sb.BlockSize())
		if e := fs.disk.ReadBlock(int(child), nb); e != 0 {
			return 0, 0, e
		}
		buf = nb
		hdr, err = parseExtHeader(buf)
		if err != 0 {
			return 0, 0, err
		}
		depth = hdr.depth
	}
}

func findLeaf(buf []byte, hdr extHeader, lblock uint32) (phys int, retflags int, found bool, err defs.Err_t) {
	for i := 0; i < int(hdr.entries); i++ {
		e := parseExtLeaf(buf[12+i*extEntrySize:])
		if lblock >= e.block && lblock < e.block+e.len {
			if e.uninit {
				retflags = bmapRetUninit
			}
			return int(e.start()) + int(lblock-e.block), retflags, true, 0
		}
	}
	return 0, 0, false, 0
}

func findIndex(buf []byte, hdr extHeader, lblock uint32) (uint64, bool) {
	var best *extIndex
	for i := 0; i < int(hdr.entries); i++ {
		idx := parseExtIndex(buf[12+i*extEntrySize:])
		if idx.block <= lblock {
			cp := idx
			best = &cp
		}
	}
	if best == nil {
		return 0, false
	}
	return best.leaf(), true
}

// extentAppend grows a depth-0 (root-only) extent tree by either
// extending the last leaf entry (when the new block is contiguous) or
// adding a new root entry.
func (fs *Fs_t) extentAppend(ino uint32, in *Inode_t, hdr *extHeader, buf []byte, isRoot bool, lblock uint32, flags int) (int, int, defs.Err_t) {
	nb, err := fs.newBlock(fs.goalFor(ino, in, int(lblock)))
	if err != 0 {
		return 0, 0, err
	}
	if flags&bmapZero != 0 {
		if err := fs.zeroBlock(nb); err != 0 {
			fs.freeBlock(nb)
			return 0, 0, err
		}
	}
	if hdr.entries > 0 {
		last := parseExtLeaf(buf[12+(int(hdr.entries)-1)*extEntrySize:])
		if last.block+last.len == lblock && last.start()+uint64(last.len) == uint64(nb) && last.len < 32768-1 {
			last.len++
			putExtLeaf(buf[12+(int(hdr.entries)-1)*extEntrySize:], last)
			fs.storeExtRoot(in, buf)
			return nb, 0, 0
		}
	}
	if hdr.entries >= hdr.max {
		fs.freeBlock(nb)
		return 0, 0, defs.ENOSPC
	}
	e := extLeaf{block: lblock, len: 1, startLow: uint32(nb), startHigh: uint16(nb >> 32)}
	putExtLeaf(buf[12+int(hdr.entries)*extEntrySize:], e)
	hdr.entries++
	putExtHeader(buf, *hdr)
	fs.storeExtRoot(in, buf)
	return nb, 0, 0
}

func (fs *Fs_t) storeExtRoot(in *Inode_t, buf []byte) {
	for i := 0; i < 15; i++ {
		in.Block[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
}

// initExtentRoot stamps a brand-new inode's i_block as an empty extent
// tree root, for callers (Create) that want EXTENTS_FL files.
func initExtentRoot(in *Inode_t) {
	buf := make([]byte, 60)
	putExtHeader(buf, extHeader{entries: 0, max: rootMax(), depth: 0})
	for i := 0; i < 15; i++ {
		in.Block[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	in.Flags |= INODE_EXTENTS_FL
}
