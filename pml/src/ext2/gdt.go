package ext2

import (
	"encoding/binary"

	"pml/src/defs"
	"pml/src/ext2blk"
	"pml/src/htable"
)

// GroupDesc_t is one block group's descriptor: bitmap/inode-table
// locations, free counts, and flags, with 64-bit high halves folded in
// when the superblock carries INCOMPAT_64BIT.
type GroupDesc_t struct {
	BlockBitmap   uint64
	InodeBitmap   uint64
	InodeTable    uint64
	FreeBlocksCnt uint32
	FreeInodesCnt uint32
	UsedDirsCnt   uint32
	Flags         uint16
	ItableUnused  uint32
	Checksum      uint16
}

const (
	BG_INODE_UNINIT = 0x1
	BG_BLOCK_UNINIT = 0x2
	BG_INODE_ZEROED = 0x4
)

// bgHasSuper reports whether group g carries a superblock/GDT backup,
// per spec.md §4.J's bg_has_super rule.
func bgHasSuper(sb *Superblock_t, g int) bool {
	if g == 0 {
		return true
	}
	if !sb.HasSparseSuper() {
		return true
	}
	if g == 1 {
		return true
	}
	return isPowerOf(g, 3) || isPowerOf(g, 5) || isPowerOf(g, 7)
}

func isPowerOf(n, base int) bool {
	if n < 1 {
		return false
	}
	for n%base == 0 {
		n /= base
	}
	return n == 1
}

// gdtBlock is the block holding the group descriptor table, accounting
// for the 1 KiB-block-0 offset quirk (the superblock's own block
// occupies group 0's descriptor block position when block size is
// 1024).
func gdtBlock(sb *Superblock_t) int {
	if sb.BlockSize() == 1024 {
		return 2
	}
	return 1
}

// readGDT reads the whole group descriptor table.
func readGDT(disk *ext2blk.FileDisk_t, sb *Superblock_t) ([]*GroupDesc_t, defs.Err_t) {
	ngroups := sb.GroupCount()
	dsz := sb.DescriptorSize()
	base := gdtBlock(sb) * sb.BlockSize()
	raw, err := readBytes(disk, base, ngroups*dsz)
	if err != 0 {
		return nil, err
	}
	gds := make([]*GroupDesc_t, ngroups)
	for g := 0; g < ngroups; g++ {
		d := raw[g*dsz : (g+1)*dsz]
		gd := &GroupDesc_t{}
		gd.BlockBitmap = uint64(binary.LittleEndian.Uint32(d[0:4]))
		gd.InodeBitmap = uint64(binary.LittleEndian.Uint32(d[4:8]))
		gd.InodeTable = uint64(binary.LittleEndian.Uint32(d[8:12]))
		gd.FreeBlocksCnt = uint32(binary.LittleEndian.Uint16(d[12:14]))
		gd.FreeInodesCnt = uint32(binary.LittleEndian.Uint16(d[14:16]))
		gd.UsedDirsCnt = uint32(binary.LittleEndian.Uint16(d[16:18]))
		gd.Flags = binary.LittleEndian.Uint16(d[18:20])
		gd.ItableUnused = uint32(binary.LittleEndian.Uint16(d[28:30]))
		gd.Checksum = binary.LittleEndian.Uint16(d[30:32])
		if sb.Is64Bit() && dsz >= 64 {
			gd.BlockBitmap |= uint64(binary.LittleEndian.Uint32(d[32:36])) << 32
			gd.InodeBitmap |= uint64(binary.LittleEndian.Uint32(d[36:40])) << 32
			gd.InodeTable |= uint64(binary.LittleEndian.Uint32(d[40:44])) << 32
			gd.FreeBlocksCnt |= uint32(binary.LittleEndian.Uint16(d[44:46])) << 16
			gd.FreeInodesCnt |= uint32(binary.LittleEndian.Uint16(d[46:48])) << 16
			gd.UsedDirsCnt |= uint32(binary.LittleEndian.Uint16(d[48:50])) << 16
			gd.ItableUnused |= uint32(binary.LittleEndian.Uint16(d[50:52])) << 16
		}
		gds[g] = gd
	}
	return gds, 0
}

// marshal renders gd back into its on-disk descriptor-sized slot.
func (gd *GroupDesc_t) marshal(dsz int, is64 bool) []byte {
	d := make([]byte, dsz)
	binary.LittleEndian.PutUint32(d[0:4], uint32(gd.BlockBitmap))
	binary.LittleEndian.PutUint32(d[4:8], uint32(gd.InodeBitmap))
	binary.LittleEndian.PutUint32(d[8:12], uint32(gd.InodeTable))
	binary.LittleEndian.PutUint16(d[12:14], uint16(gd.FreeBlocksCnt))
	binary.LittleEndian.PutUint16(d[14:16], uint16(gd.FreeInodesCnt))
	binary.LittleEndian.PutUint16(d[16:18], uint16(gd.UsedDirsCnt))
	binary.LittleEndian.PutUint16(d[18:20], gd.Flags)
	binary.LittleEndian.PutUint16(d[28:30], uint16(gd.ItableUnused))
	if is64 && dsz >= 64 {
		binary.LittleEndian.PutUint32(d[32:36], uint32(gd.BlockBitmap>>32))
		binary.LittleEndian.PutUint32(d[36:40], uint32(gd.InodeBitmap>>32))
		binary.LittleEndian.PutUint32(d[40:44], uint32(gd.InodeTable>>32))
		binary.LittleEndian.PutUint16(d[44:46], uint16(gd.FreeBlocksCnt>>16))
		binary.LittleEndian.PutUint16(d[46:48], uint16(gd.FreeInodesCnt>>16))
		binary.LittleEndian.PutUint16(d[48:50], uint16(gd.UsedDirsCnt>>16))
		binary.LittleEndian.PutUint16(d[50:52], uint16(gd.ItableUnused>>16))
	}
	// checksum computed and placed by the caller, which knows the seed
	// and whether 64bit+metadata_csum (crc32c) or the crc16-over-uuid
	// fallback applies.
	binary.LittleEndian.PutUint16(d[30:32], gd.Checksum)
	return d
}

// groupChecksum computes gd's checksum per spec.md §4.J: crc32c when
// both 64BIT and METADATA_CSUM are set, else crc16 over uuid+group+desc
// (with the checksum field itself zeroed).
func groupChecksum(sb *Superblock_t, group uint32, gd *GroupDesc_t) uint16 {
	dsz := sb.DescriptorSize()
	d := gd.marshal(dsz, sb.Is64Bit())
	binary.LittleEndian.PutUint16(d[30:32], 0)
	if sb.Is64Bit() && sb.HasMetaCsum() {
		seed := sb.ChecksumBootSeed()
		var gbuf [4]byte
		binary.LittleEndian.PutUint32(gbuf[:], group)
		c := htable.Crc32c(seed, gbuf[:])
		c = htable.Crc32c(c, d)
		return uint16(c & 0xffff)
	}
	var gbuf [4]byte
	binary.LittleEndian.PutUint32(gbuf[:], group)
	c := htable.Crc16(0xffff, sb.UUID[:])
	c = htable.Crc16(c, gbuf[:])
	c = htable.Crc16(c, d)
	return c
}

func writeGDT(disk *ext2blk.FileDisk_t, sb *Superblock_t, gds []*GroupDesc_t) defs.Err_t {
	dsz := sb.DescriptorSize()
	base := gdtBlock(sb) * sb.BlockSize()
	buf := make([]byte, len(gds)*dsz)
	for g, gd := range gds {
		gd.Checksum = groupChecksum(sb, uint32(g), gd)
		copy(buf[g*dsz:(g+1)*dsz], gd.marshal(dsz, sb.Is64Bit()))
	}
	return writeBytes(disk, base, buf)
}
