package ext2

import (
	"encoding/binary"

	"pml/src/defs"
	"pml/src/htable"
)

// Inode_t is a decoded copy of an on-disk ext2 inode.
type Inode_t struct {
	Mode        uint16
	Uid         uint32
	Gid         uint32
	SizeLo      uint32
	SizeHigh    uint32
	Atime       uint32
	Ctime       uint32
	Mtime       uint32
	Dtime       uint32
	LinksCount  uint16
	BlocksLo    uint32
	BlocksHigh  uint16
	Flags       uint32
	Block       [15]uint32
	Generation  uint32
	FileAclLo   uint32
	ExtraIsize  uint16
	ChecksumLo  uint16
	ChecksumHi  uint16
	CrtimeExtra uint32
	Crtime      uint32
}

const csumHiExtraEnd = 4

// Size returns the inode's full 64-bit size.
func (in *Inode_t) Size() uint64 {
	return uint64(in.SizeHigh)<<32 | uint64(in.SizeLo)
}

// IsDir/IsReg/IsSymlink classify by the standard S_IFMT bits.
func (in *Inode_t) IsDir() bool     { return in.Mode&0xf000 == 0x4000 }
func (in *Inode_t) IsReg() bool     { return in.Mode&0xf000 == 0x8000 }
func (in *Inode_t) IsSymlink() bool { return in.Mode&0xf000 == 0xa000 }
func (in *Inode_t) HasExtents() bool {
	return in.Flags&INODE_EXTENTS_FL != 0
}

// inodeLocation computes the group and in-group offset of ino.
func inodeLocation(sb *Superblock_t, ino uint32) (group, index int) {
	group = int((ino - 1) / sb.InodesPerGroup)
	index = int((ino - 1) % sb.InodesPerGroup)
	return
}

// readInode loads inode ino from its inode-table block, validating its
// checksum when METADATA_CSUM applies; a pure-zero inode is accepted
// (matching a hole left by a prior unlink), any other checksum mismatch
// is EUCLEAN.
func readInode(fs *Fs_t, ino uint32) (*Inode_t, defs.Err_t) {
	if c, ok := fs.icache.get(ino); ok {
		return c, 0
	}
	sb := fs.sb
	group, index := inodeLocation(sb, ino)
	if group < 0 || group >= len(fs.gds) {
		return nil, defs.EINVAL
	}
	gd := fs.gds[group]
	isz := sb.InodeSz()
	off := int(gd.InodeTable)*sb.BlockSize() + index*isz
	raw, err := readBytes(fs.disk, off, isz)
	if err != 0 {
		return nil, err
	}
	allZero := true
	for _, b := range raw {
		if b != 0 {
			allZero = false
			break
		}
	}
	in := unmarshalInode(raw)
	if allZero {
		fs.icache.put(ino, in)
		return in, 0
	}
	if sb.HasMetaCsum() {
		if !inodeChecksumValid(sb, ino, raw, in) {
			return nil, defs.EUCLEAN
		}
	}
	fs.icache.put(ino, in)
	return in, 0
}

func unmarshalInode(raw []byte) *Inode_t {
	in := &Inode_t{}
	in.Mode = binary.LittleEndian.Uint16(raw[0:2])
	in.Uid = uint32(binary.LittleEndian.Uint16(raw[2:4]))
	in.SizeLo = binary.LittleEndian.Uint32(raw[4:8])
	in.Atime = binary.LittleEndian.Uint32(raw[8:12])
	in.Ctime = binary.LittleEndian.Uint32(raw[12:16])
	in.Mtime = binary.LittleEndian.Uint32(raw[16:20])
	in.Dtime = binary.LittleEndian.Uint32(raw[20:24])
	in.Gid = uint32(binary.LittleEndian.Uint16(raw[24:26]))
	in.LinksCount = binary.LittleEndian.Uint16(raw[26:28])
	in.BlocksLo = binary.LittleEndian.Uint32(raw[28:32])
	in.Flags = binary.LittleEndian.Uint32(raw[32:36])
	for i := 0; i < 15; i++ {
		in.Block[i] = binary.LittleEndian.Uint32(raw[40+i*4 : 44+i*4])
	}
	in.Generation = binary.LittleEndian.Uint32(raw[100:104])
	in.FileAclLo = binary.LittleEndian.Uint32(raw[104:108])
	in.SizeHigh = binary.LittleEndian.Uint32(raw[108:112])
	if len(raw) >= 118 {
		in.BlocksHigh = binary.LittleEndian.Uint16(raw[116:118])
	}
	if len(raw) >= 122 {
		in.Uid |= uint32(binary.LittleEndian.Uint16(raw[120:122])) << 16
	}
	if len(raw) >= 124 {
		in.Gid |= uint32(binary.LittleEndian.Uint16(raw[122:124])) << 16
	}
	if len(raw) >= 126 {
		in.ChecksumLo = binary.LittleEndian.Uint16(raw[124:126])
	}
	if len(raw) >= 132 {
		in.ExtraIsize = binary.LittleEndian.Uint16(raw[128:130])
	}
	if len(raw) >= 132 {
		in.ChecksumHi = binary.LittleEndian.Uint16(raw[130:132])
	}
	if len(raw) >= 148 {
		in.Crtime = binary.LittleEndian.Uint32(raw[144:148])
	}
	if len(raw) >= 152 {
		in.CrtimeExtra = binary.LittleEndian.Uint32(raw[148:152])
	}
	return in
}

func marshalInode(in *Inode_t, isz int) []byte {
	raw := make([]byte, isz)
	binary.LittleEndian.PutUint16(raw[0:2], in.Mode)
	binary.LittleEndian.PutUint16(raw[2:4], uint16(in.Uid))
	binary.LittleEndian.PutUint32(raw[4:8], in.SizeLo)
	binary.LittleEndian.PutUint32(raw[8:12], in.Atime)
	binary.LittleEndian.PutUint32(raw[12:16], in.Ctime)
	binary.LittleEndian.PutUint32(raw[16:20], in.Mtime)
	binary.LittleEndian.PutUint32(raw[20:24], in.Dtime)
	binary.LittleEndian.PutUint16(raw[24:26], uint16(in.Gid))
	binary.LittleEndian.PutUint16(raw[26:28], in.LinksCount)
	binary.LittleEndian.PutUint32(raw[28:32], in.BlocksLo)
	binary.LittleEndian.PutUint32(raw[32:36], in.Flags)
	for i := 0; i < 15; i++ {
		binary.LittleEndian.PutUint32(raw[40+i*4:44+i*4], in.Block[i])
	}
	binary.LittleEndian.PutUint32(raw[100:104], in.Generation)
	binary.LittleEndian.PutUint32(raw[104:108], in.FileAclLo)
	binary.LittleEndian.PutUint32(raw[108:112], in.SizeHigh)
	if isz >= 118 {
		binary.LittleEndian.PutUint16(raw[116:118], in.BlocksHigh)
	}
	if isz >= 122 {
		binary.LittleEndian.PutUint16(raw[120:122], uint16(in.Uid>>16))
	}
	if isz >= 124 {
		binary.LittleEndian.PutUint16(raw[122:124], uint16(in.Gid>>16))
	}
	if isz >= 126 {
		binary.LittleEndian.PutUint16(raw[124:126], in.ChecksumLo)
	}
	if isz >= 132 {
		binary.LittleEndian.PutUint16(raw[128:130], in.ExtraIsize)
		binary.LittleEndian.PutUint16(raw[130:132], in.ChecksumHi)
	}
	if isz >= 148 {
		binary.LittleEndian.PutUint32(raw[144:148], in.Crtime)
	}
	if isz >= 152 {
		binary.LittleEndian.PutUint32(raw[148:152], in.CrtimeExtra)
	}
	return raw
}

func inodeChecksumValid(sb *Superblock_t, ino uint32, raw []byte, in *Inode_t) bool {
	lo, hi := inodeChecksum(sb, ino, raw, in)
	if lo != in.ChecksumLo {
		return false
	}
	if in.ExtraIsize >= csumHiExtraEnd && hi != in.ChecksumHi {
		return false
	}
	return true
}

// inodeChecksum computes the lo/hi crc32c split described in spec.md
// §4.J, zeroing the checksum fields in a scratch copy before hashing.
func inodeChecksum(sb *Superblock_t, ino uint32, raw []byte, in *Inode_t) (lo, hi uint16) {
	scratch := make([]byte, len(raw))
	copy(scratch, raw)
	if len(scratch) >= 126 {
		binary.LittleEndian.PutUint16(scratch[124:126], 0)
	}
	if len(scratch) >= 132 {
		binary.LittleEndian.PutUint16(scratch[130:132], 0)
	}
	seed := sb.ChecksumBootSeed()
	var gbuf [8]byte
	binary.LittleEndian.PutUint32(gbuf[0:4], ino)
	binary.LittleEndian.PutUint32(gbuf[4:8], in.Generation)
	c := htable.Crc32c(seed, gbuf[:])
	c = htable.Crc32c(c, scratch)
	return uint16(c & 0xffff), uint16(c >> 16)
}

// updateInode writes back ino with a freshly computed checksum.
func updateInode(fs *Fs_t, ino uint32, in *Inode_t) defs.Err_t {
	sb := fs.sb
	group, index := inodeLocation(sb, ino)
	if group < 0 || group >= len(fs.gds) {
		return defs.EINVAL
	}
	gd := fs.gds[group]
	isz := sb.InodeSz()
	raw := marshalInode(in, isz)
	if sb.HasMetaCsum() {
		lo, hi := inodeChecksum(sb, ino, raw, in)
		in.ChecksumLo, in.ChecksumHi = lo, hi
		raw = marshalInode(in, isz)
	}
	off := int(gd.InodeTable)*sb.BlockSize() + index*isz
	if err := writeBytes(fs.disk, off, raw); err != 0 {
		return err
	}
	fs.icache.put(ino, in)
	return 0
}

// writeNewInode fills creation times (crtime defaults to ctime when
// zero) and i_extra_isize for a freshly allocated inode.
func writeNewInode(fs *Fs_t, ino uint32, in *Inode_t, now uint32) defs.Err_t {
	in.Ctime = now
	in.Mtime = now
	in.Atime = now
	if in.Crtime == 0 {
		in.Crtime = now
	}
	if fs.sb.InodeSz() > 128 {
		in.ExtraIsize = 32
	}
	return updateInode(fs, ino, in)
}
