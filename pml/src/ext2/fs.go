package ext2

import (
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"pml/src/defs"
	"pml/src/ext2blk"
	"pml/src/fdops"
	"pml/src/htable"
	"pml/src/ustr"
	"pml/src/vfs"
)

// Fs_t is one mounted ext2/3/4 instance: the in-core superblock copy,
// group-descriptor array, lazily-loaded block/inode bitmaps, and the
// inode LRU cache spec.md §2's "key in-core objects" paragraph names.
// It implements vfs.Filesystem_i.
type Fs_t struct {
	mu           sync.Mutex
	disk         *ext2blk.FileDisk_t
	sb           *Superblock_t
	gds          []*GroupDesc_t
	icache       *inodeCache
	blockBitmaps map[int]*Bitmap_t
	inodeBitmaps map[int]*Bitmap_t
	dirty        bool
	dirtyGroups  map[int]bool
	bgLoads      singleflight.Group
}

// Mount opens the disk image at path, reads and validates the
// superblock and group descriptor table, and returns a ready Fs_t.
// ext2_check's 2-byte-at-1080 probe (spec.md's mount-time fast check)
// is folded into ReadSuperblock's own magic check.
func Mount(path string) (*Fs_t, defs.Err_t) {
	// probe the block size by reading a 1024-byte superblock first;
	// the real block size is only known after parsing it, so Open
	// twice: once at 1024 to learn log_block_size, then at the real
	// size for all subsequent I/O.
	probe, err := ext2blk.Open(path, 1024)
	if err != nil {
		return nil, defs.EIO
	}
	sb, e := ReadSuperblock(probe)
	probe.Close()
	if e != 0 {
		return nil, e
	}
	disk, oerr := ext2blk.Open(path, sb.BlockSize())
	if oerr != nil {
		return nil, defs.EIO
	}
	sb2, e := ReadSuperblock(disk)
	if e != 0 {
		disk.Close()
		return nil, e
	}
	gds, e := readGDT(disk, sb2)
	if e != 0 {
		disk.Close()
		return nil, e
	}
	fs := &Fs_t{
		disk:         disk,
		sb:           sb2,
		gds:          gds,
		icache:       newInodeCache(256),
		blockBitmaps: make(map[int]*Bitmap_t),
		inodeBitmaps: make(map[int]*Bitmap_t),
		dirtyGroups:  make(map[int]bool),
	}
	return fs, 0
}

func (fs *Fs_t) Root() vfs.Ino_t { return vfs.Ino_t(rootIno) }

func now() uint32 { return uint32(time.Now().Unix()) }

func modeToType(mode uint16) int {
	switch mode & 0xf000 {
	case 0x4000:
		return int(vfs.T_DIR)
	case 0xa000:
		return int(vfs.T_SYMLINK)
	case 0x2000:
		return int(vfs.T_CHAR)
	case 0x6000:
		return int(vfs.T_BLOCK)
	case 0x1000:
		return int(vfs.T_FIFO)
	case 0xc000:
		return int(vfs.T_SOCK)
	default:
		return int(vfs.T_REGULAR)
	}
}

func direntFtype(mode uint16) uint8 {
	switch mode & 0xf000 {
	case 0x4000:
		return 2
	case 0xa000:
		return 7
	case 0x2000:
		return 3
	case 0x6000:
		return 4
	case 0x1000:
		return 5
	case 0xc000:
		return 6
	default:
		return 1
	}
}

func (fs *Fs_t) Getattr(ino vfs.Ino_t) (vfs.Attr_t, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(ino))
	if err != 0 {
		return vfs.Attr_t{}, err
	}
	return vfs.Attr_t{
		Ino:    ino,
		Type:   vfs.FileType_t(modeToType(in.Mode)),
		Mode:   uint32(in.Mode) & 0xfff,
		Size:   in.Size(),
		Uid:    in.Uid,
		Gid:    in.Gid,
		Nlink:  uint32(in.LinksCount),
		Atime:  int64(in.Atime),
		Mtime:  int64(in.Mtime),
		Ctime:  int64(in.Ctime),
		Blocks: uint64(in.BlocksLo) | uint64(in.BlocksHigh)<<32,
	}, 0
}

func (fs *Fs_t) Lookup(dir vfs.Ino_t, name ustr.Ustr) (vfs.Ino_t, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(dir))
	if err != 0 {
		return 0, err
	}
	if !in.IsDir() {
		return 0, defs.ENOTDIR
	}
	ino, err := fs.lookupName(uint32(dir), in, string(name))
	if err != 0 {
		return 0, err
	}
	return vfs.Ino_t(ino), 0
}

func (fs *Fs_t) Read(ino vfs.Ino_t, dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(ino))
	if err != 0 {
		return 0, err
	}
	return fs.readFile(uint32(ino), in, dst, offset)
}

func (fs *Fs_t) Write(ino vfs.Ino_t, src fdops.Userio_i, offset int) (int, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(ino))
	if err != 0 {
		return 0, err
	}
	n, err := fs.writeFile(uint32(ino), in, src, offset)
	if err != 0 && n == 0 {
		return 0, err
	}
	in.Mtime = now()
	if e := updateInode(fs, uint32(ino), in); e != 0 {
		return n, e
	}
	return n, 0
}

func (fs *Fs_t) Sync() defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.syncLocked()
}

func (fs *Fs_t) syncLocked() defs.Err_t {
	for g := range fs.dirtyGroups {
		if bm, ok := fs.blockBitmaps[g]; ok {
			if err := writeBitmap(fs, fs.gds[g].BlockBitmap, bm); err != 0 {
				return err
			}
		}
		if bm, ok := fs.inodeBitmaps[g]; ok {
			if err := writeBitmap(fs, fs.gds[g].InodeBitmap, bm); err != 0 {
				return err
			}
		}
	}
	if len(fs.dirtyGroups) > 0 {
		if err := writeGDT(fs.disk, fs.sb, fs.gds); err != 0 {
			return err
		}
		fs.dirtyGroups = make(map[int]bool)
	}
	if fs.dirty {
		if err := fs.writeSuperblock(); err != 0 {
			return err
		}
		fs.dirty = false
	}
	return fs.disk.Sync()
}

func (fs *Fs_t) writeSuperblock() defs.Err_t {
	raw := fs.sb.raw
	binary.LittleEndian.PutUint32(raw[4:8], fs.sb.BlocksCountLo)
	binary.LittleEndian.PutUint32(raw[12:16], fs.sb.FreeBlocksCountLo)
	binary.LittleEndian.PutUint32(raw[16:20], fs.sb.FreeInodesCount)
	binary.LittleEndian.PutUint32(raw[96:100], fs.sb.FeatureIncompat)
	binary.LittleEndian.PutUint32(raw[100:104], fs.sb.FeatureRoCompat)
	if fs.sb.HasMetaCsum() {
		seed := fs.sb.ChecksumBootSeed()
		c := htable.Crc32c(seed, raw[0:1020])
		binary.LittleEndian.PutUint32(raw[1020:1024], c)
		fs.sb.Checksum = c
	}
	return writeBytes(fs.disk, superblockOffset, raw[:])
}

func (fs *Fs_t) Chmod(ino vfs.Ino_t, mode uint32) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(ino))
	if err != 0 {
		return err
	}
	in.Mode = in.Mode&0xf000 | uint16(mode&0xfff)
	in.Ctime = now()
	return updateInode(fs, uint32(ino), in)
}

func (fs *Fs_t) Chown(ino vfs.Ino_t, uid, gid uint32) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(ino))
	if err != 0 {
		return err
	}
	in.Uid, in.Gid = uid, gid
	in.Ctime = now()
	return updateInode(fs, uint32(ino), in)
}

func (fs *Fs_t) Utime(ino vfs.Ino_t, atime, mtime int64) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(ino))
	if err != 0 {
		return err
	}
	in.Atime, in.Mtime = uint32(atime), uint32(mtime)
	return updateInode(fs, uint32(ino), in)
}

func (fs *Fs_t) Truncate(ino vfs.Ino_t, newsize uint64) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(ino))
	if err != 0 {
		return err
	}
	return fs.truncateFile(uint32(ino), in, newsize)
}

func (fs *Fs_t) Dealloc(ino vfs.Ino_t) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(ino))
	if err != 0 {
		return err
	}
	if err := fs.truncateFile(uint32(ino), in, 0); err != 0 {
		return err
	}
	in.Dtime = now()
	if err := updateInode(fs, uint32(ino), in); err != 0 {
		return err
	}
	fs.icache.invalidate(uint32(ino))
	return fs.inodeAllocStats(uint32(ino), -1, in.IsDir())
}

func (fs *Fs_t) Bmap(ino vfs.Ino_t, lblock int, flags int) (int, int, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(ino))
	if err != 0 {
		return 0, 0, err
	}
	return fs.bmap(uint32(ino), in, lblock, flags)
}

func (fs *Fs_t) Readlink(ino vfs.Ino_t) (string, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(ino))
	if err != 0 {
		return "", err
	}
	if !in.IsSymlink() {
		return "", defs.EINVAL
	}
	sz := int(in.Size())
	// fast symlinks (target < 60 bytes) store the target directly in
	// i_block; anything longer is stored as regular file data.
	if sz > 0 && sz < 60 && in.BlocksLo == 0 {
		var raw [60]byte
		for i := 0; i < 15; i++ {
			binary.LittleEndian.PutUint32(raw[i*4:i*4+4], in.Block[i])
		}
		return string(raw[:sz]), 0
	}
	buf := &symlinkSink{buf: make([]byte, sz)}
	if _, err := fs.readFile(uint32(ino), in, buf, 0); err != 0 {
		return "", err
	}
	return string(buf.buf), 0
}

// symlinkSink adapts a plain byte slice to fdops.Userio_i for
// Readlink's internal readFile call.
type symlinkSink struct {
	buf []byte
	off int
}

func (s *symlinkSink) Uioread(dst []uint8) (int, defs.Err_t)  { panic("read-only sink") }
func (s *symlinkSink) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(s.buf[s.off:], src)
	s.off += n
	return n, 0
}
func (s *symlinkSink) Remain() int  { return len(s.buf) - s.off }
func (s *symlinkSink) Totalsz() int { return len(s.buf) }

func (fs *Fs_t) Readdir(dir vfs.Ino_t, offset int) (vfs.Dirent_t, int, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, err := readInode(fs, uint32(dir))
	if err != 0 {
		return vfs.Dirent_t{}, 0, err
	}
	if !in.IsDir() {
		return vfs.Dirent_t{}, 0, defs.ENOTDIR
	}
	bs := fs.sb.BlockSize()
	filetype := fs.sb.HasFiletype()
	nblocks := (int(in.Size()) + bs - 1) / bs
	buf := make([]byte, bs)
	for lb := 0; lb < nblocks; lb++ {
		phys, _, err := fs.bmap(uint32(dir), in, lb, 0)
		if err != 0 {
			return vfs.Dirent_t{}, 0, err
		}
		if phys == 0 {
			continue
		}
		if err := fs.disk.ReadBlock(phys, buf); err != 0 {
			return vfs.Dirent_t{}, 0, err
		}
		blkoff := 0
		for blkoff < bs {
			cur := lb*bs + blkoff
			e := parseDirEntry(buf, blkoff, filetype)
			if e.recLen < dirEntryHdr {
				break
			}
			if cur >= offset && e.ino != 0 {
				return vfs.Dirent_t{Name: e.name, Ino: vfs.Ino_t(e.ino), Type: direntType(e.ftype)}, cur + int(e.recLen), 0
			}
			blkoff += int(e.recLen)
		}
	}
	return vfs.Dirent_t{}, 0, 0
}

func direntType(ft uint8) vfs.FileType_t {
	switch ft {
	case 1:
		return vfs.T_REGULAR
	case 2:
		return vfs.T_DIR
	case 3:
		return vfs.T_CHAR
	case 4:
		return vfs.T_BLOCK
	case 5:
		return vfs.T_FIFO
	case 6:
		return vfs.T_SOCK
	case 7:
		return vfs.T_SYMLINK
	default:
		return vfs.T_UNKNOWN
	}
}
