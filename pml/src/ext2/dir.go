package ext2

import (
	"encoding/binary"

	"pml/src/defs"
)

// dirEntry is one decoded directory entry: {d_inode, d_rec_len,
// d_name_len, d_name[...]}, 4-byte aligned. With FILETYPE incompat set
// the high byte of the on-disk name-length field holds the entry's
// file type instead of being part of a 16-bit name length, per
// spec.md §4.J; this driver always sets FILETYPE on filesystems it
// creates, but reads it conditionally for images mkfs didn't build.
type dirEntry struct {
	ino     uint32
	recLen  uint16
	nameLen uint8
	ftype   uint8
	name    string
	off     int // byte offset within the block
}

const dirEntryHdr = 8

// parseDirEntry decodes the entry at block[off:].
func parseDirEntry(block []byte, off int, filetype bool) dirEntry {
	e := dirEntry{off: off}
	e.ino = binary.LittleEndian.Uint32(block[off : off+4])
	e.recLen = binary.LittleEndian.Uint16(block[off+4 : off+6])
	e.nameLen = block[off+6]
	if filetype {
		e.ftype = block[off+7]
	}
	end := off + dirEntryHdr + int(e.nameLen)
	if end <= len(block) {
		e.name = string(block[off+dirEntryHdr : end])
	}
	return e
}

func putDirEntry(block []byte, e dirEntry, filetype bool) {
	binary.LittleEndian.PutUint32(block[e.off:e.off+4], e.ino)
	binary.LittleEndian.PutUint16(block[e.off+4:e.off+6], e.recLen)
	block[e.off+6] = uint8(len(e.name))
	if filetype {
		block[e.off+7] = e.ftype
	} else {
		block[e.off+7] = 0
	}
	copy(block[e.off+dirEntryHdr:e.off+dirEntryHdr+len(e.name)], e.name)
}

// minRecLen is the 4-byte-aligned size needed to hold a name of length
// n, matching get_rec_len's rounding.
func minRecLen(n int) uint16 {
	sz := dirEntryHdr + n
	return uint16((sz + 3) &^ 3)
}

// dirIterate walks ino's data blocks, invoking cb for each live
// (non-zero-inode) entry. cb returns true to keep iterating.
func (fs *Fs_t) dirIterate(ino uint32, in *Inode_t, cb func(blk []byte, e dirEntry) bool) defs.Err_t {
	bs := fs.sb.BlockSize()
	filetype := fs.sb.HasFiletype()
	nblocks := (int(in.Size()) + bs - 1) / bs
	buf := make([]byte, bs)
	for lb := 0; lb < nblocks; lb++ {
		phys, _, err := fs.bmap(ino, in, lb, 0)
		if err != 0 {
			return err
		}
		if phys == 0 {
			continue
		}
		if err := fs.disk.ReadBlock(phys, buf); err != 0 {
			return err
		}
		off := 0
		for off < bs {
			e := parseDirEntry(buf, off, filetype)
			if e.recLen < dirEntryHdr {
				break
			}
			if e.ino != 0 {
				if !cb(buf, e) {
					return 0
				}
			}
			off += int(e.recLen)
		}
	}
	return 0
}

// lookupName finds name in the directory ino, returning ENOENT if
// absent.
func (fs *Fs_t) lookupName(ino uint32, in *Inode_t, name string) (uint32, defs.Err_t) {
	var found uint32
	err := fs.dirIterate(ino, in, func(_ []byte, e dirEntry) bool {
		if e.name == name {
			found = e.ino
			return false
		}
		return true
	})
	if err != 0 {
		return 0, err
	}
	if found == 0 {
		return 0, defs.ENOENT
	}
	return found, 0
}

// addLink inserts {name -> childIno} into directory ino, splitting a
// donor entry's trailing free space when one fits, else expanding the
// directory by one block.
func (fs *Fs_t) addLink(ino uint32, in *Inode_t, name string, childIno uint32, ftype uint8) defs.Err_t {
	bs := fs.sb.BlockSize()
	filetype := fs.sb.HasFiletype()
	need := minRecLen(len(name))
	nblocks := (int(in.Size()) + bs - 1) / bs
	buf := make([]byte, bs)

	for lb := 0; lb < nblocks; lb++ {
		phys, _, err := fs.bmap(ino, in, lb, 0)
		if err != 0 {
			return err
		}
		if phys == 0 {
			continue
		}
		if err := fs.disk.ReadBlock(phys, buf); err != 0 {
			return err
		}
		off := 0
		for off < bs {
			e := parseDirEntry(buf, off, filetype)
			if e.recLen < dirEntryHdr {
				break
			}
			used := uint16(0)
			if e.ino != 0 {
				used = minRecLen(int(e.nameLen))
			}
			free := e.recLen - used
			if free >= need {
				if e.ino != 0 {
					e.recLen = used
					putDirEntry(buf, e, filetype)
					newOff := off + int(used)
					ne := dirEntry{off: newOff, ino: childIno, recLen: free, name: name, ftype: ftype}
					putDirEntry(buf, ne, filetype)
				} else {
					ne := dirEntry{off: off, ino: childIno, recLen: e.recLen, name: name, ftype: ftype}
					putDirEntry(buf, ne, filetype)
				}
				return fs.disk.WriteBlock(phys, buf)
			}
			off += int(e.recLen)
		}
	}
	// no slot fits: expand the directory by one block.
	newLb := nblocks
	phys, _, err := fs.bmap(ino, in, newLb, bmapAlloc|bmapZero)
	if err != 0 {
		return err
	}
	nb := make([]byte, bs)
	e := dirEntry{off: 0, ino: childIno, recLen: uint16(bs), name: name, ftype: ftype}
	putDirEntry(nb, e, filetype)
	if err := fs.disk.WriteBlock(phys, nb); err != 0 {
		return err
	}
	in.SizeLo += uint32(bs)
	iblkAdd(fs, in, bs)
	return 0
}

// unlinkName removes name from directory ino, folding its record into
// the previous entry's rec_len or zeroing d_inode if it is the first
// entry in its block.
func (fs *Fs_t) unlinkName(ino uint32, in *Inode_t, name string) (uint32, defs.Err_t) {
	bs := fs.sb.BlockSize()
	filetype := fs.sb.HasFiletype()
	nblocks := (int(in.Size()) + bs - 1) / bs
	buf := make([]byte, bs)

	for lb := 0; lb < nblocks; lb++ {
		phys, _, err := fs.bmap(ino, in, lb, 0)
		if err != 0 {
			return 0, err
		}
		if phys == 0 {
			continue
		}
		if err := fs.disk.ReadBlock(phys, buf); err != 0 {
			return 0, err
		}
		off := 0
		prevOff := -1
		for off < bs {
			e := parseDirEntry(buf, off, filetype)
			if e.recLen < dirEntryHdr {
				break
			}
			if e.ino != 0 && e.name == name {
				target := e.ino
				if prevOff < 0 {
					e.ino = 0
					e.name = ""
					putDirEntry(buf, e, filetype)
				} else {
					prev := parseDirEntry(buf, prevOff, filetype)
					prev.recLen += e.recLen
					putDirEntry(buf, prev, filetype)
				}
				if err := fs.disk.WriteBlock(phys, buf); err != 0 {
					return 0, err
				}
				return target, 0
			}
			prevOff = off
			off += int(e.recLen)
		}
	}
	return 0, defs.ENOENT
}

// dirIsEmpty reports whether dir contains only "." and "..".
func (fs *Fs_t) dirIsEmpty(ino uint32, in *Inode_t) (bool, defs.Err_t) {
	n := 0
	err := fs.dirIterate(ino, in, func(_ []byte, e dirEntry) bool {
		n++
		return n < 3
	})
	if err != 0 {
		return false, err
	}
	return n <= 2, 0
}
