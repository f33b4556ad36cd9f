// Package ext2blk is the simulated block device the ext2 engine mounts
// on top of: a regular host file standing in for a disk, exactly as the
// teacher's ufs/driver.go ahci_disk_t simulates a disk for hosted
// testing. Where the teacher queues Bdev_req_t values through a
// Start(*Bdev_req_t) callback, FileDisk_t exposes the simpler
// read(buf,len,off)/write contract the block-device interface in
// spec.md §6 calls for; the request-queue shape stays internal, not
// part of the exported surface.
package ext2blk

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"pml/src/defs"
)

// FileDisk_t is a host file presenting itself as a block device of
// fixed-size blocks. Reads/writes are synchronous; Sync flushes to
// stable storage the way the teacher's ahci_disk_t.Start(BDEV_FLUSH)
// calls f.Sync().
type FileDisk_t struct {
	mu      sync.Mutex
	f       *os.File
	blksz   int
	nblocks int
	locked  bool
}

// Open opens an existing disk image at path, taking an exclusive flock
// for the lifetime of the FileDisk_t the way a real mount would refuse
// to share a block device with another instance of the filesystem.
func Open(path string, blksz int) (*FileDisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("ext2blk: %s is in use: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size()%int64(blksz) != 0 {
		f.Close()
		return nil, fmt.Errorf("ext2blk: %s size %d is not a multiple of block size %d", path, fi.Size(), blksz)
	}
	return &FileDisk_t{f: f, blksz: blksz, nblocks: int(fi.Size() / int64(blksz)), locked: true}, nil
}

// Create makes a new disk image of nblocks blocks of blksz bytes each,
// preallocating the backing extents with Fallocate so later writes
// cannot hit ENOSPC from host filesystem fragmentation mid-mkfs.
func Create(path string, blksz, nblocks int) (*FileDisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	sz := int64(blksz) * int64(nblocks)
	if err := unix.Fallocate(int(f.Fd()), 0, 0, sz); err != nil {
		// not all host filesystems support fallocate (e.g. tmpfs on some
		// kernels); fall back to a sparse Truncate, matching what mkfs
		// tooling does when FALLOC_FL is unsupported.
		if err := f.Truncate(sz); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk_t{f: f, blksz: blksz, nblocks: nblocks, locked: true}, nil
}

// Blksz returns the device's block size in bytes.
func (d *FileDisk_t) Blksz() int { return d.blksz }

// Nblocks returns the device's capacity in blocks.
func (d *FileDisk_t) Nblocks() int { return d.nblocks }

// ReadBlock reads block blk into buf, which must be exactly Blksz()
// bytes.
func (d *FileDisk_t) ReadBlock(blk int, buf []byte) defs.Err_t {
	if len(buf) != d.blksz {
		panic("ext2blk: bad buffer size")
	}
	if blk < 0 || blk >= d.nblocks {
		return defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.f.ReadAt(buf, int64(blk)*int64(d.blksz))
	if err != nil || n != d.blksz {
		return defs.EIO
	}
	return 0
}

// WriteBlock writes buf (exactly Blksz() bytes) to block blk.
func (d *FileDisk_t) WriteBlock(blk int, buf []byte) defs.Err_t {
	if len(buf) != d.blksz {
		panic("ext2blk: bad buffer size")
	}
	if blk < 0 || blk >= d.nblocks {
		return defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.f.WriteAt(buf, int64(blk)*int64(d.blksz))
	if err != nil || n != d.blksz {
		return defs.EIO
	}
	return 0
}

// Sync flushes outstanding writes to stable storage.
func (d *FileDisk_t) Sync() defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.f.Sync(); err != nil {
		return defs.EIO
	}
	return 0
}

// Close releases the exclusive lock and closes the backing file.
func (d *FileDisk_t) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locked {
		unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
		d.locked = false
	}
	return d.f.Close()
}
