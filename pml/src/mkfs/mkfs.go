// Command mkfs builds a fresh ext2 root filesystem image and
// populates it from a host skeleton directory, the way the teacher's
// own mkfs built a bootable log-structured image from a bootloader,
// kernel, and skeleton tree. This tool emits a data-only ext2 image;
// boot sector/kernel embedding is package boot's concern instead.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pml/src/defs"
	"pml/src/ext2"
	"pml/src/ustr"
	"pml/src/vfs"
)

const (
	defaultBlocks = 65536 // 64 MiB at the formatter's fixed 1024-byte block size
	defaultInodes = 16384
)

// byteSource adapts an in-memory byte slice to fdops.Userio_i for
// Fs_t.Write.
type byteSource struct {
	buf []byte
	off int
}

func (s *byteSource) Uiowrite(dst []uint8) (int, defs.Err_t) { panic("write-only source") }
func (s *byteSource) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, s.buf[s.off:])
	s.off += n
	return n, 0
}
func (s *byteSource) Remain() int  { return len(s.buf) - s.off }
func (s *byteSource) Totalsz() int { return len(s.buf) }

// copyFile streams src's contents into the freshly created inode ino.
func copyFile(fs *ext2.Fs_t, src string, ino vfs.Ino_t) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	off := 0
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			chunk := &byteSource{buf: buf[:n]}
			if _, werr := fs.Write(ino, chunk, off); werr != 0 {
				return fmt.Errorf("write %s: %v", src, werr)
			}
			off += n
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// addTree walks skeldir on the host, replicating directories and files
// into fs starting at dirIno.
func addTree(fs *ext2.Fs_t, skeldir string, dirIno vfs.Ino_t) error {
	entries, err := os.ReadDir(skeldir)
	if err != nil {
		return err
	}
	for _, d := range entries {
		name := d.Name()
		path := filepath.Join(skeldir, name)
		if d.IsDir() {
			ino, e := fs.Mkdir(dirIno, ustr.Ustr(name), 0755)
			if e != 0 {
				return fmt.Errorf("mkdir %s: %v", path, e)
			}
			if err := addTree(fs, path, ino); err != nil {
				return err
			}
			continue
		}
		if !d.Type().IsRegular() {
			continue
		}
		ino, e := fs.Create(dirIno, ustr.Ustr(name), 0644)
		if e != 0 {
			return fmt.Errorf("create %s: %v", path, e)
		}
		if err := copyFile(fs, path, ino); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	nblocks := flag.Int("blocks", defaultBlocks, "image size in 1024-byte blocks")
	ninodes := flag.Int("inodes", defaultInodes, "inode count")
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mkfs [-blocks N] [-inodes N] <output image> [skel dir]")
		os.Exit(1)
	}
	image := args[0]

	fs, err := ext2.Format(image, *nblocks, *ninodes)
	if err != 0 {
		fmt.Fprintf(os.Stderr, "mkfs: format %s: %v\n", image, err)
		os.Exit(1)
	}

	if len(args) >= 2 {
		skeldir := args[1]
		if _, serr := os.Stat(skeldir); serr == nil {
			if err := addTree(fs, skeldir, fs.Root()); err != nil {
				fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
				fs.Sync()
				os.Exit(1)
			}
		} else if !strings.Contains(serr.Error(), "no such file") {
			fmt.Fprintf(os.Stderr, "mkfs: %v\n", serr)
		}
	}

	if err := fs.Sync(); err != 0 {
		fmt.Fprintf(os.Stderr, "mkfs: sync: %v\n", err)
		os.Exit(1)
	}
}
