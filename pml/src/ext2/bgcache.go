package ext2

import (
	"fmt"

	"pml/src/defs"
)

// bgResult carries a bitmap load's outcome through singleflight.Do,
// which only multiplexes a single error value and defs.Err_t doesn't
// implement Go's error interface (it's a kernel errno, not a wrapped
// error chain — see DESIGN.md).
type bgResult struct {
	bm  *Bitmap_t
	err defs.Err_t
}

// loadBlockBitmap reads group g's block bitmap from disk, deduplicating
// concurrent callers through fs.bgLoads: if two threads fault into the
// allocator for the same never-yet-cached group at once, only the first
// actually reads the block — the second waits on that read instead of
// issuing a redundant one. The per-Fs_t blockBitmaps/inodeBitmaps maps
// still do the long-lived caching; this only collapses a cold-group
// thundering herd.
func (fs *Fs_t) loadBlockBitmap(g int) (*Bitmap_t, defs.Err_t) {
	v, _, _ := fs.bgLoads.Do(fmt.Sprintf("blk%d", g), func() (interface{}, error) {
		bm, e := fs.readBlockBitmapLocked(g)
		return bgResult{bm, e}, nil
	})
	r := v.(bgResult)
	return r.bm, r.err
}

func (fs *Fs_t) loadInodeBitmap(g int) (*Bitmap_t, defs.Err_t) {
	v, _, _ := fs.bgLoads.Do(fmt.Sprintf("ino%d", g), func() (interface{}, error) {
		bm, e := fs.readInodeBitmapLocked(g)
		return bgResult{bm, e}, nil
	})
	r := v.(bgResult)
	return r.bm, r.err
}
