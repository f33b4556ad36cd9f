package ext2

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"

	"pml/src/limits"
)

// inodeCache is a small sharded LRU keyed by inode number, grounded on
// the teacher's fs/blk.go cached-block-with-eviction-callback shape but
// templated down to just inode copies. Each entry's generation index
// (an xxhash of the inode number) picks which of nshards independent
// LRU lists it lives and gets evicted from, rather than every lookup
// and eviction contending on one list+mutex — the same hash-spread
// discipline the teacher's block cache uses its bucketed hashtable for.
type inodeCache struct {
	cap     int
	shards  []*inodeShard
	nshards int
}

type inodeShard struct {
	mu      sync.Mutex
	cap     int
	l       *list.List
	entries map[uint32]*list.Element
}

type inodeCacheEnt struct {
	ino  uint32
	gen  uint64
	node *Inode_t
}

const inodeCacheShards = 8

func newInodeCache(cap int) *inodeCache {
	c := &inodeCache{cap: cap, nshards: inodeCacheShards}
	c.shards = make([]*inodeShard, c.nshards)
	percap := cap/c.nshards + 1
	for i := range c.shards {
		c.shards[i] = &inodeShard{cap: percap, l: list.New(), entries: make(map[uint32]*list.Element)}
	}
	return c
}

// genOf computes the hash-spread key an inode number is bucketed by:
// which shard it lives in, and (within bucketing schemes that want it)
// a value more evenly distributed than the raw sequential inode
// number.
func genOf(ino uint32) uint64 {
	var gbuf [4]byte
	gbuf[0] = byte(ino)
	gbuf[1] = byte(ino >> 8)
	gbuf[2] = byte(ino >> 16)
	gbuf[3] = byte(ino >> 24)
	return xxhash.Sum64(gbuf[:])
}

func (c *inodeCache) shardFor(gen uint64) *inodeShard {
	return c.shards[gen%uint64(c.nshards)]
}

func (c *inodeCache) get(ino uint32) (*Inode_t, bool) {
	s := c.shardFor(genOf(ino))
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ino]
	if !ok {
		return nil, false
	}
	s.l.MoveToFront(e)
	cp := *e.Value.(*inodeCacheEnt).node
	return &cp, true
}

func (c *inodeCache) put(ino uint32, in *Inode_t) {
	gen := genOf(ino)
	s := c.shardFor(gen)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *in
	if e, ok := s.entries[ino]; ok {
		e.Value.(*inodeCacheEnt).node = &cp
		s.l.MoveToFront(e)
		return
	}
	e := s.l.PushFront(&inodeCacheEnt{ino: ino, gen: gen, node: &cp})
	s.entries[ino] = e
	limits.Syslimit.Icache.Taken(1)
	if s.l.Len() > s.cap {
		back := s.l.Back()
		s.l.Remove(back)
		delete(s.entries, back.Value.(*inodeCacheEnt).ino)
		limits.Syslimit.Icache.Given(1)
	}
}

func (c *inodeCache) invalidate(ino uint32) {
	s := c.shardFor(genOf(ino))
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[ino]; ok {
		s.l.Remove(e)
		delete(s.entries, ino)
		limits.Syslimit.Icache.Given(1)
	}
}
