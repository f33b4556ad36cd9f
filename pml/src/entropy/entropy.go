// Package entropy implements component M's SHA-256-keyed entropy
// pool. The mixing shape — fold incoming entropy into a running
// SHA-256 state, extract by re-hashing — is carried over from
// original_source's drivers/random.c, which spec.md itself only
// describes at the "SHA-256 keyed pool" level of detail. Guarded by a
// lock.Spinlock_t, matching spec.md §5's entropy_lock.
package entropy

import (
	"crypto/sha256"

	"golang.org/x/sys/unix"

	"pml/src/lock"
)

// Pool_t is one running entropy pool: a SHA-256 state folded
// incrementally, plus a counter of distinct mixing events (not bytes)
// used as a rough, conservative estimate of accumulated entropy.
type Pool_t struct {
	sp      lock.Spinlock_t
	state   [sha256.Size]byte
	mixins  int
	extracted int
}

// pool is the single kernel-wide entropy pool; every /dev/random or
// getrandom-shaped caller draws from it.
var pool = &Pool_t{}

func init() {
	var seed [32]byte
	if n, err := unix.Getrandom(seed[:], 0); err == nil && n == len(seed) {
		pool.Mix(seed[:])
	}
}

// Mix folds more entropy (an interrupt timestamp, a disk completion
// timestamp, or — when hosted — bytes from unix.Getrandom) into the
// pool: state = SHA256(state || in).
func (p *Pool_t) Mix(in []byte) {
	p.sp.Lock()
	defer p.sp.Unlock()
	h := sha256.New()
	h.Write(p.state[:])
	h.Write(in)
	copy(p.state[:], h.Sum(nil))
	p.mixins++
}

// Extract draws n bytes from the pool, re-hashing the state with an
// incrementing counter each time a fresh block of output is needed so
// that successive Extract calls never repeat (the same idiom
// random.c's extract step uses: hash(state || counter)).
func (p *Pool_t) Extract(n int) []byte {
	p.sp.Lock()
	defer p.sp.Unlock()
	out := make([]byte, 0, n)
	for len(out) < n {
		h := sha256.New()
		h.Write(p.state[:])
		var ctr [8]byte
		c := p.extracted
		for i := 0; i < 8; i++ {
			ctr[i] = byte(c)
			c >>= 8
		}
		h.Write(ctr[:])
		block := h.Sum(nil)
		out = append(out, block...)
		p.extracted++
	}
	// re-mix the freshly extracted material back in so repeated draws
	// without intervening Mix calls still diverge from each other.
	h := sha256.New()
	h.Write(p.state[:])
	h.Write(out)
	copy(p.state[:], h.Sum(nil))
	return out[:n]
}

// Mix and Extract mix/draw from the single kernel-wide pool.
func Mix(in []byte) { pool.Mix(in) }
func Extract(n int) []byte { return pool.Extract(n) }

// Estimate reports the pool's mixins count, the closest thing to an
// entropy-bit estimate this simplified pool tracks (used by a
// /proc/sys/kernel/random/entropy_avail-style read).
func Estimate() int {
	pool.sp.Lock()
	defer pool.sp.Unlock()
	return pool.mixins
}
