package shamap

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FullBelowCache memoizes "every node below this hash is locally available"
// across all maps sharing a Family. Entries are valid only for the
// generation they were inserted under; bumping the generation invalidates
// every claim at once without touching the set.
type FullBelowCache struct {
	generation atomic.Uint32
	entries    *lru.Cache[[32]byte, uint32]
}

// DefaultFullBelowCacheSize bounds the number of tracked hashes.
const DefaultFullBelowCacheSize = 65536

// NewFullBelowCache creates a cache holding at most size hashes.
func NewFullBelowCache(size int) *FullBelowCache {
	if size <= 0 {
		size = DefaultFullBelowCacheSize
	}
	entries, err := lru.New[[32]byte, uint32](size)
	if err != nil {
		panic(err)
	}
	c := &FullBelowCache{entries: entries}
	c.generation.Store(1)
	return c
}

// Generation returns the current generation.
func (c *FullBelowCache) Generation() uint32 {
	return c.generation.Load()
}

// BumpGeneration invalidates every full-below claim made so far.
func (c *FullBelowCache) BumpGeneration() {
	c.generation.Add(1)
}

// Insert records that the subtree below hash is fully available under the
// current generation.
func (c *FullBelowCache) Insert(hash [32]byte) {
	c.entries.Add(hash, c.generation.Load())
}

// TouchIfExists returns true if hash has a claim under the current
// generation, refreshing its recency. Stale-generation entries are dropped.
func (c *FullBelowCache) TouchIfExists(hash [32]byte) bool {
	gen, ok := c.entries.Get(hash)
	if !ok {
		return false
	}
	if gen != c.generation.Load() {
		c.entries.Remove(hash)
		return false
	}
	return true
}

// Len returns the number of tracked hashes, stale entries included.
func (c *FullBelowCache) Len() int {
	return c.entries.Len()
}
