package nodestore

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is the positive record cache: an LRU with TTL expiry in front of
// the backend.
type Cache struct {
	lru *expirable.LRU[Hash256, *Node]
}

// NewCache creates a cache holding at most maxSize records, each expiring
// ttl after insertion.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		lru: expirable.NewLRU[Hash256, *Node](maxSize, nil, ttl),
	}
}

// Get retrieves a record from the cache.
func (c *Cache) Get(hash Hash256) (*Node, bool) {
	return c.lru.Get(hash)
}

// Put adds a record to the cache.
func (c *Cache) Put(node *Node) {
	if node == nil {
		return
	}
	c.lru.Add(node.Hash, node)
}

// Remove drops a record from the cache.
func (c *Cache) Remove(hash Hash256) {
	c.lru.Remove(hash)
}

// Len returns the current number of cached records.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge removes all entries.
func (c *Cache) Purge() {
	c.lru.Purge()
}
