package nodestore

import (
	"sync"
	"time"
)

// NegativeCache tracks records that are known to be missing, preventing
// repeated backend lookups for nodes that have not arrived yet. Entries
// expire so a record that is later stored is found again even if callers
// forget to invalidate.
type NegativeCache struct {
	mu      sync.RWMutex
	entries map[Hash256]time.Time // hash -> expiration time
	ttl     time.Duration
	maxSize int
}

// NewNegativeCache creates a negative cache with the given TTL and entry
// bound.
func NewNegativeCache(ttl time.Duration, maxSize int) *NegativeCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 100000
	}
	return &NegativeCache{
		entries: make(map[Hash256]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// MarkMissing records that a node is not present in the store.
func (nc *NegativeCache) MarkMissing(hash Hash256) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	if len(nc.entries) >= nc.maxSize {
		nc.evictExpiredLocked()
		for hash := range nc.entries {
			if len(nc.entries) < nc.maxSize {
				break
			}
			delete(nc.entries, hash)
		}
	}
	nc.entries[hash] = time.Now().Add(nc.ttl)
}

// IsMissing reports whether a node is known to be missing.
func (nc *NegativeCache) IsMissing(hash Hash256) bool {
	nc.mu.RLock()
	expires, found := nc.entries[hash]
	nc.mu.RUnlock()

	if !found {
		return false
	}
	if time.Now().After(expires) {
		nc.mu.Lock()
		delete(nc.entries, hash)
		nc.mu.Unlock()
		return false
	}
	return true
}

// Invalidate removes the missing marker, called when the node is stored.
func (nc *NegativeCache) Invalidate(hash Hash256) {
	nc.mu.Lock()
	delete(nc.entries, hash)
	nc.mu.Unlock()
}

// Sweep drops expired entries.
func (nc *NegativeCache) Sweep() {
	nc.mu.Lock()
	nc.evictExpiredLocked()
	nc.mu.Unlock()
}

func (nc *NegativeCache) evictExpiredLocked() {
	now := time.Now()
	for hash, expires := range nc.entries {
		if now.After(expires) {
			delete(nc.entries, hash)
		}
	}
}

// Len returns the number of tracked hashes.
func (nc *NegativeCache) Len() int {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return len(nc.entries)
}
