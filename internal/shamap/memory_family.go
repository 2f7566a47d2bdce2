package shamap

import "sync"

// MemoryFamily is an in-memory Family. Every fetch resolves immediately, so
// the deferred-read path never triggers; suitable for tests and small
// datasets.
type MemoryFamily struct {
	mu    sync.RWMutex
	store map[[32]byte][]byte

	fullBelow *FullBelowCache
	nodeCache *treeNodeCache
	journal   *Journal
}

// NewMemoryFamily creates an in-memory Family.
func NewMemoryFamily() *MemoryFamily {
	return &MemoryFamily{
		store:     make(map[[32]byte][]byte),
		fullBelow: NewFullBelowCache(0),
		nodeCache: newTreeNodeCache(0),
		journal:   NewJournal("shamap", SeverityWarn),
	}
}

// Fetch retrieves a node's serialized data by its hash.
// Returns nil, nil if the node is not found.
func (f *MemoryFamily) Fetch(hash [32]byte) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.store[hash]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// AsyncFetch resolves synchronously; pending is always false.
func (f *MemoryFamily) AsyncFetch(hash [32]byte) ([]byte, bool, error) {
	data, err := f.Fetch(hash)
	return data, false, err
}

// WaitReads is a no-op; nothing is ever pending.
func (f *MemoryFamily) WaitReads() {}

// DesiredAsyncReadCount returns 0; reads never defer.
func (f *MemoryFamily) DesiredAsyncReadCount() int { return 0 }

// Store persists a batch of serialized nodes.
func (f *MemoryFamily) Store(entries []FlushEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range entries {
		cp := make([]byte, len(e.Data))
		copy(cp, e.Data)
		f.store[e.Hash] = cp
	}
	return nil
}

// Delete removes a stored node. Tests use this to simulate eviction.
func (f *MemoryFamily) Delete(hash [32]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, hash)
	f.nodeCache.nodes.Remove(hash)
}

// Len returns the number of stored nodes.
func (f *MemoryFamily) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.store)
}

// CanonicalizeNode enforces one shared node object per hash.
func (f *MemoryFamily) CanonicalizeNode(hash [32]byte, node TreeNode) TreeNode {
	return f.nodeCache.canonicalize(hash, node)
}

// CachedNode returns the canonical node for a hash, if one is live.
func (f *MemoryFamily) CachedNode(hash [32]byte) TreeNode {
	return f.nodeCache.get(hash)
}

func (f *MemoryFamily) FullBelow() *FullBelowCache { return f.fullBelow }
func (f *MemoryFamily) Journal() *Journal          { return f.journal }
