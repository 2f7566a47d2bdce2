package shamap

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// SyncFilter is an auxiliary source and sink for nodes moving through
// synchronization. It can serve nodes that are not yet persisted and is
// told about every node the map accepts.
type SyncFilter interface {
	// GetNode returns the prefix-format bytes of a node held by the
	// filter, if any.
	GetNode(hash [32]byte) ([]byte, bool)

	// GotNode reports an accepted node. fromFilter is true when the node
	// was served by the filter itself rather than a peer or the store.
	GotNode(fromFilter bool, hash [32]byte, ledgerSeq uint32, data []byte, nodeType NodeType)
}

// FlushEntry holds a serialized node ready to be written to the store.
type FlushEntry struct {
	Hash [32]byte // node hash, used as the store key
	Data []byte   // prefix-format bytes
}

// Family ties a group of maps to their shared collaborators: the node
// store, the full-below cache, the canonical node cache, and a journal.
// Everything behind a Family is safe for concurrent use.
type Family interface {
	// Fetch retrieves a node's prefix-format bytes synchronously.
	// Returns nil, nil if the node is not present.
	Fetch(hash [32]byte) ([]byte, error)

	// AsyncFetch retrieves a node without blocking. It either returns
	// the bytes immediately (cache hit), reports pending=true after
	// queueing a background read, or returns (nil, false, nil) when the
	// node is definitively absent.
	AsyncFetch(hash [32]byte) (data []byte, pending bool, err error)

	// WaitReads blocks until every queued background read has landed.
	WaitReads()

	// DesiredAsyncReadCount returns how many reads are worth queueing
	// before draining.
	DesiredAsyncReadCount() int

	// Store persists a batch of serialized nodes.
	Store(entries []FlushEntry) error

	// CanonicalizeNode enforces one shared node object per hash: the
	// first node offered under a hash wins and later offers adopt it.
	CanonicalizeNode(hash [32]byte, node TreeNode) TreeNode

	// CachedNode returns the canonical node for a hash, if one is live.
	CachedNode(hash [32]byte) TreeNode

	FullBelow() *FullBelowCache
	Journal() *Journal
}

// treeNodeCache is the canonical node intern cache shared by the maps of a
// Family. Holding it by hash keeps sibling maps pointing at one object per
// distinct subtree.
type treeNodeCache struct {
	nodes *lru.Cache[[32]byte, TreeNode]
}

// defaultTreeNodeCacheSize bounds the number of interned nodes.
const defaultTreeNodeCacheSize = 65536

func newTreeNodeCache(size int) *treeNodeCache {
	if size <= 0 {
		size = defaultTreeNodeCacheSize
	}
	nodes, err := lru.New[[32]byte, TreeNode](size)
	if err != nil {
		panic(err)
	}
	return &treeNodeCache{nodes: nodes}
}

func (c *treeNodeCache) get(hash [32]byte) TreeNode {
	if node, ok := c.nodes.Get(hash); ok {
		return node
	}
	return nil
}

// canonicalize returns the interned node for hash, installing candidate if
// no node is interned yet.
func (c *treeNodeCache) canonicalize(hash [32]byte, candidate TreeNode) TreeNode {
	if existing, ok, _ := c.nodes.PeekOrAdd(hash, candidate); ok {
		c.nodes.Get(hash) // refresh recency
		return existing
	}
	return candidate
}
