package shamap

import (
	"context"

	"github.com/LeJamon/go-shamap/internal/protocol"
	"github.com/LeJamon/go-shamap/internal/storage/nodestore"
)

// NodeStoreFamily is the production Family: maps share a nodestore.Database
// for persistence and prefetching, plus the canonical node cache and the
// full-below cache.
//
// Prefix-format bytes are stored as the record payload; the store treats
// them as opaque, and the record key is the node hash, which by definition
// covers exactly those bytes.
type NodeStoreFamily struct {
	db *nodestore.Database

	fullBelow *FullBelowCache
	nodeCache *treeNodeCache
	journal   *Journal
}

// NewNodeStoreFamily creates a Family over an opened Database.
func NewNodeStoreFamily(db *nodestore.Database) *NodeStoreFamily {
	return &NodeStoreFamily{
		db:        db,
		fullBelow: NewFullBelowCache(0),
		nodeCache: newTreeNodeCache(0),
		journal:   NewJournal("shamap", SeverityWarn),
	}
}

// Fetch retrieves a node's prefix-format bytes by its hash.
// Returns nil, nil if the node is not present.
func (f *NodeStoreFamily) Fetch(hash [32]byte) ([]byte, error) {
	node, err := f.db.Fetch(context.Background(), nodestore.Hash256(hash))
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}
	return node.Data, nil
}

// AsyncFetch answers from the store's caches when it can; otherwise it
// queues a background read and reports pending.
func (f *NodeStoreFamily) AsyncFetch(hash [32]byte) ([]byte, bool, error) {
	node, found, knownMissing := f.db.FetchCached(hash)
	if found {
		return node.Data, false, nil
	}
	if knownMissing {
		return nil, false, nil
	}
	f.db.QueueRead(hash)
	return nil, true, nil
}

// WaitReads blocks until every queued background read has landed.
func (f *NodeStoreFamily) WaitReads() {
	f.db.WaitReads()
}

// DesiredAsyncReadCount returns the store's preferred prefetch depth.
func (f *NodeStoreFamily) DesiredAsyncReadCount() int {
	return f.db.DesiredAsyncReadCount()
}

// Store persists a batch of serialized nodes.
func (f *NodeStoreFamily) Store(entries []FlushEntry) error {
	if len(entries) == 0 {
		return nil
	}

	nodes := make([]*nodestore.Node, len(entries))
	for i, e := range entries {
		nodes[i] = &nodestore.Node{
			Hash: nodestore.Hash256(e.Hash),
			Data: e.Data,
			Type: storedNodeType(e.Data),
		}
	}
	return f.db.StoreBatch(context.Background(), nodes)
}

// storedNodeType derives the record category from the leading hash-domain
// prefix, for store accounting only.
func storedNodeType(data []byte) nodestore.NodeType {
	if len(data) < 4 {
		return nodestore.NodeUnknown
	}
	var prefix [4]byte
	copy(prefix[:], data[:4])
	switch prefix {
	case protocol.HashPrefixInnerNode, protocol.HashPrefixInnerNodeV2:
		return nodestore.NodeInner
	case protocol.HashPrefixLeafNode:
		return nodestore.NodeAccountState
	case protocol.HashPrefixTransactionID, protocol.HashPrefixTxNode:
		return nodestore.NodeTransaction
	default:
		return nodestore.NodeUnknown
	}
}

// CanonicalizeNode enforces one shared node object per hash.
func (f *NodeStoreFamily) CanonicalizeNode(hash [32]byte, node TreeNode) TreeNode {
	return f.nodeCache.canonicalize(hash, node)
}

// CachedNode returns the canonical node for a hash, if one is live.
func (f *NodeStoreFamily) CachedNode(hash [32]byte) TreeNode {
	return f.nodeCache.get(hash)
}

func (f *NodeStoreFamily) FullBelow() *FullBelowCache { return f.fullBelow }
func (f *NodeStoreFamily) Journal() *Journal          { return f.journal }

// Sweep drops expired store cache entries. Called periodically by the
// owner.
func (f *NodeStoreFamily) Sweep() {
	f.db.Sweep()
}

// Stats returns the underlying store's statistics.
func (f *NodeStoreFamily) Stats() nodestore.Statistics {
	return f.db.Stats()
}

// Close shuts down the underlying store.
func (f *NodeStoreFamily) Close() error {
	return f.db.Close()
}
