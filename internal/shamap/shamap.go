package shamap

import (
	"errors"
	"fmt"
	"sync"
)

// Common errors.
var (
	ErrImmutable       = errors.New("cannot modify immutable map")
	ErrInvalidState    = errors.New("invalid state for operation")
	ErrItemNotFound    = errors.New("item not found")
	ErrInvalidType     = errors.New("invalid node type")
	ErrMaxDepthReached = errors.New("maximum tree depth reached")
)

// State defines the lifecycle state of a SHAMap.
type State int

const (
	// StateModifying allows local mutation.
	StateModifying State = iota
	// StateImmutable freezes the map.
	StateImmutable
	// StateSyncing accepts nodes from peers.
	StateSyncing
	// StateValid marks a map whose every node is locally available.
	StateValid
	// StateInvalid marks provable corruption; terminal.
	StateInvalid
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateModifying:
		return "modifying"
	case StateImmutable:
		return "immutable"
	case StateSyncing:
		return "syncing"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Type defines what a map stores, which fixes its leaf node type.
type Type int

const (
	TypeTransaction Type = iota
	TypeState
)

// String returns a string representation of the type.
func (t Type) String() string {
	switch t {
	case TypeTransaction:
		return "transaction"
	case TypeState:
		return "state"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// SHAMap is one version of the tree: a root, a sequence number, a lifecycle
// state, and handles to the Family collaborators. A SHAMap is mutated by one
// logical owner at a time, but several owners may run discovery over the
// same snapshot concurrently; the structures they touch (branch slots, the
// node and full-below caches) synchronize themselves.
type SHAMap struct {
	mu              sync.RWMutex
	root            TreeNode
	pendingRootHash [32]byte // known root hash while syncing before the root arrives
	mapType         Type
	state           State
	ledgerSeq       uint32
	backed          bool
	v2              bool
	f               Family
	journal         *Journal
}

// New creates an empty mutable SHAMap attached to the given Family. A nil
// family attaches a private in-memory one and leaves the map unbacked.
func New(mapType Type, f Family) *SHAMap {
	backed := f != nil
	if f == nil {
		f = NewMemoryFamily()
	}
	return &SHAMap{
		root:    NewInnerNode(),
		mapType: mapType,
		state:   StateModifying,
		backed:  backed,
		f:       f,
		journal: f.Journal(),
	}
}

// NewSynching creates a SHAMap that knows only its root hash and will be
// populated through the store and peer-supplied nodes.
func NewSynching(mapType Type, rootHash [32]byte, f Family) *SHAMap {
	sm := New(mapType, f)
	sm.root = nil
	sm.pendingRootHash = rootHash
	sm.state = StateSyncing
	return sm
}

// Type returns the map type.
func (sm *SHAMap) Type() Type {
	return sm.mapType
}

// State returns the current lifecycle state.
func (sm *SHAMap) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// IsV2 reports whether the map uses inner nodes that carry their own
// position.
func (sm *SHAMap) IsV2() bool {
	return sm.v2
}

// SetV2 switches an empty map to position-carrying inner nodes.
func (sm *SHAMap) SetV2() {
	sm.v2 = true
}

// LedgerSeq returns the sequence number of the version this map represents.
func (sm *SHAMap) LedgerSeq() uint32 {
	return sm.ledgerSeq
}

// SetLedgerSeq sets the sequence number.
func (sm *SHAMap) SetLedgerSeq(seq uint32) {
	sm.ledgerSeq = seq
}

// IsBacked reports whether a persistent store holds this map's nodes.
func (sm *SHAMap) IsBacked() bool {
	return sm.backed
}

// Hash returns the root hash; the zero hash for an empty map. While the
// root itself has not arrived the known pending hash is reported.
func (sm *SHAMap) Hash() [32]byte {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.root == nil {
		return sm.pendingRootHash
	}
	return sm.root.Hash()
}

// SetImmutable freezes the map.
func (sm *SHAMap) SetImmutable() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state == StateInvalid {
		return ErrInvalidState
	}
	sm.state = StateImmutable
	return nil
}

// SetSyncing marks the map as accepting nodes from peers.
func (sm *SHAMap) SetSyncing() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state == StateInvalid {
		return ErrInvalidState
	}
	sm.state = StateSyncing
	return nil
}

// IsSyncing returns true if the map is accepting peer nodes.
func (sm *SHAMap) IsSyncing() bool {
	return sm.State() == StateSyncing
}

// IsValid returns true unless the map has been proven corrupt.
func (sm *SHAMap) IsValid() bool {
	return sm.State() != StateInvalid
}

// clearSynching records that every node is locally available.
func (sm *SHAMap) clearSynching() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state == StateSyncing {
		sm.state = StateValid
	}
}

// setInvalid marks provable corruption. There is no way back.
func (sm *SHAMap) setInvalid() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = StateInvalid
}

// rootNode returns the current root under the read lock.
func (sm *SHAMap) rootNode() TreeNode {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.root
}

// GetRootNode serializes the root in the requested format. Returns nil when
// the root has not arrived yet.
func (sm *SHAMap) GetRootNode(format Format) []byte {
	root := sm.rootNode()
	if root == nil {
		return nil
	}
	return SerializeNode(root, format)
}

// -----------------------------------------------------------------------------
// Descend helpers. Children are resolved through these everywhere so that
// lazily loaded nodes are spliced into their parents exactly once.

// fetchNodeFromFilter asks the sync filter for a node it may be holding.
func (sm *SHAMap) fetchNodeFromFilter(hash [32]byte, filter SyncFilter) TreeNode {
	if filter == nil {
		return nil
	}
	data, ok := filter.GetNode(hash)
	if !ok {
		return nil
	}
	node, err := DeserializeNode(data, FormatPrefix, &hash, nil)
	if err != nil {
		sm.journal.Warn("filter returned bad node for %x: %v", hash[:8], err)
		return nil
	}
	filter.GotNode(true, hash, sm.ledgerSeq, data, node.Type())
	return node
}

// fetchNodeNT retrieves a node from the store or the filter, returning nil
// when the node is not available anywhere.
func (sm *SHAMap) fetchNodeNT(hash [32]byte, filter SyncFilter) TreeNode {
	data, err := sm.f.Fetch(hash)
	if err != nil {
		sm.journal.Warn("fetch %x: %v", hash[:8], err)
	} else if data != nil {
		node, derr := DeserializeNode(data, FormatPrefix, &hash, nil)
		if derr != nil {
			sm.journal.Error("store holds corrupt node %x: %v", hash[:8], derr)
			return nil
		}
		return node
	}
	return sm.fetchNodeFromFilter(hash, filter)
}

// descend resolves the child at a branch, loading it from the store or
// filter if needed. Returns nil if the child is not available locally.
func (sm *SHAMap) descend(inner Inner, branch int, filter SyncFilter) TreeNode {
	if child := inner.GetChild(branch); child != nil {
		return child
	}
	hash := inner.ChildHash(branch)
	if isZeroHash(hash) {
		return nil
	}
	if node := sm.f.CachedNode(hash); node != nil {
		return inner.CanonicalizeChild(branch, node)
	}
	node := sm.fetchNodeNT(hash, filter)
	if node == nil {
		return nil
	}
	if sm.backed {
		node = sm.f.CanonicalizeNode(hash, node)
	}
	return inner.CanonicalizeChild(branch, node)
}

// descendThrow resolves a child that the tree's invariants guarantee is
// present. A miss is an invariant breach, not an I/O condition.
func (sm *SHAMap) descendThrow(inner Inner, branch int) TreeNode {
	child := sm.descend(inner, branch, nil)
	if child == nil {
		panic(fmt.Sprintf("shamap: missing node %x referenced by resolved branch %d",
			inner.ChildHash(branch), branch))
	}
	return child
}

// descendID resolves a child and its effective identity.
func (sm *SHAMap) descendID(inner Inner, id NodeID, branch int, filter SyncFilter) (TreeNode, NodeID) {
	pathID := id.ChildNodeID(branch)
	child := sm.descend(inner, branch, filter)
	if child == nil {
		return nil, pathID
	}
	return child, effectiveNodeID(child, pathID)
}

// descendAsync resolves a child without blocking. It returns the child if
// it is available now, or (nil, true) when a background read was queued, or
// (nil, false) when the child is definitively not present locally.
func (sm *SHAMap) descendAsync(inner Inner, branch int, filter SyncFilter) (TreeNode, bool) {
	if child := inner.GetChild(branch); child != nil {
		return child, false
	}
	hash := inner.ChildHash(branch)
	if isZeroHash(hash) {
		return nil, false
	}
	if node := sm.f.CachedNode(hash); node != nil {
		return inner.CanonicalizeChild(branch, node), false
	}

	data, pending, err := sm.f.AsyncFetch(hash)
	if err != nil {
		sm.journal.Warn("async fetch %x: %v", hash[:8], err)
		return nil, false
	}
	if data == nil {
		if pending {
			return nil, true
		}
		if node := sm.fetchNodeFromFilter(hash, filter); node != nil {
			if sm.backed {
				node = sm.f.CanonicalizeNode(hash, node)
			}
			return inner.CanonicalizeChild(branch, node), false
		}
		return nil, false
	}

	node, derr := DeserializeNode(data, FormatPrefix, &hash, nil)
	if derr != nil {
		sm.journal.Error("store holds corrupt node %x: %v", hash[:8], derr)
		return nil, false
	}
	if sm.backed {
		node = sm.f.CanonicalizeNode(hash, node)
	}
	return inner.CanonicalizeChild(branch, node), false
}

// FetchRoot tries to resolve the root from the store or filter. Returns
// true if the root is resolved afterwards.
func (sm *SHAMap) FetchRoot(hash [32]byte, filter SyncFilter) bool {
	if root := sm.rootNode(); root != nil && root.Hash() == hash {
		return true
	}

	node := sm.fetchNodeNT(hash, filter)
	if node == nil {
		sm.mu.Lock()
		sm.pendingRootHash = hash
		sm.mu.Unlock()
		return false
	}
	if sm.backed {
		node = sm.f.CanonicalizeNode(hash, node)
	}

	sm.mu.Lock()
	sm.root = node
	sm.pendingRootHash = [32]byte{}
	if _, ok := node.(*InnerNodeV2); ok {
		sm.v2 = true
	}
	sm.mu.Unlock()
	return true
}
