package shamap

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// MissingNode names a node the map references but cannot resolve locally:
// its position and the hash to request from peers.
type MissingNode struct {
	ID   NodeID
	Hash [32]byte
}

// String returns a string representation of the MissingNode.
func (m MissingNode) String() string {
	return fmt.Sprintf("MissingNode(%v, hash=%x)", m.ID, m.Hash[:8])
}

// AddNodeResult classifies the outcome of accepting a peer-supplied node.
type AddNodeResult int

const (
	// AddNodeInvalid means the data was rejected; the map is unchanged.
	AddNodeInvalid AddNodeResult = iota
	// AddNodeUseful means the node advanced the sync (or proved the map
	// corrupt).
	AddNodeUseful
	// AddNodeDuplicate means the map already had the node.
	AddNodeDuplicate
)

// String returns a string representation of the result.
func (r AddNodeResult) String() string {
	switch r {
	case AddNodeInvalid:
		return "invalid"
	case AddNodeUseful:
		return "useful"
	case AddNodeDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("AddNodeResult(%d)", int(r))
	}
}

// IsGood reports whether the node was not rejected.
func (r AddNodeResult) IsGood() bool {
	return r != AddNodeInvalid
}

// missingFrame is a suspended discovery position.
type missingFrame struct {
	node         Inner
	id           NodeID
	firstChild   int
	currentChild int
	fullBelow    bool
}

// deferredRead records a branch whose child is being read in the
// background.
type deferredRead struct {
	parent Inner
	branch int
	id     NodeID
}

// GetMissingNodes walks the map and returns up to max positions whose nodes
// are referenced but not locally available. max <= 0 means no limit.
//
// The walk visits each inner node's branches in a cyclically rotated order
// starting at a random branch, so concurrent callers over the same snapshot
// produce mostly disjoint request sets. Children the store is still reading
// are deferred; when enough reads are outstanding the walk drains them with
// WaitReads and restarts, pushing past regions resolved in the meantime.
// Subtrees proven complete are recorded in the full-below cache so later
// passes prune them immediately.
//
// When a full pass defers nothing and finds nothing, the whole map is
// locally available and the map leaves the syncing state.
func (sm *SHAMap) GetMissingNodes(max int, filter SyncFilter) []MissingNode {
	if max <= 0 {
		max = math.MaxInt
	}

	root := sm.rootNode()
	generation := sm.f.FullBelow().Generation()

	if root == nil {
		// Nothing below the root can be walked until the root arrives.
		sm.mu.RLock()
		pending := sm.pendingRootHash
		sm.mu.RUnlock()
		if isZeroHash(pending) {
			return nil
		}
		return []MissingNode{{ID: RootNodeID(), Hash: pending}}
	}

	if !root.IsInner() {
		// A single-leaf map is complete by construction.
		sm.journal.Debug("getMissingNodes on single-leaf map")
		sm.clearSynching()
		return nil
	}

	rootInner := asInner(root)
	if rootInner.isFullBelow(generation) {
		sm.clearSynching()
		return nil
	}

	maxDefer := sm.f.DesiredAsyncReadCount()
	missingHashes := make(map[[32]byte]struct{})
	var ret []MissingNode

	for {
		deferredReads := make([]deferredRead, 0, maxDefer+branchFactor)
		var stack []missingFrame

		// Traverse the map without blocking.
		node := rootInner
		nodeID := effectiveNodeID(root, RootNodeID())

		// A random first child decorrelates concurrent callers: each
		// walks the same nodes in a different order and so requests a
		// different subset first.
		firstChild := rand.IntN(256)
		currentChild := 0
		fullBelow := true

		for node != nil {
			for currentChild < branchFactor {
				branch := (firstChild + currentChild) % branchFactor
				currentChild++
				if node.IsEmptyBranch(branch) {
					continue
				}

				childHash := node.ChildHash(branch)
				if _, seen := missingHashes[childHash]; seen {
					fullBelow = false
					continue
				}
				if sm.backed && sm.f.FullBelow().TouchIfExists(childHash) {
					continue
				}

				childID := nodeID.ChildNodeID(branch)
				d, pending := sm.descendAsync(node, branch, filter)
				switch {
				case d == nil && !pending:
					// Not in the database.
					missingHashes[childHash] = struct{}{}
					ret = append(ret, MissingNode{ID: childID, Hash: childHash})
					max--
					if max <= 0 {
						return ret
					}
					fullBelow = false

				case d == nil:
					// Read is in flight; revisit after the drain.
					deferredReads = append(deferredReads, deferredRead{node, branch, childID})
					fullBelow = false

				default:
					if inner := asInner(d); inner != nil && !inner.isFullBelow(generation) {
						stack = append(stack, missingFrame{node, nodeID, firstChild, currentChild, fullBelow})
						node = inner
						nodeID = effectiveNodeID(d, childID)
						firstChild = rand.IntN(256)
						currentChild = 0
						fullBelow = true
					}
				}
			}

			// Done with this inner node and everything below it.
			if fullBelow {
				node.setFullBelowGen(generation)
				if sm.backed {
					sm.f.FullBelow().Insert(node.Hash())
				}
			}

			if len(stack) == 0 {
				node = nil
			} else {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				was := top.fullBelow
				node, nodeID, firstChild, currentChild = top.node, top.id, top.firstChild, top.currentChild
				fullBelow = was && fullBelow // was and still is
			}

			if node != nil && len(deferredReads) > maxDefer {
				break
			}
		}

		if len(deferredReads) == 0 {
			break
		}

		sm.f.WaitReads()

		for _, dr := range deferredReads {
			nodeHash := dr.parent.ChildHash(dr.branch)
			fetched := sm.fetchNodeNT(nodeHash, filter)
			if fetched != nil {
				if sm.backed {
					fetched = sm.f.CanonicalizeNode(nodeHash, fetched)
				}
				dr.parent.CanonicalizeChild(dr.branch, fetched)
				continue
			}
			if _, seen := missingHashes[nodeHash]; max > 0 && !seen {
				missingHashes[nodeHash] = struct{}{}
				ret = append(ret, MissingNode{ID: dr.id, Hash: nodeHash})
				max--
			}
		}

		if max <= 0 {
			return ret
		}
	}

	if len(ret) == 0 {
		sm.clearSynching()
	}
	return ret
}

// GetNeededHashes projects GetMissingNodes to just the hashes.
func (sm *SHAMap) GetNeededHashes(max int, filter SyncFilter) [][32]byte {
	missing := sm.GetMissingNodes(max, filter)
	hashes := make([][32]byte, 0, len(missing))
	for _, m := range missing {
		hashes = append(hashes, m.Hash)
	}
	return hashes
}

// isInconsistentNode reports whether a node's shape cannot belong to this
// map: a position-carrying inner node in a plain map (or the reverse), or a
// leaf kind that contradicts the map type.
func (sm *SHAMap) isInconsistentNode(node TreeNode) bool {
	switch node.(type) {
	case *InnerNodeV2:
		return !sm.v2
	case *InnerNode:
		return sm.v2
	}
	switch node.Type() {
	case NodeTypeAccountState:
		return sm.mapType != TypeState
	case NodeTypeTransactionNoMeta, NodeTypeTransactionWithMeta:
		return sm.mapType != TypeTransaction
	default:
		return true
	}
}

// AddRootNode installs a peer-supplied root. If a root with content is
// already present the call is a no-op duplicate.
func (sm *SHAMap) AddRootNode(expected [32]byte, data []byte, format Format, filter SyncFilter) AddNodeResult {
	if root := sm.rootNode(); root != nil && !isZeroHash(root.Hash()) {
		sm.journal.Trace("got root node, already have one")
		if root.Hash() != expected {
			sm.journal.Warn("root node hash %x does not match installed root %x",
				expected[:8], root.Hash())
		}
		return AddNodeDuplicate
	}

	node, err := DeserializeNode(data, format, &expected, nil)
	if err != nil {
		sm.journal.Warn("invalid root node: %v", err)
		return AddNodeInvalid
	}
	if sm.backed {
		node = sm.f.CanonicalizeNode(expected, node)
	}

	sm.mu.Lock()
	sm.root = node
	sm.pendingRootHash = [32]byte{}
	if _, ok := node.(*InnerNodeV2); ok {
		sm.v2 = true
	}
	sm.mu.Unlock()

	if node.IsLeaf() {
		sm.clearSynching()
	}

	if filter != nil {
		prefix := node.SerializeWithPrefix()
		filter.GotNode(false, expected, sm.ledgerSeq, prefix, node.Type())
	}
	return AddNodeUseful
}

// AddKnownNode validates a peer-supplied node against the hash recorded at
// the claimed position and splices it there. The claimed position must not
// be the root.
func (sm *SHAMap) AddKnownNode(id NodeID, data []byte, filter SyncFilter) AddNodeResult {
	if id.IsRoot() {
		sm.journal.Error("AddKnownNode called for the root position")
		return AddNodeInvalid
	}
	if !sm.IsSyncing() {
		sm.journal.Trace("AddKnownNode while not syncing")
		return AddNodeDuplicate
	}

	root := sm.rootNode()
	if root == nil {
		sm.journal.Warn("AddKnownNode before the root arrived")
		return AddNodeInvalid
	}

	generation := sm.f.FullBelow().Generation()

	// Malformedness is judged at the splice point, where the recorded
	// child hash is known; until then a failed parse just leaves newNode
	// nil.
	newNode, _ := DeserializeNode(data, FormatWire, nil, nil)

	iNode := root
	iNodeID := RootNodeID()

	for {
		inner := asInner(iNode)
		if inner == nil || inner.isFullBelow(generation) || iNodeID.Depth >= id.Depth {
			break
		}

		branch := iNodeID.SelectBranch(id.Key)
		if inner.IsEmptyBranch(branch) {
			sm.journal.Warn("add known node for empty branch %v", id)
			return AddNodeInvalid
		}

		childHash := inner.ChildHash(branch)
		if sm.f.FullBelow().TouchIfExists(childHash) {
			return AddNodeDuplicate
		}

		prev := inner
		iNode, iNodeID = sm.descendID(inner, iNodeID, branch, filter)
		if iNode != nil {
			continue
		}

		// The branch toward the claimed position is unresolved: this is
		// the splice point.
		if newNode == nil || childHash != newNode.Hash() {
			sm.journal.Warn("corrupt node received for %v", id)
			return AddNodeInvalid
		}

		if !isInBounds(newNode, iNodeID) {
			// Map is provably invalid.
			sm.setInvalid()
			return AddNodeUseful
		}
		if sm.isInconsistentNode(newNode) {
			sm.setInvalid()
			return AddNodeUseful
		}

		_, isV2 := newNode.(*InnerNodeV2)
		if (isV2 && !iNodeID.HasCommonPrefix(id)) || (!isV2 && !iNodeID.Equal(id)) {
			// Either this node is broken or we didn't request it (yet).
			sm.journal.Warn("unable to hook node %v, stuck at %v", id, iNodeID)
			return AddNodeUseful
		}

		if sm.backed {
			newNode = sm.f.CanonicalizeNode(childHash, newNode)
		}
		newNode = prev.CanonicalizeChild(branch, newNode)

		if filter != nil {
			prefix := newNode.SerializeWithPrefix()
			filter.GotNode(false, childHash, sm.ledgerSeq, prefix, newNode.Type())
		}
		return AddNodeUseful
	}

	sm.journal.Trace("got node, already had it (late)")
	return AddNodeDuplicate
}
