package shamap

import "fmt"

// Mutation keeps fixture and local-ledger maps buildable without the sync
// machinery. Only plain inner nodes are produced; position-carrying trees
// are assembled by their own construction paths.

// walkEntry is one step of the path from the root toward a key.
type walkEntry struct {
	node Inner
	id   NodeID
}

// walkTowardKey descends toward key, appending every inner node passed to
// stack. Returns the leaf at the end of the path, or nil if the path dead
// ends in an empty branch.
func (sm *SHAMap) walkTowardKey(key [32]byte, stack *[]walkEntry) TreeNode {
	node := sm.rootNode()
	if node == nil {
		return nil
	}
	id := RootNodeID()

	for node.IsInner() {
		inner := asInner(node)
		if stack != nil {
			*stack = append(*stack, walkEntry{inner, id})
		}
		branch := id.SelectBranch(key)
		if inner.IsEmptyBranch(branch) {
			return nil
		}
		node = sm.descendThrow(inner, branch)
		id = effectiveNodeID(node, id.ChildNodeID(branch))
	}
	return node
}

// dirtyUp reinstalls child at the bottom of the walked path and refreshes
// every hash up to the root.
func (sm *SHAMap) dirtyUp(stack []walkEntry, key [32]byte, child TreeNode) {
	node := child
	for i := len(stack) - 1; i >= 0; i-- {
		inner := stack[i].node
		branch := stack[i].id.SelectBranch(key)
		inner.SetChild(branch, node)
		node = inner
	}
	sm.mu.Lock()
	sm.root = node
	sm.mu.Unlock()
}

// leafNodeType returns the leaf kind this map stores.
func (sm *SHAMap) leafNodeType() NodeType {
	if sm.mapType == TypeTransaction {
		return NodeTypeTransactionNoMeta
	}
	return NodeTypeAccountState
}

// branchAtDepth returns the nibble of key selecting the branch at depth.
func branchAtDepth(key [32]byte, depth int) int {
	b := key[depth/2]
	if depth%2 == 0 {
		return int(b >> 4)
	}
	return int(b & 0x0F)
}

// findSplitDepth returns the first depth at which two keys diverge.
func findSplitDepth(k1, k2 [32]byte) int {
	for depth := 0; depth < MaxDepth; depth++ {
		if branchAtDepth(k1, depth) != branchAtDepth(k2, depth) {
			return depth
		}
	}
	return MaxDepth - 1
}

// Set adds or replaces the item under key using the map's default leaf
// kind.
func (sm *SHAMap) Set(key [32]byte, data []byte) error {
	return sm.SetItemWithType(NewItem(key, data), sm.leafNodeType())
}

// SetWithType adds or replaces the item under key with an explicit leaf
// kind, used for transaction trees that carry metadata.
func (sm *SHAMap) SetWithType(key [32]byte, data []byte, nodeType NodeType) error {
	return sm.SetItemWithType(NewItem(key, data), nodeType)
}

// SetItemWithType inserts item as a leaf of the given kind.
func (sm *SHAMap) SetItemWithType(item *Item, nodeType NodeType) error {
	if sm.State() != StateModifying {
		return ErrImmutable
	}

	newLeaf, err := NewLeafNode(nodeType, item)
	if err != nil {
		return err
	}

	key := item.Key()
	var stack []walkEntry
	existing := sm.walkTowardKey(key, &stack)

	if existing == nil {
		sm.dirtyUp(stack, key, newLeaf)
		return nil
	}

	exItem := leafItem(existing)
	if exItem == nil {
		return ErrInvalidType
	}
	if exItem.Key() == key {
		sm.dirtyUp(stack, key, newLeaf)
		return nil
	}

	// Two keys share the walked prefix; grow inner nodes down to the
	// first depth where they diverge.
	splitDepth := findSplitDepth(key, exItem.Key())
	if splitDepth >= MaxDepth {
		return ErrMaxDepthReached
	}

	split := NewInnerNode()
	split.SetChild(branchAtDepth(exItem.Key(), splitDepth), existing)
	split.SetChild(branchAtDepth(key, splitDepth), newLeaf)

	node := TreeNode(split)
	for d := splitDepth - 1; d >= len(stack); d-- {
		parent := NewInnerNode()
		parent.SetChild(branchAtDepth(key, d), node)
		node = parent
	}

	sm.dirtyUp(stack, key, node)
	return nil
}

// Get returns the item stored under key.
func (sm *SHAMap) Get(key [32]byte) (*Item, bool) {
	leaf := sm.walkTowardKey(key, nil)
	item := leafItem(leaf)
	if item == nil || item.Key() != key {
		return nil, false
	}
	return item, true
}

// Has reports whether an item is stored under key.
func (sm *SHAMap) Has(key [32]byte) bool {
	_, ok := sm.Get(key)
	return ok
}

// onlyBelow returns the single item below node, or nil when there are zero
// or several.
func (sm *SHAMap) onlyBelow(node TreeNode) *Item {
	for node.IsInner() {
		inner := asInner(node)
		var next TreeNode
		for i := 0; i < branchFactor; i++ {
			if inner.IsEmptyBranch(i) {
				continue
			}
			if next != nil {
				return nil
			}
			next = sm.descendThrow(inner, i)
		}
		if next == nil {
			return nil
		}
		node = next
	}
	return leafItem(node)
}

// Delete removes the item under key, collapsing inner nodes left with a
// single leaf below them.
func (sm *SHAMap) Delete(key [32]byte) error {
	if sm.State() != StateModifying {
		return ErrImmutable
	}

	var stack []walkEntry
	leaf := sm.walkTowardKey(key, &stack)
	item := leafItem(leaf)
	if item == nil || item.Key() != key {
		return ErrItemNotFound
	}

	var prev TreeNode
	for i := len(stack) - 1; i >= 0; i-- {
		inner := stack[i].node
		id := stack[i].id
		inner.SetChild(id.SelectBranch(key), prev)

		prev = inner
		if id.IsRoot() {
			break
		}
		switch inner.BranchCount() {
		case 0:
			prev = nil
		case 1:
			if only := sm.onlyBelow(inner); only != nil {
				replacement, err := NewLeafNode(sm.leafNodeType(), only)
				if err != nil {
					return err
				}
				prev = replacement
			}
		}
	}

	if prev == nil {
		return fmt.Errorf("unexpected nil root after delete")
	}
	sm.mu.Lock()
	sm.root = prev
	sm.mu.Unlock()
	return nil
}

// Flush serializes every resolved node in prefix format and writes the
// batch to the family's store. Returns the number of nodes written.
func (sm *SHAMap) Flush() (int, error) {
	var entries []FlushEntry
	sm.VisitNodes(func(node TreeNode, _ NodeID) bool {
		entries = append(entries, FlushEntry{Hash: node.Hash(), Data: node.SerializeWithPrefix()})
		return false
	})
	if len(entries) == 0 {
		return 0, nil
	}
	if err := sm.f.Store(entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Snapshot produces an independent copy of the map, immutable unless
// mutable is set. The copy is rebuilt item by item, so it shares no nodes
// with the original.
func (sm *SHAMap) Snapshot(mutable bool) (*SHAMap, error) {
	if sm.State() == StateInvalid {
		return nil, ErrInvalidState
	}

	cp := New(sm.mapType, sm.f)
	cp.backed = sm.backed
	cp.ledgerSeq = sm.ledgerSeq

	var copyErr error
	sm.VisitNodes(func(node TreeNode, _ NodeID) bool {
		leaf, ok := node.(LeafNode)
		if !ok {
			return false
		}
		if err := cp.SetItemWithType(leaf.Item().Clone(), leaf.Type()); err != nil {
			copyErr = err
			return true
		}
		return false
	})
	if copyErr != nil {
		return nil, copyErr
	}

	if !mutable {
		if err := cp.SetImmutable(); err != nil {
			return nil, err
		}
	}
	return cp, nil
}
