package shamap

// HasInnerNode reports whether this map contains an inner node with the
// given hash at the given position.
func (sm *SHAMap) HasInnerNode(targetID NodeID, targetHash [32]byte) bool {
	node := sm.rootNode()
	if node == nil {
		return false
	}
	nodeID := effectiveNodeID(node, RootNodeID())

	for node.IsInner() && nodeID.Depth < targetID.Depth {
		inner := asInner(node)
		branch := nodeID.SelectBranch(targetID.Key)
		if inner.IsEmptyBranch(branch) {
			return false
		}
		node = sm.descendThrow(inner, branch)
		nodeID = effectiveNodeID(node, nodeID.ChildNodeID(branch))
	}

	return node.IsInner() && node.Hash() == targetHash
}

// HasLeafNode reports whether this map contains a leaf with the given key
// and hash.
func (sm *SHAMap) HasLeafNode(key [32]byte, targetHash [32]byte) bool {
	node := sm.rootNode()
	if node == nil {
		return false
	}
	if !node.IsInner() {
		// Only one leaf node in the tree.
		return node.Hash() == targetHash
	}

	nodeID := effectiveNodeID(node, RootNodeID())
	for {
		inner := asInner(node)
		branch := nodeID.SelectBranch(key)
		if inner.IsEmptyBranch(branch) {
			return false // dead end, the leaf cannot be here
		}
		if inner.ChildHash(branch) == targetHash {
			return true // matching leaf, no need to retrieve it
		}
		node = sm.descendThrow(inner, branch)
		if !node.IsInner() {
			return false
		}
		nodeID = effectiveNodeID(node, nodeID.ChildNodeID(branch))
	}
}

// diffFrame is an unexplored inner node known to differ from the peer's
// version.
type diffFrame struct {
	node Inner
	id   NodeID
}

// VisitDifferences calls visit for every node of this map that the have map
// lacks, parents before children. A nil have means the peer has nothing.
// visit returning false stops the walk.
func (sm *SHAMap) VisitDifferences(have *SHAMap, visit func(node TreeNode) bool) {
	root := sm.rootNode()
	if root == nil || isZeroHash(root.Hash()) {
		return
	}
	if have != nil && root.Hash() == have.Hash() {
		return
	}

	if !root.IsInner() {
		if item := leafItem(root); item != nil {
			if have == nil || !have.HasLeafNode(item.Key(), root.Hash()) {
				visit(root)
			}
		}
		return
	}

	stack := []diffFrame{{node: asInner(root), id: effectiveNodeID(root, RootNodeID())}}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, nodeID := frame.node, frame.id

		// The node itself goes first so receivers always see a parent
		// before its descendants.
		if !visit(node) {
			return
		}

		for i := 0; i < branchFactor; i++ {
			if node.IsEmptyBranch(i) {
				continue
			}
			childHash := node.ChildHash(i)
			next := sm.descendThrow(node, i)
			childID := effectiveNodeID(next, nodeID.ChildNodeID(i))

			if next.IsInner() {
				if have == nil || !have.HasInnerNode(childID, childHash) {
					stack = append(stack, diffFrame{node: asInner(next), id: childID})
				}
			} else if item := leafItem(next); item != nil {
				if have == nil || !have.HasLeafNode(item.Key(), childHash) {
					if !visit(next) {
						return
					}
				}
			}
		}
	}
}

// GetFetchPack emits the prefix-format bytes of up to max nodes present in
// this map but absent from have. Callers serving transaction trees set
// includeLeaves false; the leaves of those trees are never useful to the
// peer.
func (sm *SHAMap) GetFetchPack(have *SHAMap, includeLeaves bool, max int, fn func(hash [32]byte, data []byte)) {
	if have != nil && have.IsV2() != sm.IsV2() {
		sm.journal.Info("cannot get fetch pack when versions differ")
		return
	}

	sm.VisitDifferences(have, func(node TreeNode) bool {
		if includeLeaves || node.IsInner() {
			fn(node.Hash(), node.SerializeWithPrefix())
			max--
			if max <= 0 {
				return false
			}
		}
		return true
	})
}
