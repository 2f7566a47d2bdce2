package shamap

// visitFrame is a suspended traversal position: the inner node being walked
// and the branch to resume at.
type visitFrame struct {
	node Inner
	id   NodeID
	pos  int
}

// VisitNodes calls fn for every node of the map, parents before children.
// fn returning true stops the walk. All children must be locally
// resolvable.
func (sm *SHAMap) VisitNodes(fn func(node TreeNode, id NodeID) bool) {
	root := sm.rootNode()
	if root == nil {
		return
	}
	if fn(root, RootNodeID()) {
		return
	}
	if !root.IsInner() {
		return
	}

	var stack []visitFrame
	node := asInner(root)
	nodeID := effectiveNodeID(root, RootNodeID())
	pos := 0

	for {
		for pos < branchFactor {
			if node.IsEmptyBranch(pos) {
				pos++
				continue
			}

			child := sm.descendThrow(node, pos)
			childID := effectiveNodeID(child, nodeID.ChildNodeID(pos))
			if fn(child, childID) {
				return
			}

			if child.IsLeaf() {
				pos++
				continue
			}

			// Don't push this node if no branches remain after pos.
			for pos != branchFactor-1 && node.IsEmptyBranch(pos+1) {
				pos++
			}
			if pos != branchFactor-1 {
				stack = append(stack, visitFrame{node: node, id: nodeID, pos: pos + 1})
			}

			node = asInner(child)
			nodeID = childID
			pos = 0
		}

		if len(stack) == 0 {
			return
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, nodeID, pos = top.node, top.id, top.pos
	}
}

// VisitLeaves calls fn for every item in the map. fn returning true stops
// the walk.
func (sm *SHAMap) VisitLeaves(fn func(item *Item) bool) {
	sm.VisitNodes(func(node TreeNode, _ NodeID) bool {
		if item := leafItem(node); item != nil {
			return fn(item)
		}
		return false
	})
}
