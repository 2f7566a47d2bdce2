package shamap

// fatFrame is a pending position in the fat-node walk.
type fatFrame struct {
	node  TreeNode
	id    NodeID
	depth uint32
}

// GetNodeFat locates the node at wanted and emits it together with a
// neighborhood of descendants in wire format. depth bounds how many levels
// of branching descent are included; chains of single-child inner nodes are
// followed without spending depth. Leaves at the frontier are emitted only
// when fatLeaves is set.
//
// Returns false when wanted does not name a node of this map.
func (sm *SHAMap) GetNodeFat(wanted NodeID, fatLeaves bool, depth uint32) ([]NodeID, [][]byte, bool) {
	node := sm.rootNode()
	if node == nil {
		return nil, nil, false
	}
	nodeID := effectiveNodeID(node, RootNodeID())

	for node != nil && node.IsInner() && nodeID.Depth < wanted.Depth {
		inner := asInner(node)
		branch := nodeID.SelectBranch(wanted.Key)
		if inner.IsEmptyBranch(branch) {
			return nil, nil, false
		}
		node = sm.descendThrow(inner, branch)
		nodeID = effectiveNodeID(node, nodeID.ChildNodeID(branch))
	}

	if node == nil {
		return nil, nil, false
	}
	if _, isV2 := node.(*InnerNodeV2); isV2 {
		if !wanted.HasCommonPrefix(nodeID) {
			sm.journal.Warn("peer requested node %v not in the map, found %v", wanted, nodeID)
			return nil, nil, false
		}
	} else if !wanted.Equal(nodeID) {
		sm.journal.Warn("peer requested node %v not in the map, found %v", wanted, nodeID)
		return nil, nil, false
	}

	if inner := asInner(node); inner != nil && inner.IsEmpty() {
		sm.journal.Warn("peer requests empty node")
		return nil, nil, false
	}

	var (
		nodeIDs  []NodeID
		rawNodes [][]byte
	)

	stack := []fatFrame{{node: node, id: nodeID, depth: depth}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, nodeID, depth = frame.node, frame.id, frame.depth

		// Add this node to the reply.
		nodeIDs = append(nodeIDs, nodeID)
		rawNodes = append(rawNodes, node.SerializeForWire())

		inner := asInner(node)
		if inner == nil {
			continue
		}

		// Single-child inner nodes are descended without charging the
		// depth budget.
		bc := inner.BranchCount()
		if depth == 0 && bc != 1 {
			continue
		}

		for i := 0; i < branchFactor; i++ {
			if inner.IsEmptyBranch(i) {
				continue
			}
			childNode := sm.descendThrow(inner, i)
			childID := effectiveNodeID(childNode, nodeID.ChildNodeID(i))

			if childNode.IsInner() && (depth > 1 || bc == 1) {
				childDepth := depth
				if bc > 1 {
					childDepth = depth - 1
				}
				stack = append(stack, fatFrame{node: childNode, id: childID, depth: childDepth})
			} else if childNode.IsInner() || fatLeaves {
				nodeIDs = append(nodeIDs, childID)
				rawNodes = append(rawNodes, childNode.SerializeForWire())
			}
		}
	}

	return nodeIDs, rawNodes, true
}
