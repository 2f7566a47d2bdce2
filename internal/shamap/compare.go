package shamap

import "bytes"

// compareFrame pairs positions of two maps being walked in lockstep.
type compareFrame struct {
	node  TreeNode
	other TreeNode
}

// DeepCompare walks both maps in lockstep and reports whether they hold
// exactly the same nodes and items. Intended for debug and test use; the
// root hash alone already authenticates equality.
func (sm *SHAMap) DeepCompare(other *SHAMap) bool {
	stack := []compareFrame{{node: sm.rootNode(), other: other.rootNode()}}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, otherNode := frame.node, frame.other

		if node == nil || otherNode == nil {
			sm.journal.Info("deepCompare: unable to fetch node")
			return false
		}
		if node.Hash() != otherNode.Hash() {
			sm.journal.Warn("deepCompare: node hash mismatch")
			return false
		}

		if node.IsLeaf() {
			if !otherNode.IsLeaf() {
				return false
			}
			item, otherItem := leafItem(node), leafItem(otherNode)
			if item == nil || otherItem == nil {
				return false
			}
			if item.Key() != otherItem.Key() {
				return false
			}
			if !bytes.Equal(item.Data(), otherItem.Data()) {
				return false
			}
			continue
		}

		if !otherNode.IsInner() {
			return false
		}
		inner, otherInner := asInner(node), asInner(otherNode)
		for i := 0; i < branchFactor; i++ {
			if inner.IsEmptyBranch(i) {
				if !otherInner.IsEmptyBranch(i) {
					return false
				}
				continue
			}
			if otherInner.IsEmptyBranch(i) {
				return false
			}
			next := sm.descend(inner, i, nil)
			otherNext := other.descend(otherInner, i, nil)
			if next == nil || otherNext == nil {
				sm.journal.Warn("deepCompare: unable to fetch inner node")
				return false
			}
			stack = append(stack, compareFrame{node: next, other: otherNext})
		}
	}

	return true
}
