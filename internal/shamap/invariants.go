package shamap

import "fmt"

// CheckInvariants walks every resolved node and validates the structural
// claims the rest of the package relies on: recorded child hashes match the
// children, leaves sit on paths consistent with their keys, and every node
// passes its own checks. Unresolved branches are skipped; they are vouched
// for by their hashes.
func (sm *SHAMap) CheckInvariants() error {
	root := sm.rootNode()
	if root == nil {
		return nil
	}
	if err := root.Invariants(true); err != nil {
		return fmt.Errorf("root: %w", err)
	}

	var check func(node TreeNode, id NodeID) error
	check = func(node TreeNode, id NodeID) error {
		if item := leafItem(node); item != nil {
			if !NewNodeID(id.Depth, item.Key()).Equal(id) {
				return fmt.Errorf("leaf %x at inconsistent position %v", item.Key(), id)
			}
			return nil
		}

		inner := asInner(node)
		if inner == nil {
			return fmt.Errorf("node at %v is neither leaf nor inner", id)
		}
		for i := 0; i < branchFactor; i++ {
			child := inner.GetChild(i)
			if child == nil {
				continue
			}
			if inner.IsEmptyBranch(i) {
				return fmt.Errorf("resolved child on empty branch %d at %v", i, id)
			}
			if child.Hash() != inner.ChildHash(i) {
				return fmt.Errorf("child hash mismatch on branch %d at %v", i, id)
			}
			if err := child.Invariants(false); err != nil {
				return fmt.Errorf("branch %d at %v: %w", i, id, err)
			}
			if err := check(child, effectiveNodeID(child, id.ChildNodeID(i))); err != nil {
				return err
			}
		}
		return nil
	}

	return check(root, effectiveNodeID(root, RootNodeID()))
}
