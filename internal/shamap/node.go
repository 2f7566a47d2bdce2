package shamap

import (
	"encoding/hex"
	"fmt"
)

// NodeType identifies the variant of a tree node.
type NodeType int

const (
	NodeTypeInner NodeType = iota + 1
	NodeTypeTransactionNoMeta
	NodeTypeTransactionWithMeta
	NodeTypeAccountState
)

// String returns the string representation of the node type.
func (t NodeType) String() string {
	switch t {
	case NodeTypeInner:
		return "inner"
	case NodeTypeTransactionNoMeta:
		return "transaction"
	case NodeTypeTransactionWithMeta:
		return "transaction+meta"
	case NodeTypeAccountState:
		return "account-state"
	default:
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
}

// TreeNode is implemented by every node of the tree.
type TreeNode interface {
	IsLeaf() bool
	IsInner() bool
	Hash() [32]byte
	Type() NodeType

	// SerializeForWire returns the network encoding of the node.
	SerializeForWire() []byte
	// SerializeWithPrefix returns the store encoding. The node's hash is
	// defined as Sha512Half over exactly these bytes.
	SerializeWithPrefix() []byte

	String(id NodeID) string
	Invariants(isRoot bool) error
}

// LeafNode is implemented by the leaf variants.
type LeafNode interface {
	TreeNode
	Item() *Item
}

// Inner is implemented by both inner node variants.
type Inner interface {
	TreeNode
	IsEmpty() bool
	IsEmptyBranch(branch int) bool
	BranchCount() int
	ChildHash(branch int) [32]byte
	GetChild(branch int) TreeNode
	SetChild(branch int, child TreeNode)
	SetChildHash(branch int, hash [32]byte)
	CanonicalizeChild(branch int, candidate TreeNode) TreeNode

	isFullBelow(generation uint32) bool
	setFullBelowGen(generation uint32)
}

// asInner returns the node as an inner node, or nil if it is a leaf.
func asInner(node TreeNode) Inner {
	if inner, ok := node.(Inner); ok {
		return inner
	}
	return nil
}

// baseNode provides the cached hash shared by all node variants.
type baseNode struct {
	hash [32]byte
}

func (b *baseNode) Hash() [32]byte {
	return b.hash
}

func (b *baseNode) String(id NodeID) string {
	return fmt.Sprintf("Node ID: %v, Hash: %s", id, hex.EncodeToString(b.hash[:]))
}

// isZeroHash reports whether h is the empty/unknown sentinel.
func isZeroHash(h [32]byte) bool {
	return h == [32]byte{}
}

// effectiveNodeID resolves a child's identity during traversal. Inner nodes
// that carry their own depth and key override the identifier derived from
// the traversal path.
func effectiveNodeID(child TreeNode, pathChildID NodeID) NodeID {
	if v2, ok := child.(*InnerNodeV2); ok {
		return v2.NodeID()
	}
	return pathChildID
}

// leafItem returns the item held by a leaf node, or nil for inner nodes.
func leafItem(node TreeNode) *Item {
	if node == nil || !node.IsLeaf() {
		return nil
	}
	if leaf, ok := node.(LeafNode); ok {
		return leaf.Item()
	}
	return nil
}
