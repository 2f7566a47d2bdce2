package shamap

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	crypto "github.com/LeJamon/go-shamap/internal/crypto/common"
	"github.com/LeJamon/go-shamap/internal/protocol"
)

const branchFactor = 16

// InnerNode is a node with up to sixteen children. Each branch holds either
// nothing, the hash of a not-yet-resolved child, or a resolved child whose
// hash matches the recorded one. Through CanonicalizeChild a branch slot
// transitions hash-only to resolved exactly once; only the mutation path
// (SetChild) replaces a resolved slot.
type InnerNode struct {
	baseNode
	mu       sync.Mutex
	children [branchFactor]TreeNode
	hashes   [branchFactor][32]byte
	isBranch uint16

	fullBelowGen atomic.Uint32
}

// NewInnerNode creates an empty inner node.
func NewInnerNode() *InnerNode {
	return &InnerNode{}
}

func (n *InnerNode) IsLeaf() bool  { return false }
func (n *InnerNode) IsInner() bool { return true }

func (n *InnerNode) Type() NodeType {
	return NodeTypeInner
}

// IsEmpty returns true if the node has no active branches.
func (n *InnerNode) IsEmpty() bool {
	return n.isBranch == 0
}

// IsEmptyBranch returns true if the given branch holds nothing.
func (n *InnerNode) IsEmptyBranch(branch int) bool {
	return n.isBranch&(1<<branch) == 0
}

// BranchCount returns the number of active branches.
func (n *InnerNode) BranchCount() int {
	return bits.OnesCount16(n.isBranch)
}

// ChildHash returns the recorded hash at a branch; the zero hash for empty
// branches.
func (n *InnerNode) ChildHash(branch int) [32]byte {
	return n.hashes[branch]
}

// GetChild returns the resolved child at a branch, or nil if the branch is
// empty or holds only a hash.
func (n *InnerNode) GetChild(branch int) TreeNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.children[branch]
}

// SetChild replaces a branch during mutation: child nil clears the branch,
// otherwise the branch records the child and its hash. The node's own hash
// is recomputed.
func (n *InnerNode) SetChild(branch int, child TreeNode) {
	n.mu.Lock()
	if child != nil {
		n.children[branch] = child
		n.hashes[branch] = child.Hash()
		n.isBranch |= 1 << branch
	} else {
		n.children[branch] = nil
		n.hashes[branch] = [32]byte{}
		n.isBranch &= ^uint16(1 << branch)
	}
	n.mu.Unlock()
	n.fullBelowGen.Store(0)
	n.updateHash()
}

// SetChildHash records a hash-only branch, used when rebuilding a node from
// its serialized form.
func (n *InnerNode) SetChildHash(branch int, hash [32]byte) {
	n.mu.Lock()
	n.children[branch] = nil
	if isZeroHash(hash) {
		n.hashes[branch] = [32]byte{}
		n.isBranch &= ^uint16(1 << branch)
	} else {
		n.hashes[branch] = hash
		n.isBranch |= 1 << branch
	}
	n.mu.Unlock()
}

// CanonicalizeChild installs candidate on a branch that currently holds only
// a hash, and returns the winner. If another caller resolved the branch
// first, the already-installed child is returned and the candidate is
// discarded, so concurrent grafts of the same hash converge on one shared
// node.
func (n *InnerNode) CanonicalizeChild(branch int, candidate TreeNode) TreeNode {
	n.mu.Lock()
	defer n.mu.Unlock()

	if existing := n.children[branch]; existing != nil {
		return existing
	}
	n.children[branch] = candidate
	return candidate
}

// isFullBelow reports whether every node below this one was known locally
// resolvable as of the given cache generation.
func (n *InnerNode) isFullBelow(generation uint32) bool {
	return n.fullBelowGen.Load() == generation
}

// setFullBelowGen records that the subtree below this node is fully resolved
// with respect to the given generation.
func (n *InnerNode) setFullBelowGen(generation uint32) {
	n.fullBelowGen.Store(generation)
}

// updateHash recomputes the node's hash from its child hashes. An empty node
// hashes to zero. All sixteen slots contribute, empty branches as 32 zero
// bytes.
func (n *InnerNode) updateHash() {
	if n.isBranch == 0 {
		n.hash = [32]byte{}
		return
	}
	n.hash = crypto.Sha512Half(n.hashPreimage())
}

func (n *InnerNode) hashPreimage() []byte {
	out := make([]byte, 0, 4+branchFactor*32)
	out = append(out, protocol.HashPrefixInnerNode[:]...)
	for i := 0; i < branchFactor; i++ {
		out = append(out, n.hashes[i][:]...)
	}
	return out
}

// String returns a human-readable representation of the node.
func (n *InnerNode) String(id NodeID) string {
	s := fmt.Sprintf("InnerNode ID: %s Hash: %s Branches:\n", id, hex.EncodeToString(n.hash[:]))
	for i := 0; i < branchFactor; i++ {
		if !n.IsEmptyBranch(i) {
			s += fmt.Sprintf("  %d: %s\n", i, hex.EncodeToString(n.hashes[i][:]))
		}
	}
	return s
}

// Invariants performs internal consistency checks.
func (n *InnerNode) Invariants(isRoot bool) error {
	count := 0
	for i := 0; i < branchFactor; i++ {
		hasHash := !isZeroHash(n.hashes[i])
		hasBit := n.isBranch&(1<<i) != 0
		if hasHash != hasBit {
			return fmt.Errorf("branch %d inconsistency: hash != bit", i)
		}
		if child := n.GetChild(i); child != nil {
			if !hasBit {
				return fmt.Errorf("branch %d holds a child but no hash", i)
			}
			if child.Hash() != n.hashes[i] {
				return fmt.Errorf("branch %d child hash does not match recorded hash", i)
			}
		}
		if hasBit {
			count++
		}
	}
	if count == 0 && !isRoot {
		return fmt.Errorf("non-root inner node is empty")
	}
	if !isRoot && isZeroHash(n.hash) {
		return fmt.Errorf("non-root inner node has zero hash")
	}
	return nil
}

// InnerNodeV2 is an inner node that carries its own position. During
// traversal the node's identity comes from this position, not from the
// accumulated path, which lets the node sit at a depth that skips nibbles.
type InnerNodeV2 struct {
	InnerNode
	depth uint8
	key   [32]byte
}

// NewInnerNodeV2 creates an empty inner node anchored at the given position.
func NewInnerNodeV2(depth uint8, key [32]byte) *InnerNodeV2 {
	return &InnerNodeV2{depth: depth, key: maskKey(depth, key)}
}

// Depth returns the node's own depth.
func (n *InnerNodeV2) Depth() uint8 {
	return n.depth
}

// Key returns the node's own key prefix.
func (n *InnerNodeV2) Key() [32]byte {
	return n.key
}

// NodeID returns the node's self-declared position.
func (n *InnerNodeV2) NodeID() NodeID {
	return NewNodeID(n.depth, n.key)
}

func (n *InnerNodeV2) updateHash() {
	if n.isBranch == 0 {
		n.hash = [32]byte{}
		return
	}
	n.hash = crypto.Sha512Half(n.hashPreimage())
}

func (n *InnerNodeV2) hashPreimage() []byte {
	out := make([]byte, 0, 4+branchFactor*32+33)
	out = append(out, protocol.HashPrefixInnerNodeV2[:]...)
	for i := 0; i < branchFactor; i++ {
		out = append(out, n.hashes[i][:]...)
	}
	out = append(out, n.key[:]...)
	out = append(out, n.depth)
	return out
}

// SetChild mirrors InnerNode.SetChild but keeps the v2 hash domain.
func (n *InnerNodeV2) SetChild(branch int, child TreeNode) {
	n.InnerNode.SetChild(branch, child)
	n.updateHash()
}

// Invariants performs internal consistency checks.
func (n *InnerNodeV2) Invariants(isRoot bool) error {
	if err := n.InnerNode.Invariants(isRoot); err != nil {
		return err
	}
	if n.depth > MaxDepth {
		return fmt.Errorf("inner node depth %d out of range", n.depth)
	}
	if n.key != maskKey(n.depth, n.key) {
		return fmt.Errorf("inner node key has nibbles below its depth")
	}
	return nil
}
