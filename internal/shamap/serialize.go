package shamap

import (
	"errors"
	"fmt"

	crypto "github.com/LeJamon/go-shamap/internal/crypto/common"
	"github.com/LeJamon/go-shamap/internal/protocol"
)

// Format selects one of the two node encodings.
type Format int

const (
	// FormatPrefix is the store encoding: a 4-byte hash-domain prefix
	// followed by the node content. Node hashes are defined over these
	// bytes.
	FormatPrefix Format = iota
	// FormatWire is the network encoding: node content followed by a
	// single trailing type byte.
	FormatWire
)

// Wire type markers, carried as the final byte of a wire-format node.
const (
	wireTypeTransaction     = 0
	wireTypeAccountState    = 1
	wireTypeInner           = 2
	wireTypeCompressedInner = 3
	wireTypeTransactionMD   = 4
	wireTypeInnerV2         = 5
)

// Serialization errors.
var (
	ErrMalformedNode = errors.New("malformed node data")
	ErrHashMismatch  = errors.New("node hash does not match expected")
)

// sparseThreshold is the branch count below which a wire-format inner node
// uses the compressed (branch, hash) pair encoding.
const sparseThreshold = 12

// -----------------------------------------------------------------------------
// Serialization

func (n *InnerNode) SerializeWithPrefix() []byte {
	return n.hashPreimage()
}

func (n *InnerNode) SerializeForWire() []byte {
	if n.BranchCount() < sparseThreshold {
		out := make([]byte, 0, n.BranchCount()*33+1)
		for i := 0; i < branchFactor; i++ {
			if !n.IsEmptyBranch(i) {
				out = append(out, n.hashes[i][:]...)
				out = append(out, byte(i))
			}
		}
		return append(out, wireTypeCompressedInner)
	}

	out := make([]byte, 0, branchFactor*32+1)
	for i := 0; i < branchFactor; i++ {
		out = append(out, n.hashes[i][:]...)
	}
	return append(out, wireTypeInner)
}

func (n *InnerNodeV2) SerializeWithPrefix() []byte {
	return n.hashPreimage()
}

func (n *InnerNodeV2) SerializeForWire() []byte {
	out := make([]byte, 0, branchFactor*32+34)
	for i := 0; i < branchFactor; i++ {
		out = append(out, n.hashes[i][:]...)
	}
	out = append(out, n.key[:]...)
	out = append(out, n.depth)
	return append(out, wireTypeInnerV2)
}

func (n *AccountStateLeafNode) SerializeWithPrefix() []byte {
	key := n.item.Key()
	out := make([]byte, 0, 4+n.item.Size()+32)
	out = append(out, protocol.HashPrefixLeafNode[:]...)
	out = append(out, n.item.Data()...)
	return append(out, key[:]...)
}

func (n *AccountStateLeafNode) SerializeForWire() []byte {
	key := n.item.Key()
	out := make([]byte, 0, n.item.Size()+33)
	out = append(out, n.item.Data()...)
	out = append(out, key[:]...)
	return append(out, wireTypeAccountState)
}

func (n *TxLeafNode) SerializeWithPrefix() []byte {
	out := make([]byte, 0, 4+n.item.Size())
	out = append(out, protocol.HashPrefixTransactionID[:]...)
	return append(out, n.item.Data()...)
}

func (n *TxLeafNode) SerializeForWire() []byte {
	out := make([]byte, 0, n.item.Size()+1)
	out = append(out, n.item.Data()...)
	return append(out, wireTypeTransaction)
}

func (n *TxPlusMetaLeafNode) SerializeWithPrefix() []byte {
	key := n.item.Key()
	out := make([]byte, 0, 4+n.item.Size()+32)
	out = append(out, protocol.HashPrefixTxNode[:]...)
	out = append(out, n.item.Data()...)
	return append(out, key[:]...)
}

func (n *TxPlusMetaLeafNode) SerializeForWire() []byte {
	key := n.item.Key()
	out := make([]byte, 0, n.item.Size()+33)
	out = append(out, n.item.Data()...)
	out = append(out, key[:]...)
	return append(out, wireTypeTransactionMD)
}

// SerializeNode returns the encoding of a node in the requested format.
func SerializeNode(node TreeNode, format Format) []byte {
	if format == FormatWire {
		return node.SerializeForWire()
	}
	return node.SerializeWithPrefix()
}

// -----------------------------------------------------------------------------
// Deserialization

// DeserializeNode rebuilds a node from either encoding. Structural
// constraints are always validated; when expectedHash is non-nil the
// computed hash must match it, and when at is non-nil the node must be
// consistent with that position.
func DeserializeNode(data []byte, format Format, expectedHash *[32]byte, at *NodeID) (TreeNode, error) {
	var (
		node TreeNode
		err  error
	)
	if format == FormatWire {
		node, err = deserializeWire(data)
	} else {
		node, err = deserializePrefix(data)
	}
	if err != nil {
		return nil, err
	}

	if err := node.Invariants(false); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNode, err)
	}
	if expectedHash != nil && node.Hash() != *expectedHash {
		return nil, ErrHashMismatch
	}
	if at != nil && !isInBounds(node, *at) {
		return nil, fmt.Errorf("%w: node inconsistent with position %v", ErrMalformedNode, *at)
	}
	return node, nil
}

func deserializeWire(data []byte) (TreeNode, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedNode)
	}
	typeByte := data[len(data)-1]
	payload := data[:len(data)-1]

	switch typeByte {
	case wireTypeTransaction:
		if len(payload) == 0 {
			return nil, fmt.Errorf("%w: empty transaction", ErrMalformedNode)
		}
		key := crypto.Sha512Half(protocol.HashPrefixTransactionID[:], payload)
		return NewTxLeafNode(NewItem(key, payload))

	case wireTypeAccountState:
		if len(payload) <= 32 {
			return nil, fmt.Errorf("%w: account state too short", ErrMalformedNode)
		}
		var key [32]byte
		copy(key[:], payload[len(payload)-32:])
		if isZeroHash(key) {
			return nil, fmt.Errorf("%w: account state has zero key", ErrMalformedNode)
		}
		return NewAccountStateLeafNode(NewItem(key, payload[:len(payload)-32]))

	case wireTypeTransactionMD:
		if len(payload) <= 32 {
			return nil, fmt.Errorf("%w: transaction+meta too short", ErrMalformedNode)
		}
		var key [32]byte
		copy(key[:], payload[len(payload)-32:])
		if isZeroHash(key) {
			return nil, fmt.Errorf("%w: transaction+meta has zero key", ErrMalformedNode)
		}
		return NewTxPlusMetaLeafNode(NewItem(key, payload[:len(payload)-32]))

	case wireTypeInner:
		if len(payload) != branchFactor*32 {
			return nil, fmt.Errorf("%w: inner node size %d", ErrMalformedNode, len(payload))
		}
		node := NewInnerNode()
		for i := 0; i < branchFactor; i++ {
			var h [32]byte
			copy(h[:], payload[i*32:(i+1)*32])
			node.SetChildHash(i, h)
		}
		node.updateHash()
		return node, nil

	case wireTypeCompressedInner:
		if len(payload)%33 != 0 || len(payload) == 0 || len(payload) > branchFactor*33 {
			return nil, fmt.Errorf("%w: compressed inner size %d", ErrMalformedNode, len(payload))
		}
		node := NewInnerNode()
		for off := 0; off < len(payload); off += 33 {
			branch := int(payload[off+32])
			if branch >= branchFactor {
				return nil, fmt.Errorf("%w: branch %d out of range", ErrMalformedNode, branch)
			}
			if !node.IsEmptyBranch(branch) {
				return nil, fmt.Errorf("%w: duplicate branch %d", ErrMalformedNode, branch)
			}
			var h [32]byte
			copy(h[:], payload[off:off+32])
			if isZeroHash(h) {
				return nil, fmt.Errorf("%w: zero hash on branch %d", ErrMalformedNode, branch)
			}
			node.SetChildHash(branch, h)
		}
		node.updateHash()
		return node, nil

	case wireTypeInnerV2:
		if len(payload) != branchFactor*32+33 {
			return nil, fmt.Errorf("%w: inner v2 size %d", ErrMalformedNode, len(payload))
		}
		depth := payload[len(payload)-1]
		if depth > MaxDepth {
			return nil, fmt.Errorf("%w: inner v2 depth %d", ErrMalformedNode, depth)
		}
		var key [32]byte
		copy(key[:], payload[branchFactor*32:branchFactor*32+32])
		node := NewInnerNodeV2(depth, key)
		for i := 0; i < branchFactor; i++ {
			var h [32]byte
			copy(h[:], payload[i*32:(i+1)*32])
			node.SetChildHash(i, h)
		}
		node.updateHash()
		return node, nil

	default:
		return nil, fmt.Errorf("%w: unknown wire type %d", ErrMalformedNode, typeByte)
	}
}

func deserializePrefix(data []byte) (TreeNode, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: too short for prefix", ErrMalformedNode)
	}
	var prefix [4]byte
	copy(prefix[:], data[:4])
	payload := data[4:]

	switch prefix {
	case protocol.HashPrefixInnerNode:
		if len(payload) != branchFactor*32 {
			return nil, fmt.Errorf("%w: inner node size %d", ErrMalformedNode, len(payload))
		}
		node := NewInnerNode()
		for i := 0; i < branchFactor; i++ {
			var h [32]byte
			copy(h[:], payload[i*32:(i+1)*32])
			node.SetChildHash(i, h)
		}
		node.updateHash()
		return node, nil

	case protocol.HashPrefixInnerNodeV2:
		if len(payload) != branchFactor*32+33 {
			return nil, fmt.Errorf("%w: inner v2 size %d", ErrMalformedNode, len(payload))
		}
		depth := payload[len(payload)-1]
		if depth > MaxDepth {
			return nil, fmt.Errorf("%w: inner v2 depth %d", ErrMalformedNode, depth)
		}
		var key [32]byte
		copy(key[:], payload[branchFactor*32:branchFactor*32+32])
		node := NewInnerNodeV2(depth, key)
		for i := 0; i < branchFactor; i++ {
			var h [32]byte
			copy(h[:], payload[i*32:(i+1)*32])
			node.SetChildHash(i, h)
		}
		node.updateHash()
		return node, nil

	case protocol.HashPrefixLeafNode:
		if len(payload) <= 32 {
			return nil, fmt.Errorf("%w: account state too short", ErrMalformedNode)
		}
		var key [32]byte
		copy(key[:], payload[len(payload)-32:])
		if isZeroHash(key) {
			return nil, fmt.Errorf("%w: account state has zero key", ErrMalformedNode)
		}
		return NewAccountStateLeafNode(NewItem(key, payload[:len(payload)-32]))

	case protocol.HashPrefixTransactionID:
		if len(payload) == 0 {
			return nil, fmt.Errorf("%w: empty transaction", ErrMalformedNode)
		}
		key := crypto.Sha512Half(protocol.HashPrefixTransactionID[:], payload)
		return NewTxLeafNode(NewItem(key, payload))

	case protocol.HashPrefixTxNode:
		if len(payload) <= 32 {
			return nil, fmt.Errorf("%w: transaction+meta too short", ErrMalformedNode)
		}
		var key [32]byte
		copy(key[:], payload[len(payload)-32:])
		if isZeroHash(key) {
			return nil, fmt.Errorf("%w: transaction+meta has zero key", ErrMalformedNode)
		}
		return NewTxPlusMetaLeafNode(NewItem(key, payload[:len(payload)-32]))

	default:
		return nil, fmt.Errorf("%w: unknown hash prefix %x", ErrMalformedNode, prefix)
	}
}

// isInBounds reports whether a node can legally occupy the given position.
// A leaf's key must extend the position's prefix; an inner node carrying its
// own position must sit at or below the position and share its prefix.
func isInBounds(node TreeNode, id NodeID) bool {
	switch n := node.(type) {
	case *InnerNodeV2:
		return n.depth >= id.Depth && id.HasCommonPrefix(n.NodeID())
	case *InnerNode:
		return true
	default:
		item := leafItem(node)
		if item == nil {
			return false
		}
		return NewNodeID(id.Depth, item.Key()).Equal(id)
	}
}
