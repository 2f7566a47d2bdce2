package shamap

import (
	"encoding/hex"
	"errors"
	"fmt"

	crypto "github.com/LeJamon/go-shamap/internal/crypto/common"
	"github.com/LeJamon/go-shamap/internal/protocol"
)

var errNilItem = errors.New("leaf node requires an item")

// -----------------------------------------------------------------------------
// AccountStateLeafNode

// AccountStateLeafNode holds a state entry. Its hash covers the payload and
// the key, so entries with equal payloads under different keys hash apart.
type AccountStateLeafNode struct {
	baseNode
	item *Item
}

// NewAccountStateLeafNode creates a state leaf for the given item.
func NewAccountStateLeafNode(item *Item) (*AccountStateLeafNode, error) {
	if item == nil {
		return nil, errNilItem
	}
	n := &AccountStateLeafNode{item: item}
	n.updateHash()
	return n, nil
}

func (n *AccountStateLeafNode) IsLeaf() bool  { return true }
func (n *AccountStateLeafNode) IsInner() bool { return false }

func (n *AccountStateLeafNode) Item() *Item { return n.item }

func (n *AccountStateLeafNode) updateHash() {
	key := n.item.Key()
	n.hash = crypto.Sha512Half(protocol.HashPrefixLeafNode[:], n.item.Data(), key[:])
}

func (n *AccountStateLeafNode) Type() NodeType {
	return NodeTypeAccountState
}

func (n *AccountStateLeafNode) Invariants(isRoot bool) error {
	if n.item == nil {
		return fmt.Errorf("account state leaf has nil item")
	}
	if len(n.item.Data()) == 0 {
		return fmt.Errorf("account state leaf has empty payload")
	}
	return nil
}

func (n *AccountStateLeafNode) String(id NodeID) string {
	key := n.item.Key()
	return fmt.Sprintf("AccountStateLeafNode ID: %s Hash: %s Key: %s",
		id, hex.EncodeToString(n.hash[:]), hex.EncodeToString(key[:]))
}

// -----------------------------------------------------------------------------
// TxLeafNode (transaction without metadata)

// TxLeafNode holds a transaction whose key is the hash of its payload.
type TxLeafNode struct {
	baseNode
	item *Item
}

// NewTxLeafNode creates a transaction leaf for the given item.
func NewTxLeafNode(item *Item) (*TxLeafNode, error) {
	if item == nil {
		return nil, errNilItem
	}
	n := &TxLeafNode{item: item}
	n.updateHash()
	return n, nil
}

func (n *TxLeafNode) IsLeaf() bool  { return true }
func (n *TxLeafNode) IsInner() bool { return false }

func (n *TxLeafNode) Item() *Item { return n.item }

func (n *TxLeafNode) updateHash() {
	n.hash = crypto.Sha512Half(protocol.HashPrefixTransactionID[:], n.item.Data())
}

func (n *TxLeafNode) Type() NodeType {
	return NodeTypeTransactionNoMeta
}

func (n *TxLeafNode) Invariants(isRoot bool) error {
	if n.item == nil {
		return fmt.Errorf("tx leaf has nil item")
	}
	return nil
}

func (n *TxLeafNode) String(id NodeID) string {
	key := n.item.Key()
	return fmt.Sprintf("TxLeafNode ID: %s Hash: %s Key: %s",
		id, hex.EncodeToString(n.hash[:]), hex.EncodeToString(key[:]))
}

// -----------------------------------------------------------------------------
// TxPlusMetaLeafNode (transaction with metadata)

// TxPlusMetaLeafNode holds a transaction together with its metadata; like a
// state leaf its hash covers both the payload and the key.
type TxPlusMetaLeafNode struct {
	baseNode
	item *Item
}

// NewTxPlusMetaLeafNode creates a transaction+metadata leaf.
func NewTxPlusMetaLeafNode(item *Item) (*TxPlusMetaLeafNode, error) {
	if item == nil {
		return nil, errNilItem
	}
	n := &TxPlusMetaLeafNode{item: item}
	n.updateHash()
	return n, nil
}

func (n *TxPlusMetaLeafNode) IsLeaf() bool  { return true }
func (n *TxPlusMetaLeafNode) IsInner() bool { return false }

func (n *TxPlusMetaLeafNode) Item() *Item { return n.item }

func (n *TxPlusMetaLeafNode) updateHash() {
	key := n.item.Key()
	n.hash = crypto.Sha512Half(protocol.HashPrefixTxNode[:], n.item.Data(), key[:])
}

func (n *TxPlusMetaLeafNode) Type() NodeType {
	return NodeTypeTransactionWithMeta
}

func (n *TxPlusMetaLeafNode) Invariants(isRoot bool) error {
	if n.item == nil {
		return fmt.Errorf("tx+meta leaf has nil item")
	}
	return nil
}

func (n *TxPlusMetaLeafNode) String(id NodeID) string {
	key := n.item.Key()
	return fmt.Sprintf("TxPlusMetaLeafNode ID: %s Hash: %s Key: %s",
		id, hex.EncodeToString(n.hash[:]), hex.EncodeToString(key[:]))
}

// NewLeafNode creates a leaf of the given type for an item.
func NewLeafNode(nodeType NodeType, item *Item) (LeafNode, error) {
	switch nodeType {
	case NodeTypeAccountState:
		return NewAccountStateLeafNode(item)
	case NodeTypeTransactionNoMeta:
		return NewTxLeafNode(item)
	case NodeTypeTransactionWithMeta:
		return NewTxPlusMetaLeafNode(item)
	default:
		return nil, fmt.Errorf("cannot create leaf of type %v", nodeType)
	}
}
