package shamap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Identical maps produce an empty fetch pack; an empty peer receives every
// node exactly once (invariant 6).
func TestGetFetchPackExtremes(t *testing.T) {
	f := NewMemoryFamily()
	m := buildStateMap(t, f, 60)

	same, err := m.Snapshot(false)
	require.NoError(t, err)

	count := 0
	m.GetFetchPack(same, true, 1000, func([32]byte, []byte) { count++ })
	require.Zero(t, count, "no nodes for an identical peer")

	emitted := make(map[[32]byte]int)
	m.GetFetchPack(nil, true, 100000, func(hash [32]byte, data []byte) {
		emitted[hash]++
		// Emitted bytes are the canonical form of the node they claim.
		node, derr := DeserializeNode(data, FormatPrefix, &hash, nil)
		require.NoError(t, derr)
		require.NotNil(t, node)
	})

	all := collectHashes(m)
	require.Equal(t, len(all), len(emitted))
	for hash, n := range emitted {
		require.Equal(t, 1, n, "node emitted more than once")
		_, ok := all[hash]
		require.True(t, ok)
	}
}

// A single differing leaf yields its root path and nothing else (S6).
func TestGetFetchPackSingleLeafDiff(t *testing.T) {
	f := NewMemoryFamily()
	m1 := New(TypeState, f)
	m2 := New(TypeState, f)
	keys := fanoutKeys()
	for _, key := range keys {
		require.NoError(t, m1.Set(key, []byte{1, key[0]}))
		require.NoError(t, m2.Set(key, []byte{1, key[0]}))
	}
	// Change leaf 7 in m1 only.
	require.NoError(t, m1.Set(keys[7], []byte("changed")))

	var emitted []TreeNode
	m1.VisitDifferences(m2, func(node TreeNode) bool {
		emitted = append(emitted, node)
		return true
	})

	// Exactly the root (path to the leaf) and the changed leaf.
	require.Len(t, emitted, 2)
	require.True(t, emitted[0].IsInner())
	require.Equal(t, m1.Hash(), emitted[0].Hash())
	require.True(t, emitted[1].IsLeaf())
	require.Equal(t, []byte("changed"), leafItem(emitted[1]).Data())

	// The pack honors its budget.
	count := 0
	m1.GetFetchPack(m2, true, 1, func([32]byte, []byte) { count++ })
	require.Equal(t, 1, count)

	// Transaction-tree style packs exclude leaves.
	count = 0
	m1.GetFetchPack(m2, false, 100, func(hash [32]byte, _ []byte) {
		count++
		require.Equal(t, m1.Hash(), hash)
	})
	require.Equal(t, 1, count)
}

// Parents are always emitted before their descendants.
func TestVisitDifferencesParentFirst(t *testing.T) {
	m := buildStateMap(t, NewMemoryFamily(), 80)

	order := make(map[[32]byte]int)
	m.VisitDifferences(nil, func(node TreeNode) bool {
		order[node.Hash()] = len(order)
		return true
	})

	// Every node's parent must have been seen before it; walking again and
	// checking each inner node's children suffices.
	m.VisitNodes(func(node TreeNode, _ NodeID) bool {
		inner := asInner(node)
		if inner == nil {
			return false
		}
		pos, seen := order[node.Hash()]
		require.True(t, seen, "inner node absent from diff walk")
		for b := 0; b < branchFactor; b++ {
			if child := inner.GetChild(b); child != nil {
				childPos, childSeen := order[child.Hash()]
				require.True(t, childSeen, "child absent from diff walk")
				require.Greater(t, childPos, pos, "child emitted before its parent")
			}
		}
		return false
	})
}

func TestHasInnerAndLeafNode(t *testing.T) {
	m := New(TypeState, NewMemoryFamily())
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var key [32]byte
			key[0] = byte(i)<<4 | byte(j)
			key[31] = byte(16*i + j + 1)
			require.NoError(t, m.Set(key, []byte{byte(i), byte(j)}))
		}
	}

	root := asInner(m.rootNode())
	var innerBranch = -1
	for b := 0; b < branchFactor; b++ {
		if child := root.GetChild(b); child != nil && child.IsInner() {
			innerBranch = b
			break
		}
	}
	require.GreaterOrEqual(t, innerBranch, 0)

	childID := RootNodeID().ChildNodeID(innerBranch)
	childHash := root.ChildHash(innerBranch)
	require.True(t, m.HasInnerNode(childID, childHash))
	require.False(t, m.HasInnerNode(childID, [32]byte{1}))
	require.False(t, m.HasInnerNode(RootNodeID().ChildNodeID(15), childHash))

	var leafKey [32]byte
	leafKey[0] = 0x21
	leafKey[31] = byte(16*2 + 1 + 1)
	item, ok := m.Get(leafKey)
	require.True(t, ok)
	leaf, err := NewAccountStateLeafNode(item)
	require.NoError(t, err)
	require.True(t, m.HasLeafNode(leafKey, leaf.Hash()))
	require.False(t, m.HasLeafNode(leafKey, [32]byte{2}))
	var absent [32]byte
	absent[0] = 0xF7
	require.False(t, m.HasLeafNode(absent, leaf.Hash()))
}

// DeepCompare agrees exactly with root-hash-plus-payload equality
// (invariant 7).
func TestDeepCompare(t *testing.T) {
	f := NewMemoryFamily()
	a := buildStateMap(t, f, 40)
	b, err := a.Snapshot(true)
	require.NoError(t, err)

	require.True(t, a.DeepCompare(b))
	require.True(t, b.DeepCompare(a))

	require.NoError(t, b.Set(testKey(0), []byte("different")))
	require.False(t, a.DeepCompare(b))
}

// Cross-version fetch packs are refused.
func TestGetFetchPackCrossVersion(t *testing.T) {
	a := buildStateMap(t, NewMemoryFamily(), 5)
	b := New(TypeState, NewMemoryFamily())
	b.SetV2()

	count := 0
	a.GetFetchPack(b, true, 100, func([32]byte, []byte) { count++ })
	require.Zero(t, count)
}
