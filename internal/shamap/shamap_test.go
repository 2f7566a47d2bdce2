package shamap

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// testKey builds a key whose first nibbles spread items across the tree
// while staying deterministic. The trailing word is i+1, so no key is all
// zeros (a zero key is rejected when a state leaf is decoded).
func testKey(i int) [32]byte {
	var key [32]byte
	binary.BigEndian.PutUint32(key[:4], uint32(i)*2654435761)
	binary.BigEndian.PutUint32(key[28:], uint32(i)+1)
	return key
}

// buildStateMap creates a backed state map with n items and flushes it.
func buildStateMap(t *testing.T, f Family, n int) *SHAMap {
	t.Helper()
	sm := New(TypeState, f)
	for i := 0; i < n; i++ {
		require.NoError(t, sm.Set(testKey(i), []byte{byte(i), byte(i >> 8), 0xAB}))
	}
	_, err := sm.Flush()
	require.NoError(t, err)
	return sm
}

// fanoutKeys returns 16 keys, one per root branch.
func fanoutKeys() [][32]byte {
	keys := make([][32]byte, branchFactor)
	for i := 0; i < branchFactor; i++ {
		var key [32]byte
		key[0] = byte(i) << 4
		key[31] = byte(i + 1)
		keys[i] = key
	}
	return keys
}

// collectHashes returns the hash of every node of the map.
func collectHashes(sm *SHAMap) map[[32]byte]struct{} {
	hashes := make(map[[32]byte]struct{})
	sm.VisitNodes(func(node TreeNode, _ NodeID) bool {
		hashes[node.Hash()] = struct{}{}
		return false
	})
	return hashes
}

func TestSetGetDelete(t *testing.T) {
	sm := New(TypeState, nil)

	key := testKey(1)
	require.NoError(t, sm.Set(key, []byte("payload")))
	require.True(t, sm.Has(key))

	item, ok := sm.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), item.Data())

	require.False(t, sm.Has(testKey(2)))

	require.NoError(t, sm.Delete(key))
	require.False(t, sm.Has(key))
	require.ErrorIs(t, sm.Delete(key), ErrItemNotFound)
}

func TestHashChangesWithContent(t *testing.T) {
	a := New(TypeState, nil)
	b := New(TypeState, nil)

	require.True(t, isZeroHash(a.Hash()))

	require.NoError(t, a.Set(testKey(1), []byte("x")))
	require.NoError(t, b.Set(testKey(1), []byte("x")))
	require.Equal(t, a.Hash(), b.Hash())

	require.NoError(t, b.Set(testKey(1), []byte("y")))
	require.NotEqual(t, a.Hash(), b.Hash())
}

func TestHashIndependentOfInsertionOrder(t *testing.T) {
	a := New(TypeState, nil)
	b := New(TypeState, nil)

	for i := 0; i < 50; i++ {
		require.NoError(t, a.Set(testKey(i), []byte{byte(i)}))
	}
	for i := 49; i >= 0; i-- {
		require.NoError(t, b.Set(testKey(i), []byte{byte(i)}))
	}
	require.Equal(t, a.Hash(), b.Hash())
}

func TestDeleteRestoresHash(t *testing.T) {
	sm := New(TypeState, nil)
	for i := 0; i < 20; i++ {
		require.NoError(t, sm.Set(testKey(i), []byte{byte(i)}))
	}
	before := sm.Hash()

	extra := testKey(99)
	require.NoError(t, sm.Set(extra, []byte("tmp")))
	require.NotEqual(t, before, sm.Hash())

	require.NoError(t, sm.Delete(extra))
	require.Equal(t, before, sm.Hash())
	require.NoError(t, sm.CheckInvariants())
}

// VisitLeaves yields exactly the items of the map, each once, stably
// across calls on an unchanged map.
func TestVisitLeaves(t *testing.T) {
	sm := New(TypeState, nil)
	want := make(map[[32]byte][]byte)
	for i := 0; i < 64; i++ {
		key := testKey(i)
		data := []byte{byte(i), 0xEE}
		want[key] = data
		require.NoError(t, sm.Set(key, data))
	}

	seen := make(map[[32]byte][]byte)
	sm.VisitLeaves(func(item *Item) bool {
		_, dup := seen[item.Key()]
		require.False(t, dup, "leaf visited twice")
		seen[item.Key()] = item.Data()
		return false
	})
	require.Len(t, seen, len(want))
	for key, data := range want {
		require.Equal(t, data, seen[key])
	}

	// Same order on an unchanged map.
	var first, second [][32]byte
	sm.VisitLeaves(func(item *Item) bool {
		first = append(first, item.Key())
		return false
	})
	sm.VisitLeaves(func(item *Item) bool {
		second = append(second, item.Key())
		return false
	})
	require.Equal(t, first, second)
}

func TestVisitNodesStops(t *testing.T) {
	sm := New(TypeState, nil)
	for i := 0; i < 32; i++ {
		require.NoError(t, sm.Set(testKey(i), []byte{1}))
	}

	count := 0
	sm.VisitNodes(func(TreeNode, NodeID) bool {
		count++
		return count == 3
	})
	require.Equal(t, 3, count)
}

// Resolved children always carry the hash their parent records for them.
func TestChildHashInvariant(t *testing.T) {
	f := NewMemoryFamily()
	sm := buildStateMap(t, f, 100)
	require.NoError(t, sm.CheckInvariants())

	sm.VisitNodes(func(node TreeNode, _ NodeID) bool {
		inner := asInner(node)
		if inner == nil {
			return false
		}
		for b := 0; b < branchFactor; b++ {
			if child := inner.GetChild(b); child != nil {
				require.Equal(t, inner.ChildHash(b), child.Hash())
			}
		}
		return false
	})
}

// Installing the same hash twice yields the same shared node.
func TestCanonicalizeChildIdempotent(t *testing.T) {
	leaf, err := NewAccountStateLeafNode(NewItem(testKey(7), []byte("v")))
	require.NoError(t, err)

	parent := NewInnerNode()
	parent.SetChildHash(int(testKey(7)[0]>>4), leaf.Hash())
	parent.updateHash()
	branch := int(testKey(7)[0] >> 4)

	other, err := NewAccountStateLeafNode(NewItem(testKey(7), []byte("v")))
	require.NoError(t, err)
	require.Equal(t, leaf.Hash(), other.Hash())

	won := parent.CanonicalizeChild(branch, leaf)
	require.True(t, won == TreeNode(leaf))

	// A second install adopts the first, discarding the candidate.
	won2 := parent.CanonicalizeChild(branch, other)
	require.True(t, won2 == TreeNode(leaf))
}

func TestSnapshot(t *testing.T) {
	sm := buildStateMap(t, NewMemoryFamily(), 30)

	frozen, err := sm.Snapshot(false)
	require.NoError(t, err)
	require.Equal(t, sm.Hash(), frozen.Hash())
	require.Equal(t, StateImmutable, frozen.State())
	require.ErrorIs(t, frozen.Set(testKey(1000), []byte("no")), ErrImmutable)

	mutable, err := sm.Snapshot(true)
	require.NoError(t, err)
	require.NoError(t, mutable.Set(testKey(1000), []byte("yes")))
	require.NotEqual(t, sm.Hash(), mutable.Hash())
	// The original is untouched.
	require.Equal(t, frozen.Hash(), sm.Hash())
}

func TestStateTransitions(t *testing.T) {
	sm := New(TypeState, nil)
	require.Equal(t, StateModifying, sm.State())

	require.NoError(t, sm.SetSyncing())
	require.True(t, sm.IsSyncing())

	sm.clearSynching()
	require.Equal(t, StateValid, sm.State())

	sm.setInvalid()
	require.Equal(t, StateInvalid, sm.State())
	require.Error(t, sm.SetSyncing())
	require.Error(t, sm.SetImmutable())
}
