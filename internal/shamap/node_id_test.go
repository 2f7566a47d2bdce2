package shamap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeIDChildAndSelect(t *testing.T) {
	root := RootNodeID()
	require.True(t, root.IsRoot())

	var key [32]byte
	key[0] = 0xA5
	key[1] = 0x3C

	id := root
	for depth, branch := range []int{0xA, 0x5, 0x3} {
		require.Equal(t, branch, id.SelectBranch(key), "depth %d", depth)
		id = id.ChildNodeID(branch)
		require.Equal(t, uint8(depth+1), id.Depth)
	}

	// The child ID's prefix is the key's prefix.
	require.True(t, NewNodeID(3, key).Equal(id))
}

func TestNodeIDMasking(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = 0xFF
	}

	id := NewNodeID(3, key)
	require.Equal(t, byte(0xFF), id.Key[0])
	require.Equal(t, byte(0xF0), id.Key[1], "nibbles below the depth are cleared")
	require.Equal(t, byte(0x00), id.Key[2])

	require.True(t, NewNodeID(3, key).Equal(NewNodeID(3, id.Key)))
}

func TestNodeIDCommonPrefix(t *testing.T) {
	var key [32]byte
	key[0] = 0x12
	key[1] = 0x34

	a := NewNodeID(2, key)
	b := NewNodeID(4, key)
	require.True(t, a.HasCommonPrefix(b))
	require.True(t, b.HasCommonPrefix(a))

	var other [32]byte
	other[0] = 0x12
	other[1] = 0x44
	c := NewNodeID(4, other)
	require.True(t, a.HasCommonPrefix(c), "prefixes agree over the shallower depth")
	require.False(t, b.HasCommonPrefix(c))

	// The root's empty prefix is common with everything.
	require.True(t, RootNodeID().HasCommonPrefix(b))
}

func TestNodeIDRawBytes(t *testing.T) {
	id := NewNodeID(5, testKey(11))
	parsed, err := NodeIDFromRawBytes(id.RawBytes())
	require.NoError(t, err)
	require.True(t, id.Equal(parsed))

	_, err = NodeIDFromRawBytes([]byte{1, 2, 3})
	require.Error(t, err)

	bad := id.RawBytes()
	bad[32] = MaxDepth + 1
	_, err = NodeIDFromRawBytes(bad)
	require.Error(t, err)
}
