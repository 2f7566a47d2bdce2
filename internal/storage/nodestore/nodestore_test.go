package nodestore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testNode(i int) *Node {
	var hash Hash256
	hash[0] = byte(i)
	hash[1] = byte(i >> 8)
	hash[31] = 0xA5
	data := make(Blob, 64)
	for j := range data {
		data[j] = byte(i + j)
	}
	return &Node{
		Type:      NodeAccountState,
		Hash:      hash,
		Data:      data,
		LedgerSeq: uint32(i),
	}
}

func openMemoryDB(t *testing.T) (*Database, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Open(true))

	config := DefaultConfig()
	config.Backend = "memory"
	db := NewDatabase(backend, config)
	t.Cleanup(func() { db.Close() })
	return db, backend
}

func TestStoreFetchRoundtrip(t *testing.T) {
	db, _ := openMemoryDB(t)
	ctx := context.Background()

	node := testNode(1)
	require.NoError(t, db.Store(ctx, node))

	got, err := db.Fetch(ctx, node.Hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, node.Data, got.Data)
	require.Equal(t, node.Type, got.Type)
	require.Equal(t, node.LedgerSeq, got.LedgerSeq)

	absent, err := db.Fetch(ctx, testNode(2).Hash)
	require.NoError(t, err)
	require.Nil(t, absent)
}

func TestStoreBatchAndFetchBatch(t *testing.T) {
	db, _ := openMemoryDB(t)
	ctx := context.Background()

	nodes := make([]*Node, 50)
	hashes := make([]Hash256, 50)
	for i := range nodes {
		nodes[i] = testNode(i)
		hashes[i] = nodes[i].Hash
	}
	require.NoError(t, db.StoreBatch(ctx, nodes))

	got, err := db.FetchBatch(ctx, hashes)
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i, n := range got {
		require.NotNil(t, n, "entry %d", i)
		require.Equal(t, nodes[i].Data, n.Data)
	}

	// Missing entries come back nil.
	got, err = db.FetchBatch(ctx, []Hash256{testNode(1000).Hash})
	require.NoError(t, err)
	require.Nil(t, got[0])
}

func TestNegativeCacheAnswersRepeatedMisses(t *testing.T) {
	db, backend := openMemoryDB(t)
	ctx := context.Background()

	hash := testNode(7).Hash
	for i := 0; i < 3; i++ {
		node, err := db.Fetch(ctx, hash)
		require.NoError(t, err)
		require.Nil(t, node)
	}
	// Only the first miss reached the backend.
	require.EqualValues(t, 2, db.Stats().NegHits)
	require.Zero(t, backend.Size())

	// Storing the record clears the negative entry.
	require.NoError(t, db.Store(ctx, testNode(7)))
	node, err := db.Fetch(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, node)
}

func TestQueueReadAndWaitReads(t *testing.T) {
	db, backend := openMemoryDB(t)
	ctx := context.Background()

	stored := testNode(3)
	_ = backend.Store(stored)

	db.QueueRead(stored.Hash)
	db.QueueRead(stored.Hash) // coalesced duplicate
	db.QueueRead(testNode(4).Hash)
	db.WaitReads()

	node, found, knownMissing := db.FetchCached(stored.Hash)
	require.True(t, found)
	require.False(t, knownMissing)
	require.Equal(t, stored.Data, node.Data)

	_, found, knownMissing = db.FetchCached(testNode(4).Hash)
	require.False(t, found)
	require.True(t, knownMissing)

	require.NoError(t, ctx.Err())
}

func TestWaitReadsUnderLoad(t *testing.T) {
	db, backend := openMemoryDB(t)

	for i := 0; i < 200; i++ {
		_ = backend.Store(testNode(i))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w * 50; i < (w+1)*50; i++ {
				db.QueueRead(testNode(i).Hash)
			}
		}(w)
	}
	wg.Wait()
	db.WaitReads()

	require.Zero(t, db.Stats().PendingRead)
	for i := 0; i < 200; i++ {
		_, found, _ := db.FetchCached(testNode(i).Hash)
		require.True(t, found, "node %d not cached after drain", i)
	}
}

func TestDesiredAsyncReadCount(t *testing.T) {
	db, _ := openMemoryDB(t)
	config := DefaultConfig()
	require.Equal(t, config.ReadThreads*config.ReadBundle, db.DesiredAsyncReadCount())
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewCache(8, 50*time.Millisecond)
	node := testNode(1)
	cache.Put(node)

	got, found := cache.Get(node.Hash)
	require.True(t, found)
	require.Equal(t, node.Data, got.Data)

	time.Sleep(80 * time.Millisecond)
	_, found = cache.Get(node.Hash)
	require.False(t, found)
}

func TestNegativeCacheExpiry(t *testing.T) {
	nc := NewNegativeCache(50*time.Millisecond, 16)
	hash := testNode(1).Hash

	nc.MarkMissing(hash)
	require.True(t, nc.IsMissing(hash))

	time.Sleep(80 * time.Millisecond)
	require.False(t, nc.IsMissing(hash))

	nc.MarkMissing(hash)
	nc.Invalidate(hash)
	require.False(t, nc.IsMissing(hash))
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	bad := DefaultConfig()
	bad.Compressor = "zip"
	require.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.ReadThreads = 0
	require.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Backend = "pebble"
	bad.Path = ""
	require.Error(t, bad.Validate())
}

func TestBackendRegistry(t *testing.T) {
	names := AvailableBackends()
	require.Contains(t, names, "memory")
	require.Contains(t, names, "pebble")

	_, err := CreateBackend("no-such-backend", DefaultConfig())
	require.Error(t, err)
}

func TestPebbleRoundtrip(t *testing.T) {
	config := DefaultConfig()
	config.Path = t.TempDir()

	backend, err := NewPebbleBackend(config)
	require.NoError(t, err)
	require.NoError(t, backend.Open(true))
	defer backend.Close()

	// Large enough to trigger compression.
	node := testNode(1)
	node.Data = make(Blob, 4096)
	for i := range node.Data {
		node.Data[i] = byte(i % 7)
	}

	require.Equal(t, OK, backend.Store(node))
	got, status := backend.Fetch(node.Hash)
	require.Equal(t, OK, status)
	require.Equal(t, node.Data, got.Data)
	require.Equal(t, node.Type, got.Type)

	_, status = backend.Fetch(testNode(2).Hash)
	require.Equal(t, NotFound, status)

	count := 0
	require.NoError(t, backend.ForEach(func(n *Node) error {
		count++
		require.Equal(t, node.Hash, n.Hash)
		return nil
	}))
	require.Equal(t, 1, count)
}
