package nodestore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Database wraps a Backend with a positive cache, a negative cache, and a
// pool of background readers. Synchronization traversals queue prefetches
// through QueueRead and later block on WaitReads; everything a worker reads
// lands in the caches, so the retry fetch after the barrier is cheap.
type Database struct {
	backend  Backend
	cache    *Cache
	negative *NegativeCache

	readThreads int
	readBundle  int

	readMu   sync.Mutex
	readCond *sync.Cond
	inFlight map[Hash256]struct{}
	pending  int
	readCh   chan Hash256
	workers  sync.WaitGroup
	closed   atomic.Bool

	stats struct {
		reads       atomic.Uint64
		cacheHits   atomic.Uint64
		cacheMisses atomic.Uint64
		negHits     atomic.Uint64
		writes      atomic.Uint64
		readBytes   atomic.Uint64
		writeBytes  atomic.Uint64
		asyncReads  atomic.Uint64
	}
}

// NewDatabase creates a Database over an opened backend.
func NewDatabase(backend Backend, config *Config) *Database {
	if config == nil {
		config = DefaultConfig()
	}

	d := &Database{
		backend:     backend,
		cache:       NewCache(config.CacheSize, config.CacheTTL),
		negative:    NewNegativeCache(config.NegativeCacheTTL, config.NegativeCacheSize),
		readThreads: config.ReadThreads,
		readBundle:  config.ReadBundle,
		inFlight:    make(map[Hash256]struct{}),
		readCh:      make(chan Hash256, 4096),
	}
	d.readCond = sync.NewCond(&d.readMu)

	for i := 0; i < d.readThreads; i++ {
		d.workers.Add(1)
		go d.readWorker()
	}
	return d
}

// Open creates and opens a Database from configuration.
func Open(config *Config) (*Database, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	backend, err := CreateBackend(config.Backend, config)
	if err != nil {
		return nil, err
	}
	if err := backend.Open(config.CreateIfMissing); err != nil {
		return nil, err
	}
	return NewDatabase(backend, config), nil
}

// Backend returns the underlying backend.
func (d *Database) Backend() Backend {
	return d.backend
}

// Store persists a record and primes the caches.
func (d *Database) Store(ctx context.Context, node *Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed.Load() {
		return ErrShutdown
	}

	if status := d.backend.Store(node); status != OK {
		return fmt.Errorf("store failed: %s", status)
	}

	d.stats.writes.Add(1)
	d.stats.writeBytes.Add(uint64(len(node.Data)))
	d.cache.Put(node)
	d.negative.Invalidate(node.Hash)
	return nil
}

// StoreBatch persists multiple records in one backend batch.
func (d *Database) StoreBatch(ctx context.Context, nodes []*Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed.Load() {
		return ErrShutdown
	}

	if status := d.backend.StoreBatch(nodes); status != OK {
		return fmt.Errorf("store batch failed: %s", status)
	}

	var totalBytes uint64
	for _, node := range nodes {
		if node == nil {
			continue
		}
		totalBytes += uint64(len(node.Data))
		d.cache.Put(node)
		d.negative.Invalidate(node.Hash)
	}
	d.stats.writes.Add(uint64(len(nodes)))
	d.stats.writeBytes.Add(totalBytes)
	return nil
}

// Fetch retrieves a record, consulting the caches first.
// Returns nil, nil when the record does not exist.
func (d *Database) Fetch(ctx context.Context, hash Hash256) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.stats.reads.Add(1)

	if node, found := d.cache.Get(hash); found {
		d.stats.cacheHits.Add(1)
		return node, nil
	}
	d.stats.cacheMisses.Add(1)

	if d.negative.IsMissing(hash) {
		d.stats.negHits.Add(1)
		return nil, nil
	}

	node, status := d.backend.Fetch(hash)
	switch status {
	case OK:
		d.stats.readBytes.Add(uint64(len(node.Data)))
		d.cache.Put(node)
		return node, nil
	case NotFound:
		d.negative.MarkMissing(hash)
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch failed: %s", status)
	}
}

// FetchBatch retrieves multiple records concurrently; missing entries are
// nil.
func (d *Database) FetchBatch(ctx context.Context, hashes []Hash256) ([]*Node, error) {
	results := make([]*Node, len(hashes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.readThreads)
	for i, hash := range hashes {
		g.Go(func() error {
			node, err := d.Fetch(ctx, hash)
			if err != nil {
				return err
			}
			results[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FetchCached answers from the caches only, without touching the backend.
// knownMissing is true when the negative cache vouches for the absence.
func (d *Database) FetchCached(hash Hash256) (node *Node, found bool, knownMissing bool) {
	if node, found := d.cache.Get(hash); found {
		return node, true, false
	}
	if d.negative.IsMissing(hash) {
		return nil, false, true
	}
	return nil, false, false
}

// QueueRead schedules a background read of hash. Duplicate requests for a
// hash already in flight are coalesced.
func (d *Database) QueueRead(hash Hash256) {
	if d.closed.Load() {
		return
	}

	d.readMu.Lock()
	if _, dup := d.inFlight[hash]; dup {
		d.readMu.Unlock()
		return
	}
	d.inFlight[hash] = struct{}{}
	d.pending++
	d.readMu.Unlock()

	d.stats.asyncReads.Add(1)
	d.readCh <- hash
}

// WaitReads blocks until every queued background read has completed.
func (d *Database) WaitReads() {
	d.readMu.Lock()
	for d.pending > 0 {
		d.readCond.Wait()
	}
	d.readMu.Unlock()
}

// DesiredAsyncReadCount returns how many reads are worth queueing before
// draining: a bundle per reader keeps the pool busy without unbounded
// queues.
func (d *Database) DesiredAsyncReadCount() int {
	return d.readThreads * d.readBundle
}

func (d *Database) readWorker() {
	defer d.workers.Done()
	for hash := range d.readCh {
		node, status := d.backend.Fetch(hash)
		switch status {
		case OK:
			d.stats.readBytes.Add(uint64(len(node.Data)))
			d.cache.Put(node)
		case NotFound:
			d.negative.MarkMissing(hash)
		}

		d.readMu.Lock()
		delete(d.inFlight, hash)
		d.pending--
		if d.pending == 0 {
			d.readCond.Broadcast()
		}
		d.readMu.Unlock()
	}
}

// Sweep drops expired negative cache entries.
func (d *Database) Sweep() {
	d.negative.Sweep()
}

// Stats returns performance statistics.
func (d *Database) Stats() Statistics {
	d.readMu.Lock()
	pending := d.pending
	d.readMu.Unlock()

	return Statistics{
		Reads:       d.stats.reads.Load(),
		CacheHits:   d.stats.cacheHits.Load(),
		CacheMisses: d.stats.cacheMisses.Load(),
		NegHits:     d.stats.negHits.Load(),
		Writes:      d.stats.writes.Load(),
		ReadBytes:   d.stats.readBytes.Load(),
		WriteBytes:  d.stats.writeBytes.Load(),
		CacheSize:   d.cache.Len(),
		AsyncReads:  d.stats.asyncReads.Load(),
		PendingRead: pending,
		BackendName: d.backend.Name(),
	}
}

// Close waits for the read pool and closes the backend.
func (d *Database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.WaitReads()
	close(d.readCh)
	d.workers.Wait()
	return d.backend.Close()
}
