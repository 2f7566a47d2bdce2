package nodestore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"

	"github.com/LeJamon/go-shamap/internal/storage/nodestore/compression"
)

// Record layout: type(4) + ledgerSeq(4) + originalLen(4) + compressed(1) +
// payload.
const recordHeaderSize = 4 + 4 + 4 + 1

// minCompressionSize skips compression for records too small to gain.
const minCompressionSize = 128

// PebbleBackend implements a persistent Backend on PebbleDB.
type PebbleBackend struct {
	db         *pebble.DB
	compressor compression.Compressor
	config     *Config

	open atomic.Bool

	stats struct {
		reads        atomic.Int64
		writes       atomic.Int64
		bytesRead    atomic.Int64
		bytesWritten atomic.Int64
	}
}

// NewPebbleBackend creates a new PebbleDB backend.
func NewPebbleBackend(config *Config) (Backend, error) {
	if config == nil {
		config = DefaultConfig()
	}

	compressor, err := compression.Get(config.Compressor)
	if err != nil {
		return nil, fmt.Errorf("failed to get compressor %s: %w", config.Compressor, err)
	}

	return &PebbleBackend{
		compressor: compressor,
		config:     config,
	}, nil
}

// Name returns the name of this backend.
func (p *PebbleBackend) Name() string {
	return fmt.Sprintf("pebble(%s)", p.config.Path)
}

// Open opens the backend for use.
func (p *PebbleBackend) Open(createIfMissing bool) error {
	if !p.open.CompareAndSwap(false, true) {
		return fmt.Errorf("backend already open")
	}

	if createIfMissing {
		if err := os.MkdirAll(p.config.Path, 0o755); err != nil {
			p.open.Store(false)
			return fmt.Errorf("failed to create directory %s: %w", p.config.Path, err)
		}
	}

	opts := &pebble.Options{
		// Content-addressed keys are uniformly random, so bloom filters
		// pay for themselves on point lookups and range features go
		// unused.
		Levels: []pebble.LevelOptions{{
			FilterPolicy: bloom.FilterPolicy(10),
		}},
	}

	db, err := pebble.Open(p.config.Path, opts)
	if err != nil {
		p.open.Store(false)
		return fmt.Errorf("failed to open pebble at %s: %w", p.config.Path, err)
	}
	p.db = db
	return nil
}

// Close flushes and closes the database.
func (p *PebbleBackend) Close() error {
	if !p.open.CompareAndSwap(true, false) {
		return nil
	}
	if err := p.db.Flush(); err != nil {
		p.db.Close()
		return err
	}
	return p.db.Close()
}

// encodeRecord serializes a record, compressing the payload when worth it.
func (p *PebbleBackend) encodeRecord(node *Node) ([]byte, error) {
	payload := node.Data
	compressed := byte(0)

	if len(node.Data) >= minCompressionSize {
		c, err := p.compressor.Compress(node.Data)
		if err != nil {
			return nil, err
		}
		if c != nil && len(c) < len(node.Data) {
			payload = c
			compressed = 1
		}
	}

	out := make([]byte, recordHeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(node.Type))
	binary.BigEndian.PutUint32(out[4:8], node.LedgerSeq)
	binary.BigEndian.PutUint32(out[8:12], uint32(len(node.Data)))
	out[12] = compressed
	copy(out[recordHeaderSize:], payload)
	return out, nil
}

// decodeRecord rebuilds a record from its stored form.
func (p *PebbleBackend) decodeRecord(hash Hash256, value []byte) (*Node, error) {
	if len(value) < recordHeaderSize {
		return nil, ErrDataCorrupt
	}

	node := &Node{
		Type:      NodeType(binary.BigEndian.Uint32(value[0:4])),
		Hash:      hash,
		LedgerSeq: binary.BigEndian.Uint32(value[4:8]),
	}
	originalLen := int(binary.BigEndian.Uint32(value[8:12]))
	payload := value[recordHeaderSize:]

	if value[12] == 1 {
		data, err := p.compressor.Decompress(payload, originalLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataCorrupt, err)
		}
		node.Data = data
	} else {
		node.Data = make(Blob, len(payload))
		copy(node.Data, payload)
	}

	if len(node.Data) != originalLen {
		return nil, ErrDataCorrupt
	}
	return node, nil
}

// Fetch retrieves a single record by key.
func (p *PebbleBackend) Fetch(key Hash256) (*Node, Status) {
	if !p.open.Load() {
		return nil, BackendError
	}

	value, closer, err := p.db.Get(key[:])
	if err == pebble.ErrNotFound {
		return nil, NotFound
	}
	if err != nil {
		return nil, BackendError
	}
	defer closer.Close()

	node, derr := p.decodeRecord(key, value)
	if derr != nil {
		return nil, DataCorrupt
	}

	p.stats.reads.Add(1)
	p.stats.bytesRead.Add(int64(len(value)))
	return node, OK
}

// FetchBatch retrieves multiple records; missing entries are nil.
func (p *PebbleBackend) FetchBatch(keys []Hash256) ([]*Node, Status) {
	if !p.open.Load() {
		return nil, BackendError
	}

	results := make([]*Node, len(keys))
	for i, key := range keys {
		node, status := p.Fetch(key)
		if status == OK {
			results[i] = node
		} else if status != NotFound {
			return nil, status
		}
	}
	return results, OK
}

// Store saves a single record.
func (p *PebbleBackend) Store(node *Node) Status {
	if node == nil || !p.open.Load() {
		return BackendError
	}

	value, err := p.encodeRecord(node)
	if err != nil {
		return BackendError
	}
	if err := p.db.Set(node.Hash[:], value, pebble.NoSync); err != nil {
		return BackendError
	}

	p.stats.writes.Add(1)
	p.stats.bytesWritten.Add(int64(len(value)))
	return OK
}

// StoreBatch saves multiple records in one batch.
func (p *PebbleBackend) StoreBatch(nodes []*Node) Status {
	if !p.open.Load() {
		return BackendError
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	var totalBytes int64
	for _, node := range nodes {
		if node == nil {
			continue
		}
		value, err := p.encodeRecord(node)
		if err != nil {
			return BackendError
		}
		if err := batch.Set(node.Hash[:], value, nil); err != nil {
			return BackendError
		}
		totalBytes += int64(len(value))
	}

	if err := batch.Commit(pebble.NoSync); err != nil {
		return BackendError
	}

	p.stats.writes.Add(int64(len(nodes)))
	p.stats.bytesWritten.Add(totalBytes)
	return OK
}

// Sync forces pending writes to disk.
func (p *PebbleBackend) Sync() Status {
	if !p.open.Load() {
		return BackendError
	}
	if err := p.db.Flush(); err != nil {
		return BackendError
	}
	return OK
}

// ForEach iterates over all records.
func (p *PebbleBackend) ForEach(fn func(*Node) error) error {
	if !p.open.Load() {
		return ErrBackendClosed
	}

	iter, err := p.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var hash Hash256
		if len(iter.Key()) != len(hash) {
			return ErrDataCorrupt
		}
		copy(hash[:], iter.Key())

		node, derr := p.decodeRecord(hash, iter.Value())
		if derr != nil {
			return derr
		}
		if err := fn(node); err != nil {
			return err
		}
	}
	return iter.Error()
}

func init() {
	RegisterBackend("pebble", NewPebbleBackend)
}
