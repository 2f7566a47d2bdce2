package nodestore

import (
	"errors"
	"sync"
	"sync/atomic"
)

// MemoryBackend implements an in-memory Backend for testing and small
// datasets.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[Hash256]*Node

	open atomic.Bool

	stats struct {
		reads        atomic.Int64
		writes       atomic.Int64
		bytesRead    atomic.Int64
		bytesWritten atomic.Int64
	}
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[Hash256]*Node),
	}
}

// NewMemoryBackendFromConfig creates an in-memory backend from config. The
// config is ignored but required by the BackendFactory signature.
func NewMemoryBackendFromConfig(config *Config) (Backend, error) {
	return NewMemoryBackend(), nil
}

// Name returns the name of this backend.
func (m *MemoryBackend) Name() string {
	return "memory"
}

// Open opens the backend for use.
func (m *MemoryBackend) Open(createIfMissing bool) error {
	if !m.open.CompareAndSwap(false, true) {
		return errors.New("backend already open")
	}
	return nil
}

// Close closes the backend and clears all data.
func (m *MemoryBackend) Close() error {
	if !m.open.CompareAndSwap(true, false) {
		return nil
	}
	m.mu.Lock()
	m.data = make(map[Hash256]*Node)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) copyNode(node *Node) *Node {
	cp := &Node{
		Type:      node.Type,
		Hash:      node.Hash,
		Data:      make(Blob, len(node.Data)),
		LedgerSeq: node.LedgerSeq,
	}
	copy(cp.Data, node.Data)
	return cp
}

// Fetch retrieves a single record by key.
func (m *MemoryBackend) Fetch(key Hash256) (*Node, Status) {
	if !m.open.Load() {
		return nil, BackendError
	}

	m.mu.RLock()
	node, found := m.data[key]
	m.mu.RUnlock()

	if !found {
		return nil, NotFound
	}

	m.stats.reads.Add(1)
	m.stats.bytesRead.Add(int64(len(node.Data)))
	return m.copyNode(node), OK
}

// FetchBatch retrieves multiple records; missing entries are nil.
func (m *MemoryBackend) FetchBatch(keys []Hash256) ([]*Node, Status) {
	if !m.open.Load() {
		return nil, BackendError
	}

	results := make([]*Node, len(keys))

	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, key := range keys {
		if node, found := m.data[key]; found {
			results[i] = m.copyNode(node)
			m.stats.reads.Add(1)
			m.stats.bytesRead.Add(int64(len(node.Data)))
		}
	}
	return results, OK
}

// Store saves a single record.
func (m *MemoryBackend) Store(node *Node) Status {
	if node == nil || !m.open.Load() {
		return BackendError
	}

	cp := m.copyNode(node)
	m.mu.Lock()
	m.data[node.Hash] = cp
	m.mu.Unlock()

	m.stats.writes.Add(1)
	m.stats.bytesWritten.Add(int64(len(node.Data)))
	return OK
}

// StoreBatch saves multiple records.
func (m *MemoryBackend) StoreBatch(nodes []*Node) Status {
	if !m.open.Load() {
		return BackendError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var totalBytes int64
	for _, node := range nodes {
		if node == nil {
			continue
		}
		m.data[node.Hash] = m.copyNode(node)
		totalBytes += int64(len(node.Data))
	}

	m.stats.writes.Add(int64(len(nodes)))
	m.stats.bytesWritten.Add(totalBytes)
	return OK
}

// Sync is a no-op for the memory backend.
func (m *MemoryBackend) Sync() Status {
	if !m.open.Load() {
		return BackendError
	}
	return OK
}

// ForEach iterates over all records.
func (m *MemoryBackend) ForEach(fn func(*Node) error) error {
	if !m.open.Load() {
		return ErrBackendClosed
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, node := range m.data {
		if err := fn(m.copyNode(node)); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a record by its hash. Tests use this to simulate
// eviction.
func (m *MemoryBackend) Delete(hash Hash256) Status {
	if !m.open.Load() {
		return BackendError
	}
	m.mu.Lock()
	delete(m.data, hash)
	m.mu.Unlock()
	return OK
}

// Size returns the number of records stored.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func init() {
	RegisterBackend("memory", NewMemoryBackendFromConfig)
}
