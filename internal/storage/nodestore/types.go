// Package nodestore provides content-addressable persistent storage for
// tree nodes. Records are keyed by a 256-bit hash of their canonical
// serialization and the store treats the payload as opaque bytes. It offers
// positive and negative caching, compression, and an asynchronous read pool
// sized for synchronization workloads.
package nodestore

import (
	"fmt"
	"time"
)

// Hash256 is the 32-byte content hash keying every record.
type Hash256 = [32]byte

// Blob is an opaque serialized payload.
type Blob = []byte

// NodeType categorizes a stored record. The store never interprets it; it
// exists so operators can break down store contents.
type NodeType uint32

const (
	// NodeUnknown represents an unknown or invalid record type.
	NodeUnknown NodeType = 0
	// NodeInner represents an inner tree node.
	NodeInner NodeType = 1
	// NodeAccountState represents a state leaf.
	NodeAccountState NodeType = 3
	// NodeTransaction represents a transaction leaf.
	NodeTransaction NodeType = 4
)

// String returns the string representation of the NodeType.
func (nt NodeType) String() string {
	switch nt {
	case NodeUnknown:
		return "NodeUnknown"
	case NodeInner:
		return "NodeInner"
	case NodeAccountState:
		return "NodeAccountState"
	case NodeTransaction:
		return "NodeTransaction"
	default:
		return fmt.Sprintf("NodeType(%d)", uint32(nt))
	}
}

// Node is a stored record with its metadata.
type Node struct {
	Type      NodeType // Record category
	Hash      Hash256  // Content hash (serves as the key)
	Data      Blob     // Serialized payload
	LedgerSeq uint32   // Optional ledger sequence number
}

// Size returns the size of the node's data in bytes.
func (n *Node) Size() int {
	return len(n.Data)
}

// Status represents the outcome of a backend operation.
type Status int

const (
	// OK indicates the operation was successful.
	OK Status = iota
	// NotFound indicates the requested record does not exist.
	NotFound
	// DataCorrupt indicates the stored record failed to decode.
	DataCorrupt
	// BackendError indicates any other backend failure.
	BackendError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case NotFound:
		return "not found"
	case DataCorrupt:
		return "data corrupt"
	case BackendError:
		return "backend error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Backend is a raw key-value store for records. Implementations are
// internally synchronized.
type Backend interface {
	// Name identifies the backend.
	Name() string

	// Open prepares the backend for use.
	Open(createIfMissing bool) error

	// Close releases resources. Pending writes are flushed first.
	Close() error

	// Fetch retrieves a single record by key.
	Fetch(key Hash256) (*Node, Status)

	// FetchBatch retrieves multiple records; missing entries are nil.
	FetchBatch(keys []Hash256) ([]*Node, Status)

	// Store saves a single record.
	Store(node *Node) Status

	// StoreBatch saves multiple records efficiently.
	StoreBatch(nodes []*Node) Status

	// ForEach iterates over all records.
	ForEach(fn func(*Node) error) error

	// Sync forces pending writes to disk.
	Sync() Status
}

// Statistics holds performance metrics for the store.
type Statistics struct {
	Reads       uint64 // Total read operations
	CacheHits   uint64 // Positive cache hits
	CacheMisses uint64 // Positive cache misses
	NegHits     uint64 // Reads answered by the negative cache
	Writes      uint64 // Total write operations
	ReadBytes   uint64 // Total bytes read
	WriteBytes  uint64 // Total bytes written

	CacheSize   int    // Items in the positive cache
	AsyncReads  uint64 // Background reads queued since start
	PendingRead int    // Background reads currently outstanding
	BackendName string // Name of the storage backend
}

// String returns a formatted representation of the statistics.
func (s Statistics) String() string {
	hitRate := float64(0)
	if s.Reads > 0 {
		hitRate = float64(s.CacheHits) / float64(s.Reads) * 100
	}
	return fmt.Sprintf("nodestore[%s]: reads=%d (%.1f%% cached, %d negative) writes=%d cache=%d async=%d pending=%d",
		s.BackendName, s.Reads, hitRate, s.NegHits, s.Writes, s.CacheSize, s.AsyncReads, s.PendingRead)
}

// DefaultCacheTTL bounds how long a cached record stays live after it is
// inserted; reads do not extend it.
const DefaultCacheTTL = time.Hour
