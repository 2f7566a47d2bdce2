package nodestore

import "errors"

var (
	// ErrNotFound indicates that a requested record was not found.
	ErrNotFound = errors.New("node not found")

	// ErrDataCorrupt indicates that stored data failed to decode.
	ErrDataCorrupt = errors.New("data corruption detected")

	// ErrBackendClosed indicates that the backend is closed.
	ErrBackendClosed = errors.New("backend is closed")

	// ErrInvalidConfig indicates that the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrShutdown indicates that the database is shutting down.
	ErrShutdown = errors.New("database is shutting down")
)
