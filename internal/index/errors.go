package index

import "errors"

var (
	// ErrIndexNotFound is returned when no committed index exists at the index directory
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndex is returned when an index operation fails on the underlying storage
	ErrIndex = errors.New("index error")

	// ErrWriterBusy is returned when another writer holds the index
	ErrWriterBusy = errors.New("index writer busy")

	// ErrWriterClosed is returned when a closed or committed writer is used
	ErrWriterClosed = errors.New("index writer closed")
)
