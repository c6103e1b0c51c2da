// Package service provides the file operations exposed by the server and CLI.
package service

import "errors"

// Common service errors.
var (
	// ErrFileLocked indicates another writer holds the file's write lock.
	ErrFileLocked = errors.New("file is locked by another writer")

	// ErrInvalidRangeHeader indicates a Range header that cannot be parsed.
	ErrInvalidRangeHeader = errors.New("invalid range header")

	// ErrGCUnsupported indicates the store cannot list orphaned chunks.
	ErrGCUnsupported = errors.New("store does not support orphan listing")
)
