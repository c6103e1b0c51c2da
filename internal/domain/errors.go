// Package domain contains the core entities of the chunked file store.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent rule violations and lifecycle misuse.
// Infrastructure failures are wrapped with ErrStore so callers can tell them apart.

var (
	// ===========================================
	// File Errors
	// ===========================================

	// ErrFileNotFound indicates the requested file document does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrFileExists indicates a file document with the id already exists.
	ErrFileExists = errors.New("file already exists")

	// ErrInvalidFileID indicates the file id cannot be stored by the backend.
	ErrInvalidFileID = errors.New("invalid file id")

	// ErrInvalidChunkSize indicates a chunk size outside (0, MaxChunkSize].
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrChunkMissing indicates the stored chunk sequence has a gap or ends early.
	ErrChunkMissing = errors.New("chunk missing")

	// ErrInvalidBucketName indicates the bucket name cannot be used as a collection prefix.
	ErrInvalidBucketName = errors.New("bucket name must be 1-64 characters of letters, digits, '_', '-' or '.'")

	// ===========================================
	// Read Errors
	// ===========================================

	// ErrCursorState indicates a cursor was used outside its advance/exhaustion lifecycle.
	ErrCursorState = errors.New("cursor is not positioned on a chunk")

	// ErrInvalidRange indicates a range read outside the stored length.
	ErrInvalidRange = errors.New("range not satisfiable")

	// ===========================================
	// Write Errors
	// ===========================================

	// ErrAlreadyCompleted indicates the upload has already been finalized.
	ErrAlreadyCompleted = errors.New("upload is already completed")

	// ErrUploadCancelled indicates the upload has been cancelled.
	ErrUploadCancelled = errors.New("upload has been cancelled")

	// ErrInvalidMode indicates a stream operation that the open mode does not allow.
	ErrInvalidMode = errors.New("operation not allowed in stream mode")

	// ===========================================
	// Infrastructure Errors
	// ===========================================

	// ErrIO indicates a failure of a caller-supplied reader or writer.
	ErrIO = errors.New("i/o error")

	// ErrStore indicates a failure reported by the chunk store.
	ErrStore = errors.New("store error")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., a file key).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// StoreError marks err as a chunk store failure while keeping it inspectable.
// Domain errors pass through untouched so errors.Is keeps matching them.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStore) || errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrInvalidFileID) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

// IOError marks err as a failure of a caller-supplied reader or writer.
func IOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
