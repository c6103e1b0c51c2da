// Package repository defines data access interfaces for the chunked file store.
// These interfaces abstract the persistence of file documents and their chunks,
// allowing different backends (MongoDB, PostgreSQL, SQLite, S3, in-memory for
// testing) while keeping the read/write engine independent of any of them.
package repository

import (
	"context"
	"time"

	"github.com/prn-tf/gridfs-storage/internal/domain"
)

// =============================================================================
// Chunk Store
// =============================================================================

// ChunkStore persists file documents and their chunks.
//
// Two logical collections back every store: "<bucket>.files" holds one
// document per file and "<bucket>.chunks" holds one entry per chunk.
// Failures are reported wrapped in domain.ErrStore.
type ChunkStore interface {
	// Find returns a fresh forward-only sequence of the file's chunks,
	// ordered by chunk index ascending. The sequence cannot be rewound;
	// callers needing an earlier chunk must call Find again.
	Find(ctx context.Context, fileID any) (ChunkIterator, error)

	// InsertChunk stores a single chunk.
	InsertChunk(ctx context.Context, chunk *domain.Chunk) error

	// DeleteChunks removes every chunk belonging to the file.
	DeleteChunks(ctx context.Context, fileID any) error

	// FindDocument retrieves a file document.
	// Returns domain.ErrFileNotFound if it does not exist.
	FindDocument(ctx context.Context, id any) (*domain.FileDocument, error)

	// InsertDocument stores a finalized file document.
	InsertDocument(ctx context.Context, doc *domain.FileDocument) error

	// DeleteDocument removes a file document. Deleting a missing document is not an error.
	DeleteDocument(ctx context.Context, id any) error
}

// ChunkIterator is a forward-only sequence of chunks.
//
//	it, err := store.Find(ctx, id)
//	defer it.Close(ctx)
//	for it.Next(ctx) {
//		chunk := it.Chunk()
//	}
//	err = it.Err()
type ChunkIterator interface {
	// Next advances to the next chunk. It returns false when the sequence is
	// exhausted or an error occurred; Err distinguishes the two.
	Next(ctx context.Context) bool

	// Chunk returns the chunk the iterator is positioned on.
	Chunk() *domain.Chunk

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases the resources held by the iterator.
	Close(ctx context.Context) error
}

// =============================================================================
// Optional Capabilities
// =============================================================================

// IDGenerator is implemented by stores with a native id type (e.g. ObjectID).
type IDGenerator interface {
	// NewFileID returns a fresh unique file id.
	NewFileID() any
}

// OrphanLister is implemented by stores that can find chunks without a document.
// Those are left behind by uploads that crashed before completing or cancelling.
type OrphanLister interface {
	// ListOrphans returns the ids of files that have chunks but no document,
	// considering only chunks written before olderThan.
	ListOrphans(ctx context.Context, olderThan time.Time, limit int) ([]any, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	// Ping checks connectivity to the backing service.
	Ping(ctx context.Context) error
}

// Closer is implemented by stores that own connections.
type Closer interface {
	Close(ctx context.Context) error
}

// =============================================================================
// Slice Iterator
// =============================================================================

// SliceIterator is a ChunkIterator over chunks already loaded in memory.
// Backends that materialize a snapshot (in-memory, tests) return it from Find.
type SliceIterator struct {
	chunks []*domain.Chunk
	pos    int
	closed bool
}

// NewSliceIterator creates an iterator over chunks, which must already be sorted by N.
func NewSliceIterator(chunks []*domain.Chunk) *SliceIterator {
	return &SliceIterator{chunks: chunks, pos: -1}
}

// Next advances to the next chunk.
func (it *SliceIterator) Next(ctx context.Context) bool {
	if it.closed || ctx.Err() != nil {
		return false
	}
	if it.pos+1 >= len(it.chunks) {
		it.pos = len(it.chunks)
		return false
	}
	it.pos++
	return true
}

// Chunk returns the current chunk, or nil when not positioned.
func (it *SliceIterator) Chunk() *domain.Chunk {
	if it.pos < 0 || it.pos >= len(it.chunks) {
		return nil
	}
	return it.chunks[it.pos]
}

// Err always returns nil; in-memory iteration cannot fail.
func (it *SliceIterator) Err() error {
	return nil
}

// Close marks the iterator closed.
func (it *SliceIterator) Close(ctx context.Context) error {
	it.closed = true
	return nil
}

// Ensure SliceIterator implements ChunkIterator.
var _ ChunkIterator = (*SliceIterator)(nil)
