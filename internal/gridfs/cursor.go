// Package gridfs implements the chunked file engine: forward-only chunk cursors,
// random-access downloads, buffered uploads and a file-handle style stream adapter.
//
// Files are split into fixed-size chunks stored in a repository.ChunkStore.
// Reads walk the chunks in index order through a Cursor; a read that needs an
// earlier chunk than the cursor has already passed discards the cursor and
// queries the store again.
package gridfs

import (
	"context"
	"fmt"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/metrics"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

// cursorState is the lifecycle of a Cursor.
type cursorState int

const (
	cursorNotStarted cursorState = iota
	cursorPositioned
	cursorExhausted
	cursorClosed
)

func (s cursorState) String() string {
	switch s {
	case cursorNotStarted:
		return "not-started"
	case cursorPositioned:
		return "positioned"
	case cursorExhausted:
		return "exhausted"
	case cursorClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Cursor is a forward-only walk over one file's chunks.
//
// A cursor starts before the first chunk. Each Advance moves it to the next
// chunk until the sequence runs out. It never moves backwards; reading an
// earlier chunk requires a new cursor.
type Cursor struct {
	fileID  any
	iter    repository.ChunkIterator
	state   cursorState
	index   int
	chunk   *domain.Chunk
	metrics *metrics.Metrics
}

// NewCursor opens a cursor over the chunks of fileID.
func NewCursor(ctx context.Context, store repository.ChunkStore, fileID any, m *metrics.Metrics) (*Cursor, error) {
	iter, err := store.Find(ctx, fileID)
	if err != nil {
		return nil, domain.StoreError("find chunks", err)
	}
	m.CursorOpened()

	return &Cursor{
		fileID:  fileID,
		iter:    iter,
		state:   cursorNotStarted,
		index:   -1,
		metrics: m,
	}, nil
}

// Advance moves to the next chunk. It returns false once the chunks are exhausted.
// Chunk numbers must be contiguous from 0; a gap fails with domain.ErrChunkMissing.
func (c *Cursor) Advance(ctx context.Context) (bool, error) {
	switch c.state {
	case cursorClosed:
		return false, domain.NewDomainError(domain.ErrCursorState, "advance on closed cursor", "")
	case cursorExhausted:
		return false, nil
	}

	if !c.iter.Next(ctx) {
		c.state = cursorExhausted
		c.chunk = nil
		if err := c.iter.Err(); err != nil {
			return false, domain.StoreError("next chunk", err)
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return false, nil
	}

	chunk := c.iter.Chunk()
	if chunk.N != c.index+1 {
		c.state = cursorExhausted
		c.chunk = nil
		return false, domain.NewDomainError(domain.ErrChunkMissing,
			fmt.Sprintf("expected chunk %d, found %d", c.index+1, chunk.N),
			domain.MustFileKey(c.fileID))
	}

	c.index = chunk.N
	c.chunk = chunk
	c.state = cursorPositioned
	c.metrics.ChunkRead()
	return true, nil
}

// CurrentIndex returns the index of the current chunk, or the last chunk
// reached once exhausted. It is -1 before the first Advance.
func (c *Cursor) CurrentIndex() int {
	return c.index
}

// CurrentChunk returns the chunk the cursor is positioned on.
func (c *Cursor) CurrentChunk() (*domain.Chunk, error) {
	if c.state != cursorPositioned {
		return nil, domain.NewDomainError(domain.ErrCursorState, "cursor is "+c.state.String(), "")
	}
	return c.chunk, nil
}

// IsPositionedAtOrAfter reports whether the cursor sits on chunk index or later.
func (c *Cursor) IsPositionedAtOrAfter(index int) bool {
	return c.state == cursorPositioned && c.index >= index
}

// Exhausted reports whether the cursor can no longer produce chunks.
func (c *Cursor) Exhausted() bool {
	return c.state == cursorExhausted || c.state == cursorClosed
}

// Close releases the underlying iterator. Closing twice is a no-op.
func (c *Cursor) Close(ctx context.Context) error {
	if c.state == cursorClosed {
		return nil
	}
	c.state = cursorClosed
	c.chunk = nil
	if err := c.iter.Close(ctx); err != nil {
		return domain.StoreError("close cursor", err)
	}
	return nil
}
