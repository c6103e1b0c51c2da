package gridfs

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/metrics"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

// ToEnd as a Substr length reads through the end of the file.
const ToEnd int64 = math.MaxInt64

// Download is a random-access reader over one stored file.
//
// The file document is resolved lazily on first use. A Download keeps at most
// one active cursor between calls so sequential range reads continue where the
// previous one stopped. It is not safe for concurrent use.
type Download struct {
	store   repository.ChunkStore
	id      any
	doc     *domain.FileDocument
	cursor  *Cursor
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func newDownload(store repository.ChunkStore, id any, doc *domain.FileDocument, logger zerolog.Logger, m *metrics.Metrics) *Download {
	return &Download{
		store:   store,
		id:      id,
		doc:     doc,
		logger:  logger,
		metrics: m,
	}
}

// ID returns the file id.
func (d *Download) ID() any {
	return d.id
}

// Document returns the file document, loading it on first call.
// Returns domain.ErrFileNotFound if the file does not exist.
func (d *Download) Document(ctx context.Context) (*domain.FileDocument, error) {
	if d.doc != nil {
		return d.doc, nil
	}

	doc, err := d.store.FindDocument(ctx, d.id)
	if err != nil {
		return nil, domain.StoreError("find document", err)
	}
	if doc.ChunkSize <= 0 && doc.Length > 0 {
		return nil, domain.NewDomainError(domain.ErrInvalidChunkSize, "stored document has no chunk size", domain.MustFileKey(d.id))
	}

	d.doc = doc
	return doc, nil
}

// Size returns the declared content length.
func (d *Download) Size(ctx context.Context) (int64, error) {
	doc, err := d.Document(ctx)
	if err != nil {
		return 0, err
	}
	return doc.Length, nil
}

// Filename returns the stored display name.
func (d *Download) Filename(ctx context.Context) (string, error) {
	doc, err := d.Document(ctx)
	if err != nil {
		return "", err
	}
	return doc.Filename, nil
}

// Bytes returns the whole file content.
func (d *Download) Bytes(ctx context.Context) ([]byte, error) {
	return d.Substr(ctx, 0, ToEnd)
}

// Stream writes every chunk, in order, to w and returns the number of bytes written.
// It reads through its own cursor and leaves the active one untouched.
// A failing writer is reported as domain.ErrIO.
func (d *Download) Stream(ctx context.Context, w io.Writer) (int64, error) {
	doc, err := d.Document(ctx)
	if err != nil {
		return 0, err
	}
	if doc.Length == 0 {
		return 0, nil
	}

	cur, err := NewCursor(ctx, d.store, d.id, d.metrics)
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	var written int64
	for i := 0; i < doc.NumChunks(); i++ {
		ok, err := cur.Advance(ctx)
		if err != nil {
			return written, err
		}
		if !ok {
			return written, d.missing(i)
		}

		chunk, err := cur.CurrentChunk()
		if err != nil {
			return written, err
		}
		if err := checkChunk(doc, chunk); err != nil {
			return written, err
		}

		n, err := w.Write(chunk.Data)
		written += int64(n)
		d.metrics.BytesRead(n)
		if err != nil {
			return written, domain.IOError("write chunk", err)
		}
	}

	return written, nil
}

// Substr reads length bytes starting at start.
//
// A negative start counts from the end of the file and is clamped to 0.
// A negative length reads everything except the last -length bytes.
// Lengths past the end are truncated, and ToEnd reads to the end.
// A start past the end, or a negative length that leaves nothing, fails with
// domain.ErrInvalidRange. A start equal to the size yields an empty slice.
//
// Example with content "0123456789-tail":
//
//	Substr(ctx, 8, 4)      → "89-t"
//	Substr(ctx, -4, 4)     → "tail"
//	Substr(ctx, 0, -5)     → "0123456789"
//	Substr(ctx, 11, ToEnd) → "tail"
func (d *Download) Substr(ctx context.Context, start, length int64) ([]byte, error) {
	doc, err := d.Document(ctx)
	if err != nil {
		return nil, err
	}

	size := doc.Length
	if start < 0 {
		start = max(size+start, 0)
	}
	if start > size {
		return nil, domain.NewDomainError(domain.ErrInvalidRange,
			fmt.Sprintf("start %d beyond length %d", start, size), domain.MustFileKey(d.id))
	}
	if length < 0 {
		length = size - start + length
		if length < 0 {
			return nil, domain.NewDomainError(domain.ErrInvalidRange,
				fmt.Sprintf("negative length leaves nothing after %d", start), domain.MustFileKey(d.id))
		}
	}
	length = min(length, size-start)
	if length == 0 {
		return []byte{}, nil
	}

	first := domain.ChunkIndexForOffset(start, doc.ChunkSize)
	cur, err := d.cursorFor(ctx, first)
	if err != nil {
		return nil, err
	}

	for !cur.IsPositionedAtOrAfter(first) {
		ok, err := cur.Advance(ctx)
		if err != nil {
			d.dropCursor(ctx)
			return nil, err
		}
		if !ok {
			d.dropCursor(ctx)
			return nil, d.missing(cur.CurrentIndex() + 1)
		}
	}

	out := make([]byte, 0, length)
	offset := domain.OffsetInChunk(start, doc.ChunkSize)
	for {
		chunk, err := cur.CurrentChunk()
		if err != nil {
			d.dropCursor(ctx)
			return nil, err
		}
		if err := checkChunk(doc, chunk); err != nil {
			d.dropCursor(ctx)
			return nil, err
		}

		data := chunk.Data[offset:]
		if need := length - int64(len(out)); int64(len(data)) > need {
			data = data[:need]
		}
		out = append(out, data...)
		offset = 0

		if int64(len(out)) == length {
			break
		}

		ok, err := cur.Advance(ctx)
		if err != nil {
			d.dropCursor(ctx)
			return nil, err
		}
		if !ok {
			d.dropCursor(ctx)
			return nil, d.missing(cur.CurrentIndex() + 1)
		}
	}

	d.metrics.BytesRead(len(out))
	return out, nil
}

// Reader returns a seekable read handle over the file.
func (d *Download) Reader(ctx context.Context) (*Stream, error) {
	if _, err := d.Document(ctx); err != nil {
		return nil, err
	}
	return newReadStream(ctx, d), nil
}

// Close releases the active cursor. The Download stays usable.
func (d *Download) Close(ctx context.Context) error {
	if d.cursor == nil {
		return nil
	}
	err := d.cursor.Close(ctx)
	d.cursor = nil
	return err
}

// cursorFor returns a cursor that can still reach chunk index first,
// replacing the active one when it is exhausted or already past it.
func (d *Download) cursorFor(ctx context.Context, first int) (*Cursor, error) {
	if d.cursor != nil {
		switch {
		case d.cursor.Exhausted():
			d.dropCursor(ctx)
		case d.cursor.CurrentIndex() > first:
			d.logger.Debug().
				Str("file", domain.MustFileKey(d.id)).
				Int("cursor_index", d.cursor.CurrentIndex()).
				Int("wanted_index", first).
				Msg("recreating cursor for backward read")
			d.metrics.CursorRecreated()
			d.dropCursor(ctx)
		default:
			return d.cursor, nil
		}
	}

	cur, err := NewCursor(ctx, d.store, d.id, d.metrics)
	if err != nil {
		return nil, err
	}
	d.cursor = cur
	return cur, nil
}

func (d *Download) dropCursor(ctx context.Context) {
	if d.cursor == nil {
		return
	}
	if err := d.cursor.Close(ctx); err != nil {
		d.logger.Warn().Err(err).Str("file", domain.MustFileKey(d.id)).Msg("failed to close cursor")
	}
	d.cursor = nil
}

func (d *Download) missing(n int) error {
	return domain.NewDomainError(domain.ErrChunkMissing, fmt.Sprintf("chunk %d not found", n), domain.MustFileKey(d.id))
}

// expectedChunkLen returns the payload length chunk n must have.
func expectedChunkLen(doc *domain.FileDocument, n int) int {
	if n < doc.NumChunks()-1 {
		return doc.ChunkSize
	}
	return int(doc.Length - int64(n)*int64(doc.ChunkSize))
}

func checkChunk(doc *domain.FileDocument, chunk *domain.Chunk) error {
	if chunk.N >= doc.NumChunks() {
		return domain.NewDomainError(domain.ErrChunkMissing,
			fmt.Sprintf("chunk %d beyond declared length %d", chunk.N, doc.Length), domain.MustFileKey(doc.ID))
	}
	if want := expectedChunkLen(doc, chunk.N); len(chunk.Data) != want {
		return domain.NewDomainError(domain.ErrChunkMissing,
			fmt.Sprintf("chunk %d has %d bytes, expected %d", chunk.N, len(chunk.Data), want), domain.MustFileKey(doc.ID))
	}
	return nil
}
