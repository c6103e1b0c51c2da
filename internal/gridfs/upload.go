package gridfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/metrics"
	"github.com/prn-tf/gridfs-storage/internal/pkg/crypto"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

// Upload outcomes reported to metrics.
const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
)

// UploadOptions describes a file to be written.
type UploadOptions struct {
	// ID is the file id. Left nil, a fresh id is generated.
	ID any

	Filename    string
	ContentType string

	// ChunkSize overrides the bucket's chunk size when positive.
	ChunkSize int

	Metadata map[string]string
}

type uploadState int

const (
	uploadOpen uploadState = iota
	uploadCompleted
	uploadCancelling // closed to writes, chunks not yet deleted
	uploadCancelled
)

// Upload buffers content into fixed-size chunks and persists them.
// The file document is written by Complete; until then the chunks are invisible
// to readers. An Upload is not safe for concurrent use.
type Upload struct {
	store     repository.ChunkStore
	id        any
	opts      UploadOptions
	chunkSize int
	buf       []byte
	next      int
	written   int64
	hash      *crypto.HashWriter
	state     uploadState
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func newUpload(store repository.ChunkStore, id any, opts UploadOptions, chunkSize int, logger zerolog.Logger, m *metrics.Metrics) *Upload {
	return &Upload{
		store:     store,
		id:        id,
		opts:      opts,
		chunkSize: chunkSize,
		buf:       make([]byte, 0, chunkSize),
		hash:      crypto.NewHashWriter(),
		logger:    logger,
		metrics:   m,
	}
}

// ID returns the id the file is stored under.
func (u *Upload) ID() any {
	return u.id
}

// ChunkSize returns the chunk size of the upload.
func (u *Upload) ChunkSize() int {
	return u.chunkSize
}

// BytesWritten returns the number of bytes added so far.
func (u *Upload) BytesWritten() int64 {
	return u.written
}

func (u *Upload) checkOpen() error {
	switch u.state {
	case uploadCompleted:
		return domain.NewDomainError(domain.ErrAlreadyCompleted, "", domain.MustFileKey(u.id))
	case uploadCancelling, uploadCancelled:
		return domain.NewDomainError(domain.ErrUploadCancelled, "", domain.MustFileKey(u.id))
	}
	return nil
}

// AddContent appends p, persisting every chunk that fills up.
func (u *Upload) AddContent(ctx context.Context, p []byte) error {
	if err := u.checkOpen(); err != nil {
		return err
	}

	for len(p) > 0 {
		take := min(u.chunkSize-len(u.buf), len(p))
		u.buf = append(u.buf, p[:take]...)
		u.hash.Write(p[:take])
		u.written += int64(take)
		p = p[take:]

		if len(u.buf) == u.chunkSize {
			if err := u.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddStream reads r until EOF, adding everything it yields.
// A failing reader is reported as domain.ErrIO.
func (u *Upload) AddStream(ctx context.Context, r io.Reader) (int64, error) {
	if err := u.checkOpen(); err != nil {
		return 0, err
	}

	buf := make([]byte, u.chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if err := u.AddContent(ctx, buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)
		}
		if errors.Is(readErr, io.EOF) {
			return total, nil
		}
		if readErr != nil {
			return total, domain.IOError("read source", readErr)
		}
	}
}

// Complete flushes the buffered tail and persists the file document.
func (u *Upload) Complete(ctx context.Context) (*domain.FileDocument, error) {
	if err := u.checkOpen(); err != nil {
		return nil, err
	}

	if len(u.buf) > 0 {
		if err := u.flush(ctx); err != nil {
			return nil, err
		}
	}

	doc := &domain.FileDocument{
		ID:          u.id,
		Length:      u.written,
		ChunkSize:   u.chunkSize,
		Filename:    u.opts.Filename,
		ContentType: u.opts.ContentType,
		MD5:         u.hash.MD5(),
		UploadDate:  time.Now().UTC().Truncate(time.Millisecond),
		Metadata:    u.opts.Metadata,
	}
	if err := u.store.InsertDocument(ctx, doc); err != nil {
		return nil, domain.StoreError("insert document", err)
	}

	u.state = uploadCompleted
	u.buf = nil
	u.metrics.UploadFinished(outcomeCompleted)

	u.logger.Debug().
		Str("file", domain.MustFileKey(u.id)).
		Int64("length", doc.Length).
		Int("chunks", u.next).
		Msg("upload completed")

	return doc, nil
}

// Cancel deletes every chunk written so far. The document is only written by
// Complete, so nothing else is left behind. A Cancel whose deletion failed can
// be called again; once it succeeds further calls are no-ops. Cancelling a
// completed upload fails with domain.ErrAlreadyCompleted.
func (u *Upload) Cancel(ctx context.Context) error {
	return u.cancel(ctx, outcomeCancelled)
}

// cancel records outcome once, when the upload stops accepting content.
func (u *Upload) cancel(ctx context.Context, outcome string) error {
	switch u.state {
	case uploadCompleted:
		return domain.NewDomainError(domain.ErrAlreadyCompleted, "cannot cancel", domain.MustFileKey(u.id))
	case uploadCancelled:
		return nil
	case uploadOpen:
		u.state = uploadCancelling
		u.buf = nil
		u.metrics.UploadFinished(outcome)
	}

	if err := u.store.DeleteChunks(ctx, u.id); err != nil {
		return domain.StoreError("delete chunks", err)
	}

	u.state = uploadCancelled
	u.logger.Debug().
		Str("file", domain.MustFileKey(u.id)).
		Int("chunks", u.next).
		Msg("upload cancelled")
	return nil
}

// flush persists the buffer as the next chunk.
func (u *Upload) flush(ctx context.Context) error {
	chunk := domain.NewChunk(u.id, u.next, bytes.Clone(u.buf))
	if err := u.store.InsertChunk(ctx, chunk); err != nil {
		return domain.StoreError("insert chunk", err)
	}

	u.metrics.ChunkWritten(len(chunk.Data))
	u.next++
	u.buf = u.buf[:0]
	return nil
}
