package gridfs

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/metrics"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

// BucketConfig holds per-bucket settings.
type BucketConfig struct {
	// ChunkSize is the default chunk size of new uploads.
	// Zero means domain.DefaultChunkSize.
	ChunkSize int
}

// Bucket is the entry point for reading and writing files in one chunk store.
type Bucket struct {
	store     repository.ChunkStore
	chunkSize int
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewBucket creates a Bucket over store. m may be nil.
func NewBucket(store repository.ChunkStore, cfg BucketConfig, logger zerolog.Logger, m *metrics.Metrics) (*Bucket, error) {
	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = domain.DefaultChunkSize
	}
	if err := domain.ValidateChunkSize(chunkSize); err != nil {
		return nil, err
	}

	return &Bucket{
		store:     store,
		chunkSize: chunkSize,
		logger:    logger.With().Str("component", "gridfs").Logger(),
		metrics:   m,
	}, nil
}

// Store returns the underlying chunk store.
func (b *Bucket) Store() repository.ChunkStore {
	return b.store
}

// ChunkSize returns the default chunk size.
func (b *Bucket) ChunkSize() int {
	return b.chunkSize
}

// NewFileID generates an id in the store's native format when it has one.
func (b *Bucket) NewFileID() any {
	if gen, ok := repository.AsIDGenerator(b.store); ok {
		return gen.NewFileID()
	}
	return domain.NewFileID()
}

// NewUpload starts writing a file.
func (b *Bucket) NewUpload(opts UploadOptions) (*Upload, error) {
	chunkSize := b.chunkSize
	if opts.ChunkSize != 0 {
		if err := domain.ValidateChunkSize(opts.ChunkSize); err != nil {
			return nil, err
		}
		chunkSize = opts.ChunkSize
	}

	id := opts.ID
	if id == nil {
		id = b.NewFileID()
	}

	return newUpload(b.store, id, opts, chunkSize, b.logger, b.metrics), nil
}

// Open loads the file document and returns a Download for it.
// Returns domain.ErrFileNotFound if the file does not exist.
func (b *Bucket) Open(ctx context.Context, id any) (*Download, error) {
	d := newDownload(b.store, id, nil, b.logger, b.metrics)
	if _, err := d.Document(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// OpenDownload returns a Download that resolves the document on first use.
func (b *Bucket) OpenDownload(id any) *Download {
	return newDownload(b.store, id, nil, b.logger, b.metrics)
}

// Stat returns the file document.
func (b *Bucket) Stat(ctx context.Context, id any) (*domain.FileDocument, error) {
	doc, err := b.store.FindDocument(ctx, id)
	if err != nil {
		return nil, domain.StoreError("find document", err)
	}
	return doc, nil
}

// Delete removes the file's chunks, then its document.
// Chunks are removed even when the document is missing, in which case
// domain.ErrFileNotFound is still returned.
func (b *Bucket) Delete(ctx context.Context, id any) error {
	_, statErr := b.Stat(ctx, id)
	if statErr != nil && !errors.Is(statErr, domain.ErrFileNotFound) {
		return statErr
	}

	if err := b.store.DeleteChunks(ctx, id); err != nil {
		return domain.StoreError("delete chunks", err)
	}
	if statErr != nil {
		return statErr
	}

	if err := b.store.DeleteDocument(ctx, id); err != nil {
		return domain.StoreError("delete document", err)
	}

	b.logger.Debug().Str("file", domain.MustFileKey(id)).Msg("file deleted")
	return nil
}

// OpenStream opens a file handle. ModeRead requires the file to exist;
// ModeWrite creates a file with the given id using the bucket defaults.
func (b *Bucket) OpenStream(ctx context.Context, id any, mode Mode) (*Stream, error) {
	switch mode {
	case ModeRead:
		d, err := b.Open(ctx, id)
		if err != nil {
			return nil, err
		}
		return newReadStream(ctx, d), nil
	case ModeWrite:
		return b.OpenUploadStream(ctx, UploadOptions{ID: id})
	default:
		return nil, domain.NewDomainError(domain.ErrInvalidMode, "unknown mode", mode.String())
	}
}

// OpenUploadStream opens a write handle for a new file.
func (b *Bucket) OpenUploadStream(ctx context.Context, opts UploadOptions) (*Stream, error) {
	u, err := b.NewUpload(opts)
	if err != nil {
		return nil, err
	}
	return newWriteStream(ctx, u), nil
}

// Put stores everything r yields as one file.
// A supplied id must not exist yet. On failure the partial upload is cancelled.
func (b *Bucket) Put(ctx context.Context, opts UploadOptions, r io.Reader) (*domain.FileDocument, error) {
	if opts.ID != nil {
		_, err := b.Stat(ctx, opts.ID)
		if err == nil {
			return nil, domain.NewDomainError(domain.ErrFileExists, "", domain.MustFileKey(opts.ID))
		}
		if !errors.Is(err, domain.ErrFileNotFound) {
			return nil, err
		}
	}

	u, err := b.NewUpload(opts)
	if err != nil {
		return nil, err
	}

	if _, err := u.AddStream(ctx, r); err != nil {
		b.abort(ctx, u, err)
		return nil, err
	}

	doc, err := u.Complete(ctx)
	if err != nil {
		b.abort(ctx, u, err)
		return nil, err
	}
	return doc, nil
}

// abort cancels a failed upload, detached from cancellation of ctx.
func (b *Bucket) abort(ctx context.Context, u *Upload, cause error) {
	b.logger.Warn().Err(cause).Str("file", domain.MustFileKey(u.ID())).Msg("upload failed, cancelling")

	if err := u.cancel(context.WithoutCancel(ctx), outcomeFailed); err != nil {
		b.logger.Error().Err(err).Str("file", domain.MustFileKey(u.ID())).Msg("failed to cancel upload")
	}
}
