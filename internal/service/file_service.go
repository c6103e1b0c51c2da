package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/gridfs"
	"github.com/prn-tf/gridfs-storage/internal/lock"
)

// FileService handles file operations on one bucket.
// Writes to a single id are serialized through the bucket's write locks.
type FileService struct {
	bucket     *gridfs.Bucket
	bucketName string
	locker     lock.Locker
	lockTTL    time.Duration
	logger     zerolog.Logger
}

// NewFileService creates a new FileService.
func NewFileService(
	bucket *gridfs.Bucket,
	bucketName string,
	locker lock.Locker,
	lockTTL time.Duration,
	logger zerolog.Logger,
) *FileService {
	return &FileService{
		bucket:     bucket,
		bucketName: bucketName,
		locker:     locker,
		lockTTL:    lockTTL,
		logger:     logger.With().Str("service", "file").Logger(),
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// PutFileInput contains the data needed to store a file.
type PutFileInput struct {
	// ID is the file id; nil generates one.
	ID          any
	Body        io.Reader
	Filename    string
	ContentType string
	ChunkSize   int
	Metadata    map[string]string

	// Replace deletes an existing file with the same id first.
	Replace bool
}

// GetFileInput contains the data needed to read a file.
type GetFileInput struct {
	ID    any
	Range *ByteRange // Optional
}

// GetFileOutput contains the result of reading a file.
type GetFileOutput struct {
	Body     io.ReadCloser
	Document *domain.FileDocument

	// ContentLength is the number of bytes in Body.
	ContentLength int64

	// Start is the offset of the first byte of Body.
	Start int64

	// Partial is set for range reads.
	Partial bool
}

// ContentRange returns the Content-Range header value of a partial read.
func (o *GetFileOutput) ContentRange() string {
	if !o.Partial {
		return ""
	}
	return fmt.Sprintf("bytes %d-%d/%d", o.Start, o.Start+o.ContentLength-1, o.Document.Length)
}

// =============================================================================
// Operations
// =============================================================================

// PutFile stores a file.
func (s *FileService) PutFile(ctx context.Context, input PutFileInput) (*domain.FileDocument, error) {
	id := input.ID
	if id == nil {
		id = s.bucket.NewFileID()
	}

	release, err := s.lockFile(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if input.Replace {
		if err := s.bucket.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrFileNotFound) {
			return nil, err
		}
	}

	doc, err := s.bucket.Put(ctx, gridfs.UploadOptions{
		ID:          id,
		Filename:    input.Filename,
		ContentType: input.ContentType,
		ChunkSize:   input.ChunkSize,
		Metadata:    input.Metadata,
	}, input.Body)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("file", domain.MustFileKey(id)).
		Int64("length", doc.Length).
		Str("filename", doc.Filename).
		Msg("File stored")

	return doc, nil
}

// GetFile opens a file for reading, optionally restricted to a byte range.
// Ranges that select nothing fail with domain.ErrInvalidRange.
func (s *FileService) GetFile(ctx context.Context, input GetFileInput) (*GetFileOutput, error) {
	d, err := s.bucket.Open(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	doc, err := d.Document(ctx)
	if err != nil {
		return nil, err
	}

	if input.Range == nil {
		r, err := d.Reader(ctx)
		if err != nil {
			return nil, err
		}
		return &GetFileOutput{
			Body:          r,
			Document:      doc,
			ContentLength: doc.Length,
		}, nil
	}

	data, err := d.Substr(ctx, input.Range.Start, input.Range.Length)
	if closeErr := d.Close(ctx); closeErr != nil {
		s.logger.Warn().Err(closeErr).Msg("Failed to close download")
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, domain.NewDomainError(domain.ErrInvalidRange, "range selects no bytes", domain.MustFileKey(input.ID))
	}

	start := input.Range.Start
	if start < 0 {
		start = max(doc.Length+start, 0)
	}

	return &GetFileOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		Document:      doc,
		ContentLength: int64(len(data)),
		Start:         start,
		Partial:       true,
	}, nil
}

// HeadFile returns the file document.
func (s *FileService) HeadFile(ctx context.Context, id any) (*domain.FileDocument, error) {
	return s.bucket.Stat(ctx, id)
}

// DeleteFile removes a file.
func (s *FileService) DeleteFile(ctx context.Context, id any) error {
	release, err := s.lockFile(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := s.bucket.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info().Str("file", domain.MustFileKey(id)).Msg("File deleted")
	return nil
}

// lockFile takes the write lock of id and returns its release func.
// The lease is renewed while held so long uploads do not outlive it.
func (s *FileService) lockFile(ctx context.Context, id any) (func(), error) {
	key, err := domain.FileKey(id)
	if err != nil {
		return nil, err
	}

	l := lock.NewLock(s.locker, lock.Keys.FileWrite(s.bucketName, key))
	acquired, err := l.Acquire(ctx, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", ErrFileLocked, key)
	}
	l.KeepAlive(ctx, s.lockTTL)

	return func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error().Err(err).Str("lock", l.Key()).Msg("Failed to release file lock")
		}
	}, nil
}
