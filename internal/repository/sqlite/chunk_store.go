package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// chunkStore implements repository.ChunkStore for SQLite.
type chunkStore struct {
	db     *DB
	bucket string
	logger zerolog.Logger
}

// NewChunkStore creates a new SQLite chunk store for the given bucket.
func NewChunkStore(db *DB, bucket string, logger zerolog.Logger) repository.ChunkStore {
	return &chunkStore{
		db:     db,
		bucket: bucket,
		logger: logger.With().Str("component", "sqlite_chunk_store").Str("bucket", bucket).Logger(),
	}
}

// Find returns the file's chunks in index order.
// Each Next issues its own query so no connection is pinned between calls.
func (s *chunkStore) Find(ctx context.Context, fileID any) (repository.ChunkIterator, error) {
	key, err := domain.FileKey(fileID)
	if err != nil {
		return nil, err
	}
	return &chunkIterator{store: s, fileID: fileID, fileKey: key, last: -1}, nil
}

// InsertChunk stores a single chunk.
func (s *chunkStore) InsertChunk(ctx context.Context, chunk *domain.Chunk) error {
	key, err := domain.FileKey(chunk.FileID)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO gridfs_chunks (bucket, files_id, n, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, s.bucket, key, chunk.N, chunk.Data, formatTime(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.StoreError("insert chunk", fmt.Errorf("duplicate chunk %d for %s", chunk.N, key))
		}
		return domain.StoreError("insert chunk", err)
	}
	return nil
}

// DeleteChunks removes every chunk belonging to the file.
func (s *chunkStore) DeleteChunks(ctx context.Context, fileID any) error {
	key, err := domain.FileKey(fileID)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM gridfs_chunks WHERE bucket = ? AND files_id = ?`,
		s.bucket, key,
	)
	if err != nil {
		return domain.StoreError("delete chunks", err)
	}

	if n, err := result.RowsAffected(); err == nil {
		s.logger.Debug().Str("file_key", key).Int64("chunks", n).Msg("deleted chunks")
	}
	return nil
}

// FindDocument retrieves a file document.
func (s *chunkStore) FindDocument(ctx context.Context, id any) (*domain.FileDocument, error) {
	key, err := domain.FileKey(id)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT length, chunk_size, filename, content_type, md5, upload_date, metadata
		FROM gridfs_files
		WHERE bucket = ? AND id = ?
	`

	doc := &domain.FileDocument{ID: id}
	var uploadDate, metadata string

	err = s.db.QueryRowContext(ctx, query, s.bucket, key).Scan(
		&doc.Length,
		&doc.ChunkSize,
		&doc.Filename,
		&doc.ContentType,
		&doc.MD5,
		&uploadDate,
		&metadata,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrFileNotFound
		}
		return nil, domain.StoreError("find document", err)
	}

	if doc.UploadDate, err = parseTime(uploadDate); err != nil {
		return nil, domain.StoreError("parse upload date", err)
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
			return nil, domain.StoreError("decode metadata", err)
		}
	}

	return doc, nil
}

// InsertDocument stores a finalized file document.
func (s *chunkStore) InsertDocument(ctx context.Context, doc *domain.FileDocument) error {
	key, err := domain.FileKey(doc.ID)
	if err != nil {
		return err
	}

	metadata := []byte("{}")
	if len(doc.Metadata) > 0 {
		if metadata, err = json.Marshal(doc.Metadata); err != nil {
			return domain.StoreError("encode metadata", err)
		}
	}

	query := `
		INSERT INTO gridfs_files (bucket, id, length, chunk_size, filename, content_type, md5, upload_date, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		s.bucket,
		key,
		doc.Length,
		doc.ChunkSize,
		doc.Filename,
		doc.ContentType,
		doc.MD5,
		formatTime(doc.UploadDate),
		string(metadata),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.StoreError("insert document", fmt.Errorf("document %s already exists", key))
		}
		return domain.StoreError("insert document", err)
	}
	return nil
}

// DeleteDocument removes a file document.
func (s *chunkStore) DeleteDocument(ctx context.Context, id any) error {
	key, err := domain.FileKey(id)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM gridfs_files WHERE bucket = ? AND id = ?`,
		s.bucket, key,
	)
	if err != nil {
		return domain.StoreError("delete document", err)
	}
	return nil
}

// ListOrphans returns ids of files whose chunks predate olderThan and have no document.
func (s *chunkStore) ListOrphans(ctx context.Context, olderThan time.Time, limit int) ([]any, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT DISTINCT c.files_id
		FROM gridfs_chunks c
		WHERE c.bucket = ?
			AND c.created_at < ?
			AND NOT EXISTS (
				SELECT 1 FROM gridfs_files f WHERE f.bucket = c.bucket AND f.id = c.files_id
			)
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, s.bucket, formatTime(olderThan), limit)
	if err != nil {
		return nil, domain.StoreError("list orphans", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, domain.StoreError("scan orphan", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("list orphans", err)
	}

	ids := make([]any, 0, len(keys))
	for _, key := range keys {
		id, err := domain.ParseFileKey(key)
		if err != nil {
			s.logger.Warn().Err(err).Str("file_key", key).Msg("skipping undecodable orphan key")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Ping checks the database connection.
func (s *chunkStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// chunkIterator pages through chunks by keyset, one row per query.
type chunkIterator struct {
	store   *chunkStore
	fileID  any
	fileKey string
	last    int
	current *domain.Chunk
	err     error
	done    bool
}

func (it *chunkIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	query := `
		SELECT n, data FROM gridfs_chunks
		WHERE bucket = ? AND files_id = ? AND n > ?
		ORDER BY n
		LIMIT 1
	`

	var (
		n    int
		data []byte
	)
	err := it.store.db.QueryRowContext(ctx, query, it.store.bucket, it.fileKey, it.last).Scan(&n, &data)
	if err != nil {
		it.done = true
		it.current = nil
		if !isNoRows(err) {
			it.err = domain.StoreError("fetch chunk", err)
		}
		return false
	}

	it.last = n
	it.current = domain.NewChunk(it.fileID, n, data)
	return true
}

func (it *chunkIterator) Chunk() *domain.Chunk {
	return it.current
}

func (it *chunkIterator) Err() error {
	return it.err
}

func (it *chunkIterator) Close(ctx context.Context) error {
	it.done = true
	it.current = nil
	return nil
}

// Ensure chunkStore implements the store interfaces.
var (
	_ repository.ChunkStore   = (*chunkStore)(nil)
	_ repository.OrphanLister = (*chunkStore)(nil)
	_ repository.Pinger       = (*chunkStore)(nil)
)
