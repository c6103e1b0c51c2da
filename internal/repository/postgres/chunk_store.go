package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// chunkStore implements repository.ChunkStore for PostgreSQL.
type chunkStore struct {
	db     *DB
	bucket string
	logger zerolog.Logger
}

// NewChunkStore creates a new PostgreSQL chunk store for the given bucket.
func NewChunkStore(db *DB, bucket string, logger zerolog.Logger) repository.ChunkStore {
	return &chunkStore{
		db:     db,
		bucket: bucket,
		logger: logger.With().Str("component", "postgres_chunk_store").Str("bucket", bucket).Logger(),
	}
}

// Find streams the file's chunks in index order over a single query.
func (s *chunkStore) Find(ctx context.Context, fileID any) (repository.ChunkIterator, error) {
	key, err := domain.FileKey(fileID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT n, data FROM gridfs_chunks
		WHERE bucket = $1 AND files_id = $2
		ORDER BY n
	`
	rows, err := s.db.Pool.Query(ctx, query, s.bucket, key)
	if err != nil {
		return nil, domain.StoreError("find chunks", err)
	}

	return &chunkIterator{rows: rows, fileID: fileID}, nil
}

// InsertChunk stores a single chunk.
func (s *chunkStore) InsertChunk(ctx context.Context, chunk *domain.Chunk) error {
	key, err := domain.FileKey(chunk.FileID)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO gridfs_chunks (bucket, files_id, n, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.db.Pool.Exec(ctx, query, s.bucket, key, chunk.N, chunk.Data, time.Now().UTC())
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

	tag, err := s.db.Pool.Exec(ctx,
		`DELETE FROM gridfs_chunks WHERE bucket = $1 AND files_id = $2`,
		s.bucket, key,
	)
	if err != nil {
		return domain.StoreError("delete chunks", err)
	}

	s.logger.Debug().Str("file_key", key).Int64("chunks", tag.RowsAffected()).Msg("deleted chunks")
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
		WHERE bucket = $1 AND id = $2
	`

	doc := &domain.FileDocument{ID: id}
	var metadata []byte

	err = s.db.Pool.QueryRow(ctx, query, s.bucket, key).Scan(
		&doc.Length,
		&doc.ChunkSize,
		&doc.Filename,
		&doc.ContentType,
		&doc.MD5,
		&doc.UploadDate,
		&metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrFileNotFound
		}
		return nil, domain.StoreError("find document", err)
	}

	if len(metadata) > 0 && string(metadata) != "{}" {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.Pool.Exec(ctx, query,
		s.bucket,
		key,
		doc.Length,
		doc.ChunkSize,
		doc.Filename,
		doc.ContentType,
		doc.MD5,
		doc.UploadDate.UTC(),
		metadata,
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

	_, err = s.db.Pool.Exec(ctx,
		`DELETE FROM gridfs_files WHERE bucket = $1 AND id = $2`,
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
		WHERE c.bucket = $1
			AND c.created_at < $2
			AND NOT EXISTS (
				SELECT 1 FROM gridfs_files f WHERE f.bucket = c.bucket AND f.id = c.files_id
			)
		LIMIT $3
	`
	rows, err := s.db.Pool.Query(ctx, query, s.bucket, olderThan.UTC(), limit)
	if err != nil {
		return nil, domain.StoreError("list orphans", err)
	}

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
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

// chunkIterator walks the rows of one chunk query.
type chunkIterator struct {
	rows    pgx.Rows
	fileID  any
	current *domain.Chunk
	err     error
	done    bool
}

func (it *chunkIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	if !it.rows.Next() {
		it.done = true
		it.current = nil
		if err := it.rows.Err(); err != nil {
			it.err = domain.StoreError("iterate chunks", err)
		}
		it.rows.Close()
		return false
	}

	var (
		n    int
		data []byte
	)
	if err := it.rows.Scan(&n, &data); err != nil {
		it.done = true
		it.current = nil
		it.err = domain.StoreError("scan chunk", err)
		it.rows.Close()
		return false
	}

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
	it.rows.Close()
	return nil
}

// Ensure chunkStore implements the store interfaces.
var (
	_ repository.ChunkStore   = (*chunkStore)(nil)
	_ repository.OrphanLister = (*chunkStore)(nil)
	_ repository.Pinger       = (*chunkStore)(nil)
)
