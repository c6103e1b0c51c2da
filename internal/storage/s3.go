package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

// Client is the subset of the S3 API used by the chunk store.
type Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Options configures an S3ChunkStore.
type S3Options struct {
	Client Client

	// Bucket is the S3 bucket holding every object.
	Bucket string

	// FileBucket is the GridFS bucket name used for the collection prefixes.
	FileBucket string

	// Prefix is an optional key prefix, e.g. "gridfs/".
	Prefix string
}

// ClientOptions holds connection settings for NewClient.
type ClientOptions struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewClient builds an S3 client. Static credentials are used when given,
// otherwise the default AWS credential chain applies.
func NewClient(ctx context.Context, opts ClientOptions) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// S3ChunkStore stores file documents and chunks as objects in an S3-compatible bucket.
//
// Layout:
//
//	<prefix><bucket>.files/<shard>/<shard>/<name>.json
//	<prefix><bucket>.chunks/<shard>/<shard>/<name>/<n>
type S3ChunkStore struct {
	client     Client
	bucket     string
	fileBucket string
	paths      PathConfig
	logger     zerolog.Logger
}

// NewS3ChunkStore creates a new S3ChunkStore.
func NewS3ChunkStore(opts S3Options, logger zerolog.Logger) *S3ChunkStore {
	fileBucket := opts.FileBucket
	if fileBucket == "" {
		fileBucket = domain.DefaultBucket
	}
	return &S3ChunkStore{
		client:     opts.Client,
		bucket:     opts.Bucket,
		fileBucket: fileBucket,
		paths:      DefaultPathConfig(opts.Prefix),
		logger:     logger.With().Str("component", "s3_chunk_store").Logger(),
	}
}

// s3Document is the JSON form of a file document.
type s3Document struct {
	Key string `json:"key"`
	domain.FileDocument
}

// isNotFound reports whether err is a missing-object response.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// Find returns a sequence that fetches chunks 0, 1, 2, ... until one is missing.
func (s *S3ChunkStore) Find(ctx context.Context, fileID any) (repository.ChunkIterator, error) {
	key, err := domain.FileKey(fileID)
	if err != nil {
		return nil, err
	}
	return &s3ChunkIterator{store: s, fileID: fileID, fileKey: key, next: 0}, nil
}

// InsertChunk stores a single chunk.
func (s *S3ChunkStore) InsertChunk(ctx context.Context, chunk *domain.Chunk) error {
	key, err := domain.FileKey(chunk.FileID)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(ChunkKey(s.paths, s.fileBucket, key, chunk.N)),
		Body:          bytes.NewReader(chunk.Data),
		ContentLength: aws.Int64(int64(len(chunk.Data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return domain.StoreError("insert chunk", err)
	}
	return nil
}

// DeleteChunks removes every chunk belonging to the file.
func (s *S3ChunkStore) DeleteChunks(ctx context.Context, fileID any) error {
	key, err := domain.FileKey(fileID)
	if err != nil {
		return err
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(ChunkPrefix(s.paths, s.fileBucket, key)),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return domain.StoreError("list chunks", err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return domain.StoreError("delete chunks", err)
		}
		if out != nil && len(out.Errors) > 0 {
			return domain.StoreError("delete chunks", fmt.Errorf("%d objects not deleted: %s",
				len(out.Errors), aws.ToString(out.Errors[0].Message)))
		}
		deleted += len(ids)
	}

	s.logger.Debug().Str("file_key", key).Int("chunks", deleted).Msg("deleted chunks")
	return nil
}

// FindDocument retrieves a file document.
func (s *S3ChunkStore) FindDocument(ctx context.Context, id any) (*domain.FileDocument, error) {
	key, err := domain.FileKey(id)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(DocumentKey(s.paths, s.fileBucket, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrFileNotFound
		}
		return nil, domain.StoreError("find document", err)
	}
	defer out.Body.Close()

	var stored s3Document
	if err := json.NewDecoder(out.Body).Decode(&stored); err != nil {
		return nil, domain.StoreError("decode document", err)
	}

	doc := stored.FileDocument
	doc.ID = id
	return &doc, nil
}

// InsertDocument stores a finalized file document.
func (s *S3ChunkStore) InsertDocument(ctx context.Context, doc *domain.FileDocument) error {
	key, err := domain.FileKey(doc.ID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(s3Document{Key: key, FileDocument: *doc})
	if err != nil {
		return domain.StoreError("encode document", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(DocumentKey(s.paths, s.fileBucket, key)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return domain.StoreError("insert document", err)
	}
	return nil
}

// DeleteDocument removes a file document.
func (s *S3ChunkStore) DeleteDocument(ctx context.Context, id any) error {
	key, err := domain.FileKey(id)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(DocumentKey(s.paths, s.fileBucket, key)),
	})
	if err != nil && !isNotFound(err) {
		return domain.StoreError("delete document", err)
	}
	return nil
}

// ListOrphans returns ids of files with chunks older than olderThan but no document.
func (s *S3ChunkStore) ListOrphans(ctx context.Context, olderThan time.Time, limit int) ([]any, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(ChunksRoot(s.paths, s.fileBucket)),
	})

	seen := make(map[string]bool)
	var orphans []any

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, domain.StoreError("list chunks", err)
		}

		for _, obj := range page.Contents {
			fileKey, _, err := ParseChunkKey(s.paths, s.fileBucket, aws.ToString(obj.Key))
			if err != nil {
				s.logger.Warn().Err(err).Msg("skipping unrecognized chunk object")
				continue
			}
			if seen[fileKey] {
				continue
			}
			if obj.LastModified != nil && !obj.LastModified.Before(olderThan) {
				continue
			}
			seen[fileKey] = true

			_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(DocumentKey(s.paths, s.fileBucket, fileKey)),
			})
			if err == nil {
				continue
			}
			if !isNotFound(err) {
				return nil, domain.StoreError("head document", err)
			}

			id, err := domain.ParseFileKey(fileKey)
			if err != nil {
				continue
			}
			orphans = append(orphans, id)
			if limit > 0 && len(orphans) >= limit {
				return orphans, nil
			}
		}
	}

	return orphans, nil
}

// Ping checks the bucket is reachable.
func (s *S3ChunkStore) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return domain.StoreError("head bucket", err)
	}
	return nil
}

// s3ChunkIterator fetches one chunk object per Next call.
type s3ChunkIterator struct {
	store   *S3ChunkStore
	fileID  any
	fileKey string
	next    int
	current *domain.Chunk
	err     error
	done    bool
}

func (it *s3ChunkIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	out, err := it.store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(it.store.bucket),
		Key:    aws.String(ChunkKey(it.store.paths, it.store.fileBucket, it.fileKey, it.next)),
	})
	if err != nil {
		it.done = true
		it.current = nil
		if !isNotFound(err) {
			it.err = domain.StoreError("get chunk", err)
		}
		return false
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		it.done = true
		it.current = nil
		it.err = domain.StoreError("read chunk", err)
		return false
	}

	it.current = domain.NewChunk(it.fileID, it.next, data)
	it.next++
	return true
}

func (it *s3ChunkIterator) Chunk() *domain.Chunk {
	return it.current
}

func (it *s3ChunkIterator) Err() error {
	return it.err
}

func (it *s3ChunkIterator) Close(ctx context.Context) error {
	it.done = true
	it.current = nil
	return nil
}

// Ensure S3ChunkStore implements the store interfaces.
var (
	_ repository.ChunkStore   = (*S3ChunkStore)(nil)
	_ repository.OrphanLister = (*S3ChunkStore)(nil)
	_ repository.Pinger       = (*S3ChunkStore)(nil)
)
