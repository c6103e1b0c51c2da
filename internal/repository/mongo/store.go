// Package mongo provides the MongoDB chunk store.
// Files and chunks use the standard GridFS collections and field names,
// so data written here can be read by any GridFS-aware tool.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

// fileDocument is the BSON shape of "<bucket>.files" entries.
type fileDocument struct {
	ID          any               `bson:"_id"`
	Length      int64             `bson:"length"`
	ChunkSize   int32             `bson:"chunkSize"`
	UploadDate  time.Time         `bson:"uploadDate"`
	MD5         string            `bson:"md5,omitempty"`
	Filename    string            `bson:"filename,omitempty"`
	ContentType string            `bson:"contentType,omitempty"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
}

// chunkDocument is the BSON shape of "<bucket>.chunks" entries.
type chunkDocument struct {
	ID      primitive.ObjectID `bson:"_id"`
	FilesID any                `bson:"files_id"`
	N       int32              `bson:"n"`
	Data    []byte             `bson:"data"`
}

// Connect opens a client and verifies the primary is reachable.
func Connect(ctx context.Context, uri string, timeout time.Duration, logger zerolog.Logger) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri).SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info().Msg("connected to MongoDB")
	return client, nil
}

// ChunkStore implements repository.ChunkStore on MongoDB.
type ChunkStore struct {
	files  *mongo.Collection
	chunks *mongo.Collection
	client *mongo.Client
	logger zerolog.Logger
}

// NewChunkStore creates a chunk store over "<bucket>.files" and "<bucket>.chunks"
// and makes sure the GridFS indexes exist.
func NewChunkStore(ctx context.Context, db *mongo.Database, bucket string, logger zerolog.Logger) (*ChunkStore, error) {
	s := &ChunkStore{
		files:  db.Collection(domain.FilesCollection(bucket)),
		chunks: db.Collection(domain.ChunksCollection(bucket)),
		client: db.Client(),
		logger: logger.With().Str("component", "mongo_chunk_store").Str("bucket", bucket).Logger(),
	}

	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the unique chunk index and the filename index.
func (s *ChunkStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.chunks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "files_id", Value: 1}, {Key: "n", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return domain.StoreError("create chunks index", err)
	}

	_, err = s.files.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "filename", Value: 1}, {Key: "uploadDate", Value: 1}},
	})
	if err != nil {
		return domain.StoreError("create files index", err)
	}
	return nil
}

// NewFileID returns a fresh ObjectID, the native GridFS id type.
func (s *ChunkStore) NewFileID() any {
	return primitive.NewObjectID()
}

// Find returns the driver cursor over the file's chunks sorted by n.
func (s *ChunkStore) Find(ctx context.Context, fileID any) (repository.ChunkIterator, error) {
	if fileID == nil {
		return nil, domain.NewDomainError(domain.ErrInvalidFileID, "file id is nil", "")
	}

	cursor, err := s.chunks.Find(ctx,
		bson.D{{Key: "files_id", Value: fileID}},
		options.Find().SetSort(bson.D{{Key: "n", Value: 1}}),
	)
	if err != nil {
		return nil, domain.StoreError("find chunks", err)
	}
	return &chunkIterator{cursor: cursor, fileID: fileID}, nil
}

// InsertChunk stores a single chunk.
func (s *ChunkStore) InsertChunk(ctx context.Context, chunk *domain.Chunk) error {
	_, err := s.chunks.InsertOne(ctx, chunkDocument{
		ID:      primitive.NewObjectID(),
		FilesID: chunk.FileID,
		N:       int32(chunk.N),
		Data:    chunk.Data,
	})
	if err != nil {
		return domain.StoreError("insert chunk", err)
	}
	return nil
}

// DeleteChunks removes every chunk belonging to the file.
func (s *ChunkStore) DeleteChunks(ctx context.Context, fileID any) error {
	res, err := s.chunks.DeleteMany(ctx, bson.D{{Key: "files_id", Value: fileID}})
	if err != nil {
		return domain.StoreError("delete chunks", err)
	}
	s.logger.Debug().Interface("file_id", fileID).Int64("chunks", res.DeletedCount).Msg("deleted chunks")
	return nil
}

// FindDocument retrieves a file document.
func (s *ChunkStore) FindDocument(ctx context.Context, id any) (*domain.FileDocument, error) {
	var stored fileDocument
	err := s.files.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&stored)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrFileNotFound
		}
		return nil, domain.StoreError("find document", err)
	}

	return &domain.FileDocument{
		ID:          id,
		Length:      stored.Length,
		ChunkSize:   int(stored.ChunkSize),
		Filename:    stored.Filename,
		ContentType: stored.ContentType,
		MD5:         stored.MD5,
		UploadDate:  stored.UploadDate,
		Metadata:    stored.Metadata,
	}, nil
}

// InsertDocument stores a finalized file document.
func (s *ChunkStore) InsertDocument(ctx context.Context, doc *domain.FileDocument) error {
	_, err := s.files.InsertOne(ctx, fileDocument{
		ID:          doc.ID,
		Length:      doc.Length,
		ChunkSize:   int32(doc.ChunkSize),
		UploadDate:  doc.UploadDate,
		MD5:         doc.MD5,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		Metadata:    doc.Metadata,
	})
	if err != nil {
		return domain.StoreError("insert document", err)
	}
	return nil
}

// DeleteDocument removes a file document.
func (s *ChunkStore) DeleteDocument(ctx context.Context, id any) error {
	if _, err := s.files.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return domain.StoreError("delete document", err)
	}
	return nil
}

// ListOrphans returns ids of files with chunks written before olderThan and no document.
// Chunk age comes from the timestamp embedded in the chunk ObjectID.
func (s *ChunkStore) ListOrphans(ctx context.Context, olderThan time.Time, limit int) ([]any, error) {
	if limit <= 0 {
		limit = 1000
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "_id", Value: bson.D{
			{Key: "$lt", Value: primitive.NewObjectIDFromTimestamp(olderThan)},
		}}}}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$files_id"}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: s.files.Name()},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "file"},
		}}},
		{{Key: "$match", Value: bson.D{{Key: "file", Value: bson.D{{Key: "$size", Value: 0}}}}}},
		{{Key: "$limit", Value: limit}},
	}

	cursor, err := s.chunks.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, domain.StoreError("list orphans", err)
	}
	defer cursor.Close(ctx)

	var orphans []any
	for cursor.Next(ctx) {
		var row struct {
			ID any `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, domain.StoreError("decode orphan", err)
		}
		orphans = append(orphans, row.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, domain.StoreError("list orphans", err)
	}
	return orphans, nil
}

// Ping checks connectivity to the primary.
func (s *ChunkStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client.
func (s *ChunkStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// chunkIterator adapts a forward-only *mongo.Cursor.
type chunkIterator struct {
	cursor  *mongo.Cursor
	fileID  any
	current *domain.Chunk
	err     error
	done    bool
}

func (it *chunkIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	if !it.cursor.Next(ctx) {
		it.done = true
		it.current = nil
		if err := it.cursor.Err(); err != nil {
			it.err = domain.StoreError("iterate chunks", err)
		}
		return false
	}

	var doc chunkDocument
	if err := it.cursor.Decode(&doc); err != nil {
		it.done = true
		it.current = nil
		it.err = domain.StoreError("decode chunk", err)
		return false
	}

	it.current = domain.NewChunk(it.fileID, int(doc.N), doc.Data)
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
	return it.cursor.Close(ctx)
}

// Ensure ChunkStore implements the store interfaces.
var (
	_ repository.ChunkStore   = (*ChunkStore)(nil)
	_ repository.IDGenerator  = (*ChunkStore)(nil)
	_ repository.OrphanLister = (*ChunkStore)(nil)
	_ repository.Pinger       = (*ChunkStore)(nil)
	_ repository.Closer       = (*ChunkStore)(nil)
)
