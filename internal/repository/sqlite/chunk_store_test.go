package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

func newTestStore(t *testing.T, bucket string) (repository.ChunkStore, *DB) {
	t.Helper()
	ctx := context.Background()

	db, err := NewDB(ctx, DefaultConfig(":memory:"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return NewChunkStore(db, bucket, zerolog.Nop()), db
}

func TestMigrate_Idempotent(t *testing.T) {
	_, db := newTestStore(t, "fs")
	require.NoError(t, db.Migrate(context.Background()))

	var version int
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT MAX(version_id) FROM goose_db_version`).Scan(&version))
	assert.Equal(t, 1, version)

	require.NoError(t, db.RunMigrations(context.Background(), MigrateDown))
	require.NoError(t, db.RunMigrations(context.Background(), MigrateUp))
}

func TestChunkStore_FindOrdersChunks(t *testing.T) {
	store, _ := newTestStore(t, "fs")
	ctx := context.Background()

	for _, n := range []int{2, 0, 1} {
		require.NoError(t, store.InsertChunk(ctx, domain.NewChunk(int64(5), n, []byte{byte('a' + n)})))
	}

	it, err := store.Find(ctx, int64(5))
	require.NoError(t, err)
	defer it.Close(ctx)

	var got []int
	for it.Next(ctx) {
		assert.Equal(t, int64(5), it.Chunk().FileID)
		assert.Equal(t, []byte{byte('a' + it.Chunk().N)}, it.Chunk().Data)
		got = append(got, it.Chunk().N)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestChunkStore_DuplicateChunk(t *testing.T) {
	store, _ := newTestStore(t, "fs")
	ctx := context.Background()

	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("f", 0, []byte("x"))))
	err := store.InsertChunk(ctx, domain.NewChunk("f", 0, []byte("y")))
	assert.ErrorIs(t, err, domain.ErrStore)
}

func TestChunkStore_Documents(t *testing.T) {
	store, _ := newTestStore(t, "fs")
	ctx := context.Background()

	_, err := store.FindDocument(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrFileNotFound)

	uploaded := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	require.NoError(t, store.InsertDocument(ctx, &domain.FileDocument{
		ID:          "report",
		Length:      15,
		ChunkSize:   10,
		Filename:    "report.txt",
		ContentType: "text/plain",
		MD5:         "abc",
		UploadDate:  uploaded,
		Metadata:    map[string]string{"k": "v"},
	}))

	doc, err := store.FindDocument(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, "report", doc.ID)
	assert.Equal(t, int64(15), doc.Length)
	assert.Equal(t, 10, doc.ChunkSize)
	assert.Equal(t, "report.txt", doc.Filename)
	assert.Equal(t, "text/plain", doc.ContentType)
	assert.True(t, uploaded.Equal(doc.UploadDate))
	assert.Equal(t, map[string]string{"k": "v"}, doc.Metadata)

	err = store.InsertDocument(ctx, &domain.FileDocument{ID: "report", ChunkSize: 10})
	assert.ErrorIs(t, err, domain.ErrStore)

	require.NoError(t, store.DeleteDocument(ctx, "report"))
	require.NoError(t, store.DeleteDocument(ctx, "report"))
	_, err = store.FindDocument(ctx, "report")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestChunkStore_BucketsAreIsolated(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, DefaultConfig(":memory:"), zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))

	photos := NewChunkStore(db, "photos", zerolog.Nop())
	docs := NewChunkStore(db, "docs", zerolog.Nop())

	require.NoError(t, photos.InsertChunk(ctx, domain.NewChunk("same", 0, []byte("photo"))))

	it, err := docs.Find(ctx, "same")
	require.NoError(t, err)
	assert.False(t, it.Next(ctx))

	require.NoError(t, docs.DeleteChunks(ctx, "same"))

	it, err = photos.Find(ctx, "same")
	require.NoError(t, err)
	require.True(t, it.Next(ctx))
	assert.Equal(t, []byte("photo"), it.Chunk().Data)
}

func TestChunkStore_ListOrphans(t *testing.T) {
	store, _ := newTestStore(t, "fs")
	ctx := context.Background()

	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk(int64(1), 0, []byte("x"))))
	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk(int64(1), 1, []byte("y"))))
	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("kept", 0, []byte("z"))))
	require.NoError(t, store.InsertDocument(ctx, &domain.FileDocument{ID: "kept", Length: 1, ChunkSize: 4}))

	lister := store.(repository.OrphanLister)

	orphans, err := lister.ListOrphans(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, orphans)

	orphans, err = lister.ListOrphans(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestChunkStore_InvalidID(t *testing.T) {
	store, _ := newTestStore(t, "fs")

	_, err := store.Find(context.Background(), map[string]int{})
	assert.ErrorIs(t, err, domain.ErrInvalidFileID)
}
