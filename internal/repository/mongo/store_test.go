package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/prn-tf/gridfs-storage/internal/domain"
)

// newTestStore connects to the MongoDB named by GRIDFS_TEST_MONGO_URI.
func newTestStore(t *testing.T) *ChunkStore {
	t.Helper()

	uri := os.Getenv("GRIDFS_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("GRIDFS_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	client, err := Connect(ctx, uri, 5*time.Second, zerolog.Nop())
	require.NoError(t, err)

	db := client.Database("gridfs_test_" + primitive.NewObjectID().Hex())
	t.Cleanup(func() {
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	store, err := NewChunkStore(ctx, db, "fs", zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestChunkStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := store.NewFileID()
	for n, payload := range []string{"0123456789", "-tail"} {
		require.NoError(t, store.InsertChunk(ctx, domain.NewChunk(id, n, []byte(payload))))
	}
	require.NoError(t, store.InsertDocument(ctx, &domain.FileDocument{
		ID:         id,
		Length:     15,
		ChunkSize:  10,
		Filename:   "tail.txt",
		UploadDate: time.Now().UTC().Truncate(time.Millisecond),
	}))

	doc, err := store.FindDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(15), doc.Length)
	assert.Equal(t, 10, doc.ChunkSize)
	assert.Equal(t, "tail.txt", doc.Filename)

	it, err := store.Find(ctx, id)
	require.NoError(t, err)
	defer it.Close(ctx)

	var data []byte
	for it.Next(ctx) {
		data = append(data, it.Chunk().Data...)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, "0123456789-tail", string(data))
}

func TestChunkStore_UniqueChunkIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("dup", 0, []byte("a"))))
	err := store.InsertChunk(ctx, domain.NewChunk("dup", 0, []byte("b")))
	assert.ErrorIs(t, err, domain.ErrStore)
}

func TestChunkStore_DeleteAndOrphans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("orphan", 0, []byte("a"))))
	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("kept", 0, []byte("b"))))
	require.NoError(t, store.InsertDocument(ctx, &domain.FileDocument{ID: "kept", Length: 1, ChunkSize: 4}))

	orphans, err := store.ListOrphans(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []any{"orphan"}, orphans)

	require.NoError(t, store.DeleteChunks(ctx, "orphan"))
	orphans, err = store.ListOrphans(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	require.NoError(t, store.DeleteDocument(ctx, "kept"))
	_, err = store.FindDocument(ctx, "kept")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}
