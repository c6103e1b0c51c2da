package repository_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/prn-tf/gridfs-storage/internal/cache/memory"
	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/repository"
	"github.com/prn-tf/gridfs-storage/internal/repository/memory"
)

// countingStore counts FindDocument calls reaching the backing store.
type countingStore struct {
	*memory.Store
	findDocument int
}

func (s *countingStore) FindDocument(ctx context.Context, id any) (*domain.FileDocument, error) {
	s.findDocument++
	return s.Store.FindDocument(ctx, id)
}

func TestCachedStore_FindDocument(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: memory.NewStore()}
	cache := memcache.NewCache(0, time.Minute)
	defer cache.Stop()

	store := repository.NewCachedStore(backing, cache, "fs", time.Minute, zerolog.Nop())

	require.NoError(t, store.InsertDocument(ctx, &domain.FileDocument{
		ID: int64(9), Length: 3, ChunkSize: 2, Filename: "nine", Metadata: map[string]string{"a": "b"},
	}))

	for i := 0; i < 3; i++ {
		doc, err := store.FindDocument(ctx, int64(9))
		require.NoError(t, err)
		assert.Equal(t, int64(9), doc.ID)
		assert.Equal(t, "nine", doc.Filename)
		assert.Equal(t, "b", doc.Metadata["a"])
	}
	assert.Equal(t, 1, backing.findDocument)

	require.NoError(t, store.DeleteDocument(ctx, int64(9)))
	_, err := store.FindDocument(ctx, int64(9))
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
	assert.Equal(t, 2, backing.findDocument)
}

func TestCachedStore_MissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: memory.NewStore()}
	cache := memcache.NewCache(0, time.Minute)
	defer cache.Stop()

	store := repository.NewCachedStore(backing, cache, "fs", time.Minute, zerolog.Nop())

	_, err := store.FindDocument(ctx, "late")
	require.ErrorIs(t, err, domain.ErrFileNotFound)

	require.NoError(t, backing.InsertDocument(ctx, &domain.FileDocument{ID: "late", ChunkSize: 4}))

	_, err = store.FindDocument(ctx, "late")
	assert.NoError(t, err)
}

func TestEncryptedStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	master := bytes.Repeat([]byte{1}, 32)

	store, err := repository.NewEncryptedStore(backing, master, "fs")
	require.NoError(t, err)

	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("secret", 0, []byte("plain-0"))))
	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("secret", 1, []byte("plain-1"))))

	raw, err := backing.Find(ctx, "secret")
	require.NoError(t, err)
	require.True(t, raw.Next(ctx))
	assert.NotContains(t, string(raw.Chunk().Data), "plain")

	it, err := store.Find(ctx, "secret")
	require.NoError(t, err)
	defer it.Close(ctx)

	var got []string
	for it.Next(ctx) {
		got = append(got, string(it.Chunk().Data))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"plain-0", "plain-1"}, got)
}

func TestEncryptedStore_WrongKey(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()

	writer, err := repository.NewEncryptedStore(backing, bytes.Repeat([]byte{1}, 32), "fs")
	require.NoError(t, err)
	reader, err := repository.NewEncryptedStore(backing, bytes.Repeat([]byte{2}, 32), "fs")
	require.NoError(t, err)

	require.NoError(t, writer.InsertChunk(ctx, domain.NewChunk("f", 0, []byte("data"))))

	it, err := reader.Find(ctx, "f")
	require.NoError(t, err)
	assert.False(t, it.Next(ctx))
	assert.ErrorIs(t, it.Err(), domain.ErrStore)
}

func TestEncryptedStore_InvalidKey(t *testing.T) {
	_, err := repository.NewEncryptedStore(memory.NewStore(), []byte("short"), "fs")
	assert.Error(t, err)
}

func TestAsOrphanLister_ThroughDecorators(t *testing.T) {
	backing := memory.NewStore()
	cache := memcache.NewCache(0, time.Minute)
	defer cache.Stop()

	encrypted, err := repository.NewEncryptedStore(backing, bytes.Repeat([]byte{1}, 32), "fs")
	require.NoError(t, err)
	cached := repository.NewCachedStore(encrypted, cache, "fs", time.Minute, zerolog.Nop())

	lister, ok := repository.AsOrphanLister(cached)
	require.True(t, ok)
	assert.Same(t, backing, lister)

	_, ok = repository.AsIDGenerator(cached)
	assert.False(t, ok)
}
