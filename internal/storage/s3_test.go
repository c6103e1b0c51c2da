package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/gridfs-storage/internal/domain"
)

// fakeS3 is an in-memory stand-in for an S3 bucket.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	modified map[string]time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), modified: make(map[string]time.Time)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.modified[aws.ToString(in.Key)] = time.Now()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			LastModified: aws.Time(f.modified[k]),
		})
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func newTestStore(t *testing.T) (*S3ChunkStore, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	store := NewS3ChunkStore(S3Options{
		Client:     fake,
		Bucket:     "test-bucket",
		FileBucket: "fs",
		Prefix:     "gridfs/",
	}, zerolog.Nop())
	return store, fake
}

func TestS3ChunkStore_ChunksRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for n, payload := range []string{"abc", "def", "g"} {
		require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("file-1", n, []byte(payload))))
	}

	it, err := store.Find(ctx, "file-1")
	require.NoError(t, err)
	defer it.Close(ctx)

	var got []string
	for it.Next(ctx) {
		assert.Equal(t, len(got), it.Chunk().N)
		got = append(got, string(it.Chunk().Data))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"abc", "def", "g"}, got)
	assert.False(t, it.Next(ctx))
}

func TestS3ChunkStore_Documents(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.FindDocument(ctx, int64(7))
	require.ErrorIs(t, err, domain.ErrFileNotFound)

	doc := &domain.FileDocument{
		ID:         int64(7),
		Length:     10,
		ChunkSize:  4,
		Filename:   "seven.txt",
		UploadDate: time.Now().UTC().Truncate(time.Millisecond),
		Metadata:   map[string]string{"owner": "ops"},
	}
	require.NoError(t, store.InsertDocument(ctx, doc))

	found, err := store.FindDocument(ctx, int64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), found.ID)
	assert.Equal(t, int64(10), found.Length)
	assert.Equal(t, 4, found.ChunkSize)
	assert.Equal(t, "seven.txt", found.Filename)
	assert.Equal(t, "ops", found.Metadata["owner"])
	assert.True(t, doc.UploadDate.Equal(found.UploadDate))

	require.NoError(t, store.DeleteDocument(ctx, int64(7)))
	require.NoError(t, store.DeleteDocument(ctx, int64(7)))

	_, err = store.FindDocument(ctx, int64(7))
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestS3ChunkStore_DeleteChunks(t *testing.T) {
	store, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("a", 0, []byte("x"))))
	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("a", 1, []byte("y"))))
	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("ab", 0, []byte("z"))))

	require.NoError(t, store.DeleteChunks(ctx, "a"))

	it, err := store.Find(ctx, "a")
	require.NoError(t, err)
	assert.False(t, it.Next(ctx))
	require.NoError(t, it.Err())

	assert.Len(t, fake.objects, 1, "sibling file chunks must survive")
}

func TestS3ChunkStore_ListOrphans(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("orphan", 0, []byte("x"))))
	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("orphan", 1, []byte("y"))))
	require.NoError(t, store.InsertChunk(ctx, domain.NewChunk("kept", 0, []byte("z"))))
	require.NoError(t, store.InsertDocument(ctx, &domain.FileDocument{ID: "kept", Length: 1, ChunkSize: 4}))

	orphans, err := store.ListOrphans(ctx, time.Now().Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, []any{"orphan"}, orphans)

	orphans, err = store.ListOrphans(ctx, time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestParseChunkKey(t *testing.T) {
	cfg := DefaultPathConfig("gridfs/")

	key := ChunkKey(cfg, "fs", "i:42", 12)
	assert.True(t, strings.HasPrefix(key, "gridfs/fs.chunks/"))
	assert.True(t, strings.HasSuffix(key, "/00000012"))

	fileKey, n, err := ParseChunkKey(cfg, "fs", key)
	require.NoError(t, err)
	assert.Equal(t, "i:42", fileKey)
	assert.Equal(t, 12, n)

	_, _, err = ParseChunkKey(cfg, "other", key)
	assert.Error(t, err)
}

func TestDocumentKey(t *testing.T) {
	cfg := DefaultPathConfig("")

	key := DocumentKey(cfg, "fs", "s:report")
	parts := strings.Split(key, "/")
	require.Len(t, parts, 4)
	assert.Equal(t, "fs.files", parts[0])
	assert.Len(t, parts[1], 2)
	assert.Len(t, parts[2], 2)
	assert.True(t, strings.HasSuffix(parts[3], ".json"))

	assert.Equal(t, ShardDirs(cfg, "s:report"), parts[1:3])
}
