package gridfs_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/gridfs"
	"github.com/prn-tf/gridfs-storage/internal/metrics"
	"github.com/prn-tf/gridfs-storage/internal/repository"
	"github.com/prn-tf/gridfs-storage/internal/repository/memory"
)

// countingStore counts Find calls, i.e. cursors opened against the store.
type countingStore struct {
	*memory.Store
	finds int
}

func (s *countingStore) Find(ctx context.Context, fileID any) (repository.ChunkIterator, error) {
	s.finds++
	return s.Store.Find(ctx, fileID)
}

func newTestBucket(t *testing.T, chunkSize int) (*gridfs.Bucket, *countingStore) {
	t.Helper()
	store := &countingStore{Store: memory.NewStore()}
	b, err := gridfs.NewBucket(store, gridfs.BucketConfig{ChunkSize: chunkSize}, zerolog.Nop(), nil)
	require.NoError(t, err)
	return b, store
}

func content(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte('a' + i%26)
	}
	return out
}

func put(t *testing.T, b *gridfs.Bucket, id any, data []byte) *domain.FileDocument {
	t.Helper()
	u, err := b.NewUpload(gridfs.UploadOptions{ID: id})
	require.NoError(t, err)
	require.NoError(t, u.AddContent(context.Background(), data))
	doc, err := u.Complete(context.Background())
	require.NoError(t, err)
	return doc
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		size       int
		chunkSize  int
		wantChunks int
	}{
		{"empty", 0, 10, 0},
		{"single byte", 1, 10, 1},
		{"under one chunk", 9, 10, 1},
		{"exactly one chunk", 10, 10, 1},
		{"one byte over", 11, 10, 2},
		{"several chunks", 25, 10, 3},
		{"many chunks", 1000, 7, 143},
		{"default chunk size", 300000, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, store := newTestBucket(t, tt.chunkSize)
			data := content(tt.size)

			doc := put(t, b, "file", data)
			assert.Equal(t, int64(tt.size), doc.Length)
			assert.Equal(t, tt.wantChunks, store.ChunkCount("file"))
			assert.Equal(t, tt.wantChunks, doc.NumChunks())

			d, err := b.Open(ctx, "file")
			require.NoError(t, err)
			got, err := d.Bytes(ctx)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestUpload_DocumentFields(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(t, 4)

	u, err := b.NewUpload(gridfs.UploadOptions{
		ID:          42,
		Filename:    "answer.txt",
		ContentType: "text/plain",
		Metadata:    map[string]string{"owner": "deep-thought"},
	})
	require.NoError(t, err)
	require.NoError(t, u.AddContent(ctx, []byte("hello ")))
	require.NoError(t, u.AddContent(ctx, []byte("world")))
	doc, err := u.Complete(ctx)
	require.NoError(t, err)

	assert.Equal(t, 42, doc.ID)
	assert.Equal(t, int64(11), doc.Length)
	assert.Equal(t, 4, doc.ChunkSize)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", doc.MD5)
	assert.False(t, doc.UploadDate.IsZero())

	stored, err := b.Stat(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "answer.txt", stored.Filename)
	assert.Equal(t, "text/plain", stored.ContentType)
	assert.Equal(t, "deep-thought", stored.Metadata["owner"])
}

func TestUpload_GeneratedID(t *testing.T) {
	b, _ := newTestBucket(t, 4)

	u1, err := b.NewUpload(gridfs.UploadOptions{})
	require.NoError(t, err)
	u2, err := b.NewUpload(gridfs.UploadOptions{})
	require.NoError(t, err)

	assert.NotNil(t, u1.ID())
	assert.NotEqual(t, u1.ID(), u2.ID())
}

func TestUpload_InvalidChunkSize(t *testing.T) {
	b, _ := newTestBucket(t, 4)

	_, err := b.NewUpload(gridfs.UploadOptions{ChunkSize: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidChunkSize)

	_, err = gridfs.NewBucket(memory.NewStore(), gridfs.BucketConfig{ChunkSize: domain.MaxChunkSize + 1}, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidChunkSize)
}

func TestUpload_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("complete twice", func(t *testing.T) {
		b, _ := newTestBucket(t, 4)
		u, err := b.NewUpload(gridfs.UploadOptions{ID: "x"})
		require.NoError(t, err)
		_, err = u.Complete(ctx)
		require.NoError(t, err)

		_, err = u.Complete(ctx)
		assert.ErrorIs(t, err, domain.ErrAlreadyCompleted)
		assert.ErrorIs(t, u.AddContent(ctx, []byte("more")), domain.ErrAlreadyCompleted)
	})

	t.Run("cancel after complete", func(t *testing.T) {
		b, store := newTestBucket(t, 4)
		u, err := b.NewUpload(gridfs.UploadOptions{ID: "x"})
		require.NoError(t, err)
		require.NoError(t, u.AddContent(ctx, []byte("content")))
		_, err = u.Complete(ctx)
		require.NoError(t, err)

		assert.ErrorIs(t, u.Cancel(ctx), domain.ErrAlreadyCompleted)
		assert.Equal(t, 2, store.ChunkCount("x"))
	})

	t.Run("cancel rolls back", func(t *testing.T) {
		b, store := newTestBucket(t, 4)
		u, err := b.NewUpload(gridfs.UploadOptions{ID: "x"})
		require.NoError(t, err)
		require.NoError(t, u.AddContent(ctx, content(10)))
		assert.Equal(t, 2, store.ChunkCount("x"))

		require.NoError(t, u.Cancel(ctx))
		assert.Equal(t, 0, store.ChunkCount("x"))
		assert.Equal(t, 0, store.DocumentCount())

		it, err := store.Find(ctx, "x")
		require.NoError(t, err)
		assert.False(t, it.Next(ctx))

		_, err = b.Stat(ctx, "x")
		assert.ErrorIs(t, err, domain.ErrFileNotFound)

		assert.NoError(t, u.Cancel(ctx))
		assert.ErrorIs(t, u.AddContent(ctx, []byte("x")), domain.ErrUploadCancelled)
		_, err = u.Complete(ctx)
		assert.ErrorIs(t, err, domain.ErrUploadCancelled)
	})
}

// flakyDeleteStore fails the next deleteFailures DeleteChunks calls.
type flakyDeleteStore struct {
	*memory.Store
	deleteFailures int
}

func (s *flakyDeleteStore) DeleteChunks(ctx context.Context, fileID any) error {
	if s.deleteFailures > 0 {
		s.deleteFailures--
		return errors.New("connection refused")
	}
	return s.Store.DeleteChunks(ctx, fileID)
}

func TestUpload_CancelRetriesFailedDelete(t *testing.T) {
	ctx := context.Background()
	store := &flakyDeleteStore{Store: memory.NewStore(), deleteFailures: 1}
	b, err := gridfs.NewBucket(store, gridfs.BucketConfig{ChunkSize: 10}, zerolog.Nop(), nil)
	require.NoError(t, err)

	u, err := b.NewUpload(gridfs.UploadOptions{ID: "x"})
	require.NoError(t, err)
	require.NoError(t, u.AddContent(ctx, content(35)))
	require.Equal(t, 3, store.ChunkCount("x"))

	err = u.Cancel(ctx)
	assert.ErrorIs(t, err, domain.ErrStore)
	assert.Equal(t, 3, store.ChunkCount("x"))
	assert.ErrorIs(t, u.AddContent(ctx, []byte("more")), domain.ErrUploadCancelled)
	_, err = u.Complete(ctx)
	assert.ErrorIs(t, err, domain.ErrUploadCancelled)

	require.NoError(t, u.Cancel(ctx))
	assert.Equal(t, 0, store.ChunkCount("x"))
	require.NoError(t, u.Cancel(ctx))
}

func TestBucket_PutFailureCountedOnce(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	b, err := gridfs.NewBucket(memory.NewStore(), gridfs.BucketConfig{ChunkSize: 10}, zerolog.Nop(), m)
	require.NoError(t, err)

	_, err = b.Put(ctx, gridfs.UploadOptions{ID: "partial"}, &failingReader{remaining: 25})
	require.ErrorIs(t, err, domain.ErrIO)

	u, err := b.NewUpload(gridfs.UploadOptions{ID: "dropped"})
	require.NoError(t, err)
	require.NoError(t, u.Cancel(ctx))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `gridfs_uploads_total{outcome="failed"} 1`)
	assert.Contains(t, body, `gridfs_uploads_total{outcome="cancelled"} 1`)
}

func TestUpload_AddStream(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBucket(t, 10)
	data := content(95)

	u, err := b.NewUpload(gridfs.UploadOptions{ID: "streamed"})
	require.NoError(t, err)
	n, err := u.AddStream(ctx, io.LimitReader(bytes.NewReader(data), 95))
	require.NoError(t, err)
	assert.Equal(t, int64(95), n)
	_, err = u.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, store.ChunkCount("streamed"))

	got, err := b.OpenDownload("streamed").Bytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

type failingReader struct {
	remaining int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, errors.New("connection reset")
	}
	n := min(len(p), r.remaining)
	r.remaining -= n
	return n, nil
}

func TestUpload_AddStreamReadError(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(t, 10)

	u, err := b.NewUpload(gridfs.UploadOptions{ID: "broken"})
	require.NoError(t, err)
	_, err = u.AddStream(ctx, &failingReader{remaining: 25})
	assert.ErrorIs(t, err, domain.ErrIO)
}

func TestSubstr_Scenario(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBucket(t, 10)
	put(t, b, "tail", []byte("0123456789-tail"))
	assert.Equal(t, 2, store.ChunkCount("tail"))

	d := b.OpenDownload("tail")

	tests := []struct {
		name   string
		start  int64
		length int64
		want   string
	}{
		{"across chunks", 8, 4, "89-t"},
		{"from end", -4, 4, "tail"},
		{"negative start clamps", -100, 3, "012"},
		{"negative length", 0, -5, "0123456789"},
		{"negative start and length", -5, -1, "-tai"},
		{"to end", 11, gridfs.ToEnd, "tail"},
		{"length truncated", 12, 100, "ail"},
		{"start at length", 15, 10, ""},
		{"zero length", 3, 0, ""},
		{"whole", 0, gridfs.ToEnd, "0123456789-tail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Substr(ctx, tt.start, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	_, err := d.Substr(ctx, 16, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)

	_, err = d.Substr(ctx, 10, -6)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestSubstr_AllRanges(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(t, 10)
	data := content(57)
	put(t, b, "ranges", data)

	d := b.OpenDownload("ranges")
	for start := 0; start < len(data); start++ {
		for length := 1; start+length <= len(data); length++ {
			got, err := d.Substr(ctx, int64(start), int64(length))
			require.NoError(t, err)
			require.Equal(t, data[start:start+length], got, "start=%d length=%d", start, length)
		}
	}
}

func TestSubstr_NegativeOffset(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(t, 10)
	data := content(33)
	put(t, b, "neg", data)

	d := b.OpenDownload("neg")
	for k := 1; k <= len(data); k++ {
		fromEnd, err := d.Substr(ctx, int64(-k), 5)
		require.NoError(t, err)
		fromStart, err := d.Substr(ctx, int64(len(data)-k), 5)
		require.NoError(t, err)
		assert.Equal(t, fromStart, fromEnd, "k=%d", k)
	}
}

func TestSubstr_CursorReuse(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBucket(t, 100)
	data := content(1000)
	put(t, b, "seek", data)

	d, err := b.Open(ctx, "seek")
	require.NoError(t, err)

	// Forward reads share one cursor.
	for off := int64(0); off < 1000; off += 50 {
		got, err := d.Substr(ctx, off, 50)
		require.NoError(t, err)
		require.Equal(t, data[off:off+50], got)
	}
	assert.Equal(t, 1, store.finds)

	require.NoError(t, d.Close(ctx))
	store.finds = 0

	got, err := d.Substr(ctx, 500, 100)
	require.NoError(t, err)
	assert.Equal(t, data[500:600], got)

	got, err = d.Substr(ctx, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, data[0:100], got)
	assert.Equal(t, 2, store.finds, "backward read must recreate the cursor")

	// Rereading the chunk the cursor sits on does not.
	got, err = d.Substr(ctx, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, data[10:30], got)
	assert.Equal(t, 2, store.finds)
}

func TestBytes_Idempotent(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(t, 10)
	data := content(45)
	put(t, b, "twice", data)

	d := b.OpenDownload("twice")
	first, err := d.Bytes(ctx)
	require.NoError(t, err)
	second, err := d.Bytes(ctx)
	require.NoError(t, err)

	assert.Equal(t, data, first)
	assert.Equal(t, first, second)
}

func TestDownload_Stream(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(t, 10)
	data := content(37)
	put(t, b, "stream", data)

	d := b.OpenDownload("stream")
	var buf bytes.Buffer
	n, err := d.Stream(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(37), n)
	assert.Equal(t, data, buf.Bytes())

	size, err := d.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(37), size)
}

type failingWriter struct {
	accept int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.accept <= 0 {
		return 0, errors.New("disk full")
	}
	w.accept--
	return len(p), nil
}

func TestDownload_StreamWriterFailure(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(t, 10)
	put(t, b, "sink", content(30))

	n, err := b.OpenDownload("sink").Stream(ctx, &failingWriter{accept: 1})
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.Equal(t, int64(10), n)
}

func TestDownload_NotFound(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBucket(t, 10)

	_, err := b.Open(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	d := b.OpenDownload("missing")
	_, err = d.Bytes(ctx)
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
	_, err = d.Filename(ctx)
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestDownload_ChunkGap(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBucket(t, 10)
	data := content(40)
	put(t, b, "gap", data)
	store.RemoveChunk("gap", 2)

	d := b.OpenDownload("gap")

	got, err := d.Substr(ctx, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, data[:20], got)

	_, err = d.Substr(ctx, 25, 5)
	assert.ErrorIs(t, err, domain.ErrChunkMissing)

	_, err = d.Bytes(ctx)
	assert.ErrorIs(t, err, domain.ErrChunkMissing)

	_, err = d.Stream(ctx, io.Discard)
	assert.ErrorIs(t, err, domain.ErrChunkMissing)

	store.RemoveChunk("gap", 3)
	_, err = d.Substr(ctx, 0, gridfs.ToEnd)
	assert.ErrorIs(t, err, domain.ErrChunkMissing, "truncated chunk sequence")
}

func TestCursor_Lifecycle(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBucket(t, 10)
	put(t, b, "cur", content(25))

	cur, err := gridfs.NewCursor(ctx, store, "cur", nil)
	require.NoError(t, err)
	assert.Equal(t, -1, cur.CurrentIndex())

	_, err = cur.CurrentChunk()
	assert.ErrorIs(t, err, domain.ErrCursorState)

	for want := 0; want < 3; want++ {
		ok, err := cur.Advance(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		chunk, err := cur.CurrentChunk()
		require.NoError(t, err)
		assert.Equal(t, want, chunk.N)
		assert.True(t, cur.IsPositionedAtOrAfter(want))
		assert.False(t, cur.IsPositionedAtOrAfter(want+1))
	}

	ok, err := cur.Advance(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, cur.Exhausted())
	assert.Equal(t, 2, cur.CurrentIndex())
	_, err = cur.CurrentChunk()
	assert.ErrorIs(t, err, domain.ErrCursorState)

	require.NoError(t, cur.Close(ctx))
	require.NoError(t, cur.Close(ctx))
	_, err = cur.Advance(ctx)
	assert.ErrorIs(t, err, domain.ErrCursorState)
}

func TestCursor_Gap(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBucket(t, 10)
	put(t, b, "cur", content(25))
	store.RemoveChunk("cur", 0)

	cur, err := gridfs.NewCursor(ctx, store, "cur", nil)
	require.NoError(t, err)
	defer cur.Close(ctx)

	_, err = cur.Advance(ctx)
	assert.ErrorIs(t, err, domain.ErrChunkMissing)
}

func TestBucket_Put(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBucket(t, 10)

	doc, err := b.Put(ctx, gridfs.UploadOptions{ID: "doc", Filename: "doc.txt"}, strings.NewReader("some content"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), doc.Length)

	_, err = b.Put(ctx, gridfs.UploadOptions{ID: "doc"}, strings.NewReader("other"))
	assert.ErrorIs(t, err, domain.ErrFileExists)

	_, err = b.Put(ctx, gridfs.UploadOptions{ID: "partial"}, &failingReader{remaining: 25})
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.Equal(t, 0, store.ChunkCount("partial"))
	_, err = b.Stat(ctx, "partial")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)
}

func TestBucket_Delete(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBucket(t, 10)
	put(t, b, "gone", content(25))

	require.NoError(t, b.Delete(ctx, "gone"))
	assert.Equal(t, 0, store.ChunkCount("gone"))
	_, err := b.Stat(ctx, "gone")
	assert.ErrorIs(t, err, domain.ErrFileNotFound)

	assert.ErrorIs(t, b.Delete(ctx, "gone"), domain.ErrFileNotFound)

	// Orphaned chunks are still removed.
	u, err := b.NewUpload(gridfs.UploadOptions{ID: "orphan"})
	require.NoError(t, err)
	require.NoError(t, u.AddContent(ctx, content(20)))
	assert.ErrorIs(t, b.Delete(ctx, "orphan"), domain.ErrFileNotFound)
	assert.Equal(t, 0, store.ChunkCount("orphan"))
}
