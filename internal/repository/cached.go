package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/prn-tf/gridfs-storage/internal/domain"
)

// CachedStore caches file documents in front of another ChunkStore.
// Documents are immutable once written, so entries only need invalidating on delete
// or on an insert that reuses an id.
type CachedStore struct {
	ChunkStore
	cache  Cache
	bucket string
	ttl    time.Duration
	logger zerolog.Logger
	loads  singleflight.Group
}

// NewCachedStore wraps store with a document cache.
func NewCachedStore(store ChunkStore, cache Cache, bucket string, ttl time.Duration, logger zerolog.Logger) *CachedStore {
	return &CachedStore{
		ChunkStore: store,
		cache:      cache,
		bucket:     bucket,
		ttl:        ttl,
		logger:     logger.With().Str("component", "document_cache").Logger(),
	}
}

// Unwrap returns the underlying store.
func (s *CachedStore) Unwrap() ChunkStore {
	return s.ChunkStore
}

func (s *CachedStore) cacheKey(id any) (string, error) {
	key, err := domain.FileKey(id)
	if err != nil {
		return "", err
	}
	return CacheKey{}.FileDocument(s.bucket, key), nil
}

// FindDocument serves the document from cache when present.
// Cache failures fall through to the store, and concurrent misses for one
// id share a single lookup.
func (s *CachedStore) FindDocument(ctx context.Context, id any) (*domain.FileDocument, error) {
	key, err := s.cacheKey(id)
	if err != nil {
		return nil, err
	}

	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var doc domain.FileDocument
		if err := json.Unmarshal(raw, &doc); err == nil {
			doc.ID = id
			return &doc, nil
		}
		s.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
		_ = s.cache.Delete(ctx, key)
	case !errors.Is(err, ErrCacheMiss):
		s.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	v, err, _ := s.loads.Do(key, func() (any, error) {
		doc, err := s.ChunkStore.FindDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(doc); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
			}
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}

	// Concurrent callers share one load; each gets its own copy.
	doc := *v.(*domain.FileDocument)
	return &doc, nil
}

// InsertDocument stores the document and drops any stale cache entry.
func (s *CachedStore) InsertDocument(ctx context.Context, doc *domain.FileDocument) error {
	if err := s.ChunkStore.InsertDocument(ctx, doc); err != nil {
		return err
	}
	s.invalidate(ctx, doc.ID)
	return nil
}

// DeleteDocument removes the document and its cache entry.
func (s *CachedStore) DeleteDocument(ctx context.Context, id any) error {
	s.invalidate(ctx, id)
	if err := s.ChunkStore.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, id any) {
	key, err := s.cacheKey(id)
	if err != nil {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
	}
}

var _ ChunkStore = (*CachedStore)(nil)
