// Package memory provides an in-memory chunk store.
// It is used by tests and by single-process development setups; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/repository"
)

type storedChunk struct {
	chunk     *domain.Chunk
	createdAt time.Time
}

// Store implements repository.ChunkStore with maps guarded by a RWMutex.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]*domain.FileDocument
	chunks map[string]map[int]*storedChunk
	now    func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		docs:   make(map[string]*domain.FileDocument),
		chunks: make(map[string]map[int]*storedChunk),
		now:    time.Now,
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func copyDocument(doc *domain.FileDocument) *domain.FileDocument {
	out := *doc
	if doc.Metadata != nil {
		out.Metadata = make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Find snapshots the file's chunks, sorted by index.
func (s *Store) Find(ctx context.Context, fileID any) (repository.ChunkIterator, error) {
	key, err := domain.FileKey(fileID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	byN := s.chunks[key]
	out := make([]*domain.Chunk, 0, len(byN))
	for _, sc := range byN {
		out = append(out, domain.NewChunk(sc.chunk.FileID, sc.chunk.N, copyBytes(sc.chunk.Data)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].N < out[j].N })

	return repository.NewSliceIterator(out), nil
}

// InsertChunk stores a single chunk. Indexes are unique per file.
func (s *Store) InsertChunk(ctx context.Context, chunk *domain.Chunk) error {
	key, err := domain.FileKey(chunk.FileID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byN, ok := s.chunks[key]
	if !ok {
		byN = make(map[int]*storedChunk)
		s.chunks[key] = byN
	}
	if _, exists := byN[chunk.N]; exists {
		return domain.StoreError("insert chunk", domain.NewDomainError(domain.ErrStore, "duplicate chunk", key))
	}

	byN[chunk.N] = &storedChunk{
		chunk:     domain.NewChunk(chunk.FileID, chunk.N, copyBytes(chunk.Data)),
		createdAt: s.now(),
	}
	return nil
}

// DeleteChunks removes every chunk belonging to the file.
func (s *Store) DeleteChunks(ctx context.Context, fileID any) error {
	key, err := domain.FileKey(fileID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chunks, key)
	return nil
}

// FindDocument retrieves a file document.
func (s *Store) FindDocument(ctx context.Context, id any) (*domain.FileDocument, error) {
	key, err := domain.FileKey(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[key]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return copyDocument(doc), nil
}

// InsertDocument stores a finalized file document.
func (s *Store) InsertDocument(ctx context.Context, doc *domain.FileDocument) error {
	key, err := domain.FileKey(doc.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[key]; exists {
		return domain.StoreError("insert document", domain.NewDomainError(domain.ErrStore, "document already exists", key))
	}
	s.docs[key] = copyDocument(doc)
	return nil
}

// DeleteDocument removes a file document.
func (s *Store) DeleteDocument(ctx context.Context, id any) error {
	key, err := domain.FileKey(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, key)
	return nil
}

// ListOrphans returns ids of files with chunks older than olderThan and no document.
func (s *Store) ListOrphans(ctx context.Context, olderThan time.Time, limit int) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.chunks))
	for key := range s.chunks {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var orphans []any
	for _, key := range keys {
		if _, ok := s.docs[key]; ok {
			continue
		}

		var fileID any
		old := false
		for _, sc := range s.chunks[key] {
			fileID = sc.chunk.FileID
			if sc.createdAt.Before(olderThan) {
				old = true
				break
			}
		}
		if !old || fileID == nil {
			continue
		}

		orphans = append(orphans, fileID)
		if limit > 0 && len(orphans) >= limit {
			break
		}
	}
	return orphans, nil
}

// ChunkCount returns the number of stored chunks for a file.
func (s *Store) ChunkCount(fileID any) int {
	key := domain.MustFileKey(fileID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[key])
}

// DocumentCount returns the number of stored documents.
func (s *Store) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// RemoveChunk deletes a single chunk, leaving a gap in the file.
func (s *Store) RemoveChunk(fileID any, n int) {
	key := domain.MustFileKey(fileID)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks[key], n)
}

// Ensure Store implements the store interfaces.
var (
	_ repository.ChunkStore   = (*Store)(nil)
	_ repository.OrphanLister = (*Store)(nil)
)
