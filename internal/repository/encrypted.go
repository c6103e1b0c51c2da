package repository

import (
	"context"
	"strconv"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/pkg/crypto"
)

// EncryptedStore encrypts chunk payloads before they reach another ChunkStore.
//
// Each file gets its own AES-256-GCM key, derived with HKDF from the master key
// and "<bucket>/<file key>". The chunk index is bound as additional data so
// chunks cannot be reordered. Documents are stored in the clear.
type EncryptedStore struct {
	ChunkStore
	master []byte
	bucket string
}

// NewEncryptedStore wraps store with chunk encryption.
func NewEncryptedStore(store ChunkStore, masterKey []byte, bucket string) (*EncryptedStore, error) {
	if len(masterKey) != crypto.KeySize {
		return nil, crypto.ErrInvalidKeySize
	}
	return &EncryptedStore{
		ChunkStore: store,
		master:     masterKey,
		bucket:     bucket,
	}, nil
}

// Unwrap returns the underlying store.
func (s *EncryptedStore) Unwrap() ChunkStore {
	return s.ChunkStore
}

func (s *EncryptedStore) encryptorFor(fileID any) (*crypto.Encryptor, error) {
	key, err := domain.FileKey(fileID)
	if err != nil {
		return nil, err
	}

	fileKey, err := crypto.DeriveKey(s.master, s.bucket+"/"+key)
	if err != nil {
		return nil, domain.StoreError("derive key", err)
	}

	enc, err := crypto.NewEncryptor(fileKey)
	if err != nil {
		return nil, domain.StoreError("create cipher", err)
	}
	return enc, nil
}

func chunkAAD(n int) []byte {
	return []byte("chunk:" + strconv.Itoa(n))
}

// InsertChunk encrypts the payload and stores it.
func (s *EncryptedStore) InsertChunk(ctx context.Context, chunk *domain.Chunk) error {
	enc, err := s.encryptorFor(chunk.FileID)
	if err != nil {
		return err
	}

	sealed, err := enc.Seal(chunk.Data, chunkAAD(chunk.N))
	if err != nil {
		return domain.StoreError("encrypt chunk", err)
	}

	return s.ChunkStore.InsertChunk(ctx, domain.NewChunk(chunk.FileID, chunk.N, sealed))
}

// Find returns a sequence that decrypts chunks as they are read.
func (s *EncryptedStore) Find(ctx context.Context, fileID any) (ChunkIterator, error) {
	enc, err := s.encryptorFor(fileID)
	if err != nil {
		return nil, err
	}

	it, err := s.ChunkStore.Find(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return &decryptingIterator{inner: it, enc: enc}, nil
}

// decryptingIterator opens each chunk of the wrapped sequence.
type decryptingIterator struct {
	inner   ChunkIterator
	enc     *crypto.Encryptor
	current *domain.Chunk
	err     error
}

func (it *decryptingIterator) Next(ctx context.Context) bool {
	if it.err != nil || !it.inner.Next(ctx) {
		it.current = nil
		return false
	}

	sealed := it.inner.Chunk()
	plain, err := it.enc.Open(sealed.Data, chunkAAD(sealed.N))
	if err != nil {
		it.current = nil
		it.err = domain.StoreError("decrypt chunk", err)
		return false
	}

	it.current = domain.NewChunk(sealed.FileID, sealed.N, plain)
	return true
}

func (it *decryptingIterator) Chunk() *domain.Chunk {
	return it.current
}

func (it *decryptingIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Err()
}

func (it *decryptingIterator) Close(ctx context.Context) error {
	it.current = nil
	return it.inner.Close(ctx)
}

var _ ChunkStore = (*EncryptedStore)(nil)
