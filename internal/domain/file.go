// Package domain contains the core entities of the chunked file store.
package domain

import (
	"time"
)

const (
	// DefaultChunkSize is the chunk size used when an upload does not set one.
	// 255 KiB keeps a chunk document well below the 16 MiB BSON limit.
	DefaultChunkSize = 261120

	// MaxChunkSize is the largest chunk payload accepted by the stores.
	MaxChunkSize = 15 * 1024 * 1024
)

// FileDocument describes a stored file: its identity, size and chunk layout.
// It is written once, when the upload completes, and never modified.
type FileDocument struct {
	// ID is the file identifier. Caller-supplied ids are kept verbatim.
	ID any `json:"-"`

	// Length is the total content length in bytes.
	// It always equals the sum of the chunk payload lengths.
	Length int64 `json:"length"`

	// ChunkSize is the payload size of every chunk except possibly the last.
	ChunkSize int `json:"chunk_size"`

	// Filename is the optional display name.
	Filename string `json:"filename,omitempty"`

	// ContentType is the optional MIME type of the content.
	ContentType string `json:"content_type,omitempty"`

	// MD5 is the hex-encoded MD5 digest of the content.
	MD5 string `json:"md5,omitempty"`

	// UploadDate is when the upload completed.
	UploadDate time.Time `json:"upload_date"`

	// Metadata holds arbitrary caller-defined attributes.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NumChunks returns the number of chunks the document's content occupies.
// A zero-length file has no chunks.
func (d *FileDocument) NumChunks() int {
	return ChunkCount(d.Length, d.ChunkSize)
}

// ChunkCount returns ceil(length/chunkSize).
func ChunkCount(length int64, chunkSize int) int {
	if length <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((length + int64(chunkSize) - 1) / int64(chunkSize))
}

// ChunkIndexForOffset returns the index of the chunk holding the byte at offset.
//
// Example with chunkSize 10:
//
//	ChunkIndexForOffset(8, 10)  → 0
//	ChunkIndexForOffset(10, 10) → 1
func ChunkIndexForOffset(offset int64, chunkSize int) int {
	return int(offset / int64(chunkSize))
}

// OffsetInChunk returns the position of offset inside its chunk.
func OffsetInChunk(offset int64, chunkSize int) int {
	return int(offset % int64(chunkSize))
}

// ValidateChunkSize checks a chunk size against the accepted bounds.
func ValidateChunkSize(size int) error {
	if size <= 0 || size > MaxChunkSize {
		return NewDomainError(ErrInvalidChunkSize, "chunk size out of bounds", "")
	}
	return nil
}

// Chunk is one fixed-size fragment of a stored file.
type Chunk struct {
	// FileID is the id of the owning file.
	FileID any

	// N is the 0-based sequence number of the chunk.
	N int

	// Data is the raw payload; len(Data) <= the file's chunk size.
	Data []byte
}

// NewChunk creates a chunk for the given file and index.
func NewChunk(fileID any, n int, data []byte) *Chunk {
	return &Chunk{
		FileID: fileID,
		N:      n,
		Data:   data,
	}
}
