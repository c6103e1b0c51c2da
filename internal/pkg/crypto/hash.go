package crypto

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// HashWriter computes SHA-256 and MD5 digests of everything written to it.
// Uploads feed each chunk through it so the digests are ready at completion.
type HashWriter struct {
	sha256 hash.Hash
	md5    hash.Hash
	size   int64
}

// NewHashWriter creates a new HashWriter.
func NewHashWriter() *HashWriter {
	return &HashWriter{
		sha256: sha256.New(),
		md5:    md5.New(),
	}
}

// Write implements io.Writer. It never fails.
func (h *HashWriter) Write(p []byte) (int, error) {
	h.sha256.Write(p)
	h.md5.Write(p)
	h.size += int64(len(p))
	return len(p), nil
}

// SHA256 returns the hex-encoded SHA-256 hash.
func (h *HashWriter) SHA256() string {
	return hex.EncodeToString(h.sha256.Sum(nil))
}

// MD5 returns the hex-encoded MD5 hash.
func (h *HashWriter) MD5() string {
	return hex.EncodeToString(h.md5.Sum(nil))
}

// Size returns the total number of bytes written.
func (h *HashWriter) Size() int64 {
	return h.size
}

// ComputeSHA256 computes the SHA-256 hash of a byte slice.
func ComputeSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeMD5 computes the MD5 hash of a byte slice.
func ComputeMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
