// Package storage implements a chunk store on S3-compatible object storage.
package storage

import (
	"encoding/base64"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/prn-tf/gridfs-storage/internal/domain"
	"github.com/prn-tf/gridfs-storage/internal/pkg/crypto"
)

// PathConfig holds configuration for object key generation.
type PathConfig struct {
	// Prefix is prepended to every object key (e.g. "gridfs/").
	Prefix string

	// ShardLevels is the number of key levels used for sharding.
	// Default: 2 (e.g., fs.chunks/ab/cd/...)
	ShardLevels int

	// ShardWidth is the number of characters per shard level.
	// Default: 2 (e.g., ab, cd)
	ShardWidth int
}

// DefaultPathConfig returns the default path configuration.
func DefaultPathConfig(prefix string) PathConfig {
	return PathConfig{
		Prefix:      prefix,
		ShardLevels: 2,
		ShardWidth:  2,
	}
}

// ShardDirs returns the shard components for a file key.
// Shards come from the SHA-256 of the key so files spread evenly.
//
// Example:
//
//	fileKey: "s:report"  (sha256 "4f1c...")
//	result:  ["4f", "1c"]
func ShardDirs(config PathConfig, fileKey string) []string {
	hash := crypto.ComputeSHA256([]byte(fileKey))

	dirs := make([]string, config.ShardLevels)
	offset := 0
	for i := 0; i < config.ShardLevels; i++ {
		dirs[i] = hash[offset : offset+config.ShardWidth]
		offset += config.ShardWidth
	}
	return dirs
}

// encodeName turns a file key into a single path segment.
func encodeName(fileKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fileKey))
}

func decodeName(name string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", fmt.Errorf("malformed object name %q: %w", name, err)
	}
	return string(raw), nil
}

func join(config PathConfig, collection string, fileKey string, rest ...string) string {
	components := make([]string, 0, config.ShardLevels+2+len(rest))
	components = append(components, collection)
	components = append(components, ShardDirs(config, fileKey)...)
	components = append(components, rest...)
	return config.Prefix + path.Join(components...)
}

// DocumentKey returns the object key of a file document.
//
// Example:
//
//	"gridfs/fs.files/4f/1c/czpyZXBvcnQ.json"
func DocumentKey(config PathConfig, bucket, fileKey string) string {
	return join(config, domain.FilesCollection(bucket), fileKey, encodeName(fileKey)+".json")
}

// ChunkPrefix returns the key prefix shared by all chunks of a file.
// It ends with a slash so listing it never matches a sibling file.
func ChunkPrefix(config PathConfig, bucket, fileKey string) string {
	return join(config, domain.ChunksCollection(bucket), fileKey, encodeName(fileKey)) + "/"
}

// ChunkKey returns the object key of chunk n.
// Indexes are zero padded so listings come back in chunk order.
func ChunkKey(config PathConfig, bucket, fileKey string, n int) string {
	return ChunkPrefix(config, bucket, fileKey) + fmt.Sprintf("%08d", n)
}

// ChunksRoot returns the key prefix of every chunk in the bucket.
func ChunksRoot(config PathConfig, bucket string) string {
	return config.Prefix + domain.ChunksCollection(bucket) + "/"
}

// ParseChunkKey extracts the file key and chunk index from a chunk object key.
func ParseChunkKey(config PathConfig, bucket, objectKey string) (string, int, error) {
	rest, ok := strings.CutPrefix(objectKey, ChunksRoot(config, bucket))
	if !ok {
		return "", 0, fmt.Errorf("object %q is not a chunk of bucket %s", objectKey, bucket)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != config.ShardLevels+2 {
		return "", 0, fmt.Errorf("malformed chunk key %q", objectKey)
	}

	fileKey, err := decodeName(parts[config.ShardLevels])
	if err != nil {
		return "", 0, err
	}

	n, err := strconv.Atoi(parts[config.ShardLevels+1])
	if err != nil {
		return "", 0, fmt.Errorf("malformed chunk index in %q: %w", objectKey, err)
	}

	return fileKey, n, nil
}
