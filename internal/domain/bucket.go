package domain

import (
	"regexp"
)

// DefaultBucket is the bucket (collection prefix) used when none is configured.
const DefaultBucket = "fs"

// bucketNameRegex validates bucket names.
// Names become collection prefixes ("<bucket>.files") and SQL column values,
// so they are restricted to a conservative character set.
var bucketNameRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,63}$`)

// FilesCollection returns the name of the collection holding file documents.
func FilesCollection(bucket string) string {
	return bucket + ".files"
}

// ChunksCollection returns the name of the collection holding chunks.
func ChunksCollection(bucket string) string {
	return bucket + ".chunks"
}

// ValidateBucketName validates a bucket name.
func ValidateBucketName(name string) error {
	if !bucketNameRegex.MatchString(name) {
		return NewDomainError(ErrInvalidBucketName, "invalid bucket name", name)
	}
	return nil
}
