package domain

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// File key prefixes. A file key is the type-tagged string form of a file id,
// used by backends that can only index strings.
const (
	keyString = "s:"
	keyInt    = "i:"
	keyUint   = "n:"
	keyFloat  = "f:"
	keyBool   = "t:"
	keyUUID   = "u:"
	keyBytes  = "b:"
	keyOther  = "x:"
)

// hexer matches identifiers such as BSON ObjectIDs.
type hexer interface {
	Hex() string
}

// NewFileID returns a fresh unique file id.
func NewFileID() any {
	return uuid.NewString()
}

// FileKey encodes a file id into a reversible, type-tagged string.
//
// Example:
//
//	FileKey("report")  → "s:report"
//	FileKey(42)        → "i:42"
//	FileKey(uuid.Nil)  → "u:00000000-0000-0000-0000-000000000000"
func FileKey(id any) (string, error) {
	switch v := id.(type) {
	case nil:
		return "", NewDomainError(ErrInvalidFileID, "file id is nil", "")
	case string:
		return keyString + v, nil
	case int:
		return keyInt + strconv.FormatInt(int64(v), 10), nil
	case int8:
		return keyInt + strconv.FormatInt(int64(v), 10), nil
	case int16:
		return keyInt + strconv.FormatInt(int64(v), 10), nil
	case int32:
		return keyInt + strconv.FormatInt(int64(v), 10), nil
	case int64:
		return keyInt + strconv.FormatInt(v, 10), nil
	case uint:
		return keyUint + strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return keyUint + strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return keyUint + strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return keyUint + strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return keyUint + strconv.FormatUint(v, 10), nil
	case float32:
		return floatKey(float64(v))
	case float64:
		return floatKey(v)
	case bool:
		return keyBool + strconv.FormatBool(v), nil
	case uuid.UUID:
		return keyUUID + v.String(), nil
	case []byte:
		return keyBytes + hex.EncodeToString(v), nil
	case hexer:
		return keyOther + v.Hex(), nil
	case fmt.Stringer:
		return keyOther + v.String(), nil
	default:
		return "", NewDomainError(ErrInvalidFileID, fmt.Sprintf("unsupported file id type %T", id), "")
	}
}

func floatKey(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", NewDomainError(ErrInvalidFileID, "file id is not a finite number", "")
	}
	return keyFloat + strconv.FormatFloat(v, 'g', -1, 64), nil
}

// MustFileKey is FileKey for ids already known to be valid.
// It returns the fmt representation for ids FileKey rejects.
func MustFileKey(id any) string {
	key, err := FileKey(id)
	if err != nil {
		return fmt.Sprintf("%v", id)
	}
	return key
}

// ParseFileKey decodes a key produced by FileKey.
// Integers decode to int64, unsigned integers to uint64, and opaque ("x:") keys
// decode to their string payload.
func ParseFileKey(key string) (any, error) {
	if len(key) < 2 {
		return nil, NewDomainError(ErrInvalidFileID, "malformed file key", key)
	}

	prefix, payload := key[:2], key[2:]
	switch prefix {
	case keyString:
		return payload, nil
	case keyInt:
		v, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return nil, NewDomainError(ErrInvalidFileID, "malformed integer key", key)
		}
		return v, nil
	case keyUint:
		v, err := strconv.ParseUint(payload, 10, 64)
		if err != nil {
			return nil, NewDomainError(ErrInvalidFileID, "malformed unsigned key", key)
		}
		return v, nil
	case keyFloat:
		v, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return nil, NewDomainError(ErrInvalidFileID, "malformed float key", key)
		}
		return v, nil
	case keyBool:
		v, err := strconv.ParseBool(payload)
		if err != nil {
			return nil, NewDomainError(ErrInvalidFileID, "malformed bool key", key)
		}
		return v, nil
	case keyUUID:
		v, err := uuid.Parse(payload)
		if err != nil {
			return nil, NewDomainError(ErrInvalidFileID, "malformed uuid key", key)
		}
		return v, nil
	case keyBytes:
		v, err := hex.DecodeString(payload)
		if err != nil {
			return nil, NewDomainError(ErrInvalidFileID, "malformed bytes key", key)
		}
		return v, nil
	case keyOther:
		return payload, nil
	default:
		return nil, NewDomainError(ErrInvalidFileID, "unknown file key prefix", key)
	}
}

// ParseExternalID interprets an id received as text (HTTP path, CLI argument).
// A value that is itself a file key is decoded; anything else is a plain string id.
func ParseExternalID(raw string) any {
	if len(raw) > 2 && strings.Contains("s:i:n:f:t:u:b:", raw[:2]) && raw[1] == ':' {
		if id, err := ParseFileKey(raw); err == nil {
			return id
		}
	}
	return raw
}
