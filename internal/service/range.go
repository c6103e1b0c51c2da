package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/prn-tf/gridfs-storage/internal/gridfs"
)

// ByteRange is a read window in gridfs.Download.Substr terms:
// a negative Start counts from the end and Length may be gridfs.ToEnd.
type ByteRange struct {
	Start  int64
	Length int64
}

// ParseRange parses a single-range HTTP Range header.
//
//	bytes=0-99  → {Start: 0, Length: 100}
//	bytes=100-  → {Start: 100, Length: ToEnd}
//	bytes=-50   → {Start: -50, Length: ToEnd}
//
// An empty header yields nil.
func ParseRange(header string) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}

	set, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(set, ",") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRangeHeader, header)
	}

	first, last, ok := strings.Cut(strings.TrimSpace(set), "-")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRangeHeader, header)
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRangeHeader, header)
		}
		return &ByteRange{Start: -n, Length: gridfs.ToEnd}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRangeHeader, header)
	}
	if last == "" {
		return &ByteRange{Start: start, Length: gridfs.ToEnd}, nil
	}

	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRangeHeader, header)
	}
	if end == math.MaxInt64 {
		return &ByteRange{Start: start, Length: gridfs.ToEnd}, nil
	}
	return &ByteRange{Start: start, Length: end - start + 1}, nil
}
