package tracepoint

import (
	"bytes"
	"strconv"
)

const (
	// MaxLocationLen bounds an encoded location key in bytes.
	MaxLocationLen = 128

	// SentinelFilename stands in for frames with no source file.
	SentinelFilename = "dontbug_couldnt_find_filename"
)

// LocationKey is the encoded form "filename:line", truncated to the cache
// bound. Two locations whose encodings collide after truncation compare
// equal; the matcher re-derives the exact location on every report, so a
// collision only suppresses a transition.
type LocationKey string

// EncodeKey encodes a location the same way the cache does.
func EncodeKey(filename string, line, limit int) LocationKey {
	return LocationKey(appendKey(nil, filename, line, limit))
}

func appendKey(dst []byte, filename string, line, limit int) []byte {
	dst = append(dst, filename...)
	dst = append(dst, ':')
	dst = strconv.AppendInt(dst, int64(line), 10)
	if limit > 0 && len(dst) > limit {
		dst = dst[:limit]
	}
	return dst
}

// LocationCache is a single-slot cache of the most recently observed
// location. It has one writer and is not safe for concurrent use.
type LocationCache struct {
	limit   int
	scratch []byte
	last    []byte
	valid   bool
}

// NewLocationCache returns an empty cache bounded to limit bytes per key.
// A non-positive limit selects MaxLocationLen.
func NewLocationCache(limit int) *LocationCache {
	if limit <= 0 {
		limit = MaxLocationLen
	}
	return &LocationCache{
		limit:   limit,
		scratch: make([]byte, 0, limit+24),
		last:    make([]byte, 0, limit+24),
	}
}

// Observe records the location and reports whether it differs from the
// previously observed one.
func (c *LocationCache) Observe(filename string, line int) bool {
	c.scratch = appendKey(c.scratch[:0], filename, line, c.limit)
	if c.valid && bytes.Equal(c.scratch, c.last) {
		return false
	}
	c.last = append(c.last[:0], c.scratch...)
	c.valid = true
	return true
}

// Key returns the cached key, or "" before the first observation.
func (c *LocationCache) Key() LocationKey {
	if !c.valid {
		return ""
	}
	return LocationKey(c.last)
}

// Reset forgets the cached location.
func (c *LocationCache) Reset() {
	c.last = c.last[:0]
	c.valid = false
}
