// Package pagination implements the opaque cursors used by list endpoints.
// Two cursor shapes exist: key cursors for id-sorted listings (issues, raw
// logs) and offset cursors for append-ordered streams (chat history).
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// PageResult represents one page of a listing.
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

var ErrInvalidCursor = errors.New("invalid cursor format")

const (
	keyPrefix    = "k|"
	offsetPrefix = "o|"
)

// EncodeKeyCursor creates a cursor pointing past the given id in an id-sorted
// listing. An empty id yields an empty cursor.
func EncodeKeyCursor(lastID string) string {
	if lastID == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(keyPrefix + lastID))
}

// DecodeKeyCursor returns the id a key cursor points past. An empty cursor
// decodes to an empty id, meaning start from the beginning.
func DecodeKeyCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", ErrInvalidCursor
	}
	rest, ok := strings.CutPrefix(string(decoded), keyPrefix)
	if !ok || rest == "" {
		return "", ErrInvalidCursor
	}
	return rest, nil
}

// EncodeOffsetCursor creates a cursor pointing at the given element offset of
// an append-ordered stream. Offsets at or below zero yield an empty cursor.
func EncodeOffsetCursor(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(offsetPrefix + strconv.Itoa(offset)))
}

// DecodeOffsetCursor returns the offset an offset cursor points at. An empty
// cursor decodes to zero.
func DecodeOffsetCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	rest, ok := strings.CutPrefix(string(decoded), offsetPrefix)
	if !ok {
		return 0, ErrInvalidCursor
	}
	offset, err := strconv.Atoi(rest)
	if err != nil || offset < 0 {
		return 0, ErrInvalidCursor
	}
	return offset, nil
}

// NextKeyCursor creates the cursor for the page following items, or an empty
// string when items is the last page (fewer items than the limit).
func NextKeyCursor[T any](items []T, limit int, getID func(T) string) string {
	if len(items) == 0 || len(items) < limit {
		return ""
	}
	return EncodeKeyCursor(getID(items[len(items)-1]))
}

// NextOffsetCursor creates the cursor following a page of returned elements
// that started at offset, or an empty string when the stream is exhausted.
func NextOffsetCursor(offset, returned, total int) string {
	next := offset + returned
	if next >= total {
		return ""
	}
	return EncodeOffsetCursor(next)
}
