package store

import (
	"encoding/base64"
	"fmt"
)

// Page size bounds.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// PaginationParams selects one page of a listing.
type PaginationParams struct {
	Limit  int    // items per page
	Cursor string // opaque cursor from the previous page, empty for the first
}

// PaginatedResult is one page of T.
type PaginatedResult[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// Normalize clamps Limit into [1, MaxPageSize], using DefaultPageSize when unset.
func (p *PaginationParams) Normalize() {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
}

// EncodeCursor turns the last key of a page into an opaque cursor.
func EncodeCursor(key string) string {
	if key == "" {
		return ""
	}
	return base64.URLEncoding.EncodeToString([]byte(key))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	decoded, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("invalid cursor: %w", ErrInvalidInput.WithCause(err))
	}
	return string(decoded), nil
}
