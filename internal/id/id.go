// Package id generates identifiers for library rows and live sessions.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/oklog/ulid/v2"
)

// Prefixes used for generated ids.
const (
	PrefixBook    = "book"
	PrefixSession = "sess"
)

// Generate creates a prefixed NanoID, e.g. "sess-V1StGXR8_Z5jdHi6B-myT".
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// Sortable creates a prefixed ULID. Ids made later sort after earlier ones,
// so library listings ordered by id follow import order.
func Sortable(prefix string) string {
	return prefix + "-" + ulid.Make().String()
}
