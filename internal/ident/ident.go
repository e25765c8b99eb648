// Package ident generates track identifiers.
package ident

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultPrefix namespaces every generated track identifier.
const DefaultPrefix = "track_"

// SuffixLength is the number of hex characters kept from the UUID.
const SuffixLength = 8

// Generator produces prefixed identifiers with a short random hex suffix.
type Generator struct {
	Prefix string
	// NewUUID can be replaced in tests to force collisions.
	NewUUID func() uuid.UUID
}

// New returns a generator using the given prefix.
func New(prefix string) *Generator {
	return &Generator{Prefix: prefix, NewUUID: uuid.New}
}

// Next returns a new identifier such as "track_3f2a9c1e".
func (g *Generator) Next() string {
	newUUID := g.NewUUID
	if newUUID == nil {
		newUUID = uuid.New
	}
	hex := strings.ReplaceAll(newUUID().String(), "-", "")
	return g.Prefix + hex[:SuffixLength]
}

// Valid reports whether id has the shape produced by a generator with prefix.
func Valid(prefix, id string) bool {
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	suffix := id[len(prefix):]
	if len(suffix) != SuffixLength {
		return false
	}
	for _, r := range suffix {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}
