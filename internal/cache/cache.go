// Package cache stores metadata lookup responses so repeated registrations
// of the same title do not hit the lookup service again.
package cache

import (
	"context"
	"fmt"
	"time"

	"soundprint/internal/config"
)

// Store is a byte-oriented key/value cache with expiry.
type Store interface {
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	Store(ctx context.Context, key string, value []byte) error
	Close() error
}

// New builds the backend selected in configuration.
func New(cfg config.CacheConfig) (Store, error) {
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(ttl), nil
	case "redis":
		return NewRedisStore(cfg)
	case "none", "":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// NopStore never caches anything.
type NopStore struct{}

func (NopStore) Lookup(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NopStore) Store(context.Context, string, []byte) error          { return nil }
func (NopStore) Close() error                                         { return nil }
