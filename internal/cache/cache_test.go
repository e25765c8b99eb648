package cache

import (
	"context"
	"testing"
	"time"

	"soundprint/internal/config"

	"github.com/redis/go-redis/v9"
)

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(50 * time.Millisecond)
	defer c.Close()

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("Expected cached value 1, got %v (%v)", v, ok)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Error("Expected entry to expire")
	}
}

func TestMemoryCacheDeleteAndClear(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()

	c.Set("a", "x")
	c.Set("b", "y")
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("Expected a to be deleted")
	}
	if c.Size() != 1 {
		t.Errorf("Expected size 1, got %d", c.Size())
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Expected size 0, got %d", c.Size())
	}
	// Closing twice is safe.
	c.Close()
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()
	ctx := context.Background()

	value := []byte("hello")
	if err := s.Store(ctx, "k", value); err != nil {
		t.Fatal(err)
	}
	value[0] = 'j'

	got, ok, err := s.Lookup(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != "hello" {
		t.Errorf("Expected stored copy, got %q", got)
	}

	if _, ok, _ := s.Lookup(ctx, "missing"); ok {
		t.Error("Expected miss for unknown key")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	testCases := []struct {
		backend string
		check   func(Store) bool
	}{
		{"memory", func(s Store) bool { _, ok := s.(*MemoryStore); return ok }},
		{"none", func(s Store) bool { _, ok := s.(NopStore); return ok }},
	}
	for _, tc := range testCases {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := config.DefaultConfig().Cache
			cfg.Backend = tc.backend
			s, err := New(cfg)
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			defer s.Close()
			if !tc.check(s) {
				t.Errorf("Unexpected store type %T", s)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		cfg := config.DefaultConfig().Cache
		cfg.Backend = "memcached"
		if _, err := New(cfg); err == nil {
			t.Error("Expected error for unknown backend")
		}
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := config.DefaultConfig().Cache
		cfg.Backend = "redis"
		cfg.RedisAddr = "127.0.0.1:1"
		if _, err := New(cfg); err == nil {
			t.Error("Expected connection error for unreachable redis")
		}
	})
}

func TestNopStore(t *testing.T) {
	var s NopStore
	if err := s.Store(context.Background(), "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Lookup(context.Background(), "k"); ok {
		t.Error("NopStore should never hit")
	}
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	s := NewRedisStoreWithClient(client, "soundprint:lookup:", time.Minute)
	defer s.Close()

	if got := s.Key("daft punk"); got != "soundprint:lookup:daft punk" {
		t.Errorf("Unexpected key %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, _, err := s.Lookup(ctx, "anything"); err == nil {
		t.Error("Expected error when redis is unreachable")
	}
}
