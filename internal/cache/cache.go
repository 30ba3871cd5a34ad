package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 6 * time.Hour
)

// TTL is a size-bounded cache whose entries expire after a fixed time.
// Safe for concurrent use.
type TTL[V any] struct {
	lru *expirable.LRU[string, V]
}

func New[V any](size int, ttl time.Duration) *TTL[V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

func (c *TTL[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

func (c *TTL[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

func (c *TTL[V]) Len() int {
	return c.lru.Len()
}

func (c *TTL[V]) Purge() {
	c.lru.Purge()
}

// Key hashes the given parts into a fixed-length cache key.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
