package catset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-process Cache backed by go-cache.
type MemoryCache struct {
	c *gocache.Cache
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache returns a cache whose entries expire after ttl
// (zero = never).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	exp := gocache.NoExpiration
	if ttl > 0 {
		exp = ttl
	}
	return &MemoryCache{c: gocache.New(exp, 10*time.Minute)}
}

// Key hashes value so long captions make compact keys.
func (m *MemoryCache) Key(prefix, value string) string {
	sum := sha256.Sum256([]byte(value))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// Get copies a cached value into dest, which must be a non-nil pointer to
// the stored type.
func (m *MemoryCache) Get(_ context.Context, key string, dest any) bool {
	v, ok := m.c.Get(key)
	if !ok {
		return false
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return false
	}
	sv := reflect.ValueOf(v)
	if !sv.Type().AssignableTo(dv.Elem().Type()) {
		return false
	}
	dv.Elem().Set(sv)
	return true
}

func (m *MemoryCache) Set(_ context.Context, key string, value any) {
	m.c.SetDefault(key, value)
}
