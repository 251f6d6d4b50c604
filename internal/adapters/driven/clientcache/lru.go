// Package clientcache keeps remote store clients for reuse across operations.
package clientcache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

// DefaultSize bounds the number of distinct connection configurations kept.
const DefaultSize = 32

var _ driven.ClientCache = (*LRU)(nil)

// LRU is a size-bounded ClientCache. Least recently used clients are evicted first.
type LRU struct {
	cache *lru.Cache
}

// NewLRU creates a cache holding at most size clients. size <= 0 uses DefaultSize.
func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create client cache: %w", err)
	}
	return &LRU{cache: c}, nil
}

// Get returns the cached client for key.
func (l *LRU) Get(key string) (driven.RemoteStore, bool) {
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	client, ok := v.(driven.RemoteStore)
	return client, ok
}

// Put stores a client under key.
func (l *LRU) Put(key string, client driven.RemoteStore) {
	l.cache.Add(key, client)
}

// Len returns the number of cached clients.
func (l *LRU) Len() int {
	return l.cache.Len()
}
