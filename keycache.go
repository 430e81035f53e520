package sealmail

import (
	"bytes"
	"strings"
	"sync"
)

// MemoryKeyCache is an in-process KeyCache. Addresses are compared
// case-insensitively.
type MemoryKeyCache struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryKeyCache creates an empty cache.
func NewMemoryKeyCache() *MemoryKeyCache {
	return &MemoryKeyCache{keys: make(map[string][]byte)}
}

// Get implements KeyCache.
func (c *MemoryKeyCache) Get(addr string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[normalizeAddress(addr)]
	if !ok {
		return nil, false
	}
	return bytes.Clone(key), true
}

// Put implements KeyCache.
func (c *MemoryKeyCache) Put(addr string, key []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[normalizeAddress(addr)] = bytes.Clone(key)
	return nil
}

// Len returns the number of cached keys.
func (c *MemoryKeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
