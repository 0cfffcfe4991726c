package embedding

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache is the persistent text-to-vector cache. The raw text is the key;
// no normalization is applied, so whitespace or casing changes miss. The
// file is rewritten synchronously on every store, and entries are only
// removed through explicit invalidation.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string][]float32
}

// NewCache loads the cache file at path if it exists and returns an
// explicitly owned cache object for injection into an Index.
func NewCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string][]float32)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding cache: %w", err)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("failed to parse embedding cache: %w", err)
	}
	return c, nil
}

func (c *Cache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.entries[text]
	return vec, ok
}

// Put stores the vector and persists the whole cache file.
func (c *Cache) Put(text string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[text] = vec
	return c.save()
}

// PutAll stores several vectors with a single file write.
func (c *Cache) PutAll(vectors map[string][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for text, vec := range vectors {
		c.entries[text] = vec
	}
	return c.save()
}

// Invalidate removes one entry and persists.
func (c *Cache) Invalidate(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, text)
	return c.save()
}

// Clear drops every entry and persists the empty cache.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]float32)
	return c.save()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	data, err := json.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding cache: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	return nil
}
