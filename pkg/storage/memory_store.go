package storage

import (
	"context"
	"io"
	"strings"
	"sync"
)

// MemoryObjectStore holds objects in-process for tests and local development.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	baseURL string
}

// NewMemoryObjectStore initializes an empty in-memory object store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string][]byte),
		baseURL: "https://objects.local/gifts/",
	}
}

// Put stores an object.
func (m *MemoryObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (m *MemoryObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// PublicURL returns the stable URL for a key.
func (m *MemoryObjectStore) PublicURL(key string) string {
	return m.baseURL + key
}

// KeyForURL extracts the object key from a URL produced by PublicURL.
func (m *MemoryObjectStore) KeyForURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, m.baseURL)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// Has reports whether a key currently exists.
func (m *MemoryObjectStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}
