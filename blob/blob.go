// Package blob abstracts receipt-image storage. The engine touches it
// only while creating or deleting receipts, never during settlement.
package blob

import (
	"context"
	"fmt"
	"sync"
)

// Storage persists opaque blobs and addresses them by URL.
type Storage interface {
	// Store writes the blob and returns a stable URL for it.
	Store(ctx context.Context, data []byte, contentType string) (string, error)

	// Delete removes the blob at the given URL. Deleting a URL that is
	// already gone is not an error.
	Delete(ctx context.Context, url string) error
}

// Memory is an in-process Storage for tests and local development.
type Memory struct {
	mu    sync.Mutex
	next  int
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Store(_ context.Context, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	url := fmt.Sprintf("mem://blob/%d", m.next)
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[url] = cp
	return url, nil
}

func (m *Memory) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, url)
	return nil
}

// Get returns the stored bytes, for test assertions.
func (m *Memory) Get(url string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[url]
	return b, ok
}

// Len reports how many blobs are held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
