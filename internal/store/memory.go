package store

import (
	"context"
	"sync"

	"ibkr-dashboard/internal/models"
)

// MemoryBackend keeps the document in process memory.
type MemoryBackend struct {
	mu  sync.RWMutex
	doc *models.Document
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{doc: normalize(nil)}
}

// Load returns a copy of the stored document.
func (m *MemoryBackend) Load(_ context.Context) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return normalize(m.doc.Clone()), nil
}

// Save replaces the stored document with a copy of doc.
func (m *MemoryBackend) Save(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = normalize(normalize(doc).Clone())
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error { return nil }
