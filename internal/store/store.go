// Package store provides watchlist persistence backends.
package store

import (
	"context"
	"fmt"

	"ibkr-dashboard/internal/models"
)

// Backend persists the whole watchlist document. Load and Save always move
// the full document; callers serialise read-modify-write cycles themselves.
type Backend interface {
	Load(ctx context.Context) (*models.Document, error)
	Save(ctx context.Context, doc *models.Document) error
	Close() error
}

// Backend kinds accepted by Open.
const (
	KindJSON   = "json"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

// Open returns the backend named by kind, stored at path.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case KindJSON:
		return NewFileBackend(path)
	case KindSQLite:
		return NewSQLiteBackend(path)
	case KindMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// normalize replaces nil slices so an empty document or watchlist encodes
// as [] rather than null.
func normalize(doc *models.Document) *models.Document {
	if doc == nil {
		return &models.Document{Watchlists: []models.Watchlist{}}
	}
	if doc.Watchlists == nil {
		doc.Watchlists = []models.Watchlist{}
	}
	for i := range doc.Watchlists {
		if doc.Watchlists[i].Instruments == nil {
			doc.Watchlists[i].Instruments = []models.Instrument{}
		}
	}
	return doc
}
