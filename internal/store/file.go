package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/models"
)

// FileBackend stores the document as pretty-printed JSON in a single file.
// Writes go through a temporary file and a rename so a crash never leaves a
// truncated document behind.
type FileBackend struct {
	path string
}

// NewFileBackend opens path, creating it with an empty document if absent.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, apperrors.NewPersistenceError("open", errors.New("path is required"))
	}
	b := &FileBackend{path: path}
	if err := b.ensure(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *FileBackend) ensure() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return apperrors.NewPersistenceError("open", err)
	}
	if _, err := os.Stat(b.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return apperrors.NewPersistenceError("open", err)
	}
	return b.write(normalize(nil))
}

// Load reads and decodes the whole file.
func (b *FileBackend) Load(_ context.Context) (*models.Document, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := b.ensure(); err != nil {
			return nil, err
		}
		return normalize(nil), nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("load", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return normalize(nil), nil
	}

	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewPersistenceError("load", fmt.Errorf("decode %s: %w", b.path, err))
	}
	return normalize(&doc), nil
}

// Save encodes doc and replaces the file.
func (b *FileBackend) Save(_ context.Context, doc *models.Document) error {
	return b.write(normalize(doc.Clone()))
}

func (b *FileBackend) write(doc *models.Document) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return apperrors.NewPersistenceError("save", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".watchlists-*.json")
	if err != nil {
		return apperrors.NewPersistenceError("save", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.NewPersistenceError("save", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperrors.NewPersistenceError("save", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewPersistenceError("save", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return apperrors.NewPersistenceError("save", err)
	}
	return nil
}

// Close is a no-op.
func (b *FileBackend) Close() error { return nil }
