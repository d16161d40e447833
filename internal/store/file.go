package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the user document in one JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read user data: %w", err)
	}
	return raw, nil
}

// Merge applies a shallow top-level merge and returns the written document.
// An unparseable existing file is left untouched and reported.
func (s *FileStore) Merge(_ context.Context, fields map[string]json.RawMessage) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read user data: %w", err)
	}
	doc, err := ParseDocument(current)
	if err != nil {
		return nil, err
	}
	doc.Merge(fields)
	out, err := doc.Encode()
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(s.path, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Replace overwrites the whole document.
func (s *FileStore) Replace(_ context.Context, raw []byte) error {
	doc, err := ParseDocument(raw)
	if err != nil {
		return err
	}
	out, err := doc.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, out)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create user data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".user_data-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace user data: %w", err)
	}
	return nil
}
