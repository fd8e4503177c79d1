package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/zmcp/tap-aptem/internal/singer"
)

// FileStore keeps state in a JSON file
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file state backend needs a state_uri path")
	}
	return &FileStore{path: path}, nil
}

// Load implements Store
func (s *FileStore) Load(ctx context.Context) (*singer.State, error) {
	st, err := singer.ReadStateFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return singer.NewState(), nil
	}
	return st, err
}

// Save writes the state through a temp file and rename
func (s *FileStore) Save(ctx context.Context, st *singer.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Close implements Store
func (s *FileStore) Close() error { return nil }
