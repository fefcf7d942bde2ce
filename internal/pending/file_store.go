package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists the pending purchase as a single JSON file under
// the user config directory, so it survives the authentication
// redirect and process restarts.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// DefaultPath resolves the per-profile storage location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "prepdeck", "pending_purchase.json"), nil
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create pending dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode pending purchase: %w", err)
	}
	// Write-then-rename so a crash never leaves a torn record.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write pending purchase: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit pending purchase: %w", err)
	}
	return nil
}

// Consume implements Store. The file is removed before the record is
// returned, so a concurrent or repeated call observes ErrNoPending.
func (s *FileStore) Consume(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return Record{}, err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("clear pending purchase: %w", err)
	}
	return rec, nil
}

// Peek implements Store.
func (s *FileStore) Peek(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNoPending
		}
		return Record{}, fmt.Errorf("read pending purchase: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record is unusable; treat as absent rather than
		// wedging every future purchase.
		_ = os.Remove(s.path)
		return Record{}, ErrNoPending
	}
	return rec, nil
}
