// Package localstore persists the guest-mode ledger as a single JSON
// file. Writes are atomic (temp file + rename) and a corrupt file is
// backed up rather than silently overwritten.
package localstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"classtrack/internal/ledger"
)

// Store is a whole-ledger JSON key-value store on disk.
type Store struct {
	path string
}

// New creates a store writing to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Load reads the persisted snapshot. A missing file yields an empty
// snapshot with default settings; a corrupt file is renamed aside and
// reported.
func (s *Store) Load() (ledger.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return ledger.Snapshot{Settings: ledger.DefaultSettings()}, nil
	}
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var snap ledger.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		backup := s.path + ".corrupt"
		_ = os.Rename(s.path, backup)
		return ledger.Snapshot{}, fmt.Errorf("corrupt JSON in %s (backed up to %s): %w", s.path, backup, err)
	}
	return snap, nil
}

// Save atomically writes the snapshot.
func (s *Store) Save(snap ledger.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Clear removes the persisted snapshot, used after a completed guest
// migration.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
