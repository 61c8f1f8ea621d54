// Package file persists ledger snapshots as JSON files in a directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/weft/pkg/domain"
)

// DefaultDir is where snapshots are written when no directory is given.
var DefaultDir = filepath.Join(".weft", "ledgers")

// Store implements ports.SnapshotStore using the local filesystem, one JSON file per ledger.
// It suits a single daemon; replicas sharing a ledger need the redis store and locker.
type Store struct {
	BasePath string
}

// New creates a new Store with the given base path (default DefaultDir).
func New(basePath string) *Store {
	if basePath == "" {
		basePath = DefaultDir
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(ledgerID string) (string, error) {
	if ledgerID == "" {
		return "", fmt.Errorf("ledger ID cannot be empty")
	}
	if strings.ContainsAny(ledgerID, `/\`) || ledgerID == "." || ledgerID == ".." {
		return "", fmt.Errorf("invalid ledger ID %q", ledgerID)
	}
	return filepath.Join(s.BasePath, ledgerID+".json"), nil
}

// Save persists the snapshot atomically: it writes a temporary file in the same
// directory, syncs it and renames it over the destination.
func (s *Store) Save(ctx context.Context, ledgerID string, snap *domain.Snapshot) error {
	destPath, err := s.path(ledgerID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure ledger directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+ledgerID+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// On Windows, os.Rename fails if dest exists.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing ledger file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}

// Load reads a snapshot. A missing file is domain.ErrLedgerNotFound.
func (s *Store) Load(ctx context.Context, ledgerID string) (*domain.Snapshot, error) {
	filePath, err := s.path(ledgerID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrLedgerNotFound
		}
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Delete removes the ledger file. Deleting a missing ledger is not an error.
func (s *Store) Delete(ctx context.Context, ledgerID string) error {
	filePath, err := s.path(ledgerID)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete ledger file: %w", err)
	}
	return nil
}

// List returns the IDs of the stored ledgers.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list ledgers: %w", err)
	}

	var ledgers []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		ledgers = append(ledgers, strings.TrimSuffix(name, ".json"))
	}
	return ledgers, nil
}
