package ports

import (
	"context"

	"github.com/aretw0/weft/pkg/domain"
)

// SnapshotStore defines the interface for persisting ledger state.
// This allows a ledger to survive restarts and to be shared by several replicas.
type SnapshotStore interface {
	// Save persists the snapshot for a given ledger ID.
	Save(ctx context.Context, ledgerID string, snap *domain.Snapshot) error

	// Load retrieves the snapshot for a given ledger ID.
	// Returns domain.ErrLedgerNotFound if the ledger does not exist.
	Load(ctx context.Context, ledgerID string) (*domain.Snapshot, error)

	// Delete removes the snapshot for a given ledger ID.
	Delete(ctx context.Context, ledgerID string) error

	// List returns the IDs of the stored ledgers.
	List(ctx context.Context) ([]string, error)
}
