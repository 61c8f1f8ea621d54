package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore implementation
// adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	ledgerID := "contract-test-ledger-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		snap := &domain.Snapshot{
			Revision:  7,
			NextIndex: 2,
			Epoch:     domain.Epoch{Number: 3, IndexBlock: 1, Phase: domain.PhaseCollecting},
			Partition: domain.PartitionState{
				Interactions: []domain.Interaction{
					{Index: 0, InstanceID: 1, TaskName: "PurchaseOrder", Sender: "a", Receiver: "b"},
					{Index: 1, InstanceID: 2, TaskName: "PurchaseOrder", Sender: "c", Receiver: "b"},
				},
				Owner:      []domain.DomainID{1, 1},
				Addresses:  []string{"a", "b", "c"},
				Parent:     []int{0, 0, 0},
				SlotDomain: []domain.DomainID{1, 0, 0},
				Domains:    []domain.DomainRecord{{Alias: 1, Pending: []uint64{0, 1}, Orderers: []string{"a", "b", "c"}}},
			},
			Completions: map[string]uint64{"RefundResolution": 2},
		}

		err := store.Save(ctx, ledgerID, snap)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, ledgerID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, snap.Revision, loaded.Revision)
		assert.Equal(t, snap.Epoch, loaded.Epoch)
		assert.Equal(t, snap.Partition, loaded.Partition)
		assert.Equal(t, uint64(2), loaded.Completions["RefundResolution"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+ledgerID)
		assert.ErrorIs(t, err, domain.ErrLedgerNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, ledgerID, &domain.Snapshot{Revision: 1})
		require.NoError(t, err)

		err = store.Delete(ctx, ledgerID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, ledgerID)
		assert.ErrorIs(t, err, domain.ErrLedgerNotFound, "Load after Delete should return ErrLedgerNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := ledgerID + "-1"
		id2 := ledgerID + "-2"
		_ = store.Save(ctx, id1, &domain.Snapshot{Revision: 1})
		_ = store.Save(ctx, id2, &domain.Snapshot{Revision: 1})

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ledgers, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ledgers, id1)
		assert.Contains(t, ledgers, id2)
	})
}
