package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ledger"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
}

func (s SlowStore) Load(ctx context.Context, ledgerID string) (*domain.Snapshot, error) {
	time.Sleep(2 * time.Millisecond)
	return s.Store.Load(ctx, ledgerID)
}

func TestManager_ReadModifyWrite(t *testing.T) {
	store := SlowStore{memory.NewStore()}
	manager := ledger.NewManager(store)
	ctx := context.Background()
	id := "race-test"

	var wg sync.WaitGroup
	writers := 20
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.WithLock(ctx, id, func(ctx context.Context) error {
				snap, err := manager.Load(ctx, id)
				if errors.Is(err, domain.ErrLedgerNotFound) {
					snap, err = &domain.Snapshot{}, nil
				}
				if err != nil {
					return err
				}
				snap.Revision++
				return manager.Save(ctx, id, snap)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := manager.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(writers), snap.Revision, "no lost updates")
}

type failingStore struct{}

func (failingStore) Load(context.Context, string) (*domain.Snapshot, error) {
	return nil, errors.New("i/o timeout")
}

func (failingStore) Save(context.Context, string, *domain.Snapshot) error {
	return errors.New("i/o timeout")
}

func (failingStore) Delete(context.Context, string) error   { return nil }
func (failingStore) List(context.Context) ([]string, error) { return nil, nil }

func TestManager_StoreFailuresAreTransient(t *testing.T) {
	manager := ledger.NewManager(failingStore{})
	ctx := context.Background()

	_, err := manager.Load(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrTransientSubmission)

	err = manager.Save(ctx, "x", &domain.Snapshot{})
	assert.ErrorIs(t, err, domain.ErrTransientSubmission)
}

type refusingLocker struct{}

func (refusingLocker) Lock(context.Context, string, time.Duration) (ports.UnlockFunc, error) {
	return nil, errors.New("lock held elsewhere")
}

func TestManager_LockerFailure(t *testing.T) {
	manager := ledger.NewManager(nil, ledger.WithLocker(refusingLocker{}))
	called := false
	err := manager.WithLock(context.Background(), "x", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrTransientSubmission)
	assert.False(t, called)
}

func TestManager_NoStore(t *testing.T) {
	manager := ledger.NewManager(nil)
	ctx := context.Background()

	assert.False(t, manager.Persistent())
	require.NoError(t, manager.Save(ctx, "x", &domain.Snapshot{}))
	_, err := manager.Load(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrLedgerNotFound)
}
