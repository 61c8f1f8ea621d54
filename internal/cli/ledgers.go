package cli

import (
	"context"
	"errors"
)

// ErrNoStore is returned by ledger management commands when the ledger is kept in memory only.
var ErrNoStore = errors.New("no ledger store configured (set redis.addr or store.dir)")

// ListLedgers returns the IDs of the ledgers held in the store.
func ListLedgers(ctx context.Context, s *Stack) ([]string, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.List(ctx)
}

// DeleteLedger removes a ledger from the store.
func DeleteLedger(ctx context.Context, s *Stack, id string) error {
	if s.store == nil {
		return ErrNoStore
	}
	return s.store.Delete(ctx, id)
}
