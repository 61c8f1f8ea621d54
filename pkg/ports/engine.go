package ports

import (
	"context"

	"github.com/aretw0/weft/pkg/domain"
)

// Sequencer defines the ledger operations exposed to adapters and drivers.
type Sequencer interface {
	// Submit records an interaction and returns its index. Idempotent per task.
	Submit(ctx context.Context, caller string, key domain.TaskKey) (uint64, error)

	// Vote submits caller's proposed order for a domain.
	Vote(ctx context.Context, caller string, id domain.DomainID, order []uint64) (domain.VoteResult, error)

	// VoteExternal submits an override orderer's proposed order for the whole pool.
	VoteExternal(ctx context.Context, caller string, order []uint64) (domain.VoteResult, error)

	// Release commits a release-eligible domain without voting.
	Release(ctx context.Context, id domain.DomainID) (domain.Commit, error)

	// ReleaseAll commits every release-eligible domain.
	ReleaseAll(ctx context.Context) ([]domain.Commit, error)

	// Tick advances the ledger by one block.
	Tick(ctx context.Context) (domain.Epoch, error)

	// CompleteTask signals that a committed task finished executing. Anything else
	// returns domain.ErrTaskNotOpen.
	CompleteTask(ctx context.Context, key domain.TaskKey) error

	// Designate makes addrs the external orderers from epoch on.
	Designate(ctx context.Context, addrs []string, fromEpoch uint64) error

	// Revoke invalidates every external designation.
	Revoke(ctx context.Context) error

	Pending(ctx context.Context) ([]uint64, error)
	PendingFor(ctx context.Context, id domain.DomainID, addr string) ([]uint64, error)
	Domain(ctx context.Context, id domain.DomainID) (domain.DomainSnapshot, error)
	Domains(ctx context.Context) ([]domain.DomainSnapshot, error)
	Interaction(ctx context.Context, index uint64) (domain.Interaction, error)
	Epoch(ctx context.Context) (domain.Epoch, error)
	ExternalOrderers(ctx context.Context, epoch uint64) ([]string, error)
	Committed(ctx context.Context) ([]domain.Commit, error)

	// Subscribe streams ledger events until the returned cancel function is called.
	Subscribe() (<-chan domain.Event, func())
}
