package weft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/internal/runtime"
	"github.com/aretw0/weft/pkg/bias"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ledger"
	"github.com/aretw0/weft/pkg/ports"
)

// DefaultLedgerID is the ledger ID used when none is configured.
const DefaultLedgerID = "default"

// Engine is the high-level entry point for the Weft library.
// It wraps the epoch controller with locking and, when a store is configured, durable state.
type Engine struct {
	runtime   *runtime.Controller
	manager   *ledger.Manager
	directory ports.TaskDirectory
	store     ports.SnapshotStore
	locker    ports.DistributedLocker
	ledgerID  string
	hooks     domain.LifecycleHooks
	policy    bias.Policy
	delay     *uint64
	wait      time.Duration
	lockTTL   time.Duration
	logger    *slog.Logger

	// stale forces the next sync to reload even when revisions match.
	stale atomic.Bool
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithDirectory sets the participant directory. Required.
func WithDirectory(d ports.TaskDirectory) Option {
	return func(e *Engine) {
		e.directory = d
	}
}

// WithStore persists the ledger after every mutation and reloads it when another replica wrote.
func WithStore(s ports.SnapshotStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithLocker serializes operations across replicas sharing a store.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithLockTTL bounds how long a replica may hold the ledger lock.
func WithLockTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = d
	}
}

// WithLedgerID names the ledger in the store (default: "default").
func WithLedgerID(id string) Option {
	return func(e *Engine) {
		e.ledgerID = id
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Combine(hooks)
	}
}

// WithBiasPolicy sets the fairness policy applied to proposals.
func WithBiasPolicy(p bias.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithVotingDelay sets how many blocks the pool collects before voting opens.
func WithVotingDelay(blocks uint64) Option {
	return func(e *Engine) {
		e.delay = &blocks
	}
}

// WithWaitTimeout bounds waits whose context carries no deadline.
func WithWaitTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.wait = d
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New initializes a ledger engine.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{ledgerID: DefaultLedgerID}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.directory == nil {
		return nil, fmt.Errorf("a task directory is required (use WithDirectory)")
	}
	if eng.ledgerID == "" {
		return nil, fmt.Errorf("ledger ID must not be empty")
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	eng.logger = eng.logger.With("ledger", eng.ledgerID)

	runtimeOpts := []runtime.Option{
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithLogger(eng.logger),
		runtime.WithBiasPolicy(eng.policy),
		runtime.WithWaitTimeout(eng.wait),
	}
	if eng.delay != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithVotingDelay(*eng.delay))
	}
	eng.runtime = runtime.NewController(eng.directory, runtimeOpts...)

	managerOpts := []ledger.Option{ledger.WithLogger(eng.logger)}
	if eng.locker != nil {
		managerOpts = append(managerOpts, ledger.WithLocker(eng.locker))
	}
	if eng.lockTTL > 0 {
		managerOpts = append(managerOpts, ledger.WithLockTTL(eng.lockTTL))
	}
	eng.manager = ledger.NewManager(eng.store, managerOpts...)

	return eng, nil
}

// LedgerID returns the ID the engine persists under.
func (e *Engine) LedgerID() string {
	return e.ledgerID
}

// mutate runs fn under the ledger lock on fresh state and persists the result if it changed.
func (e *Engine) mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.manager.WithLock(ctx, e.ledgerID, func(ctx context.Context) error {
		if err := e.sync(ctx); err != nil {
			return err
		}
		var prev domain.Snapshot
		if e.manager.Persistent() {
			prev = e.runtime.Snapshot()
		}
		before := e.runtime.Revision()
		opErr := fn(ctx)
		if e.runtime.Revision() == before {
			return opErr
		}
		snap := e.runtime.Snapshot()
		if err := e.manager.Save(ctx, e.ledgerID, &snap); err != nil {
			e.logger.Error("Failed to persist ledger", "revision", snap.Revision, "err", err)
			// Unsaved changes must not survive: another replica may claim the same revision.
			if rerr := e.runtime.Restore(prev); rerr != nil {
				e.logger.Error("Failed to roll back ledger", "revision", prev.Revision, "err", rerr)
				e.stale.Store(true)
			}
			return errors.Join(opErr, err)
		}
		return opErr
	})
}

// read runs fn on fresh state. Without a store the local state is always current.
func (e *Engine) read(ctx context.Context, fn func()) error {
	if !e.manager.Persistent() {
		fn()
		return nil
	}
	return e.manager.WithLock(ctx, e.ledgerID, func(ctx context.Context) error {
		if err := e.sync(ctx); err != nil {
			return err
		}
		fn()
		return nil
	})
}

// sync replaces local state with the stored snapshot when another writer moved it.
func (e *Engine) sync(ctx context.Context) error {
	snap, err := e.manager.Load(ctx, e.ledgerID)
	if errors.Is(err, domain.ErrLedgerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if snap.Revision == e.runtime.Revision() && !e.stale.Load() {
		return nil
	}
	e.logger.Debug("Reloading ledger", "local_revision", e.runtime.Revision(), "stored_revision", snap.Revision)
	if err := e.runtime.Restore(*snap); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransientSubmission, err)
	}
	e.stale.Store(false)
	return nil
}

// Refresh reloads the ledger from the store if another replica changed it.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.read(ctx, func() {})
}

// Submit records an interaction for a task and returns its index.
func (e *Engine) Submit(ctx context.Context, caller string, key domain.TaskKey) (uint64, error) {
	var idx uint64
	err := e.mutate(ctx, func(ctx context.Context) error {
		var err error
		idx, err = e.runtime.Submit(ctx, caller, key)
		return err
	})
	return idx, err
}

// Vote submits caller's proposed order for a domain.
func (e *Engine) Vote(ctx context.Context, caller string, id domain.DomainID, order []uint64) (domain.VoteResult, error) {
	var res domain.VoteResult
	err := e.mutate(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.runtime.Vote(ctx, caller, id, order)
		return err
	})
	return res, err
}

// VoteExternal submits an override orderer's proposed order over the whole pool.
func (e *Engine) VoteExternal(ctx context.Context, caller string, order []uint64) (domain.VoteResult, error) {
	var res domain.VoteResult
	err := e.mutate(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.runtime.VoteExternal(ctx, caller, order)
		return err
	})
	return res, err
}

// Release commits a release-eligible domain without voting.
func (e *Engine) Release(ctx context.Context, id domain.DomainID) (domain.Commit, error) {
	var c domain.Commit
	err := e.mutate(ctx, func(ctx context.Context) error {
		var err error
		c, err = e.runtime.Release(ctx, id)
		return err
	})
	return c, err
}

// ReleaseAll commits every release-eligible domain.
func (e *Engine) ReleaseAll(ctx context.Context) ([]domain.Commit, error) {
	var commits []domain.Commit
	err := e.mutate(ctx, func(ctx context.Context) error {
		var err error
		commits, err = e.runtime.ReleaseAll(ctx)
		return err
	})
	return commits, err
}

// Tick advances the ledger by one block.
func (e *Engine) Tick(ctx context.Context) (domain.Epoch, error) {
	var ep domain.Epoch
	err := e.mutate(ctx, func(ctx context.Context) error {
		ep = e.runtime.Tick(ctx)
		return nil
	})
	return ep, err
}

// TickN advances the ledger by n blocks.
func (e *Engine) TickN(ctx context.Context, n int) (domain.Epoch, error) {
	var ep domain.Epoch
	err := e.mutate(ctx, func(ctx context.Context) error {
		for range n {
			ep = e.runtime.Tick(ctx)
		}
		return nil
	})
	return ep, err
}

// CompleteTask signals that a committed task finished executing.
func (e *Engine) CompleteTask(ctx context.Context, key domain.TaskKey) error {
	return e.mutate(ctx, func(ctx context.Context) error {
		return e.runtime.CompleteTask(ctx, key)
	})
}

// Designate makes addrs the external orderers from epoch fromEpoch on.
func (e *Engine) Designate(ctx context.Context, addrs []string, fromEpoch uint64) error {
	if len(addrs) == 0 {
		return fmt.Errorf("designating external orderers: empty address set")
	}
	return e.mutate(ctx, func(ctx context.Context) error {
		e.runtime.Designate(addrs, fromEpoch)
		return nil
	})
}

// Revoke invalidates every external designation.
func (e *Engine) Revoke(ctx context.Context) error {
	return e.mutate(ctx, func(ctx context.Context) error {
		e.runtime.Revoke()
		return nil
	})
}

// Pending returns every pending interaction index.
func (e *Engine) Pending(ctx context.Context) ([]uint64, error) {
	var out []uint64
	err := e.read(ctx, func() { out = e.runtime.Pending() })
	return out, err
}

// PendingFor returns the pending indices of a domain that involve addr.
func (e *Engine) PendingFor(ctx context.Context, id domain.DomainID, addr string) ([]uint64, error) {
	var (
		out  []uint64
		qerr error
	)
	err := e.read(ctx, func() { out, qerr = e.runtime.PendingFor(id, addr) })
	return out, errors.Join(err, qerr)
}

// Domain returns a snapshot of a domain.
func (e *Engine) Domain(ctx context.Context, id domain.DomainID) (domain.DomainSnapshot, error) {
	var (
		out  domain.DomainSnapshot
		qerr error
	)
	err := e.read(ctx, func() { out, qerr = e.runtime.Domain(id) })
	return out, errors.Join(err, qerr)
}

// Domains returns the live domains and those resolved in the current epoch.
func (e *Engine) Domains(ctx context.Context) ([]domain.DomainSnapshot, error) {
	var out []domain.DomainSnapshot
	err := e.read(ctx, func() { out = e.runtime.Domains() })
	return out, err
}

// DomainCount returns the number of domain IDs ever allocated.
func (e *Engine) DomainCount(ctx context.Context) (int, error) {
	var n int
	err := e.read(ctx, func() { n = e.runtime.DomainCount() })
	return n, err
}

// Interaction returns the interaction with the given index.
func (e *Engine) Interaction(ctx context.Context, index uint64) (domain.Interaction, error) {
	var (
		out domain.Interaction
		ok  bool
	)
	if err := e.read(ctx, func() { out, ok = e.runtime.Interaction(index) }); err != nil {
		return domain.Interaction{}, err
	}
	if !ok {
		return domain.Interaction{}, fmt.Errorf("%w: %d", domain.ErrInteractionNotFound, index)
	}
	return out, nil
}

// Epoch returns the current epoch.
func (e *Engine) Epoch(ctx context.Context) (domain.Epoch, error) {
	var out domain.Epoch
	err := e.read(ctx, func() { out = e.runtime.Epoch() })
	return out, err
}

// CanVote reports whether the voting window is open.
func (e *Engine) CanVote(ctx context.Context) (bool, error) {
	ep, err := e.Epoch(ctx)
	return ep.CanVote, err
}

// CanRelease reports whether some domain can be released.
func (e *Engine) CanRelease(ctx context.Context) (bool, error) {
	ep, err := e.Epoch(ctx)
	return ep.CanRelease, err
}

// ExternalOrderers returns the override set valid for epoch.
func (e *Engine) ExternalOrderers(ctx context.Context, epoch uint64) ([]string, error) {
	var out []string
	err := e.read(ctx, func() { out = e.runtime.ExternalOrderers(epoch) })
	return out, err
}

// Committed returns every committed order, oldest first.
func (e *Engine) Committed(ctx context.Context) ([]domain.Commit, error) {
	var out []domain.Commit
	err := e.read(ctx, func() { out = e.runtime.Committed() })
	return out, err
}

// Snapshot returns the full ledger state.
func (e *Engine) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var out domain.Snapshot
	err := e.read(ctx, func() { out = e.runtime.Snapshot() })
	return out, err
}

// Subscribe streams events of this engine until the returned function is called.
// Events produced by other replicas are not included; see the redis Publisher for that.
func (e *Engine) Subscribe() (<-chan domain.Event, func()) {
	return e.runtime.Subscribe()
}

// WaitForPhase blocks until the ledger reaches phase p or ctx ends.
func (e *Engine) WaitForPhase(ctx context.Context, p domain.Phase) (domain.Epoch, error) {
	return e.runtime.WaitForPhase(ctx, p)
}

// WaitCanVote blocks until the voting window opens or ctx ends.
func (e *Engine) WaitCanVote(ctx context.Context) (domain.Epoch, error) {
	return e.runtime.WaitCanVote(ctx)
}

// WaitCanRelease blocks until some domain can be released or ctx ends.
func (e *Engine) WaitCanRelease(ctx context.Context) (domain.Epoch, error) {
	return e.runtime.WaitCanRelease(ctx)
}

var _ ports.Sequencer = (*Engine)(nil)
