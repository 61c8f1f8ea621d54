package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates ledger access, ensuring safe concurrent operations.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.SnapshotStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL requested for distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager. store may be nil, in which case Load reports
// domain.ErrLedgerNotFound and Save is a no-op.
func NewManager(store ports.SnapshotStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST lock entry.mu, and then call release(ledgerID) after unlocking.
func (m *Manager) acquire(ledgerID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[ledgerID]
	if !exists {
		entry = &lockEntry{}
		m.locks[ledgerID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(ledgerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[ledgerID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, ledgerID)
	}
}

// Persistent reports whether the manager has a backing store.
func (m *Manager) Persistent() bool {
	return m.store != nil
}

// Load retrieves a ledger snapshot without taking the lock.
// Use it inside WithLock for read-modify-write sequences.
func (m *Manager) Load(ctx context.Context, ledgerID string) (*domain.Snapshot, error) {
	if m.store == nil {
		return nil, domain.ErrLedgerNotFound
	}
	snap, err := m.store.Load(ctx, ledgerID)
	if err != nil && !errors.Is(err, domain.ErrLedgerNotFound) {
		return nil, fmt.Errorf("%w: loading ledger %s: %w", domain.ErrTransientSubmission, ledgerID, err)
	}
	return snap, err
}

// Save persists a ledger snapshot without taking the lock.
func (m *Manager) Save(ctx context.Context, ledgerID string, snap *domain.Snapshot) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, ledgerID, snap); err != nil {
		return fmt.Errorf("%w: saving ledger %s: %w", domain.ErrTransientSubmission, ledgerID, err)
	}
	return nil
}

// Delete removes the ledger from the store.
func (m *Manager) Delete(ctx context.Context, ledgerID string) error {
	return m.WithLock(ctx, ledgerID, func(ctx context.Context) error {
		if m.store == nil {
			return nil
		}
		return m.store.Delete(ctx, ledgerID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.List(ctx)
}

// WithLock executes a function while holding the lock for the ledger.
func (m *Manager) WithLock(ctx context.Context, ledgerID string, fn func(context.Context) error) error {
	entry := m.acquire(ledgerID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(ledgerID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, ledgerID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("%w: acquiring distributed lock: %w", domain.ErrTransientSubmission, err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"ledger_id", ledgerID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
