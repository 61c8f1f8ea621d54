package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/config"
	"github.com/aretw0/weft/internal/metrics"
	"github.com/aretw0/weft/pkg/adapters/file"
	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/adapters/redis"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/persistence/middleware"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// Stack is an engine together with the adapters built around it from a Config.
type Stack struct {
	Config    config.Config
	Engine    *weft.Engine
	Directory *memory.Directory
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Publisher is set when the ledger is shared through redis.
	Publisher *redis.Publisher

	store  ports.SnapshotStore
	client *redis.Store
}

// NewStack builds the engine described by cfg. Extra options are applied last.
func NewStack(cfg config.Config, logger *slog.Logger, extra ...weft.Option) (*Stack, error) {
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("error registering metrics: %w", err)
	}

	s := &Stack{
		Config:    cfg,
		Directory: cfg.Directory(),
		Metrics:   m,
		Logger:    logger,
	}

	engineOpts := []weft.Option{
		weft.WithDirectory(s.Directory),
		weft.WithLedgerID(cfg.Ledger.ID),
		weft.WithVotingDelay(cfg.Ledger.VotingDelay),
		weft.WithWaitTimeout(cfg.Ledger.WaitTimeout),
		weft.WithBiasPolicy(cfg.BiasPolicy()),
		weft.WithLogger(logger),
		weft.WithLifecycleHooks(m.Hooks()),
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		engineOpts = append(engineOpts, weft.WithLifecycleHooks(createDebugHooks(logger)))
	}

	switch {
	case cfg.Redis.Addr != "":
		s.client = redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL),
		)
		s.store = s.client
		engineOpts = append(engineOpts,
			weft.WithLocker(redis.NewLocker(s.client.Client(), cfg.Redis.Prefix)),
			weft.WithLockTTL(cfg.Redis.LockTTL),
		)
		s.Publisher = redis.NewPublisher(s.client.Client(), cfg.Redis.Prefix, cfg.Ledger.ID, logger)
	case cfg.Store.Dir != "":
		s.store = file.New(cfg.Store.Dir)
	}

	if s.store != nil {
		enc, err := cfg.Store.Encryption()
		if err != nil {
			return nil, errors.Join(err, s.Close())
		}
		if enc != nil {
			seal, err := middleware.NewEncryptionMiddleware(*enc)
			if err != nil {
				return nil, errors.Join(err, s.Close())
			}
			s.store = seal(s.store)
		}
		engineOpts = append(engineOpts, weft.WithStore(s.store))
	}

	s.Engine, err = weft.New(append(engineOpts, extra...)...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error initializing engine: %w", err), s.Close())
	}
	return s, nil
}

// Close releases the redis connection, if any.
func (s *Stack) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func createDebugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnSubmit: func(_ context.Context, e *domain.Event) {
			if e.Interaction != nil {
				logger.Debug("Submit", "index", e.Interaction.Index, "task", e.Interaction.Key().String(), "domain", e.Domain)
			}
		},
		OnVote: func(_ context.Context, e *domain.Event) {
			logger.Debug("Vote", "domain", e.Domain, "voter", e.Address, "order", e.Order, "external", e.External)
		},
		OnConflict: func(_ context.Context, e *domain.Event) {
			logger.Debug("Conflict", "domain", e.Domain, "voter", e.Address, "index", e.Order)
		},
		OnCommit: func(_ context.Context, e *domain.Event) {
			logger.Debug("Commit", "domain", e.Domain, "order", e.Order, "released", e.Released)
		},
		OnPhaseChange: func(_ context.Context, e *domain.Event) {
			logger.Debug("Phase", "epoch", e.Epoch, "phase", e.Phase)
		},
	}
}
