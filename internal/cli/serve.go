package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/weft/internal/config"
	weftHttp "github.com/aretw0/weft/pkg/adapters/http"
	"github.com/aretw0/weft/pkg/adapters/process"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/driver"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long outstanding requests get once serving stops.
const shutdownTimeout = 5 * time.Second

// Handler returns the ledger API. Metrics are mounted at /metrics unless they have their own address.
func (s *Stack) Handler() http.Handler {
	r := chi.NewRouter()
	if s.Config.Metrics.Addr == "" {
		r.Handle("/metrics", s.Metrics.Handler())
	}
	r.Mount("/", weftHttp.NewHandler(s.Engine, weftHttp.WithLogger(s.Logger)))
	return r
}

// Serve runs the daemon until ctx ends: the HTTP API, the block clock, the coordinator when
// enabled, and event replication when the ledger lives in redis.
func Serve(ctx context.Context, s *Stack) error {
	var coord *driver.Coordinator
	if s.Config.Driver.Enabled {
		var err error
		if coord, err = NewCoordinator(s); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listen(ctx, s, s.Config.HTTP.Addr, s.Handler())
	})
	if s.Config.Metrics.Addr != "" {
		g.Go(func() error {
			return listen(ctx, s, s.Config.Metrics.Addr, s.Metrics.Handler())
		})
	}

	g.Go(func() error {
		return RunClock(ctx, s, s.Config.Ledger.BlockInterval)
	})

	if coord != nil {
		g.Go(func() error {
			return coord.Run(ctx, func(r driver.Report) {
				s.Logger.Info("Epoch resolved", "epoch", r.Epoch, "commits", len(r.Commits), "escalated", r.Escalated, "executed", r.Executed, "failed", len(r.Failed))
			})
		})
	}

	if s.Publisher != nil {
		events, cancel := s.Engine.Subscribe()
		g.Go(func() error {
			defer cancel()
			return s.Publisher.Forward(ctx, events)
		})
		g.Go(func() error {
			return s.Publisher.Listen(ctx, func(e domain.Event) {
				if err := s.Engine.Refresh(ctx); err != nil {
					s.Logger.Warn("Refresh after remote event failed", "type", e.Type, "err", err)
				}
			})
		})
	}

	return HandleExecutionError(g.Wait())
}

func listen(ctx context.Context, s *Stack, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.Logger.Info("Listening", "address", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server on %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.Logger.Warn("Graceful shutdown did not complete", "address", addr, "err", err)
			return errors.Join(err, srv.Close())
		}
		return nil
	}
}

// RunClock ticks the ledger once per interval until ctx ends. A non-positive interval
// disables the clock; blocks then only advance through the API.
func RunClock(ctx context.Context, s *Stack, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ep, err := s.Engine.Tick(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.Logger.Warn("Block tick failed", "err", err)
				continue
			}
			s.Logger.Debug("Block", "epoch", ep.Number, "block", ep.IndexBlock, "phase", ep.Phase)
		}
	}
}

// NewCoordinator builds the orderer driver configured for the stack.
func NewCoordinator(s *Stack) (*driver.Coordinator, error) {
	opts := []driver.Option{
		driver.WithProposer(driver.NewShuffle(s.Config.Driver.Seed)),
		driver.WithMaxConflictRetries(s.Config.Driver.MaxConflictRetries),
		driver.WithFallback(s.Config.Driver.Fallback...),
		driver.WithLogger(s.Logger),
	}
	runner, err := NewTaskRunner(s.Config.Executor, s.Logger)
	if err != nil {
		return nil, err
	}
	if runner != nil {
		opts = append(opts, driver.WithRunner(runner))
	}
	return driver.NewCoordinator(s.Engine, opts...), nil
}

// NewTaskRunner builds the process runner from the tasks file. It returns nil when no tasks
// file is configured.
func NewTaskRunner(cfg config.ExecutorConfig, logger *slog.Logger) (ports.TaskRunner, error) {
	if cfg.TasksFile == "" {
		return nil, nil
	}
	tasks, err := process.LoadTasks(cfg.TasksFile)
	if err != nil {
		return nil, err
	}
	return process.NewRunner(
		process.WithRegistry(tasks),
		process.WithBaseDir(cfg.BaseDir),
		process.WithLogger(logger),
	), nil
}
