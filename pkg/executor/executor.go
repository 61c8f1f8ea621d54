// Package executor decides how a participant's task gets done: run directly, or submitted
// to the ledger to be ordered first. Both strategies share one retry loop.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
)

// DefaultMaxAttempts bounds how often a transient failure is retried.
const DefaultMaxAttempts = 5

// DefaultBackoff is the delay strategy between attempts.
var DefaultBackoff backoff.Strategy = backoff.WithTransforms(
	backoff.Exponential(50*time.Millisecond),
	linger.FullJitter,
	linger.Limiter(0, 2*time.Second),
)

// Mode names an execution strategy.
type Mode string

const (
	ModeDirect  Mode = "direct"
	ModeOrdered Mode = "ordered"
)

// Receipt describes what an execution did.
type Receipt struct {
	Key domain.TaskKey `json:"key"`

	// Ordered is set when the task was submitted for ordering rather than run.
	Ordered bool `json:"ordered"`

	// Index is the ledger index of an ordered submission.
	Index uint64 `json:"index,omitempty"`

	// Skipped is set when the task was already consumed and nothing was done.
	Skipped bool `json:"skipped,omitempty"`

	Attempts int `json:"attempts"`
}

// Executor gets a task done on behalf of caller.
type Executor interface {
	Execute(ctx context.Context, caller string, key domain.TaskKey) (Receipt, error)
}

// Option configures an executor.
type Option func(*retrier)

// WithMaxAttempts bounds the number of attempts (at least 1).
func WithMaxAttempts(n int) Option {
	return func(r *retrier) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(r *retrier) {
		if s != nil {
			r.strategy = s
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *retrier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns the executor for mode.
func New(mode Mode, runner ports.TaskRunner, seq ports.Sequencer, opts ...Option) (Executor, error) {
	switch mode {
	case ModeDirect:
		if runner == nil {
			return nil, fmt.Errorf("direct execution requires a task runner")
		}
		return NewDirect(runner, opts...), nil
	case ModeOrdered, "":
		if seq == nil {
			return nil, fmt.Errorf("ordered execution requires a sequencer")
		}
		return NewOrdered(seq, opts...), nil
	default:
		return nil, fmt.Errorf("unknown execution mode %q", mode)
	}
}

// retrier is the retry loop shared by both strategies.
type retrier struct {
	maxAttempts int
	strategy    backoff.Strategy
	logger      *slog.Logger
}

func newRetrier(opts []Option) retrier {
	r := retrier{
		maxAttempts: DefaultMaxAttempts,
		strategy:    DefaultBackoff,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// do calls fn until it succeeds, fails permanently, or runs out of attempts.
// Only domain.ErrTransientSubmission is retried. domain.ErrTaskNotOpen reports skipped.
func (r retrier) do(ctx context.Context, key domain.TaskKey, fn func(ctx context.Context) error) (attempts int, skipped bool, err error) {
	counter := backoff.Counter{Strategy: r.strategy}

	for attempts = 1; ; attempts++ {
		err = fn(ctx)
		switch {
		case err == nil:
			return attempts, false, nil
		case errors.Is(err, domain.ErrTaskNotOpen):
			r.logger.Info("Task already consumed, skipping", "task", key.String())
			return attempts, true, nil
		case !errors.Is(err, domain.ErrTransientSubmission):
			return attempts, false, err
		case attempts >= r.maxAttempts:
			return attempts, false, fmt.Errorf("giving up on %s after %d attempts: %w", key, attempts, err)
		}

		r.logger.Warn("Transient failure, retrying", "task", key.String(), "attempt", attempts, "err", err)
		if serr := counter.Sleep(ctx, err); serr != nil {
			return attempts, false, fmt.Errorf("retrying %s: %w", key, serr)
		}
	}
}

// Direct runs tasks immediately, without ordering.
type Direct struct {
	runner ports.TaskRunner
	retry  retrier
}

// NewDirect creates a direct executor.
func NewDirect(runner ports.TaskRunner, opts ...Option) *Direct {
	return &Direct{runner: runner, retry: newRetrier(opts)}
}

func (d *Direct) Execute(ctx context.Context, caller string, key domain.TaskKey) (Receipt, error) {
	attempts, skipped, err := d.retry.do(ctx, key, func(ctx context.Context) error {
		return d.runner.Run(ctx, caller, key)
	})
	return Receipt{Key: key, Skipped: skipped, Attempts: attempts}, err
}

// Ordered submits tasks to the ledger; they run once their domain commits.
type Ordered struct {
	seq   ports.Sequencer
	retry retrier
}

// NewOrdered creates an ordering-mediated executor.
func NewOrdered(seq ports.Sequencer, opts ...Option) *Ordered {
	return &Ordered{seq: seq, retry: newRetrier(opts)}
}

func (o *Ordered) Execute(ctx context.Context, caller string, key domain.TaskKey) (Receipt, error) {
	var idx uint64
	attempts, skipped, err := o.retry.do(ctx, key, func(ctx context.Context) error {
		var err error
		idx, err = o.seq.Submit(ctx, caller, key)
		return err
	})
	r := Receipt{Key: key, Ordered: true, Skipped: skipped, Attempts: attempts}
	if err == nil && !skipped {
		r.Index = idx
	}
	return r, err
}
