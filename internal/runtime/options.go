package runtime

import (
	"log/slog"
	"time"

	"github.com/aretw0/weft/pkg/bias"
	"github.com/aretw0/weft/pkg/domain"
)

// DefaultVotingDelay is the number of blocks the pool collects before voting opens.
const DefaultVotingDelay = 2

// DefaultWaitTimeout bounds waits whose context carries no deadline.
const DefaultWaitTimeout = 30 * time.Second

// Option configures a Controller.
type Option func(*Controller)

// WithBiasPolicy sets the policy applied to every proposal before merging.
func WithBiasPolicy(p bias.Policy) Option {
	return func(c *Controller) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Controller) {
		c.hooks = hooks
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithVotingDelay sets how many blocks must pass before voting opens.
func WithVotingDelay(blocks uint64) Option {
	return func(c *Controller) {
		c.votingDelay = blocks
	}
}

// WithWaitTimeout bounds waits whose context has no deadline.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.waitTimeout = d
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}
