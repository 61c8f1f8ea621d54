package driver

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

// DefaultMaxConflictRetries is how many reshuffles a domain gets before escalation.
const DefaultMaxConflictRetries = 8

// DefaultBackoff spaces out Run's retries after transient ledger failures.
var DefaultBackoff backoff.Strategy = backoff.WithTransforms(
	backoff.Exponential(100*time.Millisecond),
	linger.FullJitter,
	linger.Limiter(0, 5*time.Second),
)

// Report summarizes one resolved epoch.
type Report struct {
	Epoch     uint64                  `json:"epoch"`
	Commits   []domain.Commit         `json:"commits"`
	Retries   map[domain.DomainID]int `json:"retries,omitempty"`
	Escalated []domain.DomainID       `json:"escalated,omitempty"`
	Executed  int                     `json:"executed"`
	Failed    map[string]string       `json:"failed,omitempty"`
}

// Coordinator votes on behalf of every orderer of a ledger.
type Coordinator struct {
	seq        ports.Sequencer
	proposer   Proposer
	maxRetries int
	fallback   []string
	runner     ports.TaskRunner
	backoff    backoff.Strategy
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProposer sets how orderers build their proposals (default: Shuffle seeded with 1).
func WithProposer(p Proposer) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.proposer = p
		}
	}
}

// WithMaxConflictRetries sets the reshuffle budget per domain.
func WithMaxConflictRetries(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithFallback sets the external orderers designated when a domain exhausts its budget.
func WithFallback(addrs ...string) Option {
	return func(c *Coordinator) {
		c.fallback = addrs
	}
}

// WithRunner executes committed tasks, in order, and reports their completion.
func WithRunner(r ports.TaskRunner) Option {
	return func(c *Coordinator) {
		c.runner = r
	}
}

// WithBackoff sets the delay between Run's retries after transient failures.
func WithBackoff(s backoff.Strategy) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.backoff = s
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a coordinator for seq.
func NewCoordinator(seq ports.Sequencer, opts ...Option) *Coordinator {
	c := &Coordinator{
		seq:        seq,
		proposer:   NewShuffle(1),
		maxRetries: DefaultMaxConflictRetries,
		backoff:    DefaultBackoff,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve releases what it can and votes every open domain of the current epoch.
// It returns domain.ErrVotingClosed when the voting window is not open.
func (c *Coordinator) Resolve(ctx context.Context) (Report, error) {
	ep, err := c.seq.Epoch(ctx)
	if err != nil {
		return Report{}, err
	}
	if !ep.CanVote {
		return Report{}, domain.ErrVotingClosed
	}
	report := Report{Epoch: ep.Number, Retries: map[domain.DomainID]int{}}

	ext, err := c.seq.ExternalOrderers(ctx, ep.Number)
	if err != nil {
		return report, err
	}
	if len(ext) > 0 {
		commits, err := c.voteExternal(ctx, ext)
		report.Commits = append(report.Commits, commits...)
		return report, c.execute(ctx, &report, commits, err)
	}

	released, err := c.seq.ReleaseAll(ctx)
	if err != nil {
		return report, err
	}
	report.Commits = append(report.Commits, released...)

	domains, err := c.seq.Domains(ctx)
	if err != nil {
		return report, err
	}
	for _, d := range domains {
		if d.Status != domain.DomainOpen || d.Epoch != ep.Number {
			continue
		}
		current, err := c.seq.Domain(ctx, d.ID)
		if err != nil {
			return report, err
		}
		if current.Status != domain.DomainOpen || current.Epoch != ep.Number {
			continue
		}

		commits, retries, err := c.resolveDomain(ctx, current)
		if retries > 0 {
			report.Retries[d.ID] = retries
		}
		if errors.Is(err, domain.ErrPermanentConflict) && len(c.fallback) > 0 {
			report.Escalated = append(report.Escalated, d.ID)
			commits, err = c.escalate(ctx, ep.Number)
		}
		report.Commits = append(report.Commits, commits...)
		if err != nil {
			return report, c.execute(ctx, &report, report.Commits, err)
		}
	}

	return report, c.execute(ctx, &report, report.Commits, nil)
}

// resolveDomain votes every orderer of d, reshuffling after conflicts.
func (c *Coordinator) resolveDomain(ctx context.Context, d domain.DomainSnapshot) ([]domain.Commit, int, error) {
	var last domain.ConflictError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Domain conflicted, reshuffling", "domain", d.ID, "attempt", attempt, "index", last.Index, "voter", last.Voter)
		}
		conflicted := false
		for _, addr := range d.Orderers {
			pending, err := c.seq.PendingFor(ctx, d.ID, addr)
			if err != nil {
				return nil, attempt, err
			}
			res, err := c.seq.Vote(ctx, addr, d.ID, c.proposer.Propose(addr, pending))
			if errors.Is(err, domain.ErrDomainResolved) || errors.Is(err, domain.ErrVotingClosed) {
				return nil, attempt, nil
			}
			if err != nil {
				return nil, attempt, fmt.Errorf("voting domain %d as %s: %w", d.ID, addr, err)
			}
			if res.Resolved() {
				return res.Commits, attempt, nil
			}
			if res.Conflict() {
				conflicted = true
				last = res.Details[0]
			}
		}
		if !conflicted {
			// Every orderer voted without a conflict yet nothing committed; another
			// writer must have changed the domain underneath us.
			return nil, attempt, nil
		}
	}
	return nil, c.maxRetries, fmt.Errorf("%w: %w", domain.ErrPermanentConflict, &last)
}

// escalate resolves the whole pool through the fallback orderers, then revokes them.
func (c *Coordinator) escalate(ctx context.Context, epoch uint64) ([]domain.Commit, error) {
	c.logger.Warn("Conflict budget exhausted, designating fallback orderers", "epoch", epoch, "orderers", c.fallback)
	if err := c.seq.Designate(ctx, c.fallback, epoch); err != nil {
		return nil, err
	}
	commits, err := c.voteExternal(ctx, c.fallback)
	if rerr := c.seq.Revoke(ctx); rerr != nil {
		err = errors.Join(err, rerr)
	}
	return commits, err
}

// voteExternal votes the pending pool in ascending order as each of addrs.
func (c *Coordinator) voteExternal(ctx context.Context, addrs []string) ([]domain.Commit, error) {
	pool, err := c.seq.Pending(ctx)
	if err != nil {
		return nil, err
	}
	order := Ascending{}.Propose("", pool)

	var commits []domain.Commit
	for _, addr := range addrs {
		res, err := c.seq.VoteExternal(ctx, addr, order)
		if err != nil {
			return commits, fmt.Errorf("external vote as %s: %w", addr, err)
		}
		commits = append(commits, res.Commits...)
		if res.Conflict() {
			return commits, fmt.Errorf("%w: %w", domain.ErrPermanentConflict, &res.Details[0])
		}
	}
	return commits, nil
}

// execute runs the committed tasks in order when a runner is configured. cause is returned
// unchanged so callers can report both.
func (c *Coordinator) execute(ctx context.Context, report *Report, commits []domain.Commit, cause error) error {
	if c.runner == nil {
		return cause
	}
	for _, commit := range commits {
		for _, idx := range commit.Order {
			i, err := c.seq.Interaction(ctx, idx)
			if err != nil {
				return errors.Join(cause, err)
			}
			key := i.Key()
			if err := c.runner.Run(ctx, i.Sender, key); err != nil {
				c.logger.Error("Task failed", "task", key.String(), "err", err)
				if report.Failed == nil {
					report.Failed = map[string]string{}
				}
				report.Failed[key.String()] = err.Error()
				continue
			}
			if err := c.seq.CompleteTask(ctx, key); err != nil {
				return errors.Join(cause, err)
			}
			report.Executed++
		}
	}
	return cause
}

// Run resolves every epoch as soon as its voting window opens, until ctx ends.
// Transient ledger failures are retried with backoff while the window stays open.
// Reports are delivered to fn when it is not nil.
func (c *Coordinator) Run(ctx context.Context, fn func(Report)) error {
	events, cancel := c.seq.Subscribe()
	defer cancel()

	counter := backoff.Counter{Strategy: c.backoff}
	for {
		report, err := c.Resolve(ctx)
		switch {
		case err == nil:
			counter = backoff.Counter{Strategy: c.backoff}
			if fn != nil {
				fn(report)
			}
			if len(report.Commits) > 0 {
				continue
			}
		case errors.Is(err, domain.ErrVotingClosed):
		case errors.Is(err, domain.ErrTransientSubmission):
			c.logger.Warn("Transient failure resolving epoch, retrying", "epoch", report.Epoch, "err", err)
			if err := counter.Sleep(ctx, err); err != nil {
				return err
			}
			continue
		default:
			c.logger.Error("Epoch resolution failed", "epoch", report.Epoch, "err", err)
			if fn != nil {
				fn(report)
			}
		}

		if err := waitForVoting(ctx, events); err != nil {
			return err
		}
	}
}

func waitForVoting(ctx context.Context, events <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return fmt.Errorf("event stream closed")
			}
			if e.Type == domain.EventPhaseChanged && e.Phase == domain.PhaseVoting {
				return nil
			}
		}
	}
}
