package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/internal/merge"
	"github.com/aretw0/weft/internal/partition"
	"github.com/aretw0/weft/internal/registry"
	"github.com/aretw0/weft/pkg/bias"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
)

// Controller drives the submit -> vote -> resolve cycle of one ledger.
//
// Every operation is a state transition applied under a single mutex, so concurrent
// callers are serialized in arrival order. Merging is order-sensitive and relies on it.
type Controller struct {
	directory   ports.TaskDirectory
	policy      bias.Policy
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	broker      *Broker
	votingDelay uint64
	waitTimeout time.Duration
	now         func() time.Time

	mu          sync.Mutex
	revision    uint64
	epoch       domain.Epoch
	next        uint64
	index       *partition.Index
	orderers    *registry.Registry
	rounds      map[domain.DomainID]*domain.RoundState
	external    []domain.Proposal
	deferred    []domain.Interaction
	keys        map[domain.TaskKey]uint64
	consumed    map[domain.TaskKey]struct{}
	completions map[string]uint64
	committed   []domain.Commit
}

// NewController creates a controller for an empty ledger.
func NewController(directory ports.TaskDirectory, opts ...Option) *Controller {
	c := &Controller{
		directory:   directory,
		policy:      bias.None{},
		logger:      logging.NewNop(),
		votingDelay: DefaultVotingDelay,
		waitTimeout: DefaultWaitTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.broker = NewBroker(c.logger)
	c.reset()
	return c
}

func (c *Controller) reset() {
	c.revision = 0
	c.epoch = domain.Epoch{Phase: domain.PhaseCollecting}
	c.next = 0
	c.index = partition.New()
	c.orderers = registry.New()
	c.rounds = make(map[domain.DomainID]*domain.RoundState)
	c.external = nil
	c.deferred = nil
	c.keys = make(map[domain.TaskKey]uint64)
	c.consumed = make(map[domain.TaskKey]struct{})
	c.completions = make(map[string]uint64)
	c.committed = nil
}

// Submit records an interaction for the task and returns its index.
//
// Submitting a task that is still pending returns the existing index. Tasks committed
// but not yet completed are rejected with domain.ErrTaskNotOpen. Submissions received while voting are
// indexed immediately but only partitioned when the next epoch opens.
func (c *Controller) Submit(ctx context.Context, caller string, key domain.TaskKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.consumed[key]; done {
		return 0, fmt.Errorf("%w: %s", domain.ErrTaskNotOpen, key)
	}
	if idx, ok := c.keys[key]; ok {
		i := c.interaction(idx)
		if !i.Involves(caller) {
			return 0, fmt.Errorf("%w: %s in %s", domain.ErrNotParticipant, caller, key)
		}
		return idx, nil
	}

	p, err := c.directory.Participants(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTask) {
			return 0, fmt.Errorf("%w: %w", domain.ErrMalformedSubmission, err)
		}
		return 0, fmt.Errorf("%w: resolving participants of %s: %w", domain.ErrTransientSubmission, key, err)
	}
	if err := p.Validate(); err != nil {
		return 0, fmt.Errorf("task %s: %w", key, err)
	}
	if caller != p.Sender && caller != p.Receiver {
		return 0, fmt.Errorf("%w: %s in %s", domain.ErrNotParticipant, caller, key)
	}

	i := domain.Interaction{
		Index:      c.next,
		InstanceID: key.InstanceID,
		TaskName:   key.TaskName,
		Sender:     p.Sender,
		Receiver:   p.Receiver,
	}
	c.next++
	c.keys[key] = i.Index

	var id domain.DomainID
	if c.epoch.Phase == domain.PhaseCollecting {
		id = c.index.Add(i)
	} else {
		c.deferred = append(c.deferred, i)
	}
	c.revision++

	c.logger.Debug("Interaction submitted", "index", i.Index, "task", key.String(), "domain", id, "deferred", id == 0)
	c.emit(ctx, domain.Event{Type: domain.EventSubmitted, Domain: id, Address: caller, Interaction: &i})
	return i.Index, nil
}

// Tick advances the ledger by one block and opens voting once the pool has waited long enough.
func (c *Controller) Tick(ctx context.Context) domain.Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch.IndexBlock++
	c.revision++
	if c.epoch.Phase == domain.PhaseCollecting && c.epoch.IndexBlock >= c.votingDelay && len(c.index.Live()) > 0 {
		c.openVoting(ctx)
	}
	return c.epochView()
}

func (c *Controller) openVoting(ctx context.Context) {
	for _, id := range c.index.Live() {
		c.rounds[id] = &domain.RoundState{
			Domain: id,
			Epoch:  c.epoch.Number,
			Status: domain.DomainOpen,
			Frozen: c.index.Pending(id),
		}
		c.orderers.Open(c.epoch.Number, id, c.index.Orderers(id))
	}
	c.setPhase(ctx, domain.PhaseVoting)
	c.logger.Info("Voting opened", "epoch", c.epoch.Number, "domains", len(c.rounds))
}

// Vote records caller's proposed order for a domain and merges all proposals received so far.
//
// Indices the caller does not take part in, indices no longer pending and repeats are
// dropped. A re-vote replaces the caller's previous proposal and counts as its latest
// arrival. A conflict is reported in the result (and as an EventConflict); the domain
// stays open for new proposals.
func (c *Controller) Vote(ctx context.Context, caller string, id domain.DomainID, order []uint64) (domain.VoteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.openRound(id)
	if err != nil {
		return domain.VoteResult{}, err
	}
	if len(c.orderers.ExternalFor(c.epoch.Number)) > 0 {
		return domain.VoteResult{}, domain.ErrOverrideActive
	}
	if c.orderers.Authorize(r.Domain, caller, c.epoch.Number) != registry.Local {
		return domain.VoteResult{}, fmt.Errorf("%w: %s for domain %d", domain.ErrNotOrderer, caller, r.Domain)
	}

	var allowed []uint64
	for _, idx := range r.Frozen {
		if c.interaction(idx).Involves(caller) {
			allowed = append(allowed, idx)
		}
	}
	proposal := c.applyBias(merge.Sanitize(order, allowed))
	r.Proposals = record(r.Proposals, domain.Proposal{Voter: caller, Order: proposal})
	c.revision++

	c.logger.Debug("Vote recorded", "domain", r.Domain, "voter", caller, "proposal", proposal)
	c.emit(ctx, domain.Event{Type: domain.EventVoted, Domain: r.Domain, Address: caller, Order: proposal})

	res := domain.VoteResult{Domain: r.Domain, Proposal: proposal}
	c.resolve(ctx, r, r.Proposals, c.orderers.Orderers(r.Domain), false, &res)
	c.advance(ctx)
	return res, nil
}

// VoteExternal records an override orderer's proposal over the whole pending pool.
// Once every designated orderer has voted, each open domain is merged from the external
// proposals restricted to its own interactions.
func (c *Controller) VoteExternal(ctx context.Context, caller string, order []uint64) (domain.VoteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch.Phase != domain.PhaseVoting {
		return domain.VoteResult{}, domain.ErrVotingClosed
	}
	ext := c.orderers.ExternalFor(c.epoch.Number)
	if len(ext) == 0 {
		return domain.VoteResult{}, domain.ErrNoOverride
	}
	if c.orderers.Authorize(0, caller, c.epoch.Number) != registry.External {
		return domain.VoteResult{}, fmt.Errorf("%w: %s is not an external orderer", domain.ErrNotOrderer, caller)
	}

	var pool []uint64
	for _, r := range c.openRounds() {
		pool = append(pool, r.Frozen...)
	}
	slices.Sort(pool)

	proposal := c.applyBias(merge.Sanitize(order, pool))
	c.external = record(c.external, domain.Proposal{Voter: caller, Order: proposal})
	c.revision++

	c.logger.Debug("External vote recorded", "voter", caller, "proposal", proposal)
	c.emit(ctx, domain.Event{Type: domain.EventVoted, Address: caller, Order: proposal, External: true})

	res := domain.VoteResult{Proposal: proposal}
	for _, r := range c.openRounds() {
		props := make([]domain.Proposal, 0, len(c.external))
		for _, p := range c.external {
			props = append(props, domain.Proposal{Voter: p.Voter, Order: merge.Sanitize(p.Order, r.Frozen)})
		}
		c.resolve(ctx, r, props, ext, true, &res)
	}
	c.advance(ctx)
	return res, nil
}

// resolve merges props for a round. It reports a conflict as soon as one appears and
// commits once every required voter has a proposal in.
func (c *Controller) resolve(ctx context.Context, r *domain.RoundState, props []domain.Proposal, required []string, external bool, res *domain.VoteResult) {
	merged := merge.Merge(toMerge(props))
	if merged.Conflict {
		r.Conflicts++
		voter := props[merged.Proposer].Voter
		res.Conflicts = append(res.Conflicts, r.Domain)
		res.Details = append(res.Details, domain.ConflictError{Domain: r.Domain, Index: merged.Index, Voter: voter})

		c.logger.Warn("Ordering conflict", "domain", r.Domain, "epoch", c.epoch.Number, "voter", voter, "index", merged.Index, "conflicts", r.Conflicts)
		c.emit(ctx, domain.Event{Type: domain.EventConflict, Domain: r.Domain, Address: voter, Order: []uint64{merged.Index}, External: external})
		return
	}

	for _, addr := range required {
		if !slices.ContainsFunc(props, func(p domain.Proposal) bool { return p.Voter == addr }) {
			return
		}
	}

	c.setPhase(ctx, domain.PhaseResolving)
	res.Commits = append(res.Commits, c.commit(ctx, r, merge.Complete(merged.Order, r.Frozen), false))
}

// Release commits a release-eligible domain in submission order, without voting.
func (c *Controller) Release(ctx context.Context, id domain.DomainID) (domain.Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.openRound(id)
	if err != nil {
		return domain.Commit{}, err
	}
	if !c.index.ReleaseEligible(r.Domain) {
		return domain.Commit{}, fmt.Errorf("%w: domain %d", domain.ErrNotReleaseEligible, r.Domain)
	}
	commit := c.commit(ctx, r, slices.Clone(r.Frozen), true)
	c.advance(ctx)
	return commit, nil
}

// ReleaseAll commits every release-eligible domain of the epoch.
func (c *Controller) ReleaseAll(ctx context.Context) ([]domain.Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch.Phase != domain.PhaseVoting {
		return nil, domain.ErrVotingClosed
	}
	var commits []domain.Commit
	for _, r := range c.openRounds() {
		if c.index.ReleaseEligible(r.Domain) {
			commits = append(commits, c.commit(ctx, r, slices.Clone(r.Frozen), true))
		}
	}
	c.advance(ctx)
	return commits, nil
}

func (c *Controller) commit(ctx context.Context, r *domain.RoundState, order []uint64, released bool) domain.Commit {
	r.Status = domain.DomainResolved
	r.Ordered = order

	c.index.Consume(r.Domain)
	c.orderers.Close(r.Domain)
	for _, idx := range order {
		key := c.interaction(idx).Key()
		delete(c.keys, key)
		c.consumed[key] = struct{}{}
	}

	commit := domain.Commit{Epoch: c.epoch.Number, Domain: r.Domain, Order: slices.Clone(order), Released: released}
	c.committed = append(c.committed, commit)
	c.revision++

	c.logger.Info("Domain committed", "domain", r.Domain, "epoch", c.epoch.Number, "order", order, "released", released)
	c.emit(ctx, domain.Event{Type: domain.EventCommitted, Domain: r.Domain, Order: commit.Order, Released: released})
	return commit
}

// advance closes the epoch once every round has committed and opens the next one.
func (c *Controller) advance(ctx context.Context) {
	if c.epoch.Phase == domain.PhaseCollecting {
		return
	}
	if len(c.openRounds()) > 0 {
		if c.epoch.Phase == domain.PhaseResolving {
			c.setPhase(ctx, domain.PhaseVoting)
		}
		return
	}

	c.setPhase(ctx, domain.PhaseReleased)

	c.epoch.Number++
	c.epoch.IndexBlock = 0
	c.rounds = make(map[domain.DomainID]*domain.RoundState)
	c.external = nil
	c.orderers.Prune()
	for _, i := range c.deferred {
		c.index.Add(i)
	}
	c.deferred = nil
	c.revision++

	c.setPhase(ctx, domain.PhaseCollecting)
	c.logger.Info("Pool opened", "epoch", c.epoch.Number, "pending", len(c.index.AllPending()))
	c.emit(ctx, domain.Event{Type: domain.EventPoolOpened})
}

// CompleteTask records that a committed task finished executing and reopens it, so a
// looping process can submit it again. Completion tallies feed the bias policy.
// Tasks that are not committed, or were completed already, return domain.ErrTaskNotOpen.
func (c *Controller) CompleteTask(ctx context.Context, key domain.TaskKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.consumed[key]; !ok {
		return fmt.Errorf("%w: %s has no commit awaiting completion", domain.ErrTaskNotOpen, key)
	}
	delete(c.consumed, key)
	c.completions[key.TaskName]++
	c.revision++
	c.emit(ctx, domain.Event{Type: domain.EventTaskCompleted, Task: &key})
	return nil
}

// Designate makes addrs the external orderers from epoch fromEpoch on.
func (c *Controller) Designate(addrs []string, fromEpoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orderers.Designate(addrs, fromEpoch)
	c.revision++
	c.logger.Info("External orderers designated", "orderers", addrs, "from_epoch", fromEpoch)
}

// Revoke invalidates every external designation.
func (c *Controller) Revoke() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orderers.Revoke()
	c.revision++
}

// Subscribe streams ledger events until the returned function is called.
func (c *Controller) Subscribe() (<-chan domain.Event, func()) {
	return c.broker.Subscribe()
}

func (c *Controller) openRound(id domain.DomainID) (*domain.RoundState, error) {
	if c.epoch.Phase != domain.PhaseVoting {
		return nil, domain.ErrVotingClosed
	}
	live := c.index.Resolve(id)
	if live == 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrDomainNotFound, id)
	}
	r, ok := c.rounds[live]
	if !ok {
		if rec, _ := c.index.Record(live); rec.Consumed {
			return nil, fmt.Errorf("%w: %d", domain.ErrDomainResolved, live)
		}
		return nil, fmt.Errorf("%w: domain %d joins the next epoch", domain.ErrVotingClosed, live)
	}
	if r.Status == domain.DomainResolved {
		return nil, fmt.Errorf("%w: %d", domain.ErrDomainResolved, live)
	}
	return r, nil
}

// openRounds returns the unresolved rounds by ascending domain ID.
func (c *Controller) openRounds() []*domain.RoundState {
	ids := slices.Sorted(maps.Keys(c.rounds))
	var open []*domain.RoundState
	for _, id := range ids {
		if r := c.rounds[id]; r.Status == domain.DomainOpen {
			open = append(open, r)
		}
	}
	return open
}

// applyBias runs the policy over a sanitized proposal. A policy that changes membership is ignored.
func (c *Controller) applyBias(proposal []uint64) []uint64 {
	raw := make([]domain.Interaction, len(proposal))
	for n, idx := range proposal {
		raw[n] = c.interaction(idx)
	}
	biased := c.policy.Apply(bias.Context{Round: c.epoch.Number, Completions: maps.Clone(c.completions)}, raw)

	out := make([]uint64, len(biased))
	for n, i := range biased {
		out[n] = i.Index
	}
	if len(out) != len(proposal) || !sameMembers(out, proposal) {
		c.logger.Warn("Bias policy altered proposal membership, using raw order", "proposal", proposal, "biased", out)
		return proposal
	}
	return out
}

func (c *Controller) interaction(idx uint64) domain.Interaction {
	if i, ok := c.index.Interaction(idx); ok {
		return i
	}
	for _, i := range c.deferred {
		if i.Index == idx {
			return i
		}
	}
	return domain.Interaction{Index: idx}
}

func (c *Controller) setPhase(ctx context.Context, p domain.Phase) {
	if c.epoch.Phase == p {
		return
	}
	c.epoch.Phase = p
	c.emit(ctx, domain.Event{Type: domain.EventPhaseChanged, Phase: p})
}

func (c *Controller) emit(ctx context.Context, e domain.Event) {
	e.Timestamp = c.now()
	e.Epoch = c.epoch.Number
	if e.Phase == "" {
		e.Phase = c.epoch.Phase
	}
	c.hooks.Fire(ctx, &e)
	c.broker.Publish(e)
}

// record appends p, replacing an earlier proposal by the same voter.
func record(props []domain.Proposal, p domain.Proposal) []domain.Proposal {
	props = slices.DeleteFunc(props, func(old domain.Proposal) bool { return old.Voter == p.Voter })
	return append(props, p)
}

func toMerge(props []domain.Proposal) []merge.Proposal {
	out := make([]merge.Proposal, len(props))
	for n, p := range props {
		out[n] = merge.Proposal{Voter: p.Voter, Order: p.Order}
	}
	return out
}

func sameMembers(a, b []uint64) bool {
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
