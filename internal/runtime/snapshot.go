package runtime

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/aretw0/weft/internal/partition"
	"github.com/aretw0/weft/internal/registry"
	"github.com/aretw0/weft/pkg/domain"
)

// Snapshot copies the full ledger state.
func (c *Controller) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := domain.Snapshot{
		Revision:    c.revision,
		Epoch:       c.epoch,
		NextIndex:   c.next,
		Partition:   c.index.State(),
		Orderers:    c.orderers.Entries(),
		External:    cloneProposals(c.external),
		Deferred:    slices.Clone(c.deferred),
		Completions: maps.Clone(c.completions),
		Committed:   slices.Clone(c.committed),
	}
	for _, id := range slices.Sorted(maps.Keys(c.rounds)) {
		r := *c.rounds[id]
		r.Frozen = slices.Clone(r.Frozen)
		r.Ordered = slices.Clone(r.Ordered)
		r.Proposals = cloneProposals(r.Proposals)
		s.Rounds = append(s.Rounds, r)
	}
	for key := range c.consumed {
		s.Consumed = append(s.Consumed, key)
	}
	slices.SortFunc(s.Consumed, func(a, b domain.TaskKey) int {
		return cmp.Or(cmp.Compare(a.InstanceID, b.InstanceID), cmp.Compare(a.TaskName, b.TaskName))
	})
	return s
}

// Restore replaces the ledger state with s. Subscribers stay attached.
func (c *Controller) Restore(s domain.Snapshot) error {
	index, err := partition.FromState(s.Partition)
	if err != nil {
		return fmt.Errorf("restoring ledger: %w", err)
	}
	if uint64(len(s.Partition.Interactions)+len(s.Deferred)) != s.NextIndex {
		return fmt.Errorf("restoring ledger: next index %d does not match %d indexed and %d deferred interactions",
			s.NextIndex, len(s.Partition.Interactions), len(s.Deferred))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
	c.revision = s.Revision
	c.epoch = s.Epoch
	c.epoch.CanVote, c.epoch.CanRelease = false, false
	c.next = s.NextIndex
	c.index = index
	c.orderers = registry.FromEntries(s.Orderers)
	for _, r := range s.Rounds {
		r.Frozen = slices.Clone(r.Frozen)
		r.Ordered = slices.Clone(r.Ordered)
		r.Proposals = cloneProposals(r.Proposals)
		c.rounds[r.Domain] = &r
	}
	c.external = cloneProposals(s.External)
	c.deferred = slices.Clone(s.Deferred)
	for _, key := range s.Consumed {
		c.consumed[key] = struct{}{}
	}
	if s.Completions != nil {
		c.completions = maps.Clone(s.Completions)
	}
	c.committed = slices.Clone(s.Committed)

	for _, idx := range c.index.AllPending() {
		i, _ := c.index.Interaction(idx)
		c.keys[i.Key()] = idx
	}
	for _, i := range c.deferred {
		c.keys[i.Key()] = i.Index
	}
	return nil
}

func cloneProposals(props []domain.Proposal) []domain.Proposal {
	if props == nil {
		return nil
	}
	out := make([]domain.Proposal, len(props))
	for n, p := range props {
		out[n] = domain.Proposal{Voter: p.Voter, Order: slices.Clone(p.Order)}
	}
	return out
}
