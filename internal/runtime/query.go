package runtime

import (
	"fmt"
	"slices"

	"github.com/aretw0/weft/pkg/domain"
)

// Epoch returns the current epoch.
func (c *Controller) Epoch() domain.Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochView()
}

// CanVote reports whether the voting window is open.
func (c *Controller) CanVote() bool {
	return c.Epoch().CanVote
}

// CanRelease reports whether at least one open domain may be released without voting.
func (c *Controller) CanRelease() bool {
	return c.Epoch().CanRelease
}

func (c *Controller) epochView() domain.Epoch {
	e := c.epoch
	e.CanVote = e.Phase == domain.PhaseVoting
	e.CanRelease = false
	if e.CanVote {
		for _, r := range c.openRounds() {
			if c.index.ReleaseEligible(r.Domain) {
				e.CanRelease = true
				break
			}
		}
	}
	return e
}

// Pending returns every pending index, ascending. Deferred submissions are included.
func (c *Controller) Pending() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.index.AllPending()
	for _, i := range c.deferred {
		out = append(out, i.Index)
	}
	return out
}

// PendingFor returns the pending indices of a domain that involve addr.
func (c *Controller) PendingFor(id domain.DomainID, addr string) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.index.Resolve(id)
	if live == 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrDomainNotFound, id)
	}
	if r, ok := c.rounds[live]; ok {
		var out []uint64
		for _, idx := range r.Frozen {
			if r.Status == domain.DomainOpen && c.interaction(idx).Involves(addr) {
				out = append(out, idx)
			}
		}
		return out, nil
	}
	return c.index.PendingFor(live, addr), nil
}

// Interaction returns the interaction with the given index.
func (c *Controller) Interaction(idx uint64) (domain.Interaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx >= c.next {
		return domain.Interaction{}, false
	}
	return c.interaction(idx), true
}

// Domain returns a snapshot of a domain. Absorbed IDs resolve to their survivor.
func (c *Controller) Domain(id domain.DomainID) (domain.DomainSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.index.Resolve(id)
	if live == 0 {
		return domain.DomainSnapshot{}, fmt.Errorf("%w: %d", domain.ErrDomainNotFound, id)
	}
	return c.domainView(live), nil
}

// Domains returns snapshots of the live domains and those resolved in the current epoch,
// by ascending ID.
func (c *Controller) Domains() []domain.DomainSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.index.Live()
	for id := range c.rounds {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	out := make([]domain.DomainSnapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.domainView(id))
	}
	return out
}

// DomainCount returns the number of domain IDs ever allocated.
func (c *Controller) DomainCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Count()
}

func (c *Controller) domainView(id domain.DomainID) domain.DomainSnapshot {
	rec, _ := c.index.Record(id)
	s := domain.DomainSnapshot{
		ID:              id,
		Status:          domain.DomainOpen,
		Orderers:        slices.Clone(rec.Orderers),
		Pending:         slices.Clone(rec.Pending),
		ReleaseEligible: c.index.ReleaseEligible(id),
		Epoch:           c.epoch.Number,
	}
	if rec.Consumed {
		s.Status = domain.DomainResolved
	}
	if r, ok := c.rounds[id]; ok {
		s.Status = r.Status
		s.Ordered = slices.Clone(r.Ordered)
		s.Conflicts = r.Conflicts
		for _, p := range r.Proposals {
			s.Votes = append(s.Votes, p.Voter)
		}
	}
	return s
}

// ExternalOrderers returns the override set valid for epoch.
func (c *Controller) ExternalOrderers(epoch uint64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderers.ExternalFor(epoch)
}

// Committed returns every committed order, oldest first.
func (c *Controller) Committed() []domain.Commit {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.Commit, len(c.committed))
	for n, cm := range c.committed {
		cm.Order = slices.Clone(cm.Order)
		out[n] = cm
	}
	return out
}

// Revision returns the mutation counter of the ledger state.
func (c *Controller) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}
