// Package registry tracks which addresses may vote in an epoch.
package registry

import (
	"slices"

	"github.com/aretw0/weft/pkg/domain"
)

// Authority describes who is authoritative for a vote.
type Authority int

const (
	// Denied means the address may not vote.
	Denied Authority = iota
	// Local means the address is an orderer of the domain and no override is active.
	Local
	// External means the address belongs to the override set valid for the epoch.
	External
)

// Registry holds domain-local orderer entries for the current epoch and the history of
// external designations. It is not safe for concurrent use.
type Registry struct {
	entries []domain.OrdererEntry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// FromEntries rebuilds a registry from serialized entries.
func FromEntries(entries []domain.OrdererEntry) *Registry {
	return &Registry{entries: slices.Clone(entries)}
}

// Entries returns a copy of all entries.
func (r *Registry) Entries() []domain.OrdererEntry {
	return slices.Clone(r.entries)
}

// Open registers the orderers of a domain for an epoch.
func (r *Registry) Open(epoch uint64, id domain.DomainID, orderers []string) {
	for _, addr := range orderers {
		r.entries = append(r.entries, domain.OrdererEntry{
			Address:        addr,
			Domain:         id,
			ValidFromEpoch: epoch,
			Valid:          true,
		})
	}
}

// Close invalidates the domain-local entries of a domain.
func (r *Registry) Close(id domain.DomainID) {
	for i := range r.entries {
		if r.entries[i].Domain == id {
			r.entries[i].Valid = false
		}
	}
}

// Prune drops invalid domain-local entries. External history is kept.
func (r *Registry) Prune() {
	r.entries = slices.DeleteFunc(r.entries, func(e domain.OrdererEntry) bool {
		return !e.External() && !e.Valid
	})
}

// Designate makes addrs the external orderer set from epoch on.
// A later designation supersedes earlier ones from its own epoch.
func (r *Registry) Designate(addrs []string, fromEpoch uint64) {
	for _, addr := range addrs {
		r.entries = append(r.entries, domain.OrdererEntry{
			Address:        addr,
			ValidFromEpoch: fromEpoch,
			Valid:          true,
		})
	}
}

// Revoke invalidates every external designation.
func (r *Registry) Revoke() {
	for i := range r.entries {
		if r.entries[i].External() {
			r.entries[i].Valid = false
		}
	}
}

// ExternalFor returns the override set valid for epoch: the valid designation with the
// highest ValidFromEpoch not after epoch. Nil when no override applies.
func (r *Registry) ExternalFor(epoch uint64) []string {
	var (
		best  uint64
		found bool
	)
	for _, e := range r.entries {
		if e.External() && e.Valid && e.ValidFromEpoch <= epoch && (!found || e.ValidFromEpoch > best) {
			best, found = e.ValidFromEpoch, true
		}
	}
	if !found {
		return nil
	}
	var addrs []string
	for _, e := range r.entries {
		if e.External() && e.Valid && e.ValidFromEpoch == best && !slices.Contains(addrs, e.Address) {
			addrs = append(addrs, e.Address)
		}
	}
	return addrs
}

// Orderers returns the valid local orderers of a domain.
func (r *Registry) Orderers(id domain.DomainID) []string {
	var addrs []string
	for _, e := range r.entries {
		if e.Domain == id && e.Valid && id != 0 {
			addrs = append(addrs, e.Address)
		}
	}
	return addrs
}

// Authorize decides whether addr may vote for domain id in epoch.
// Pass id 0 to ask about the external (whole pool) path.
func (r *Registry) Authorize(id domain.DomainID, addr string, epoch uint64) Authority {
	if ext := r.ExternalFor(epoch); len(ext) > 0 {
		if id == 0 && slices.Contains(ext, addr) {
			return External
		}
		return Denied
	}
	if id != 0 && slices.Contains(r.Orderers(id), addr) {
		return Local
	}
	return Denied
}
