package domain

import (
	"maps"
	"slices"
)

// Snapshot is the complete, serializable state of a ledger.
// Stores persist it verbatim; Revision increases on every mutation.
type Snapshot struct {
	Revision uint64 `json:"revision"`
	Epoch    Epoch  `json:"epoch"`

	// NextIndex is the index the next submission receives.
	NextIndex uint64 `json:"next_index"`

	Partition PartitionState `json:"partition"`
	Orderers  []OrdererEntry `json:"orderers"`
	Rounds    []RoundState   `json:"rounds"`

	// External holds the override proposals of the current epoch, in arrival order.
	External []Proposal `json:"external,omitempty"`

	// Deferred holds submissions received while voting, partitioned when the next epoch opens.
	Deferred []Interaction `json:"deferred,omitempty"`

	Consumed    []TaskKey         `json:"consumed,omitempty"`
	Completions map[string]uint64 `json:"completions,omitempty"`
	Committed   []Commit          `json:"committed,omitempty"`

	// Sealed holds the encrypted form of the snapshot as written by an encrypting store.
	// Only Revision is kept in clear next to it.
	Sealed []byte `json:"sealed,omitempty"`
}

// PartitionState is the arena layout of the domain index.
type PartitionState struct {
	Interactions []Interaction  `json:"interactions"`
	Owner        []DomainID     `json:"owner"`
	Addresses    []string       `json:"addresses"`
	Parent       []int          `json:"parent"`
	SlotDomain   []DomainID     `json:"slot_domain"`
	Domains      []DomainRecord `json:"domains"`
}

// DomainRecord is one arena entry of the domain index, addressed by ID-1.
type DomainRecord struct {
	Alias    DomainID `json:"alias"`
	Pending  []uint64 `json:"pending"`
	Orderers []string `json:"orderers"`
	Consumed bool     `json:"consumed,omitempty"`
}

// Proposal is one orderer's proposed subsequence.
type Proposal struct {
	Voter string   `json:"voter"`
	Order []uint64 `json:"order"`
}

// RoundState is the voting state of one domain.
type RoundState struct {
	Domain    DomainID     `json:"domain"`
	Epoch     uint64       `json:"epoch"`
	Status    DomainStatus `json:"status"`
	Frozen    []uint64     `json:"frozen,omitempty"`
	Proposals []Proposal   `json:"proposals,omitempty"`
	Ordered   []uint64     `json:"ordered,omitempty"`
	Conflicts int          `json:"conflicts,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.Partition = PartitionState{
		Interactions: slices.Clone(s.Partition.Interactions),
		Owner:        slices.Clone(s.Partition.Owner),
		Addresses:    slices.Clone(s.Partition.Addresses),
		Parent:       slices.Clone(s.Partition.Parent),
		SlotDomain:   slices.Clone(s.Partition.SlotDomain),
	}
	if s.Partition.Domains != nil {
		out.Partition.Domains = make([]DomainRecord, len(s.Partition.Domains))
		for n, rec := range s.Partition.Domains {
			rec.Pending = slices.Clone(rec.Pending)
			rec.Orderers = slices.Clone(rec.Orderers)
			out.Partition.Domains[n] = rec
		}
	}
	out.Orderers = slices.Clone(s.Orderers)
	if s.Rounds != nil {
		out.Rounds = make([]RoundState, len(s.Rounds))
		for n, r := range s.Rounds {
			r.Frozen = slices.Clone(r.Frozen)
			r.Ordered = slices.Clone(r.Ordered)
			r.Proposals = cloneProposals(r.Proposals)
			out.Rounds[n] = r
		}
	}
	out.External = cloneProposals(s.External)
	out.Deferred = slices.Clone(s.Deferred)
	out.Consumed = slices.Clone(s.Consumed)
	out.Completions = maps.Clone(s.Completions)
	out.Sealed = slices.Clone(s.Sealed)
	if s.Committed != nil {
		out.Committed = make([]Commit, len(s.Committed))
		for n, c := range s.Committed {
			c.Order = slices.Clone(c.Order)
			out.Committed[n] = c
		}
	}
	return &out
}

func cloneProposals(props []Proposal) []Proposal {
	if props == nil {
		return nil
	}
	out := make([]Proposal, len(props))
	for n, p := range props {
		out[n] = Proposal{Voter: p.Voter, Order: slices.Clone(p.Order)}
	}
	return out
}
