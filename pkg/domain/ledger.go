package domain

// DomainID identifies a conflict domain. IDs start at 1 and are never reused.
// The zero value stands for "no domain", which is how external orderer entries are keyed.
type DomainID uint64

// DomainStatus is the resolution state of a domain within the current epoch.
type DomainStatus string

const (
	DomainOpen     DomainStatus = "open"
	DomainResolved DomainStatus = "resolved"
)

// DomainSnapshot is a read-only copy of a domain.
type DomainSnapshot struct {
	ID       DomainID     `json:"id"`
	Status   DomainStatus `json:"status"`
	Orderers []string     `json:"orderers"`
	Votes    []string     `json:"votes"`

	// Pending holds the indices awaiting an order, ascending.
	Pending []uint64 `json:"pending"`

	// Ordered is written once per resolution cycle.
	Ordered []uint64 `json:"ordered,omitempty"`

	Conflicts       int    `json:"conflicts"`
	ReleaseEligible bool   `json:"release_eligible"`
	Epoch           uint64 `json:"epoch"`
}

// OrdererEntry records that an address may vote.
// Domain is zero for external (override) orderers.
type OrdererEntry struct {
	Address        string   `json:"address"`
	Domain         DomainID `json:"domain"`
	ValidFromEpoch uint64   `json:"valid_from_epoch"`
	Valid          bool     `json:"valid"`
}

// External reports whether the entry belongs to the override set.
func (e OrdererEntry) External() bool {
	return e.Domain == 0
}

// Phase is the position of the ledger in the epoch state machine.
type Phase string

const (
	PhaseCollecting Phase = "collecting" // Accepting submissions, waiting for the epoch to be ready
	PhaseVoting     Phase = "voting"     // Orderers submit proposals
	PhaseResolving  Phase = "resolving"  // Proposals are being merged
	PhaseReleased   Phase = "released"   // Every domain of the epoch committed
)

// Epoch describes the current submit -> vote -> resolve cycle.
type Epoch struct {
	// Number increments each time a new epoch opens.
	Number uint64 `json:"number"`

	// IndexBlock counts ledger blocks since the pool opened. Reset to 0 on completion.
	IndexBlock uint64 `json:"index_block"`

	Phase      Phase `json:"phase"`
	CanVote    bool  `json:"can_vote"`
	CanRelease bool  `json:"can_release"`
}

// Commit is a committed domain order.
type Commit struct {
	Epoch    uint64   `json:"epoch"`
	Domain   DomainID `json:"domain"`
	Order    []uint64 `json:"order"`
	Released bool     `json:"released,omitempty"`
}

// VoteResult reports what a vote did.
type VoteResult struct {
	// Domain is the voted domain, 0 for external votes.
	Domain DomainID `json:"domain"`

	// Proposal is the recorded order after stale entries were dropped and bias applied.
	Proposal []uint64 `json:"proposal"`

	// Conflicts lists the domains whose merge conflicted after this vote.
	Conflicts []DomainID `json:"conflicts,omitempty"`

	// Details describes each conflict, in the order of Conflicts.
	Details []ConflictError `json:"details,omitempty"`

	// Commits lists the domains this vote resolved.
	Commits []Commit `json:"commits,omitempty"`
}

// Conflict reports whether any domain conflicted.
func (r VoteResult) Conflict() bool {
	return len(r.Conflicts) > 0
}

// Resolved reports whether the vote committed at least one domain.
func (r VoteResult) Resolved() bool {
	return len(r.Commits) > 0
}
