package domain

import (
	"errors"
	"fmt"
)

// ErrTransientSubmission is returned when a submission failed for a reason that a retry may fix
// (lock contention, an unreachable store, a sequence race).
var ErrTransientSubmission = errors.New("transient submission failure")

// ErrTaskNotOpen is returned when a task is submitted while its earlier commit awaits
// completion, or completed without a pending commit.
var ErrTaskNotOpen = errors.New("task not open")

// ErrMalformedSubmission is returned when a submission lacks participants.
var ErrMalformedSubmission = errors.New("malformed submission")

// ErrUnknownTask is returned by a TaskDirectory that has no participants for a task.
var ErrUnknownTask = errors.New("unknown task")

// ErrNotParticipant is returned when the caller is neither sender nor receiver of the task.
var ErrNotParticipant = errors.New("caller is not a participant")

// ErrNotOrderer is returned when the caller may not vote for the domain (or the pool).
var ErrNotOrderer = errors.New("caller is not an orderer")

// ErrVotingClosed is returned when votes or releases arrive outside the voting window.
var ErrVotingClosed = errors.New("voting window closed")

// ErrOverrideActive is returned for domain-local votes while external orderers are authoritative.
var ErrOverrideActive = errors.New("external orderers are authoritative for this epoch")

// ErrNoOverride is returned for external votes while no override is valid.
var ErrNoOverride = errors.New("no external orderers for this epoch")

// ErrDomainNotFound is returned when a domain ID was never allocated.
var ErrDomainNotFound = errors.New("domain not found")

// ErrInteractionNotFound is returned when an index was never assigned.
var ErrInteractionNotFound = errors.New("interaction not found")

// ErrDomainResolved is returned when voting on or releasing a domain that already committed.
var ErrDomainResolved = errors.New("domain already resolved")

// ErrNotReleaseEligible is returned when releasing a domain that needs a vote.
var ErrNotReleaseEligible = errors.New("domain is not release-eligible")

// ErrLedgerNotFound is returned when a ledger ID cannot be found in the store.
var ErrLedgerNotFound = errors.New("ledger not found")

// ErrConflict matches every ConflictError.
var ErrConflict = errors.New("ordering conflict")

// ErrPermanentConflict is returned when a domain kept conflicting after the retry budget.
var ErrPermanentConflict = errors.New("permanent ordering conflict")

// ConflictError reports contradictory proposals for a domain.
type ConflictError struct {
	Domain DomainID `json:"domain"`
	Index  uint64   `json:"index"` // Interaction that could not be placed
	Voter  string   `json:"voter"` // Orderer whose proposal tripped the conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ordering conflict in domain %d at interaction %d (voter %s)", e.Domain, e.Index, e.Voter)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
