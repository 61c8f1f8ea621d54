// Package merge combines per-orderer proposals into one linear order.
//
// The merge is an anchor-insertion pass: proposals are taken in submission order and
// each proposal in list order. An index not yet placed is inserted right after the
// proposer's anchor (or at the head when the proposer has no anchor yet), and becomes the
// new anchor. An index already placed at or after the anchor moves the anchor to it. An
// index already placed before the anchor means the proposer needs it later than an
// earlier proposer put it: that is a conflict, and the round produces no order.
//
// Cycle detection is therefore inline and the result is order-sensitive: the same
// proposals submitted in a different order may place indices differently.
package merge

import (
	"slices"
)

// Proposal is one proposer's subsequence.
type Proposal struct {
	Voter string
	Order []uint64
}

// Result is the outcome of merging a set of proposals.
type Result struct {
	// Order is the merged linear order. Nil when Conflict is set.
	Order []uint64

	Conflict bool

	// Proposer is the position (in submission order) of the proposal that tripped the conflict.
	Proposer int
	// Index is the interaction that could not be placed.
	Index uint64
}

// Merge runs the anchor-insertion merge over proposals in the given order.
func Merge(proposals []Proposal) Result {
	var order []uint64
	pos := make(map[uint64]int)

	for p, prop := range proposals {
		anchor := -1
		for _, idx := range prop.Order {
			e, placed := pos[idx]
			if !placed {
				at := anchor + 1
				order = slices.Insert(order, at, idx)
				for k := at; k < len(order); k++ {
					pos[order[k]] = k
				}
				anchor = at
				continue
			}
			if e < anchor {
				return Result{Conflict: true, Proposer: p, Index: idx}
			}
			anchor = e
		}
	}

	return Result{Order: order}
}

// Sanitize keeps the indices of order that are in allowed, dropping stale entries and
// repeated occurrences. allowed must be sorted ascending.
func Sanitize(order, allowed []uint64) []uint64 {
	out := make([]uint64, 0, len(order))
	seen := make(map[uint64]struct{}, len(order))
	for _, idx := range order {
		if _, ok := slices.BinarySearch(allowed, idx); !ok {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}

// Complete appends the pending indices that no proposal placed, ascending, so the result
// holds exactly the pending set. Indices in order that are not pending are dropped.
// pending must be sorted ascending.
func Complete(order, pending []uint64) []uint64 {
	out := Sanitize(order, pending)
	placed := make(map[uint64]struct{}, len(out))
	for _, idx := range out {
		placed[idx] = struct{}{}
	}
	for _, idx := range pending {
		if _, ok := placed[idx]; !ok {
			out = append(out, idx)
		}
	}
	return out
}

// Consistent reports whether order places every pair of each proposal in the proposal's
// relative order. It is the linear-extension check used to validate a merge.
func Consistent(order []uint64, proposals []Proposal) bool {
	pos := make(map[uint64]int, len(order))
	for i, idx := range order {
		pos[idx] = i
	}
	for _, prop := range proposals {
		last := -1
		for _, idx := range prop.Order {
			at, ok := pos[idx]
			if !ok || at < last {
				return false
			}
			last = at
		}
	}
	return true
}
