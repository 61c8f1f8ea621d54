package driver

import (
	"context"
	"fmt"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
)

// Pair names two competing process instances.
type Pair [2]uint64

func (p Pair) String() string {
	return fmt.Sprintf("%d_vs_%d", p[0], p[1])
}

// PairCount is how often each instance of a pair came first.
type PairCount struct {
	Pair         Pair `json:"pair"`
	FirstBefore  int  `json:"first_before"`
	SecondBefore int  `json:"second_before"`
}

// PairTally measures long-run fairness: for each pair of instances, how often one was
// ordered before the other in orders that contain both exactly once.
type PairTally struct {
	pairs  []Pair
	counts map[Pair]*PairCount
}

// ReferencePairs are the instance pairs the reference bias policy rotates.
var ReferencePairs = []Pair{{1, 3}, {2, 4}}

// NewPairTally creates a tally over pairs.
func NewPairTally(pairs ...Pair) *PairTally {
	t := &PairTally{pairs: pairs, counts: make(map[Pair]*PairCount, len(pairs))}
	for _, p := range pairs {
		t.counts[p] = &PairCount{Pair: p}
	}
	return t
}

// Observe counts one committed order.
func (t *PairTally) Observe(order []domain.Interaction) {
	for _, p := range t.pairs {
		var seen []uint64
		for _, i := range order {
			if i.InstanceID == p[0] || i.InstanceID == p[1] {
				seen = append(seen, i.InstanceID)
			}
		}
		if len(seen) != 2 {
			continue
		}
		if seen[0] == p[0] {
			t.counts[p].FirstBefore++
		} else {
			t.counts[p].SecondBefore++
		}
	}
}

// ObserveCommit resolves a commit's indices through seq and counts it.
func (t *PairTally) ObserveCommit(ctx context.Context, seq ports.Sequencer, c domain.Commit) error {
	order := make([]domain.Interaction, 0, len(c.Order))
	for _, idx := range c.Order {
		i, err := seq.Interaction(ctx, idx)
		if err != nil {
			return err
		}
		order = append(order, i)
	}
	t.Observe(order)
	return nil
}

// Counts returns the tallies in pair order.
func (t *PairTally) Counts() []PairCount {
	out := make([]PairCount, len(t.pairs))
	for n, p := range t.pairs {
		out[n] = *t.counts[p]
	}
	return out
}
