package merge_test

import (
	"math/rand/v2"
	"testing"

	"github.com/aretw0/weft/internal/merge"
	"github.com/stretchr/testify/assert"
)

func props(orders ...[]uint64) []merge.Proposal {
	out := make([]merge.Proposal, len(orders))
	for i, o := range orders {
		out[i] = merge.Proposal{Voter: string(rune('A' + i)), Order: o}
	}
	return out
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name      string
		proposals []merge.Proposal
		want      []uint64
		conflict  bool
		proposer  int
		index     uint64
	}{
		{
			name:      "Anchored insertion",
			proposals: props([]uint64{3, 1}, []uint64{1, 2}),
			want:      []uint64{3, 1, 2},
		},
		{
			name:      "Opposite orders conflict",
			proposals: props([]uint64{1, 2}, []uint64{2, 1}),
			conflict:  true,
			proposer:  1,
			index:     1,
		},
		{
			name:      "Unanchored entries go to the head",
			proposals: props([]uint64{1, 2}, []uint64{3}),
			want:      []uint64{3, 1, 2},
		},
		{
			name:      "Agreeing proposals",
			proposals: props([]uint64{0, 1, 2}, []uint64{0, 2}, []uint64{1, 2}),
			want:      []uint64{0, 1, 2},
		},
		{
			name:      "Late conflict names the third proposer",
			proposals: props([]uint64{0, 2}, []uint64{1, 3}, []uint64{0, 1}),
			conflict:  true,
			proposer:  2,
			index:     1,
		},
		{
			name: "Empty",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := merge.Merge(tt.proposals)
			assert.Equal(t, tt.conflict, res.Conflict)
			if tt.conflict {
				assert.Nil(t, res.Order)
				assert.Equal(t, tt.proposer, res.Proposer)
				assert.Equal(t, tt.index, res.Index)
				return
			}
			assert.Equal(t, tt.want, res.Order)
		})
	}
}

// A merge that reports no conflict always honours every proposal.
func TestMerge_Soundness(t *testing.T) {
	for seed := uint64(0); seed < 500; seed++ {
		rng := rand.New(rand.NewPCG(seed, 7))
		n := 1 + rng.IntN(6)

		var proposals []merge.Proposal
		for v := 0; v < 1+rng.IntN(4); v++ {
			var order []uint64
			for _, idx := range rng.Perm(n) {
				if rng.IntN(3) > 0 {
					order = append(order, uint64(idx))
				}
			}
			proposals = append(proposals, merge.Proposal{Voter: "v", Order: order})
		}

		res := merge.Merge(proposals)
		if res.Conflict {
			continue
		}
		assert.True(t, merge.Consistent(res.Order, proposals), "seed %d: %v from %v", seed, res.Order, proposals)
	}
}

// The merge is greedy: it may reject proposal sets that do have a common linear extension.
func TestMerge_FalseConflict(t *testing.T) {
	proposals := props([]uint64{1, 3}, []uint64{2}, []uint64{1, 2})

	assert.True(t, merge.Consistent([]uint64{1, 2, 3}, proposals))
	assert.True(t, merge.Merge(proposals).Conflict)
}

func TestSanitize(t *testing.T) {
	got := merge.Sanitize([]uint64{4, 9, 2, 4, 7, 2}, []uint64{2, 4, 7})
	assert.Equal(t, []uint64{4, 2, 7}, got)
	assert.Empty(t, merge.Sanitize([]uint64{1}, nil))
}

func TestComplete(t *testing.T) {
	got := merge.Complete([]uint64{5, 1}, []uint64{1, 3, 5, 8})
	assert.Equal(t, []uint64{5, 1, 3, 8}, got)

	got = merge.Complete(nil, []uint64{2, 3})
	assert.Equal(t, []uint64{2, 3}, got)
}

func TestConsistent(t *testing.T) {
	proposals := props([]uint64{3, 1}, []uint64{1, 2})
	assert.True(t, merge.Consistent([]uint64{3, 1, 2}, proposals))
	assert.False(t, merge.Consistent([]uint64{1, 3, 2}, proposals))
	assert.False(t, merge.Consistent([]uint64{3, 1}, proposals), "missing index")
}
