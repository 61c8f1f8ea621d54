package driver

import (
	"math/rand/v2"
	"slices"
	"sync"
)

// Proposer chooses the order an orderer proposes for its pending interactions.
type Proposer interface {
	Propose(addr string, pending []uint64) []uint64
}

// Ascending proposes submission order.
type Ascending struct{}

func (Ascending) Propose(_ string, pending []uint64) []uint64 {
	out := slices.Clone(pending)
	slices.Sort(out)
	return out
}

// Shuffle proposes a uniformly random permutation.
type Shuffle struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewShuffle returns a shuffling proposer seeded for reproducible runs.
func NewShuffle(seed uint64) *Shuffle {
	return &Shuffle{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *Shuffle) Propose(_ string, pending []uint64) []uint64 {
	out := slices.Clone(pending)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
