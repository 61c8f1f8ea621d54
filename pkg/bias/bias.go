// Package bias reorders raw proposals before they are merged, to enforce long-run fairness.
//
// A policy never adds or removes interactions: it moves a "biased" subset to the front of
// the proposal and keeps the relative order inside and outside that subset. Policies are
// pure functions of the proposal and an explicit Context, so the same inputs always
// produce the same output.
package bias

import (
	"slices"

	"github.com/aretw0/weft/pkg/domain"
)

// DefaultPeriod is the number of rounds a rotation keeps preferring the same bucket.
const DefaultPeriod = 5

// Context carries the round counter and running tallies a policy may consult.
type Context struct {
	// Round is the epoch number of the vote being biased.
	Round uint64

	// Completions counts completed tasks by task name. The policy reads it but never
	// updates it; only real completions do.
	Completions map[string]uint64
}

// Policy transforms a proposer's raw subsequence.
type Policy interface {
	Apply(ctx Context, proposal []domain.Interaction) []domain.Interaction
}

// None leaves proposals untouched.
type None struct{}

func (None) Apply(_ Context, proposal []domain.Interaction) []domain.Interaction {
	return slices.Clone(proposal)
}

// RotationRule alternates preference between two instance buckets of a task every Period rounds.
type RotationRule struct {
	Task    string      `json:"task" yaml:"task" mapstructure:"task"`
	Buckets [2][]uint64 `json:"buckets" yaml:"buckets" mapstructure:"buckets"`
	Period  uint64      `json:"period" yaml:"period" mapstructure:"period"`
}

// Preferred returns the bucket index (0 or 1) favoured in round.
func (r RotationRule) Preferred(round uint64) int {
	period := r.Period
	if period == 0 {
		period = DefaultPeriod
	}
	return int((round / period) % 2)
}

func (r RotationRule) matches(ctx Context, i domain.Interaction) bool {
	if i.TaskName != r.Task {
		return false
	}
	return slices.Contains(r.Buckets[r.Preferred(ctx.Round)], i.InstanceID)
}

// BalanceRule favours whichever of two mutually exclusive tasks has completed less often,
// for the listed instances. Ties favour Tasks[0].
type BalanceRule struct {
	Tasks     [2]string `json:"tasks" yaml:"tasks" mapstructure:"tasks"`
	Instances []uint64  `json:"instances" yaml:"instances" mapstructure:"instances"`
}

// Preferred returns the task currently behind.
func (r BalanceRule) Preferred(completions map[string]uint64) string {
	if completions[r.Tasks[1]] < completions[r.Tasks[0]] {
		return r.Tasks[1]
	}
	return r.Tasks[0]
}

func (r BalanceRule) matches(ctx Context, i domain.Interaction) bool {
	if len(r.Instances) > 0 && !slices.Contains(r.Instances, i.InstanceID) {
		return false
	}
	return i.TaskName == r.Preferred(ctx.Completions)
}

// RoundRobin is the reference fairness policy.
type RoundRobin struct {
	Rotations []RotationRule `json:"rotations" yaml:"rotations" mapstructure:"rotations"`
	Balances  []BalanceRule  `json:"balances" yaml:"balances" mapstructure:"balances"`
}

// Reference returns the round-robin policy used by the reference process:
// replenishment requests rotate between instances 1 and 3, purchase orders between 2 and 4,
// and refund/replacement resolutions are balanced by completion count.
func Reference() *RoundRobin {
	return &RoundRobin{
		Rotations: []RotationRule{
			{Task: "ReplenishmentRequest", Buckets: [2][]uint64{{1}, {3}}, Period: DefaultPeriod},
			{Task: "PurchaseOrder", Buckets: [2][]uint64{{2}, {4}}, Period: DefaultPeriod},
		},
		Balances: []BalanceRule{
			{Tasks: [2]string{"RefundResolution", "ReplacementResolution"}, Instances: []uint64{1, 2, 3, 4}},
		},
	}
}

// Apply moves every interaction matched by any rule to the front, stably.
func (p *RoundRobin) Apply(ctx Context, proposal []domain.Interaction) []domain.Interaction {
	front := make([]domain.Interaction, 0, len(proposal))
	back := make([]domain.Interaction, 0, len(proposal))
	for _, i := range proposal {
		if p.biased(ctx, i) {
			front = append(front, i)
		} else {
			back = append(back, i)
		}
	}
	return append(front, back...)
}

func (p *RoundRobin) biased(ctx Context, i domain.Interaction) bool {
	for _, r := range p.Rotations {
		if r.matches(ctx, i) {
			return true
		}
	}
	for _, r := range p.Balances {
		if r.matches(ctx, i) {
			return true
		}
	}
	return false
}
