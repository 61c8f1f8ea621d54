package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/driver"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/muesli/termenv"
	"gopkg.in/yaml.v3"
)

// DefaultRounds is how many rounds a simulation runs when the scenario does not say.
const DefaultRounds = 10

// DefaultArbiter is the fallback orderer a simulation escalates to when none is configured.
const DefaultArbiter = "arbiter"

// Scenario describes a simulated workload. Every round runs each step as one epoch: all
// listed instances submit the step's task, then the coordinator orders the pool.
type Scenario struct {
	Rounds int            `yaml:"rounds" json:"rounds"`
	Steps  []ScenarioStep `yaml:"steps" json:"steps"`

	// Pairs are the instance pairs whose relative order is tallied.
	Pairs []driver.Pair `yaml:"pairs" json:"pairs"`
}

// ScenarioStep is one task submitted by several instances in the same epoch.
type ScenarioStep struct {
	Task      string   `yaml:"task" json:"task"`
	Instances []uint64 `yaml:"instances" json:"instances"`
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if sc.Rounds <= 0 {
		sc.Rounds = DefaultRounds
	}
	if len(sc.Pairs) == 0 {
		sc.Pairs = driver.ReferencePairs
	}
	return sc, nil
}

// DefaultScenario runs every configured role task, in name order, over every configured instance.
func DefaultScenario(s *Stack, rounds int) Scenario {
	if rounds <= 0 {
		rounds = DefaultRounds
	}
	tasks := make([]string, 0, len(s.Config.Process.Roles))
	for task := range s.Config.Process.Roles {
		tasks = append(tasks, task)
	}
	slices.Sort(tasks)

	sc := Scenario{Rounds: rounds, Pairs: driver.ReferencePairs}
	for _, task := range tasks {
		sc.Steps = append(sc.Steps, ScenarioStep{Task: task, Instances: slices.Clone(s.Config.Process.Instances)})
	}
	return sc
}

// SimulationResult summarizes a simulation.
type SimulationResult struct {
	Mode      executor.Mode      `json:"mode"`
	Rounds    int                `json:"rounds"`
	Epochs    int                `json:"epochs"`
	Submitted int                `json:"submitted"`
	Ran       int                `json:"ran"`
	Skipped   int                `json:"skipped"`
	Commits   int                `json:"commits"`
	Released  int                `json:"released"`
	Retries   int                `json:"retries"`
	Escalated int                `json:"escalated"`
	Failed    int                `json:"failed"`
	Tally     []driver.PairCount `json:"tally"`
}

// Simulate drives the stack's ledger through the scenario. In ordered mode every step is
// voted by the coordinator; in direct mode tasks run in submission order, which gives the
// unordered baseline for the pair tally.
func Simulate(ctx context.Context, s *Stack, sc Scenario) (SimulationResult, error) {
	cfg := s.Config
	res := SimulationResult{Mode: cfg.Executor.Mode, Rounds: sc.Rounds}

	runner, err := NewTaskRunner(cfg.Executor, s.Logger)
	if err != nil {
		return res, err
	}
	if runner == nil {
		runner = completer{}
	}

	exec, err := executor.New(cfg.Executor.Mode, runner, s.Engine,
		executor.WithMaxAttempts(cfg.Executor.MaxAttempts),
		executor.WithLogger(s.Logger),
	)
	if err != nil {
		return res, err
	}

	fallback := cfg.Driver.Fallback
	if len(fallback) == 0 {
		fallback = []string{DefaultArbiter}
	}
	coord := driver.NewCoordinator(s.Engine,
		driver.WithProposer(driver.NewShuffle(cfg.Driver.Seed)),
		driver.WithMaxConflictRetries(cfg.Driver.MaxConflictRetries),
		driver.WithFallback(fallback...),
		driver.WithRunner(runner),
		driver.WithLogger(s.Logger),
	)
	tally := driver.NewPairTally(sc.Pairs...)

	for round := range sc.Rounds {
		for _, step := range sc.Steps {
			var (
				ordered int
				direct  []domain.Interaction
			)
			for _, instance := range step.Instances {
				key := domain.TaskKey{InstanceID: instance, TaskName: step.Task}
				p, err := s.Directory.Participants(ctx, key)
				if err != nil {
					return res, fmt.Errorf("round %d: %w", round, err)
				}
				receipt, err := exec.Execute(ctx, p.Sender, key)
				if err != nil {
					return res, fmt.Errorf("round %d: %w", round, err)
				}
				switch {
				case receipt.Skipped:
					res.Skipped++
				case receipt.Ordered:
					res.Submitted++
					ordered++
				default:
					res.Ran++
					direct = append(direct, domain.Interaction{InstanceID: instance, TaskName: step.Task})
				}
			}
			tally.Observe(direct)
			if ordered == 0 {
				continue
			}

			report, err := resolveEpoch(ctx, s, coord)
			res.Epochs++
			res.Commits += len(report.Commits)
			for _, c := range report.Commits {
				if c.Released {
					res.Released++
				}
				if terr := tally.ObserveCommit(ctx, s.Engine, c); terr != nil {
					return res, terr
				}
			}
			for _, n := range report.Retries {
				res.Retries += n
			}
			res.Escalated += len(report.Escalated)
			res.Failed += len(report.Failed)
			if err != nil {
				return res, fmt.Errorf("round %d, step %s: %w", round, step.Task, err)
			}
		}
	}

	res.Tally = tally.Counts()
	return res, nil
}

// resolveEpoch advances blocks until voting opens, then lets the coordinator order the pool.
func resolveEpoch(ctx context.Context, s *Stack, coord *driver.Coordinator) (driver.Report, error) {
	for range s.Config.Ledger.VotingDelay + 1 {
		ep, err := s.Engine.Tick(ctx)
		if err != nil {
			return driver.Report{}, err
		}
		if ep.CanVote {
			return coord.Resolve(ctx)
		}
	}
	return driver.Report{}, fmt.Errorf("voting did not open after %d blocks", s.Config.Ledger.VotingDelay+1)
}

// completer stands in for real task commands: every task succeeds immediately.
type completer struct{}

func (completer) Run(context.Context, string, domain.TaskKey) error { return nil }

var _ ports.TaskRunner = completer{}

// PrintSimulation writes a human readable summary of res.
func PrintSimulation(w io.Writer, res SimulationResult) {
	p := termenv.ColorProfile()
	title := termenv.String(fmt.Sprintf("Simulation (%s, %d rounds)", res.Mode, res.Rounds)).Bold()
	fmt.Fprintln(w, title)

	if res.Mode == executor.ModeDirect {
		printSystemMessage(w, "%d tasks ran without ordering, %d skipped", res.Ran, res.Skipped)
	} else {
		printSystemMessage(w, "%d epochs, %d submissions, %d skipped", res.Epochs, res.Submitted, res.Skipped)
		printSystemMessage(w, "%d commits (%d released), %d reshuffles, %d escalations", res.Commits, res.Released, res.Retries, res.Escalated)
	}
	if res.Failed > 0 {
		fmt.Fprintln(w, termenv.String(fmt.Sprintf(">>> %d tasks failed", res.Failed)).Foreground(p.Color("#f87171")))
	}

	fmt.Fprintln(w)
	for _, c := range res.Tally {
		line := fmt.Sprintf("  %-8s %d first: %-4d %d first: %-4d", c.Pair, c.Pair[0], c.FirstBefore, c.Pair[1], c.SecondBefore)
		color := "#4ade80"
		if c.FirstBefore == 0 || c.SecondBefore == 0 {
			color = "#facc15"
		}
		fmt.Fprintln(w, termenv.String(line).Foreground(p.Color(color)))
	}
}
