package driver_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/driver"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/dogmatiq/linger/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *weft.Engine {
	t.Helper()
	dir := memory.NewDirectory(map[domain.TaskKey]domain.Participants{
		{InstanceID: 1, TaskName: "Order"}: {Sender: "alice", Receiver: "bob"},
		{InstanceID: 2, TaskName: "Order"}: {Sender: "alice", Receiver: "bob"},
		{InstanceID: 3, TaskName: "Order"}: {Sender: "bob", Receiver: "carol"},
		{InstanceID: 1, TaskName: "Ship"}:  {Sender: "dave", Receiver: "erin"},
	})
	eng, err := weft.New(weft.WithDirectory(dir), weft.WithVotingDelay(1))
	require.NoError(t, err)
	return eng
}

func submitAll(t *testing.T, eng *weft.Engine, keys ...domain.TaskKey) {
	t.Helper()
	for _, k := range keys {
		p := map[string]string{"Order": "alice", "Ship": "dave"}[k.TaskName]
		if k.InstanceID == 3 {
			p = "bob"
		}
		_, err := eng.Submit(context.Background(), p, k)
		require.NoError(t, err)
	}
}

// split makes bob always disagree with everyone else.
type split struct{}

func (split) Propose(addr string, pending []uint64) []uint64 {
	out := driver.Ascending{}.Propose(addr, pending)
	if addr == "bob" {
		slices.Reverse(out)
	}
	return out
}

type recordingRunner struct {
	mu   sync.Mutex
	ran  []domain.TaskKey
	fail string
}

func (r *recordingRunner) Run(_ context.Context, _ string, key domain.TaskKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.TaskName == r.fail {
		return errors.New("exit status 1")
	}
	r.ran = append(r.ran, key)
	return nil
}

func TestCoordinator_Resolve(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	submitAll(t, eng,
		domain.TaskKey{InstanceID: 1, TaskName: "Order"},
		domain.TaskKey{InstanceID: 2, TaskName: "Order"},
		domain.TaskKey{InstanceID: 3, TaskName: "Order"},
		domain.TaskKey{InstanceID: 1, TaskName: "Ship"},
	)

	c := driver.NewCoordinator(eng, driver.WithProposer(driver.Ascending{}))

	_, err := c.Resolve(ctx)
	assert.ErrorIs(t, err, domain.ErrVotingClosed)

	_, err = eng.Tick(ctx)
	require.NoError(t, err)

	report, err := c.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), report.Epoch)
	require.Len(t, report.Commits, 2)
	assert.True(t, report.Commits[0].Released, "single interaction domain is released")
	assert.Equal(t, []uint64{0, 1, 2}, report.Commits[1].Order)

	ep, err := eng.Epoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ep.Number)
}

func TestCoordinator_BoundedRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("Permanent conflict without fallback", func(t *testing.T) {
		eng := newEngine(t)
		submitAll(t, eng, domain.TaskKey{InstanceID: 1, TaskName: "Order"}, domain.TaskKey{InstanceID: 2, TaskName: "Order"})
		_, err := eng.Tick(ctx)
		require.NoError(t, err)

		c := driver.NewCoordinator(eng, driver.WithProposer(split{}), driver.WithMaxConflictRetries(2))
		report, err := c.Resolve(ctx)
		assert.ErrorIs(t, err, domain.ErrPermanentConflict)

		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, domain.DomainID(1), conflict.Domain)
		assert.Equal(t, 2, report.Retries[1])
		assert.Empty(t, report.Commits)

		d, err := eng.Domain(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 5, d.Conflicts, "every conflicting vote is counted")
	})

	t.Run("Fallback orderers take over", func(t *testing.T) {
		eng := newEngine(t)
		submitAll(t, eng, domain.TaskKey{InstanceID: 1, TaskName: "Order"}, domain.TaskKey{InstanceID: 2, TaskName: "Order"})
		_, err := eng.Tick(ctx)
		require.NoError(t, err)

		c := driver.NewCoordinator(eng,
			driver.WithProposer(split{}),
			driver.WithMaxConflictRetries(1),
			driver.WithFallback("auditor"),
		)
		report, err := c.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.DomainID{1}, report.Escalated)
		require.Len(t, report.Commits, 1)
		assert.Equal(t, []uint64{0, 1}, report.Commits[0].Order)

		ext, err := eng.ExternalOrderers(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, ext, "fallback designation is revoked after the epoch")
	})
}

func TestCoordinator_ExecutesCommittedTasks(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	submitAll(t, eng,
		domain.TaskKey{InstanceID: 2, TaskName: "Order"},
		domain.TaskKey{InstanceID: 1, TaskName: "Order"},
		domain.TaskKey{InstanceID: 1, TaskName: "Ship"},
	)
	_, err := eng.Tick(ctx)
	require.NoError(t, err)

	runner := &recordingRunner{fail: "Ship"}
	c := driver.NewCoordinator(eng, driver.WithProposer(driver.Ascending{}), driver.WithRunner(runner))

	report, err := c.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Executed)
	assert.Contains(t, report.Failed, "1/Ship")
	assert.Equal(t, []domain.TaskKey{{InstanceID: 2, TaskName: "Order"}, {InstanceID: 1, TaskName: "Order"}}, runner.ran)

	snap, err := eng.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Completions["Order"])
}

func TestCoordinator_Run(t *testing.T) {
	eng := newEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reports := make(chan driver.Report, 4)
	c := driver.NewCoordinator(eng, driver.WithProposer(driver.Ascending{}))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func(r driver.Report) { reports <- r }) }()

	submitAll(t, eng, domain.TaskKey{InstanceID: 1, TaskName: "Ship"})
	_, err := eng.Tick(ctx)
	require.NoError(t, err)

	select {
	case r := <-reports:
		require.Len(t, r.Commits, 1)
		assert.Equal(t, []uint64{0}, r.Commits[0].Order)
	case <-ctx.Done():
		t.Fatal("coordinator never resolved the epoch")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// flakyEpoch fails the first Epoch read with a transient error.
type flakyEpoch struct {
	ports.Sequencer
	failed atomic.Bool
}

func (f *flakyEpoch) Epoch(ctx context.Context) (domain.Epoch, error) {
	if f.failed.CompareAndSwap(false, true) {
		return domain.Epoch{}, fmt.Errorf("%w: connection reset", domain.ErrTransientSubmission)
	}
	return f.Sequencer.Epoch(ctx)
}

func TestCoordinator_Run_RetriesTransientFailures(t *testing.T) {
	eng := newEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	submitAll(t, eng, domain.TaskKey{InstanceID: 1, TaskName: "Ship"})
	ep, err := eng.Tick(ctx)
	require.NoError(t, err)
	require.True(t, ep.CanVote, "voting is open before the coordinator starts")

	seq := &flakyEpoch{Sequencer: eng}
	reports := make(chan driver.Report, 4)
	c := driver.NewCoordinator(seq,
		driver.WithProposer(driver.Ascending{}),
		driver.WithBackoff(backoff.Constant(5*time.Millisecond)),
	)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func(r driver.Report) { reports <- r }) }()

	select {
	case r := <-reports:
		require.Len(t, r.Commits, 1)
		assert.Equal(t, []uint64{0}, r.Commits[0].Order)
	case <-ctx.Done():
		t.Fatal("coordinator stalled after a transient failure")
	}
	assert.True(t, seq.failed.Load())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
