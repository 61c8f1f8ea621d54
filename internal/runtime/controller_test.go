package runtime_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/aretw0/weft/internal/runtime"
	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/bias"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(instance uint64, task string) domain.TaskKey {
	return domain.TaskKey{InstanceID: instance, TaskName: task}
}

func newDirectory() *memory.Directory {
	return memory.NewDirectory(map[domain.TaskKey]domain.Participants{
		key(1, "Order"): {Sender: "alice", Receiver: "bob"},
		key(2, "Order"): {Sender: "alice", Receiver: "bob"},
		key(3, "Order"): {Sender: "bob", Receiver: "alice"},
		key(4, "Ship"):  {Sender: "carol", Receiver: "dave"},
		key(5, "Solo"):  {Sender: "erin", Receiver: "erin"},
	})
}

func submit(t *testing.T, c *runtime.Controller, caller string, instance uint64, task string) uint64 {
	t.Helper()
	idx, err := c.Submit(context.Background(), caller, key(instance, task))
	require.NoError(t, err)
	return idx
}

func openVoting(t *testing.T, c *runtime.Controller) {
	t.Helper()
	for range runtime.DefaultVotingDelay {
		c.Tick(context.Background())
	}
	require.True(t, c.CanVote(), "voting should be open after the delay")
}

type failingDirectory struct{}

func (failingDirectory) Participants(context.Context, domain.TaskKey) (domain.Participants, error) {
	return domain.Participants{}, errors.New("connection refused")
}

func TestController_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("Indices are sequential and idempotent", func(t *testing.T) {
		c := runtime.NewController(newDirectory())

		assert.Equal(t, uint64(0), submit(t, c, "alice", 1, "Order"))
		assert.Equal(t, uint64(1), submit(t, c, "carol", 4, "Ship"))
		assert.Equal(t, uint64(0), submit(t, c, "alice", 1, "Order"), "resubmission returns the existing index")
		assert.Equal(t, uint64(0), submit(t, c, "bob", 1, "Order"), "receiver may submit too")
		assert.Equal(t, []uint64{0, 1}, c.Pending())
	})

	t.Run("Caller must be a participant", func(t *testing.T) {
		c := runtime.NewController(newDirectory())
		_, err := c.Submit(ctx, "mallory", key(1, "Order"))
		assert.ErrorIs(t, err, domain.ErrNotParticipant)

		submit(t, c, "alice", 1, "Order")
		_, err = c.Submit(ctx, "mallory", key(1, "Order"))
		assert.ErrorIs(t, err, domain.ErrNotParticipant)
	})

	t.Run("Unknown task is malformed", func(t *testing.T) {
		c := runtime.NewController(newDirectory())
		_, err := c.Submit(ctx, "alice", key(42, "Order"))
		assert.ErrorIs(t, err, domain.ErrMalformedSubmission)
		assert.ErrorIs(t, err, domain.ErrUnknownTask)
		assert.Empty(t, c.Pending())
	})

	t.Run("Missing role is malformed", func(t *testing.T) {
		dir := newDirectory()
		dir.Define(key(9, "Broken"), domain.Participants{Sender: "alice"})
		c := runtime.NewController(dir)

		_, err := c.Submit(ctx, "alice", key(9, "Broken"))
		assert.ErrorIs(t, err, domain.ErrMalformedSubmission)
	})

	t.Run("Directory failure is transient", func(t *testing.T) {
		c := runtime.NewController(failingDirectory{})
		_, err := c.Submit(ctx, "alice", key(1, "Order"))
		assert.ErrorIs(t, err, domain.ErrTransientSubmission)
	})
}

func TestController_Tick(t *testing.T) {
	ctx := context.Background()
	c := runtime.NewController(newDirectory(), runtime.WithVotingDelay(2))

	c.Tick(ctx)
	e := c.Tick(ctx)
	assert.Equal(t, domain.PhaseCollecting, e.Phase, "empty pool never opens voting")
	assert.Equal(t, uint64(2), e.IndexBlock)

	submit(t, c, "alice", 1, "Order")
	e = c.Tick(ctx)
	assert.Equal(t, domain.PhaseVoting, e.Phase)
	assert.True(t, e.CanVote)
	assert.True(t, e.CanRelease, "single interaction domain")
}

func TestController_Vote_Merge(t *testing.T) {
	ctx := context.Background()

	var phases []domain.Phase
	hooks := domain.LifecycleHooks{
		OnPhaseChange: func(_ context.Context, e *domain.Event) { phases = append(phases, e.Phase) },
	}
	c := runtime.NewController(newDirectory(), runtime.WithLifecycleHooks(hooks))

	submit(t, c, "alice", 1, "Order")
	submit(t, c, "alice", 2, "Order")
	submit(t, c, "bob", 3, "Order")
	openVoting(t, c)

	res, err := c.Vote(ctx, "alice", 1, []uint64{2, 0})
	require.NoError(t, err)
	assert.False(t, res.Conflict())
	assert.False(t, res.Resolved(), "bob has not voted yet")

	snap, err := c.Domain(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, snap.Votes)

	res, err = c.Vote(ctx, "bob", 1, []uint64{0, 1})
	require.NoError(t, err)
	require.Len(t, res.Commits, 1)
	assert.Equal(t, []uint64{2, 0, 1}, res.Commits[0].Order)

	epoch := c.Epoch()
	assert.Equal(t, uint64(1), epoch.Number)
	assert.Equal(t, uint64(0), epoch.IndexBlock)
	assert.Equal(t, domain.PhaseCollecting, epoch.Phase)
	assert.Equal(t, []domain.Phase{domain.PhaseVoting, domain.PhaseResolving, domain.PhaseReleased, domain.PhaseCollecting}, phases)
	assert.Empty(t, c.Pending())

	committed := c.Committed()
	require.Len(t, committed, 1)
	assert.Equal(t, domain.DomainID(1), committed[0].Domain)

	_, err = c.Submit(ctx, "alice", key(1, "Order"))
	assert.ErrorIs(t, err, domain.ErrTaskNotOpen)

	require.NoError(t, c.CompleteTask(ctx, key(1, "Order")))
	idx, err := c.Submit(ctx, "alice", key(1, "Order"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), idx, "a completed task reopens with a fresh index")
}

func TestController_Vote_Conflict(t *testing.T) {
	ctx := context.Background()

	var conflicts, commits int
	hooks := domain.LifecycleHooks{
		OnConflict: func(_ context.Context, e *domain.Event) { conflicts++ },
		OnCommit:   func(_ context.Context, e *domain.Event) { commits++ },
	}
	c := runtime.NewController(newDirectory(), runtime.WithLifecycleHooks(hooks))

	submit(t, c, "alice", 1, "Order")
	submit(t, c, "alice", 2, "Order")
	openVoting(t, c)

	_, err := c.Vote(ctx, "alice", 1, []uint64{0, 1})
	require.NoError(t, err)
	res, err := c.Vote(ctx, "bob", 1, []uint64{1, 0})
	require.NoError(t, err)

	assert.True(t, res.Conflict())
	assert.Equal(t, []domain.DomainID{1}, res.Conflicts)
	assert.Equal(t, []domain.ConflictError{{Domain: 1, Index: 0, Voter: "bob"}}, res.Details)
	assert.Empty(t, res.Commits)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 0, commits)

	snap, err := c.Domain(1)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainOpen, snap.Status)
	assert.Equal(t, 1, snap.Conflicts)
	assert.Nil(t, snap.Ordered)
	assert.True(t, c.CanVote(), "domain stays open for new proposals")

	t.Run("Re-vote replaces the earlier proposal", func(t *testing.T) {
		res, err := c.Vote(ctx, "bob", 1, []uint64{0, 1})
		require.NoError(t, err)
		require.Len(t, res.Commits, 1)
		assert.Equal(t, []uint64{0, 1}, res.Commits[0].Order)
		assert.Equal(t, 1, commits)
	})
}

func TestController_Vote_Errors(t *testing.T) {
	ctx := context.Background()
	c := runtime.NewController(newDirectory())

	submit(t, c, "alice", 1, "Order")
	submit(t, c, "alice", 2, "Order")

	_, err := c.Vote(ctx, "alice", 1, []uint64{0, 1})
	assert.ErrorIs(t, err, domain.ErrVotingClosed)

	openVoting(t, c)

	_, err = c.Vote(ctx, "carol", 1, []uint64{0, 1})
	assert.ErrorIs(t, err, domain.ErrNotOrderer)

	_, err = c.Vote(ctx, "alice", 7, []uint64{0})
	assert.ErrorIs(t, err, domain.ErrDomainNotFound)

	_, err = c.VoteExternal(ctx, "alice", []uint64{0, 1})
	assert.ErrorIs(t, err, domain.ErrNoOverride)

	t.Run("Stale and duplicate indices are dropped", func(t *testing.T) {
		res, err := c.Vote(ctx, "alice", 1, []uint64{1, 1, 99, 0})
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 0}, res.Proposal)
	})
}

func TestController_Release(t *testing.T) {
	ctx := context.Background()
	c := runtime.NewController(newDirectory())

	submit(t, c, "alice", 1, "Order")
	submit(t, c, "alice", 2, "Order")
	submit(t, c, "carol", 4, "Ship")
	submit(t, c, "erin", 5, "Solo")

	_, err := c.Release(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrVotingClosed)

	openVoting(t, c)
	assert.True(t, c.CanRelease())

	_, err = c.Release(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotReleaseEligible)

	commits, err := c.ReleaseAll(ctx)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, domain.Commit{Epoch: 0, Domain: 2, Order: []uint64{2}, Released: true}, commits[0])
	assert.Equal(t, domain.Commit{Epoch: 0, Domain: 3, Order: []uint64{3}, Released: true}, commits[1])
	assert.False(t, c.CanRelease())

	_, err = c.Release(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrDomainResolved)

	assert.Equal(t, uint64(0), c.Epoch().Number, "domain 1 is still open")

	_, err = c.Vote(ctx, "alice", 1, []uint64{1, 0})
	require.NoError(t, err)
	res, err := c.Vote(ctx, "bob", 1, nil)
	require.NoError(t, err)
	require.Len(t, res.Commits, 1)
	assert.Equal(t, []uint64{1, 0}, res.Commits[0].Order)

	assert.Equal(t, uint64(1), c.Epoch().Number)
	assert.Len(t, c.Committed(), 3)
}

func TestController_DeferredSubmission(t *testing.T) {
	ctx := context.Background()
	c := runtime.NewController(newDirectory())

	submit(t, c, "alice", 1, "Order")
	openVoting(t, c)

	idx := submit(t, c, "carol", 4, "Ship")
	assert.Equal(t, uint64(1), idx)
	assert.Equal(t, []uint64{0, 1}, c.Pending())
	assert.Len(t, c.Domains(), 1, "deferred interaction is not partitioned yet")

	i, ok := c.Interaction(idx)
	require.True(t, ok)
	assert.Equal(t, "carol", i.Sender)

	_, err := c.Release(ctx, 1)
	require.NoError(t, err)

	epoch := c.Epoch()
	assert.Equal(t, uint64(1), epoch.Number)
	assert.Equal(t, domain.PhaseCollecting, epoch.Phase)

	snap, err := c.Domain(2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, snap.Pending)
	assert.Equal(t, []string{"carol", "dave"}, snap.Orderers)
}

func TestController_ExternalOverride(t *testing.T) {
	ctx := context.Background()
	c := runtime.NewController(newDirectory())
	c.Designate([]string{"ext-1", "ext-2"}, 0)

	submit(t, c, "alice", 1, "Order")
	submit(t, c, "carol", 4, "Ship")
	submit(t, c, "bob", 3, "Order")
	openVoting(t, c)

	_, err := c.Vote(ctx, "alice", 1, []uint64{0, 2})
	assert.ErrorIs(t, err, domain.ErrOverrideActive)

	_, err = c.VoteExternal(ctx, "carol", []uint64{0, 1, 2})
	assert.ErrorIs(t, err, domain.ErrNotOrderer)

	res, err := c.VoteExternal(ctx, "ext-1", []uint64{2, 1, 0})
	require.NoError(t, err)
	assert.False(t, res.Resolved(), "ext-2 has not voted")

	res, err = c.VoteExternal(ctx, "ext-2", []uint64{1, 2})
	require.NoError(t, err)
	require.Len(t, res.Commits, 2)
	assert.Equal(t, domain.DomainID(1), res.Commits[0].Domain)
	assert.Equal(t, []uint64{2, 0}, res.Commits[0].Order)
	assert.Equal(t, domain.DomainID(2), res.Commits[1].Domain)
	assert.Equal(t, []uint64{1}, res.Commits[1].Order)

	assert.Equal(t, uint64(1), c.Epoch().Number)
	assert.Equal(t, []string{"ext-1", "ext-2"}, c.ExternalOrderers(1))

	c.Revoke()
	assert.Nil(t, c.ExternalOrderers(1))
}

func TestController_Bias(t *testing.T) {
	ctx := context.Background()

	t.Run("Policy reorders the proposal", func(t *testing.T) {
		c := runtime.NewController(newDirectory(), runtime.WithBiasPolicy(reverse{}))
		submit(t, c, "alice", 1, "Order")
		submit(t, c, "alice", 2, "Order")
		openVoting(t, c)

		res, err := c.Vote(ctx, "alice", 1, []uint64{0, 1})
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 0}, res.Proposal)
	})

	t.Run("Membership changes are ignored", func(t *testing.T) {
		c := runtime.NewController(newDirectory(), runtime.WithBiasPolicy(drop{}))
		submit(t, c, "alice", 1, "Order")
		submit(t, c, "alice", 2, "Order")
		openVoting(t, c)

		res, err := c.Vote(ctx, "alice", 1, []uint64{1, 0})
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 0}, res.Proposal)
	})

	t.Run("Completions feed the policy context", func(t *testing.T) {
		dir := memory.NewDirectory(map[domain.TaskKey]domain.Participants{
			key(1, "RefundResolution"): {Sender: "frank", Receiver: "grace"},
			key(2, "RefundResolution"): {Sender: "heidi", Receiver: "ivan"},
		})
		c := runtime.NewController(dir, runtime.WithBiasPolicy(bias.Reference()))
		submit(t, c, "frank", 1, "RefundResolution")
		submit(t, c, "heidi", 2, "RefundResolution")
		openVoting(t, c)
		_, err := c.ReleaseAll(ctx)
		require.NoError(t, err)

		require.NoError(t, c.CompleteTask(ctx, key(1, "RefundResolution")))
		require.NoError(t, c.CompleteTask(ctx, key(2, "RefundResolution")))
		assert.Equal(t, uint64(2), c.Snapshot().Completions["RefundResolution"])
	})

	t.Run("Only committed tasks complete", func(t *testing.T) {
		c := runtime.NewController(newDirectory(), runtime.WithBiasPolicy(bias.Reference()))
		submit(t, c, "carol", 4, "Ship")

		assert.ErrorIs(t, c.CompleteTask(ctx, key(4, "Ship")), domain.ErrTaskNotOpen, "still pending")
		assert.ErrorIs(t, c.CompleteTask(ctx, key(99, "Bogus")), domain.ErrTaskNotOpen, "never submitted")

		openVoting(t, c)
		_, err := c.ReleaseAll(ctx)
		require.NoError(t, err)
		require.NoError(t, c.CompleteTask(ctx, key(4, "Ship")))
		assert.ErrorIs(t, c.CompleteTask(ctx, key(4, "Ship")), domain.ErrTaskNotOpen, "completed twice")

		assert.Equal(t, map[string]uint64{"Ship": 1}, c.Snapshot().Completions)
	})
}

type reverse struct{}

func (reverse) Apply(_ bias.Context, p []domain.Interaction) []domain.Interaction {
	out := slices.Clone(p)
	slices.Reverse(out)
	return out
}

type drop struct{}

func (drop) Apply(_ bias.Context, p []domain.Interaction) []domain.Interaction {
	if len(p) == 0 {
		return nil
	}
	return p[:1]
}

func TestController_Wait(t *testing.T) {
	t.Run("Wakes on transition", func(t *testing.T) {
		c := runtime.NewController(newDirectory())
		submit(t, c, "alice", 1, "Order")

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		done := make(chan domain.Epoch, 1)
		errs := make(chan error, 1)
		go func() {
			e, err := c.WaitCanVote(ctx)
			errs <- err
			done <- e
		}()

		c.Tick(ctx)
		c.Tick(ctx)

		require.NoError(t, <-errs)
		assert.True(t, (<-done).CanVote)

		e, err := c.WaitForPhase(ctx, domain.PhaseVoting)
		require.NoError(t, err, "already satisfied")
		assert.Equal(t, domain.PhaseVoting, e.Phase)
	})

	t.Run("Bounded by context", func(t *testing.T) {
		c := runtime.NewController(newDirectory())
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := c.WaitCanRelease(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Default timeout without deadline", func(t *testing.T) {
		c := runtime.NewController(newDirectory(), runtime.WithWaitTimeout(20*time.Millisecond))
		_, err := c.WaitCanVote(context.Background())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestController_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	dir := newDirectory()
	c := runtime.NewController(dir)

	submit(t, c, "alice", 1, "Order")
	submit(t, c, "alice", 2, "Order")
	submit(t, c, "bob", 3, "Order")
	openVoting(t, c)
	submit(t, c, "carol", 4, "Ship")

	_, err := c.Vote(ctx, "alice", 1, []uint64{2, 0})
	require.NoError(t, err)

	snap := c.Snapshot()
	restored := runtime.NewController(dir)
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, snap, restored.Snapshot())

	res, err := restored.Vote(ctx, "bob", 1, []uint64{0, 1})
	require.NoError(t, err)
	require.Len(t, res.Commits, 1)
	assert.Equal(t, []uint64{2, 0, 1}, res.Commits[0].Order)

	// The deferred submission is partitioned in the next epoch.
	d, err := restored.Domain(2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, d.Pending)

	t.Run("Idempotence survives restore", func(t *testing.T) {
		idx, err := restored.Submit(ctx, "dave", key(4, "Ship"))
		require.NoError(t, err)
		assert.Equal(t, uint64(3), idx)
	})

	t.Run("Corrupt snapshot", func(t *testing.T) {
		bad := c.Snapshot()
		bad.NextIndex = 99
		assert.Error(t, runtime.NewController(dir).Restore(bad))
	})
}

func TestController_Subscribe(t *testing.T) {
	c := runtime.NewController(newDirectory())
	events, cancel := c.Subscribe()
	defer cancel()

	submit(t, c, "alice", 1, "Order")

	select {
	case e := <-events:
		assert.Equal(t, domain.EventSubmitted, e.Type)
		require.NotNil(t, e.Interaction)
		assert.Equal(t, uint64(0), e.Interaction.Index)
		assert.Equal(t, domain.DomainID(1), e.Domain)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}
