package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthrough(markdown string) (string, error) { return markdown, nil }

func TestStatus(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, testConfig())

	_, err := Simulate(ctx, s, DefaultScenario(s, 1))
	require.NoError(t, err)
	_, err = s.Engine.Submit(ctx, "retailer", domain.TaskKey{InstanceID: 2, TaskName: "ReplenishmentRequest"})
	require.NoError(t, err)

	st, err := BuildStatus(ctx, s.Engine, 1)
	require.NoError(t, err)
	assert.Equal(t, "default", st.LedgerID)
	assert.Equal(t, uint64(2), st.Epoch.Number)
	require.Len(t, st.Pending, 1)
	assert.Equal(t, "ReplenishmentRequest", st.Pending[0].TaskName)
	assert.Len(t, st.Commits, 2)
	assert.Equal(t, uint64(4), st.Completions["ReplenishmentRequest"])

	var buf bytes.Buffer
	require.NoError(t, RenderStatus(&buf, st, passthrough))
	assert.Contains(t, buf.String(), "# Ledger `default`")

	out, err := Graph(ctx, s.Engine)
	require.NoError(t, err)
	assert.Contains(t, out, "graph LR")
	assert.Contains(t, out, "subgraph D3")
	assert.Contains(t, out, "p_retailer -- \"#8 ReplenishmentRequest/2\" --> p_manufacturer")
}

func TestStack_Handler(t *testing.T) {
	s := newStack(t, testConfig())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = s.Engine.Submit(context.Background(), "retailer", domain.TaskKey{InstanceID: 1, TaskName: "ReplenishmentRequest"})
	require.NoError(t, err)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `weft_submissions_total{task="ReplenishmentRequest"} 1`)
}

func TestRunClock(t *testing.T) {
	s := newStack(t, testConfig())
	_, err := s.Engine.Submit(context.Background(), "retailer", domain.TaskKey{InstanceID: 1, TaskName: "ReplenishmentRequest"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunClock(ctx, s, 5*time.Millisecond) }()

	ep, err := s.Engine.WaitCanVote(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseVoting, ep.Phase)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.NoError(t, RunClock(context.Background(), s, 0), "a zero interval disables the clock")
}
