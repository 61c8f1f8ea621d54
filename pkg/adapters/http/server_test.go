package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/weft"
	weftHttp "github.com/aretw0/weft/pkg/adapters/http"
	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) http.Handler {
	t.Helper()
	dir := memory.NewDirectory(map[domain.TaskKey]domain.Participants{
		{InstanceID: 1, TaskName: "Order"}: {Sender: "alice", Receiver: "bob"},
		{InstanceID: 2, TaskName: "Order"}: {Sender: "alice", Receiver: "bob"},
	})
	eng, err := weft.New(weft.WithDirectory(dir), weft.WithVotingDelay(1))
	require.NoError(t, err)
	return weftHttp.NewHandler(eng)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestServer_Lifecycle(t *testing.T) {
	h := newHandler(t)

	w := do(t, h, "POST", "/interactions", weftHttp.SubmitRequest{Caller: "alice", InstanceID: 1, TaskName: "Order"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, uint64(0), decode[weftHttp.SubmitResponse](t, w).Index)

	w = do(t, h, "POST", "/interactions", weftHttp.SubmitRequest{Caller: "bob", InstanceID: 2, TaskName: "Order"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, uint64(1), decode[weftHttp.SubmitResponse](t, w).Index)

	w = do(t, h, "GET", "/interactions/pending", nil)
	assert.Equal(t, []uint64{0, 1}, decode[[]uint64](t, w))

	w = do(t, h, "POST", "/domains/1/votes", weftHttp.VoteRequest{Caller: "alice", Order: []uint64{0, 1}})
	assert.Equal(t, http.StatusConflict, w.Code, "voting before the window opens")

	w = do(t, h, "POST", "/tick", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.PhaseVoting, decode[domain.Epoch](t, w).Phase)

	w = do(t, h, "GET", "/domains/1/pending?address=alice", nil)
	assert.Equal(t, []uint64{0, 1}, decode[[]uint64](t, w))

	w = do(t, h, "POST", "/domains/1/votes", weftHttp.VoteRequest{Caller: "alice", Order: []uint64{0, 1}})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "POST", "/domains/1/votes", weftHttp.VoteRequest{Caller: "bob", Order: []uint64{1, 0}})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[domain.VoteResult](t, w)
	assert.Equal(t, []domain.DomainID{1}, res.Conflicts)
	require.Len(t, res.Details, 1)
	assert.Equal(t, "bob", res.Details[0].Voter)

	w = do(t, h, "POST", "/domains/1/votes", weftHttp.VoteRequest{Caller: "bob", Order: []uint64{0, 1}})
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[domain.VoteResult](t, w)
	require.Len(t, res.Commits, 1)
	assert.Equal(t, []uint64{0, 1}, res.Commits[0].Order)

	w = do(t, h, "GET", "/commits", nil)
	assert.Len(t, decode[[]domain.Commit](t, w), 1)

	w = do(t, h, "GET", "/interactions/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode[domain.Interaction](t, w).Sender)

	w = do(t, h, "GET", "/epoch", nil)
	ep := decode[domain.Epoch](t, w)
	assert.Equal(t, uint64(1), ep.Number)
	assert.Equal(t, domain.PhaseCollecting, ep.Phase)
}

func TestServer_Errors(t *testing.T) {
	h := newHandler(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"not a participant", "POST", "/interactions", weftHttp.SubmitRequest{Caller: "mallory", InstanceID: 1, TaskName: "Order"}, http.StatusForbidden},
		{"unknown task", "POST", "/interactions", weftHttp.SubmitRequest{Caller: "alice", InstanceID: 9, TaskName: "Order"}, http.StatusBadRequest},
		{"malformed body", "POST", "/interactions", "not an object", http.StatusBadRequest},
		{"unknown domain", "GET", "/domains/99", nil, http.StatusNotFound},
		{"invalid domain", "GET", "/domains/zero", nil, http.StatusBadRequest},
		{"unknown interaction", "GET", "/interactions/7", nil, http.StatusNotFound},
		{"missing address", "GET", "/domains/1/pending", nil, http.StatusBadRequest},
		{"release outside voting", "POST", "/domains/release", nil, http.StatusConflict},
		{"empty designation", "POST", "/external", weftHttp.DesignateRequest{}, http.StatusBadRequest},
		{"zero blocks", "POST", "/tick", weftHttp.TickRequest{Blocks: 0}, http.StatusBadRequest},
		{"too many blocks", "POST", "/tick", weftHttp.TickRequest{Blocks: weftHttp.MaxTickBlocks + 1}, http.StatusBadRequest},
		{"complete uncommitted task", "POST", "/tasks/complete", domain.TaskKey{InstanceID: 99, TaskName: "Bogus"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestServer_External(t *testing.T) {
	h := newHandler(t)

	w := do(t, h, "POST", "/external", weftHttp.DesignateRequest{Addresses: []string{"auditor"}, FromEpoch: 0})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/external", nil)
	assert.Equal(t, []string{"auditor"}, decode[[]string](t, w))

	w = do(t, h, "GET", "/external?epoch=5", nil)
	assert.Equal(t, []string{"auditor"}, decode[[]string](t, w))

	w = do(t, h, "DELETE", "/external", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/external", nil)
	assert.Empty(t, decode[[]string](t, w))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, weftHttp.StatusFor(fmt.Errorf("saving: %w", domain.ErrTransientSubmission)))
	assert.Equal(t, http.StatusConflict, weftHttp.StatusFor(&domain.ConflictError{Domain: 1}))
	assert.Equal(t, http.StatusInternalServerError, weftHttp.StatusFor(errors.New("boom")))
}

func TestSubscribeEvents(t *testing.T) {
	h := newHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events?type=submitted", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.Equal(t, "event: ping", scanner.Text(), "the ping is written after subscribing")

	w := do(t, h, "POST", "/interactions", weftHttp.SubmitRequest{Caller: "alice", InstanceID: 1, TaskName: "Order"})
	require.Equal(t, http.StatusCreated, w.Code)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: {") {
			continue
		}
		var e domain.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		assert.Equal(t, domain.EventSubmitted, e.Type)
		require.NotNil(t, e.Interaction)
		assert.Equal(t, "Order", e.Interaction.TaskName)
		return
	}
	t.Fatalf("no submitted event received: %v", scanner.Err())
}
