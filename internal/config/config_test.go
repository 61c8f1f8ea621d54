package config_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/weft/internal/config"
	"github.com/aretw0/weft/pkg/bias"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
ledger:
  id: supply
  voting_delay: 3
  block_interval: 250ms
process:
  instances: [1, 2]
  roles:
    PurchaseOrder:
      sender: buyer
      receiver: seller
  tasks:
    - instance: 2
      task: PurchaseOrder
      sender: buyer2
      receiver: seller
redis:
  addr: localhost:6379
  ttl: 1h
bias:
  policy: custom
  rotations:
    - task: PurchaseOrder
      buckets: [[1], [2]]
      period: "3"
driver:
  enabled: true
  fallback: auditor,arbiter
log:
  level: debug
  format: json
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "weft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := config.Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "supply", cfg.Ledger.ID)
	assert.Equal(t, uint64(3), cfg.Ledger.VotingDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Ledger.BlockInterval)
	assert.Equal(t, 30*time.Second, cfg.Ledger.WaitTimeout, "unset keys keep defaults")

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "weft:", cfg.Redis.Prefix)

	assert.True(t, cfg.Driver.Enabled)
	assert.Equal(t, []string{"auditor", "arbiter"}, cfg.Driver.Fallback)
	assert.Equal(t, 8, cfg.Driver.MaxConflictRetries)
	assert.Equal(t, executor.ModeOrdered, cfg.Executor.Mode)

	assert.Equal(t, "json", cfg.Log.Format)
	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	t.Run("Bias policy", func(t *testing.T) {
		p, ok := cfg.BiasPolicy().(*bias.RoundRobin)
		require.True(t, ok)
		require.Len(t, p.Rotations, 1)
		assert.Equal(t, [2][]uint64{{1}, {2}}, p.Rotations[0].Buckets)
		assert.Equal(t, uint64(3), p.Rotations[0].Period)
	})

	t.Run("Directory", func(t *testing.T) {
		dir := cfg.Directory()
		ctx := context.Background()

		p, err := dir.Participants(ctx, domain.TaskKey{InstanceID: 1, TaskName: "PurchaseOrder"})
		require.NoError(t, err)
		assert.Equal(t, domain.Participants{Sender: "buyer", Receiver: "seller"}, p)

		p, err = dir.Participants(ctx, domain.TaskKey{InstanceID: 2, TaskName: "PurchaseOrder"})
		require.NoError(t, err)
		assert.Equal(t, "buyer2", p.Sender, "explicit bindings override roles")

		_, err = dir.Participants(ctx, domain.TaskKey{InstanceID: 3, TaskName: "PurchaseOrder"})
		assert.ErrorIs(t, err, domain.ErrUnknownTask)
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.IsType(t, bias.None{}, cfg.BiasPolicy())

	cfg, err = config.Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestStoreConfig_Encryption(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	cfg, err := config.Load(writeFile(t, "store:\n  dir: /tmp/weft\n  encryption_key: "+key+"\n  fallback_keys: "+key+"\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/weft", cfg.Store.Dir)

	enc, err := cfg.Store.Encryption()
	require.NoError(t, err)
	require.NotNil(t, enc)
	assert.Len(t, enc.ActiveKey, 32)
	assert.Len(t, enc.FallbackKeys, 1, "a single string decodes into a one element list")

	enc, err = config.Default().Store.Encryption()
	require.NoError(t, err)
	assert.Nil(t, enc)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "ledger:\n  colour: blue\n"},
		{"bad duration", "ledger:\n  block_interval: soon\n"},
		{"unknown bias", "bias:\n  policy: lottery\n"},
		{"unknown mode", "executor:\n  mode: eventually\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"short encryption key", "store:\n  encryption_key: c2hvcnQ=\n"},
		{"three buckets", "bias:\n  rotations:\n    - task: X\n      buckets: [[1], [2], [3]]\n"},
		{"empty ledger id", "ledger:\n  id: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
