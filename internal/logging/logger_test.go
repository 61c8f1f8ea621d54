package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("Text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(&buf, slog.LevelInfo, FormatText)
		logger.Debug("hidden")
		logger.Info("Commit", "error", errors.New("boom"))

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "msg=Commit")
		assert.Contains(t, out, "err=boom")
	})

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		New(&buf, slog.LevelDebug, FormatJSON).Debug("Vote", "domain", 3)
		assert.Contains(t, buf.String(), `"msg":"Vote"`)
		assert.Contains(t, buf.String(), `"domain":3`)
	})
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestNewNop(t *testing.T) {
	assert.False(t, NewNop().Enabled(context.Background(), slog.LevelError))
}
