package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
)

// TaskDirectoryContractTest is a reusable test suite that verifies if an adapter complies with ports.TaskDirectory.
// setupData must already be loaded into the directory.
func TaskDirectoryContractTest(t *testing.T, dir ports.TaskDirectory, setupData map[domain.TaskKey]domain.Participants) {
	t.Helper()
	ctx := context.Background()

	t.Run("Participants_Success", func(t *testing.T) {
		for key, want := range setupData {
			got, err := dir.Participants(ctx, key)
			if err != nil {
				t.Fatalf("unexpected error resolving %s: %v", key, err)
			}
			if got != want {
				t.Errorf("participants mismatch for %s. got %+v, want %+v", key, got, want)
			}
		}
	})

	t.Run("Participants_Unknown", func(t *testing.T) {
		_, err := dir.Participants(ctx, domain.TaskKey{InstanceID: 1 << 62, TaskName: "non-existent-task"})
		if !errors.Is(err, domain.ErrUnknownTask) {
			t.Errorf("expected ErrUnknownTask, got %v", err)
		}
	})
}
