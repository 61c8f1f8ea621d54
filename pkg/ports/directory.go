package ports

import (
	"context"

	"github.com/aretw0/weft/pkg/domain"
)

// TaskDirectory defines how the ledger learns who takes part in a task.
// It mirrors the process definition: each (instance, task) pair binds a sender and a receiver.
type TaskDirectory interface {
	// Participants returns the roles bound to a task.
	// Returns domain.ErrUnknownTask if the task has never been defined.
	Participants(ctx context.Context, key domain.TaskKey) (domain.Participants, error)
}
