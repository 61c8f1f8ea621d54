package ports

import (
	"context"

	"github.com/aretw0/weft/pkg/domain"
)

// TaskRunner defines how a task is executed once it may run.
// The ledger never runs tasks itself; the host implements this interface.
type TaskRunner interface {
	Run(ctx context.Context, caller string, key domain.TaskKey) error
}
