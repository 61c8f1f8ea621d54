package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/weft/pkg/domain"
)

// WaitForPhase blocks until the ledger reaches phase p.
func (c *Controller) WaitForPhase(ctx context.Context, p domain.Phase) (domain.Epoch, error) {
	return c.wait(ctx, fmt.Sprintf("phase %s", p), func(e domain.Epoch) bool { return e.Phase == p })
}

// WaitCanVote blocks until the voting window opens.
func (c *Controller) WaitCanVote(ctx context.Context) (domain.Epoch, error) {
	return c.wait(ctx, "voting window", func(e domain.Epoch) bool { return e.CanVote })
}

// WaitCanRelease blocks until some domain can be released.
func (c *Controller) WaitCanRelease(ctx context.Context) (domain.Epoch, error) {
	return c.wait(ctx, "release window", func(e domain.Epoch) bool { return e.CanRelease })
}

// wait subscribes before checking the condition, so a transition between the check and
// the subscription cannot be missed.
func (c *Controller) wait(ctx context.Context, what string, ready func(domain.Epoch) bool) (domain.Epoch, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.waitTimeout)
		defer cancel()
	}

	events, unsubscribe := c.Subscribe()
	defer unsubscribe()

	for {
		if e := c.Epoch(); ready(e) {
			return e, nil
		}
		select {
		case <-ctx.Done():
			return c.Epoch(), fmt.Errorf("waiting for %s: %w", what, ctx.Err())
		case _, ok := <-events:
			if !ok {
				return c.Epoch(), fmt.Errorf("waiting for %s: event stream closed", what)
			}
		}
	}
}
