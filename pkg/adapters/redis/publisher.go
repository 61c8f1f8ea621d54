package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Publisher relays ledger events over a Redis channel, so replicas sharing a store
// learn about changes made elsewhere.
type Publisher struct {
	client  *backend.Client
	channel string
	logger  *slog.Logger
}

// NewPublisher creates a publisher on channel prefix + "events:" + ledgerID.
func NewPublisher(client *backend.Client, prefix, ledgerID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		client:  client,
		channel: prefix + "events:" + ledgerID,
		logger:  logger,
	}
}

// Channel returns the Redis channel name.
func (p *Publisher) Channel() string {
	return p.channel
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, e domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Forward publishes every event read from events until the stream closes or ctx ends.
// Publish failures are logged and do not stop forwarding.
func (p *Publisher) Forward(ctx context.Context, events <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, e); err != nil {
				p.logger.Warn("Event publish failed", "type", e.Type, "err", err)
			}
		}
	}
}

// Listen delivers events published by any replica to fn until ctx ends.
func (p *Publisher) Listen(ctx context.Context, fn func(domain.Event)) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reading.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", p.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				p.logger.Warn("Dropping malformed event", "channel", p.channel, "err", err)
				continue
			}
			fn(e)
		}
	}
}
