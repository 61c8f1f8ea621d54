package runtime

import (
	"log/slog"
	"sync"

	"github.com/aretw0/weft/pkg/domain"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 64

// Broker fans ledger events out to subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan domain.Event]struct{}
	logger      *slog.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		subscribers: make(map[chan domain.Event]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. The returned function unsubscribes and closes the channel.
func (b *Broker) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, subscriberBuffer)
	b.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, ch)
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber.
func (b *Broker) Publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.logger.Warn("Broker: subscriber buffer full, dropping event", "type", e.Type, "epoch", e.Epoch)
		}
	}
}
