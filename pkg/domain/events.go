package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventSubmitted     EventType = "submitted"
	EventVoted         EventType = "voted"
	EventConflict      EventType = "conflict"
	EventCommitted     EventType = "committed"
	EventPhaseChanged  EventType = "phase_changed"
	EventPoolOpened    EventType = "pool_opened"
	EventTaskCompleted EventType = "task_completed"
)

// Event is the envelope published to subscribers and hooks.
// Only the fields relevant to Type are set.
type Event struct {
	Timestamp   time.Time    `json:"timestamp"`
	Type        EventType    `json:"type"`
	Epoch       uint64       `json:"epoch"`
	Phase       Phase        `json:"phase,omitempty"`
	Domain      DomainID     `json:"domain,omitempty"`
	Address     string       `json:"address,omitempty"`
	Interaction *Interaction `json:"interaction,omitempty"`
	Order       []uint64     `json:"order,omitempty"`
	Released    bool         `json:"released,omitempty"`
	External    bool         `json:"external,omitempty"`
	Task        *TaskKey     `json:"task,omitempty"`
}

// LifecycleHooks defines callbacks for ledger observability.
// Hooks run synchronously while the ledger holds its lock; they must not call back into it.
type LifecycleHooks struct {
	OnSubmit        func(context.Context, *Event)
	OnVote          func(context.Context, *Event)
	OnConflict      func(context.Context, *Event)
	OnCommit        func(context.Context, *Event)
	OnPhaseChange   func(context.Context, *Event)
	OnPoolOpened    func(context.Context, *Event)
	OnTaskCompleted func(context.Context, *Event)
}

// Fire dispatches the event to the matching hook, if any.
func (h LifecycleHooks) Fire(ctx context.Context, e *Event) {
	var fn func(context.Context, *Event)
	switch e.Type {
	case EventSubmitted:
		fn = h.OnSubmit
	case EventVoted:
		fn = h.OnVote
	case EventConflict:
		fn = h.OnConflict
	case EventCommitted:
		fn = h.OnCommit
	case EventPhaseChanged:
		fn = h.OnPhaseChange
	case EventPoolOpened:
		fn = h.OnPoolOpened
	case EventTaskCompleted:
		fn = h.OnTaskCompleted
	}
	if fn != nil {
		fn(ctx, e)
	}
}

// Combine returns hooks that call h first and then other.
func (h LifecycleHooks) Combine(other LifecycleHooks) LifecycleHooks {
	chain := func(a, b func(context.Context, *Event)) func(context.Context, *Event) {
		if a == nil {
			return b
		}
		if b == nil {
			return a
		}
		return func(ctx context.Context, e *Event) {
			a(ctx, e)
			b(ctx, e)
		}
	}
	return LifecycleHooks{
		OnSubmit:        chain(h.OnSubmit, other.OnSubmit),
		OnVote:          chain(h.OnVote, other.OnVote),
		OnConflict:      chain(h.OnConflict, other.OnConflict),
		OnCommit:        chain(h.OnCommit, other.OnCommit),
		OnPhaseChange:   chain(h.OnPhaseChange, other.OnPhaseChange),
		OnPoolOpened:    chain(h.OnPoolOpened, other.OnPoolOpened),
		OnTaskCompleted: chain(h.OnTaskCompleted, other.OnTaskCompleted),
	}
}
