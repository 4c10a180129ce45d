package es

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/codewandler/aggstore/internal/reflector"
)

// EventRegistry maps event type names to constructors so persisted events can
// be decoded back into typed values.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() any
}

func NewRegistry() *EventRegistry {
	r := &EventRegistry{news: map[string]func() any{}}
	RegisterEventFor[AggregateCreated](r)
	RegisterEventFor[AggregateDeleted](r)
	return r
}

func (r *EventRegistry) Register(eventType string, ctor func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

func (r *EventRegistry) Decode(env Envelope) (any, error) {
	r.mu.RLock()
	ctor, ok := r.news[env.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	ev := ctor()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return ev, nil
}

type Registrar interface {
	Register(eventType string, ctor func() any)
}

func RegisterEventFor[T any](r Registrar) {
	r.Register(EventTypeOf(new(T)), func() any { return any(new(T)) })
}

// Event returns a constructor for an event of type T.
func Event[T any]() func() any { return func() any { return new(T) } }

// RegisterEvents registers event constructors. Each constructor is called
// once to derive the type name.
func RegisterEvents(r Registrar, ctors ...func() any) {
	for _, ctor := range ctors {
		r.Register(EventTypeOf(ctor()), ctor)
	}
}

// EventTypeOf returns the persisted type name of ev. Events may choose their
// own name by implementing EventType() string.
func EventTypeOf(ev any) string {
	if t, ok := ev.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.TypeInfoOf(ev).Name
}

// === compression tags ===

// StateChange marks an event that fully describes a new value of some state
// (e.g. a status transition). Only the last StateChange event per type in a
// batch survives compression, so the payload must not depend on earlier
// events of the same type.
type StateChange interface{ StateChange() }

// Milestone marks an event that must never be compressed away, even if it
// also implements StateChange.
type Milestone interface{ Milestone() }

// IsCollapsible reports whether the Compressor may drop ev in favour of a
// later event of the same type.
func IsCollapsible(ev any) bool {
	if _, ok := ev.(Milestone); ok {
		return false
	}
	_, ok := ev.(StateChange)
	return ok
}

// === built-in events ===

type (
	// AggregateCreated is recorded by BaseAggregate.Create.
	AggregateCreated struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"created_at"`
	}

	// AggregateDeleted is recorded by BaseAggregate.MarkDeleted.
	AggregateDeleted struct {
		DeletedAt time.Time `json:"deleted_at"`
	}
)

func (AggregateCreated) EventType() string { return "es.aggregate_created" }
func (AggregateDeleted) EventType() string { return "es.aggregate_deleted" }
func (AggregateCreated) Milestone()        {}
func (AggregateDeleted) Milestone()        {}

func (e AggregateCreated) Validate() error {
	if e.CreatedAt.IsZero() {
		return NewValidationError("created_at", "is zero")
	}
	if e.ID == "" {
		return NewValidationError("id", "is required")
	}
	return nil
}
