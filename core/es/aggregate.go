package es

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/codewandler/aggstore/core/es/assert"
)

// now is the clock used for event timestamps. Monotonic readings are
// stripped so live and replayed timestamps compare equal.
var now = func() time.Time { return time.Now().UTC().Round(0) }

// Aggregate is the core interface for event-sourced domain objects.
//
// Identity, version, audit timestamps, soft-delete and the pending event
// buffer live in BaseAggregate, which every aggregate embeds. Domain types
// only provide their type name, their events and an Apply function that
// routes each event to its state transition:
//
//	func (a *Account) Apply(evt any) error {
//	    switch e := evt.(type) {
//	    case *MoneyDeposited:
//	        a.balance += e.Amount
//	    default:
//	        return fmt.Errorf("unknown event: %T", evt)
//	    }
//	    return nil
//	}
//
// The built-in AggregateCreated and AggregateDeleted events are applied by
// the framework and never reach Apply.
type Aggregate interface {
	// GetAggType returns the aggregate type name used for stream identification.
	GetAggType() string
	// GetID returns the unique identifier of this aggregate instance.
	GetID() string
	// SetID sets the aggregate ID before loading.
	SetID(string)
	// GetVersion returns the version of the last event applied.
	GetVersion() Version
	// Register registers the aggregate's event types.
	Register(r Registrar)
	// Apply updates the aggregate state from a domain event.
	Apply(event any) error

	base() *BaseAggregate
}

type raised struct {
	event any
	at    time.Time
}

// BaseAggregate is embedded by every aggregate. It tracks identity, version,
// timestamps, the deleted flag and events raised but not yet persisted.
type BaseAggregate struct {
	CreatedAt      time.Time `json:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
	Deleted        bool      `json:"deleted,omitempty"`

	mu       sync.Mutex
	id       string
	version  Version
	seq      uint64
	revision uint64
	pending  []raised
}

func (b *BaseAggregate) base() *BaseAggregate { return b }

func (b *BaseAggregate) GetID() string           { return b.id }
func (b *BaseAggregate) SetID(id string)         { b.id = id }
func (b *BaseAggregate) GetVersion() Version     { return b.version }
func (b *BaseAggregate) GetSeq() uint64          { return b.seq }
func (b *BaseAggregate) GetCreatedAt() time.Time { return b.CreatedAt }
func (b *BaseAggregate) IsCreated() bool         { return !b.CreatedAt.IsZero() }
func (b *BaseAggregate) IsDeleted() bool         { return b.Deleted }

// StateRevision is the optimistic token of the last state written to a
// StateStore. It is independent of the stream version.
func (b *BaseAggregate) StateRevision() uint64 { return b.revision }

// Create records the AggregateCreated event for id.
func (b *BaseAggregate) Create(id string) error {
	if b.IsCreated() {
		return &StateError{Op: "create", AggregateID: id, Err: errors.New("aggregate already created")}
	}
	if id == "" {
		return NewValidationError("id", "is required")
	}
	ev := &AggregateCreated{ID: id, CreatedAt: now()}
	b.applyBase(ev, ev.CreatedAt)
	b.raise(ev, ev.CreatedAt)
	return nil
}

// MarkDeleted soft-deletes the aggregate by recording AggregateDeleted. Any
// later mutation fails with ErrAggregateDeleted.
func (b *BaseAggregate) MarkDeleted() error {
	if err := b.guard("delete"); err != nil {
		return err
	}
	ev := &AggregateDeleted{DeletedAt: now()}
	b.applyBase(ev, ev.DeletedAt)
	b.raise(ev, ev.DeletedAt)
	return nil
}

// Pending returns a copy of the events raised but not yet persisted.
func (b *BaseAggregate) Pending() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, len(b.pending))
	for i, r := range b.pending {
		out[i] = r.event
	}
	return out
}

func (b *BaseAggregate) HasPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) > 0
}

// DrainEvents returns the pending events and clears the buffer. Concurrent
// callers never receive the same event twice.
func (b *BaseAggregate) DrainEvents() []any {
	out := b.drain()
	events := make([]any, len(out))
	for i, r := range out {
		events[i] = r.event
	}
	return events
}

// Checked runs thenFunc only if c holds. A failed condition is reported as
// a validation error.
func (b *BaseAggregate) Checked(c assert.Cond, thenFunc func() error) error {
	if err := c.Check(); err != nil {
		return &ValidationError{Reason: "precondition", Err: err}
	}
	return thenFunc()
}

func (b *BaseAggregate) guard(op string) error {
	if b.Deleted {
		return &StateError{Op: op, AggregateID: b.id, Err: ErrAggregateDeleted}
	}
	return nil
}

func (b *BaseAggregate) raise(ev any, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, raised{event: ev, at: at})
}

func (b *BaseAggregate) drain() []raised {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// restore puts events back in front of the buffer after a failed save.
func (b *BaseAggregate) restore(rs []raised) {
	if len(rs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(append(make([]raised, 0, len(rs)+len(b.pending)), rs...), b.pending...)
}

func (b *BaseAggregate) setVersion(v Version) { b.version = v }
func (b *BaseAggregate) setSeq(s uint64)      { b.seq = s }

// applyBase applies built-in events. It reports false for domain events.
func (b *BaseAggregate) applyBase(evt any, at time.Time) bool {
	switch e := evt.(type) {
	case *AggregateCreated:
		b.id = e.ID
		b.CreatedAt = e.CreatedAt
		b.LastModifiedAt = e.CreatedAt
	case *AggregateDeleted:
		b.Deleted = true
		b.LastModifiedAt = at
	default:
		return false
	}
	return true
}

// applyEvent routes evt to the base aggregate or the domain Apply and
// stamps the modification time.
func applyEvent(agg Aggregate, evt any, at time.Time) error {
	b := agg.base()
	if b.applyBase(evt, at) {
		return nil
	}
	if err := agg.Apply(evt); err != nil {
		return err
	}
	b.LastModifiedAt = at
	return nil
}

// === Helpers ===

// RaiseAndApply applies events to agg and buffers them for the next save.
// It fails with ErrAggregateDeleted on a deleted aggregate and with a
// validation error if any event implements Validate() and rejects itself.
func RaiseAndApply(agg Aggregate, events ...any) error {
	if len(events) == 0 {
		return nil
	}
	b := agg.base()
	if err := b.guard("mutate"); err != nil {
		var se *StateError
		if errors.As(err, &se) {
			se.AggregateType = agg.GetAggType()
		}
		return err
	}

	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok {
			if err := ev.Validate(); err != nil {
				return &ValidationError{Reason: fmt.Sprintf("invalid event %T", e), Err: err}
			}
		}
	}

	for _, e := range events {
		at := now()
		if err := applyEvent(agg, e, at); err != nil {
			return err
		}
		b.raise(e, at)
	}
	return nil
}

func RaiseAndApplyD(agg Aggregate, events ...any) func() error {
	return func() error { return RaiseAndApply(agg, events...) }
}

// newAggregate returns a zero aggregate of type T, allocating pointer types.
func newAggregate[T Aggregate]() T {
	var a T
	rt := reflect.TypeFor[T]()
	if rt.Kind() == reflect.Pointer {
		return reflect.New(rt.Elem()).Interface().(T)
	}
	return a
}
