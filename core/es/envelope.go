package es

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// Envelope is the persisted form of a domain event. It is the unit of storage
// in the EventStore and carries everything needed to route and decode the
// event during replay. Once appended an envelope is never mutated.
type Envelope struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`
	// Seq is the global sequence number assigned by the store.
	Seq uint64 `json:"seq"`
	// Version is the aggregate version reached after this event (1, 2, 3, ...).
	Version Version `json:"version"`
	// AggregateType identifies the type of aggregate this event belongs to.
	AggregateType string `json:"aggregate"`
	// AggregateID identifies the aggregate instance.
	AggregateID string `json:"aggregate_id"`
	// Type is the event type name used for decoding.
	Type string `json:"type"`
	// OccurredAt is when the event was raised.
	OccurredAt time.Time `json:"occurred_at"`
	// Collapsible marks state-change events the Compressor may collapse.
	Collapsible bool `json:"collapsible,omitempty"`
	// Data is the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return errors.New("envelope id is empty")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("envelope occurred at is zero")
	}
	if e.AggregateID == "" {
		return errors.New("envelope aggregate id is empty")
	}
	if e.AggregateType == "" {
		return errors.New("envelope aggregate type is empty")
	}
	if e.Type == "" {
		return errors.New("envelope type is empty")
	}
	return nil
}

func (e Envelope) logAttrs() slog.Attr {
	return slog.Group(
		"event",
		slog.String("id", e.ID),
		slog.String("type", e.Type),
		slog.Uint64("seq", e.Seq),
		e.Version.SlogAttr(),
		slog.String("aggregate_type", e.AggregateType),
		slog.String("aggregate_id", e.AggregateID),
	)
}

type Decoder interface{ Decode(e Envelope) (any, error) }

// checkContiguous verifies that envs form a gap-free run for one stream,
// starting right after from.
func checkContiguous(from Version, envs []Envelope) error {
	v := from
	for _, e := range envs {
		if e.Version != v+1 {
			return &ValidationError{
				Field:  "version",
				Reason: "events must be contiguous within a stream",
			}
		}
		v = e.Version
	}
	return nil
}
