// Package archive moves old events out of the live log into cold storage
// and reads them back on demand.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codewandler/aggstore/core/es"
)

var ErrArchiveFailure = errors.New("archive failure")

// FailureError is returned for every failed archive or recovery operation.
type FailureError struct {
	Op            string
	AggregateType string
	AggregateID   string
	Err           error
}

func (e *FailureError) Error() string {
	if e.AggregateID == "" {
		return fmt.Sprintf("archive %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("archive %s %s/%s: %v", e.Op, e.AggregateType, e.AggregateID, e.Err)
}

func (e *FailureError) Unwrap() []error { return []error{ErrArchiveFailure, e.Err} }

// ArchivedEvent is an envelope relocated to the archive.
type ArchivedEvent struct {
	es.Envelope
	ArchivedAt        time.Time `json:"archived_at"`
	OriginalTimestamp time.Time `json:"original_timestamp"`
}

// Store persists archived events. Save must ignore events whose ID is
// already archived and report how many were new.
type Store interface {
	Save(ctx context.Context, events []ArchivedEvent) (stored int, err error)
	Load(ctx context.Context, aggType, aggID string, through es.Version) ([]ArchivedEvent, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]struct{}
	streams map[es.StreamKey][]ArchivedEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    map[string]struct{}{},
		streams: map[es.StreamKey][]ArchivedEvent{},
	}
}

func (m *MemoryStore) Save(_ context.Context, events []ArchivedEvent) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := 0
	for _, ev := range events {
		if _, ok := m.byID[ev.ID]; ok {
			continue
		}
		m.byID[ev.ID] = struct{}{}
		key := es.StreamKey{AggregateType: ev.AggregateType, AggregateID: ev.AggregateID}
		m.streams[key] = append(m.streams[key], ev)
		stored++
	}
	return stored, nil
}

func (m *MemoryStore) Load(_ context.Context, aggType, aggID string, through es.Version) ([]ArchivedEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ArchivedEvent, 0)
	for _, ev := range m.streams[es.StreamKey{AggregateType: aggType, AggregateID: aggID}] {
		if ev.Version <= through {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Len returns the number of archived events.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

var _ Store = (*MemoryStore)(nil)
