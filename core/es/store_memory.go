package es

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryStore is a volatile, process-local store for tests and
// development. It is also a Backend, so it can sit behind a DurableStore.
type InMemoryStore struct {
	savePipeline

	mu      sync.RWMutex
	seq     uint64
	streams map[string][]Envelope
	last    map[string]Version // survives truncation
	order   []string
}

// NewInMemoryStore creates a volatile store. Unless configured otherwise it
// snapshots into an InMemorySnapshotter every 100 versions.
func NewInMemoryStore(opts ...StoreConfigOption) *InMemoryStore {
	options := newStoreOpts(append([]StoreConfigOption{
		WithSnapshotter(NewInMemorySnapshotter()),
		WithSnapshotFrequency(100),
	}, opts...)...)
	options.log = options.log.With(slog.String("store", "memory"))
	return &InMemoryStore{
		savePipeline: savePipeline{storeOpts: options},
		streams:      map[string][]Envelope{},
		last:         map[string]Version{},
	}
}

func (s *InMemoryStore) Snapshotter() Snapshotter { return s.snapshotter }

func (s *InMemoryStore) GetLatestSnapshot(ctx context.Context, aggType, aggID string) (*Snapshot, error) {
	return LoadSnapshot(ctx, s.snapshotter, aggType, aggID)
}

func (s *InMemoryStore) SaveEvents(
	ctx context.Context,
	aggType, aggID string,
	expected Version,
	events []Envelope,
	opts ...SaveEventsOption,
) (*StoreAppendResult, error) {
	return s.save(ctx, aggType, aggID, expected, events, s.Append, opts...)
}

func (s *InMemoryStore) GetEvents(_ context.Context, aggType, aggID string, opts ...StoreLoadOption) ([]Envelope, error) {
	defer s.metrics.StoreLoadDuration(aggType).ObserveDuration()
	loadOpts := newStoreLoadOptions(opts...)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterFrom(s.streams[StreamKey{aggType, aggID}.String()], loadOpts.startVersion), nil
}

func (s *InMemoryStore) GetAllEvents(ctx context.Context) ([]Envelope, error) {
	return s.ReadAll(ctx)
}

// === Backend ===

func (s *InMemoryStore) Append(_ context.Context, key StreamKey, expected Version, events []Envelope) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sk := key.String()
	if cur := s.last[sk]; cur != expected {
		return 0, NewConcurrencyConflict(key.AggregateType, key.AggregateID, expected, cur)
	}
	if err := checkContiguous(expected, events); err != nil {
		return 0, err
	}

	stored := make([]Envelope, len(events))
	for i := range events {
		s.seq++
		events[i].Seq = s.seq
		stored[i] = events[i]
	}
	if _, ok := s.streams[sk]; !ok && s.last[sk] == 0 {
		s.order = append(s.order, sk)
	}
	s.streams[sk] = append(s.streams[sk], stored...)
	s.last[sk] = stored[len(stored)-1].Version
	return s.seq, nil
}

func (s *InMemoryStore) ReadStream(_ context.Context, key StreamKey, from Version) ([]Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterFrom(s.streams[key.String()], from), nil
}

func (s *InMemoryStore) ReadAll(context.Context) ([]Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Envelope, 0)
	for _, sk := range s.order {
		out = append(out, s.streams[sk]...)
	}
	return out, nil
}

func (s *InMemoryStore) Truncate(_ context.Context, key StreamKey, through Version) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk := key.String()
	events := s.streams[sk]
	kept := filterFrom(events, through+1)
	s.streams[sk] = kept
	return len(events) - len(kept), nil
}

var (
	_ EventStore     = (*InMemoryStore)(nil)
	_ Backend        = (*InMemoryStore)(nil)
	_ Truncater      = (*InMemoryStore)(nil)
	_ SnapshotSource = (*InMemoryStore)(nil)
)
