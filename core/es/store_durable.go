package es

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/codewandler/aggstore/core/cache"
	"github.com/codewandler/aggstore/core/sf"
)

// DurableStore is an EventStore on top of an external Backend. Stream reads
// go through a read-through cache that is invalidated on every save of the
// stream; concurrent misses for one stream share a single backend read.
type DurableStore struct {
	savePipeline
	backend Backend
}

// NewDurableStore creates a store over backend. Without WithStreamCache an
// LRU of 1024 streams is used.
func NewDurableStore(backend Backend, opts ...StoreConfigOption) *DurableStore {
	options := newStoreOpts(append([]StoreConfigOption{
		WithStreamCache(cache.NewLRU(cache.LRUOpts{Size: 1024})),
	}, opts...)...)
	options.log = options.log.With(slog.String("store", "durable"))
	return &DurableStore{
		savePipeline: savePipeline{storeOpts: options},
		backend:      backend,
	}
}

func (s *DurableStore) Backend() Backend         { return s.backend }
func (s *DurableStore) Snapshotter() Snapshotter { return s.snapshotter }

// GetLatestSnapshot returns the most recent snapshot of the aggregate or
// ErrSnapshotNotFound.
func (s *DurableStore) GetLatestSnapshot(ctx context.Context, aggType, aggID string) (*Snapshot, error) {
	defer s.metrics.SnapshotLoadDuration(aggType).ObserveDuration()
	return LoadSnapshot(ctx, s.snapshotter, aggType, aggID)
}

func (s *DurableStore) SaveEvents(
	ctx context.Context,
	aggType, aggID string,
	expected Version,
	events []Envelope,
	opts ...SaveEventsOption,
) (*StoreAppendResult, error) {
	return s.save(ctx, aggType, aggID, expected, events, s.backend.Append, opts...)
}

func (s *DurableStore) GetEvents(ctx context.Context, aggType, aggID string, opts ...StoreLoadOption) ([]Envelope, error) {
	if aggType == "" || aggID == "" {
		return nil, NewValidationError("aggregate", "type and id are required")
	}
	defer s.metrics.StoreLoadDuration(aggType).ObserveDuration()

	loadOpts := newStoreLoadOptions(opts...)
	key := StreamKey{AggregateType: aggType, AggregateID: aggID}

	if events, ok := s.streamCache.get(key); ok {
		s.metrics.CacheHit(aggType)
		return filterFrom(events, loadOpts.startVersion), nil
	}
	s.metrics.CacheMiss(aggType)

	events, err := s.streamCache.load(ctx, key, func(ctx context.Context) ([]Envelope, error) {
		return s.backend.ReadStream(ctx, key, 1)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, storeUnavailable("read stream", err)
	}
	return filterFrom(events, loadOpts.startVersion), nil
}

func (s *DurableStore) GetAllEvents(ctx context.Context) ([]Envelope, error) {
	events, err := s.backend.ReadAll(ctx)
	if err != nil {
		return nil, storeUnavailable("read all", err)
	}
	return events, nil
}

func (s *DurableStore) Truncate(ctx context.Context, key StreamKey, through Version) (int, error) {
	t, ok := s.backend.(Truncater)
	if !ok {
		return 0, errors.New("backend does not support truncation")
	}
	defer s.streamCache.invalidate(key)
	n, err := t.Truncate(ctx, key, through)
	if err != nil {
		return 0, storeUnavailable("truncate", err)
	}
	return n, nil
}

var (
	_ EventStore     = (*DurableStore)(nil)
	_ Truncater      = (*DurableStore)(nil)
	_ SnapshotSource = (*DurableStore)(nil)
)

// === stream cache ===

// streamCache caches whole streams. A generation counter per stream keeps a
// read that raced with a save from caching the pre-save stream.
type streamCache struct {
	c      cache.TypedCache[[]Envelope]
	flight *sf.Singleflight[[]Envelope]
	mu     *sync.Mutex
	gens   map[string]uint64
}

func newStreamCache(c cache.Cache) streamCache {
	return streamCache{
		c:      cache.NewTyped[[]Envelope](c),
		flight: sf.New[[]Envelope](),
		mu:     &sync.Mutex{},
		gens:   map[string]uint64{},
	}
}

func (c streamCache) get(key StreamKey) ([]Envelope, bool) { return c.c.Get(key.String()) }

func (c streamCache) gen(k string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[k]
}

func (c streamCache) invalidate(key StreamKey) {
	k := key.String()
	c.mu.Lock()
	c.gens[k]++
	c.mu.Unlock()
	c.c.Delete(k)
	c.flight.Forget(k)
}

func (c streamCache) load(ctx context.Context, key StreamKey, fn func(ctx context.Context) ([]Envelope, error)) ([]Envelope, error) {
	k := key.String()
	return c.flight.Do(ctx, k, func(ctx context.Context) ([]Envelope, error) {
		g := c.gen(k)
		events, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if c.gen(k) == g {
			c.c.Put(k, events)
		}
		return events, nil
	})
}
