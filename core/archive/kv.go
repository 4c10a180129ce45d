package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/ports/kv"
)

// KeyValueStore is a Store on a kv.Store. Every Save that stores something
// for a stream adds one chunk under archive.<type>.<id>.<n>, with n counting
// up from 1. Reads walk the chunks until the first missing one.
type KeyValueStore struct {
	store kv.Store
}

func NewKeyValueStore(store kv.Store) *KeyValueStore {
	return &KeyValueStore{store: store}
}

func chunkKey(key es.StreamKey, n int) string {
	return fmt.Sprintf("archive.%s.%s.%d", key.AggregateType, key.AggregateID, n)
}

// chunks returns every archived event of key and the next free chunk number.
func (s *KeyValueStore) chunks(ctx context.Context, key es.StreamKey) ([]ArchivedEvent, int, error) {
	var out []ArchivedEvent
	for n := 1; ; n++ {
		chunk, err := kv.Get[[]ArchivedEvent](ctx, s.store, chunkKey(key, n))
		switch {
		case errors.Is(err, kv.ErrNotFound):
			return out, n, nil
		case err != nil:
			return nil, 0, fmt.Errorf("read chunk %d: %w", n, err)
		}
		out = append(out, chunk...)
	}
}

func (s *KeyValueStore) Save(ctx context.Context, events []ArchivedEvent) (int, error) {
	var (
		order    []es.StreamKey
		byStream = map[es.StreamKey][]ArchivedEvent{}
	)
	for _, ev := range events {
		key := es.StreamKey{AggregateType: ev.AggregateType, AggregateID: ev.AggregateID}
		if _, ok := byStream[key]; !ok {
			order = append(order, key)
		}
		byStream[key] = append(byStream[key], ev)
	}

	stored := 0
	for _, key := range order {
		n, err := s.saveStream(ctx, key, byStream[key])
		stored += n
		if err != nil {
			return stored, err
		}
	}
	return stored, nil
}

func (s *KeyValueStore) saveStream(ctx context.Context, key es.StreamKey, events []ArchivedEvent) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		existing, next, err := s.chunks(ctx, key)
		if err != nil {
			return 0, err
		}
		seen := make(map[string]struct{}, len(existing)+len(events))
		for _, ev := range existing {
			seen[ev.ID] = struct{}{}
		}
		fresh := make([]ArchivedEvent, 0, len(events))
		for _, ev := range events {
			if _, ok := seen[ev.ID]; ok {
				continue
			}
			seen[ev.ID] = struct{}{}
			fresh = append(fresh, ev)
		}
		if len(fresh) == 0 {
			return 0, nil
		}

		data, err := json.Marshal(fresh)
		if err != nil {
			return 0, err
		}
		_, err = s.store.Create(ctx, chunkKey(key, next), data, kv.PutOptions{})
		switch {
		case errors.Is(err, kv.ErrExists):
			// another archiver took this chunk number
			continue
		case err != nil:
			return 0, fmt.Errorf("write chunk %d: %w", next, err)
		}
		return len(fresh), nil
	}
}

func (s *KeyValueStore) Load(ctx context.Context, aggType, aggID string, through es.Version) ([]ArchivedEvent, error) {
	all, _, err := s.chunks(ctx, es.StreamKey{AggregateType: aggType, AggregateID: aggID})
	if err != nil {
		return nil, err
	}
	out := make([]ArchivedEvent, 0, len(all))
	for _, ev := range all {
		if ev.Version <= through {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

var _ Store = (*KeyValueStore)(nil)
