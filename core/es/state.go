package es

import (
	"context"
	"errors"
	"fmt"

	"github.com/codewandler/aggstore/ports/kv"
)

var ErrStateNotFound = errors.New("state not found")

// StateStore keeps the latest serialized state per aggregate next to the
// event log. Writes are guarded by a revision token that is independent of
// the stream version: SaveState succeeds only if rev matches the stored
// revision (0 for a first write) and returns the new one.
type StateStore interface {
	LoadState(ctx context.Context, aggType, aggID string) (data []byte, rev uint64, err error)
	SaveState(ctx context.Context, aggType, aggID string, data []byte, rev uint64) (uint64, error)
	// DeleteState removes the stored state. A missing entry is not an error.
	DeleteState(ctx context.Context, aggType, aggID string) error
}

// KeyValueStateStore is a StateStore on a kv.Store. A revision mismatch is
// reported as a *ConcurrencyConflictError.
type KeyValueStateStore struct {
	store kv.Store
}

func NewKeyValueStateStore(store kv.Store) *KeyValueStateStore {
	return &KeyValueStateStore{store: store}
}

func stateKey(aggType, aggID string) string { return "state." + aggType + "." + aggID }

func (s *KeyValueStateStore) LoadState(ctx context.Context, aggType, aggID string) ([]byte, uint64, error) {
	e, err := s.store.Get(ctx, stateKey(aggType, aggID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, 0, ErrStateNotFound
		}
		return nil, 0, storeUnavailable("load state", err)
	}
	return e.Data, e.Revision, nil
}

func (s *KeyValueStateStore) SaveState(ctx context.Context, aggType, aggID string, data []byte, rev uint64) (uint64, error) {
	key := stateKey(aggType, aggID)
	var (
		next uint64
		err  error
	)
	if rev == 0 {
		next, err = s.store.Create(ctx, key, data, kv.PutOptions{})
	} else {
		next, err = s.store.Update(ctx, key, data, rev, kv.PutOptions{})
	}
	if err != nil {
		if errors.Is(err, kv.ErrExists) || errors.Is(err, kv.ErrRevisionMismatch) {
			actual := Version(0)
			if e, gerr := s.store.Get(ctx, key); gerr == nil {
				actual = Version(e.Revision)
			}
			return 0, fmt.Errorf("save state: %w", NewConcurrencyConflict(aggType, aggID, Version(rev), actual))
		}
		return 0, storeUnavailable("save state", err)
	}
	return next, nil
}

func (s *KeyValueStateStore) DeleteState(ctx context.Context, aggType, aggID string) error {
	if err := s.store.Delete(ctx, stateKey(aggType, aggID)); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return storeUnavailable("delete state", err)
	}
	return nil
}

var _ StateStore = (*KeyValueStateStore)(nil)
