// Package kv is the key/value boundary used for snapshots, aggregate state
// and idempotency records. Every write returns the entry's new revision so
// callers can do optimistic updates.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrExists           = errors.New("key exists")
	ErrRevisionMismatch = errors.New("revision mismatch")
)

type Entry struct {
	Key      string
	Data     []byte
	Revision uint64
}

type PutOptions struct {
	// TTL expires the entry after the given duration. Zero keeps it forever.
	// Backends with bucket-level expiry may ignore it.
	TTL time.Duration
}

type Store interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (rev uint64, err error)
	// Create writes only if the key is absent (or expired) and fails with
	// ErrExists otherwise.
	Create(ctx context.Context, key string, data []byte, opts PutOptions) (rev uint64, err error)
	// Update writes only if the current revision equals last and fails with
	// ErrRevisionMismatch otherwise.
	Update(ctx context.Context, key string, data []byte, last uint64, opts PutOptions) (rev uint64, err error)
	Get(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) error
}

func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return store.Put(ctx, key, data, opts)
}

func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return
	}
	err = json.Unmarshal(entry.Data, &out)
	return
}
