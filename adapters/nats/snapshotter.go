package nats

import (
	"github.com/codewandler/aggstore/core/es"
)

// NewSnapshotter creates a new jetstream key-value-store based snapshotter.
func NewSnapshotter(cfg KvConfig) (*es.KeyValueSnapshotter, error) {
	store, err := NewKV(cfg)
	if err != nil {
		return nil, err
	}
	return es.NewKeyValueSnapshotter(store), nil
}

// NewStateStore keeps serialized aggregate state in a jetstream bucket.
func NewStateStore(cfg KvConfig) (*es.KeyValueStateStore, error) {
	store, err := NewKV(cfg)
	if err != nil {
		return nil, err
	}
	return es.NewKeyValueStateStore(store), nil
}
