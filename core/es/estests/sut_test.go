package estests

import (
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggstore/adapters/gorm"
	"github.com/codewandler/aggstore/adapters/nats"
	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/es/estests/domain"
)

type storeSUT struct {
	name string
	open func(t *testing.T, opts ...es.StoreConfigOption) es.EventStore
}

func storeSUTs() []storeSUT {
	return []storeSUT{
		{
			name: "memory",
			open: func(_ *testing.T, opts ...es.StoreConfigOption) es.EventStore {
				return es.NewInMemoryStore(opts...)
			},
		},
		{
			name: "durable over memory",
			open: func(_ *testing.T, opts ...es.StoreConfigOption) es.EventStore {
				return es.NewDurableStore(
					es.NewInMemoryStore(),
					append([]es.StoreConfigOption{es.WithSnapshotter(es.NewInMemorySnapshotter())}, opts...)...,
				)
			},
		},
		{
			name: "sql",
			open: func(t *testing.T, opts ...es.StoreConfigOption) es.EventStore {
				db := gorm.NewTestDB(t)
				return es.NewDurableStore(
					gorm.NewBackend(db, nil),
					append([]es.StoreConfigOption{es.WithSnapshotter(es.NewKeyValueSnapshotter(gorm.NewKV(db)))}, opts...)...,
				)
			},
		},
		{
			name: "postgres",
			open: func(t *testing.T, opts ...es.StoreConfigOption) es.EventStore {
				db := gorm.NewPostgresTestDB(t, testing.Short())
				return es.NewDurableStore(gorm.NewBackend(db, nil), opts...)
			},
		},
		{
			name: "nats",
			open: func(t *testing.T, opts ...es.StoreConfigOption) es.EventStore {
				connect := nats.NewTestContainer(t, testing.Short())
				backend, err := nats.NewBackend(nats.BackendConfig{Connect: connect, MemoryStorage: true})
				require.NoError(t, err)
				t.Cleanup(func() { _ = backend.Close() })

				snapshotter, err := nats.NewSnapshotter(nats.KvConfig{
					Connect:       connect,
					Bucket:        "snapshots-" + gonanoid.Must(8),
					MemoryStorage: true,
				})
				require.NoError(t, err)

				return es.NewDurableStore(
					backend,
					append([]es.StoreConfigOption{es.WithSnapshotter(snapshotter)}, opts...)...,
				)
			},
		},
	}
}

type (
	// Tef starts a test env on the store under test.
	Tef      func(opts ...es.EnvOption) *es.TestingEnv
	TestFunc func(t *testing.T, tef Tef)
)

// eachStore runs testFunc once per store implementation. storeOpts
// configure the store, e.g. its snapshot frequency.
func eachStore(testFunc TestFunc, storeOpts ...es.StoreConfigOption) func(t *testing.T) {
	return func(t *testing.T) {
		for _, sut := range storeSUTs() {
			t.Run(sut.name, func(t *testing.T) {
				store := sut.open(t, storeOpts...)
				testFunc(t, func(opts ...es.EnvOption) *es.TestingEnv {
					return es.StartTestEnv(
						t,
						es.WithStore(store),
						es.WithAggregates(new(domain.TestAgg)),
						es.WithEnvOpts(opts...),
					)
				})
			})
		}
	}
}
