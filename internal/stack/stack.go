// Package stack assembles the storage side of a process from its
// configuration.
package stack

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/aggstore/adapters/gorm"
	"github.com/codewandler/aggstore/adapters/nats"
	"github.com/codewandler/aggstore/adapters/redis"
	"github.com/codewandler/aggstore/core/archive"
	"github.com/codewandler/aggstore/core/cache"
	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/idem"
	"github.com/codewandler/aggstore/internal/config"
)

// Stack is the storage side of a process, chosen by the backend setting.
type Stack struct {
	Store       es.EventStore
	Snapshotter es.Snapshotter
	States      es.StateStore // optional
	Idempotency idem.Store
	Archive     archive.Store
	Publisher   es.Publisher // optional, forwards committed events
	closers     []func() error
}

func (s *Stack) onClose(fn func() error) { s.closers = append(s.closers, fn) }

// Close releases connections in reverse order of opening.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// Open connects the configured backend. Redis replaces the idempotency
// store when an address is set.
func Open(log *slog.Logger, cfg config.Config, metrics es.ESMetrics) (st *Stack, err error) {
	st = &Stack{}
	if log == nil {
		log = slog.Default()
	}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	storeOpts := []es.StoreConfigOption{
		es.WithLog(log),
		es.WithMetrics(metrics),
		es.WithSnapshotFrequency(cfg.Store.SnapshotFrequency),
		es.WithCompressionThreshold(cfg.Store.CompressionThreshold),
	}
	streamCache := es.WithStreamCache(cache.NewLRU(cache.LRUOpts{Size: cfg.Store.StreamCacheSize}))

	switch cfg.Backend {
	case "memory":
		snapshotter := es.NewInMemorySnapshotter()
		st.Store = es.NewInMemoryStore(append(storeOpts, es.WithSnapshotter(snapshotter))...)
		st.Snapshotter = snapshotter
		st.Idempotency = idem.NewMemoryStore()
		st.Archive = archive.NewMemoryStore()

	case "sql":
		db, err := gorm.Open(gorm.Config{
			Driver:        cfg.SQL.Driver,
			DSN:           cfg.SQL.DSN,
			Log:           log,
			SlowThreshold: cfg.SQL.SlowThreshold,
		})
		if err != nil {
			return st, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return st, err
		}
		st.onClose(sqlDB.Close)

		kvStore := gorm.NewKV(db)
		st.Snapshotter = es.NewKeyValueSnapshotter(kvStore)
		st.Store = es.NewDurableStore(
			gorm.NewBackend(db, log),
			append(storeOpts, es.WithSnapshotter(st.Snapshotter), streamCache)...,
		)
		st.States = es.NewKeyValueStateStore(kvStore)
		st.Idempotency = idem.NewKeyValueStore(kvStore)
		st.Archive = gorm.NewArchiveStore(db)

	case "nats":
		connect := nats.ReuseConnection(nats.ConnectURL(cfg.NATS.URL))

		backend, err := nats.NewBackend(nats.BackendConfig{
			Connect:       connect,
			Log:           log,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			StreamName:    cfg.NATS.StreamName,
		})
		if err != nil {
			return st, fmt.Errorf("nats backend: %w", err)
		}
		st.onClose(backend.Close)

		snapshots, err := nats.NewKV(nats.KvConfig{Connect: connect, Bucket: cfg.NATS.SnapshotsKV})
		if err != nil {
			return st, fmt.Errorf("nats snapshots: %w", err)
		}
		st.onClose(snapshots.Close)

		states, err := nats.NewKV(nats.KvConfig{Connect: connect, Bucket: cfg.NATS.StateKV})
		if err != nil {
			return st, fmt.Errorf("nats state: %w", err)
		}
		st.onClose(states.Close)

		idemKV, err := nats.NewKV(nats.KvConfig{
			Connect: connect,
			Bucket:  "aggstore_idempotency",
			TTL:     cfg.Command.IdempotencyTTL,
		})
		if err != nil {
			return st, fmt.Errorf("nats idempotency: %w", err)
		}
		st.onClose(idemKV.Close)

		archiveKV, err := nats.NewKV(nats.KvConfig{Connect: connect, Bucket: cfg.NATS.ArchiveKV})
		if err != nil {
			return st, fmt.Errorf("nats archive: %w", err)
		}
		st.onClose(archiveKV.Close)

		st.Snapshotter = es.NewKeyValueSnapshotter(snapshots)
		st.Store = es.NewDurableStore(backend, append(storeOpts, es.WithSnapshotter(st.Snapshotter), streamCache)...)
		st.States = es.NewKeyValueStateStore(states)
		st.Idempotency = idem.NewKeyValueStore(idemKV)
		st.Archive = archive.NewKeyValueStore(archiveKV)

		if cfg.NATS.Publish {
			pub, err := nats.NewPublisher(nats.PublisherConfig{
				Connect:       connect,
				Log:           log,
				SubjectPrefix: cfg.NATS.EventsPrefix,
			})
			if err != nil {
				return st, fmt.Errorf("nats publisher: %w", err)
			}
			st.onClose(pub.Close)
			st.Publisher = pub
		}

	default:
		return st, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if cfg.Redis.Addr != "" {
		rs, err := redis.Connect(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Log:      log,
		})
		if err != nil {
			return st, err
		}
		st.onClose(rs.Close)
		st.Idempotency = rs
	}

	log.Info(
		"storage ready",
		slog.String("backend", cfg.Backend),
		slog.Bool("redis_idempotency", cfg.Redis.Addr != ""),
		slog.Bool("state_store", st.States != nil),
	)
	return st, nil
}
