// Package redis keeps idempotency records in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/codewandler/aggstore/core/idem"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Log      *slog.Logger
}

// IdempotencyStore is an idem.Store on SET NX with expiry. Records vanish
// on their own once the TTL passed.
type IdempotencyStore struct {
	rdb *goredis.Client
	log *slog.Logger
}

// Connect dials Redis and checks the connection with a ping.
func Connect(cfg Config) (*IdempotencyStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewIdempotencyStore(rdb, cfg.Log), nil
}

func NewIdempotencyStore(rdb *goredis.Client, log *slog.Logger) *IdempotencyStore {
	if log == nil {
		log = slog.Default()
	}
	return &IdempotencyStore{rdb: rdb, log: log.With(slog.String("idem_store", "redis"))}
}

func (s *IdempotencyStore) Close() error { return s.rdb.Close() }

func (s *IdempotencyStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok {
		s.log.Debug("key exists", slog.String("key", key))
	}
	return ok, nil
}

func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

var _ idem.Store = (*IdempotencyStore)(nil)
