// Package idem keeps short-lived idempotency records so that a command or
// event is processed at most once per dedup window.
package idem

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/ports/kv"
)

const DefaultTTL = 10 * time.Minute

var ErrDuplicate = errors.New("duplicate")

// Store is the lock store boundary. SetIfAbsent reports whether the key was
// newly set.
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// KeyValueStore implements Store on top of a kv.Store.
type KeyValueStore struct {
	store kv.Store
}

func NewKeyValueStore(store kv.Store) *KeyValueStore { return &KeyValueStore{store: store} }

// NewMemoryStore is a process-local Store.
func NewMemoryStore() *KeyValueStore { return NewKeyValueStore(kv.NewMemStore()) }

func (s *KeyValueStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	_, err := s.store.Create(ctx, key, []byte(value), kv.PutOptions{TTL: ttl})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, kv.ErrExists):
		return false, nil
	default:
		return false, err
	}
}

func (s *KeyValueStore) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

// Key derives the record key for id within scope.
func Key(scope, id string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

type (
	controlOpts struct {
		log    *slog.Logger
		ttl    time.Duration
		prefix string
	}

	Option interface{ applyToControl(*controlOpts) }

	LogOption    struct{ l *slog.Logger }
	TTLOption    struct{ d time.Duration }
	PrefixOption struct{ p string }
)

func WithLog(l *slog.Logger) LogOption  { return LogOption{l: l} }
func WithTTL(d time.Duration) TTLOption { return TTLOption{d: d} }
func WithPrefix(p string) PrefixOption  { return PrefixOption{p: p} }

func (o LogOption) applyToControl(c *controlOpts)    { c.log = o.l }
func (o PrefixOption) applyToControl(c *controlOpts) { c.prefix = o.p }
func (o TTLOption) applyToControl(c *controlOpts) {
	if o.d > 0 {
		c.ttl = o.d
	}
}

// Control acquires and releases idempotency records. A record is a lease
// that expires after the TTL, not a permanent ledger.
type Control struct {
	controlOpts
	store Store
}

func NewControl(store Store, opts ...Option) *Control {
	o := controlOpts{log: slog.Default(), ttl: DefaultTTL, prefix: "idem."}
	for _, opt := range opts {
		opt.applyToControl(&o)
	}
	return &Control{controlOpts: o, store: store}
}

func (c *Control) TTL() time.Duration { return c.ttl }

func (c *Control) key(scope, id string) string { return c.prefix + Key(scope, id) }

// Acquire records (scope, id). It returns false if the record exists.
func (c *Control) Acquire(ctx context.Context, scope, id string) (bool, error) {
	ok, err := c.store.SetIfAbsent(ctx, c.key(scope, id), time.Now().UTC().Format(time.RFC3339Nano), c.ttl)
	if err != nil {
		return false, fmt.Errorf("%w: idempotency check: %w", es.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Release drops the record so that a retry of (scope, id) is accepted.
func (c *Control) Release(ctx context.Context, scope, id string) error {
	if err := c.store.Delete(ctx, c.key(scope, id)); err != nil {
		return fmt.Errorf("%w: idempotency release: %w", es.ErrStoreUnavailable, err)
	}
	return nil
}

// Once runs fn unless (scope, id) was seen within the TTL, in which case it
// returns ErrDuplicate. A failing fn releases the record.
func (c *Control) Once(ctx context.Context, scope, id string, fn func(ctx context.Context) error) error {
	ok, err := c.Acquire(ctx, scope, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrDuplicate, scope, id)
	}
	if err := fn(ctx); err != nil {
		if relErr := c.Release(ctx, scope, id); relErr != nil {
			c.log.Warn("failed to release idempotency record", slog.String("scope", scope), slog.String("id", id), slog.Any("error", relErr))
		}
		return err
	}
	return nil
}

// Middleware makes an event handler skip envelopes it already handled.
// Envelopes are identified by their event ID within scope.
func (c *Control) Middleware(scope string) es.HandlerMiddleware {
	return es.MiddlewareHandle(func(msgCtx es.MsgCtx, next es.Handler) error {
		err := c.Once(msgCtx.Context(), scope, msgCtx.Envelope().ID, func(context.Context) error {
			return next.Handle(msgCtx)
		})
		if errors.Is(err, ErrDuplicate) {
			msgCtx.Log().Debug("skipped duplicate event", slog.String("scope", scope), slog.String("event_id", msgCtx.Envelope().ID))
			return nil
		}
		return err
	})
}

var _ Store = (*KeyValueStore)(nil)
