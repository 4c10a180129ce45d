package cache

import "time"

// Cache maps string keys to values. Implementations are safe for concurrent
// use. A miss is not an error.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
}

type (
	PutOptions struct {
		// TTL expires the entry. Zero keeps it until it is evicted.
		TTL time.Duration
	}
	PutOption func(*PutOptions)
)

func WithTTL(ttl time.Duration) PutOption { return func(o *PutOptions) { o.TTL = ttl } }

func newPutOptions(opts []PutOption) PutOptions {
	var po PutOptions
	for _, opt := range opts {
		opt(&po)
	}
	return po
}

// TypedCache narrows a Cache to values of type T. An entry of another type
// reads as a miss.
type TypedCache[T any] struct {
	c Cache
}

// NewTyped wraps c. A nil c caches nothing.
func NewTyped[T any](c Cache) TypedCache[T] {
	if c == nil {
		c = Nop{}
	}
	return TypedCache[T]{c: c}
}

func (t TypedCache[T]) Get(key string) (T, bool) {
	if v, ok := t.c.Get(key); ok {
		if out, ok := v.(T); ok {
			return out, true
		}
	}
	var zero T
	return zero, false
}

func (t TypedCache[T]) Put(key string, val T, opts ...PutOption) { t.c.Put(key, val, opts...) }
func (t TypedCache[T]) Delete(key string)                        { t.c.Delete(key) }

// Nop caches nothing. Every Get misses.
type Nop struct{}

func NewNop() Nop { return Nop{} }

func (Nop) Get(string) (any, bool)        { return nil, false }
func (Nop) Put(string, any, ...PutOption) {}
func (Nop) Delete(string)                 {}

var _ Cache = Nop{}
