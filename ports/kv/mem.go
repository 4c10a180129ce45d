package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	Entry
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemStore is a process-local Store. Expired entries are dropped lazily.
type MemStore struct {
	mu   sync.Mutex
	rev  uint64
	data map[string]memEntry
	now  func() time.Time
}

func NewMemStore() *MemStore {
	return NewMemStoreWithClock(time.Now)
}

// NewMemStoreWithClock uses now to decide whether an entry has expired.
func NewMemStoreWithClock(now func() time.Time) *MemStore {
	return &MemStore{data: map[string]memEntry{}, now: now}
}

func (m *MemStore) lookup(key string) (memEntry, bool) {
	e, ok := m.data[key]
	if ok && e.expired(m.now()) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, ok
}

func (m *MemStore) write(key string, data []byte, opts PutOptions) uint64 {
	m.rev++
	e := memEntry{Entry: Entry{Key: key, Data: append([]byte(nil), data...), Revision: m.rev}}
	if opts.TTL > 0 {
		e.expiresAt = m.now().Add(opts.TTL)
	}
	m.data[key] = e
	return m.rev
}

func (m *MemStore) Put(_ context.Context, key string, data []byte, opts PutOptions) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(key, data, opts), nil
}

func (m *MemStore) Create(_ context.Context, key string, data []byte, opts PutOptions) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return 0, ErrExists
	}
	return m.write(key, data, opts), nil
}

func (m *MemStore) Update(_ context.Context, key string, data []byte, last uint64, opts PutOptions) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.lookup(key)
	if !ok {
		if last != 0 {
			return 0, ErrRevisionMismatch
		}
	} else if cur.Revision != last {
		return 0, ErrRevisionMismatch
	}
	return m.write(key, data, opts), nil
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e.Entry, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

var _ Store = (*MemStore)(nil)
