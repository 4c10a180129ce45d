package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	// Size bounds the number of entries. Defaults to 128.
	Size int
	// Now is the clock used for TTLs. Defaults to time.Now.
	Now func() time.Time
}

type lruEntry struct {
	key       string
	val       any
	expiresAt time.Time
}

func (e *lruEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || !now.After(e.expiresAt)
}

// LRU is a size-bounded cache with optional per-entry TTL. Expired entries
// are dropped when they are read. A closed LRU misses on every Get and
// ignores writes.
type LRU struct {
	mu     sync.Mutex
	size   int
	now    func() time.Time
	order  *list.List // front is most recently used
	byKey  map[string]*list.Element
	closed bool
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LRU{
		size:  opts.Size,
		now:   opts.Now,
		order: list.New(),
		byKey: make(map[string]*list.Element, opts.Size),
	}
}

func (l *LRU) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.byKey[key]
	if !ok || l.closed {
		return nil, false
	}
	e := el.Value.(*lruEntry)
	if !e.live(l.now()) {
		l.removeLocked(el)
		return nil, false
	}
	l.order.MoveToFront(el)
	return e.val, true
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	var expiresAt time.Time
	if ttl := newPutOptions(opts).TTL; ttl > 0 {
		expiresAt = l.now().Add(ttl)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if el, ok := l.byKey[key]; ok {
		e := el.Value.(*lruEntry)
		e.val, e.expiresAt = val, expiresAt
		l.order.MoveToFront(el)
		return
	}
	l.byKey[key] = l.order.PushFront(&lruEntry{key: key, val: val, expiresAt: expiresAt})
	for l.order.Len() > l.size {
		l.removeLocked(l.order.Back())
	}
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.byKey[key]; ok {
		l.removeLocked(el)
	}
}

// Len counts the entries, including expired ones not read since.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// Close drops all entries. Close is idempotent.
func (l *LRU) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.order.Init()
	clear(l.byKey)
}

func (l *LRU) removeLocked(el *list.Element) {
	l.order.Remove(el)
	delete(l.byKey, el.Value.(*lruEntry).key)
}

var _ Cache = (*LRU)(nil)
