// Package perkey serializes work per key while letting different keys run
// concurrently. The repository uses it to run transactions on one aggregate
// one at a time within a process.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var ErrSchedulerClosed = errors.New("scheduler is closed")

type Option func(*int)

// WithBufferSize sets the initial queue capacity per key (default 16).
func WithBufferSize(size int) Option {
	return func(queueCap *int) {
		if size > 0 {
			*queueCap = size
		}
	}
}

// Scheduler runs tasks for one key sequentially, in submission order. Each
// busy key has one goroutine that drains its queue and exits once it is
// empty.
type Scheduler[K comparable] struct {
	mu       sync.Mutex
	queues   map[K][]*task
	closed   bool
	running  sync.WaitGroup
	queueCap int
}

type task struct {
	fn   func() error
	done chan error
}

func New[K comparable](opts ...Option) *Scheduler[K] {
	queueCap := 16
	for _, opt := range opts {
		opt(&queueCap)
	}
	return &Scheduler[K]{queues: map[K][]*task{}, queueCap: queueCap}
}

func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext queues fn behind earlier tasks for key and waits for its result.
// If ctx ends first the context error is returned and fn still runs.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &task{fn: fn, done: make(chan error, 1)}
	if err := s.enqueue(key, t); err != nil {
		return err
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler[K]) enqueue(key K, t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	q, busy := s.queues[key]
	if q == nil {
		q = make([]*task, 0, s.queueCap)
	}
	s.queues[key] = append(q, t)
	if !busy {
		s.running.Add(1)
		go s.drain(key)
	}
	return nil
}

func (s *Scheduler[K]) drain(key K) {
	defer s.running.Done()
	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		t := q[0]
		q[0] = nil
		s.queues[key] = q[1:]
		s.mu.Unlock()

		t.done <- t.fn()
	}
}

// Len returns the number of keys with queued or running tasks.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.running.Wait()
}
