package es

import (
	"context"
	"sync"
)

type uowKey struct{}

// UnitOfWork buffers envelopes that were committed to the store but not yet
// published. The command bus opens one per command and commits it only if
// the handler succeeded, so subscribers never see events of a failed
// command.
type UnitOfWork struct {
	mu      sync.Mutex
	pending []Envelope
	done    bool
}

func NewUnitOfWork() *UnitOfWork { return &UnitOfWork{} }

func ContextWithUnitOfWork(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, uowKey{}, u)
}

// UnitOfWorkFrom returns the unit of work bound to ctx, if any.
func UnitOfWorkFrom(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(uowKey{}).(*UnitOfWork)
	return u, ok && u != nil
}

// Add enqueues envelopes. It reports false once the unit has been committed
// or discarded.
func (u *UnitOfWork) Add(envs ...Envelope) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return false
	}
	u.pending = append(u.pending, envs...)
	return true
}

func (u *UnitOfWork) Pending() []Envelope {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Envelope(nil), u.pending...)
}

// Commit publishes the buffered envelopes once. A nil publisher drops them.
func (u *UnitOfWork) Commit(ctx context.Context, p Publisher) error {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return nil
	}
	u.done = true
	envs := u.pending
	u.pending = nil
	u.mu.Unlock()

	if p == nil || len(envs) == 0 {
		return nil
	}
	return p.Publish(ctx, envs)
}

// Discard drops all buffered envelopes.
func (u *UnitOfWork) Discard() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.done = true
	u.pending = nil
}
