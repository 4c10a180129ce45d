package demo

import (
	"maps"
	"sync"

	"github.com/codewandler/aggstore/core/es"
)

// Balances is a read model of account balances fed by the event bus.
type Balances struct {
	mu       sync.RWMutex
	balances map[string]int64
	closed   map[string]bool
}

func NewBalances() *Balances {
	return &Balances{balances: map[string]int64{}, closed: map[string]bool{}}
}

// Subscribe attaches the read model to bus. The bus must decode events.
func (b *Balances) Subscribe(bus *es.EventBus, mws ...es.HandlerMiddleware) {
	bus.Subscribe(es.EventTypeOf(&AccountOpened{}), es.HandleFunc(b.handle), mws...)
	bus.Subscribe(es.EventTypeOf(&MoneyDeposited{}), es.HandleFunc(b.handle), mws...)
	bus.Subscribe(es.EventTypeOf(&MoneyWithdrawn{}), es.HandleFunc(b.handle), mws...)
	bus.Subscribe(es.EventTypeOf(&AccountClosed{}), es.HandleFunc(b.handle), mws...)
}

func (b *Balances) handle(ctx es.MsgCtx) error {
	id := ctx.AggregateID()
	b.mu.Lock()
	defer b.mu.Unlock()
	switch e := ctx.Event().(type) {
	case *AccountOpened:
		b.balances[id] = 0
	case *MoneyDeposited:
		b.balances[id] += e.Amount
	case *MoneyWithdrawn:
		b.balances[id] -= e.Amount
	case *AccountClosed:
		b.closed[id] = true
	}
	return nil
}

func (b *Balances) Get(id string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.balances[id]
	return v, ok
}

func (b *Balances) Snapshot() map[string]int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.balances)
}

// Total is the sum over all open accounts.
func (b *Balances) Total() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for id, v := range b.balances {
		if !b.closed[id] {
			total += v
		}
	}
	return total
}
