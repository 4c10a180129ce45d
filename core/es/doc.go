// Package es persists event-sourced aggregates.
//
// # Aggregates
//
// An aggregate embeds [BaseAggregate] and changes state only by raising
// events through [RaiseAndApply]. Raised events are applied at once and
// buffered until the next save:
//
//	type Account struct {
//	    es.BaseAggregate
//	    Balance int64 `json:"balance"`
//	}
//
//	func (a *Account) Deposit(amount int64) error {
//	    return es.RaiseAndApply(a, &Deposited{Amount: amount})
//	}
//
// [BaseAggregate.Create] records the built-in AggregateCreated event and
// [BaseAggregate.MarkDeleted] the AggregateDeleted event. A deleted
// aggregate rejects every further mutation with [ErrAggregateDeleted].
//
// # Stores
//
// An [EventStore] appends envelopes to one stream per aggregate with an
// expected version. A stale expectation fails with a
// *[ConcurrencyConflictError] and nothing is written. Appended batches may be
// compressed first: envelopes whose payload implements [StateChange] but not
// [Milestone] collapse to the last one per event type.
//
// [NewInMemoryStore] keeps everything in process. [NewDurableStore] runs the
// same save pipeline over a [Backend]; see adapters/gorm and adapters/nats.
// Both snapshot the aggregate every N versions when the caller supplies the
// state with [WithSnapshotState].
//
// # Repository
//
// A [Repository] loads aggregates from the latest snapshot plus the events
// after it, and saves pending events with the loaded version as
// expectation. Before the append it checks the registered [Rules] and
// writes the latest state to an optional [StateStore]. Committed events are
// handed to a [Publisher], or to the [UnitOfWork] found in the context:
//
//	repo := es.NewTypedRepository[*Account](log, store, registry)
//	err := repo.WithTransaction(ctx, "acc-1", func(a *Account) error {
//	    return a.Deposit(100)
//	})
//
// # Env
//
// [NewEnv] wires a store, a registry, an [EventBus] and a repository that
// publishes into the bus. [StartTestEnv] does the same for tests.
package es
