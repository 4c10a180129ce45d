package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/codewandler/aggstore/core/cache"
	"github.com/codewandler/aggstore/core/perkey"
)

// ArchiveRecoverer returns events that were moved out of the live log,
// ordered by version and limited to version <= through.
type ArchiveRecoverer interface {
	RecoverEvents(ctx context.Context, aggType, aggID string, through Version) ([]Envelope, error)
}

type Repository interface {
	// Load rehydrates agg, whose ID must be set, from cache, snapshot and
	// event replay. A stream without events yields ErrAggregateNotFound.
	Load(ctx context.Context, agg Aggregate, opts ...LoadOption) error
	// Save persists the pending events of agg with the version it was
	// loaded at as the expected version.
	Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error
	// Delete soft-deletes agg. Its history is kept.
	Delete(ctx context.Context, agg Aggregate) error
	CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error)
}

type repository struct {
	repoOpts
	log      *slog.Logger
	store    EventStore
	registry *EventRegistry
	cache    cache.TypedCache[*Snapshot]
}

func NewRepository(
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) Repository {
	options := newRepoOpts(opts...)
	if options.snapshotter == nil {
		if ss, ok := store.(SnapshotSource); ok {
			options.snapshotter = ss.Snapshotter()
		}
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &repository{
		repoOpts: options,
		log:      log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:    store,
		registry: registry,
		cache:    cache.NewTyped[*Snapshot](options.cache),
	}
}

func aggLogGroup(agg Aggregate) slog.Attr {
	return slog.Group(
		"agg",
		slog.String("type", agg.GetAggType()),
		slog.String("id", agg.GetID()),
		agg.GetVersion().SlogAttr(),
	)
}

func checkIdentity(agg Aggregate) error {
	if agg.GetAggType() == "" {
		return NewValidationError("aggregate_type", "is empty")
	}
	if agg.GetID() == "" {
		return NewValidationError("aggregate_id", "is empty")
	}
	return nil
}

func (r *repository) Load(ctx context.Context, agg Aggregate, opts ...LoadOption) (err error) {
	if err := checkIdentity(agg); err != nil {
		return err
	}
	if agg.base().HasPending() {
		return &StateError{
			AggregateType: agg.GetAggType(),
			AggregateID:   agg.GetID(),
			Op:            "load",
			Err:           errors.New("aggregate has pending events"),
		}
	}
	aggType, aggID := agg.GetAggType(), agg.GetID()
	key := StreamKey{aggType, aggID}.String()

	loadOptions := newLoadOptions(r.loadOpts, opts...)
	defer r.metrics.RepoLoadDuration(aggType).ObserveDuration()

	log := r.log.With(slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)))

	// cached state is a starting point only; newer events are still replayed
	restored := false
	if loadOptions.useCache {
		if ss, ok := r.cache.Get(key); ok {
			r.metrics.CacheHit(aggType)
			if err := restoreSnapshot(agg, ss); err != nil {
				r.cache.Delete(key)
				return err
			}
			restored = true
		} else {
			r.metrics.CacheMiss(aggType)
		}
	}

	if !restored && loadOptions.snapshot && r.snapshotter != nil {
		timer := r.metrics.SnapshotLoadDuration(aggType)
		ss, err := r.snapshotter.LoadSnapshot(ctx, aggType, aggID)
		timer.ObserveDuration()
		switch {
		case err == nil:
			if err := restoreSnapshot(agg, ss); err != nil {
				return err
			}
			log.Debug("snapshot applied", agg.GetVersion().SlogAttr())
		case errors.Is(err, ErrSnapshotNotFound):
		default:
			return fmt.Errorf("load snapshot: %w", err)
		}
	}

	cur := agg.GetVersion()
	events, err := r.store.GetEvents(ctx, aggType, aggID, WithStartAtVersion(cur+1))
	if err != nil {
		return err
	}

	events, err = r.fillArchived(ctx, aggType, aggID, cur, events)
	if err != nil {
		return err
	}

	for _, e := range events {
		expect := agg.GetVersion() + 1
		if e.Version != expect {
			return fmt.Errorf("%w: expect version %d, got %d", ErrInvalidState, expect, e.Version)
		}
		evt, err := r.registry.Decode(e)
		if err != nil {
			return err
		}
		if err := applyEvent(agg, evt, e.OccurredAt); err != nil {
			return fmt.Errorf("apply %s@%d: %w", e.Type, e.Version, err)
		}
		agg.base().setVersion(e.Version)
		agg.base().setSeq(e.Seq)
	}

	if agg.GetVersion() == 0 {
		return ErrAggregateNotFound
	}

	if r.stateStore != nil {
		_, rev, err := r.stateStore.LoadState(ctx, aggType, aggID)
		switch {
		case err == nil:
		case errors.Is(err, ErrStateNotFound):
			rev = 0
		default:
			return fmt.Errorf("load state: %w", err)
		}
		agg.base().revision = rev
	}

	log.Debug("loaded", agg.GetVersion().SlogAttr(), slog.Int("replayed", len(events)), slog.Bool("cached", restored))

	if loadOptions.useCache {
		r.refreshCache(agg)
	}
	return nil
}

// fillArchived prepends archived events when the live stream does not start
// right after cur, or is empty for an aggregate never loaded before.
func (r *repository) fillArchived(ctx context.Context, aggType, aggID string, cur Version, events []Envelope) ([]Envelope, error) {
	var through Version
	switch {
	case len(events) > 0 && events[0].Version > cur+1:
		through = events[0].Version - 1
	case len(events) == 0 && cur == 0:
		through = Version(math.MaxUint64)
	default:
		return events, nil
	}
	if r.recoverer == nil {
		return events, nil
	}

	archived, err := r.recoverer.RecoverEvents(ctx, aggType, aggID, through)
	if err != nil {
		return nil, fmt.Errorf("recover archived events: %w", err)
	}
	archived = filterFrom(archived, cur+1)
	if len(archived) > 0 {
		r.log.Debug(
			"recovered archived events",
			slog.String("stream", StreamKey{aggType, aggID}.String()),
			slog.Int("count", len(archived)),
		)
	}
	return append(archived, events...), nil
}

func (r *repository) Save(ctx context.Context, agg Aggregate, saveOpts ...SaveOption) (err error) {
	if err := checkIdentity(agg); err != nil {
		return err
	}
	b := agg.base()
	pending := b.drain()
	if len(pending) == 0 {
		return nil
	}

	aggType, aggID := agg.GetAggType(), agg.GetID()
	key := StreamKey{aggType, aggID}.String()
	saveOptions := newSaveOptions(r.saveOpts, saveOpts...)
	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	revision := b.revision
	defer func() {
		if err != nil {
			b.restore(pending)
			b.revision = revision
			r.cache.Delete(key)
		}
	}()

	if err := r.rules.Check(agg); err != nil {
		return err
	}

	expected := agg.GetVersion()
	envs := make([]Envelope, 0, len(pending))
	for i, p := range pending {
		data, err := json.Marshal(p.event)
		if err != nil {
			return fmt.Errorf("encode %T: %w", p.event, err)
		}
		envs = append(envs, Envelope{
			ID:            r.idGenerator(),
			Version:       expected + Version(i+1),
			AggregateType: aggType,
			AggregateID:   aggID,
			Type:          EventTypeOf(p.event),
			OccurredAt:    p.at,
			Collapsible:   IsCollapsible(p.event),
			Data:          data,
		})
	}

	var undoState func(context.Context) error
	if r.stateStore != nil {
		if undoState, err = r.saveState(ctx, agg); err != nil {
			return err
		}
	}

	res, err := r.store.SaveEvents(ctx, aggType, aggID, expected, envs, WithSnapshotState(func() ([]byte, error) {
		return snapshotData(agg)
	}))
	if err != nil {
		if undoState != nil {
			if uerr := undoState(context.WithoutCancel(ctx)); uerr != nil {
				r.log.Error("state rollback failed", aggLogGroup(agg), slog.Any("error", uerr))
			}
		}
		return fmt.Errorf("save %s/%s: %w", aggType, aggID, err)
	}

	b.setVersion(res.LastVersion)
	b.setSeq(res.LastSeq)

	if uow, ok := UnitOfWorkFrom(ctx); ok && uow.Add(res.Appended...) {
		// published by whoever commits the unit of work
	} else if r.publisher != nil {
		if perr := r.publisher.Publish(ctx, res.Appended); perr != nil {
			// the events are committed; failing here would invite a retry
			// that appends them twice
			r.log.Error("publish failed", aggLogGroup(agg), slog.Any("error", perr))
		}
	}

	if saveOptions.snapshot && res.Snapshot == nil {
		if _, err := r.CreateSnapshot(ctx, agg); err != nil {
			r.metrics.SnapshotFailed(aggType)
			r.log.Warn("snapshot failed", aggLogGroup(agg), slog.Any("error", err))
		}
	}

	if saveOptions.useCache {
		r.refreshCache(agg)
	} else {
		r.cache.Delete(key)
	}

	r.log.Debug(
		"saved",
		aggLogGroup(agg),
		slog.Uint64("seq", res.LastSeq),
		slog.Int("num_events", len(res.Appended)),
		slog.Bool("snapshot", res.Snapshot != nil),
	)
	return nil
}

// saveState writes the current state of agg under its revision token and
// returns a func that puts back what was stored before.
func (r *repository) saveState(ctx context.Context, agg Aggregate) (func(context.Context) error, error) {
	b := agg.base()
	aggType, aggID := agg.GetAggType(), agg.GetID()
	state, err := snapshotData(agg)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}

	var prev []byte
	if b.revision != 0 {
		data, rev, err := r.stateStore.LoadState(ctx, aggType, aggID)
		switch {
		case err == nil && rev == b.revision:
			prev = data
		case err == nil, errors.Is(err, ErrStateNotFound):
			// SaveState reports the mismatch
		default:
			return nil, fmt.Errorf("load state: %w", err)
		}
	}

	rev, err := r.stateStore.SaveState(ctx, aggType, aggID, state, b.revision)
	if err != nil {
		return nil, err
	}
	b.revision = rev

	return func(ctx context.Context) error {
		if prev != nil {
			_, err := r.stateStore.SaveState(ctx, aggType, aggID, prev, rev)
			return err
		}
		_, cur, err := r.stateStore.LoadState(ctx, aggType, aggID)
		switch {
		case errors.Is(err, ErrStateNotFound):
			return nil
		case err != nil || cur != rev:
			return err
		}
		return r.stateStore.DeleteState(ctx, aggType, aggID)
	}, nil
}

func (r *repository) Delete(ctx context.Context, agg Aggregate) error {
	if err := agg.base().MarkDeleted(); err != nil {
		var se *StateError
		if errors.As(err, &se) {
			se.AggregateType = agg.GetAggType()
		}
		return err
	}
	if err := r.Save(ctx, agg); err != nil {
		return err
	}
	r.cache.Delete(StreamKey{agg.GetAggType(), agg.GetID()}.String())
	return nil
}

func (r *repository) CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error) {
	if r.snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	defer r.metrics.SnapshotSaveDuration(agg.GetAggType()).ObserveDuration()
	ss, err := NewSnapshot(agg)
	if err != nil {
		return nil, err
	}
	if err := r.snapshotter.SaveSnapshot(ctx, ss); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return ss, nil
}

func (r *repository) refreshCache(agg Aggregate) {
	key := StreamKey{agg.GetAggType(), agg.GetID()}.String()
	ss, err := NewSnapshot(agg)
	if err != nil {
		r.cache.Delete(key)
		return
	}
	r.cache.Put(key, ss)
}

var _ Repository = &repository{}

// === TypedRepository ===

type TypedRepository[T Aggregate] interface {
	GetAggType() string
	New() T
	NewWithID(id string) T
	Load(ctx context.Context, a T, opts ...LoadOption) error
	GetByID(ctx context.Context, aggID string, opts ...LoadOption) (T, error)
	GetOrCreate(ctx context.Context, aggID string, opts ...LoadAndSaveOption) (T, error)
	// Create builds a new aggregate, runs init on it and saves it.
	Create(ctx context.Context, aggID string, init func(T) error, opts ...SaveOption) (T, error)
	Save(ctx context.Context, agg T, opts ...SaveOption) error
	Delete(ctx context.Context, agg T) error
	// WithTransaction loads the aggregate, runs fn and saves the result.
	// Calls for the same id are serialized within this process.
	WithTransaction(ctx context.Context, aggID string, fn func(T) error, opts ...WithTransactionOption) error
}

type typedRepo[T Aggregate] struct {
	r      Repository
	log    *slog.Logger
	serial *perkey.Scheduler[string]
}

func (t *typedRepo[T]) New() T { return t.NewWithID("") }

func (t *typedRepo[T]) NewWithID(id string) T {
	a := newAggregate[T]()
	a.SetID(id)
	return a
}

func (t *typedRepo[T]) GetAggType() string { return t.New().GetAggType() }

func (t *typedRepo[T]) Load(ctx context.Context, a T, opts ...LoadOption) error {
	return t.r.Load(ctx, a, opts...)
}

func (t *typedRepo[T]) GetByID(ctx context.Context, aggID string, opts ...LoadOption) (a T, err error) {
	if aggID == "" {
		return a, NewValidationError("aggregate_id", "is empty")
	}
	a = t.NewWithID(aggID)
	if err = t.r.Load(ctx, a, opts...); err != nil {
		return a, err
	}
	return a, nil
}

func (t *typedRepo[T]) GetOrCreate(ctx context.Context, aggID string, opts ...LoadAndSaveOption) (a T, err error) {
	options := newLoadAndSaveOptions(opts...)
	a, err = t.GetByID(ctx, aggID, options.loadOpts...)
	if err == nil || !errors.Is(err, ErrAggregateNotFound) {
		return a, err
	}
	return t.Create(ctx, aggID, nil, options.saveOpts...)
}

func (t *typedRepo[T]) Create(ctx context.Context, aggID string, init func(T) error, opts ...SaveOption) (a T, err error) {
	a = t.New()
	if err = a.base().Create(aggID); err != nil {
		var se *StateError
		if errors.As(err, &se) {
			se.AggregateType = a.GetAggType()
		}
		return a, err
	}
	if init != nil {
		if err = init(a); err != nil {
			return a, err
		}
	}
	if err = t.r.Save(ctx, a, opts...); err != nil {
		return a, err
	}
	t.log.Debug("created", slog.String("id", aggID))
	return a, nil
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T, opts ...SaveOption) error {
	return t.r.Save(ctx, agg, opts...)
}

func (t *typedRepo[T]) Delete(ctx context.Context, agg T) error {
	return t.r.Delete(ctx, agg)
}

func (t *typedRepo[T]) WithTransaction(
	ctx context.Context,
	aggID string,
	fn func(T) error,
	opts ...WithTransactionOption,
) error {
	if aggID == "" {
		return NewValidationError("aggregate_id", "is empty")
	}
	options := newWithTransactionOptions(opts...)

	return t.serial.DoContext(ctx, aggID, func() error {
		a, err := t.GetByID(ctx, aggID, options.loadOpts...)
		if err != nil {
			if !options.create || !errors.Is(err, ErrAggregateNotFound) {
				return err
			}
			a = t.New()
			if err := a.base().Create(aggID); err != nil {
				return err
			}
		}
		if err := fn(a); err != nil {
			return err
		}
		return t.r.Save(ctx, a, options.saveOpts...)
	})
}

// NewTypedRepository creates a repository for T and registers T's events in
// reg.
func NewTypedRepository[T Aggregate](
	log *slog.Logger,
	s EventStore,
	reg *EventRegistry,
	opts ...RepositoryOption,
) TypedRepository[T] {
	if reg == nil {
		reg = NewRegistry()
	}
	newAggregate[T]().Register(reg)
	return NewTypedRepositoryFrom[T](log, NewRepository(log, s, reg, opts...))
}

func NewTypedRepositoryFrom[T Aggregate](log *slog.Logger, r Repository) TypedRepository[T] {
	return &typedRepo[T]{
		r:      r,
		log:    log.With(slog.String("repo", fmt.Sprintf("%T", *new(T)))),
		serial: perkey.New[string](),
	}
}
