package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/core/idem"
)

const (
	DefaultWorkers   = 8
	DefaultClockSkew = time.Minute
)

type (
	busOpts struct {
		log              *slog.Logger
		idem             *idem.Control
		metrics          Metrics
		publisher        es.Publisher
		validator        *validator.Validate
		workers          int
		clockSkew        time.Duration
		rejectDuplicates bool
		now              func() time.Time
	}

	Option interface{ applyToBus(*busOpts) }

	valueOption[T any] struct{ v T }

	LogOption              valueOption[*slog.Logger]
	IdempotencyOption      valueOption[*idem.Control]
	MetricsOption          valueOption[Metrics]
	PublisherOption        valueOption[es.Publisher]
	ValidatorOption        valueOption[*validator.Validate]
	WorkersOption          valueOption[int]
	ClockSkewOption        valueOption[time.Duration]
	RejectDuplicatesOption valueOption[bool]
	ClockOption            valueOption[func() time.Time]
)

func WithLog(l *slog.Logger) LogOption                    { return LogOption{v: l} }
func WithIdempotency(c *idem.Control) IdempotencyOption   { return IdempotencyOption{v: c} }
func WithMetrics(m Metrics) MetricsOption                 { return MetricsOption{v: m} }
func WithPublisher(p es.Publisher) PublisherOption        { return PublisherOption{v: p} }
func WithValidator(v *validator.Validate) ValidatorOption { return ValidatorOption{v: v} }
func WithWorkers(n int) WorkersOption                     { return WorkersOption{v: n} }
func WithClockSkew(d time.Duration) ClockSkewOption       { return ClockSkewOption{v: d} }
func WithClock(now func() time.Time) ClockOption          { return ClockOption{v: now} }

// WithRejectDuplicates makes Dispatch return ErrDuplicateCommand instead of
// silently accepting a duplicate.
func WithRejectDuplicates() RejectDuplicatesOption { return RejectDuplicatesOption{v: true} }

func (o LogOption) applyToBus(b *busOpts)              { b.log = o.v }
func (o IdempotencyOption) applyToBus(b *busOpts)      { b.idem = o.v }
func (o MetricsOption) applyToBus(b *busOpts)          { b.metrics = o.v }
func (o PublisherOption) applyToBus(b *busOpts)        { b.publisher = o.v }
func (o ValidatorOption) applyToBus(b *busOpts)        { b.validator = o.v }
func (o WorkersOption) applyToBus(b *busOpts)          { b.workers = o.v }
func (o ClockSkewOption) applyToBus(b *busOpts)        { b.clockSkew = o.v }
func (o RejectDuplicatesOption) applyToBus(b *busOpts) { b.rejectDuplicates = o.v }
func (o ClockOption) applyToBus(b *busOpts)            { b.now = o.v }

type handlerFunc func(ctx context.Context, cmd Command) error

// Result describes one dispatch.
type Result struct {
	CommandID   string
	CommandType string
	// Duplicate is set if the command was seen within the dedup window and
	// the handler was not called.
	Duplicate bool
	Duration  time.Duration
}

type Bus struct {
	busOpts
	mu       sync.RWMutex
	handlers map[string]handlerFunc
	rules    map[string][]func(Command) error
	pool     *pool
	closed   sync.Once
}

func NewBus(opts ...Option) *Bus {
	o := busOpts{
		log:       slog.Default(),
		metrics:   NopMetrics(),
		workers:   DefaultWorkers,
		clockSkew: DefaultClockSkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt.applyToBus(&o)
	}
	if o.idem == nil {
		o.idem = idem.NewControl(idem.NewMemoryStore(), idem.WithLog(o.log))
	}
	if o.validator == nil {
		o.validator = newValidator()
	}
	o.log = o.log.With(slog.String("component", "command_bus"))
	return &Bus{
		busOpts:  o,
		handlers: map[string]handlerFunc{},
		rules:    map[string][]func(Command) error{},
		pool:     newPool(o.workers, o.log, o.metrics),
	}
}

// Register binds the handler for commands of type C. A type can only have
// one handler.
func Register[C Command](b *Bus, handle func(ctx context.Context, cmd C) error) error {
	typ := typeFor[C]()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[typ]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, typ)
	}
	b.handlers[typ] = func(ctx context.Context, cmd Command) error {
		c, ok := cmd.(C)
		if !ok {
			return &IllegalStateError{CommandType: typ, Err: fmt.Errorf("handler expects %T, got %T", *new(C), cmd)}
		}
		return handle(ctx, c)
	}
	b.log.Debug("handler registered", slog.String("cmd_type", typ))
	return nil
}

// MustRegister is Register for process startup.
func MustRegister[C Command](b *Bus, handle func(ctx context.Context, cmd C) error) {
	if err := Register(b, handle); err != nil {
		panic(err)
	}
}

func (b *Bus) handler(typ string) (handlerFunc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[typ]
	return h, ok
}

// Dispatch runs cmd through the pipeline. A duplicate is not an error.
func (b *Bus) Dispatch(ctx context.Context, cmd Command) error {
	res, err := b.DispatchResult(ctx, cmd)
	if err == nil && res.Duplicate && b.rejectDuplicates {
		return fmt.Errorf("%w: %s %s", ErrDuplicateCommand, res.CommandType, res.CommandID)
	}
	return err
}

// DispatchResult is Dispatch reporting whether the command was a duplicate.
func (b *Bus) DispatchResult(ctx context.Context, cmd Command) (res Result, err error) {
	var (
		startAt = time.Now()
		meta    = cmd.CommandMeta()
		typ     = TypeOf(cmd)
		log     = b.log.With(cmdAttrs(typ, meta))
		outcome = ResultFailure
	)
	res = Result{CommandID: meta.ID, CommandType: typ}
	defer func() {
		res.Duration = time.Since(startAt)
		b.metrics.CommandDuration(typ, outcome, res.Duration)
		b.metrics.CommandProcessed(typ, outcome)
	}()

	log.Debug("received")
	if meta.ID == "" {
		outcome = ResultInvalid
		return res, &ValidationError{CommandType: typ, Field: "command_id", Reason: "is empty"}
	}

	acquired, err := b.idem.Acquire(ctx, typ, meta.ID)
	if err != nil {
		return res, err
	}
	if !acquired {
		outcome = ResultDuplicate
		res.Duplicate = true
		log.Info("duplicate command ignored")
		return res, nil
	}
	log.Debug("idempotency checked")

	if err := b.validate(ctx, typ, cmd); err != nil {
		outcome = ResultInvalid
		b.release(ctx, log, typ, meta.ID)
		log.Debug("rejected", slog.Any("error", err))
		return res, err
	}
	log.Debug("validated")

	h, ok := b.handler(typ)
	if !ok {
		b.release(ctx, log, typ, meta.ID)
		return res, &IllegalStateError{CommandType: typ, Err: ErrNoHandler}
	}

	uow, nested := es.UnitOfWorkFrom(ctx)
	if !nested {
		uow = es.NewUnitOfWork()
		ctx = es.ContextWithUnitOfWork(ctx, uow)
	}

	log.Debug("dispatched")
	if err := b.invoke(ctx, log, typ, h, cmd); err != nil {
		b.release(ctx, log, typ, meta.ID)
		if !nested {
			uow.Discard()
		}
		log.Debug("failed", slog.Any("error", err))
		return res, err
	}

	if !nested {
		if err := uow.Commit(ctx, b.publisher); err != nil {
			log.Error("failed to publish committed events", slog.Any("error", err))
		}
	}
	outcome = ResultSuccess
	log.Debug("succeeded", slog.Duration("duration", time.Since(startAt)))
	return res, nil
}

func (b *Bus) invoke(ctx context.Context, log *slog.Logger, typ string, h handlerFunc, cmd Command) (err error) {
	defer recoverPanic(typ, log, &err)
	return h(ctx, cmd)
}

func (b *Bus) release(ctx context.Context, log *slog.Logger, typ, id string) {
	if err := b.idem.Release(context.WithoutCancel(ctx), typ, id); err != nil {
		log.Warn("failed to release idempotency record", slog.Any("error", err))
	}
}

// DispatchAsync queues cmd on the worker pool. Commands for the same
// aggregate run in the order they were queued. The command runs with ctx,
// so cancelling ctx cancels the queued command too.
func (b *Bus) DispatchAsync(ctx context.Context, cmd Command) *Future {
	f := newFuture()
	res := Result{CommandID: cmd.CommandMeta().ID, CommandType: TypeOf(cmd)}
	abort := func() { f.resolve(res, ErrBusClosed) }
	key := cmd.CommandMeta().AggregateID
	if key == "" {
		key = res.CommandID
	}
	ok := b.pool.schedule(key, func() {
		if err := ctx.Err(); err != nil {
			f.resolve(res, err)
			return
		}
		r, err := b.DispatchResult(ctx, cmd)
		if err == nil && r.Duplicate && b.rejectDuplicates {
			err = fmt.Errorf("%w: %s %s", ErrDuplicateCommand, r.CommandType, r.CommandID)
		}
		f.resolve(r, err)
	}, abort)
	if !ok {
		abort()
	}
	return f
}

// Close stops accepting async commands and waits for running ones. Queued
// commands that did not start yet fail with ErrBusClosed.
func (b *Bus) Close() {
	b.closed.Do(b.pool.close)
}
