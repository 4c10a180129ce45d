package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrStoreNoEvents = errors.New("no events to store")
)

type (
	startVersionOption valueOption[Version]

	eventStoreLoadOptions struct {
		startVersion Version
	}

	StoreLoadOption interface {
		applyToStoreLoadOptions(*eventStoreLoadOptions)
	}
)

func WithStartAtVersion(startVersion Version) StoreLoadOption {
	return startVersionOption{startVersion}
}
func (o startVersionOption) applyToStoreLoadOptions(opts *eventStoreLoadOptions) {
	opts.startVersion = o.v
}

func newStoreLoadOptions(opts ...StoreLoadOption) eventStoreLoadOptions {
	options := eventStoreLoadOptions{startVersion: 1}
	for _, opt := range opts {
		opt.applyToStoreLoadOptions(&options)
	}
	if options.startVersion == 0 {
		options.startVersion = 1
	}
	return options
}

type (
	snapshotStateOption valueOption[func() ([]byte, error)]

	saveEventsOptions struct {
		snapshotState func() ([]byte, error)
	}

	SaveEventsOption interface {
		applyToSaveEvents(*saveEventsOptions)
	}
)

// WithSnapshotState supplies the serialized aggregate state at the version
// reached by the append. It is only invoked if the append crosses the
// snapshot interval.
func WithSnapshotState(fn func() ([]byte, error)) SaveEventsOption {
	return snapshotStateOption{v: fn}
}
func (o snapshotStateOption) applyToSaveEvents(opts *saveEventsOptions) { opts.snapshotState = o.v }

type (
	StoreAppendResult struct {
		// LastSeq is the global sequence of the last appended event.
		LastSeq uint64
		// LastVersion is the stream version after the append.
		LastVersion Version
		// Appended holds the envelopes as stored, after compression and
		// version assignment.
		Appended []Envelope
		// Snapshot is set if the append produced a snapshot.
		Snapshot *Snapshot
	}

	// EventStore stores and loads envelopes per aggregate stream with
	// optimistic concurrency.
	EventStore interface {
		// SaveEvents appends events to the stream if its current version
		// equals expected. Versions are assigned from expected+1. On
		// mismatch a *ConcurrencyConflictError is returned and nothing is
		// written.
		SaveEvents(ctx context.Context, aggType, aggID string, expected Version, events []Envelope, opts ...SaveEventsOption) (*StoreAppendResult, error)
		// GetEvents returns the stream ordered by version. Unknown streams
		// yield an empty slice.
		GetEvents(ctx context.Context, aggType, aggID string, opts ...StoreLoadOption) ([]Envelope, error)
		// GetAllEvents scans the whole store. No order across streams.
		GetAllEvents(ctx context.Context) ([]Envelope, error)
	}

	// SnapshotSource is implemented by stores that manage snapshots.
	SnapshotSource interface {
		Snapshotter() Snapshotter
		GetLatestSnapshot(ctx context.Context, aggType, aggID string) (*Snapshot, error)
	}
)

// StreamKey identifies one aggregate stream.
type StreamKey struct {
	AggregateType string
	AggregateID   string
}

func (k StreamKey) String() string { return k.AggregateType + "-" + k.AggregateID }

// Backend is the boundary to an append-capable persistence layer. Append
// must check expected against the stream's last version and write all
// events or none.
type Backend interface {
	Append(ctx context.Context, key StreamKey, expected Version, events []Envelope) (lastSeq uint64, err error)
	ReadStream(ctx context.Context, key StreamKey, from Version) ([]Envelope, error)
	ReadAll(ctx context.Context) ([]Envelope, error)
}

// Truncater is implemented by backends that can drop a stream prefix once
// it has been archived. The stream's version is preserved.
type Truncater interface {
	Truncate(ctx context.Context, key StreamKey, through Version) (removed int, err error)
}

// === shared save pipeline ===

type storeOpts struct {
	log               *slog.Logger
	compressor        *Compressor
	snapshotter       Snapshotter
	snapshotFrequency int
	metrics           ESMetrics
	streamCache       streamCache
}

type StoreConfigOption interface{ applyToStore(*storeOpts) }

func (o LogOption) applyToStore(s *storeOpts)         { s.log = o.l }
func (o CompressorOption) applyToStore(s *storeOpts)  { s.compressor = o.v }
func (o SnapshotterOption) applyToStore(s *storeOpts) { s.snapshotter = o.v }
func (o SnapshotFrequency) applyToStore(s *storeOpts) { s.snapshotFrequency = o.v }
func (o ESMetricsOption) applyToStore(s *storeOpts)   { s.metrics = o.m }
func (o StreamCacheOption) applyToStore(s *storeOpts) { s.streamCache = newStreamCache(o.v) }

func newStoreOpts(opts ...StoreConfigOption) storeOpts {
	options := storeOpts{
		log:         slog.Default(),
		metrics:     NopESMetrics(),
		streamCache: newStreamCache(nil),
	}
	for _, opt := range opts {
		opt.applyToStore(&options)
	}
	if options.metrics == nil {
		options.metrics = NopESMetrics()
	}
	if options.log == nil {
		options.log = slog.Default()
	}
	return options
}

type appendFunc func(ctx context.Context, key StreamKey, expected Version, events []Envelope) (uint64, error)

type savePipeline struct {
	storeOpts
}

func (p *savePipeline) save(
	ctx context.Context,
	aggType, aggID string,
	expected Version,
	events []Envelope,
	doAppend appendFunc,
	opts ...SaveEventsOption,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	if aggType == "" {
		return nil, NewValidationError("aggregate_type", "is empty")
	}
	if aggID == "" {
		return nil, NewValidationError("aggregate_id", "is empty")
	}

	options := saveEventsOptions{}
	for _, opt := range opts {
		opt.applyToSaveEvents(&options)
	}

	defer p.metrics.StoreAppendDuration(aggType).ObserveDuration()

	batch := events
	if p.compressor.ShouldCompress(batch) {
		batch = p.compressor.Compress(batch)
		p.metrics.EventsCompressed(aggType, len(events), len(batch))
		p.log.Debug(
			"compressed batch",
			slog.String("agg_id", aggID),
			slog.Int("before", len(events)),
			slog.Int("after", len(batch)),
		)
	} else {
		batch = append(make([]Envelope, 0, len(events)), events...)
	}

	// assign consecutive versions
	v := expected
	for i := range batch {
		e := &batch[i]
		if e.AggregateType == "" {
			e.AggregateType = aggType
		}
		if e.AggregateID == "" {
			e.AggregateID = aggID
		}
		if e.AggregateType != aggType || e.AggregateID != aggID {
			return nil, &ValidationError{
				Field:  "aggregate",
				Reason: fmt.Sprintf("event %s belongs to %s/%s, not %s/%s", e.ID, e.AggregateType, e.AggregateID, aggType, aggID),
			}
		}
		v++
		e.Version = v
		if err := e.Validate(); err != nil {
			return nil, &ValidationError{Field: "event", Reason: "invalid envelope", Err: err}
		}
	}

	key := StreamKey{AggregateType: aggType, AggregateID: aggID}
	lastSeq, err := doAppend(ctx, key, expected, batch)
	p.streamCache.invalidate(key)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			p.metrics.ConcurrencyConflict(aggType)
		}
		return nil, storeUnavailable("append", err)
	}
	p.metrics.EventsAppended(aggType, len(batch))

	res := &StoreAppendResult{LastSeq: lastSeq, LastVersion: v, Appended: batch}

	if p.snapshotter != nil && crossesInterval(expected, v, p.snapshotFrequency) {
		res.Snapshot = p.snapshot(ctx, key, v, lastSeq, options.snapshotState)
	}

	p.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		expected.SlogAttrWithKey("expected"),
		v.SlogAttr(),
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(batch)),
	)

	return res, nil
}

// snapshot is best effort; failures are logged and never fail the append.
func (p *savePipeline) snapshot(
	ctx context.Context,
	key StreamKey,
	v Version,
	seq uint64,
	state func() ([]byte, error),
) *Snapshot {
	if state == nil {
		p.log.Debug("snapshot due but no state supplied", slog.String("stream", key.String()), v.SlogAttr())
		return nil
	}
	defer p.metrics.SnapshotSaveDuration(key.AggregateType).ObserveDuration()

	data, err := state()
	if err != nil {
		p.metrics.SnapshotFailed(key.AggregateType)
		p.log.Warn("snapshot state failed", slog.String("stream", key.String()), slog.Any("error", err))
		return nil
	}
	ss := &Snapshot{
		SnapshotID:    gonanoid.Must(),
		ObjID:         key.AggregateID,
		ObjType:       key.AggregateType,
		ObjVersion:    v,
		StreamSeq:     seq,
		CreatedAt:     time.Now(),
		SchemaVersion: 1,
		Encoding:      "json",
		Data:          data,
	}
	if err := p.snapshotter.SaveSnapshot(ctx, ss); err != nil {
		p.metrics.SnapshotFailed(key.AggregateType)
		p.log.Warn("snapshot save failed", slog.String("stream", key.String()), slog.Any("error", err))
		return nil
	}
	p.log.Debug("snapshot saved", ss.logAttrs())
	return ss
}

// filterFrom returns the envelopes with version >= from.
func filterFrom(events []Envelope, from Version) []Envelope {
	out := make([]Envelope, 0, len(events))
	for _, e := range events {
		if e.Version >= from {
			out = append(out, e)
		}
	}
	return out
}
