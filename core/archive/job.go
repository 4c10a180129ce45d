package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/codewandler/aggstore/core/es"
)

const (
	DefaultSchedule  = "0 3 * * *"
	DefaultRetention = 30 * 24 * time.Hour
)

type JobConfig struct {
	// Schedule is a cron expression, daily at 03:00 by default.
	Schedule string
	// Retention is the minimum age of an event before it is archived.
	Retention time.Duration
}

type (
	jobOpts struct {
		log         *slog.Logger
		snapshotter es.Snapshotter
		now         func() time.Time
	}

	JobOption interface{ applyToJob(*jobOpts) }

	SnapshotterOption struct{ s es.Snapshotter }
)

// WithSnapshotter overrides where the job looks up snapshot boundaries.
// By default the event store's own snapshotter is used.
func WithSnapshotter(s es.Snapshotter) SnapshotterOption { return SnapshotterOption{s: s} }

func (o SnapshotterOption) applyToJob(j *jobOpts) { j.snapshotter = o.s }
func (o LogOption) applyToJob(j *jobOpts)         { j.log = o.l }
func (o ClockOption) applyToJob(j *jobOpts)       { j.now = o.now }

type RunResult struct {
	Streams   int
	Archived  int
	Truncated int
	Failed    int
}

// Job periodically archives events that are older than the retention and
// already covered by a snapshot, then truncates them from the live log.
type Job struct {
	jobOpts
	cfg     JobConfig
	service *Service
	store   es.EventStore
}

func NewJob(service *Service, store es.EventStore, cfg JobConfig, opts ...JobOption) (*Job, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if _, err := gronx.NextTickAfter(cfg.Schedule, time.Now(), false); err != nil {
		return nil, fmt.Errorf("invalid archive schedule %q: %w", cfg.Schedule, err)
	}

	o := jobOpts{log: slog.Default(), now: time.Now}
	if src, ok := store.(es.SnapshotSource); ok {
		o.snapshotter = src.Snapshotter()
	}
	for _, opt := range opts {
		opt.applyToJob(&o)
	}
	if o.snapshotter == nil {
		return nil, es.ErrSnapshotterUnconfigured
	}

	return &Job{
		jobOpts: o,
		cfg:     cfg,
		service: service,
		store:   store,
	}, nil
}

// Start runs the job on its schedule until ctx is done. The returned channel
// is closed once the loop has exited.
func (j *Job) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			next, err := gronx.NextTickAfter(j.cfg.Schedule, j.now(), false)
			if err != nil {
				j.log.Error("archive schedule failed", slog.Any("error", err))
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			res, err := j.RunOnce(ctx)
			if err != nil {
				j.log.Error("archive run failed", slog.Any("error", err))
				continue
			}
			j.log.Info(
				"archive run finished",
				slog.Int("streams", res.Streams),
				slog.Int("archived", res.Archived),
				slog.Int("truncated", res.Truncated),
				slog.Int("failed", res.Failed),
			)
		}
	}()
	return done
}

// RunOnce archives every stream once. A failing stream is logged and
// counted, the remaining streams are still processed.
func (j *Job) RunOnce(ctx context.Context) (RunResult, error) {
	var res RunResult

	all, err := j.store.GetAllEvents(ctx)
	if err != nil {
		return res, &FailureError{Op: "scan", Err: err}
	}

	var (
		order   []es.StreamKey
		streams = map[es.StreamKey][]es.Envelope{}
		cutoff  = j.now().Add(-j.cfg.Retention)
	)
	for _, env := range all {
		key := es.StreamKey{AggregateType: env.AggregateType, AggregateID: env.AggregateID}
		if _, ok := streams[key]; !ok {
			order = append(order, key)
		}
		streams[key] = append(streams[key], env)
	}

	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Streams++
		archived, truncated, err := j.archiveStream(ctx, key, streams[key], cutoff)
		res.Archived += archived
		res.Truncated += truncated
		if err != nil {
			res.Failed++
			j.log.Warn(
				"archive stream failed",
				slog.Group("agg", slog.String("type", key.AggregateType), slog.String("id", key.AggregateID)),
				slog.Any("error", err),
			)
		}
	}
	return res, nil
}

func (j *Job) archiveStream(ctx context.Context, key es.StreamKey, events []es.Envelope, cutoff time.Time) (int, int, error) {
	ss, err := j.snapshotter.LoadSnapshot(ctx, key.AggregateType, key.AggregateID)
	if err != nil {
		if errors.Is(err, es.ErrSnapshotNotFound) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	// only a contiguous prefix below the snapshot can leave the live log
	var eligible []es.Envelope
	for _, env := range events {
		if env.Version > ss.ObjVersion || !env.OccurredAt.Before(cutoff) {
			break
		}
		eligible = append(eligible, env)
	}
	if len(eligible) == 0 {
		return 0, 0, nil
	}

	archived, err := j.service.ArchiveEvents(ctx, eligible)
	if err != nil {
		return archived, 0, err
	}

	t, ok := j.store.(es.Truncater)
	if !ok {
		return archived, 0, nil
	}
	truncated, err := t.Truncate(ctx, key, eligible[len(eligible)-1].Version)
	if err != nil {
		return archived, truncated, &FailureError{Op: "truncate", AggregateType: key.AggregateType, AggregateID: key.AggregateID, Err: err}
	}
	return archived, truncated, nil
}
