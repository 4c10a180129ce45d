package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/codewandler/aggstore/core/es"
)

const DefaultBatchSize = 1000

type Metrics interface {
	EventsArchived(aggType string, count int)
	ArchiveFailed(op string)
}

type nopMetrics struct{}

func (nopMetrics) EventsArchived(string, int) {}
func (nopMetrics) ArchiveFailed(string)       {}

func NopMetrics() Metrics { return nopMetrics{} }

type (
	serviceOpts struct {
		log       *slog.Logger
		batchSize int
		metrics   Metrics
		now       func() time.Time
	}

	ServiceOption interface{ applyToService(*serviceOpts) }

	LogOption       struct{ l *slog.Logger }
	BatchSizeOption struct{ n int }
	MetricsOption   struct{ m Metrics }
	ClockOption     struct{ now func() time.Time }
)

func WithLog(l *slog.Logger) LogOption           { return LogOption{l: l} }
func WithBatchSize(n int) BatchSizeOption        { return BatchSizeOption{n: n} }
func WithMetrics(m Metrics) MetricsOption        { return MetricsOption{m: m} }
func WithClock(now func() time.Time) ClockOption { return ClockOption{now: now} }

func (o LogOption) applyToService(s *serviceOpts)     { s.log = o.l }
func (o MetricsOption) applyToService(s *serviceOpts) { s.metrics = o.m }
func (o ClockOption) applyToService(s *serviceOpts)   { s.now = o.now }
func (o BatchSizeOption) applyToService(s *serviceOpts) {
	if o.n > 0 {
		s.batchSize = o.n
	}
}

// Service archives envelopes in bounded batches and recovers them.
type Service struct {
	serviceOpts
	store Store
}

func NewService(store Store, opts ...ServiceOption) *Service {
	o := serviceOpts{
		log:       slog.Default(),
		batchSize: DefaultBatchSize,
		metrics:   NopMetrics(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt.applyToService(&o)
	}
	return &Service{serviceOpts: o, store: store}
}

func (s *Service) Store() Store { return s.store }

// ArchiveEvents copies envs into the archive. Events archived before are
// skipped, so the call can be repeated after a partial failure.
func (s *Service) ArchiveEvents(ctx context.Context, envs []es.Envelope) (int, error) {
	var (
		total     int
		archiveAt = s.now().UTC()
	)
	for start := 0; start < len(envs); start += s.batchSize {
		end := min(start+s.batchSize, len(envs))
		batch := make([]ArchivedEvent, 0, end-start)
		for _, env := range envs[start:end] {
			batch = append(batch, ArchivedEvent{
				Envelope:          env,
				ArchivedAt:        archiveAt,
				OriginalTimestamp: env.OccurredAt,
			})
		}

		stored, err := s.store.Save(ctx, batch)
		if err != nil {
			s.metrics.ArchiveFailed("archive")
			return total, &FailureError{Op: "archive", Err: err}
		}
		total += stored
		if stored > 0 {
			s.metrics.EventsArchived(batch[0].AggregateType, stored)
		}
		s.log.Debug(
			"archived batch",
			slog.Int("size", len(batch)),
			slog.Int("stored", stored),
		)
	}
	return total, nil
}

// RecoverArchivedEvents returns the archived events of one aggregate with
// version <= ceiling in ascending order.
func (s *Service) RecoverArchivedEvents(ctx context.Context, aggType, aggID string, ceiling es.Version) ([]ArchivedEvent, error) {
	events, err := s.store.Load(ctx, aggType, aggID, ceiling)
	if err != nil {
		s.metrics.ArchiveFailed("recover")
		return nil, &FailureError{Op: "recover", AggregateType: aggType, AggregateID: aggID, Err: err}
	}
	return events, nil
}

// RecoverEvents lets a repository fill a truncated stream prefix.
func (s *Service) RecoverEvents(ctx context.Context, aggType, aggID string, through es.Version) ([]es.Envelope, error) {
	archived, err := s.RecoverArchivedEvents(ctx, aggType, aggID, through)
	if err != nil {
		return nil, err
	}
	out := make([]es.Envelope, len(archived))
	for i, a := range archived {
		out[i] = a.Envelope
	}
	return out, nil
}

var _ es.ArchiveRecoverer = (*Service)(nil)
