package gorm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gormio "gorm.io/gorm"

	"github.com/codewandler/aggstore/core/es"
)

const insertBatchSize = 100

// Backend is an es.Backend on two tables: aggstore_streams carries the
// version every append is checked against, aggstore_events the log itself.
type Backend struct {
	db  *gormio.DB
	log *slog.Logger
}

func NewBackend(db *gormio.DB, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{db: db, log: log.With(slog.String("backend", "sql"))}
}

func (b *Backend) Append(ctx context.Context, key es.StreamKey, expected es.Version, events []es.Envelope) (uint64, error) {
	if key.AggregateType == "" || key.AggregateID == "" {
		return 0, es.NewValidationError("aggregate", "type and id are required")
	}
	if len(events) == 0 {
		return 0, nil
	}
	for i, ev := range events {
		if want := expected + es.Version(i) + 1; ev.Version != want {
			return 0, es.NewValidationError("version", fmt.Sprintf("event %d has version %d, want %d", i, ev.Version, want))
		}
	}
	last := events[len(events)-1].Version

	records := make([]EventRecord, len(events))
	for i, ev := range events {
		records[i] = newEventRecord(ev)
	}

	err := b.db.WithContext(ctx).Transaction(func(tx *gormio.DB) error {
		if expected == 0 {
			err := tx.Create(&StreamRecord{
				AggregateType: key.AggregateType,
				AggregateID:   key.AggregateID,
				Version:       last.Uint64(),
			}).Error
			if errors.Is(err, gormio.ErrDuplicatedKey) {
				return errConflict
			}
			if err != nil {
				return err
			}
		} else {
			res := tx.Model(&StreamRecord{}).
				Where("aggregate_type = ? AND aggregate_id = ? AND version = ?", key.AggregateType, key.AggregateID, expected.Uint64()).
				Update("version", last.Uint64())
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errConflict
			}
		}

		if err := tx.CreateInBatches(&records, insertBatchSize).Error; err != nil {
			if errors.Is(err, gormio.ErrDuplicatedKey) {
				return errConflict
			}
			return err
		}
		return nil
	})
	if errors.Is(err, errConflict) {
		actual, verr := b.version(ctx, key)
		if verr != nil {
			return 0, verr
		}
		return 0, es.NewConcurrencyConflict(key.AggregateType, key.AggregateID, expected, actual)
	}
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", key, err)
	}

	for i := range events {
		events[i].Seq = records[i].Seq
	}
	return records[len(records)-1].Seq, nil
}

var errConflict = errors.New("stream version changed")

func (b *Backend) version(ctx context.Context, key es.StreamKey) (es.Version, error) {
	var rec StreamRecord
	err := b.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", key.AggregateType, key.AggregateID).
		Take(&rec).Error
	if errors.Is(err, gormio.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version of %s: %w", key, err)
	}
	return es.Version(rec.Version), nil
}

func (b *Backend) ReadStream(ctx context.Context, key es.StreamKey, from es.Version) ([]es.Envelope, error) {
	var records []EventRecord
	err := b.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ? AND version >= ?", key.AggregateType, key.AggregateID, from.Uint64()).
		Order("version ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return envelopes(records), nil
}

func (b *Backend) ReadAll(ctx context.Context) ([]es.Envelope, error) {
	out := make([]es.Envelope, 0)
	var batch []EventRecord
	// batches are paged by primary key, which is seq
	err := b.db.WithContext(ctx).
		FindInBatches(&batch, 500, func(tx *gormio.DB, _ int) error {
			out = append(out, envelopes(batch)...)
			return nil
		}).Error
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	return out, nil
}

// Truncate deletes the events up to and including through. The stream row
// keeps the version, so appends continue where the stream left off.
func (b *Backend) Truncate(ctx context.Context, key es.StreamKey, through es.Version) (int, error) {
	res := b.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ? AND version <= ?", key.AggregateType, key.AggregateID, through.Uint64()).
		Delete(&EventRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("truncate %s: %w", key, res.Error)
	}
	if res.RowsAffected > 0 {
		b.log.Debug(
			"stream truncated",
			slog.Group("agg", slog.String("type", key.AggregateType), slog.String("id", key.AggregateID)),
			through.SlogAttrWithKey("through"),
			slog.Int64("removed", res.RowsAffected),
		)
	}
	return int(res.RowsAffected), nil
}

func envelopes(records []EventRecord) []es.Envelope {
	out := make([]es.Envelope, len(records))
	for i, r := range records {
		out[i] = r.envelope()
	}
	return out
}

var (
	_ es.Backend   = (*Backend)(nil)
	_ es.Truncater = (*Backend)(nil)
)
