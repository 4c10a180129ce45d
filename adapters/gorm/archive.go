package gorm

import (
	"context"
	"fmt"

	gormio "gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codewandler/aggstore/core/archive"
	"github.com/codewandler/aggstore/core/es"
)

// ArchiveStore is an archive.Store on the aggstore_archived_events table.
type ArchiveStore struct {
	db *gormio.DB
}

func NewArchiveStore(db *gormio.DB) *ArchiveStore { return &ArchiveStore{db: db} }

// Save inserts events whose id is not archived yet.
func (s *ArchiveStore) Save(ctx context.Context, events []archive.ArchivedEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	records := make([]ArchivedEventRecord, len(events))
	for i, ev := range events {
		records[i] = newArchivedEventRecord(ev)
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&records, insertBatchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("insert archived events: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *ArchiveStore) Load(ctx context.Context, aggType, aggID string, through es.Version) ([]archive.ArchivedEvent, error) {
	var records []ArchivedEventRecord
	err := s.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ? AND version <= ?", aggType, aggID, through.Uint64()).
		Order("version ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load archived events: %w", err)
	}
	out := make([]archive.ArchivedEvent, len(records))
	for i, r := range records {
		out[i] = r.archived()
	}
	return out, nil
}

var _ archive.Store = (*ArchiveStore)(nil)
