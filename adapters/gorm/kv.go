package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	gormio "gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codewandler/aggstore/ports/kv"
)

// KV is a kv.Store on the aggstore_kv table. It lets the sql backend keep
// snapshots, aggregate state and idempotency records next to the events.
// Expired rows are treated as absent and overwritten on the next write.
type KV struct {
	db  *gormio.DB
	now func() time.Time
}

func NewKV(db *gormio.DB) *KV { return &KV{db: db, now: time.Now} }

func (s *KV) expiry(opts kv.PutOptions) *time.Time {
	if opts.TTL <= 0 {
		return nil
	}
	at := s.now().Add(opts.TTL).UTC()
	return &at
}

func (s *KV) Put(ctx context.Context, key string, data []byte, opts kv.PutOptions) (uint64, error) {
	expires := s.expiry(opts)
	var rec KVRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gormio.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "kv_key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"data":       data,
				"revision":   gormio.Expr("aggstore_kv.revision + 1"),
				"expires_at": expires,
				"updated_at": s.now().UTC(),
			}),
		}).Create(&KVRecord{Key: key, Data: data, Revision: 1, ExpiresAt: expires}).Error
		if err != nil {
			return err
		}
		return tx.Where("kv_key = ?", key).Take(&rec).Error
	})
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return rec.Revision, nil
}

func (s *KV) Create(ctx context.Context, key string, data []byte, opts kv.PutOptions) (uint64, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gormio.DB) error {
		err := tx.Where("kv_key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, s.now().UTC()).
			Delete(&KVRecord{}).Error
		if err != nil {
			return err
		}
		return tx.Create(&KVRecord{Key: key, Data: data, Revision: 1, ExpiresAt: s.expiry(opts)}).Error
	})
	if errors.Is(err, gormio.ErrDuplicatedKey) {
		return 0, kv.ErrExists
	}
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", key, err)
	}
	return 1, nil
}

func (s *KV) Update(ctx context.Context, key string, data []byte, last uint64, opts kv.PutOptions) (uint64, error) {
	if last == 0 {
		rev, err := s.Create(ctx, key, data, opts)
		if errors.Is(err, kv.ErrExists) {
			return 0, kv.ErrRevisionMismatch
		}
		return rev, err
	}
	res := s.db.WithContext(ctx).Model(&KVRecord{}).
		Where("kv_key = ? AND revision = ? AND (expires_at IS NULL OR expires_at > ?)", key, last, s.now().UTC()).
		Updates(map[string]any{
			"data":       data,
			"revision":   last + 1,
			"expires_at": s.expiry(opts),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("update %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, kv.ErrRevisionMismatch
	}
	return last + 1, nil
}

func (s *KV) Get(ctx context.Context, key string) (kv.Entry, error) {
	var rec KVRecord
	err := s.db.WithContext(ctx).Where("kv_key = ?", key).Take(&rec).Error
	if errors.Is(err, gormio.ErrRecordNotFound) {
		return kv.Entry{}, kv.ErrNotFound
	}
	if err != nil {
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	if rec.ExpiresAt != nil && !s.now().Before(*rec.ExpiresAt) {
		return kv.Entry{}, kv.ErrNotFound
	}
	return rec.entry(), nil
}

func (s *KV) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("kv_key = ?", key).Delete(&KVRecord{}).Error; err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

var _ kv.Store = (*KV)(nil)
