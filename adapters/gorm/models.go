package gorm

import (
	"time"

	"github.com/codewandler/aggstore/core/archive"
	"github.com/codewandler/aggstore/core/es"
	"github.com/codewandler/aggstore/ports/kv"
)

// StreamRecord holds the current version of a stream. It outlives the
// stream's events when they get truncated.
type StreamRecord struct {
	AggregateType string    `gorm:"primaryKey;type:varchar(128)"`
	AggregateID   string    `gorm:"primaryKey;type:varchar(255)"`
	Version       uint64    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (StreamRecord) TableName() string { return "aggstore_streams" }

// EventRecord is one row of the event log. Seq is the global order.
type EventRecord struct {
	Seq           uint64    `gorm:"primaryKey;autoIncrement"`
	EventID       string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	AggregateType string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_aggstore_events_stream_version,priority:1"`
	AggregateID   string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_aggstore_events_stream_version,priority:2"`
	Version       uint64    `gorm:"not null;uniqueIndex:idx_aggstore_events_stream_version,priority:3"`
	EventType     string    `gorm:"type:varchar(255);not null"`
	OccurredAt    time.Time `gorm:"not null;index"`
	Collapsible   bool      `gorm:"not null;default:false"`
	Data          []byte
}

func (EventRecord) TableName() string { return "aggstore_events" }

func newEventRecord(env es.Envelope) EventRecord {
	return EventRecord{
		EventID:       env.ID,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		Version:       env.Version.Uint64(),
		EventType:     env.Type,
		OccurredAt:    env.OccurredAt.UTC(),
		Collapsible:   env.Collapsible,
		Data:          env.Data,
	}
}

func (r EventRecord) envelope() es.Envelope {
	return es.Envelope{
		ID:            r.EventID,
		Seq:           r.Seq,
		Version:       es.Version(r.Version),
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		Type:          r.EventType,
		OccurredAt:    r.OccurredAt.UTC(),
		Collapsible:   r.Collapsible,
		Data:          r.Data,
	}
}

// ArchivedEventRecord is an event moved out of the live log.
type ArchivedEventRecord struct {
	EventID           string    `gorm:"primaryKey;type:varchar(64)"`
	Seq               uint64    `gorm:"not null"`
	AggregateType     string    `gorm:"type:varchar(128);not null;index:idx_aggstore_archive_stream,priority:1"`
	AggregateID       string    `gorm:"type:varchar(255);not null;index:idx_aggstore_archive_stream,priority:2"`
	Version           uint64    `gorm:"not null;index:idx_aggstore_archive_stream,priority:3"`
	EventType         string    `gorm:"type:varchar(255);not null"`
	Collapsible       bool      `gorm:"not null;default:false"`
	Data              []byte
	OriginalTimestamp time.Time `gorm:"not null"`
	ArchivedAt        time.Time `gorm:"not null;index"`
}

func (ArchivedEventRecord) TableName() string { return "aggstore_archived_events" }

func newArchivedEventRecord(ev archive.ArchivedEvent) ArchivedEventRecord {
	return ArchivedEventRecord{
		EventID:           ev.ID,
		Seq:               ev.Seq,
		AggregateType:     ev.AggregateType,
		AggregateID:       ev.AggregateID,
		Version:           ev.Version.Uint64(),
		EventType:         ev.Type,
		Collapsible:       ev.Collapsible,
		Data:              ev.Data,
		OriginalTimestamp: ev.OriginalTimestamp.UTC(),
		ArchivedAt:        ev.ArchivedAt.UTC(),
	}
}

func (r ArchivedEventRecord) archived() archive.ArchivedEvent {
	return archive.ArchivedEvent{
		Envelope: es.Envelope{
			ID:            r.EventID,
			Seq:           r.Seq,
			Version:       es.Version(r.Version),
			AggregateType: r.AggregateType,
			AggregateID:   r.AggregateID,
			Type:          r.EventType,
			OccurredAt:    r.OriginalTimestamp.UTC(),
			Collapsible:   r.Collapsible,
			Data:          r.Data,
		},
		ArchivedAt:        r.ArchivedAt.UTC(),
		OriginalTimestamp: r.OriginalTimestamp.UTC(),
	}
}

// KVRecord backs KV. Revision counts the writes of one key.
type KVRecord struct {
	Key       string     `gorm:"column:kv_key;primaryKey;type:varchar(255)"`
	Data      []byte     `gorm:"column:data"`
	Revision  uint64     `gorm:"column:revision;not null"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null"`
}

func (KVRecord) TableName() string { return "aggstore_kv" }

func (r KVRecord) entry() kv.Entry {
	return kv.Entry{Key: r.Key, Data: r.Data, Revision: r.Revision}
}
