package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/aggstore/ports/kv"
)

var (
	ErrSnapshotterUnconfigured = errors.New("no snapshotter configured")
	ErrSnapshotNotFound        = errors.New("snapshot not found")
)

type (
	Snapshot struct {
		SnapshotID string `json:"snapshot_id"`

		ObjID      string  `json:"obj_id"`
		ObjType    string  `json:"obj_type"`
		ObjVersion Version `json:"obj_version"` // version of the aggregate the state was taken at

		StreamSeq uint64 `json:"stream_seq"` // global store sequence of the last covered event

		CreatedAt     time.Time `json:"created_at"`
		SchemaVersion int       `json:"schema_version"`
		Encoding      string    `json:"encoding"`
		Data          []byte    `json:"data"`
	}

	// Snapshottable lets an aggregate control its snapshot encoding. Others
	// are encoded as JSON.
	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	Snapshotter interface {
		SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
		LoadSnapshot(ctx context.Context, objType, objID string) (*Snapshot, error)
	}
)

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		slog.String("obj_type", s.ObjType),
		slog.String("obj_id", s.ObjID),
		s.ObjVersion.SlogAttrWithKey("obj_version"),
		slog.Uint64("seq", s.StreamSeq),
		slog.Int("size", len(s.Data)),
	)
}

func LoadSnapshot(ctx context.Context, snapshotter Snapshotter, aggType, aggID string) (*Snapshot, error) {
	if snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	return snapshotter.LoadSnapshot(ctx, aggType, aggID)
}

// snapshotData encodes the current state of agg.
func snapshotData(agg Aggregate) ([]byte, error) {
	if s, ok := agg.(Snapshottable); ok {
		return s.Snapshot()
	}
	return json.Marshal(agg)
}

// restoreSnapshot replaces the state of agg with the snapshot contents.
func restoreSnapshot(agg Aggregate, ss *Snapshot) (err error) {
	if s, ok := agg.(Snapshottable); ok {
		err = s.RestoreSnapshot(ss.Data)
	} else {
		err = json.Unmarshal(ss.Data, agg)
	}
	if err != nil {
		return fmt.Errorf("restore snapshot %s: %w", ss.SnapshotID, err)
	}
	b := agg.base()
	b.SetID(ss.ObjID)
	b.setVersion(ss.ObjVersion)
	b.setSeq(ss.StreamSeq)
	return nil
}

// NewSnapshot captures the current state of agg.
func NewSnapshot(agg Aggregate) (*Snapshot, error) {
	data, err := snapshotData(agg)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s/%s: %w", agg.GetAggType(), agg.GetID(), err)
	}
	return &Snapshot{
		SnapshotID:    gonanoid.Must(),
		ObjID:         agg.GetID(),
		ObjType:       agg.GetAggType(),
		ObjVersion:    agg.GetVersion(),
		StreamSeq:     agg.base().GetSeq(),
		CreatedAt:     time.Now(),
		SchemaVersion: 1,
		Encoding:      "json",
		Data:          data,
	}, nil
}

// === In-Memory Snapshotter ===

// InMemorySnapshotter keeps every snapshot it is given. LoadSnapshot returns
// the one with the highest version.
type InMemorySnapshotter struct {
	mu        sync.Mutex
	snapshots map[string][]*Snapshot
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{snapshots: map[string][]*Snapshot{}}
}

func (i *InMemorySnapshotter) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	sk := StreamKey{snapshot.ObjType, snapshot.ObjID}.String()
	i.snapshots[sk] = append(i.snapshots[sk], snapshot)
	return nil
}

func (i *InMemorySnapshotter) LoadSnapshot(_ context.Context, objType, objID string) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var latest *Snapshot
	for _, s := range i.snapshots[StreamKey{objType, objID}.String()] {
		if latest == nil || s.ObjVersion >= latest.ObjVersion {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrSnapshotNotFound
	}
	return latest, nil
}

// History returns all snapshots of one aggregate in save order.
func (i *InMemorySnapshotter) History(objType, objID string) []*Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Snapshot(nil), i.snapshots[StreamKey{objType, objID}.String()]...)
}

// === KV Snapshotter ===

// KeyValueSnapshotter stores the latest snapshot per aggregate in a kv.Store.
// A snapshot older than the stored one is ignored.
type KeyValueSnapshotter struct {
	store kv.Store
}

func NewKeyValueSnapshotter(store kv.Store) *KeyValueSnapshotter {
	return &KeyValueSnapshotter{store: store}
}

func snapshotKey(objType, objID string) string { return "snapshot." + objType + "." + objID }

func (k *KeyValueSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	cur, err := k.LoadSnapshot(ctx, snapshot.ObjType, snapshot.ObjID)
	switch {
	case err == nil && cur.ObjVersion > snapshot.ObjVersion:
		return nil
	case err != nil && !errors.Is(err, ErrSnapshotNotFound):
		return err
	}
	if _, err := kv.Put(ctx, k.store, snapshotKey(snapshot.ObjType, snapshot.ObjID), snapshot, kv.PutOptions{}); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (k *KeyValueSnapshotter) LoadSnapshot(ctx context.Context, objType, objID string) (*Snapshot, error) {
	s, err := kv.Get[Snapshot](ctx, k.store, snapshotKey(objType, objID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &s, nil
}

var (
	_ Snapshotter = (*InMemorySnapshotter)(nil)
	_ Snapshotter = (*KeyValueSnapshotter)(nil)
)
