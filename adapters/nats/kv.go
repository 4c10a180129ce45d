package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/aggstore/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Bucket  string
	// TTL expires every entry of the bucket.
	TTL time.Duration
	// KeyTTL enables per-key expiry for Create. It needs a server with
	// limit marker support (2.11+). Without it PutOptions.TTL is ignored.
	KeyTTL        bool
	MemoryStorage bool
}

// KV is a kv.Store on a JetStream key/value bucket. Entry revisions are the
// bucket's message sequences.
type KV struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
	keyTTL  bool
}

func NewKV(cfg KvConfig) (*KV, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	kvCfg := jetstream.KeyValueConfig{
		Bucket:  cfg.Bucket,
		Storage: jetstream.FileStorage,
		TTL:     cfg.TTL,
	}
	if cfg.MemoryStorage {
		kvCfg.Storage = jetstream.MemoryStorage
	}
	if cfg.KeyTTL {
		kvCfg.LimitMarkerTTL = time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket, err := js.CreateOrUpdateKeyValue(ctx, kvCfg)
	if err != nil {
		closeNc()
		return nil, err
	}

	return &KV{kv: bucket, closeNc: closeNc, keyTTL: cfg.KeyTTL}, nil
}

func (k *KV) Close() error {
	k.closeNc()
	return nil
}

func (k *KV) Put(ctx context.Context, key string, data []byte, _ kv.PutOptions) (uint64, error) {
	rev, err := k.kv.Put(ctx, key, data)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return rev, nil
}

func (k *KV) Create(ctx context.Context, key string, data []byte, opts kv.PutOptions) (uint64, error) {
	var createOpts []jetstream.KVCreateOpt
	if k.keyTTL && opts.TTL > 0 {
		createOpts = append(createOpts, jetstream.KeyTTL(opts.TTL))
	}
	rev, err := k.kv.Create(ctx, key, data, createOpts...)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return 0, kv.ErrExists
		}
		return 0, fmt.Errorf("create %s: %w", key, err)
	}
	return rev, nil
}

func (k *KV) Update(ctx context.Context, key string, data []byte, last uint64, _ kv.PutOptions) (uint64, error) {
	rev, err := k.kv.Update(ctx, key, data, last)
	if err != nil {
		if isWrongLastSequence(err) {
			return 0, kv.ErrRevisionMismatch
		}
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	return rev, nil
}

func (k *KV) Get(ctx context.Context, key string) (kv.Entry, error) {
	e, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return kv.Entry{Key: key, Data: e.Value(), Revision: e.Revision()}, nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if err := k.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

var _ kv.Store = (*KV)(nil)
