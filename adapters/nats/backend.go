package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/aggstore/core/es"
)

const (
	defaultSubjectPrefix = "aggstore.es"
	defaultStreamName    = "AGGSTORE_ES"

	hdrAggType     = "x-aggregate-type"
	hdrAggID       = "x-aggregate-id"
	hdrFirstVer    = "x-first-version"
	hdrLastVersion = "x-last-version"
	hdrCount       = "x-count"

	fetchBatch   = 100
	fetchMaxWait = time.Second
)

type BackendConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string
	StreamName    string
	// MemoryStorage keeps the stream in memory instead of on disk.
	MemoryStorage bool
}

// Backend stores every append batch as a single JetStream message on the
// subject <prefix>.<aggType>.<aggID>. The server rejects a batch when the
// subject's last sequence moved since it was read, which makes the version
// check atomic.
type Backend struct {
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
}

func NewBackend(cfg BackendConfig) (*Backend, error) {
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

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("backend", "nats_js"),
		slog.String("stream", streamName),
	)

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}

	stream, err := ensureStream(js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    storage,
		FirstSeq:   1,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		closeNc()
		return nil, err
	}

	log.Debug("stream ensured", slog.String("subjects", subjectPrefix+".>"))

	return &Backend{
		closeNc:       closeNc,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
	}, nil
}

func (b *Backend) Close() error {
	b.js.CleanupPublisher()
	b.closeNc()
	return nil
}

func (b *Backend) Append(ctx context.Context, key es.StreamKey, expected es.Version, events []es.Envelope) (uint64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	subject := b.subject(key)
	lastSeq, cur, err := b.lastBatch(ctx, subject)
	if err != nil {
		return 0, err
	}
	if cur != expected {
		return 0, es.NewConcurrencyConflict(key.AggregateType, key.AggregateID, expected, cur)
	}
	for i, ev := range events {
		if ev.Version != expected+es.Version(i)+1 {
			return 0, es.NewValidationError("version", fmt.Sprintf("event %d has version %d, want %d", i, ev.Version, expected+es.Version(i)+1))
		}
	}

	msg := natsgo.NewMsg(subject)
	msg.Header.Set(hdrAggType, key.AggregateType)
	msg.Header.Set(hdrAggID, key.AggregateID)
	msg.Header.Set(hdrFirstVer, strconv.FormatUint(events[0].Version.Uint64(), 10))
	msg.Header.Set(hdrLastVersion, strconv.FormatUint(events[len(events)-1].Version.Uint64(), 10))
	msg.Header.Set(hdrCount, strconv.Itoa(len(events)))
	msg.Data, err = json.Marshal(events)
	if err != nil {
		return 0, err
	}

	ack, err := b.js.PublishMsg(
		ctx, msg,
		jetstream.WithMsgID(events[0].ID),
		jetstream.WithExpectLastSequencePerSubject(lastSeq),
	)
	if err != nil {
		if isWrongLastSequence(err) {
			_, actual, readErr := b.lastBatch(ctx, subject)
			if readErr != nil {
				return 0, readErr
			}
			return 0, es.NewConcurrencyConflict(key.AggregateType, key.AggregateID, expected, actual)
		}
		return 0, fmt.Errorf("publish batch to %s: %w", subject, err)
	}
	if ack.Duplicate {
		return 0, es.NewConcurrencyConflict(key.AggregateType, key.AggregateID, expected, cur)
	}

	for i := range events {
		events[i].Seq = ack.Sequence
	}
	return ack.Sequence, nil
}

func (b *Backend) ReadStream(ctx context.Context, key es.StreamKey, from es.Version) ([]es.Envelope, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	subject := b.subject(key)
	endSeq, _, err := b.lastBatch(ctx, subject)
	if err != nil {
		return nil, err
	}
	out := make([]es.Envelope, 0)
	if endSeq == 0 {
		return out, nil
	}
	err = b.consume(ctx, subject, endSeq, false, func(msg jetstream.Msg, seq uint64) error {
		batch, err := decodeBatch(msg.Data(), seq)
		if err != nil {
			return err
		}
		for _, ev := range batch {
			if ev.Version >= from {
				out = append(out, ev)
			}
		}
		return nil
	})
	return out, err
}

func (b *Backend) ReadAll(ctx context.Context) ([]es.Envelope, error) {
	info, err := b.stream.Info(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]es.Envelope, 0)
	if info.State.Msgs == 0 {
		return out, nil
	}
	err = b.consume(ctx, b.subjectPrefix+".>", info.State.LastSeq, false, func(msg jetstream.Msg, seq uint64) error {
		batch, err := decodeBatch(msg.Data(), seq)
		if err != nil {
			return err
		}
		out = append(out, batch...)
		return nil
	})
	return out, err
}

// Truncate purges whole batches whose last version is at or below through.
// The stream's most recent batch is always kept since it carries the
// version the next append is checked against.
func (b *Backend) Truncate(ctx context.Context, key es.StreamKey, through es.Version) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	subject := b.subject(key)
	endSeq, _, err := b.lastBatch(ctx, subject)
	if err != nil || endSeq == 0 {
		return 0, err
	}

	var (
		cutoff  = endSeq
		removed int
	)
	stop := errors.New("stop")
	err = b.consume(ctx, subject, endSeq, true, func(msg jetstream.Msg, seq uint64) error {
		last, count, err := batchHeaders(msg.Headers())
		if err != nil {
			return err
		}
		if last > through || seq == endSeq {
			cutoff = seq
			return stop
		}
		removed += count
		return nil
	})
	if err != nil && !errors.Is(err, stop) {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}

	if err := b.stream.Purge(ctx, jetstream.WithPurgeSubject(subject), jetstream.WithPurgeSequence(cutoff)); err != nil {
		return 0, fmt.Errorf("purge %s: %w", subject, err)
	}
	b.log.Debug(
		"stream truncated",
		slog.Group("agg", slog.String("type", key.AggregateType), slog.String("id", key.AggregateID)),
		through.SlogAttrWithKey("through"),
		slog.Int("removed", removed),
	)
	return removed, nil
}

// lastBatch returns the stream sequence and last version of the subject's
// newest batch, or zeros for an empty stream.
func (b *Backend) lastBatch(ctx context.Context, subject string) (uint64, es.Version, error) {
	lm, err := b.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("get last message for %s: %w", subject, err)
	}
	last, _, err := batchHeaders(lm.Header)
	if err != nil {
		return 0, 0, err
	}
	return lm.Sequence, last, nil
}

// consume reads the filtered subjects with an ordered consumer until endSeq
// was delivered.
func (b *Backend) consume(
	ctx context.Context,
	filter string,
	endSeq uint64,
	headersOnly bool,
	fn func(msg jetstream.Msg, seq uint64) error,
) error {
	cc, err := b.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{filter},
		HeadersOnly:    headersOnly,
	})
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		mb, err := cc.Fetch(fetchBatch, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			return err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			md, err := msg.Metadata()
			if err != nil {
				return err
			}
			seq := md.Sequence.Stream
			if err := fn(msg, seq); err != nil {
				return err
			}
			if seq >= endSeq {
				return nil
			}
		}
		if err := mb.Error(); err != nil {
			return err
		}
		if empty {
			return nil
		}
	}
}

func (b *Backend) subject(key es.StreamKey) string {
	return b.subjectPrefix + "." + key.AggregateType + "." + key.AggregateID
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()
	return js.CreateOrUpdateStream(ctx, cfg)
}

func decodeBatch(data []byte, seq uint64) ([]es.Envelope, error) {
	var batch []es.Envelope
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode batch %d: %w", seq, err)
	}
	for i := range batch {
		batch[i].Seq = seq
	}
	return batch, nil
}

func batchHeaders(h natsgo.Header) (last es.Version, count int, err error) {
	lv, err := strconv.ParseUint(h.Get(hdrLastVersion), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s header: %w", hdrLastVersion, err)
	}
	count, err = strconv.Atoi(h.Get(hdrCount))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s header: %w", hdrCount, err)
	}
	return es.Version(lv), count, nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func validateKey(key es.StreamKey) error {
	if key.AggregateType == "" {
		return es.NewValidationError("aggregate_type", "must not be empty")
	}
	if key.AggregateID == "" {
		return es.NewValidationError("aggregate_id", "must not be empty")
	}
	if strings.ContainsAny(key.AggregateType+key.AggregateID, ".*> ") {
		return es.NewValidationError("key", "must not contain subject tokens")
	}
	return nil
}

var (
	_ es.Backend   = (*Backend)(nil)
	_ es.Truncater = (*Backend)(nil)
)
