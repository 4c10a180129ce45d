package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/aggstore/core/es"
)

const defaultEventsPrefix = "aggstore.events"

type PublisherConfig struct {
	Connect Connector
	Log     *slog.Logger
	// SubjectPrefix defaults to aggstore.events. Envelopes are published to
	// <prefix>.<aggType>.<eventType>.
	SubjectPrefix string
}

// Publisher forwards committed envelopes over core NATS so that event buses
// in other processes can observe them.
type Publisher struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	log     *slog.Logger
	prefix  string
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultEventsPrefix
	}
	return &Publisher{
		nc:      nc,
		closeNc: closeNc,
		log:     log.With(slog.String("publisher", "nats")),
		prefix:  prefix,
	}, nil
}

func (p *Publisher) Close() error {
	p.closeNc()
	return nil
}

func (p *Publisher) Publish(ctx context.Context, envs []es.Envelope) error {
	var errs []error
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		subject := p.prefix + "." + env.AggregateType + "." + env.Type
		if err := p.nc.Publish(subject, data); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", subject, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return p.nc.FlushWithContext(ctx)
}

// Forward subscribes to all envelopes published under the prefix and hands
// them to target, typically an *es.EventBus. The returned func unsubscribes.
func (p *Publisher) Forward(ctx context.Context, target es.Publisher) (func() error, error) {
	sub, err := p.nc.Subscribe(p.prefix+".>", func(msg *natsgo.Msg) {
		var env es.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			p.log.Error("failed to decode envelope", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}
		if err := target.Publish(ctx, []es.Envelope{env}); err != nil {
			p.log.Warn("forwarded event failed", slog.String("event_type", env.Type), slog.Any("error", err))
		}
	})
	if err != nil {
		return nil, err
	}
	if err := p.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	return sub.Unsubscribe, nil
}

var _ es.Publisher = (*Publisher)(nil)
