package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"bountyScope/internal/model"
)

// Config holds the NATS connection settings.
type Config struct {
	URL            string
	Subject        string
	ConnectionName string
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// JetStream is the part of jetstream.JetStream the publisher uses.
type JetStream interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher fans newly indexed events out to JetStream. Each message carries
// the event ID as Nats-Msg-Id so the stream drops re-deliveries.
type Publisher struct {
	nc      *nats.Conn
	js      JetStream
	subject string
	logger  *zap.Logger
}

// NewPublisher connects to NATS and opens a JetStream context.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if cfg.ConnectionName == "" {
		cfg.ConnectionName = "bounty-indexer"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}

	p := NewWithJetStream(js, cfg.Subject, logger)
	p.nc = nc
	return p, nil
}

// NewWithJetStream builds a publisher on an existing JetStream handle.
func NewWithJetStream(js JetStream, subject string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = "bounty.events"
	}
	return &Publisher{js: js, subject: subject, logger: logger}
}

// Publish sends events in order and stops at the first failure.
func (p *Publisher) Publish(ctx context.Context, events []model.IndexedEvent) error {
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", event.ID, err)
		}
		subject := Subject(p.subject, event)
		if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
			return fmt.Errorf("publish event %s: %w", event.ID, err)
		}
		p.logger.Debug("event published", zap.String("subject", subject), zap.String("id", event.ID))
	}
	return nil
}

// Close drains the connection when the publisher owns it.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

// Subject builds "<prefix>.<chain id>.<kind>", e.g. bounty.events.137.bountypaid.
func Subject(prefix string, event model.IndexedEvent) string {
	return fmt.Sprintf("%s.%d.%s", prefix, event.ChainID, strings.ToLower(event.Kind))
}
