// Package events consumes record lifecycle events published on NATS JetStream
// and hands them to the record change router.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driving"
)

const (
	// DefaultSubject carries one JSON encoded domain.LifecycleEvent per message
	DefaultSubject = "records.changes"
	// DefaultStream is created on first connect when it does not exist
	DefaultStream = "RECORDS"
	// DefaultQueue is the queue group and durable consumer shared by all instances
	DefaultQueue = "sercha-typesense"

	handlerTimeout = 30 * time.Second
)

// Message is the part of a JetStream message the subscriber needs.
type Message interface {
	Payload() []byte
	Ack() error
	Nak() error
	Term() error
}

// jsMessage adapts *nats.Msg to Message.
type jsMessage struct{ msg *nats.Msg }

func (m jsMessage) Payload() []byte { return m.msg.Data }
func (m jsMessage) Ack() error      { return m.msg.Ack() }
func (m jsMessage) Nak() error      { return m.msg.Nak() }
func (m jsMessage) Term() error     { return m.msg.Term() }

// Config configures the subscriber.
type Config struct {
	URL     string
	Stream  string
	Subject string
	Queue   string
	// MaxAckPending bounds unacknowledged deliveries per consumer
	MaxAckPending int
	Logger        *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Subscriber feeds lifecycle events from JetStream into a RecordChangeService.
type Subscriber struct {
	cfg     Config
	changes driving.RecordChangeService
	logger  *slog.Logger

	conn *nats.Conn
	js   nats.JetStreamContext
	sub  *nats.Subscription
}

// NewSubscriber creates a subscriber. Call Connect and Start to begin consuming.
func NewSubscriber(cfg Config, changes driving.RecordChangeService) *Subscriber {
	cfg.applyDefaults()
	return &Subscriber{
		cfg:     cfg,
		changes: changes,
		logger:  cfg.Logger.With("subject", cfg.Subject),
	}
}

// Connect dials NATS and makes sure the stream exists.
func (s *Subscriber) Connect() error {
	opts := []nats.Option{
		nats.Name("sercha-typesense-" + uuid.NewString()[:8]),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(3 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			s.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(s.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(s.cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return fmt.Errorf("stream info %s: %w", s.cfg.Stream, err)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     s.cfg.Stream,
			Subjects: []string{s.cfg.Subject},
		}); err != nil {
			nc.Close()
			return fmt.Errorf("create stream %s: %w", s.cfg.Stream, err)
		}
		s.logger.Info("created jetstream stream", "stream", s.cfg.Stream)
	}

	s.conn = nc
	s.js = js
	return nil
}

// Start subscribes to the change subject with a durable queue consumer.
func (s *Subscriber) Start() error {
	if s.js == nil {
		return errors.New("subscriber is not connected")
	}
	sub, err := s.js.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		s.Handle(ctx, jsMessage{msg: msg})
	},
		nats.Durable(s.cfg.Queue),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.MaxAckPending(s.cfg.MaxAckPending),
	)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Subject, err)
	}
	s.sub = sub
	s.logger.Info("consuming record changes", "queue", s.cfg.Queue)
	return nil
}

// Handle routes one message and settles it. Events that can never succeed
// are terminated so JetStream stops redelivering them.
func (s *Subscriber) Handle(ctx context.Context, msg Message) {
	var event domain.LifecycleEvent
	if err := json.Unmarshal(msg.Payload(), &event); err != nil {
		s.logger.Warn("dropping undecodable record change", "error", err)
		s.settle(msg.Term)
		return
	}

	routed, err := s.changes.HandleLifecycle(ctx, event)
	switch {
	case err == nil:
		s.logger.Debug("record change handled",
			"record_type", event.RecordType,
			"record_id", event.RecordID,
			"routed", routed)
		s.settle(msg.Ack)
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnknownRecordType):
		s.logger.Warn("dropping invalid record change",
			"record_type", event.RecordType,
			"record_id", event.RecordID,
			"error", err)
		s.settle(msg.Term)
	default:
		s.logger.Error("record change failed, redelivering",
			"record_type", event.RecordType,
			"record_id", event.RecordID,
			"error", err)
		s.settle(msg.Nak)
	}
}

func (s *Subscriber) settle(fn func() error) {
	if err := fn(); err != nil {
		s.logger.Error("failed to settle message", "error", err)
	}
}

// Ping reports whether the connection is up.
func (s *Subscriber) Ping(ctx context.Context) error {
	if s.conn == nil || !s.conn.IsConnected() {
		return fmt.Errorf("%w: nats not connected", domain.ErrServiceUnavailable)
	}
	return nil
}

// Close unsubscribes and drains the connection.
func (s *Subscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.logger.Warn("failed to drain subscription", "error", err)
		}
	}
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
