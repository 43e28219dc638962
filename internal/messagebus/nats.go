package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/activity"
)

// Subjects used on the bus.
const (
	SubjectPrefix         = "recurve"
	SubjectActivityPrefix = "recurve.activity."
	SubjectSignalStatus   = "recurve.signals.status"
)

// SignalMessage is a competitor status report received from or sent to the
// bus.
type SignalMessage struct {
	Status     string    `json:"status"`
	Competitor string    `json:"competitor"`
	Source     string    `json:"source,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// ActivityMessage mirrors one activity event.
type ActivityMessage struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// NatsMessageBus implements a message bus using NATS with JetStream
type NatsMessageBus struct {
	conn           *nats.Conn
	js             nats.JetStreamContext
	mu             sync.Mutex
	subscriptions  map[string]*nats.Subscription
	streamName     string
	url            string
	consumerPrefix string
	logger         *zap.Logger
}

// Config holds NATS configuration
type Config struct {
	URL            string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName     string        // JetStream stream name (default: "RECURVE")
	Timeout        time.Duration // Connection timeout
	ConsumerPrefix string        // Prefix for durable consumer names (for test isolation)
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.StreamName == "" {
		c.StreamName = "RECURVE"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// NewNatsMessageBus connects to NATS and makes sure the stream exists.
func NewNatsMessageBus(cfg Config, logger *zap.Logger) (*NatsMessageBus, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("messagebus")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("recurve"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	mb := &NatsMessageBus{
		conn:           nc,
		js:             js,
		subscriptions:  make(map[string]*nats.Subscription),
		streamName:     cfg.StreamName,
		url:            cfg.URL,
		consumerPrefix: cfg.ConsumerPrefix,
		logger:         logger,
	}

	if err := mb.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL), zap.String("stream", cfg.StreamName))
	return mb, nil
}

// ensureStream creates or updates the JetStream stream. LimitsPolicy lets
// several consumers read the same subjects.
func (mb *NatsMessageBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      mb.streamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		if _, err := mb.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		mb.logger.Info("created JetStream stream", zap.String("stream", mb.streamName))
		return nil
	}
	if _, err := mb.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// activitySubject returns recurve.activity.<type>, with characters that
// are special in NATS subjects replaced.
func activitySubject(eventType string) string {
	t := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, eventType)
	if t == "" {
		t = "unknown"
	}
	return SubjectActivityPrefix + t
}

// ForwardActivity mirrors an activity event onto the bus.
func (mb *NatsMessageBus) ForwardActivity(ctx context.Context, event *activity.Event) error {
	return mb.publish(ctx, activitySubject(event.Type), &ActivityMessage{
		ID:        event.ID,
		Type:      event.Type,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	})
}

// PublishSignal sends a competitor status report.
func (mb *NatsMessageBus) PublishSignal(ctx context.Context, sig *SignalMessage) error {
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	return mb.publish(ctx, SubjectSignalStatus, sig)
}

func (mb *NatsMessageBus) publish(ctx context.Context, subject string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := mb.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// SubscribeSignals delivers status reports to handler through a durable
// consumer. Every delivered message is acknowledged once; handler errors
// are logged, not redelivered.
func (mb *NatsMessageBus) SubscribeSignals(handler func(*SignalMessage) error) error {
	return mb.subscribe(SubjectSignalStatus, "signals-status", func(msg *nats.Msg) {
		var sig SignalMessage
		if err := json.Unmarshal(msg.Data, &sig); err != nil {
			mb.logger.Warn("dropping malformed signal message", zap.Error(err))
			_ = msg.Term()
			return
		}
		if err := handler(&sig); err != nil {
			mb.logger.Warn("signal handler failed",
				zap.String("competitor", sig.Competitor),
				zap.Error(err))
		}
		_ = msg.Ack()
	})
}

func (mb *NatsMessageBus) prefixConsumer(name string) string {
	if mb.consumerPrefix != "" {
		return mb.consumerPrefix + "-" + name
	}
	return name
}

func (mb *NatsMessageBus) subscribe(subject, consumerName string, handler nats.MsgHandler) error {
	prefixed := mb.prefixConsumer(consumerName)
	sub, err := mb.js.Subscribe(subject, handler,
		nats.Durable(prefixed),
		nats.AckExplicit(),
		nats.DeliverNew(),
		nats.MaxDeliver(1),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	mb.mu.Lock()
	mb.subscriptions[subject] = sub
	mb.mu.Unlock()
	mb.logger.Info("subscribed", zap.String("subject", subject), zap.String("consumer", prefixed))
	return nil
}

// Unsubscribe removes a subscription
func (mb *NatsMessageBus) Unsubscribe(subject string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub, ok := mb.subscriptions[subject]
	if !ok {
		return fmt.Errorf("no subscription found for %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
	}
	delete(mb.subscriptions, subject)
	return nil
}

// Close drains subscriptions and closes the connection.
func (mb *NatsMessageBus) Close() error {
	mb.mu.Lock()
	subjects := make([]string, 0, len(mb.subscriptions))
	for subject := range mb.subscriptions {
		subjects = append(subjects, subject)
	}
	mb.mu.Unlock()
	for _, subject := range subjects {
		_ = mb.Unsubscribe(subject)
	}

	mb.conn.Close()
	mb.logger.Info("closed NATS connection")
	return nil
}

// Health returns the health status of the NATS connection
func (mb *NatsMessageBus) Health() error {
	if mb.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !mb.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", mb.streamName, err)
	}
	return nil
}

// Stats returns statistics about the message bus
func (mb *NatsMessageBus) Stats() map[string]interface{} {
	mb.mu.Lock()
	subs := len(mb.subscriptions)
	mb.mu.Unlock()

	stats := map[string]interface{}{
		"url":           mb.url,
		"stream":        mb.streamName,
		"connected":     mb.conn.IsConnected(),
		"subscriptions": subs,
	}
	if info, err := mb.js.StreamInfo(mb.streamName); err == nil {
		stats["stream_messages"] = info.State.Msgs
		stats["stream_bytes"] = info.State.Bytes
		stats["stream_consumers"] = info.State.Consumers
	}
	return stats
}
