package messagebus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/scout"
)

// SignalBridge feeds status reports arriving on the bus into the scout
// engine.
type SignalBridge struct {
	bus     SignalSubscriber
	handler scout.Handler
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewSignalBridge creates a bridge. timeout bounds the handling of one
// message.
func NewSignalBridge(bus SignalSubscriber, handler scout.Handler, timeout time.Duration, logger *zap.Logger) *SignalBridge {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalBridge{bus: bus, handler: handler, timeout: timeout, logger: logger.Named("messagebus.bridge")}
}

// Start subscribes to inbound signals. Handling stops when ctx is done or
// Close is called.
func (b *SignalBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	if err := b.bus.SubscribeSignals(b.deliver); err != nil {
		b.Close()
		return err
	}
	b.logger.Info("signal bridge started")
	return nil
}

func (b *SignalBridge) deliver(msg *SignalMessage) error {
	b.mu.Lock()
	parent := b.ctx
	b.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()

	source := msg.Source
	if source == "" {
		source = "nats"
	}
	r, err := b.handler.Handle(ctx, scout.Signal{
		Status:     msg.Status,
		Competitor: msg.Competitor,
		Source:     source,
	})
	if err != nil {
		return err
	}
	if r.Reacted {
		b.logger.Info("signal from bus triggered outage reaction",
			zap.String("competitor", r.Competitor),
			zap.Int("promoted", r.PromotedCount))
	}
	return nil
}

// Close stops handling.
func (b *SignalBridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	b.started = false
}
