// Package activity broadcasts agent events to live dashboards and an
// optional message bus.
package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/metrics"
)

// Event types
const (
	EventProductReceived        = "product_received"
	EventMarketResearchStarted  = "market_research_started"
	EventMarketResearchDone     = "market_research_done"
	EventStrategyGenerated      = "strategy_generated"
	EventStrategyStored         = "strategy_stored"
	EventLeadValidating         = "lead_validating"
	EventLeadClassified         = "lead_classified"
	EventValidationComplete     = "validation_complete"
	EventStrategyPivotTriggered = "strategy_pivot_triggered"
	EventOutageReprioritized    = "outage_reprioritized"
	EventPivotEmailDrafted      = "pivot_email_drafted"
	EventAgentError             = "agent_error"
	EventGraphReset             = "graph_reset"
	EventCompaniesSeeded        = "companies_seeded"
)

const (
	defaultBufferSize = 1000
	defaultHistory    = 1000
	subscriberBuffer  = 100
)

// Event is one broadcast message.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Forwarder mirrors events to an external transport.
type Forwarder interface {
	ForwardActivity(ctx context.Context, event *Event) error
}

// Publisher is the narrow interface business components depend on.
type Publisher interface {
	Publish(eventType string, data map[string]any)
}

// Subscriber receives events on a buffered channel. Events that do not fit
// are dropped for that subscriber only.
type Subscriber struct {
	ID      string
	Channel chan *Event
	Filter  func(*Event) bool
}

// Bus is an in-process, at-most-once event broadcaster.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	forwarder   Forwarder
	buffer      chan *Event
	forwardCh   chan *Event
	ctx         context.Context
	cancel      context.CancelFunc
	closed      atomic.Bool
	wg          sync.WaitGroup
	metrics     *metrics.Metrics
	logger      *zap.Logger

	// Ring buffer for recent event history (ephemeral, lost on restart)
	recentEvents []*Event
	recentIdx    int
	recentCount  int
}

// NewBus starts a bus. Close releases its goroutines.
func NewBus(m *metrics.Metrics, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscribers:  make(map[string]*Subscriber),
		buffer:       make(chan *Event, defaultBufferSize),
		forwardCh:    make(chan *Event, defaultBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		metrics:      m,
		logger:       logger.Named("activity"),
		recentEvents: make([]*Event, defaultHistory),
	}

	b.wg.Add(2)
	go b.processEvents()
	go b.forwardEvents()
	return b
}

// SetForwarder installs or removes (nil) the external mirror.
func (b *Bus) SetForwarder(f Forwarder) {
	b.mu.Lock()
	b.forwarder = f
	b.mu.Unlock()
}

// Publish enqueues an event. It never blocks: when the queue is full the
// event is dropped and counted.
func (b *Bus) Publish(eventType string, data map[string]any) {
	if b == nil || b.closed.Load() {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	select {
	case b.buffer <- event:
		b.metrics.RecordEvent(eventType, false)
	default:
		b.metrics.RecordEvent(eventType, true)
		b.logger.Warn("activity buffer full, dropping event", zap.String("type", eventType))
	}
}

// Subscribe creates a new subscription. Subscribing twice with one ID
// returns the existing subscription.
func (b *Bus) Subscribe(subscriberID string, filter func(*Event) bool) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, exists := b.subscribers[subscriberID]; exists {
		return sub
	}
	sub := &Subscriber{
		ID:      subscriberID,
		Channel: make(chan *Event, subscriberBuffer),
		Filter:  filter,
	}
	b.subscribers[subscriberID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, exists := b.subscribers[subscriberID]; exists {
		close(sub.Channel)
		delete(b.subscribers, subscriberID)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Recent returns up to limit events, newest first, optionally filtered by
// type. A non-positive limit returns the whole history.
func (b *Bus) Recent(limit int, eventType string) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > b.recentCount {
		limit = b.recentCount
	}
	result := make([]*Event, 0, limit)
	for i := 0; i < b.recentCount && len(result) < limit; i++ {
		idx := (b.recentIdx - 1 - i + len(b.recentEvents)) % len(b.recentEvents)
		ev := b.recentEvents[idx]
		if ev == nil {
			continue
		}
		if eventType != "" && ev.Type != eventType {
			continue
		}
		result = append(result, ev)
	}
	return result
}

// Close stops dispatching and closes every subscriber channel. Events
// still queued are discarded.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		close(sub.Channel)
	}
	b.subscribers = make(map[string]*Subscriber)
}

func (b *Bus) processEvents() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.buffer:
			b.distribute(event)
		}
	}
}

func (b *Bus) distribute(event *Event) {
	b.mu.Lock()
	b.recentEvents[b.recentIdx] = event
	b.recentIdx = (b.recentIdx + 1) % len(b.recentEvents)
	if b.recentCount < len(b.recentEvents) {
		b.recentCount++
	}
	forwarding := b.forwarder != nil
	b.mu.Unlock()

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	for _, sub := range b.subscribers {
		if sub.Filter != nil && !sub.Filter(event) {
			continue
		}
		select {
		case sub.Channel <- event:
		default:
		}
	}
	b.mu.RUnlock()

	if forwarding {
		select {
		case b.forwardCh <- event:
		default:
			b.logger.Warn("forward queue full, skipping mirror", zap.String("type", event.Type))
		}
	}
}

func (b *Bus) forwardEvents() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.forwardCh:
			b.mu.RLock()
			f := b.forwarder
			b.mu.RUnlock()
			if f == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
			if err := f.ForwardActivity(ctx, event); err != nil {
				b.logger.Warn("failed to forward event",
					zap.String("type", event.Type),
					zap.Error(err))
			}
			cancel()
		}
	}
}
