package messagebus

import (
	"context"

	"github.com/joaquinllenado/recurve-ai/internal/activity"
)

// SignalPublisher abstracts signal publishing for testability.
type SignalPublisher interface {
	PublishSignal(ctx context.Context, sig *SignalMessage) error
}

// SignalSubscriber abstracts signal subscription for testability.
type SignalSubscriber interface {
	SubscribeSignals(handler func(*SignalMessage) error) error
}

// Verify NatsMessageBus implements all interfaces at compile time.
var (
	_ activity.Forwarder = (*NatsMessageBus)(nil)
	_ SignalPublisher    = (*NatsMessageBus)(nil)
	_ SignalSubscriber   = (*NatsMessageBus)(nil)
)
