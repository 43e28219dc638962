package messagebus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaquinllenado/recurve-ai/internal/scout"
)

type capturingSubscriber struct {
	handler func(*SignalMessage) error
	err     error
}

func (c *capturingSubscriber) SubscribeSignals(handler func(*SignalMessage) error) error {
	if c.err != nil {
		return c.err
	}
	c.handler = handler
	return nil
}

type stubHandler struct {
	signals []scout.Signal
	err     error
}

func (s *stubHandler) Handle(ctx context.Context, sig scout.Signal) (*scout.Reaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.signals = append(s.signals, sig)
	if s.err != nil {
		return nil, s.err
	}
	return &scout.Reaction{Competitor: sig.Competitor, Reacted: true, PromotedCount: 2}, nil
}

func TestSignalBridge_DeliversToHandler(t *testing.T) {
	sub := &capturingSubscriber{}
	handler := &stubHandler{}
	b := NewSignalBridge(sub, handler, 0, nil)

	require.NoError(t, b.Start(context.Background()))
	require.NotNil(t, sub.handler)

	require.NoError(t, sub.handler(&SignalMessage{Status: "critical_outage", Competitor: "DigitalOcean"}))
	require.NoError(t, sub.handler(&SignalMessage{Status: "operational", Competitor: "AWS", Source: "statuspage"}))

	require.Len(t, handler.signals, 2)
	assert.Equal(t, scout.Signal{Status: "critical_outage", Competitor: "DigitalOcean", Source: "nats"}, handler.signals[0])
	assert.Equal(t, "statuspage", handler.signals[1].Source)
}

func TestSignalBridge_PropagatesHandlerErrors(t *testing.T) {
	sub := &capturingSubscriber{}
	boom := errors.New("boom")
	b := NewSignalBridge(sub, &stubHandler{err: boom}, 0, nil)
	require.NoError(t, b.Start(context.Background()))

	err := sub.handler(&SignalMessage{Status: "critical", Competitor: "AWS"})
	assert.ErrorIs(t, err, boom)
}

func TestSignalBridge_StopsAfterClose(t *testing.T) {
	sub := &capturingSubscriber{}
	handler := &stubHandler{}
	b := NewSignalBridge(sub, handler, 0, nil)
	require.NoError(t, b.Start(context.Background()))

	b.Close()
	require.NoError(t, sub.handler(&SignalMessage{Status: "critical", Competitor: "AWS"}))
	assert.Empty(t, handler.signals)
}

func TestSignalBridge_SubscribeFailure(t *testing.T) {
	sub := &capturingSubscriber{err: errors.New("no stream")}
	b := NewSignalBridge(sub, &stubHandler{}, 0, nil)
	assert.Error(t, b.Start(context.Background()))
}
