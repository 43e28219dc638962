package scout

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
)

type recordingHandler struct {
	mu      sync.Mutex
	signals []Signal
}

func (h *recordingHandler) Handle(ctx context.Context, sig Signal) (*Reaction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signals = append(h.signals, sig)
	return &Reaction{Competitor: sig.Competitor}, nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.signals)
}

func TestHTTPProber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "critical_outage"}`))
	}))
	defer server.Close()

	sig, err := NewHTTPProber(server.URL, "DigitalOcean", time.Second).Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "critical_outage", sig.Status)
	assert.Equal(t, "DigitalOcean", sig.Competitor)
	assert.Equal(t, "poller", sig.Source)
}

func TestHTTPProber_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewHTTPProber(server.URL, "AWS", time.Second).Probe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func slowStatusServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })
	return server
}

func TestHTTPProber_SlowEndpointTimesOut(t *testing.T) {
	server := slowStatusServer(t)

	start := time.Now()
	_, err := NewHTTPProber(server.URL, "DigitalOcean", 50*time.Millisecond).Probe(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrCollaboratorTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPProber_CallerCancelIsNotATimeout(t *testing.T) {
	server := slowStatusServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := NewHTTPProber(server.URL, "DigitalOcean", 5*time.Second).Probe(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, faults.ErrCollaboratorTimeout), "got %v", err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestPoller_RunsUntilCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "operational", "competitor": "AWS"}`))
	}))
	defer server.Close()

	handler := &recordingHandler{}
	p := NewPoller(NewHTTPProber(server.URL, "", time.Second), handler, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return handler.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, "AWS", handler.signals[0].Competitor)
}

func TestRedisStateStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	s, err := NewRedisStateStore(url)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Clear(ctx))
	defer s.Clear(ctx)

	prev, err := s.Swap(ctx, "DigitalOcean", Critical)
	require.NoError(t, err)
	assert.Equal(t, Operational, prev)

	prev, err = s.Swap(ctx, "digitalocean", Critical)
	require.NoError(t, err)
	assert.Equal(t, Critical, prev)

	critical, err := s.CriticalCompetitors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"digitalocean"}, critical)

	val, err := s.rdb.Get(ctx, redisKeyPrefix+"digitalocean").Result()
	require.NoError(t, err)
	assert.Equal(t, string(Critical), val)

	require.NoError(t, s.Clear(ctx))
	_, err = s.rdb.Get(ctx, redisKeyPrefix+"digitalocean").Result()
	assert.ErrorIs(t, err, redis.Nil)
}
