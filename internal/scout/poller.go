package scout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 30 * time.Second

// Prober fetches the current status of a competitor.
type Prober interface {
	Probe(ctx context.Context) (Signal, error)
}

// Handler consumes signals; *Engine satisfies it.
type Handler interface {
	Handle(ctx context.Context, sig Signal) (*Reaction, error)
}

// HTTPProber reads {status, competitor} JSON from a status endpoint.
type HTTPProber struct {
	url        string
	competitor string
	timeout    time.Duration
	client     *http.Client
}

// NewHTTPProber creates a prober. competitor is used when the endpoint
// does not name one. timeout bounds each request, body included.
func NewHTTPProber(url, competitor string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{url: url, competitor: competitor, timeout: timeout, client: &http.Client{}}
}

// Probe fetches one status report. A request that outlives the timeout
// fails with faults.ErrCollaboratorTimeout.
func (p *HTTPProber) Probe(ctx context.Context) (Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Signal{}, faults.Timeout("status endpoint", ctx.Err())
		}
		return Signal{}, fmt.Errorf("failed to fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Signal{}, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var sig Signal
	if err := json.NewDecoder(resp.Body).Decode(&sig); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Signal{}, faults.Timeout("status endpoint", ctx.Err())
		}
		return Signal{}, fmt.Errorf("failed to decode status: %w", err)
	}
	if strings.TrimSpace(sig.Competitor) == "" {
		sig.Competitor = p.competitor
	}
	sig.Source = "poller"
	return sig, nil
}

// Poller probes on a fixed interval and feeds every result to the handler.
type Poller struct {
	prober   Prober
	handler  Handler
	interval time.Duration
	logger   *zap.Logger
}

// NewPoller creates a poller.
func NewPoller(prober Prober, handler Handler, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{prober: prober, handler: handler, interval: interval, logger: logger.Named("scout.poller")}
}

// Run polls until ctx is done. The first probe happens immediately.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	sig, err := p.prober.Probe(ctx)
	if err != nil {
		p.logger.Warn("status probe failed", zap.Error(err))
		return
	}
	r, err := p.handler.Handle(ctx, sig)
	if err != nil {
		p.logger.Warn("signal handling failed", zap.String("competitor", sig.Competitor), zap.Error(err))
		return
	}
	if r.Reacted {
		p.logger.Info("outage reaction complete",
			zap.String("competitor", r.Competitor),
			zap.Int("promoted", r.PromotedCount))
	}
}
