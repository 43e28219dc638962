// Package recurve wires the knowledge store, collaborators, engines and
// background loops into one agent.
package recurve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/activity"
	"github.com/joaquinllenado/recurve-ai/internal/cache"
	"github.com/joaquinllenado/recurve-ai/internal/database"
	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/internal/logging"
	"github.com/joaquinllenado/recurve-ai/internal/messagebus"
	"github.com/joaquinllenado/recurve-ai/internal/metrics"
	"github.com/joaquinllenado/recurve-ai/internal/provider"
	"github.com/joaquinllenado/recurve-ai/internal/research"
	"github.com/joaquinllenado/recurve-ai/internal/scout"
	"github.com/joaquinllenado/recurve-ai/internal/strategy"
	"github.com/joaquinllenado/recurve-ai/internal/validation"
	"github.com/joaquinllenado/recurve-ai/pkg/config"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

// Agent is the main orchestrator.
type Agent struct {
	config     *config.Config
	database   *database.Database
	events     *activity.Bus
	strategies *strategy.Manager
	validation *validation.Loop
	scout      *scout.Engine
	states     scout.StateStore
	redis      *scout.RedisStateStore
	searches   *cache.Cache
	messageBus *messagebus.NatsMessageBus
	bridge     *messagebus.SignalBridge
	logManager *logging.Manager
	metrics    *metrics.Metrics
	logger     *zap.Logger

	cycleRunning atomic.Bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	startedAt    time.Time
}

type options struct {
	searcher   research.Searcher
	protocol   provider.Protocol
	database   *database.Database
	logManager *logging.Manager
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// Option customizes New.
type Option func(*options)

// WithSearcher replaces the web search client.
func WithSearcher(s research.Searcher) Option { return func(o *options) { o.searcher = s } }

// WithProtocol replaces the language model transport.
func WithProtocol(p provider.Protocol) Option { return func(o *options) { o.protocol = p } }

// WithDatabase uses an already opened store.
func WithDatabase(db *database.Database) Option { return func(o *options) { o.database = db } }

// WithLogManager mirrors the agent's logs into m for the API.
func WithLogManager(m *logging.Manager) Option { return func(o *options) { o.logManager = m } }

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithLogger sets the process logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// New builds an agent from cfg. The message bus and Redis are optional;
// when they cannot be reached the agent degrades to in-process state.
func New(cfg *config.Config, opts ...Option) (*Agent, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logManager := o.logManager
	if logManager == nil {
		logManager = logging.NewManager(logging.MaxBufferSize)
	}

	db := o.database
	if db == nil {
		var err error
		db, err = database.Open(database.Config{
			Type: cfg.Database.Type,
			Path: cfg.Database.Path,
			DSN:  cfg.Database.DSN,
		})
		if err != nil {
			return nil, fmt.Errorf("open knowledge store: %w", err)
		}
	}

	searcher := o.searcher
	if searcher == nil {
		searcher = research.NewTavilyClient(cfg.Research.Endpoint, cfg.Research.APIKey)
	}
	var searches *cache.Cache
	if cfg.Research.CacheTTL > 0 {
		searches = cache.New(&cache.Config{
			DefaultTTL:    cfg.Research.CacheTTL,
			MaxSize:       cfg.Research.CacheSize,
			CleanupPeriod: 5 * time.Minute,
		})
		searcher = research.NewCachingSearcher(searcher, searches, cfg.Research.CacheTTL)
	}
	protocol := o.protocol
	if protocol == nil {
		p, err := provider.NewProtocol(cfg.Model.Provider, cfg.Model.Endpoint, cfg.Model.APIKey)
		if err != nil {
			if searches != nil {
				searches.Close()
			}
			db.Close()
			return nil, err
		}
		protocol = p
	}

	m := o.metrics
	events := activity.NewBus(m, logger)
	collector := research.NewCollector(searcher, cfg.Agent.CollaboratorTimeout, m, logger)
	slm := provider.NewSLM(protocol, provider.Options{
		Model:       cfg.Model.ModelID,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		Timeout:     cfg.Agent.CollaboratorTimeout,
	}, m, logger)

	a := &Agent{
		config:     cfg,
		database:   db,
		events:     events,
		logManager: logManager,
		searches:   searches,
		metrics:    m,
		logger:     logger.Named("recurve"),
		startedAt:  time.Now(),
	}

	a.states = scout.NewMemoryStateStore()
	if cfg.Scout.StateBackend == "redis" {
		rs, err := scout.NewRedisStateStore(cfg.Scout.RedisURL)
		if err != nil {
			a.logger.Warn("redis unavailable, keeping scout state in memory", zap.Error(err))
		} else {
			a.redis = rs
			a.states = rs
		}
	}

	a.strategies = strategy.NewManager(db, collector, slm, events,
		strategy.WithMaxDescription(cfg.Agent.MaxProductDescription),
		strategy.WithMetrics(m),
		strategy.WithLogger(logger))

	a.validation = validation.NewLoop(db, collector, slm, a.strategies, a.states, events, validation.Config{
		PivotThreshold:        cfg.Agent.PivotThreshold,
		BatchConcurrency:      cfg.Agent.BatchConcurrency,
		SmallCompanyThreshold: cfg.Agent.SmallCompanyThreshold,
		UnknownLabelPolicy:    cfg.Agent.UnknownLabelPolicy,
		AutoPivot:             cfg.Agent.AutoPivot,
	}, m, logger)

	a.scout = scout.NewEngine(db, a.states, slm, events, m, logger)

	if cfg.NATS.Enabled {
		mb, err := messagebus.NewNatsMessageBus(messagebus.Config{
			URL:        cfg.NATS.URL,
			StreamName: cfg.NATS.StreamName,
			Timeout:    cfg.NATS.Timeout,
		}, logger)
		if err != nil {
			// Don't fail startup if NATS is unavailable
			a.logger.Warn("failed to initialize NATS message bus", zap.Error(err))
		} else {
			a.messageBus = mb
			events.SetForwarder(mb)
			a.bridge = messagebus.NewSignalBridge(mb, a.scout, 0, logger)
		}
	}

	return a, nil
}

// Start launches the background units: the scout poller, the periodic
// validation cycle and the message bus bridge. They share no call path.
func (a *Agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.bridge != nil {
		if err := a.bridge.Start(ctx); err != nil {
			a.logger.Warn("failed to start signal bridge", zap.Error(err))
		}
	}

	if url := a.config.Scout.StatusURL; url != "" {
		prober := scout.NewHTTPProber(url, a.config.Scout.Competitor, a.config.Agent.CollaboratorTimeout)
		poller := scout.NewPoller(prober, a.scout, a.config.Scout.PollInterval, a.logger)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			poller.Run(ctx)
		}()
		a.logger.Info("scout poller started", zap.String("url", url))
	}

	if interval := a.config.Agent.ValidationInterval; interval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.runValidationCycle(ctx, interval)
		}()
		a.logger.Info("validation cycle started", zap.Duration("interval", interval))
	}
	return nil
}

func (a *Agent) runValidationCycle(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.validationTick(ctx, interval)
		case <-ctx.Done():
			return
		}
	}
}

// validationCycleLease keeps agents that share a store from validating
// the same batch at once.
const validationCycleLease = "validation-cycle"

func (a *Agent) validationTick(ctx context.Context, interval time.Duration) {
	if !a.cycleRunning.CompareAndSwap(false, true) {
		a.logger.Debug("previous validation cycle still running")
		return
	}
	defer a.cycleRunning.Store(false)

	lease, err := a.database.AcquireLease(ctx, validationCycleLease, interval)
	if err != nil {
		if errors.Is(err, database.ErrLeaseHeld) {
			a.logger.Debug("validation cycle running on another instance")
		} else {
			a.logger.Warn("failed to acquire validation lease", zap.Error(err))
		}
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			a.logger.Warn("failed to release validation lease", zap.Error(err))
		}
	}()

	report, err := a.validation.Validate(ctx, validation.ValidateRequest{})
	switch {
	case errors.Is(err, faults.ErrNotFound):
		return
	case err != nil:
		a.logger.Warn("scheduled validation failed", zap.Error(err))
		return
	}
	a.logger.Info("scheduled validation complete",
		zap.Int("strategy_version", report.StrategyVersion),
		zap.Int("total", report.Batch.Total),
		zap.Bool("pivot", report.PivotTriggered))
}

// ApplyConfig takes the hot-reloadable tunables from cfg.
func (a *Agent) ApplyConfig(cfg *config.Config) {
	a.validation.SetThreshold(cfg.Agent.PivotThreshold)
	a.validation.SetConcurrency(cfg.Agent.BatchConcurrency)
	if err := a.validation.SetUnknownLabelPolicy(cfg.Agent.UnknownLabelPolicy); err != nil {
		a.logger.Warn("ignoring unknown label policy", zap.Error(err))
	}
	a.logger.Info("applied configuration",
		zap.Float64("pivot_threshold", cfg.Agent.PivotThreshold),
		zap.Int("batch_concurrency", cfg.Agent.BatchConcurrency),
		zap.String("unknown_label_policy", cfg.Agent.UnknownLabelPolicy))
}

// Shutdown stops the background units and releases every connection.
func (a *Agent) Shutdown() {
	a.shutdownOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.bridge != nil {
			a.bridge.Close()
		}
		a.wg.Wait()
		if a.events != nil {
			a.events.Close()
		}
		if a.searches != nil {
			a.searches.Close()
		}
		if a.messageBus != nil {
			_ = a.messageBus.Close()
		}
		if a.redis != nil {
			_ = a.redis.Close()
		}
		if a.database != nil {
			_ = a.database.Close()
		}
	})
}

// Ingest accepts a product description, creating or evolving the strategy.
func (a *Agent) Ingest(ctx context.Context, description string) (*models.Strategy, error) {
	return a.strategies.Ingest(ctx, description)
}

// EvolveLatest evolves the latest strategy.
func (a *Agent) EvolveLatest(ctx context.Context) (*models.Strategy, error) {
	latest, err := a.strategies.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return a.strategies.Evolve(ctx, latest)
}

// LatestStrategy returns the current strategy.
func (a *Agent) LatestStrategy(ctx context.Context) (*models.Strategy, error) {
	return a.strategies.Latest(ctx)
}

// Strategy returns one stored version.
func (a *Agent) Strategy(ctx context.Context, version int) (*models.Strategy, error) {
	return a.strategies.Get(ctx, version)
}

// Strategies returns the version chain, oldest first.
func (a *Agent) Strategies(ctx context.Context) ([]*models.Strategy, error) {
	return a.strategies.Chain(ctx)
}

// Validate runs a classification batch and the pivot check.
func (a *Agent) Validate(ctx context.Context, req validation.ValidateRequest) (*validation.ValidationReport, error) {
	return a.validation.Validate(ctx, req)
}

// HandleSignal feeds a manually submitted status report to the scout.
func (a *Agent) HandleSignal(ctx context.Context, sig scout.Signal) (*scout.Reaction, error) {
	if sig.Source == "" {
		sig.Source = "api"
	}
	return a.scout.Handle(ctx, sig)
}

// ScoutState returns the last known state per competitor.
func (a *Agent) ScoutState(ctx context.Context) (map[string]scout.State, error) {
	return a.states.Snapshot(ctx)
}

// Companies lists every lead.
func (a *Agent) Companies(ctx context.Context) ([]*models.Company, error) {
	return a.database.ListCompanies(ctx)
}

// AddCompanies ingests leads and targets them with the latest strategy.
func (a *Agent) AddCompanies(ctx context.Context, companies []*models.Company) (int, error) {
	for _, c := range companies {
		if c == nil || c.Name == "" || c.Domain == "" {
			return 0, fmt.Errorf("%w: every company needs a name and a domain", faults.ErrInvalidInput)
		}
	}
	n, err := a.database.AddCompanies(ctx, companies)
	if err != nil {
		return 0, err
	}
	a.events.Publish(activity.EventCompaniesSeeded, map[string]any{"count": n, "source": "api"})
	return n, nil
}

// Seed loads the demo lead set.
func (a *Agent) Seed(ctx context.Context) (int, error) {
	n, err := a.database.SeedDemoCompanies(ctx)
	if err != nil {
		return 0, err
	}
	a.events.Publish(activity.EventCompaniesSeeded, map[string]any{"count": n, "source": "demo"})
	return n, nil
}

// Reset wipes the knowledge store and the scout memory.
func (a *Agent) Reset(ctx context.Context) (int, error) {
	deleted, err := a.database.Reset(ctx)
	if err != nil {
		return 0, err
	}
	if err := a.states.Clear(ctx); err != nil {
		a.logger.Warn("failed to clear scout state", zap.Error(err))
	}
	a.events.Publish(activity.EventGraphReset, map[string]any{"deleted": deleted})
	a.logger.Info("knowledge store reset", zap.Int("deleted", deleted))
	return deleted, nil
}

// Graph exports the knowledge graph.
func (a *Agent) Graph(ctx context.Context) (*models.Graph, error) {
	return a.database.FetchGraph(ctx)
}

// Lessons returns the most recent lessons.
func (a *Agent) Lessons(ctx context.Context, limit int) ([]*models.Lesson, error) {
	return a.database.ListLessons(ctx, limit)
}

// Pivots returns the most recent pivot audit records.
func (a *Agent) Pivots(ctx context.Context, limit int) ([]*models.PivotEvent, error) {
	return a.database.ListPivotEvents(ctx, limit)
}

// Health describes the agent and its dependencies.
type Health struct {
	Status     string          `json:"status"`
	Uptime     string          `json:"uptime"`
	Store      string          `json:"store"`
	Counts     database.Counts `json:"counts"`
	MessageBus string          `json:"message_bus,omitempty"`
	BusStats   map[string]any  `json:"message_bus_stats,omitempty"`
	StateStore string          `json:"state_store"`
	Threshold  float64         `json:"pivot_threshold"`
	Searches   *cache.Stats    `json:"search_cache,omitempty"`
}

// Health checks the store and the optional message bus.
func (a *Agent) Health(ctx context.Context) (*Health, error) {
	h := &Health{
		Status:     "ok",
		Uptime:     time.Since(a.startedAt).Round(time.Second).String(),
		Store:      a.database.Dialect(),
		StateStore: "memory",
		Threshold:  a.validation.Threshold(),
	}
	if a.redis != nil {
		h.StateStore = "redis"
	}
	counts, err := a.database.Counts(ctx)
	if err != nil {
		return nil, err
	}
	h.Counts = counts
	if a.searches != nil {
		h.Searches = a.searches.GetStats(ctx)
	}
	if a.messageBus != nil {
		if err := a.messageBus.Health(); err != nil {
			h.Status = "degraded"
			h.MessageBus = err.Error()
		} else {
			h.MessageBus = "ok"
		}
		h.BusStats = a.messageBus.Stats()
	}
	return h, nil
}

// Events returns the activity bus.
func (a *Agent) Events() *activity.Bus {
	return a.events
}

// Logs returns the in-memory log buffer.
func (a *Agent) Logs() *logging.Manager {
	return a.logManager
}
