// Package strategy owns the versioned strategy chain: initial generation
// from a product description and evolution from accumulated lessons.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/activity"
	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/internal/metrics"
	"github.com/joaquinllenado/recurve-ai/internal/provider"
	"github.com/joaquinllenado/recurve-ai/internal/research"
	"github.com/joaquinllenado/recurve-ai/internal/telemetry"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

// DefaultMaxDescription bounds product descriptions, in runes.
const DefaultMaxDescription = 4000

// Store is the slice of the knowledge store the manager needs.
type Store interface {
	LatestStrategy(ctx context.Context) (*models.Strategy, error)
	GetStrategy(ctx context.Context, version int) (*models.Strategy, error)
	ListStrategies(ctx context.Context) ([]*models.Strategy, error)
	InsertStrategy(ctx context.Context, s *models.Strategy, lessonIDs []string) (*models.Strategy, error)
	UnconsumedLessons(ctx context.Context, version int) ([]*models.Lesson, error)
}

// MarketResearcher supplies competitive context for generation.
type MarketResearcher interface {
	ResearchMarket(ctx context.Context, productDescription string) (*research.MarketResearch, error)
}

// Generator turns product, research and lessons into a strategy draft.
type Generator interface {
	GenerateStrategy(ctx context.Context, in provider.StrategyInput) (*provider.StrategyDraft, error)
}

// Manager runs the strategy lifecycle.
type Manager struct {
	store          Store
	research       MarketResearcher
	generator      Generator
	events         activity.Publisher
	metrics        *metrics.Metrics
	logger         *zap.Logger
	maxDescription int
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxDescription overrides DefaultMaxDescription.
func WithMaxDescription(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxDescription = n
		}
	}
}

// WithMetrics records strategy metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.Named("strategy")
		}
	}
}

// NewManager creates a strategy manager.
func NewManager(store Store, researcher MarketResearcher, generator Generator, events activity.Publisher, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		research:       researcher,
		generator:      generator,
		events:         events,
		logger:         zap.NewNop(),
		maxDescription: DefaultMaxDescription,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateInitial creates version 1 from a product description.
func (m *Manager) GenerateInitial(ctx context.Context, productDescription string) (*models.Strategy, error) {
	desc, err := m.validateDescription(productDescription)
	if err != nil {
		m.fail("generate", err)
		return nil, err
	}
	m.events.Publish(activity.EventProductReceived, map[string]any{
		"length":  utf8.RuneCountInString(desc),
		"preview": preview(desc, 200),
	})
	return m.synthesize(ctx, desc, nil, "initial")
}

// Evolve creates previous.Version+1, learning from the lessons produced
// under previous that no strategy has consumed yet.
func (m *Manager) Evolve(ctx context.Context, previous *models.Strategy) (*models.Strategy, error) {
	if previous == nil {
		err := fmt.Errorf("evolve: %w: no previous strategy", faults.ErrInvalidInput)
		m.fail("evolve", err)
		return nil, err
	}
	return m.synthesize(ctx, previous.ProductDescription, previous, "evolve")
}

// Ingest is the single entry point for a product description: it creates
// version 1 when the chain is empty and evolves the latest version with
// the new description otherwise.
func (m *Manager) Ingest(ctx context.Context, productDescription string) (*models.Strategy, error) {
	desc, err := m.validateDescription(productDescription)
	if err != nil {
		m.fail("ingest", err)
		return nil, err
	}

	latest, err := m.store.LatestStrategy(ctx)
	if errors.Is(err, faults.ErrNotFound) {
		return m.GenerateInitial(ctx, desc)
	}
	if err != nil {
		m.fail("ingest", err)
		return nil, err
	}

	m.events.Publish(activity.EventProductReceived, map[string]any{
		"length":       utf8.RuneCountInString(desc),
		"preview":      preview(desc, 200),
		"base_version": latest.Version,
	})
	return m.synthesize(ctx, desc, latest, "ingest")
}

// Latest returns the newest strategy, or faults.ErrNotFound.
func (m *Manager) Latest(ctx context.Context) (*models.Strategy, error) {
	return m.store.LatestStrategy(ctx)
}

// Get returns one version, or faults.ErrNotFound.
func (m *Manager) Get(ctx context.Context, version int) (*models.Strategy, error) {
	return m.store.GetStrategy(ctx, version)
}

// Chain returns every version, oldest first.
func (m *Manager) Chain(ctx context.Context) ([]*models.Strategy, error) {
	return m.store.ListStrategies(ctx)
}

func (m *Manager) synthesize(ctx context.Context, desc string, previous *models.Strategy, trigger string) (out *models.Strategy, err error) {
	stage := "generate"
	if previous != nil {
		stage = "evolve"
	}
	ctx, span := telemetry.StartSpan(ctx, "strategy."+stage, attribute.String("trigger", trigger))
	defer func() {
		telemetry.EndSpan(span, err)
		if err != nil {
			m.fail(stage, err)
		}
	}()

	var lessons []*models.Lesson
	if previous != nil {
		lessons, err = m.store.UnconsumedLessons(ctx, previous.Version)
		if err != nil {
			return nil, fmt.Errorf("collect lessons for v%d: %w", previous.Version, err)
		}
	}

	m.events.Publish(activity.EventMarketResearchStarted, map[string]any{"preview": preview(desc, 120)})
	market, err := m.research.ResearchMarket(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("market research: %w", err)
	}
	m.events.Publish(activity.EventMarketResearchDone, map[string]any{
		"competitors": len(market.Competitors),
		"pricing":     len(market.PricingInsights),
		"complaints":  len(market.Complaints),
	})

	draft, err := m.generator.GenerateStrategy(ctx, provider.StrategyInput{
		ProductDescription: desc,
		MarketResearch:     market,
		Lessons:            lessons,
	})
	if err != nil {
		return nil, fmt.Errorf("generate strategy: %w", err)
	}
	m.events.Publish(activity.EventStrategyGenerated, map[string]any{
		"icp":         draft.ICP,
		"keywords":    draft.Keywords,
		"competitors": draft.Competitors,
	})

	candidate := &models.Strategy{
		ProductDescription: desc,
		ICP:                draft.ICP,
		Keywords:           draft.Keywords,
		Competitors:        draft.Competitors,
		CreatedAt:          time.Now().UTC(),
	}
	lessonIDs := make([]string, 0, len(lessons))
	if previous != nil {
		candidate.EvolvedFrom = models.IntPtr(previous.Version)
		for _, l := range lessons {
			lessonIDs = append(lessonIDs, l.LessonID)
		}
	}

	stored, err := m.store.InsertStrategy(ctx, candidate, lessonIDs)
	if err != nil {
		return nil, fmt.Errorf("store strategy: %w", err)
	}

	payload := map[string]any{
		"version":     stored.Version,
		"icp_preview": stored.Preview(),
		"keywords":    stored.Keywords,
	}
	if previous != nil {
		payload["evolved_from"] = previous.Version
		payload["lessons_used"] = len(lessonIDs)
	}
	m.events.Publish(activity.EventStrategyStored, payload)

	m.metrics.RecordStrategy(stored.Version, trigger)
	telemetry.AddStrategyEvolution(ctx, trigger)
	m.logger.Info("strategy stored",
		zap.Int("version", stored.Version),
		zap.String("trigger", trigger),
		zap.Int("lessons_used", len(lessonIDs)))
	return stored, nil
}

func (m *Manager) validateDescription(raw string) (string, error) {
	desc := strings.TrimSpace(raw)
	if desc == "" {
		return "", fmt.Errorf("product description: %w: empty", faults.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(desc); n > m.maxDescription {
		return "", fmt.Errorf("product description: %w: %d characters exceeds limit of %d",
			faults.ErrInvalidInput, n, m.maxDescription)
	}
	return desc, nil
}

func (m *Manager) fail(stage string, err error) {
	kind := faults.Kind(err)
	m.metrics.RecordStrategyError(kind)
	m.logger.Warn("strategy operation failed", zap.String("stage", stage), zap.Error(err))
	m.events.Publish(activity.EventAgentError, map[string]any{
		"stage": stage,
		"kind":  kind,
		"error": err.Error(),
	})
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
