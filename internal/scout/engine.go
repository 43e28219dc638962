package scout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/activity"
	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/internal/metrics"
	"github.com/joaquinllenado/recurve-ai/internal/provider"
	"github.com/joaquinllenado/recurve-ai/internal/telemetry"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

// Store is the slice of the knowledge store the engine needs.
type Store interface {
	CompaniesUsing(ctx context.Context, tech string) ([]*models.Company, error)
	PromoteToStrike(ctx context.Context, domains []string) ([]string, error)
	LatestStrategy(ctx context.Context) (*models.Strategy, error)
	RecordPivotEvent(ctx context.Context, ev *models.PivotEvent) error
}

// Drafter writes outreach for a promoted lead.
type Drafter interface {
	DraftOutreach(ctx context.Context, in provider.OutreachInput) (*provider.Outreach, error)
}

// Signal is one competitor status report.
type Signal struct {
	Status     string `json:"status"`
	Competitor string `json:"competitor"`
	Source     string `json:"source,omitempty"`
}

// PromotedCompany identifies a lead moved to Strike.
type PromotedCompany struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Draft is outreach written for one promoted lead.
type Draft struct {
	Domain  string `json:"domain"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Reaction describes what Handle did with a signal.
type Reaction struct {
	Competitor      string            `json:"competitor"`
	Previous        State             `json:"previous"`
	Current         State             `json:"current"`
	Reacted         bool              `json:"reacted"`
	PromotedCount   int               `json:"promoted_count"`
	Promoted        []PromotedCompany `json:"promoted"`
	Drafts          []Draft           `json:"drafts,omitempty"`
	StrategyVersion *int              `json:"strategy_version,omitempty"`
}

// Engine is the competitor state machine. Side effects run only on the
// Operational to Critical edge.
type Engine struct {
	store   Store
	states  StateStore
	drafter Drafter
	events  activity.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEngine creates an engine. m and logger may be nil.
func NewEngine(store Store, states StateStore, drafter Drafter, events activity.Publisher, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   store,
		states:  states,
		drafter: drafter,
		events:  events,
		metrics: m,
		logger:  logger.Named("scout"),
	}
}

// States exposes the engine's state store.
func (e *Engine) States() StateStore {
	return e.states
}

// Handle applies a signal. Repeating a Critical signal is a no-op until the
// competitor has been seen Operational again.
func (e *Engine) Handle(ctx context.Context, sig Signal) (r *Reaction, err error) {
	competitor := strings.TrimSpace(sig.Competitor)
	if competitor == "" {
		return nil, fmt.Errorf("scout: %w: competitor is required", faults.ErrInvalidInput)
	}
	next := NormalizeStatus(sig.Status)

	ctx, span := telemetry.StartSpan(ctx, "scout.handle",
		attribute.String("competitor", competitor),
		attribute.String("status", string(next)))
	defer func() { telemetry.EndSpan(span, err) }()

	prev, err := e.states.Swap(ctx, competitor, next)
	if err != nil {
		return nil, err
	}
	r = &Reaction{Competitor: competitor, Previous: prev, Current: next, Promoted: []PromotedCompany{}}

	if prev == next || next != Critical {
		if prev != next {
			e.metrics.RecordScoutTransition(string(prev), string(next), stateKey(competitor), 0)
		}
		e.logger.Debug("signal without reaction",
			zap.String("competitor", competitor),
			zap.String("previous", string(prev)),
			zap.String("current", string(next)))
		return r, nil
	}

	e.logger.Info("competitor went critical",
		zap.String("competitor", competitor),
		zap.String("source", sig.Source))

	promoted, err := e.promote(ctx, competitor)
	if err != nil {
		// Put the old state back so a retried signal reacts again.
		if _, rbErr := e.states.Swap(context.WithoutCancel(ctx), competitor, prev); rbErr != nil {
			e.logger.Error("failed to roll back scout state", zap.String("competitor", competitor), zap.Error(rbErr))
		}
		e.events.Publish(activity.EventAgentError, map[string]any{
			"stage":      "scout",
			"kind":       faults.Kind(err),
			"competitor": competitor,
			"error":      err.Error(),
		})
		return nil, err
	}
	r.Reacted = true
	r.PromotedCount = len(promoted)
	for _, c := range promoted {
		r.Promoted = append(r.Promoted, PromotedCompany{Name: c.Name, Domain: c.Domain})
	}

	strategy := e.currentStrategy(ctx, competitor)
	if strategy != nil {
		r.StrategyVersion = models.IntPtr(strategy.Version)
		r.Drafts = e.draftAll(ctx, competitor, strategy, promoted)
	}

	promotedPayload := make([]map[string]any, 0, len(r.Promoted))
	for _, p := range r.Promoted {
		promotedPayload = append(promotedPayload, map[string]any{"name": p.Name, "domain": p.Domain})
	}
	var version any
	if r.StrategyVersion != nil {
		version = *r.StrategyVersion
	}
	e.events.Publish(activity.EventOutageReprioritized, map[string]any{
		"competitor":       competitor,
		"promotedCount":    r.PromotedCount,
		"promoted":         promotedPayload,
		"strategy_version": version,
	})

	if err := e.store.RecordPivotEvent(ctx, &models.PivotEvent{
		Kind:            models.PivotOutage,
		StrategyVersion: r.StrategyVersion,
		Competitor:      competitor,
		Details:         fmt.Sprintf("%s reported a critical outage; promoted %d companies to Strike", competitor, r.PromotedCount),
	}); err != nil {
		e.logger.Warn("failed to record outage pivot", zap.Error(err))
	}

	e.metrics.RecordScoutTransition(string(prev), string(next), stateKey(competitor), r.PromotedCount)
	telemetry.AddScoutReaction(ctx, stateKey(competitor), r.PromotedCount)
	return r, nil
}

// promote moves every lead running on competitor to Strike and returns
// the ones that changed. The store promotes all of them or none, so a
// failed attempt leaves every lead for the retry.
func (e *Engine) promote(ctx context.Context, competitor string) ([]*models.Company, error) {
	companies, err := e.store.CompaniesUsing(ctx, competitor)
	if err != nil {
		return nil, fmt.Errorf("scout: find companies using %s: %w", competitor, err)
	}
	if len(companies) == 0 {
		return nil, nil
	}
	domains := make([]string, 0, len(companies))
	for _, c := range companies {
		domains = append(domains, c.Domain)
	}
	changed, err := e.store.PromoteToStrike(ctx, domains)
	if err != nil {
		return nil, fmt.Errorf("scout: promote leads using %s: %w", competitor, err)
	}
	isChanged := make(map[string]bool, len(changed))
	for _, d := range changed {
		isChanged[strings.ToLower(d)] = true
	}
	var promoted []*models.Company
	for _, c := range companies {
		if isChanged[strings.ToLower(c.Domain)] {
			promoted = append(promoted, c)
		}
	}
	return promoted, nil
}

func (e *Engine) currentStrategy(ctx context.Context, competitor string) *models.Strategy {
	strategy, err := e.store.LatestStrategy(ctx)
	if err == nil {
		return strategy
	}
	msg := err.Error()
	if errors.Is(err, faults.ErrNotFound) {
		msg = "no strategy exists yet; outreach drafting skipped"
	}
	e.events.Publish(activity.EventAgentError, map[string]any{
		"stage":      "draft",
		"kind":       faults.Kind(err),
		"competitor": competitor,
		"error":      msg,
	})
	return nil
}

func (e *Engine) draftAll(ctx context.Context, competitor string, strategy *models.Strategy, companies []*models.Company) []Draft {
	var drafts []Draft
	strategyContext := fmt.Sprintf("ICP: %s\nKeywords: %s\nProduct: %s",
		strategy.ICP, strings.Join(strategy.Keywords, ", "), strategy.ProductDescription)
	trigger := fmt.Sprintf("%s is currently reporting a critical outage", competitor)

	for _, c := range companies {
		out, err := e.drafter.DraftOutreach(ctx, provider.OutreachInput{
			StrategyContext: strategyContext,
			CompanyContext:  c.Context(),
			TriggerContext:  trigger,
		})
		if err != nil {
			e.logger.Warn("outreach draft failed", zap.String("domain", c.Domain), zap.Error(err))
			e.events.Publish(activity.EventAgentError, map[string]any{
				"stage":   "draft",
				"kind":    faults.Kind(err),
				"company": c.Name,
				"domain":  c.Domain,
				"error":   err.Error(),
			})
			continue
		}
		drafts = append(drafts, Draft{Domain: c.Domain, Subject: out.Subject, Body: out.Body})
		e.metrics.RecordDraft()
		e.events.Publish(activity.EventPivotEmailDrafted, map[string]any{
			"company": c.Name,
			"domain":  c.Domain,
			"subject": out.Subject,
			"body":    out.Body,
		})
	}
	return drafts
}
