package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joaquinllenado/recurve-ai/internal/activity"
	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/internal/metrics"
	"github.com/joaquinllenado/recurve-ai/internal/provider"
	"github.com/joaquinllenado/recurve-ai/internal/research"
	"github.com/joaquinllenado/recurve-ai/internal/telemetry"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

// Label policies for classifier output outside the closed label set.
const (
	PolicyFail    = "fail"
	PolicyMonitor = "monitor"
)

const (
	noTriggerEvents  = "No recent trigger events detected from web research."
	maxTriggerSnips  = 3
	triggerSnipLimit = 120
)

// Store is the slice of the knowledge store the loop needs.
type Store interface {
	LatestStrategy(ctx context.Context) (*models.Strategy, error)
	GetStrategy(ctx context.Context, version int) (*models.Strategy, error)
	CompaniesForStrategy(ctx context.Context, version int, unclassifiedOnly bool) ([]*models.Company, error)
	SetClassification(ctx context.Context, domain string, label models.Classification) error
	AddEvidence(ctx context.Context, e *models.Evidence) (bool, error)
	CreateLesson(ctx context.Context, lesson *models.Lesson) error
	RecordPivotEvent(ctx context.Context, ev *models.PivotEvent) error
}

// FactChecker verifies a lead's claimed stack on the web.
type FactChecker interface {
	FactCheckLead(ctx context.Context, companyName string, claimedStack []string) (*research.FactCheck, error)
}

// Classifier labels a lead.
type Classifier interface {
	ClassifyLead(ctx context.Context, in provider.LeadInput) (string, error)
}

// Evolver produces the successor of a strategy.
type Evolver interface {
	Evolve(ctx context.Context, previous *models.Strategy) (*models.Strategy, error)
}

// SignalReader reports which competitors are currently in a critical state.
type SignalReader interface {
	CriticalCompetitors(ctx context.Context) ([]string, error)
}

// Config holds the loop's tunables.
type Config struct {
	PivotThreshold        float64
	BatchConcurrency      int
	SmallCompanyThreshold int
	UnknownLabelPolicy    string
	AutoPivot             bool
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		PivotThreshold:        DefaultPivotThreshold,
		BatchConcurrency:      4,
		SmallCompanyThreshold: 25,
		UnknownLabelPolicy:    PolicyFail,
		AutoPivot:             true,
	}
}

// Loop runs lead classification and the pivot check.
type Loop struct {
	store      Store
	facts      FactChecker
	classifier Classifier
	evolver    Evolver
	signals    SignalReader
	events     activity.Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger

	threshold   atomic.Uint64 // math.Float64bits
	concurrency atomic.Int32
	policy      atomic.Value // string
	smallLimit  int
	autoPivot   bool
}

// NewLoop wires a classification loop. signals, m and logger may be nil.
func NewLoop(store Store, facts FactChecker, classifier Classifier, evolver Evolver, signals SignalReader,
	events activity.Publisher, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		store:      store,
		facts:      facts,
		classifier: classifier,
		evolver:    evolver,
		signals:    signals,
		events:     events,
		metrics:    m,
		logger:     logger.Named("validation"),
		smallLimit: cfg.SmallCompanyThreshold,
		autoPivot:  cfg.AutoPivot,
	}
	l.SetThreshold(cfg.PivotThreshold)
	l.SetConcurrency(cfg.BatchConcurrency)
	if err := l.SetUnknownLabelPolicy(cfg.UnknownLabelPolicy); err != nil {
		l.policy.Store(PolicyFail)
	}
	return l
}

// SetThreshold changes the pivot threshold at runtime.
func (l *Loop) SetThreshold(t float64) {
	l.threshold.Store(math.Float64bits(t))
}

// Threshold returns the current pivot threshold.
func (l *Loop) Threshold() float64 {
	return math.Float64frombits(l.threshold.Load())
}

// SetConcurrency changes the batch parallelism for future batches.
func (l *Loop) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	l.concurrency.Store(int32(n))
}

// SetUnknownLabelPolicy selects how out-of-set labels are handled.
func (l *Loop) SetUnknownLabelPolicy(policy string) error {
	p := strings.ToLower(strings.TrimSpace(policy))
	switch p {
	case "":
		p = PolicyFail
	case PolicyFail, PolicyMonitor:
	default:
		return fmt.Errorf("%w: unknown label policy %q", faults.ErrInvalidInput, policy)
	}
	l.policy.Store(p)
	return nil
}

func (l *Loop) unknownLabelPolicy() string {
	return l.policy.Load().(string)
}

// LeadResult is the outcome of classifying one lead.
type LeadResult struct {
	Name           string                 `json:"name"`
	Domain         string                 `json:"domain"`
	Classification models.Classification  `json:"classification,omitempty"`
	Previous       *models.Classification `json:"previous,omitempty"`
	TriggerEvents  string                 `json:"trigger_events"`
	Mismatch       bool                   `json:"mismatch"`
	EvidenceAdded  int                    `json:"evidence_added"`
	Lesson         *models.Lesson         `json:"lesson,omitempty"`
	LessonError    string                 `json:"lesson_error,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// ClassifyLead fact-checks, classifies and records one lead. When the
// classifier's label is rejected the company keeps its prior label.
//
// A Disregard produces exactly one lesson. If the lesson cannot be
// written the classification stands, and both the result and the
// returned error say so.
func (l *Loop) ClassifyLead(ctx context.Context, company *models.Company, strategy *models.Strategy) (res *LeadResult, err error) {
	if company == nil || strategy == nil {
		return nil, fmt.Errorf("classify lead: %w: company and strategy are required", faults.ErrInvalidInput)
	}
	ctx, span := telemetry.StartSpan(ctx, "validation.classify_lead",
		attribute.String("domain", company.Domain),
		attribute.Int("strategy_version", strategy.Version))
	defer func() { telemetry.EndSpan(span, err) }()

	res = &LeadResult{Name: company.Name, Domain: company.Domain, Previous: company.Classification}

	fc, err := l.facts.FactCheckLead(ctx, company.Name, company.TechStack)
	if err != nil {
		return res, fmt.Errorf("fact check %s: %w", company.Domain, err)
	}
	res.Mismatch = fc.Mismatch

	for _, src := range fc.Sources {
		if strings.TrimSpace(src.URL) == "" {
			continue
		}
		added, err := l.store.AddEvidence(ctx, &models.Evidence{
			CompanyDomain: company.Domain,
			SourceURL:     src.URL,
			Summary:       src.Summary,
		})
		if err != nil {
			return res, fmt.Errorf("store evidence for %s: %w", company.Domain, err)
		}
		if added {
			res.EvidenceAdded++
		}
	}

	res.TriggerEvents = l.triggerEvents(ctx, company, fc)

	raw, err := l.classifier.ClassifyLead(ctx, provider.LeadInput{
		ProductDescription: strategy.ProductDescription,
		TriggerEvents:      res.TriggerEvents,
		CompanyContext:     company.Context(),
	})
	if err != nil {
		return res, fmt.Errorf("classify %s: %w", company.Domain, err)
	}

	label, perr := models.ParseClassification(raw)
	if perr != nil {
		if l.unknownLabelPolicy() != PolicyMonitor {
			return res, fmt.Errorf("classify %s: %w: %v", company.Domain, faults.ErrClassifierContractViolation, perr)
		}
		l.logger.Warn("classifier label outside closed set, using Monitor",
			zap.String("domain", company.Domain), zap.String("raw", raw))
		label = models.Monitor
	}

	if err := l.store.SetClassification(ctx, company.Domain, label); err != nil {
		return res, fmt.Errorf("write classification for %s: %w", company.Domain, err)
	}
	res.Classification = label
	l.metrics.RecordClassification(string(label))

	if label != models.Disregard {
		return res, nil
	}

	lesson := l.inferLesson(company, strategy, fc)
	if err := l.store.CreateLesson(ctx, lesson); err != nil {
		res.LessonError = err.Error()
		return res, fmt.Errorf("record lesson for %s: %w", company.Domain, err)
	}
	res.Lesson = lesson
	l.metrics.RecordLesson(string(lesson.Type))
	return res, nil
}

// triggerEvents builds the classifier's trigger field. A stack mismatch
// wins, then critical competitor outages, then evidence snippets.
func (l *Loop) triggerEvents(ctx context.Context, company *models.Company, fc *research.FactCheck) string {
	if fc.Mismatch && fc.MismatchDetails != "" {
		return fc.MismatchDetails
	}

	if l.signals != nil {
		critical, err := l.signals.CriticalCompetitors(ctx)
		if err != nil {
			l.logger.Warn("failed to read scout state", zap.Error(err))
		}
		var outages []string
		for _, competitor := range critical {
			if company.UsesTech(competitor) {
				outages = append(outages, fmt.Sprintf("Competitor %s currently reporting a critical outage", matchedEntry(company, competitor)))
			}
		}
		if len(outages) > 0 {
			return strings.Join(outages, "; ")
		}
	}

	var snippets []string
	for _, src := range fc.Sources {
		s := strings.TrimSpace(src.Summary)
		if s == "" {
			continue
		}
		snippets = append(snippets, truncate(s, triggerSnipLimit))
		if len(snippets) == maxTriggerSnips {
			break
		}
	}
	if len(snippets) > 0 {
		return strings.Join(snippets, " | ")
	}
	return noTriggerEvents
}

// matchedEntry returns the company's own spelling of a competitor.
func matchedEntry(company *models.Company, competitor string) string {
	needle := strings.ToLower(competitor)
	for _, t := range company.TechStack {
		if strings.Contains(strings.ToLower(t), needle) {
			return t
		}
	}
	return competitor
}

var lockInTerms = []string{"contract", "lock-in", "locked in", "multi-year", "enterprise agreement", "procurement"}

func (l *Loop) inferLesson(company *models.Company, strategy *models.Strategy, fc *research.FactCheck) *models.Lesson {
	lesson := &models.Lesson{SourceDomain: company.Domain}

	var evidence strings.Builder
	for _, src := range fc.Sources {
		evidence.WriteString(strings.ToLower(src.Summary))
		evidence.WriteByte(' ')
	}

	switch {
	case fc.Mismatch:
		lesson.Type = models.LessonTechStackMismatch
		lesson.Details = fmt.Sprintf("%s: %s", company.Name, fc.MismatchDetails)

	case company.Employees != nil && *company.Employees < l.smallLimit:
		lesson.Type = models.LessonCompanyTooSmall
		lesson.Details = fmt.Sprintf("%s has only %d employees (minimum %d)", company.Name, *company.Employees, l.smallLimit)

	case containsAny(evidence.String(), lockInTerms):
		lesson.Type = models.LessonContractLockIn
		lesson.Details = fmt.Sprintf("%s appears locked into an existing vendor contract", company.Name)

	case len(strategy.Keywords) > 0 && !overlapsKeywords(append(append([]string{}, company.TechStack...), fc.ActualTech...), strategy.Keywords):
		lesson.Type = models.LessonSegmentPivot
		lesson.Details = fmt.Sprintf("%s (%s) shares no technology with strategy v%d keywords [%s]",
			company.Name, strings.Join(company.TechStack, ", "), strategy.Version, strings.Join(strategy.Keywords, ", "))
		lesson.SourceVersion = models.IntPtr(strategy.Version)

	default:
		lesson.Type = models.LessonDisregard
		lesson.Details = fmt.Sprintf("%s was disregarded without a specific disqualifying signal", company.Name)
	}
	return lesson
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func overlapsKeywords(tech, keywords []string) bool {
	for _, t := range tech {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		for _, k := range keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			if strings.Contains(k, t) || strings.Contains(t, k) {
				return true
			}
		}
	}
	return false
}

// BatchOptions selects which targets a batch classifies.
type BatchOptions struct {
	Requeue bool     // include leads that already carry a label
	Domains []string // restrict to these targets
}

// BatchResult summarizes one batch. Total counts leads whose label was
// written.
type BatchResult struct {
	StrategyVersion int           `json:"strategy_version"`
	Strike          int           `json:"strike"`
	Monitor         int           `json:"monitor"`
	Disregard       int           `json:"disregard"`
	Total           int           `json:"total"`
	Failed          int           `json:"failed"`
	LessonsCreated  int           `json:"lessons_created"`
	LessonFailures  int           `json:"lesson_failures"`
	Results         []*LeadResult `json:"results"`
}

// Counts returns the batch tallies.
func (b *BatchResult) Counts() Counts {
	return Counts{Strike: b.Strike, Monitor: b.Monitor, Disregard: b.Disregard}
}

// RunBatch classifies the strategy's targets with bounded parallelism.
// A failing lead never cancels its siblings. Cancelling ctx stops new
// leads from starting; the partial result is returned with ctx's error.
func (l *Loop) RunBatch(ctx context.Context, strategy *models.Strategy, opts BatchOptions) (out *BatchResult, err error) {
	if strategy == nil {
		return nil, fmt.Errorf("run batch: %w: no strategy", faults.ErrInvalidInput)
	}
	ctx, span := telemetry.StartSpan(ctx, "validation.batch", attribute.Int("strategy_version", strategy.Version))
	start := time.Now()
	defer func() {
		telemetry.RecordBatchDuration(ctx, time.Since(start))
		telemetry.EndSpan(span, err)
	}()

	companies, err := l.store.CompaniesForStrategy(ctx, strategy.Version, !opts.Requeue)
	if err != nil {
		return nil, fmt.Errorf("load targets for v%d: %w", strategy.Version, err)
	}
	companies = filterDomains(companies, opts.Domains)

	out = &BatchResult{StrategyVersion: strategy.Version, Results: make([]*LeadResult, 0, len(companies))}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(int(l.concurrency.Load()))

	for _, company := range companies {
		if ctx.Err() != nil {
			break
		}
		company := company
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			l.events.Publish(activity.EventLeadValidating, map[string]any{
				"company": company.Name,
				"domain":  company.Domain,
			})

			res, err := l.ClassifyLead(ctx, company, strategy)

			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				out.Results = append(out.Results, res)
			}
			if res != nil && res.Classification != "" {
				l.tally(out, res)
			} else {
				out.Failed++
			}
			if err != nil {
				if res != nil {
					res.Error = err.Error()
				}
				l.leadFailed(company, err, res != nil && res.Classification != "")
			}
			return nil
		})
	}
	_ = g.Wait()

	l.logger.Info("batch complete",
		zap.Int("strategy_version", strategy.Version),
		zap.Int("total", out.Total),
		zap.Int("failed", out.Failed),
		zap.Duration("elapsed", time.Since(start)))

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (l *Loop) tally(out *BatchResult, res *LeadResult) {
	switch res.Classification {
	case models.Strike:
		out.Strike++
	case models.Monitor:
		out.Monitor++
	case models.Disregard:
		out.Disregard++
	}
	out.Total++
	if res.Lesson != nil {
		out.LessonsCreated++
	}
	if res.LessonError != "" {
		out.LessonFailures++
	}

	payload := map[string]any{
		"company":        res.Name,
		"domain":         res.Domain,
		"classification": string(res.Classification),
		"mismatch":       res.Mismatch,
	}
	if res.Lesson != nil {
		payload["lesson_type"] = string(res.Lesson.Type)
		payload["lesson_id"] = res.Lesson.LessonID
	}
	l.events.Publish(activity.EventLeadClassified, payload)
}

func (l *Loop) leadFailed(company *models.Company, err error, classified bool) {
	kind := faults.Kind(err)
	stage := "classify"
	if classified {
		stage = "lesson"
	} else {
		l.metrics.RecordLeadFailure(kind)
	}
	l.logger.Warn("lead failed",
		zap.String("domain", company.Domain),
		zap.String("stage", stage),
		zap.Error(err))
	l.events.Publish(activity.EventAgentError, map[string]any{
		"stage":   stage,
		"kind":    kind,
		"company": company.Name,
		"domain":  company.Domain,
		"error":   err.Error(),
	})
}

func filterDomains(companies []*models.Company, domains []string) []*models.Company {
	if len(domains) == 0 {
		return companies
	}
	want := make(map[string]bool, len(domains))
	for _, d := range domains {
		want[strings.ToLower(strings.TrimSpace(d))] = true
	}
	out := companies[:0]
	for _, c := range companies {
		if want[strings.ToLower(c.Domain)] {
			out = append(out, c)
		}
	}
	return out
}

// ValidateRequest selects what a validation run covers.
type ValidateRequest struct {
	Version *int     `json:"version,omitempty"` // nil validates the latest strategy
	Requeue bool     `json:"requeue,omitempty"`
	Domains []string `json:"domains,omitempty"`
}

// ValidationReport is the outcome of Validate.
type ValidationReport struct {
	StrategyVersion int          `json:"strategy_version"`
	Batch           *BatchResult `json:"batch"`
	Decision        Decision     `json:"decision"`
	Threshold       float64      `json:"threshold"`
	PivotTriggered  bool         `json:"pivot_triggered"`
	NewVersion      *int         `json:"new_version,omitempty"`
	PivotError      string       `json:"pivot_error,omitempty"`
}

// Validate classifies a strategy's targets, evaluates the disregard rate
// and, when it exceeds the threshold, evolves the strategy from the
// lessons just recorded.
func (l *Loop) Validate(ctx context.Context, req ValidateRequest) (report *ValidationReport, err error) {
	start := time.Now()

	var strategy *models.Strategy
	if req.Version != nil {
		strategy, err = l.store.GetStrategy(ctx, *req.Version)
	} else {
		strategy, err = l.store.LatestStrategy(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve strategy: %w", err)
	}

	batch, err := l.RunBatch(ctx, strategy, BatchOptions{Requeue: req.Requeue, Domains: req.Domains})
	if err != nil {
		return &ValidationReport{StrategyVersion: strategy.Version, Batch: batch}, err
	}

	threshold := l.Threshold()
	decision := Evaluate(batch.Counts(), threshold)
	report = &ValidationReport{
		StrategyVersion: strategy.Version,
		Batch:           batch,
		Decision:        decision,
		Threshold:       threshold,
	}
	pivot := decision.Triggered && l.autoPivot
	report.PivotTriggered = pivot
	l.metrics.RecordValidation(decision.Rate, decision.Defined, pivot, time.Since(start))

	var rate any
	if decision.Defined {
		rate = decision.Rate
	}
	l.events.Publish(activity.EventValidationComplete, map[string]any{
		"strategy_version": strategy.Version,
		"strike":           batch.Strike,
		"monitor":          batch.Monitor,
		"disregard":        batch.Disregard,
		"total":            batch.Total,
		"failed":           batch.Failed,
		"disregard_rate":   rate,
		"pivot_triggered":  pivot,
	})

	if !pivot {
		return report, nil
	}

	l.logger.Info("disregard rate above threshold, pivoting",
		zap.Int("strategy_version", strategy.Version),
		zap.Float64("disregard_rate", decision.Rate),
		zap.Float64("threshold", threshold))

	if err := l.store.RecordPivotEvent(ctx, &models.PivotEvent{
		Kind:            models.PivotThreshold,
		StrategyVersion: models.IntPtr(strategy.Version),
		Details: fmt.Sprintf("disregard rate %.2f exceeded threshold %.2f (%d of %d leads)",
			decision.Rate, threshold, batch.Disregard, batch.Total),
	}); err != nil {
		l.logger.Warn("failed to record pivot event", zap.Error(err))
	}

	next, err := l.evolver.Evolve(ctx, strategy)
	if err != nil {
		// The evolver reports its own agent_error.
		report.PivotError = err.Error()
		if !errors.Is(err, faults.ErrConcurrentEvolutionConflict) {
			l.logger.Error("pivot evolution failed", zap.Error(err))
		}
		return report, nil
	}
	report.NewVersion = models.IntPtr(next.Version)
	l.events.Publish(activity.EventStrategyPivotTriggered, map[string]any{
		"disregard_rate":   decision.Rate,
		"previous_version": strategy.Version,
		"new_version":      next.Version,
	})
	return report, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
