package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/internal/metrics"
	"github.com/joaquinllenado/recurve-ai/internal/research"
	"github.com/joaquinllenado/recurve-ai/internal/telemetry"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

const collaboratorName = "model"

// StrategyInput is what the model sees when generating a strategy.
type StrategyInput struct {
	ProductDescription string
	MarketResearch     *research.MarketResearch
	Lessons            []*models.Lesson
}

// StrategyDraft is a generated, not yet stored, strategy.
type StrategyDraft struct {
	ICP         string   `json:"icp"`
	Keywords    []string `json:"keywords"`
	Competitors []string `json:"competitors"`
}

// LeadInput carries the three labeled fields the classifier was tuned on.
type LeadInput struct {
	ProductDescription string
	TriggerEvents      string
	CompanyContext     string
}

// Prompt renders the classifier input.
func (in LeadInput) Prompt() string {
	return fmt.Sprintf("Product/Service Description: %s\nTrigger Events: %s\nCompany Context: %s",
		in.ProductDescription, in.TriggerEvents, in.CompanyContext)
}

// OutreachInput describes the email to draft.
type OutreachInput struct {
	StrategyContext string
	CompanyContext  string
	TriggerContext  string
}

// Outreach is a drafted email.
type Outreach struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Options tunes requests sent by the SLM adapter.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// SLM turns the agent's tasks into chat requests against a Protocol.
type SLM struct {
	protocol Protocol
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewSLM creates the model adapter.
func NewSLM(protocol Protocol, opts Options, m *metrics.Metrics, logger *zap.Logger) *SLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &SLM{
		protocol: protocol,
		opts:     opts,
		metrics:  m,
		logger:   logger.Named("provider"),
	}
}

// GenerateStrategy produces an ICP, keywords and competitors. When lessons
// are present the refine prompt is used.
func (s *SLM) GenerateStrategy(ctx context.Context, in StrategyInput) (*StrategyDraft, error) {
	marketJSON, err := json.MarshalIndent(in.MarketResearch, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode market research: %w", err)
	}

	system := strategySystemPrompt
	user := fmt.Sprintf("Product: %s\n\nMarket research:\n%s", in.ProductDescription, marketJSON)
	if len(in.Lessons) > 0 {
		system = refineSystemPrompt
		lines := make([]string, 0, len(in.Lessons))
		for _, l := range in.Lessons {
			lines = append(lines, l.PromptLine())
		}
		user += "\n\nLessons from previous rounds:\n" + strings.Join(lines, "\n")
	}

	raw, err := s.complete(ctx, "generate_strategy", system, user, s.opts.MaxTokens)
	if err != nil {
		return nil, err
	}
	return parseStrategyDraft(raw)
}

// ClassifyLead returns the raw label produced by the classifier. Callers
// validate it against the closed label set.
func (s *SLM) ClassifyLead(ctx context.Context, in LeadInput) (string, error) {
	raw, err := s.complete(ctx, "classify_lead", classifySystemPrompt, in.Prompt(), 20)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// DraftOutreach writes an email for a company affected by a trigger event.
func (s *SLM) DraftOutreach(ctx context.Context, in OutreachInput) (*Outreach, error) {
	user := fmt.Sprintf("Trigger event: %s\n\nTarget company: %s\n\nOur strategy: %s",
		in.TriggerContext, in.CompanyContext, in.StrategyContext)
	raw, err := s.complete(ctx, "draft_outreach", outreachSystemPrompt, user, 500)
	if err != nil {
		return nil, err
	}
	return parseOutreach(raw)
}

func (s *SLM) complete(ctx context.Context, operation, system, user string, maxTokens int) (content string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "provider."+operation,
		attribute.String("model", s.opts.Model))
	start := time.Now()
	defer func() {
		s.metrics.RecordCollaboratorCall(collaboratorName, operation, err == nil, time.Since(start))
		telemetry.EndSpan(span, err)
	}()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	resp, err := s.protocol.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model: s.opts.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: s.opts.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", faults.Timeout(collaboratorName, ctx.Err())
		}
		return "", fmt.Errorf("%s: %w", operation, err)
	}

	content = stripThinking(resp.Content())
	s.logger.Debug("model call complete",
		zap.String("operation", operation),
		zap.Int("chars", len(content)),
		zap.Duration("elapsed", time.Since(start)))
	return content, nil
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinking drops reasoning blocks some models prepend to their answer.
func stripThinking(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}

// extractJSON removes markdown fences around a JSON payload.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	return strings.TrimSpace(text)
}

func parseStrategyDraft(raw string) (*StrategyDraft, error) {
	var parsed struct {
		ICP         *string   `json:"icp"`
		Keywords    *[]string `json:"keywords"`
		Competitors *[]string `json:"competitors"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: strategy is not valid JSON: %v", faults.ErrMalformedModelOutput, err)
	}
	if parsed.ICP == nil || strings.TrimSpace(*parsed.ICP) == "" {
		return nil, fmt.Errorf("%w: strategy has no icp", faults.ErrMalformedModelOutput)
	}
	if parsed.Keywords == nil || parsed.Competitors == nil {
		return nil, fmt.Errorf("%w: strategy must list keywords and competitors", faults.ErrMalformedModelOutput)
	}
	return &StrategyDraft{
		ICP:         strings.TrimSpace(*parsed.ICP),
		Keywords:    orderedSet(*parsed.Keywords),
		Competitors: orderedSet(*parsed.Competitors),
	}, nil
}

func parseOutreach(raw string) (*Outreach, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty outreach draft", faults.ErrMalformedModelOutput)
	}
	var out Outreach
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err == nil && strings.TrimSpace(out.Body) != "" {
		if strings.TrimSpace(out.Subject) == "" {
			out.Subject = defaultOutreachSubject
		}
		return &out, nil
	}
	return &Outreach{Subject: defaultOutreachSubject, Body: text}, nil
}

// orderedSet trims entries and drops blanks and case-insensitive
// duplicates, keeping first occurrence order.
func orderedSet(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if it == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}
