// Package research gathers web evidence about markets and leads.
package research

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/internal/metrics"
	"github.com/joaquinllenado/recurve-ai/internal/telemetry"
)

const (
	collaboratorName = "research"
	summaryLimit     = 300
)

// CompetitorInfo is a competitor surfaced by market research.
type CompetitorInfo struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// MarketResearch is the competitive landscape for a product.
type MarketResearch struct {
	Competitors     []CompetitorInfo `json:"competitors"`
	PricingInsights []string         `json:"pricing_insights"`
	Complaints      []string         `json:"complaints"`
}

// Source is one web page consulted during a fact check.
type Source struct {
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// FactCheck compares a lead's claimed stack with what the web says.
type FactCheck struct {
	ActualTech      []string `json:"actual_tech"`
	Sources         []Source `json:"sources"`
	Mismatch        bool     `json:"mismatch"`
	MismatchDetails string   `json:"mismatch_details,omitempty"`
}

// Collector is the evidence collector used by the strategy and
// classification components.
type Collector struct {
	searcher Searcher
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewCollector wraps a Searcher. A zero timeout disables the per-call deadline.
func NewCollector(searcher Searcher, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		searcher: searcher,
		timeout:  timeout,
		metrics:  m,
		logger:   logger.Named("research"),
	}
}

// ResearchMarket runs the competitor, pricing and complaint searches for a
// product description.
func (c *Collector) ResearchMarket(ctx context.Context, productDescription string) (out *MarketResearch, err error) {
	ctx, span := telemetry.StartSpan(ctx, "research.market")
	start := time.Now()
	defer func() {
		c.metrics.RecordCollaboratorCall(collaboratorName, "market", err == nil, time.Since(start))
		telemetry.EndSpan(span, err)
	}()

	competitors, err := c.search(ctx, SearchRequest{
		Query:      "competitors to: " + productDescription,
		Depth:      DepthAdvanced,
		MaxResults: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("competitor search: %w", err)
	}
	pricing, err := c.search(ctx, SearchRequest{
		Query:      productDescription + " pricing comparison 2026",
		Depth:      DepthBasic,
		MaxResults: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("pricing search: %w", err)
	}
	complaints, err := c.search(ctx, SearchRequest{
		Query:      productDescription + " complaints problems switching 2026",
		Depth:      DepthBasic,
		MaxResults: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("complaints search: %w", err)
	}

	out = &MarketResearch{
		Competitors:     make([]CompetitorInfo, 0, len(competitors)),
		PricingInsights: make([]string, 0, len(pricing)),
		Complaints:      make([]string, 0, len(complaints)),
	}
	for _, r := range competitors {
		out.Competitors = append(out.Competitors, CompetitorInfo{
			Name:    r.Title,
			URL:     r.URL,
			Summary: truncate(r.Content, summaryLimit),
		})
	}
	for _, r := range pricing {
		out.PricingInsights = append(out.PricingInsights, truncate(r.Content, summaryLimit))
	}
	for _, r := range complaints {
		out.Complaints = append(out.Complaints, truncate(r.Content, summaryLimit))
	}

	c.logger.Debug("market research complete",
		zap.Int("competitors", len(out.Competitors)),
		zap.Int("pricing", len(out.PricingInsights)),
		zap.Int("complaints", len(out.Complaints)))
	return out, nil
}

// FactCheckLead searches for a company's engineering stack and compares it
// with the claimed one.
func (c *Collector) FactCheckLead(ctx context.Context, companyName string, claimedStack []string) (out *FactCheck, err error) {
	ctx, span := telemetry.StartSpan(ctx, "research.fact_check",
		attribute.String("company", companyName))
	start := time.Now()
	defer func() {
		c.metrics.RecordCollaboratorCall(collaboratorName, "fact_check", err == nil, time.Since(start))
		telemetry.EndSpan(span, err)
	}()

	results, err := c.search(ctx, SearchRequest{
		Query:      companyName + " engineering tech stack infrastructure 2026",
		Depth:      DepthAdvanced,
		MaxResults: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("fact check %s: %w", companyName, err)
	}

	var text string
	out = &FactCheck{Sources: make([]Source, 0, len(results))}
	for _, r := range results {
		text += " " + r.Content
		out.Sources = append(out.Sources, Source{
			URL:     r.URL,
			Summary: truncate(r.Content, summaryLimit),
		})
	}
	out.ActualTech = ExtractTech(text)
	out.Mismatch, out.MismatchDetails = detectMismatch(claimedStack, out.ActualTech)

	if out.Mismatch {
		c.logger.Info("stack mismatch",
			zap.String("company", companyName),
			zap.String("details", out.MismatchDetails))
	}
	return out, nil
}

func (c *Collector) search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	results, err := c.searcher.Search(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, faults.Timeout(collaboratorName, ctx.Err())
		}
		return nil, err
	}
	return results, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
