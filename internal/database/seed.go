package database

import (
	"context"
	"fmt"

	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

type seedCompany struct {
	name      string
	domain    string
	stack     []string
	employees int
	funding   string
	evidence  string
	summary   string
}

var demoCompanies = []seedCompany{
	{"GitLab", "gitlab.com", []string{"Postgres", "Kubernetes", "GCP"}, 2000, "Public",
		"https://about.gitlab.com/handbook/engineering/", "GitLab engineering handbook landing page."},
	{"Sentry", "sentry.io", []string{"Python", "Postgres", "Kubernetes", "AWS"}, 700, "Series E",
		"https://sentry.io/about/", "Sentry public about page."},
	{"LaunchDarkly", "launchdarkly.com", []string{"Go", "Postgres", "AWS", "Terraform"}, 650, "Series D",
		"https://launchdarkly.com/blog/", "LaunchDarkly blog landing page."},
	{"Retool", "retool.com", []string{"TypeScript", "Postgres", "AWS"}, 500, "Series C",
		"https://retool.com/blog/", "Retool blog landing page."},
	{"PostHog", "posthog.com", []string{"TypeScript", "Postgres", "Kubernetes"}, 200, "Series B",
		"https://posthog.com/blog", "PostHog blog landing page."},
	{"Vercel", "vercel.com", []string{"TypeScript", "Postgres", "Multi-cloud"}, 500, "Series D",
		"https://vercel.com/blog", "Vercel blog landing page."},
	{"Plausible Analytics", "plausible.io", []string{"Elixir", "Postgres", "DigitalOcean"}, 20, "Bootstrapped",
		"https://plausible.io/blog", "Small team with a minimal infrastructure footprint."},
	{"Oracle", "oracle.com", []string{"Java", "Oracle DB", "On-prem"}, 160000, "Public",
		"https://www.oracle.com/database/", "Legacy enterprise database vendor with long procurement cycles."},
	{"Fathom Analytics", "usefathom.com", []string{"Go", "Postgres", "Single-region"}, 15, "Bootstrapped",
		"https://usefathom.com/blog", "Small bootstrapped analytics company."},
	{"MongoDB", "mongodb.com", []string{"MongoDB", "Atlas", "Multi-cloud"}, 6000, "Public",
		"https://www.mongodb.com/products/platform", "MongoDB-first platform."},
	{"Plaid", "plaid.com", []string{"Go", "Postgres", "AWS"}, 1000, "Series D",
		"https://plaid.com/blog/", "Plaid blog landing page."},
	{"Twilio Segment", "segment.com", []string{"TypeScript", "Postgres", "AWS"}, 600, "Acquired",
		"https://segment.com/blog/", "Segment blog landing page."},
	{"Fivetran", "fivetran.com", []string{"Java", "Postgres", "GCP", "Kubernetes"}, 1200, "Series D",
		"https://www.fivetran.com/blog", "Fivetran blog landing page."},
	{"Databricks", "databricks.com", []string{"Spark", "Kubernetes", "AWS", "Azure", "GCP"}, 6000, "Late-stage",
		"https://www.databricks.com/blog", "Databricks blog landing page."},
	{"Stripe", "stripe.com", []string{"Ruby", "Java", "Postgres", "AWS"}, 8000, "Private",
		"https://stripe.com/blog", "Stripe blog landing page."},
	{"Cloudflare", "cloudflare.com", []string{"Rust", "Go", "Postgres", "Multi-cloud"}, 4000, "Public",
		"https://blog.cloudflare.com/", "Cloudflare blog landing page."},
	{"Airtable", "airtable.com", []string{"TypeScript", "Postgres", "AWS"}, 1200, "Series F",
		"https://airtable.com/blog", "Airtable blog landing page."},
	{"Notion", "notion.so", []string{"TypeScript", "Postgres", "AWS"}, 800, "Series C",
		"https://www.notion.so/blog", "Notion blog landing page."},
	{"Mux", "mux.com", []string{"Go", "Postgres", "AWS"}, 400, "Series D",
		"https://mux.com/blog", "Mux blog landing page."},
	{"Render", "render.com", []string{"Go", "Postgres", "AWS"}, 150, "Series B",
		"https://render.com/blog", "Render blog landing page."},
}

// SeedDemoCompanies loads the demo lead set with one evidence source each.
// Existing companies are refreshed, and evidence is deduplicated by URL.
func (d *Database) SeedDemoCompanies(ctx context.Context) (int, error) {
	companies := make([]*models.Company, 0, len(demoCompanies))
	for _, s := range demoCompanies {
		companies = append(companies, &models.Company{
			Name:      s.name,
			Domain:    s.domain,
			TechStack: s.stack,
			Employees: models.IntPtr(s.employees),
			Funding:   s.funding,
		})
	}
	n, err := d.AddCompanies(ctx, companies)
	if err != nil {
		return 0, err
	}
	for _, s := range demoCompanies {
		if _, err := d.AddEvidence(ctx, &models.Evidence{CompanyDomain: s.domain, SourceURL: s.evidence, Summary: s.summary}); err != nil {
			return 0, fmt.Errorf("database: seed evidence for %s: %w", s.domain, err)
		}
	}
	return n, nil
}
