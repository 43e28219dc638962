package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

// AddEvidence attaches a source to a company. Re-adding the same URL for the
// same company is a no-op and reports false.
func (d *Database) AddEvidence(ctx context.Context, e *models.Evidence) (bool, error) {
	if e == nil || strings.TrimSpace(e.SourceURL) == "" || e.CompanyDomain == "" {
		return false, fmt.Errorf("database: add evidence: %w: company and source url are required", faults.ErrInvalidInput)
	}
	if e.RetrievedAt.IsZero() {
		e.RetrievedAt = time.Now().UTC()
	}

	var id int64
	err := d.db.QueryRowContext(ctx, d.q(`
		INSERT INTO evidence (company_domain, source_url, summary, retrieved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (company_domain, source_url) DO NOTHING
		RETURNING id`),
		normalizeDomain(e.CompanyDomain), strings.TrimSpace(e.SourceURL), e.Summary, formatTime(e.RetrievedAt)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, d.wrap("add evidence", err)
	}
	e.ID = id
	return true, nil
}

// EvidenceFor lists a company's evidence, oldest first.
func (d *Database) EvidenceFor(ctx context.Context, domain string) ([]*models.Evidence, error) {
	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT id, company_domain, source_url, summary, retrieved_at
		FROM evidence WHERE company_domain = ? ORDER BY id ASC`), normalizeDomain(domain))
	if err != nil {
		return nil, d.wrap("list evidence", err)
	}
	defer rows.Close()

	var out []*models.Evidence
	for rows.Next() {
		var (
			e           models.Evidence
			retrievedAt string
		)
		if err := rows.Scan(&e.ID, &e.CompanyDomain, &e.SourceURL, &e.Summary, &retrievedAt); err != nil {
			return nil, d.wrap("scan evidence", err)
		}
		e.RetrievedAt = parseTime(retrievedAt)
		out = append(out, &e)
	}
	return out, d.wrap("iterate evidence", rows.Err())
}
