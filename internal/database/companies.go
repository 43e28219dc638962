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

const companyColumns = `domain, name, tech_stack_json, employees, funding, classification, updated_at`

// UpsertCompany inserts a company or refreshes its descriptive fields.
// The classification is never touched here.
func (d *Database) UpsertCompany(ctx context.Context, c *models.Company) error {
	return d.upsertCompany(ctx, d.db, c)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d *Database) upsertCompany(ctx context.Context, ex execer, c *models.Company) error {
	if c == nil || strings.TrimSpace(c.Domain) == "" || strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("database: upsert company: %w: name and domain are required", faults.ErrInvalidInput)
	}
	domain := normalizeDomain(c.Domain)
	_, err := ex.ExecContext(ctx, d.q(`
		INSERT INTO companies (domain, name, tech_stack_json, employees, funding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain) DO UPDATE SET
			name = excluded.name,
			tech_stack_json = excluded.tech_stack_json,
			employees = excluded.employees,
			funding = excluded.funding,
			updated_at = excluded.updated_at`),
		domain, c.Name, encodeList(c.TechStack), nullInt(c.Employees), c.Funding, formatTime(time.Now()))
	if err != nil {
		return d.wrap("upsert company "+domain, err)
	}
	return nil
}

// AddCompanies ingests a batch of leads and links them to the latest
// strategy, if one exists, so they are picked up by the next validation run.
func (d *Database) AddCompanies(ctx context.Context, companies []*models.Company) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, d.wrap("begin add companies", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM strategies`).Scan(&latest); err != nil {
		return 0, d.wrap("read latest version", err)
	}

	for _, c := range companies {
		if err := d.upsertCompany(ctx, tx, c); err != nil {
			return 0, err
		}
		if latest.Valid {
			_, err := tx.ExecContext(ctx, d.q(`INSERT INTO strategy_targets (version, company_domain) VALUES (?, ?) ON CONFLICT DO NOTHING`),
				latest.Int64, normalizeDomain(c.Domain))
			if err != nil {
				return 0, d.wrap("target company", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, d.wrap("commit companies", err)
	}
	return len(companies), nil
}

// GetCompany returns one company, or faults.ErrNotFound.
func (d *Database) GetCompany(ctx context.Context, domain string) (*models.Company, error) {
	row := d.db.QueryRowContext(ctx, d.q(`SELECT `+companyColumns+` FROM companies WHERE domain = ?`), normalizeDomain(domain))
	c, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database: company %s: %w", domain, faults.ErrNotFound)
	}
	if err != nil {
		return nil, d.wrap("get company", err)
	}
	return c, nil
}

// ListCompanies returns every company ordered by name.
func (d *Database) ListCompanies(ctx context.Context) ([]*models.Company, error) {
	return d.queryCompanies(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY name ASC`)
}

// CompaniesForStrategy returns the companies a version targets. With
// unclassifiedOnly, companies that already carry a label are skipped.
func (d *Database) CompaniesForStrategy(ctx context.Context, version int, unclassifiedOnly bool) ([]*models.Company, error) {
	query := `SELECT c.domain, c.name, c.tech_stack_json, c.employees, c.funding, c.classification, c.updated_at
		FROM companies c
		JOIN strategy_targets t ON t.company_domain = c.domain
		WHERE t.version = ?`
	if unclassifiedOnly {
		query += ` AND c.classification IS NULL`
	}
	query += ` ORDER BY c.name ASC`
	return d.queryCompanies(ctx, d.q(query), version)
}

// CompaniesUsing returns companies whose tech stack mentions tech,
// case-insensitively, either as a whole entry or a substring of one.
func (d *Database) CompaniesUsing(ctx context.Context, tech string) ([]*models.Company, error) {
	all, err := d.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.Company
	for _, c := range all {
		if c.UsesTech(tech) {
			out = append(out, c)
		}
	}
	return out, nil
}

// SetClassification overwrites a company's label with a single UPDATE, so
// a reader never observes a partially written classification.
func (d *Database) SetClassification(ctx context.Context, domain string, label models.Classification) error {
	if _, err := models.ParseClassification(string(label)); err != nil {
		return fmt.Errorf("database: set classification: %w: %v", faults.ErrInvalidInput, err)
	}
	res, err := d.db.ExecContext(ctx, d.q(`UPDATE companies SET classification = ?, updated_at = ? WHERE domain = ?`),
		string(label), formatTime(time.Now()), normalizeDomain(domain))
	if err != nil {
		return d.wrap("set classification", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("database: company %s: %w", domain, faults.ErrNotFound)
	}
	return nil
}

// PromoteToStrike sets the label of every listed company to Strike in one
// transaction and returns the domains whose label changed. Companies that
// are already Strike are left alone. If any update fails nothing is
// promoted.
func (d *Database) PromoteToStrike(ctx context.Context, domains []string) ([]string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, d.wrap("begin promote", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	changed := []string{}
	for _, domain := range domains {
		domain = normalizeDomain(domain)
		res, err := tx.ExecContext(ctx, d.q(`UPDATE companies SET classification = ?, updated_at = ?
			WHERE domain = ? AND (classification IS NULL OR classification <> ?)`),
			string(models.Strike), now, domain, string(models.Strike))
		if err != nil {
			return nil, d.wrap("promote "+domain, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, d.wrap("promote company rows", err)
		}
		if n > 0 {
			changed = append(changed, domain)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, d.wrap("commit promote", err)
	}
	return changed, nil
}

func (d *Database) queryCompanies(ctx context.Context, query string, args ...any) ([]*models.Company, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, d.wrap("query companies", err)
	}
	defer rows.Close()

	var out []*models.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, d.wrap("scan company", err)
		}
		out = append(out, c)
	}
	return out, d.wrap("iterate companies", rows.Err())
}

func scanCompany(row scanner) (*models.Company, error) {
	var (
		c              models.Company
		stack          string
		employees      sql.NullInt64
		classification sql.NullString
		updatedAt      string
	)
	if err := row.Scan(&c.Domain, &c.Name, &stack, &employees, &c.Funding, &classification, &updatedAt); err != nil {
		return nil, err
	}
	c.TechStack = decodeList(stack)
	c.Employees = intPtr(employees)
	if classification.Valid {
		label := models.Classification(classification.String)
		c.Classification = &label
	}
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}
