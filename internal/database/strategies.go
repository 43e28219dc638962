package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

const strategyColumns = `version, product_description, icp, keywords_json, competitors_json, evolved_from, created_at`

// InsertStrategy stores s as the successor of s.EvolvedFrom (or as version 1
// when EvolvedFrom is nil). In one transaction it links the new version to
// every known company and to the consumed lessons.
//
// The insert fails with faults.ErrConcurrentEvolutionConflict when the
// expected predecessor is no longer the latest version, when the version
// already exists, or when any lesson was consumed by another strategy.
// linkTargetsQuery targets every known company. PostgreSQL types an
// untyped parameter in a select list as text, so the version is cast.
const linkTargetsQuery = `INSERT INTO strategy_targets (version, company_domain)
	SELECT CAST(? AS INTEGER), domain FROM companies`

func (d *Database) InsertStrategy(ctx context.Context, s *models.Strategy, lessonIDs []string) (*models.Strategy, error) {
	if s == nil {
		return nil, fmt.Errorf("database: insert strategy: %w: nil strategy", faults.ErrInvalidInput)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, d.wrap("begin insert strategy", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM strategies`).Scan(&latest); err != nil {
		return nil, d.wrap("read latest version", err)
	}

	expected := 0
	if s.EvolvedFrom != nil {
		expected = *s.EvolvedFrom
	}
	if int(latest.Int64) != expected {
		return nil, fmt.Errorf("database: insert strategy: %w: expected latest v%d, found v%d",
			faults.ErrConcurrentEvolutionConflict, expected, latest.Int64)
	}

	out := *s
	out.Version = expected + 1
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	if out.Competitors == nil {
		out.Competitors = []string{}
	}

	_, err = tx.ExecContext(ctx, d.q(`INSERT INTO strategies (`+strategyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		out.Version, out.ProductDescription, out.ICP, encodeList(out.Keywords), encodeList(out.Competitors),
		nullInt(out.EvolvedFrom), formatTime(out.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("database: insert strategy v%d: %w", out.Version, faults.ErrConcurrentEvolutionConflict)
		}
		return nil, d.wrap("insert strategy", err)
	}

	if _, err := tx.ExecContext(ctx, d.q(linkTargetsQuery), out.Version); err != nil {
		return nil, d.wrap("link strategy targets", err)
	}

	for _, id := range lessonIDs {
		if _, err := tx.ExecContext(ctx, d.q(`INSERT INTO strategy_lessons (version, lesson_id) VALUES (?, ?)`), out.Version, id); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("database: lesson %s already consumed: %w", id, faults.ErrConcurrentEvolutionConflict)
			}
			return nil, d.wrap("link strategy lesson", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("database: commit strategy v%d: %w", out.Version, faults.ErrConcurrentEvolutionConflict)
		}
		return nil, d.wrap("commit strategy", err)
	}
	return &out, nil
}

// LatestStrategy returns the highest version, or faults.ErrNotFound.
func (d *Database) LatestStrategy(ctx context.Context) (*models.Strategy, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies ORDER BY version DESC LIMIT 1`)
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database: no strategy: %w", faults.ErrNotFound)
	}
	if err != nil {
		return nil, d.wrap("latest strategy", err)
	}
	return s, nil
}

// GetStrategy returns one version, or faults.ErrNotFound.
func (d *Database) GetStrategy(ctx context.Context, version int) (*models.Strategy, error) {
	row := d.db.QueryRowContext(ctx, d.q(`SELECT `+strategyColumns+` FROM strategies WHERE version = ?`), version)
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database: strategy v%d: %w", version, faults.ErrNotFound)
	}
	if err != nil {
		return nil, d.wrap("get strategy", err)
	}
	return s, nil
}

// ListStrategies returns the whole version chain, oldest first.
func (d *Database) ListStrategies(ctx context.Context) ([]*models.Strategy, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+strategyColumns+` FROM strategies ORDER BY version ASC`)
	if err != nil {
		return nil, d.wrap("list strategies", err)
	}
	defer rows.Close()

	var out []*models.Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, d.wrap("scan strategy", err)
		}
		out = append(out, s)
	}
	return out, d.wrap("iterate strategies", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row scanner) (*models.Strategy, error) {
	var (
		s           models.Strategy
		keywords    string
		competitors string
		evolvedFrom sql.NullInt64
		createdAt   string
	)
	if err := row.Scan(&s.Version, &s.ProductDescription, &s.ICP, &keywords, &competitors, &evolvedFrom, &createdAt); err != nil {
		return nil, err
	}
	s.Keywords = decodeList(keywords)
	s.Competitors = decodeList(competitors)
	s.EvolvedFrom = intPtr(evolvedFrom)
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}
