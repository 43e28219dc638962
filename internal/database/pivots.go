package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

// RecordPivotEvent appends an audit record of a pivot.
func (d *Database) RecordPivotEvent(ctx context.Context, ev *models.PivotEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	err := d.db.QueryRowContext(ctx, d.q(`
		INSERT INTO pivot_events (kind, strategy_version, competitor, details, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		string(ev.Kind), nullInt(ev.StrategyVersion), ev.Competitor, ev.Details, formatTime(ev.CreatedAt)).Scan(&ev.ID)
	return d.wrap("record pivot event", err)
}

// ListPivotEvents returns the most recent pivots, newest first.
func (d *Database) ListPivotEvents(ctx context.Context, limit int) ([]*models.PivotEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT id, kind, strategy_version, competitor, details, created_at
		FROM pivot_events ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, d.wrap("list pivot events", err)
	}
	defer rows.Close()

	var out []*models.PivotEvent
	for rows.Next() {
		var (
			ev        models.PivotEvent
			kind      string
			version   sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &kind, &version, &ev.Competitor, &ev.Details, &createdAt); err != nil {
			return nil, d.wrap("scan pivot event", err)
		}
		ev.Kind = models.PivotKind(kind)
		ev.StrategyVersion = intPtr(version)
		ev.CreatedAt = parseTime(createdAt)
		out = append(out, &ev)
	}
	return out, d.wrap("iterate pivot events", rows.Err())
}
