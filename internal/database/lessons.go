package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

const lessonColumns = `lesson_id, type, details, source_domain, source_version, created_at`

// NewLessonID returns a fresh identifier of the form les-xxxxxxxx.
func NewLessonID() string {
	return "les-" + uuid.New().String()[:8]
}

// CreateLesson inserts a new lesson record.
func (d *Database) CreateLesson(ctx context.Context, lesson *models.Lesson) error {
	if lesson == nil {
		return fmt.Errorf("database: %w: lesson cannot be nil", faults.ErrInvalidInput)
	}
	if lesson.SourceDomain == "" {
		return fmt.Errorf("database: %w: lesson needs a source company", faults.ErrInvalidInput)
	}
	if _, err := models.ParseLessonType(string(lesson.Type)); err != nil {
		return fmt.Errorf("database: %w: %v", faults.ErrInvalidInput, err)
	}
	if lesson.LessonID == "" {
		lesson.LessonID = NewLessonID()
	}
	if lesson.Timestamp.IsZero() {
		lesson.Timestamp = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx, d.q(`INSERT INTO lessons (`+lessonColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		lesson.LessonID, string(lesson.Type), lesson.Details, normalizeDomain(lesson.SourceDomain),
		nullInt(lesson.SourceVersion), formatTime(lesson.Timestamp))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("database: lesson %s already exists: %w", lesson.LessonID, faults.ErrInvalidInput)
		}
		return d.wrap("create lesson", err)
	}
	return nil
}

// UnconsumedLessons returns lessons produced under version that no strategy
// has learned from yet: lessons from companies the version targets, plus
// structural lessons linked to the version itself.
func (d *Database) UnconsumedLessons(ctx context.Context, version int) ([]*models.Lesson, error) {
	return d.queryLessons(ctx, d.q(`
		SELECT `+lessonColumns+` FROM lessons
		WHERE (source_domain IN (SELECT company_domain FROM strategy_targets WHERE version = ?)
			OR source_version = ?)
		AND lesson_id NOT IN (SELECT lesson_id FROM strategy_lessons)
		ORDER BY created_at ASC, lesson_id ASC`), version, version)
}

// LessonsConsumedBy returns the lessons a version learned from.
func (d *Database) LessonsConsumedBy(ctx context.Context, version int) ([]*models.Lesson, error) {
	return d.queryLessons(ctx, d.q(`
		SELECT l.lesson_id, l.type, l.details, l.source_domain, l.source_version, l.created_at
		FROM lessons l JOIN strategy_lessons sl ON sl.lesson_id = l.lesson_id
		WHERE sl.version = ?
		ORDER BY l.created_at ASC, l.lesson_id ASC`), version)
}

// LessonsForCompany returns every lesson a company produced.
func (d *Database) LessonsForCompany(ctx context.Context, domain string) ([]*models.Lesson, error) {
	return d.queryLessons(ctx, d.q(`SELECT `+lessonColumns+` FROM lessons WHERE source_domain = ? ORDER BY created_at ASC`),
		normalizeDomain(domain))
}

// ListLessons returns the most recent lessons, newest first.
func (d *Database) ListLessons(ctx context.Context, limit int) ([]*models.Lesson, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.queryLessons(ctx, d.q(`SELECT `+lessonColumns+` FROM lessons ORDER BY created_at DESC, lesson_id DESC LIMIT ?`), limit)
}

func (d *Database) queryLessons(ctx context.Context, query string, args ...any) ([]*models.Lesson, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, d.wrap("query lessons", err)
	}
	defer rows.Close()

	var out []*models.Lesson
	for rows.Next() {
		var (
			l             models.Lesson
			lessonType    string
			sourceVersion sql.NullInt64
			createdAt     string
		)
		if err := rows.Scan(&l.LessonID, &lessonType, &l.Details, &l.SourceDomain, &sourceVersion, &createdAt); err != nil {
			return nil, d.wrap("scan lesson", err)
		}
		l.Type = models.LessonType(lessonType)
		l.SourceVersion = intPtr(sourceVersion)
		l.Timestamp = parseTime(createdAt)
		out = append(out, &l)
	}
	return out, d.wrap("iterate lessons", rows.Err())
}
