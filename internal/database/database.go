package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/joaquinllenado/recurve-ai/internal/faults"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Database is the knowledge store. Strategies, companies, evidence and
// lessons are stored as rows; graph relationships are rows in link tables.
type Database struct {
	db      *sql.DB
	dialect string
}

// Config selects and locates the backing store.
type Config struct {
	Type string // sqlite or postgres
	Path string // sqlite file path
	DSN  string // postgres connection string
}

// Open opens the store described by cfg.
func Open(cfg Config) (*Database, error) {
	switch strings.ToLower(cfg.Type) {
	case "", DialectSQLite:
		return New(cfg.Path)
	case DialectPostgres:
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("database: unsupported type %q", cfg.Type)
	}
}

// New opens (or creates) an embedded SQLite store at dbPath.
func New(dbPath string) (*Database, error) {
	if dbPath == "" {
		dbPath = "recurve.db"
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("database: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	// A single connection serializes writers, so concurrent strategy
	// inserts observe each other instead of racing on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("database: pragma %q: %w", p, err)
		}
	}

	d := &Database{db: db, dialect: DialectSQLite}
	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Dialect reports which backend is in use.
func (d *Database) Dialect() string {
	return d.dialect
}

// Ping checks the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return d.wrap("ping", err)
	}
	return nil
}

func (d *Database) q(query string) string {
	if d.dialect == DialectPostgres {
		return rebind(query)
	}
	return query
}

func (d *Database) initSchema() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.dialect == DialectPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	schema := `
	CREATE TABLE IF NOT EXISTS strategies (
		version INTEGER PRIMARY KEY,
		product_description TEXT NOT NULL,
		icp TEXT NOT NULL,
		keywords_json TEXT NOT NULL DEFAULT '[]',
		competitors_json TEXT NOT NULL DEFAULT '[]',
		evolved_from INTEGER,
		created_at TEXT NOT NULL,
		CHECK (version > 0),
		CHECK (evolved_from IS NULL OR evolved_from = version - 1)
	);

	CREATE TABLE IF NOT EXISTS companies (
		domain TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tech_stack_json TEXT NOT NULL DEFAULT '[]',
		employees INTEGER,
		funding TEXT NOT NULL DEFAULT '',
		classification TEXT,
		updated_at TEXT NOT NULL,
		CHECK (classification IS NULL OR classification IN ('Strike', 'Monitor', 'Disregard'))
	);

	CREATE TABLE IF NOT EXISTS strategy_targets (
		version INTEGER NOT NULL,
		company_domain TEXT NOT NULL,
		PRIMARY KEY (version, company_domain)
	);

	CREATE TABLE IF NOT EXISTS evidence (
		id ` + serial + `,
		company_domain TEXT NOT NULL,
		source_url TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		retrieved_at TEXT NOT NULL,
		UNIQUE (company_domain, source_url)
	);

	CREATE TABLE IF NOT EXISTS lessons (
		lesson_id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		details TEXT NOT NULL,
		source_domain TEXT NOT NULL,
		source_version INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS strategy_lessons (
		version INTEGER NOT NULL,
		lesson_id TEXT NOT NULL UNIQUE,
		PRIMARY KEY (version, lesson_id)
	);

	CREATE TABLE IF NOT EXISTS pivot_events (
		id ` + serial + `,
		kind TEXT NOT NULL,
		strategy_version INTEGER,
		competitor TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leases (
		name TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		renewed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_evidence_company ON evidence(company_domain);
	CREATE INDEX IF NOT EXISTS idx_lessons_source ON lessons(source_domain);
	CREATE INDEX IF NOT EXISTS idx_targets_domain ON strategy_targets(company_domain);
	`

	if d.dialect == DialectPostgres {
		_, err := d.db.Exec(schema)
		return err
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// wrap annotates err with the operation name and classifies connectivity
// failures as faults.ErrStoreUnavailable.
func (d *Database) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("database: %s: %w: %v", op, faults.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("database: %s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exception. Class 57: operator intervention.
		class := string(pqErr.Code.Class())
		return class == "08" || class == "57"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "database is locked")
}

// isUniqueViolation detects primary key / unique constraint failures on
// both backends.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}

func decodeList(s string) []string {
	var out []string
	if s == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
