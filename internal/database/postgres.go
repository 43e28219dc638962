package database

import (
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
// Every query in this package is written with ? and passed through d.q.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// NewPostgres creates a PostgreSQL-backed knowledge store.
func NewPostgres(dsn string) (*Database, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database: postgres dsn is required")
	}
	db, err := openDB("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	d := &Database{db: db, dialect: DialectPostgres}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, d.wrap("ping postgres", err)
	}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: initialize schema: %w", err)
	}

	return d, nil
}
