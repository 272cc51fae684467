// Package usage provides the append-only prompt usage log. Every
// successful reference resolution is recorded with its namespace and
// token contribution; built-in usage counts and session reports are
// aggregated from it.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/shippopotamus/internal/prompts"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Record is a single resolution of a prompt reference.
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Name      string         `json:"name"`
	Source    prompts.Source `json:"source"`
	Ref       string         `json:"ref"`
	Tokens    int            `json:"tokens"`
}

// Summary holds aggregated usage totals.
type Summary struct {
	TotalRecords int            `json:"total_records"`
	TotalTokens  int64          `json:"total_tokens"`
	BySource     map[string]int `json:"by_source"`
}

// Top is one row of the most-used listing.
type Top struct {
	Name   string         `json:"name"`
	Source prompts.Source `json:"source"`
	Count  int            `json:"count"`
}

// Store is an append-only SQLite store for usage records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a usage store at the given database path. The schema
// is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s, err := NewStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB creates a usage store on an existing connection. The
// caller owns db.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_log (
		id          TEXT PRIMARY KEY,
		used_at     TEXT NOT NULL,
		prompt_name TEXT NOT NULL,
		source      TEXT NOT NULL,
		ref         TEXT NOT NULL,
		tokens      INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_usage_log_used_at ON usage_log(used_at);
	CREATE INDEX IF NOT EXISTS idx_usage_log_name ON usage_log(source, prompt_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends a usage record. If rec.ID is empty, a UUIDv7 is
// generated; a zero Timestamp means now.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (id, used_at, prompt_name, source, ref, tokens)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(timeFormat),
		rec.Name,
		string(rec.Source),
		rec.Ref,
		rec.Tokens,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Counts returns the number of recorded resolutions per prompt name for
// one source.
func (s *Store) Counts(ctx context.Context, source prompts.Source) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt_name, COUNT(*) FROM usage_log WHERE source = ? GROUP BY prompt_name`,
		string(source),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan usage count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// Summary returns aggregated totals for records at or after since. A
// zero since covers the whole log.
func (s *Store) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*), COALESCE(SUM(tokens), 0)
		 FROM usage_log
		 WHERE used_at >= ?
		 GROUP BY source`,
		since.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	sum := &Summary{BySource: make(map[string]int)}
	for rows.Next() {
		var source string
		var n int
		var tokens int64
		if err := rows.Scan(&source, &n, &tokens); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		sum.BySource[source] = n
		sum.TotalRecords += n
		sum.TotalTokens += tokens
	}
	return sum, rows.Err()
}

// MostUsed returns up to limit prompts ordered by resolution count
// since the given time, ties broken by name.
func (s *Store) MostUsed(ctx context.Context, since time.Time, limit int) ([]Top, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt_name, source, COUNT(*) AS n
		 FROM usage_log
		 WHERE used_at >= ?
		 GROUP BY source, prompt_name
		 ORDER BY n DESC, prompt_name ASC, source ASC
		 LIMIT ?`,
		since.UTC().Format(timeFormat), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query most used: %w", err)
	}
	defer rows.Close()

	var out []Top
	for rows.Next() {
		var t Top
		var source string
		if err := rows.Scan(&t.Name, &source, &t.Count); err != nil {
			return nil, fmt.Errorf("scan most used: %w", err)
		}
		t.Source = prompts.Source(source)
		out = append(out, t)
	}
	return out, rows.Err()
}
