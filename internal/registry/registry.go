// Package registry owns the custom prompt namespace: user-saved prompts
// persisted in SQLite with tags, provenance, usage counts, and version
// history. The built-in catalog is consulted alongside it for listings
// and the search corpus but is never written through the registry.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/shippopotamus/internal/catalog"
	"github.com/nugget/shippopotamus/internal/paths"
	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/internal/usage"
)

// Config wires a Registry to its collaborators.
type Config struct {
	Catalog *catalog.Catalog
	Paths   *paths.Resolver // resolves file_path on save; nil = working dir
	Logger  *slog.Logger
}

// Registry is the custom prompt store.
type Registry struct {
	db      *sql.DB
	catalog *catalog.Catalog
	paths   *paths.Resolver
	usage   *usage.Store
	logger  *slog.Logger

	// mu serializes writers; SQLite allows one at a time anyway and
	// holding it keeps read-modify-write saves atomic.
	mu sync.Mutex
}

// SaveRequest is the input to Save. Exactly one of Content and
// FilePath must be set.
type SaveRequest struct {
	Name          string
	Content       string
	FilePath      string
	Tags          []string
	ParentPrompts []string
}

// Open creates a registry backed by the SQLite database at dbPath.
func Open(dbPath string, cfg Config) (*Registry, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	r, err := NewWithDB(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewWithDB creates a registry on an existing connection. The
// connection pool is pinned to one connection so in-memory databases
// stay shared and writes never contend.
func NewWithDB(db *sql.DB, cfg Config) (*Registry, error) {
	db.SetMaxOpenConns(1)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		db:      db,
		catalog: cfg.Catalog,
		paths:   cfg.Paths,
		logger:  logger,
	}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	us, err := usage.NewStoreWithDB(db)
	if err != nil {
		return nil, err
	}
	r.usage = us
	return r, nil
}

func (r *Registry) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS custom_prompts (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			content TEXT NOT NULL,
			file_path TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			parent_prompts TEXT NOT NULL DEFAULT '[]',
			hash TEXT NOT NULL,
			usage_count INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS prompt_tags (
			prompt_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (prompt_id, tag)
		);
		CREATE INDEX IF NOT EXISTS idx_prompt_tags_tag ON prompt_tags(tag);

		CREATE TABLE IF NOT EXISTS prompt_history (
			id TEXT PRIMARY KEY,
			prompt_id TEXT NOT NULL,
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			content TEXT NOT NULL,
			file_path TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			hash TEXT NOT NULL,
			saved_at TEXT NOT NULL,
			replaced_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_prompt_history_name ON prompt_history(name, version DESC);
	`)
	return err
}

// DB returns the underlying connection so sibling stores (the embedding
// index) can share the database file.
func (r *Registry) DB() *sql.DB {
	return r.db
}

// Catalog returns the built-in catalog the registry lists alongside
// custom prompts.
func (r *Registry) Catalog() *catalog.Catalog {
	return r.catalog
}

// Usage returns the usage log.
func (r *Registry) Usage() *usage.Store {
	return r.usage
}

// Close closes the database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// ValidateName reports whether name can be saved and later addressed
// by a bare reference.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return prompts.Validationf("name is required")
	case name != strings.TrimSpace(name):
		return prompts.Validationf("name %q has leading or trailing whitespace", name)
	case strings.Contains(name, ":"):
		return prompts.Validationf("name %q must not contain ':'", name)
	}
	return nil
}

// Save creates or overwrites a custom prompt. File content is read now
// and stored, so later edits to the file do not change the prompt.
// Overwriting archives the previous revision and bumps Version.
func (r *Registry) Save(ctx context.Context, req SaveRequest) (*prompts.Prompt, error) {
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}
	hasContent := strings.TrimSpace(req.Content) != ""
	hasFile := req.FilePath != ""
	switch {
	case hasContent && hasFile:
		return nil, prompts.Validationf("provide either content or file_path, not both")
	case !hasContent && !hasFile:
		return nil, prompts.Validationf("one of content or file_path is required")
	}

	content := req.Content
	filePath := ""
	if hasFile {
		filePath = r.paths.Resolve(req.FilePath)
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, prompts.FileReadError(req.FilePath, err)
		}
		content = string(data)
		if strings.TrimSpace(content) == "" {
			return nil, prompts.Validationf("file %s is empty", req.FilePath)
		}
	}

	tags := prompts.NormalizeTags(req.Tags)
	parents := nonNil(req.ParentPrompts)
	hash := prompts.ContentHash(content)

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, prompts.Internal("begin save", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	existing, err := scanPrompt(tx.QueryRowContext(ctx, selectPrompt+` WHERE name = ?`, req.Name))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, prompts.Internal("check existing prompt", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	p := &prompts.Prompt{
		Name:          req.Name,
		Content:       content,
		Tags:          tags,
		ParentPrompts: parents,
		Source:        prompts.SourceCustom,
		Description:   prompts.Describe(content),
		FilePath:      filePath,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if existing == nil {
		p.ID, err = uuid.NewV7()
		if err != nil {
			return nil, prompts.Internal("generate prompt id", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO custom_prompts
				(id, name, content, file_path, tags, parent_prompts, hash, usage_count, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, 1, ?, ?)
		`, p.ID.String(), p.Name, content, nullString(filePath), mustJSON(tags), mustJSON(parents), hash,
			now.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return nil, prompts.Internal("insert prompt", err)
		}
	} else {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		p.UsageCount = existing.UsageCount
		p.Version = existing.Version + 1

		histID, err := uuid.NewV7()
		if err != nil {
			return nil, prompts.Internal("generate history id", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO prompt_history
				(id, prompt_id, name, version, content, file_path, tags, hash, saved_at, replaced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, histID.String(), existing.ID.String(), existing.Name, existing.Version, existing.Content,
			nullString(existing.FilePath), mustJSON(existing.Tags), prompts.ContentHash(existing.Content),
			existing.UpdatedAt.Format(time.RFC3339), now.Format(time.RFC3339))
		if err != nil {
			return nil, prompts.Internal("archive previous revision", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE custom_prompts
			SET content = ?, file_path = ?, tags = ?, parent_prompts = ?, hash = ?, version = ?, updated_at = ?
			WHERE id = ?
		`, content, nullString(filePath), mustJSON(tags), mustJSON(parents), hash, p.Version,
			now.Format(time.RFC3339), p.ID.String())
		if err != nil {
			return nil, prompts.Internal("update prompt", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM prompt_tags WHERE prompt_id = ?`, p.ID.String()); err != nil {
		return nil, prompts.Internal("clear tags", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO prompt_tags (prompt_id, tag) VALUES (?, ?)`, p.ID.String(), tag); err != nil {
			return nil, prompts.Internal("insert tag", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, prompts.Internal("commit save", err)
	}

	r.logger.Info("custom prompt saved",
		"name", p.Name,
		"version", p.Version,
		"tags", tags,
		"from_file", hasFile,
	)
	return p, nil
}

// Get returns the named custom prompt. It does not consult the
// built-in catalog.
func (r *Registry) Get(ctx context.Context, name string) (*prompts.Prompt, error) {
	p, err := scanPrompt(r.db.QueryRowContext(ctx, selectPrompt+` WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, prompts.NotFoundf("custom prompt %q not found", name)
	}
	if err != nil {
		return nil, prompts.Internal("get prompt", err)
	}
	return p, nil
}

// Builtin returns the named built-in prompt with its usage count.
func (r *Registry) Builtin(ctx context.Context, name string) (*prompts.Prompt, error) {
	if r.catalog == nil {
		return nil, prompts.NotFoundf("built-in prompt %q not found", name)
	}
	p, ok := r.catalog.Get(name)
	if !ok {
		return nil, prompts.NotFoundf("built-in prompt %q not found", name)
	}
	counts, err := r.usage.Counts(ctx, prompts.SourceBuiltin)
	if err != nil {
		r.logger.Warn("built-in usage counts unavailable", "error", err)
	}
	p.UsageCount = counts[name]
	return p, nil
}

// RecordUsage notes a successful resolution of p through ref. Custom
// prompts have their usage_count incremented; every resolution is
// appended to the usage log.
func (r *Registry) RecordUsage(ctx context.Context, p *prompts.Prompt, ref string, tokens int) error {
	if p.Source == prompts.SourceCustom {
		r.mu.Lock()
		res, err := r.db.ExecContext(ctx,
			`UPDATE custom_prompts SET usage_count = usage_count + 1 WHERE name = ?`, p.Name)
		r.mu.Unlock()
		if err != nil {
			return fmt.Errorf("increment usage: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			p.UsageCount++
		}
	}

	name := p.Name
	if p.Source == prompts.SourceFile {
		name = p.FilePath
	}
	return r.usage.Record(ctx, usage.Record{
		Name:   name,
		Source: p.Source,
		Ref:    ref,
		Tokens: tokens,
	})
}

// customPrompts returns every custom prompt ordered by name.
func (r *Registry) customPrompts(ctx context.Context) ([]*prompts.Prompt, error) {
	rows, err := r.db.QueryContext(ctx, selectPrompt+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query custom prompts: %w", err)
	}
	defer rows.Close()

	var out []*prompts.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custom prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const selectPrompt = `
	SELECT id, name, content, file_path, tags, parent_prompts, usage_count, version, created_at, updated_at
	FROM custom_prompts`

type scanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row scanner) (*prompts.Prompt, error) {
	var (
		p                  prompts.Prompt
		idStr              string
		filePath           sql.NullString
		tagsJSON, parents  string
		createdAt, updated string
	)
	err := row.Scan(&idStr, &p.Name, &p.Content, &filePath, &tagsJSON, &parents,
		&p.UsageCount, &p.Version, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	p.ID, _ = uuid.Parse(idStr)
	p.Source = prompts.SourceCustom
	p.FilePath = filePath.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", p.Name, err)
	}
	if err := json.Unmarshal([]byte(parents), &p.ParentPrompts); err != nil {
		return nil, fmt.Errorf("decode parent_prompts for %s: %w", p.Name, err)
	}
	p.Tags = nonNil(p.Tags)
	p.ParentPrompts = nonNil(p.ParentPrompts)
	p.Description = prompts.Describe(p.Content)
	return &p, nil
}

func mustJSON(v []string) string {
	data, _ := json.Marshal(nonNil(v))
	return string(data)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
