// Package index maintains embedding vectors for the prompt corpus and
// answers similarity queries against them.
//
// The index is built lazily by the first call that needs it. Records are
// keyed by prompt and carry the SHA-256 of the content they were
// computed from, so a refresh re-embeds only prompts whose content (or
// the provider model) changed. Vectors are persisted in SQLite next to
// the custom prompts, and identical content shares a single vector.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nugget/shippopotamus/internal/embeddings"
	"github.com/nugget/shippopotamus/internal/prompts"
)

// State is the lifecycle phase of the index.
type State int

const (
	StateUninitialized State = iota
	StateBuilding
	StateReady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Corpus supplies the documents to index.
type Corpus interface {
	Documents(ctx context.Context) ([]prompts.Document, error)
}

// Record is the stored embedding of one prompt. ContentHash covers the
// exact text that was embedded.
type Record struct {
	Name        string
	Namespace   prompts.Namespace
	ContentHash string
	Model       string
	Vector      []float32
	UpdatedAt   time.Time
}

func (r Record) key() string {
	return string(r.Namespace) + "/" + r.Name
}

// BuildStats describes one EnsureIndexed pass.
type BuildStats struct {
	Documents int           `json:"documents"`
	Embedded  int           `json:"embedded"` // Provider calls made
	Reused    int           `json:"reused"`   // Unchanged or shared by content hash
	Removed   int           `json:"removed"`  // Records for prompts that no longer exist
	Duration  time.Duration `json:"duration"`
}

// Config configures an Index.
type Config struct {
	DB       *sql.DB // Stores prompt_embeddings; nil keeps records in memory only
	Corpus   Corpus
	Provider embeddings.Provider // nil: similarity search is unavailable

	// QueryCacheTTL bounds how long query vectors are reused. Zero uses
	// DefaultQueryCacheTTL.
	QueryCacheTTL time.Duration

	Logger *slog.Logger
}

// Index is the embedding index.
type Index struct {
	db       *sql.DB
	corpus   Corpus
	provider embeddings.Provider
	logger   *slog.Logger
	queries  *queryCache

	build singleflight.Group

	mu      sync.RWMutex
	state   State
	loaded  bool                        // persisted records read
	records map[string]Record           // "namespace/name" -> record
	docs    map[string]prompts.Document // corpus snapshot of the last build
	shared  map[string][]float32        // model + content hash -> vector
	last    BuildStats
	builtAt time.Time
}

// New creates an Index. Nothing is embedded until the first
// EnsureIndexed or SimilaritySearch.
func New(cfg Config) (*Index, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{
		db:       cfg.DB,
		corpus:   cfg.Corpus,
		provider: cfg.Provider,
		logger:   logger,
		queries:  newQueryCache(cfg.QueryCacheTTL),
		records:  make(map[string]Record),
		docs:     make(map[string]prompts.Document),
		shared:   make(map[string][]float32),
	}
	if ix.db != nil {
		if err := ix.migrate(); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return ix, nil
}

// State returns the current lifecycle phase.
func (ix *Index) State() State {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.state
}

// Available reports whether an embedding provider is configured.
func (ix *Index) Available() bool {
	return ix.provider != nil
}

// Model returns the provider model, or "" without a provider.
func (ix *Index) Model() string {
	if ix.provider == nil {
		return ""
	}
	return ix.provider.Model()
}

func (ix *Index) unavailable(err error) error {
	if ix.provider == nil {
		return prompts.CapabilityUnavailable("embeddings", fmt.Errorf("no embedding provider configured"))
	}
	return prompts.CapabilityUnavailable("embeddings", err)
}

// EnsureIndexed brings the index up to date with the corpus. It is
// idempotent: unchanged prompts are not re-embedded, and concurrent
// callers share a single pass.
func (ix *Index) EnsureIndexed(ctx context.Context) (BuildStats, error) {
	if ix.provider == nil {
		return BuildStats{}, ix.unavailable(nil)
	}
	v, err, _ := ix.build.Do("build", func() (any, error) {
		return ix.refresh(ctx)
	})
	if err != nil {
		return BuildStats{}, err
	}
	return v.(BuildStats), nil
}

func (ix *Index) refresh(ctx context.Context) (BuildStats, error) {
	start := time.Now()
	model := ix.provider.Model()

	docs, err := ix.corpus.Documents(ctx)
	if err != nil {
		return BuildStats{}, fmt.Errorf("load corpus: %w", err)
	}

	ix.mu.Lock()
	first := ix.state == StateUninitialized
	if first {
		ix.state = StateBuilding
	}
	needLoad := !ix.loaded
	ix.mu.Unlock()

	if first {
		ix.logger.Info("building embedding index", "documents", len(docs), "model", model)
	}

	fail := func(err error) (BuildStats, error) {
		if first {
			ix.mu.Lock()
			ix.state = StateUninitialized
			ix.mu.Unlock()
		}
		return BuildStats{}, err
	}

	if needLoad && ix.db != nil {
		persisted, err := ix.loadRecords(ctx)
		if err != nil {
			return fail(err)
		}
		ix.mu.Lock()
		for _, r := range persisted {
			ix.records[r.key()] = r
			ix.shared[sharedKey(r.Model, r.ContentHash)] = r.Vector
		}
		ix.loaded = true
		ix.mu.Unlock()
	}

	stats := BuildStats{Documents: len(docs)}
	next := make(map[string]Record, len(docs))
	nextDocs := make(map[string]prompts.Document, len(docs))
	var changed []Record

	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		key := d.Key()
		nextDocs[key] = d
		text := embeddingText(d)
		hash := prompts.ContentHash(text)

		ix.mu.RLock()
		cur, have := ix.records[key]
		vec, shared := ix.shared[sharedKey(model, hash)]
		ix.mu.RUnlock()

		if have && cur.ContentHash == hash && cur.Model == model {
			next[key] = cur
			stats.Reused++
			continue
		}

		if shared {
			stats.Reused++
		} else {
			vec, err = ix.provider.Embed(ctx, text)
			if err != nil {
				ix.logger.Warn("embedding failed", "prompt", key, "error", err)
				return fail(ix.unavailable(err))
			}
			stats.Embedded++
			ix.mu.Lock()
			ix.shared[sharedKey(model, hash)] = vec
			ix.mu.Unlock()
		}

		rec := Record{
			Name:        d.Name,
			Namespace:   d.Namespace,
			ContentHash: hash,
			Model:       model,
			Vector:      vec,
			UpdatedAt:   time.Now().UTC(),
		}
		next[key] = rec
		changed = append(changed, rec)
	}

	ix.mu.RLock()
	var removed []Record
	for key, r := range ix.records {
		if _, ok := next[key]; !ok {
			removed = append(removed, r)
		}
	}
	ix.mu.RUnlock()
	stats.Removed = len(removed)

	if ix.db != nil && (len(changed) > 0 || len(removed) > 0) {
		if err := ix.persist(ctx, changed, removed); err != nil {
			return fail(err)
		}
	}

	stats.Duration = time.Since(start)

	ix.mu.Lock()
	ix.records = next
	ix.docs = nextDocs
	ix.state = StateReady
	ix.last = stats
	ix.builtAt = time.Now()
	ix.mu.Unlock()

	if first || stats.Embedded > 0 || stats.Removed > 0 {
		ix.logger.Info("embedding index updated",
			"documents", stats.Documents,
			"embedded", stats.Embedded,
			"reused", stats.Reused,
			"removed", stats.Removed,
			"elapsed", stats.Duration.Round(time.Millisecond),
		)
	}
	return stats, nil
}

// embeddingText is what gets embedded and hashed for a document. Tags
// steer short prompts toward their intended use, and retagging a prompt
// changes its hash so it is re-embedded. The name is left out so that
// identical prompts under different names share one vector.
func embeddingText(d prompts.Document) string {
	if len(d.Tags) == 0 {
		return d.Content
	}
	return "Tags: " + strings.Join(d.Tags, ", ") + "\n\n" + d.Content
}

func sharedKey(model, hash string) string {
	return model + "\x00" + hash
}

// Status is a point-in-time description of the index.
type Status struct {
	State     string     `json:"state"`
	Provider  string     `json:"provider,omitempty"`
	Model     string     `json:"model,omitempty"`
	Records   int        `json:"records"`
	Queries   int        `json:"cached_queries"`
	LastBuild BuildStats `json:"last_build"`
	BuiltAt   *time.Time `json:"built_at,omitempty"`
}

// Status reports the current state of the index.
func (ix *Index) Status() Status {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	s := Status{
		State:     ix.state.String(),
		Records:   len(ix.records),
		Queries:   ix.queries.len(),
		LastBuild: ix.last,
	}
	if ix.provider != nil {
		s.Provider = ix.provider.Name()
		s.Model = ix.provider.Model()
	}
	if !ix.builtAt.IsZero() {
		t := ix.builtAt
		s.BuiltAt = &t
	}
	return s
}
