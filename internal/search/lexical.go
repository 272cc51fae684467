// Package search ranks the prompt corpus by keyword relevance. It backs
// discovery when no embedding provider is reachable, using an in-memory
// BM25 index rebuilt whenever the corpus changes.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/nugget/shippopotamus/internal/prompts"
)

// Field boosts. Names and tags are short and deliberate, so a hit there
// outweighs a hit buried in the body.
const (
	boostName        = 3.0
	boostTags        = 2.5
	boostDescription = 1.5
	boostContent     = 1.0
)

// Hit is one ranked document. Documents that matched no query term are
// still returned, with a zero score, after every matching document.
type Hit struct {
	prompts.Document
	Score float64 `json:"score"`
}

// Index is a lexical index over a prompt corpus. It is safe for
// concurrent use.
type Index struct {
	logger *slog.Logger

	mu     sync.Mutex
	idx    bleve.Index
	docs   map[string]prompts.Document
	digest string
}

// New creates an empty Index.
func New(logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{logger: logger}
}

// Close releases the underlying bleve index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.idx == nil {
		return nil
	}
	err := x.idx.Close()
	x.idx = nil
	x.digest = ""
	return err
}

// Rank orders docs by relevance to text. Every document appears in the
// result exactly once: matches first by score, then usage count, then
// name, followed by non-matches ordered by usage count and name.
func (x *Index) Rank(ctx context.Context, docs []prompts.Document, text string) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, prompts.Validationf("query is required")
	}
	if len(docs) == 0 {
		return nil, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.sync(docs); err != nil {
		return nil, prompts.Internal("build lexical index", err)
	}

	req := bleve.NewSearchRequestOptions(buildQuery(text), len(docs), 0, false)
	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, prompts.Internal("lexical search", err)
	}

	scores := make(map[string]float64, len(res.Hits))
	for _, h := range res.Hits {
		scores[h.ID] = h.Score
	}

	hits := make([]Hit, 0, len(docs))
	for _, d := range x.docs {
		hits = append(hits, Hit{Document: d, Score: scores[d.Key()]})
	}
	Sort(hits)
	return hits, nil
}

// Sort orders hits by score, then usage count, then name, then
// namespace.
func Sort(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Namespace < b.Namespace
	})
}

// sync rebuilds the bleve index when docs differs from what is indexed.
// Callers hold x.mu.
func (x *Index) sync(docs []prompts.Document) error {
	digest := corpusDigest(docs)
	if x.idx != nil && digest == x.digest {
		// Usage counts change without touching indexed text.
		for _, d := range docs {
			x.docs[d.Key()] = d
		}
		return nil
	}

	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	batch := idx.NewBatch()
	byKey := make(map[string]prompts.Document, len(docs))
	for _, d := range docs {
		byKey[d.Key()] = d
		if err := batch.Index(d.Key(), map[string]interface{}{
			"namespace":   string(d.Namespace),
			"name":        strings.NewReplacer("_", " ", "-", " ").Replace(d.Name),
			"tags":        strings.Join(d.Tags, " "),
			"description": d.Description,
			"content":     d.Content,
		}); err != nil {
			idx.Close()
			return fmt.Errorf("index %s: %w", d.Key(), err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return fmt.Errorf("commit batch: %w", err)
	}

	if x.idx != nil {
		x.idx.Close()
	}
	x.idx = idx
	x.docs = byKey
	x.digest = digest
	x.logger.Debug("lexical index rebuilt", "documents", len(byKey))
	return nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	dm := bleve.NewDocumentMapping()

	ns := bleve.NewTextFieldMapping()
	ns.Analyzer = keyword.Name
	ns.Store = false
	dm.AddFieldMappingsAt("namespace", ns)

	for _, field := range []string{"name", "tags", "description", "content"} {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = en.AnalyzerName
		fm.Store = false
		fm.IncludeTermVectors = false
		dm.AddFieldMappingsAt(field, fm)
	}

	im.DefaultMapping = dm
	im.DefaultAnalyzer = en.AnalyzerName
	return im
}

func buildQuery(text string) query.Query {
	fields := []struct {
		name  string
		boost float64
	}{
		{"name", boostName},
		{"tags", boostTags},
		{"description", boostDescription},
		{"content", boostContent},
	}
	qs := make([]query.Query, 0, len(fields))
	for _, f := range fields {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(f.name)
		mq.SetBoost(f.boost)
		qs = append(qs, mq)
	}
	return bleve.NewDisjunctionQuery(qs...)
}

// corpusDigest fingerprints the indexed text of docs, independent of
// order and usage counts.
func corpusDigest(docs []prompts.Document) string {
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.Key()+"\x00"+strings.Join(d.Tags, ",")+"\x00"+d.Description+"\x00"+prompts.ContentHash(d.Content))
	}
	sort.Strings(keys)
	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return hex.EncodeToString(sum[:])
}
