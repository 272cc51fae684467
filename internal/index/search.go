package index

import (
	"context"
	"sort"
	"strings"

	"github.com/nugget/shippopotamus/internal/embeddings"
	"github.com/nugget/shippopotamus/internal/prompts"
)

// DefaultTopK is used when a search asks for zero or fewer results.
const DefaultTopK = 5

// Match is one similarity search hit.
type Match struct {
	Name        string            `json:"name"`
	Namespace   prompts.Namespace `json:"namespace"`
	Ref         string            `json:"ref"`
	Score       float32           `json:"score"`
	UsageCount  int               `json:"usage_count"`
	Tags        []string          `json:"tags,omitempty"`
	Description string            `json:"description,omitempty"`
}

// SimilaritySearch ranks the corpus against query. The index is brought
// up to date first. Matches scoring below minSimilarity are dropped; the
// rest are ordered by score, then usage count, then name, then
// namespace, so equal inputs always produce the same ranking. topK <= 0
// uses DefaultTopK.
func (ix *Index) SimilaritySearch(ctx context.Context, query string, topK int, minSimilarity float32) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, prompts.Validationf("query is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	if _, err := ix.EnsureIndexed(ctx); err != nil {
		return nil, err
	}

	qvec, err := ix.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	matches := make([]Match, 0, len(ix.records))
	for key, r := range ix.records {
		score := embeddings.CosineSimilarity(qvec, r.Vector)
		if score < minSimilarity {
			continue
		}
		d := ix.docs[key]
		matches = append(matches, Match{
			Name:        r.Name,
			Namespace:   r.Namespace,
			Ref:         d.Ref(),
			Score:       score,
			UsageCount:  d.UsageCount,
			Tags:        d.Tags,
			Description: d.Description,
		})
	}
	ix.mu.RUnlock()

	Sort(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (ix *Index) embedQuery(ctx context.Context, query string) ([]float32, error) {
	model := ix.provider.Model()
	if vec, ok := ix.queries.get(model, query); ok {
		return vec, nil
	}
	vec, err := ix.provider.Embed(ctx, query)
	if err != nil {
		ix.logger.Warn("query embedding failed", "error", err)
		return nil, ix.unavailable(err)
	}
	ix.queries.set(model, query, vec)
	return vec, nil
}

// Sort orders matches by score descending, then usage count
// descending, then name, then namespace.
func Sort(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
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
