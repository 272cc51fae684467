package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/internal/tokens"
)

// Entry is one prompt in a listing.
type Entry struct {
	Name        string         `json:"name"`
	Source      prompts.Source `json:"source"`
	Category    string         `json:"category,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags"`
	UsageCount  int            `json:"usage_count"`
	Tokens      int            `json:"tokens"`
	Version     int            `json:"version,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// ListOptions selects what List returns.
type ListOptions struct {
	IncludeDefaults bool
	IncludeCustom   bool
	Tags            []string // non-empty: keep prompts sharing at least one tag
}

// Listing is the grouped result of List. Errors carries failures of
// individual sections; the rest of the listing is still returned.
type Listing struct {
	Defaults map[string][]Entry `json:"defaults,omitempty"`
	Custom   []Entry            `json:"custom,omitempty"`
	Total    int                `json:"total"`
	Errors   []string           `json:"errors,omitempty"`
}

func entryOf(p *prompts.Prompt) Entry {
	e := Entry{
		Name:        p.Name,
		Source:      p.Source,
		Category:    p.Category,
		Description: p.Description,
		Tags:        nonNil(p.Tags),
		UsageCount:  p.UsageCount,
		Tokens:      tokens.Estimate(p.Content),
		Version:     p.Version,
	}
	if !p.UpdatedAt.IsZero() {
		t := p.UpdatedAt
		e.UpdatedAt = &t
	}
	return e
}

// List returns built-ins grouped by catalog category and custom prompts
// as a flat list, each annotated with usage_count.
func (r *Registry) List(ctx context.Context, opts ListOptions) *Listing {
	filter := prompts.NormalizeTags(opts.Tags)
	out := &Listing{}

	if opts.IncludeDefaults && r.catalog != nil {
		counts, err := r.usage.Counts(ctx, prompts.SourceBuiltin)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("built-in usage counts: %v", err))
		}
		out.Defaults = make(map[string][]Entry)
		for _, p := range r.catalog.All() {
			if !p.HasAnyTag(filter) {
				continue
			}
			p.UsageCount = counts[p.Name]
			out.Defaults[p.Category] = append(out.Defaults[p.Category], entryOf(p))
			out.Total++
		}
	}

	if opts.IncludeCustom {
		custom, err := r.customPrompts(ctx)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("custom prompts: %v", err))
		}
		out.Custom = []Entry{}
		for _, p := range custom {
			if !p.HasAnyTag(filter) {
				continue
			}
			out.Custom = append(out.Custom, entryOf(p))
			out.Total++
		}
	}

	return out
}

// SearchByTag returns custom and built-in prompts whose tag set
// intersects tags. Custom prompts come first; each group is ordered by
// usage count then name.
func (r *Registry) SearchByTag(ctx context.Context, tags []string) ([]*prompts.Prompt, error) {
	tags = prompts.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil, prompts.Validationf("at least one tag is required")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]any, len(tags))
	for i, t := range tags {
		args[i] = t
	}
	rows, err := r.db.QueryContext(ctx, selectPrompt+`
		WHERE id IN (SELECT prompt_id FROM prompt_tags WHERE tag IN (`+placeholders+`))
		ORDER BY usage_count DESC, name`, args...)
	if err != nil {
		return nil, prompts.Internal("search by tag", err)
	}
	defer rows.Close()

	var out []*prompts.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, prompts.Internal("scan tagged prompt", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, prompts.Internal("search by tag", err)
	}

	if r.catalog != nil {
		counts, err := r.usage.Counts(ctx, prompts.SourceBuiltin)
		if err != nil {
			r.logger.Warn("built-in usage counts unavailable", "error", err)
		}
		var builtins []*prompts.Prompt
		for _, p := range r.catalog.All() {
			if p.HasAnyTag(tags) {
				p.UsageCount = counts[p.Name]
				builtins = append(builtins, p)
			}
		}
		sort.SliceStable(builtins, func(i, j int) bool {
			return builtins[i].UsageCount > builtins[j].UsageCount
		})
		out = append(out, builtins...)
	}
	return out, nil
}

// Documents returns the searchable corpus: every custom prompt and every
// built-in, with current usage counts.
func (r *Registry) Documents(ctx context.Context) ([]prompts.Document, error) {
	custom, err := r.customPrompts(ctx)
	if err != nil {
		return nil, prompts.Internal("list corpus", err)
	}

	docs := make([]prompts.Document, 0, len(custom))
	for _, p := range custom {
		docs = append(docs, documentOf(p))
	}

	if r.catalog != nil {
		counts, err := r.usage.Counts(ctx, prompts.SourceBuiltin)
		if err != nil {
			return nil, prompts.Internal("built-in usage counts", err)
		}
		for _, p := range r.catalog.All() {
			p.UsageCount = counts[p.Name]
			docs = append(docs, documentOf(p))
		}
	}
	return docs, nil
}

func documentOf(p *prompts.Prompt) prompts.Document {
	return prompts.Document{
		Name:        p.Name,
		Namespace:   p.Namespace(),
		Content:     p.Content,
		Tags:        p.Tags,
		Description: p.Description,
		UsageCount:  p.UsageCount,
	}
}

// Revision is an archived earlier version of a custom prompt.
type Revision struct {
	Version    int       `json:"version"`
	Content    string    `json:"content"`
	FilePath   string    `json:"file_path,omitempty"`
	Tags       []string  `json:"tags"`
	Hash       string    `json:"hash"`
	Tokens     int       `json:"tokens"`
	SavedAt    time.Time `json:"saved_at"`
	ReplacedAt time.Time `json:"replaced_at"`
}

// History returns the archived revisions of a custom prompt, newest
// first. The current revision is not included; fetch it with Get.
func (r *Registry) History(ctx context.Context, name string) ([]Revision, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT version, content, file_path, tags, hash, saved_at, replaced_at
		FROM prompt_history WHERE name = ? ORDER BY version DESC
	`, name)
	if err != nil {
		return nil, prompts.Internal("query history", err)
	}
	defer rows.Close()

	revs := []Revision{}
	for rows.Next() {
		var (
			rev             Revision
			filePath        *string
			tagsJSON        string
			saved, replaced string
		)
		if err := rows.Scan(&rev.Version, &rev.Content, &filePath, &tagsJSON, &rev.Hash, &saved, &replaced); err != nil {
			return nil, prompts.Internal("scan history", err)
		}
		if filePath != nil {
			rev.FilePath = *filePath
		}
		if err := json.Unmarshal([]byte(tagsJSON), &rev.Tags); err != nil {
			return nil, prompts.Internal("decode history tags", err)
		}
		rev.Tags = nonNil(rev.Tags)
		rev.Tokens = tokens.Estimate(rev.Content)
		rev.SavedAt, _ = time.Parse(time.RFC3339, saved)
		rev.ReplacedAt, _ = time.Parse(time.RFC3339, replaced)
		revs = append(revs, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, prompts.Internal("query history", err)
	}

	if len(revs) == 0 {
		if _, err := r.Get(ctx, name); err != nil {
			return nil, err
		}
	}
	return revs, nil
}
