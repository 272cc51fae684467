// Package composer concatenates resolved prompts into one context block.
// Overlapping paragraphs are removed, blocks are joined with a
// separator, and an optional token budget drops trailing blocks until
// the result fits.
package composer

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/internal/resolver"
	"github.com/nugget/shippopotamus/internal/tokens"
)

// DefaultSeparator joins composed blocks.
const DefaultSeparator = "\n\n---\n\n"

// Status is the fate of one input block.
type Status string

const (
	StatusIncluded   Status = "included"
	StatusDuplicate  Status = "duplicate"   // Every paragraph already emitted
	StatusOverBudget Status = "over_budget" // Dropped to fit MaxTokens
)

// Options controls a single composition.
type Options struct {
	Deduplicate bool
	MaxTokens   int    // 0 means no budget
	Separator   string // empty uses the composer default
}

// DefaultOptions returns deduplicating, unbudgeted options.
func DefaultOptions() Options {
	return Options{Deduplicate: true}
}

// SourceEntry is the provenance of one input reference.
type SourceEntry struct {
	prompts.Descriptor
	Status            Status `json:"status"`
	RemovedParagraphs int    `json:"removed_paragraphs,omitempty"`
}

// Result is a finished composition.
type Result struct {
	Content           string        `json:"content"`
	TokenCount        int           `json:"token_count"`
	Sources           []SourceEntry `json:"sources"`
	Truncated         bool          `json:"truncated"`
	RemovedDuplicates int           `json:"removed_duplicates"`
	Duplicates        []string      `json:"duplicates,omitempty"` // Previews of removed paragraphs
	OriginalTokens    int           `json:"original_tokens"`      // Sum over inputs before dedup
	MaxTokens         int           `json:"max_tokens,omitempty"`
}

// Config configures a Composer.
type Config struct {
	Resolver  *resolver.Resolver
	Separator string
	Logger    *slog.Logger
}

// Composer resolves references and composes their content.
type Composer struct {
	resolver  *resolver.Resolver
	separator string
	logger    *slog.Logger
}

// New creates a Composer.
func New(cfg Config) *Composer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sep := cfg.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	return &Composer{
		resolver:  cfg.Resolver,
		separator: sep,
		logger:    logger,
	}
}

// Compose resolves refs in order and composes them. Resolution is
// all-or-nothing: the first failing reference aborts the composition.
func (c *Composer) Compose(ctx context.Context, refs []string, opts Options) (*Result, error) {
	if len(refs) == 0 {
		return nil, prompts.Validationf("at least one prompt reference is required")
	}
	if opts.MaxTokens < 0 {
		return nil, prompts.Validationf("max_tokens must not be negative")
	}
	if opts.Separator == "" {
		opts.Separator = c.separator
	}

	blocks := make([]Block, 0, len(refs))
	for _, ref := range refs {
		res, err := c.resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, Block{
			Descriptor: res.Descriptor(),
			Content:    res.Prompt.Content,
		})
	}

	result := Assemble(blocks, opts)
	c.logger.Debug("prompts composed",
		"refs", len(refs),
		"tokens", result.TokenCount,
		"original_tokens", result.OriginalTokens,
		"removed_duplicates", result.RemovedDuplicates,
		"truncated", result.Truncated,
	)
	return result, nil
}

// Block is one resolved input to Assemble.
type Block struct {
	Descriptor prompts.Descriptor
	Content    string
}

// Assemble composes already-resolved blocks. It never fails.
func Assemble(blocks []Block, opts Options) *Result {
	sep := opts.Separator
	if sep == "" {
		sep = DefaultSeparator
	}

	r := &Result{
		Sources:   make([]SourceEntry, len(blocks)),
		MaxTokens: opts.MaxTokens,
	}
	texts := make([]string, len(blocks))
	seen := make(map[string]bool)

	for i, b := range blocks {
		r.Sources[i] = SourceEntry{Descriptor: b.Descriptor, Status: StatusIncluded}
		r.OriginalTokens += tokens.Estimate(b.Content)

		if !opts.Deduplicate {
			texts[i] = strings.TrimSpace(b.Content)
			continue
		}

		kept, removed := dedupParagraphs(b.Content, seen)
		r.Sources[i].RemovedParagraphs = len(removed)
		r.RemovedDuplicates += len(removed)
		for _, p := range removed {
			r.Duplicates = append(r.Duplicates, preview(p))
		}
		switch {
		case len(kept) == 0:
			r.Sources[i].Status = StatusDuplicate
		case len(removed) == 0:
			texts[i] = strings.TrimSpace(b.Content)
		default:
			texts[i] = strings.Join(kept, "\n\n")
		}
	}

	included := make([]int, 0, len(blocks))
	for i, s := range r.Sources {
		if s.Status == StatusIncluded {
			included = append(included, i)
		}
	}

	join := func(idx []int) string {
		parts := make([]string, len(idx))
		for k, i := range idx {
			parts[k] = texts[i]
		}
		return strings.Join(parts, sep)
	}

	r.Content = join(included)
	r.TokenCount = tokens.Estimate(r.Content)

	if opts.MaxTokens > 0 && r.TokenCount > opts.MaxTokens {
		r.Truncated = true
		for len(included) > 0 && r.TokenCount > opts.MaxTokens {
			last := included[len(included)-1]
			r.Sources[last].Status = StatusOverBudget
			included = included[:len(included)-1]
			r.Content = join(included)
			r.TokenCount = tokens.Estimate(r.Content)
		}
	}

	// Tokens becomes the block's contribution to the output.
	for i, s := range r.Sources {
		if s.Status != StatusIncluded {
			r.Sources[i].Tokens = 0
			continue
		}
		r.Sources[i].Tokens = tokens.Estimate(texts[i])
	}
	return r
}

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)

// dedupParagraphs splits content on blank lines and returns the
// paragraphs whose signature is not yet in seen, adding them to it.
// Blank paragraphs are discarded silently.
func dedupParagraphs(content string, seen map[string]bool) (kept, removed []string) {
	for _, para := range paragraphBreak.Split(content, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sig := signature(para)
		if seen[sig] {
			removed = append(removed, para)
			continue
		}
		seen[sig] = true
		kept = append(kept, para)
	}
	return kept, removed
}

// signature normalizes a paragraph for duplicate detection: case-folded
// with all whitespace runs collapsed to one space.
func signature(para string) string {
	return strings.ToLower(strings.Join(strings.Fields(para), " "))
}

func preview(para string) string {
	const n = 50
	r := []rune(strings.Join(strings.Fields(para), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
