// Package discovery recommends prompts for a task description and
// composes the best of them into one context block.
//
// Recommendations are split into principles (how to work) and
// workflows (what to do). Ranking uses the embedding index when a
// provider is reachable and falls back to keyword relevance otherwise,
// so discovery keeps working offline.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/nugget/shippopotamus/internal/composer"
	"github.com/nugget/shippopotamus/internal/index"
	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/internal/search"
)

// Ranking modes reported in results.
const (
	ModeSemantic = "semantic"
	ModeLexical  = "lexical"
)

// Defaults for recommendation and selection sizes.
const (
	DefaultPrinciples      = 3
	DefaultWorkflows       = 2
	DefaultSmartPrinciples = 2
	DefaultSmartWorkflows  = 1
)

// Config configures an Engine. Index may be nil, in which case every
// request is answered lexically.
type Config struct {
	Index    *index.Index
	Lexical  *search.Index
	Corpus   index.Corpus
	Composer *composer.Composer

	Principles      int
	Workflows       int
	SmartPrinciples int
	SmartWorkflows  int

	Logger *slog.Logger
}

// Engine answers discovery and smart-compose requests.
type Engine struct {
	index    *index.Index
	lexical  *search.Index
	corpus   index.Corpus
	composer *composer.Composer
	logger   *slog.Logger

	principles      int
	workflows       int
	smartPrinciples int
	smartWorkflows  int
}

// New creates an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lex := cfg.Lexical
	if lex == nil {
		lex = search.New(logger)
	}
	return &Engine{
		index:           cfg.Index,
		lexical:         lex,
		corpus:          cfg.Corpus,
		composer:        cfg.Composer,
		logger:          logger,
		principles:      orDefault(cfg.Principles, DefaultPrinciples),
		workflows:       orDefault(cfg.Workflows, DefaultWorkflows),
		smartPrinciples: orDefault(cfg.SmartPrinciples, DefaultSmartPrinciples),
		smartWorkflows:  orDefault(cfg.SmartWorkflows, DefaultSmartWorkflows),
	}
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// Recommendation is one suggested prompt.
type Recommendation struct {
	Name        string            `json:"name"`
	Namespace   prompts.Namespace `json:"namespace"`
	Ref         string            `json:"ref"`
	Relevance   float64           `json:"relevance"`
	UsageCount  int               `json:"usage_count"`
	Tags        []string          `json:"tags,omitempty"`
	Description string            `json:"description,omitempty"`
}

// HasTag reports whether the recommended prompt carries tag.
func (r Recommendation) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// Result is the outcome of Discover.
type Result struct {
	Task       string           `json:"task"`
	Mode       string           `json:"mode"`
	Principles []Recommendation `json:"recommended_principles"`
	Workflows  []Recommendation `json:"recommended_workflows"`
	Suggested  []string         `json:"suggested_refs"`
	Insight    string           `json:"insight"`
	Fallback   string           `json:"fallback_reason,omitempty"`
}

// Discover ranks the whole corpus against task and returns the top
// principles and workflows. Every prompt is scored, so a partition is
// only empty when the corpus holds no prompt with that tag.
func (e *Engine) Discover(ctx context.Context, task string) (*Result, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, prompts.Validationf("task description is required")
	}

	ranked, mode, reason, err := e.rank(ctx, task)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Task:       task,
		Mode:       mode,
		Principles: []Recommendation{},
		Workflows:  []Recommendation{},
		Fallback:   reason,
	}
	for _, r := range ranked {
		if r.HasTag(prompts.TagPrinciple) && len(res.Principles) < e.principles {
			res.Principles = append(res.Principles, r)
		}
		if r.HasTag(prompts.TagWorkflow) && len(res.Workflows) < e.workflows {
			res.Workflows = append(res.Workflows, r)
		}
	}

	sel := e.selectFrom(res, true, true)
	res.Suggested = sel.Refs()
	res.Insight = insight(len(res.Principles), len(res.Workflows))

	e.logger.Debug("prompts discovered",
		"mode", mode,
		"principles", len(res.Principles),
		"workflows", len(res.Workflows),
	)
	return res, nil
}

// rank returns every corpus document ordered by relevance to task.
func (e *Engine) rank(ctx context.Context, task string) ([]Recommendation, string, string, error) {
	if e.index != nil {
		matches, err := e.index.SimilaritySearch(ctx, task, math.MaxInt32, -1)
		if err == nil {
			out := make([]Recommendation, 0, len(matches))
			for _, m := range matches {
				out = append(out, Recommendation{
					Name:        m.Name,
					Namespace:   m.Namespace,
					Ref:         m.Ref,
					Relevance:   roundScore(float64(m.Score)),
					UsageCount:  m.UsageCount,
					Tags:        m.Tags,
					Description: m.Description,
				})
			}
			return out, ModeSemantic, "", nil
		}
		if !errors.Is(err, prompts.ErrCapabilityUnavailable) {
			return nil, "", "", err
		}
		e.logger.Info("semantic discovery unavailable, using lexical ranking", "error", err)
		return e.rankLexical(ctx, task, err.Error())
	}
	return e.rankLexical(ctx, task, "no embedding provider configured")
}

func (e *Engine) rankLexical(ctx context.Context, task, reason string) ([]Recommendation, string, string, error) {
	docs, err := e.corpus.Documents(ctx)
	if err != nil {
		return nil, "", "", fmt.Errorf("load corpus: %w", err)
	}
	hits, err := e.lexical.Rank(ctx, docs, task)
	if err != nil {
		return nil, "", "", err
	}
	out := make([]Recommendation, 0, len(hits))
	for _, h := range hits {
		out = append(out, Recommendation{
			Name:        h.Name,
			Namespace:   h.Namespace,
			Ref:         h.Ref(),
			Relevance:   roundScore(h.Score),
			UsageCount:  h.UsageCount,
			Tags:        h.Tags,
			Description: h.Description,
		})
	}
	return out, ModeLexical, reason, nil
}

// Selection is the set of prompts chosen for a smart composition.
type Selection struct {
	Principles []Recommendation `json:"principles"`
	Workflows  []Recommendation `json:"workflows"`
}

// Refs returns namespace-qualified references, principles first.
func (s Selection) Refs() []string {
	refs := make([]string, 0, len(s.Principles)+len(s.Workflows))
	for _, r := range s.Principles {
		refs = append(refs, r.Ref)
	}
	for _, r := range s.Workflows {
		refs = append(refs, r.Ref)
	}
	return refs
}

func (e *Engine) selectFrom(res *Result, principles, workflows bool) Selection {
	sel := Selection{Principles: []Recommendation{}, Workflows: []Recommendation{}}
	if principles {
		sel.Principles = append(sel.Principles, res.Principles[:min(e.smartPrinciples, len(res.Principles))]...)
	}
	if workflows {
		seen := make(map[string]bool, len(sel.Principles))
		for _, p := range sel.Principles {
			seen[p.Ref] = true
		}
		for _, w := range res.Workflows {
			if len(sel.Workflows) >= e.smartWorkflows {
				break
			}
			if !seen[w.Ref] {
				sel.Workflows = append(sel.Workflows, w)
			}
		}
	}
	return sel
}

// SmartOptions controls ComposeSmart.
type SmartOptions struct {
	MaxTokens         int
	IncludePrinciples bool
	IncludeWorkflows  bool
}

// DefaultSmartOptions includes both principles and workflows with no
// token budget.
func DefaultSmartOptions() SmartOptions {
	return SmartOptions{IncludePrinciples: true, IncludeWorkflows: true}
}

// SmartResult is a composition assembled from discovered prompts.
type SmartResult struct {
	*composer.Result
	Task      string    `json:"task"`
	Mode      string    `json:"mode"`
	Refs      []string  `json:"refs"`
	Selection Selection `json:"selection"`
}

// ComposeSmart discovers prompts for task, selects the top principles
// and workflows, and composes them. The composition is identical to
// calling the composer with the returned Refs.
func (e *Engine) ComposeSmart(ctx context.Context, task string, opts SmartOptions) (*SmartResult, error) {
	if opts.MaxTokens < 0 {
		return nil, prompts.Validationf("max_tokens must not be negative")
	}
	if !opts.IncludePrinciples && !opts.IncludeWorkflows {
		return nil, prompts.Validationf("at least one of principles or workflows must be included")
	}

	disc, err := e.Discover(ctx, task)
	if err != nil {
		return nil, err
	}
	sel := e.selectFrom(disc, opts.IncludePrinciples, opts.IncludeWorkflows)
	refs := sel.Refs()
	if len(refs) == 0 {
		return nil, prompts.NotFoundf("no prompts matched task %q", disc.Task)
	}

	composed, err := e.composer.Compose(ctx, refs, composer.Options{
		Deduplicate: true,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("smart composition built",
		"mode", disc.Mode,
		"refs", refs,
		"tokens", composed.TokenCount,
	)
	return &SmartResult{
		Result:    composed,
		Task:      disc.Task,
		Mode:      disc.Mode,
		Refs:      refs,
		Selection: sel,
	}, nil
}

func insight(principles, workflows int) string {
	switch {
	case principles == 0 && workflows == 0:
		return "No relevant prompts found. Consider saving a custom prompt for this task type."
	case workflows == 0:
		return "Found guiding principles but no workflow. Consider saving a workflow for this task."
	case principles == 0:
		return "Found workflows; consider loading principles alongside them."
	default:
		return "Found principles and workflows. Compose the suggested refs to load them together."
	}
}

func roundScore(s float64) float64 {
	return math.Round(s*10000) / 10000
}
