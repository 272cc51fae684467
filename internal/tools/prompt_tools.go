package tools

import (
	"context"
	"strings"
	"time"

	"github.com/nugget/shippopotamus/internal/composer"
	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/internal/registry"
	"github.com/nugget/shippopotamus/internal/tokens"
)

const refHelp = "Prompt reference: name (custom first, then built-in), custom:<name>, shippopotamus:<name>, or file:<path>"

func (r *Registry) registerPromptTools() {
	r.Register(&Tool{
		Name:        "get_prompt",
		Description: "Load a single prompt by reference and return its content, provenance, and token estimate.",
		Parameters: object([]string{"name"}, map[string]any{
			"name": prop("string", refHelp),
		}),
		Handler: r.handleGetPrompt,
	})

	r.Register(&Tool{
		Name:        "save_prompt",
		Description: "Save a custom prompt from inline content or a file. Saving an existing name replaces its content and keeps the previous version in history.",
		Parameters: object([]string{"name"}, map[string]any{
			"name":           prop("string", "Prompt name (no colons)"),
			"content":        prop("string", "Prompt text. Provide exactly one of content or file_path."),
			"file_path":      prop("string", "File whose content is captured at save time"),
			"tags":           stringList("Classification tags, e.g. principle or workflow", 0),
			"parent_prompts": stringList("Names of prompts this one derives from", 0),
		}),
		Handler: r.handleSavePrompt,
	})

	r.Register(&Tool{
		Name:        "load_prompts",
		Description: "Load several prompts at once. Each reference succeeds or fails independently.",
		Parameters: object([]string{"prompt_refs"}, map[string]any{
			"prompt_refs": stringList(refHelp, 1),
		}),
		Handler: r.handleLoadPrompts,
	})

	r.Register(&Tool{
		Name:        "compose_prompts",
		Description: "Combine prompts into one block, removing repeated paragraphs and optionally fitting a token budget.",
		Parameters: object([]string{"prompt_refs"}, map[string]any{
			"prompt_refs": stringList(refHelp, 1),
			"deduplicate": prop("boolean", "Remove paragraphs already emitted by an earlier prompt (default true)"),
			"max_tokens":  map[string]any{"type": "integer", "minimum": 0, "description": "Token budget; trailing prompts are dropped to fit (0 = none)"},
			"separator":   prop("string", "Text placed between prompts (default a horizontal rule)"),
		}),
		Handler: r.handleComposePrompts,
	})

	r.Register(&Tool{
		Name:        "list_available",
		Description: "List built-in prompts grouped by category and custom prompts, with usage counts. Optionally filter by tags.",
		Parameters: object(nil, map[string]any{
			"include_defaults": prop("boolean", "Include built-in prompts (default true)"),
			"include_custom":   prop("boolean", "Include custom prompts (default true)"),
			"tags":             stringList("Keep prompts sharing at least one of these tags", 0),
		}),
		Handler: r.handleListAvailable,
	})

	r.Register(&Tool{
		Name:        "search_by_tag",
		Description: "Find prompts carrying any of the given tags, most used first.",
		Parameters: object([]string{"tags"}, map[string]any{
			"tags": stringList("Tags to match", 1),
		}),
		Handler: r.handleSearchByTag,
	})

	r.Register(&Tool{
		Name:        "estimate_context",
		Description: "Estimate how much context inline content or a set of prompts would consume.",
		Parameters: object(nil, map[string]any{
			"content":     prop("string", "Text to estimate. Provide exactly one of content or prompt_refs."),
			"prompt_refs": stringList(refHelp, 1),
		}),
		Handler: r.handleEstimateContext,
	})

	r.Register(&Tool{
		Name:        "prompt_history",
		Description: "Show previous versions of a custom prompt, newest first.",
		Parameters: object([]string{"name"}, map[string]any{
			"name": prop("string", "Custom prompt name"),
		}),
		Handler: r.handlePromptHistory,
	})

	r.Register(&Tool{
		Name:        "validate_prompts",
		Description: "Check every built-in catalog file for malformed frontmatter, duplicate names, empty or oversized prompts, and missing descriptions or tags.",
		Parameters:  object(nil, map[string]any{}),
		Handler: func(context.Context, map[string]any) (any, error) {
			cat := r.deps.Registry.Catalog()
			if cat == nil {
				return nil, prompts.CapabilityUnavailable("catalog", nil)
			}
			return cat.Validate(), nil
		},
	})
}

type promptView struct {
	prompts.Descriptor
	Content       string     `json:"content"`
	Description   string     `json:"description,omitempty"`
	Category      string     `json:"category,omitempty"`
	ParentPrompts []string   `json:"parent_prompts,omitempty"`
	UsageCount    int        `json:"usage_count"`
	Version       int        `json:"version,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

func (r *Registry) handleGetPrompt(ctx context.Context, args map[string]any) (any, error) {
	res, err := r.deps.Resolver.Resolve(ctx, stringArg(args, "name"))
	if err != nil {
		return nil, err
	}
	p := res.Prompt
	view := promptView{
		Descriptor:    res.Descriptor(),
		Content:       p.Content,
		Description:   p.Description,
		Category:      p.Category,
		ParentPrompts: p.ParentPrompts,
		UsageCount:    p.UsageCount,
		Version:       p.Version,
	}
	if !p.UpdatedAt.IsZero() {
		view.UpdatedAt = &p.UpdatedAt
	}
	return view, nil
}

func (r *Registry) handleSavePrompt(ctx context.Context, args map[string]any) (any, error) {
	p, err := r.deps.Registry.Save(ctx, registry.SaveRequest{
		Name:          stringArg(args, "name"),
		Content:       stringArg(args, "content"),
		FilePath:      stringArg(args, "file_path"),
		Tags:          stringsArg(args, "tags"),
		ParentPrompts: stringsArg(args, "parent_prompts"),
	})
	if err != nil {
		return nil, err
	}

	status := "created"
	if p.Version > 1 {
		status = "updated"
	}
	return map[string]any{
		"status":  status,
		"name":    p.Name,
		"ref":     prompts.PrefixCustom + p.Name,
		"version": p.Version,
		"tags":    nonNilStrings(p.Tags),
		"tokens":  tokens.Estimate(p.Content),
	}, nil
}

func (r *Registry) handleLoadPrompts(ctx context.Context, args map[string]any) (any, error) {
	results := r.deps.Resolver.BatchLoad(ctx, stringsArg(args, "prompt_refs"))
	loaded, total := 0, 0
	for _, res := range results {
		if res.OK {
			loaded++
			total += res.Tokens
		}
	}
	return map[string]any{
		"results":      results,
		"loaded":       loaded,
		"failed":       len(results) - loaded,
		"total_tokens": total,
	}, nil
}

func (r *Registry) handleComposePrompts(ctx context.Context, args map[string]any) (any, error) {
	return r.deps.Composer.Compose(ctx, stringsArg(args, "prompt_refs"), composer.Options{
		Deduplicate: boolArg(args, "deduplicate", true),
		MaxTokens:   intArg(args, "max_tokens", 0),
		Separator:   stringArg(args, "separator"),
	})
}

func (r *Registry) handleListAvailable(ctx context.Context, args map[string]any) (any, error) {
	return r.deps.Registry.List(ctx, registry.ListOptions{
		IncludeDefaults: boolArg(args, "include_defaults", true),
		IncludeCustom:   boolArg(args, "include_custom", true),
		Tags:            stringsArg(args, "tags"),
	}), nil
}

func (r *Registry) handleSearchByTag(ctx context.Context, args map[string]any) (any, error) {
	found, err := r.deps.Registry.SearchByTag(ctx, stringsArg(args, "tags"))
	if err != nil {
		return nil, err
	}
	type match struct {
		Name       string         `json:"name"`
		Ref        string         `json:"ref"`
		Source     prompts.Source `json:"source"`
		Tags       []string       `json:"tags"`
		UsageCount int            `json:"usage_count"`
		Tokens     int            `json:"tokens"`
	}
	out := make([]match, 0, len(found))
	for _, p := range found {
		ref := prompts.PrefixCustom + p.Name
		if p.Source == prompts.SourceBuiltin {
			ref = prompts.PrefixBuiltin + p.Name
		}
		out = append(out, match{
			Name:       p.Name,
			Ref:        ref,
			Source:     p.Source,
			Tags:       nonNilStrings(p.Tags),
			UsageCount: p.UsageCount,
			Tokens:     tokens.Estimate(p.Content),
		})
	}
	return map[string]any{"results": out, "count": len(out)}, nil
}

type breakdownEntry struct {
	Ref        string  `json:"ref"`
	Tokens     int     `json:"tokens"`
	Percentage float64 `json:"percentage"`
}

func (r *Registry) handleEstimateContext(ctx context.Context, args map[string]any) (any, error) {
	content, hasContent := args["content"].(string)
	refs := stringsArg(args, "prompt_refs")
	switch {
	case !hasContent && len(refs) == 0:
		return nil, prompts.Validationf("provide either content or prompt_refs")
	case hasContent && len(refs) > 0:
		return nil, prompts.Validationf("provide either content or prompt_refs, not both")
	}

	if hasContent {
		n := tokens.Estimate(content)
		return map[string]any{
			"tokens":                       n,
			"characters":                   len([]rune(content)),
			"estimated_context_percentage": tokens.ContextPercentage(n),
			"fit":                          tokens.FitFor(n),
			"recommendations":              nonNilStrings(tokens.Recommendations(n)),
		}, nil
	}

	results := r.deps.Resolver.BatchLoad(ctx, refs)
	total := 0
	for _, res := range results {
		total += res.Tokens
	}
	breakdown := make([]breakdownEntry, 0, len(results))
	var errs []*prompts.Payload
	for _, res := range results {
		if !res.OK {
			errs = append(errs, res.Error)
			continue
		}
		pct := 0.0
		if total > 0 {
			pct = float64(int(float64(res.Tokens)/float64(total)*1000+0.5)) / 10
		}
		breakdown = append(breakdown, breakdownEntry{Ref: res.Ref, Tokens: res.Tokens, Percentage: pct})
	}
	return map[string]any{
		"total_tokens":                 total,
		"breakdown":                    breakdown,
		"errors":                       errs,
		"estimated_context_percentage": tokens.ContextPercentage(total),
		"fit":                          tokens.FitFor(total),
		"recommendations":              nonNilStrings(tokens.Recommendations(total)),
	}, nil
}

func (r *Registry) handlePromptHistory(ctx context.Context, args map[string]any) (any, error) {
	name := strings.TrimSpace(stringArg(args, "name"))
	revs, err := r.deps.Registry.History(ctx, name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": name, "revisions": revs, "count": len(revs)}, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
