package tools

import (
	"context"
	"strings"

	"github.com/nugget/shippopotamus/internal/composer"
	"github.com/nugget/shippopotamus/internal/discovery"
	"github.com/nugget/shippopotamus/internal/prompts"
)

// DefaultBootstrapRefs is the starter pack composed by bootstrap_session.
var DefaultBootstrapRefs = []string{
	"ask_plan_act",
	"quality_axioms",
	"context_economy",
	"safe_coding",
}

// BootstrapSeparator joins the starter pack.
var BootstrapSeparator = "\n\n" + strings.Repeat("=", 60) + "\n\n"

func (r *Registry) registerDiscoveryTools() {
	r.Register(&Tool{
		Name:        "search_prompts",
		Description: "Semantic search over all prompts. Requires an embedding provider; use discover_prompts for a search that also works offline.",
		Parameters: object([]string{"query"}, map[string]any{
			"query":          prop("string", "Natural language description of what you want to do"),
			"top_k":          map[string]any{"type": "integer", "minimum": 1, "description": "Maximum results (default 5)"},
			"min_similarity": map[string]any{"type": "number", "minimum": -1, "maximum": 1, "description": "Minimum cosine similarity"},
		}),
		Handler: r.handleSearchPrompts,
	})

	r.Register(&Tool{
		Name:        "discover_prompts",
		Description: "Recommend principles (how to work) and workflows (what to do) for a task.",
		Parameters: object([]string{"task_description"}, map[string]any{
			"task_description": prop("string", "The task you want to accomplish"),
		}),
		Handler: r.handleDiscoverPrompts,
	})

	r.Register(&Tool{
		Name:        "compose_smart",
		Description: "Discover the best principles and workflow for a task and compose them in one step.",
		Parameters: object([]string{"task_description"}, map[string]any{
			"task_description":   prop("string", "The task you want to accomplish"),
			"max_tokens":         map[string]any{"type": "integer", "minimum": 0, "description": "Token budget (0 = none)"},
			"include_principles": prop("boolean", "Include guiding principles (default true)"),
			"include_workflows":  prop("boolean", "Include a task workflow (default true)"),
		}),
		Handler: r.handleComposeSmart,
	})

	r.Register(&Tool{
		Name:        "bootstrap_session",
		Description: "Recommended first call: load the starter methodology pack for this session.",
		Parameters:  object(nil, map[string]any{}),
		Handler:     r.handleBootstrapSession,
	})

	r.Register(&Tool{
		Name:        "index_status",
		Description: "Report the embedding index state, optionally bringing it up to date first.",
		Parameters: object(nil, map[string]any{
			"refresh": prop("boolean", "Build or refresh the index before reporting (default false)"),
		}),
		Handler: r.handleIndexStatus,
	})
}

func (r *Registry) handleSearchPrompts(ctx context.Context, args map[string]any) (any, error) {
	if r.deps.Index == nil {
		return nil, prompts.CapabilityUnavailable("semantic search", errNoProvider)
	}
	query := stringArg(args, "query")
	matches, err := r.deps.Index.SimilaritySearch(ctx, query,
		intArg(args, "top_k", r.deps.SearchTopK),
		float32(floatArg(args, "min_similarity", float64(r.deps.SearchMinSimilarity))),
	)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"query":   strings.TrimSpace(query),
		"results": matches,
		"count":   len(matches),
		"model":   r.deps.Index.Model(),
	}
	if len(matches) == 0 {
		out["message"] = "No similar prompts found. Try a different query or use list_available."
	}
	return out, nil
}

func (r *Registry) handleDiscoverPrompts(ctx context.Context, args map[string]any) (any, error) {
	return r.deps.Discovery.Discover(ctx, stringArg(args, "task_description"))
}

func (r *Registry) handleComposeSmart(ctx context.Context, args map[string]any) (any, error) {
	return r.deps.Discovery.ComposeSmart(ctx, stringArg(args, "task_description"), discovery.SmartOptions{
		MaxTokens:         intArg(args, "max_tokens", 0),
		IncludePrinciples: boolArg(args, "include_principles", true),
		IncludeWorkflows:  boolArg(args, "include_workflows", true),
	})
}

func (r *Registry) handleBootstrapSession(ctx context.Context, _ map[string]any) (any, error) {
	res, err := r.deps.Composer.Compose(ctx, r.deps.BootstrapRefs, composer.Options{
		Deduplicate: true,
		Separator:   BootstrapSeparator,
	})
	if err != nil {
		return nil, err
	}
	loaded := make([]string, 0, len(res.Sources))
	for _, s := range res.Sources {
		if s.Status == composer.StatusIncluded {
			loaded = append(loaded, s.Ref)
		}
	}
	r.logger.Info("session bootstrapped", "prompts", len(loaded), "tokens", res.TokenCount)
	return map[string]any{
		"status":      "ready",
		"loaded":      loaded,
		"content":     res.Content,
		"token_count": res.TokenCount,
		"sources":     res.Sources,
		"next_steps": []string{
			"discover_prompts to find prompts for your task",
			"compose_smart to load the best matches in one step",
			"save_prompt to keep a pattern for later sessions",
		},
	}, nil
}

func (r *Registry) handleIndexStatus(ctx context.Context, args map[string]any) (any, error) {
	if r.deps.Index == nil {
		return map[string]any{"state": "disabled", "reason": errNoProvider.Error()}, nil
	}
	out := map[string]any{}
	if boolArg(args, "refresh", false) {
		stats, err := r.deps.Index.EnsureIndexed(ctx)
		if err != nil {
			return nil, err
		}
		out["build"] = stats
	}
	out["status"] = r.deps.Index.Status()
	return out, nil
}
