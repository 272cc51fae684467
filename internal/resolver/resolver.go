// Package resolver turns prompt reference strings into content. It
// implements the two-namespace lookup (custom shadows built-in) and
// direct file reads, and records usage for every successful resolution.
package resolver

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nugget/shippopotamus/internal/paths"
	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/internal/registry"
	"github.com/nugget/shippopotamus/internal/tokens"
)

// Config wires a Resolver.
type Config struct {
	Registry *registry.Registry
	Paths    *paths.Resolver
	Logger   *slog.Logger
}

// Resolver resolves prompt references.
type Resolver struct {
	registry *registry.Registry
	paths    *paths.Resolver
	logger   *slog.Logger
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		registry: cfg.Registry,
		paths:    cfg.Paths,
		logger:   logger,
	}
}

// Resolved is a successfully resolved reference.
type Resolved struct {
	Ref    string
	Prompt *prompts.Prompt
	Tokens int
}

// Descriptor returns the provenance record for r.
func (r *Resolved) Descriptor() prompts.Descriptor {
	d := prompts.Descriptor{
		Ref:    r.Ref,
		Name:   r.Prompt.Name,
		Source: r.Prompt.Source,
		Path:   r.Prompt.FilePath,
		Tags:   r.Prompt.Tags,
		Tokens: r.Tokens,
	}
	if r.Prompt.Source != prompts.SourceFile {
		d.Namespace = r.Prompt.Namespace()
		d.Path = ""
	}
	return d
}

// Resolve fetches the content ref points to. Lookup order for a bare
// name is custom, then built-in.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Resolved, error) {
	parsed, err := prompts.ParseRef(ref)
	if err != nil {
		return nil, err
	}

	var p *prompts.Prompt
	switch parsed.Kind {
	case prompts.RefFile:
		p, err = r.readFile(parsed.Value)
	case prompts.RefCustom:
		p, err = r.registry.Get(ctx, parsed.Value)
	case prompts.RefBuiltin:
		p, err = r.registry.Builtin(ctx, parsed.Value)
	default:
		p, err = r.registry.Get(ctx, parsed.Value)
		if prompts.KindOf(err) == prompts.KindNotFound {
			p, err = r.registry.Builtin(ctx, parsed.Value)
			if prompts.KindOf(err) == prompts.KindNotFound {
				err = prompts.NotFoundf("prompt %q not found in custom or built-in prompts", parsed.Value)
			}
		}
	}
	if err != nil {
		r.logger.Debug("reference resolution failed", "ref", ref, "kind", prompts.KindOf(err))
		return nil, err
	}

	res := &Resolved{
		Ref:    strings.TrimSpace(ref),
		Prompt: p,
		Tokens: tokens.Estimate(p.Content),
	}

	if err := r.registry.RecordUsage(ctx, p, res.Ref, res.Tokens); err != nil {
		r.logger.Warn("failed to record prompt usage", "ref", res.Ref, "error", err)
	}

	r.logger.Debug("reference resolved",
		"ref", res.Ref,
		"kind", parsed.Kind,
		"source", p.Source,
		"tokens", res.Tokens,
	)
	return res, nil
}

func (r *Resolver) readFile(value string) (*prompts.Prompt, error) {
	path := r.paths.Resolve(value)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, prompts.FileReadError(value, err)
	}
	content := string(data)
	return &prompts.Prompt{
		Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Content:     content,
		Tags:        []string{},
		Source:      prompts.SourceFile,
		Description: prompts.Describe(content),
		FilePath:    path,
	}, nil
}

// LoadResult is the outcome for one reference of a batch.
type LoadResult struct {
	Ref        string           `json:"ref"`
	OK         bool             `json:"ok"`
	Name       string           `json:"name,omitempty"`
	Source     prompts.Source   `json:"source,omitempty"`
	Content    string           `json:"content,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
	Tokens     int              `json:"tokens,omitempty"`
	UsageCount int              `json:"usage_count,omitempty"`
	Error      *prompts.Payload `json:"error,omitempty"`
}

// BatchLoad resolves every ref independently. Results are in input
// order; a failed ref is reported in place and does not stop the rest.
func (r *Resolver) BatchLoad(ctx context.Context, refs []string) []LoadResult {
	out := make([]LoadResult, 0, len(refs))
	for _, ref := range refs {
		res, err := r.Resolve(ctx, ref)
		if err != nil {
			out = append(out, LoadResult{Ref: ref, Error: prompts.PayloadOf(err)})
			continue
		}
		out = append(out, LoadResult{
			Ref:        ref,
			OK:         true,
			Name:       res.Prompt.Name,
			Source:     res.Prompt.Source,
			Content:    res.Prompt.Content,
			Tags:       res.Prompt.Tags,
			Tokens:     res.Tokens,
			UsageCount: res.Prompt.UsageCount,
		})
	}
	return out
}
