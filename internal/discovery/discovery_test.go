package discovery

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/shippopotamus/internal/catalog"
	"github.com/nugget/shippopotamus/internal/composer"
	"github.com/nugget/shippopotamus/internal/embeddings"
	"github.com/nugget/shippopotamus/internal/index"
	"github.com/nugget/shippopotamus/internal/paths"
	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/internal/registry"
	"github.com/nugget/shippopotamus/internal/resolver"
	"github.com/nugget/shippopotamus/library"
)

type failingProvider struct{}

func (failingProvider) Name() string  { return "down" }
func (failingProvider) Model() string { return "down-1" }
func (failingProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("dial tcp 127.0.0.1:11434: connection refused")
}

type fixture struct {
	reg      *registry.Registry
	composer *composer.Composer
	engine   *Engine
}

// newFixture wires the shipped library into a full stack. provider nil
// means no index at all.
func newFixture(t *testing.T, provider embeddings.Provider) *fixture {
	t.Helper()

	cat, err := catalog.New(catalog.Config{Embedded: library.FS})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	reg, err := registry.NewWithDB(db, registry.Config{Catalog: cat, Paths: paths.New(t.TempDir(), nil)})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	comp := composer.New(composer.Config{Resolver: resolver.New(resolver.Config{Registry: reg})})

	cfg := Config{Corpus: reg, Composer: comp}
	if provider != nil {
		ix, err := index.New(index.Config{DB: reg.DB(), Corpus: reg, Provider: provider})
		if err != nil {
			t.Fatalf("index: %v", err)
		}
		cfg.Index = ix
	}
	return &fixture{reg: reg, composer: comp, engine: New(cfg)}
}

func refNames(recs []Recommendation) map[string]bool {
	m := make(map[string]bool, len(recs))
	for _, r := range recs {
		m[r.Name] = true
	}
	return m
}

func TestDiscover_RefactorLegacyAuth(t *testing.T) {
	for _, tt := range []struct {
		name     string
		provider embeddings.Provider
		mode     string
	}{
		{"semantic", embeddings.NewHashing(embeddings.DefaultHashingDimensions), ModeSemantic},
		{"lexical without index", nil, ModeLexical},
		{"lexical on provider failure", failingProvider{}, ModeLexical},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.provider)
			res, err := f.engine.Discover(context.Background(), "refactor legacy authentication code")
			if err != nil {
				t.Fatalf("Discover: %v", err)
			}
			if res.Mode != tt.mode {
				t.Errorf("Mode = %s, want %s", res.Mode, tt.mode)
			}
			if tt.mode == ModeLexical && res.Fallback == "" {
				t.Error("lexical result should carry a fallback reason")
			}
			if len(res.Principles) != DefaultPrinciples {
				t.Errorf("principles = %d, want %d", len(res.Principles), DefaultPrinciples)
			}
			if len(res.Workflows) != DefaultWorkflows {
				t.Fatalf("workflows = %d, want %d", len(res.Workflows), DefaultWorkflows)
			}
			top := res.Workflows[0].Name
			if top != "refactoring_workflow" && top != "security_review_workflow" {
				t.Errorf("top workflow = %s", top)
			}
			for _, p := range res.Principles {
				if !p.HasTag(prompts.TagPrinciple) {
					t.Errorf("%s is not a principle", p.Name)
				}
			}
			if len(res.Suggested) != DefaultSmartPrinciples+DefaultSmartWorkflows {
				t.Errorf("Suggested = %v", res.Suggested)
			}
		})
	}
}

func TestDiscover_Validation(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.engine.Discover(context.Background(), " "); !errors.Is(err, prompts.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestDiscover_Deterministic(t *testing.T) {
	f := newFixture(t, embeddings.NewHashing(128))
	ctx := context.Background()

	first, err := f.engine.Discover(ctx, "write documentation for an API")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		again, err := f.engine.Discover(ctx, "write documentation for an API")
		if err != nil {
			t.Fatal(err)
		}
		for j := range first.Principles {
			if again.Principles[j].Ref != first.Principles[j].Ref {
				t.Fatalf("run %d principle %d = %s, want %s", i, j, again.Principles[j].Ref, first.Principles[j].Ref)
			}
		}
	}
}

func TestComposeSmart_MatchesCompose(t *testing.T) {
	for _, provider := range []embeddings.Provider{embeddings.NewHashing(256), nil} {
		f := newFixture(t, provider)
		ctx := context.Background()

		smart, err := f.engine.ComposeSmart(ctx, "refactor legacy authentication code", DefaultSmartOptions())
		if err != nil {
			t.Fatalf("ComposeSmart: %v", err)
		}
		if len(smart.Selection.Principles) != 2 || len(smart.Selection.Workflows) != 1 {
			t.Errorf("selection = %d principles, %d workflows", len(smart.Selection.Principles), len(smart.Selection.Workflows))
		}
		if len(smart.Refs) != 3 {
			t.Fatalf("Refs = %v", smart.Refs)
		}

		plain, err := f.composer.Compose(ctx, smart.Refs, composer.DefaultOptions())
		if err != nil {
			t.Fatalf("Compose: %v", err)
		}
		if plain.TokenCount != smart.TokenCount || plain.Content != smart.Content {
			t.Errorf("smart tokens = %d, compose tokens = %d", smart.TokenCount, plain.TokenCount)
		}
	}
}

func TestComposeSmart_QualifiedRefsBypassShadowing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// A custom prompt named like a built-in but with unrelated content.
	if _, err := f.reg.Save(ctx, registry.SaveRequest{Name: "refactoring_workflow", Content: "Bake bread."}); err != nil {
		t.Fatal(err)
	}

	smart, err := f.engine.ComposeSmart(ctx, "refactor legacy code", SmartOptions{IncludeWorkflows: true})
	if err != nil {
		t.Fatalf("ComposeSmart: %v", err)
	}
	if len(smart.Selection.Principles) != 0 {
		t.Errorf("principles selected with IncludePrinciples=false: %v", smart.Selection.Principles)
	}
	if smart.Refs[0] != "shippopotamus:refactoring_workflow" {
		t.Errorf("Refs = %v, want qualified built-in ref", smart.Refs)
	}
	if smart.Sources[0].Source != prompts.SourceBuiltin {
		t.Errorf("composed source = %s", smart.Sources[0].Source)
	}
}

func TestComposeSmart_Budget(t *testing.T) {
	f := newFixture(t, nil)
	opts := DefaultSmartOptions()
	opts.MaxTokens = 50

	smart, err := f.engine.ComposeSmart(context.Background(), "debug a failing test", opts)
	if err != nil {
		t.Fatal(err)
	}
	if smart.TokenCount > 50 && !smart.Truncated {
		t.Errorf("tokens %d over budget without truncation", smart.TokenCount)
	}
}

func TestComposeSmart_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.engine.ComposeSmart(ctx, "x", SmartOptions{}); !errors.Is(err, prompts.ErrValidation) {
		t.Errorf("nothing included err = %v", err)
	}
	if _, err := f.engine.ComposeSmart(ctx, "x", SmartOptions{IncludePrinciples: true, MaxTokens: -1}); !errors.Is(err, prompts.ErrValidation) {
		t.Errorf("negative budget err = %v", err)
	}

	// An empty corpus yields no candidates.
	cat, err := catalog.New(catalog.Config{})
	if err != nil {
		t.Fatal(err)
	}
	db, _ := sql.Open("sqlite", ":memory:")
	defer db.Close()
	reg, err := registry.NewWithDB(db, registry.Config{Catalog: cat})
	if err != nil {
		t.Fatal(err)
	}
	empty := New(Config{
		Corpus:   reg,
		Composer: composer.New(composer.Config{Resolver: resolver.New(resolver.Config{Registry: reg})}),
	})
	if _, err := empty.ComposeSmart(ctx, "anything", DefaultSmartOptions()); !errors.Is(err, prompts.ErrNotFound) {
		t.Errorf("empty corpus err = %v, want not found", err)
	}
}
