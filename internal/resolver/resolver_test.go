package resolver

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"

	"github.com/nugget/shippopotamus/internal/catalog"
	"github.com/nugget/shippopotamus/internal/paths"
	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/internal/registry"
)

func newTestResolver(t *testing.T) (*Resolver, *registry.Registry, string) {
	t.Helper()
	root := t.TempDir()

	cat, err := catalog.New(catalog.Config{Embedded: fstest.MapFS{
		"patterns/safe_coding.md": {Data: []byte("---\ntags: [principle]\n---\nBuilt-in safe coding.")},
		"patterns/shared.md":      {Data: []byte("Built-in shared.")},
	}})
	if err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	pr := paths.New(root, map[string]string{"notes": filepath.Join(root, "notes")})
	reg, err := registry.NewWithDB(db, registry.Config{Catalog: cat, Paths: pr})
	if err != nil {
		t.Fatal(err)
	}
	return New(Config{Registry: reg, Paths: pr}), reg, root
}

func TestResolve(t *testing.T) {
	r, reg, root := newTestResolver(t)
	ctx := context.Background()

	if _, err := reg.Save(ctx, registry.SaveRequest{Name: "shared", Content: "Custom shared."}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Save(ctx, registry.SaveRequest{Name: "mine", Content: "Only custom."}); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes", "todo.md"), []byte("From a file."), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		ref         string
		wantContent string
		wantSource  prompts.Source
		wantKind    prompts.Kind // empty = success
	}{
		{"shared", "Custom shared.", prompts.SourceCustom, ""},
		{"custom:shared", "Custom shared.", prompts.SourceCustom, ""},
		{"shippopotamus:shared", "Built-in shared.", prompts.SourceBuiltin, ""},
		{"builtin:shared", "Built-in shared.", prompts.SourceBuiltin, ""},
		{"safe_coding", "Built-in safe coding.", prompts.SourceBuiltin, ""},
		{"mine", "Only custom.", prompts.SourceCustom, ""},
		{"file:notes/todo.md", "From a file.", prompts.SourceFile, ""},
		{"file:notes:todo.md", "From a file.", prompts.SourceFile, ""},
		{"  mine  ", "Only custom.", prompts.SourceCustom, ""},
		{"custom:safe_coding", "", "", prompts.KindNotFound},
		{"shippopotamus:mine", "", "", prompts.KindNotFound},
		{"ghost", "", "", prompts.KindNotFound},
		{"file:missing.md", "", "", prompts.KindFileRead},
		{"nonexistent:xyz", "", "", prompts.KindInvalidReference},
		{"", "", "", prompts.KindInvalidReference},
		{"custom:", "", "", prompts.KindInvalidReference},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			res, err := r.Resolve(ctx, tt.ref)
			if tt.wantKind != "" {
				if prompts.KindOf(err) != tt.wantKind {
					t.Fatalf("Resolve(%q) error = %v, want kind %s", tt.ref, err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.ref, err)
			}
			if res.Prompt.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", res.Prompt.Content, tt.wantContent)
			}
			if res.Prompt.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", res.Prompt.Source, tt.wantSource)
			}
			if res.Tokens < 1 {
				t.Errorf("Tokens = %d, want >= 1", res.Tokens)
			}
		})
	}
}

func TestResolve_IncrementsUsage(t *testing.T) {
	r, reg, _ := newTestResolver(t)
	ctx := context.Background()

	_, _ = reg.Save(ctx, registry.SaveRequest{Name: "a", Content: "x"})

	for i := 1; i <= 3; i++ {
		res, err := r.Resolve(ctx, "a")
		if err != nil {
			t.Fatal(err)
		}
		if res.Prompt.UsageCount != i {
			t.Errorf("resolution %d: UsageCount = %d", i, res.Prompt.UsageCount)
		}
	}

	// Failed resolutions do not count.
	_, _ = r.Resolve(ctx, "custom:nope")
	p, _ := reg.Get(ctx, "a")
	if p.UsageCount != 3 {
		t.Errorf("stored UsageCount = %d, want 3", p.UsageCount)
	}

	if _, err := r.Resolve(ctx, "safe_coding"); err != nil {
		t.Fatal(err)
	}
	b, _ := reg.Builtin(ctx, "safe_coding")
	if b.UsageCount != 1 {
		t.Errorf("built-in UsageCount = %d, want 1", b.UsageCount)
	}
}

func TestDescriptor(t *testing.T) {
	r, _, root := newTestResolver(t)
	ctx := context.Background()

	path := filepath.Join(root, "x.md")
	if err := os.WriteFile(path, []byte("file text"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := r.Resolve(ctx, "file:x.md")
	if err != nil {
		t.Fatal(err)
	}
	d := res.Descriptor()
	if d.Source != prompts.SourceFile || d.Path != path || d.Name != "x" || d.Namespace != "" {
		t.Errorf("file descriptor = %+v", d)
	}

	res, err = r.Resolve(ctx, "safe_coding")
	if err != nil {
		t.Fatal(err)
	}
	d = res.Descriptor()
	if d.Namespace != prompts.NamespaceBuiltin || d.Path != "" || d.Ref != "safe_coding" {
		t.Errorf("built-in descriptor = %+v", d)
	}
}

func TestBatchLoad_PartialFailure(t *testing.T) {
	r, reg, _ := newTestResolver(t)
	ctx := context.Background()

	_, _ = reg.Save(ctx, registry.SaveRequest{Name: "a", Content: "Use tests."})

	got := r.BatchLoad(ctx, []string{"nonexistent:xyz", "a", "ghost"})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}

	if got[0].OK || got[0].Error == nil || got[0].Error.Kind != prompts.KindInvalidReference {
		t.Errorf("got[0] = %+v, want invalid reference failure", got[0])
	}
	if !got[1].OK || got[1].Content != "Use tests." || got[1].Source != prompts.SourceCustom {
		t.Errorf("got[1] = %+v, want success", got[1])
	}
	if got[2].OK || got[2].Error.Kind != prompts.KindNotFound {
		t.Errorf("got[2] = %+v, want not found", got[2])
	}
	if got[0].Ref != "nonexistent:xyz" || got[2].Ref != "ghost" {
		t.Error("results not in input order")
	}
}

func TestResolve_ErrorIsMatchable(t *testing.T) {
	r, _, _ := newTestResolver(t)
	_, err := r.Resolve(context.Background(), "ghost")
	if !errors.Is(err, prompts.ErrNotFound) {
		t.Errorf("errors.Is(err, ErrNotFound) = false for %v", err)
	}
	var pe *prompts.Error
	if !errors.As(err, &pe) || pe.Message == "" {
		t.Errorf("errors.As failed or empty message: %v", err)
	}
}
