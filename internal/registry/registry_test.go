package registry

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"

	"github.com/nugget/shippopotamus/internal/catalog"
	"github.com/nugget/shippopotamus/internal/paths"
	"github.com/nugget/shippopotamus/internal/prompts"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(catalog.Config{Embedded: fstest.MapFS{
		"patterns/safe_coding.md":     {Data: []byte("---\ntags: [principle, safety]\n---\nRead before you write.")},
		"workflows/bugfix_workflow.md": {Data: []byte("---\ntags: [workflow, debugging]\n---\nReproduce, then fix.")},
	}})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return c
}

func newTestRegistry(t *testing.T, root string) *Registry {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	r, err := NewWithDB(db, Config{
		Catalog: testCatalog(t),
		Paths:   paths.New(root, nil),
	})
	if err != nil {
		t.Fatalf("NewWithDB: %v", err)
	}
	return r
}

func TestSaveGet_RoundTrip(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	ctx := context.Background()

	contents := []string{
		"Use tests.",
		"Line one\n\nLine two with ünïcödé and emoji 🦛",
		"  leading and trailing whitespace kept  \n",
	}
	for i, content := range contents {
		name := []string{"a", "b", "c"}[i]
		if _, err := r.Save(ctx, SaveRequest{Name: name, Content: content}); err != nil {
			t.Fatalf("Save(%s): %v", name, err)
		}
		got, err := r.Get(ctx, name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if got.Content != content {
			t.Errorf("Get(%s).Content = %q, want %q", name, got.Content, content)
		}
		if got.Source != prompts.SourceCustom {
			t.Errorf("Source = %q, want custom", got.Source)
		}
	}
}

func TestSave_Validation(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	ctx := context.Background()

	tests := []struct {
		name string
		req  SaveRequest
	}{
		{"empty name", SaveRequest{Content: "x"}},
		{"blank name", SaveRequest{Name: "   ", Content: "x"}},
		{"colon in name", SaveRequest{Name: "custom:x", Content: "x"}},
		{"neither source", SaveRequest{Name: "x"}},
		{"both sources", SaveRequest{Name: "x", Content: "x", FilePath: "x.md"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Save(ctx, tt.req)
			if !errors.Is(err, prompts.ErrValidation) {
				t.Errorf("Save() error = %v, want validation error", err)
			}
		})
	}
}

func TestSave_FromFile(t *testing.T) {
	root := t.TempDir()
	r := newTestRegistry(t, root)
	ctx := context.Background()

	path := filepath.Join(root, "snippets", "review.md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("Review carefully."), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := r.Save(ctx, SaveRequest{Name: "review", FilePath: "snippets/review.md"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if p.FilePath != path {
		t.Errorf("FilePath = %q, want %q", p.FilePath, path)
	}

	// Later edits to the file must not change the saved prompt.
	if err := os.WriteFile(path, []byte("Changed."), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get(ctx, "review")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "Review carefully." {
		t.Errorf("Content = %q, want content captured at save time", got.Content)
	}
}

func TestSave_MissingFile(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	_, err := r.Save(context.Background(), SaveRequest{Name: "x", FilePath: "nope.md"})
	if !errors.Is(err, prompts.ErrFileRead) {
		t.Errorf("error = %v, want file read error", err)
	}
}

func TestSave_OverwriteKeepsHistory(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	ctx := context.Background()

	first, err := r.Save(ctx, SaveRequest{Name: "a", Content: "v1", Tags: []string{"Old"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordUsage(ctx, first, "a", 1); err != nil {
		t.Fatal(err)
	}

	second, err := r.Save(ctx, SaveRequest{Name: "a", Content: "v2", Tags: []string{"new"}})
	if err != nil {
		t.Fatal(err)
	}
	if second.Version != 2 {
		t.Errorf("Version = %d, want 2", second.Version)
	}
	if second.ID != first.ID {
		t.Error("overwrite changed the prompt ID")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if second.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want preserved 1", second.UsageCount)
	}

	got, _ := r.Get(ctx, "a")
	if got.Content != "v2" || !got.HasTag("new") || got.HasTag("old") {
		t.Errorf("after overwrite: %+v", got)
	}

	hist, err := r.History(ctx, "a")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(hist))
	}
	if hist[0].Version != 1 || hist[0].Content != "v1" || hist[0].Tags[0] != "old" {
		t.Errorf("history[0] = %+v", hist[0])
	}
}

func TestHistory_NotFound(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	_, err := r.History(context.Background(), "ghost")
	if !errors.Is(err, prompts.ErrNotFound) {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	_, err := r.Get(context.Background(), "safe_coding")
	if !errors.Is(err, prompts.ErrNotFound) {
		t.Errorf("Get of built-in name = %v, want not found (custom only)", err)
	}
}

func TestRecordUsage(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	ctx := context.Background()

	p, _ := r.Save(ctx, SaveRequest{Name: "a", Content: "x"})
	for i := 0; i < 3; i++ {
		if err := r.RecordUsage(ctx, p, "a", 1); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := r.Get(ctx, "a")
	if got.UsageCount != 3 {
		t.Errorf("UsageCount = %d, want 3", got.UsageCount)
	}

	b, err := r.Builtin(ctx, "safe_coding")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.RecordUsage(ctx, b, "shippopotamus:safe_coding", 5); err != nil {
		t.Fatal(err)
	}
	b, _ = r.Builtin(ctx, "safe_coding")
	if b.UsageCount != 1 {
		t.Errorf("built-in UsageCount = %d, want 1", b.UsageCount)
	}
}

func TestList(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	ctx := context.Background()

	_, _ = r.Save(ctx, SaveRequest{Name: "a", Content: "x", Tags: []string{"workflow"}})
	_, _ = r.Save(ctx, SaveRequest{Name: "b", Content: "y", Tags: []string{"misc"}})

	all := r.List(ctx, ListOptions{IncludeDefaults: true, IncludeCustom: true})
	if len(all.Errors) != 0 {
		t.Fatalf("Errors = %v", all.Errors)
	}
	if all.Total != 4 {
		t.Errorf("Total = %d, want 4", all.Total)
	}
	if len(all.Defaults["patterns"]) != 1 || len(all.Defaults["workflows"]) != 1 {
		t.Errorf("Defaults = %v", all.Defaults)
	}
	if len(all.Custom) != 2 || all.Custom[0].Name != "a" {
		t.Errorf("Custom = %v", all.Custom)
	}

	tagged := r.List(ctx, ListOptions{IncludeDefaults: true, IncludeCustom: true, Tags: []string{"WORKFLOW"}})
	if tagged.Total != 2 {
		t.Errorf("tag-filtered Total = %d, want 2", tagged.Total)
	}
	if _, ok := tagged.Defaults["patterns"]; ok {
		t.Error("patterns group should be filtered out")
	}

	customOnly := r.List(ctx, ListOptions{IncludeCustom: true})
	if customOnly.Defaults != nil {
		t.Error("Defaults should be omitted")
	}
}

func TestSearchByTag(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	ctx := context.Background()

	_, _ = r.Save(ctx, SaveRequest{Name: "mine", Content: "x", Tags: []string{"safety"}})
	_, _ = r.Save(ctx, SaveRequest{Name: "other", Content: "y", Tags: []string{"misc"}})

	got, err := r.SearchByTag(ctx, []string{"safety"})
	if err != nil {
		t.Fatalf("SearchByTag: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %v", len(got), got)
	}
	if got[0].Name != "mine" || got[1].Name != "safe_coding" {
		t.Errorf("order = %s, %s; want custom first", got[0].Name, got[1].Name)
	}

	if _, err := r.SearchByTag(ctx, nil); !errors.Is(err, prompts.ErrValidation) {
		t.Errorf("empty tags error = %v, want validation", err)
	}
}

func TestSearchByTag_UsageCountsUnavailable(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	ctx := context.Background()

	var logs bytes.Buffer
	r.logger = slog.New(slog.NewTextHandler(&logs, nil))
	if _, err := r.DB().Exec(`DROP TABLE usage_log`); err != nil {
		t.Fatal(err)
	}

	got, err := r.SearchByTag(ctx, []string{"safety"})
	if err != nil {
		t.Fatalf("SearchByTag: %v", err)
	}
	if len(got) != 1 || got[0].Name != "safe_coding" || got[0].UsageCount != 0 {
		t.Errorf("got %v, want safe_coding with zero usage", got)
	}
	if !strings.Contains(logs.String(), "built-in usage counts unavailable") {
		t.Errorf("missing warning, logs:\n%s", logs.String())
	}
}

func TestDocuments(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	ctx := context.Background()

	// Same name in both namespaces stays two documents.
	_, _ = r.Save(ctx, SaveRequest{Name: "safe_coding", Content: "my own rules"})

	docs, err := r.Documents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("len(docs) = %d, want 3", len(docs))
	}
	keys := map[string]bool{}
	for _, d := range docs {
		keys[d.Key()] = true
	}
	if !keys["custom/safe_coding"] || !keys["built-in/safe_coding"] {
		t.Errorf("keys = %v", keys)
	}
}

func TestSave_Concurrent(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Save(ctx, SaveRequest{Name: "shared", Content: "x"}); err != nil {
				t.Errorf("Save: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := r.Get(ctx, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if p.Version != 10 {
		t.Errorf("Version = %d, want 10", p.Version)
	}
	hist, _ := r.History(ctx, "shared")
	if len(hist) != 9 {
		t.Errorf("len(history) = %d, want 9", len(hist))
	}
}

func TestOpen_File(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(dbPath, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.Save(context.Background(), SaveRequest{Name: "a", Content: "persisted"}); err != nil {
		t.Fatal(err)
	}
	r.Close()

	r2, err := Open(dbPath, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	got, err := r2.Get(context.Background(), "a")
	if err != nil || got.Content != "persisted" {
		t.Errorf("reopened Get = %v, %v", got, err)
	}
}
