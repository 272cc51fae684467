package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/nugget/shippopotamus/internal/prompts"
	"github.com/nugget/shippopotamus/library"
)

func testEmbedded() fstest.MapFS {
	return fstest.MapFS{
		"patterns/safe_coding.md": {Data: []byte("---\ndescription: Careful edits\ntags: [Principle, safety]\n---\n# Safe Coding\n\nRead before you write.")},
		"workflows/bugfix.md":     {Data: []byte("---\ntags: [workflow]\n---\n# Bugfix\n\nReproduce the failure first. Then fix it.")},
		"workflows/README.md":     {Data: []byte("not a prompt")},
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNew_Embedded(t *testing.T) {
	c, err := New(Config{Embedded: testEmbedded()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	p, ok := c.Get("safe_coding")
	if !ok {
		t.Fatal("safe_coding not found")
	}
	if p.Source != prompts.SourceBuiltin {
		t.Errorf("Source = %q, want %q", p.Source, prompts.SourceBuiltin)
	}
	if p.Category != "patterns" {
		t.Errorf("Category = %q, want patterns", p.Category)
	}
	if p.Description != "Careful edits" {
		t.Errorf("Description = %q", p.Description)
	}
	if p.Content != "# Safe Coding\n\nRead before you write." {
		t.Errorf("Content = %q, frontmatter should be stripped", p.Content)
	}
	if !p.HasTag("principle") {
		t.Errorf("tags = %v, want normalized principle", p.Tags)
	}

	bug, _ := c.Get("bugfix")
	if bug.Description != "Reproduce the failure first. Then fix it." {
		t.Errorf("derived Description = %q", bug.Description)
	}

	if _, ok := c.Get("README"); ok {
		t.Error("README.md should not be loaded as a prompt")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	c, err := New(Config{Embedded: testEmbedded()})
	if err != nil {
		t.Fatal(err)
	}
	p, _ := c.Get("safe_coding")
	p.Content = "mutated"
	p.Tags[0] = "mutated"

	again, _ := c.Get("safe_coding")
	if again.Content == "mutated" || again.Tags[0] == "mutated" {
		t.Error("mutating a returned prompt changed the catalog")
	}
}

func TestGrouped(t *testing.T) {
	c, err := New(Config{Embedded: testEmbedded()})
	if err != nil {
		t.Fatal(err)
	}
	groups := c.Grouped()
	if len(groups["patterns"]) != 1 || len(groups["workflows"]) != 1 {
		t.Errorf("groups = %v", groups)
	}
	cats := c.Categories()
	if len(cats) != 2 || cats[0] != "patterns" || cats[1] != "workflows" {
		t.Errorf("Categories() = %v", cats)
	}
}

func TestDirOverridesEmbedded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "patterns", "safe_coding.md"), "Local override.")
	writeFile(t, filepath.Join(dir, "house_rules.md"), "Always write tests.")

	c, err := New(Config{Embedded: testEmbedded(), Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	p, _ := c.Get("safe_coding")
	if p.Content != "Local override." {
		t.Errorf("Content = %q, want disk override", p.Content)
	}

	h, ok := c.Get("house_rules")
	if !ok {
		t.Fatal("house_rules not loaded")
	}
	if h.Category != LocalCategory {
		t.Errorf("Category = %q, want %q", h.Category, LocalCategory)
	}
}

func TestMissingDir(t *testing.T) {
	c, err := New(Config{Embedded: testEmbedded(), Dir: filepath.Join(t.TempDir(), "nope")})
	if err != nil {
		t.Fatalf("missing dir should not fail: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestReload_KeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "extra.md"), "Extra.")

	c, err := New(Config{Embedded: testEmbedded(), Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}

	writeFile(t, filepath.Join(dir, "broken.md"), "---\ntags: [unclosed\n---\nBody")
	if err := c.Reload(); err == nil {
		t.Fatal("Reload with malformed frontmatter should fail")
	}
	if c.Len() != 3 {
		t.Errorf("Len() after failed reload = %d, want 3", c.Len())
	}
}

func TestOnReload(t *testing.T) {
	c, err := New(Config{Embedded: testEmbedded()})
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	c.OnReload(func() { order = append(order, "first") })
	c.OnReload(func() { order = append(order, "second") })
	if err := c.Reload(); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("hooks ran %v, want [first second]", order)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{Embedded: testEmbedded(), Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.watch(ctx, 20*time.Millisecond) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "fresh.md"), "Fresh prompt.")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.Get("fresh"); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("catalog did not pick up new file")
}

func TestWatch_NoDir(t *testing.T) {
	c, err := New(Config{Embedded: testEmbedded()})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Watch(context.Background()); err != nil {
		t.Errorf("Watch without dir = %v, want nil", err)
	}
}

func TestShippedLibrary(t *testing.T) {
	c, err := New(Config{Embedded: library.FS})
	if err != nil {
		t.Fatalf("load shipped library: %v", err)
	}

	for _, name := range []string{"ask_plan_act", "quality_axioms", "context_economy", "safe_coding", "refactoring_workflow"} {
		p, ok := c.Get(name)
		if !ok {
			t.Errorf("shipped library missing %q", name)
			continue
		}
		if p.Description == "" {
			t.Errorf("%s has no description", name)
		}
	}

	var principles, workflows int
	for _, p := range c.All() {
		if p.HasTag(prompts.TagPrinciple) {
			principles++
		}
		if p.HasTag(prompts.TagWorkflow) {
			workflows++
		}
	}
	if principles < 3 || workflows < 2 {
		t.Errorf("principles = %d, workflows = %d; discovery needs at least 3 and 2", principles, workflows)
	}
}
