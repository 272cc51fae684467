// Package catalog serves the read-only built-in prompt catalog. Prompts
// come from the embedded library and, optionally, a directory on disk
// whose files shadow embedded prompts of the same name.
//
// The catalog is an immutable snapshot swapped atomically on reload, so
// readers never observe a half-loaded catalog and the built-ins can be
// re-seeded at any time without locking callers out.
package catalog

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/shippopotamus/internal/prompts"
)

// LocalCategory groups files placed directly in the catalog directory.
const LocalCategory = "local"

// Config configures a Catalog.
type Config struct {
	// Embedded is the shipped library. May be nil.
	Embedded fs.FS

	// Dir is an optional directory of additional prompt markdown.
	// Subdirectories become categories. Empty disables it.
	Dir string

	// Debounce is the quiet period Watch waits for before reloading.
	// Zero uses DefaultDebounce.
	Debounce time.Duration

	// Logger is the structured logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// Catalog is the built-in prompt namespace.
type Catalog struct {
	embedded fs.FS
	dir      string
	debounce time.Duration
	logger   *slog.Logger

	snap     atomic.Pointer[snapshot]
	hooksMu sync.Mutex
	hooks   []func()
}

type snapshot struct {
	byName     map[string]*prompts.Prompt
	names      []string // sorted
	categories []string // sorted
}

// New loads the catalog. A missing Dir is not an error; a malformed
// prompt file is.
func New(cfg Config) (*Catalog, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		embedded: cfg.Embedded,
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		logger:   logger,
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rebuilds the catalog from its sources and swaps it in. On error
// the previous snapshot stays active.
func (c *Catalog) Reload() error {
	byName := make(map[string]*prompts.Prompt)

	if c.embedded != nil {
		if err := loadFS(c.embedded, byName); err != nil {
			return fmt.Errorf("load embedded library: %w", err)
		}
	}

	if c.dir != "" {
		if _, err := os.Stat(c.dir); err == nil {
			if err := loadFS(os.DirFS(c.dir), byName); err != nil {
				return fmt.Errorf("load catalog dir %s: %w", c.dir, err)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat catalog dir: %w", err)
		}
	}

	s := &snapshot{byName: byName}
	cats := make(map[string]bool)
	for name, p := range byName {
		s.names = append(s.names, name)
		cats[p.Category] = true
	}
	sort.Strings(s.names)
	for cat := range cats {
		s.categories = append(s.categories, cat)
	}
	sort.Strings(s.categories)

	c.snap.Store(s)
	c.logger.Debug("prompt catalog loaded", "prompts", len(s.names), "categories", len(s.categories))
	c.hooksMu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// loadFS reads every *.md file in fsys into byName. Later sources
// overwrite earlier ones with the same name.
func loadFS(fsys fs.FS, byName map[string]*prompts.Prompt) error {
	return walkMarkdown(fsys, func(p string, data []byte) error {
		fm, body, err := prompts.ParseFrontmatter(string(data))
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}

		name := fm.Name
		if name == "" {
			name = strings.TrimSuffix(path.Base(p), ".md")
		}
		category := fm.Category
		if category == "" {
			category = LocalCategory
			if dir := path.Dir(p); dir != "." {
				category = strings.SplitN(dir, "/", 2)[0]
			}
		}
		desc := fm.Description
		if desc == "" {
			desc = prompts.Describe(body)
		}

		byName[name] = &prompts.Prompt{
			Name:        name,
			Content:     body,
			Tags:        fm.Tags,
			Source:      prompts.SourceBuiltin,
			Category:    category,
			Description: desc,
			FilePath:    p,
		}
		return nil
	})
}

// OnReload adds fn to the hooks run, in registration order, after every
// successful Reload. The MCP server uses it to republish prompts.
func (c *Catalog) OnReload(fn func()) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Get returns a copy of the named built-in prompt.
func (c *Catalog) Get(name string) (*prompts.Prompt, bool) {
	p, ok := c.snap.Load().byName[name]
	if !ok {
		return nil, false
	}
	return clone(p), true
}

// All returns copies of every built-in prompt, sorted by name.
func (c *Catalog) All() []*prompts.Prompt {
	s := c.snap.Load()
	out := make([]*prompts.Prompt, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, clone(s.byName[name]))
	}
	return out
}

// Grouped returns built-in prompts keyed by category, each group sorted
// by name.
func (c *Catalog) Grouped() map[string][]*prompts.Prompt {
	groups := make(map[string][]*prompts.Prompt)
	for _, p := range c.All() {
		groups[p.Category] = append(groups[p.Category], p)
	}
	return groups
}

// Categories returns the sorted category names.
func (c *Catalog) Categories() []string {
	return append([]string(nil), c.snap.Load().categories...)
}

// Len returns the number of built-in prompts.
func (c *Catalog) Len() int {
	return len(c.snap.Load().names)
}

// Dir returns the on-disk catalog directory, if any.
func (c *Catalog) Dir() string {
	return c.dir
}

func clone(p *prompts.Prompt) *prompts.Prompt {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	cp.ParentPrompts = append([]string(nil), p.ParentPrompts...)
	return &cp
}
