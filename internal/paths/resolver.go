// Package paths turns the path half of a file: reference into an
// absolute filesystem path. Paths may be absolute, home-relative (~),
// relative to the workspace root, or start with a configured named
// prefix such as "notes:" that maps to a directory.
package paths

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver expands file reference paths. It is nil-safe: a nil
// *Resolver resolves relative paths against the process working
// directory and knows no named prefixes.
type Resolver struct {
	root     string            // workspace root, absolute
	prefixes map[string]string // "notes:" -> "/abs/notes"
	sorted   []string          // prefixes by descending length
}

// New creates a Resolver rooted at root. An empty root means the
// current working directory. Prefix keys are names without the
// trailing colon; tildes in both root and prefix directories are
// expanded here, once.
func New(root string, prefixes map[string]string) *Resolver {
	r := &Resolver{
		root:     absOrSelf(expandHome(root)),
		prefixes: make(map[string]string, len(prefixes)),
	}
	for name, dir := range prefixes {
		key := strings.TrimSuffix(name, ":") + ":"
		dir = expandHome(dir)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(r.root, dir)
		}
		r.prefixes[key] = filepath.Clean(dir)
		r.sorted = append(r.sorted, key)
	}
	// Longest first, so "kb:" does not steal "kbase:" paths.
	sort.Slice(r.sorted, func(i, j int) bool {
		return len(r.sorted[i]) > len(r.sorted[j])
	})
	return r
}

// Root returns the absolute workspace root.
func (r *Resolver) Root() string {
	if r == nil {
		return absOrSelf("")
	}
	return r.root
}

// Resolve returns the absolute, cleaned path for p.
func (r *Resolver) Resolve(p string) string {
	if r != nil {
		for _, prefix := range r.sorted {
			if strings.HasPrefix(p, prefix) {
				return filepath.Join(r.prefixes[prefix], strings.TrimPrefix(p, prefix))
			}
		}
	}

	p = expandHome(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.Root(), p)
}

// Display returns p relative to the workspace root when it lies inside
// it, and p unchanged otherwise. Used for provenance output.
func (r *Resolver) Display(p string) string {
	rel, err := filepath.Rel(r.Root(), p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return rel
}

// Prefixes returns the registered prefix names sorted alphabetically,
// without trailing colons.
func (r *Resolver) Prefixes() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.prefixes))
	for prefix := range r.prefixes {
		names = append(names, strings.TrimSuffix(prefix, ":"))
	}
	sort.Strings(names)
	return names
}

func absOrSelf(p string) string {
	if p == "" {
		p = "."
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		return filepath.Join(home, p[2:])
	}
	return p
}
