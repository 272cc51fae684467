package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/nugget/shippopotamus/internal/prompts"
)

// MaxPromptBytes is the size above which a catalog file is flagged as a
// candidate for splitting.
const MaxPromptBytes = 10 * 1024

// Issue severities.
const (
	SeverityError   = "error"   // the file cannot be loaded
	SeverityWarning = "warning" // loads, but discovery or listings suffer
)

// Issue is one problem found in a catalog file.
type Issue struct {
	Source   string `json:"source"` // "embedded" or "dir"
	File     string `json:"file"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ValidationStats counts files by outcome.
type ValidationStats struct {
	Files              int `json:"total_files"`
	Clean              int `json:"clean"`
	Malformed          int `json:"malformed"`
	MissingDescription int `json:"missing_description"`
	Untagged           int `json:"untagged"`
	Oversized          int `json:"oversized"`
	Duplicates         int `json:"duplicates"`
}

// Validation is the result of Validate. Valid is false when any issue
// has error severity.
type Validation struct {
	Valid  bool            `json:"valid"`
	Issues []Issue         `json:"issues"`
	Stats  ValidationStats `json:"stats"`
}

// Validate checks every catalog source file without touching the
// active snapshot. Unlike Reload it keeps going past a malformed file
// so all problems are reported at once.
func (c *Catalog) Validate() *Validation {
	v := &Validation{Issues: []Issue{}}
	if c.embedded != nil {
		v.check("embedded", c.embedded)
	}
	if c.dir != "" {
		if _, err := os.Stat(c.dir); err == nil {
			v.check("dir", os.DirFS(c.dir))
		} else if !os.IsNotExist(err) {
			v.add("dir", c.dir, SeverityError, fmt.Sprintf("cannot read catalog dir: %v", err))
		}
	}

	v.Valid = true
	for _, is := range v.Issues {
		if is.Severity == SeverityError {
			v.Valid = false
			break
		}
	}
	return v
}

func (v *Validation) add(source, file, severity, msg string) {
	v.Issues = append(v.Issues, Issue{Source: source, File: file, Severity: severity, Message: msg})
}

func (v *Validation) check(source string, fsys fs.FS) {
	seen := make(map[string]string) // prompt name -> first file
	err := walkMarkdown(fsys, func(p string, data []byte) error {
		v.Stats.Files++
		clean := true

		fm, body, err := prompts.ParseFrontmatter(string(data))
		if err != nil {
			v.Stats.Malformed++
			v.add(source, p, SeverityError, err.Error())
			return nil
		}

		name := fm.Name
		if name == "" {
			name = strings.TrimSuffix(path.Base(p), ".md")
		}
		if first, dup := seen[name]; dup {
			v.Stats.Duplicates++
			v.add(source, p, SeverityError, fmt.Sprintf("prompt name %q already defined by %s", name, first))
			clean = false
		} else {
			seen[name] = p
		}

		if strings.TrimSpace(body) == "" {
			v.add(source, p, SeverityError, "prompt has no content")
			clean = false
		}
		if strings.TrimSpace(fm.Description) == "" {
			v.Stats.MissingDescription++
			v.add(source, p, SeverityWarning, "no description in frontmatter; one is derived from the first paragraph")
			clean = false
		}
		if len(fm.Tags) == 0 {
			v.Stats.Untagged++
			v.add(source, p, SeverityWarning, "no tags; discovery cannot classify it as a principle or workflow")
			clean = false
		}
		if len(data) > MaxPromptBytes {
			v.Stats.Oversized++
			v.add(source, p, SeverityWarning, fmt.Sprintf("large file (%.1fKB), consider splitting", float64(len(data))/1024))
			clean = false
		}
		if clean {
			v.Stats.Clean++
		}
		return nil
	})
	if err != nil {
		v.add(source, ".", SeverityError, err.Error())
	}
}

// walkMarkdown calls fn with the contents of every prompt file in fsys,
// skipping READMEs.
func walkMarkdown(fsys fs.FS, fn func(p string, data []byte) error) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".md") || strings.EqualFold(path.Base(p), "README.md") {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		return fn(p, data)
	})
}
