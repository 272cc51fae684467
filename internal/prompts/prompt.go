// Package prompts defines the shared prompt model: prompts, their
// provenance, the reference grammar used to address them, and the error
// taxonomy every operation reports through.
package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Source records where a prompt's content originated.
type Source string

const (
	SourceCustom  Source = "custom"   // Saved by the user, persisted
	SourceBuiltin Source = "built-in" // Shipped catalog, read-only
	SourceFile    Source = "file"     // Read through from disk, never persisted
)

// Namespace is a lookup space for prompt names. Custom and built-in are
// separate namespaces; the same name may exist in both.
type Namespace string

const (
	NamespaceCustom  Namespace = "custom"
	NamespaceBuiltin Namespace = "built-in"
)

// Classification tags that drive discovery partitioning.
const (
	TagPrinciple = "principle" // How to work
	TagWorkflow  = "workflow"  // What to do
)

// Prompt is a named, reusable block of text.
type Prompt struct {
	ID            uuid.UUID `json:"id,omitempty"`
	Name          string    `json:"name"`
	Content       string    `json:"content"`
	Tags          []string  `json:"tags"`
	ParentPrompts []string  `json:"parent_prompts"`
	Source        Source    `json:"source"`
	Category      string    `json:"category,omitempty"`    // Built-in catalog group
	Description   string    `json:"description,omitempty"` // First body paragraph
	FilePath      string    `json:"file_path,omitempty"`   // Origin file, if any
	UsageCount    int       `json:"usage_count"`
	Version       int       `json:"version,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Namespace returns the lookup namespace the prompt belongs to.
func (p *Prompt) Namespace() Namespace {
	if p.Source == SourceBuiltin {
		return NamespaceBuiltin
	}
	return NamespaceCustom
}

// HasTag reports whether the prompt carries tag.
func (p *Prompt) HasTag(tag string) bool {
	return slices.Contains(p.Tags, tag)
}

// HasAnyTag reports whether the prompt's tag set intersects tags. An
// empty filter matches everything.
func (p *Prompt) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		if p.HasTag(want) {
			return true
		}
	}
	return false
}

// Descriptor identifies resolved content for traceability.
type Descriptor struct {
	Ref       string    `json:"ref"`
	Name      string    `json:"name"`
	Source    Source    `json:"source"`
	Namespace Namespace `json:"namespace,omitempty"`
	Path      string    `json:"path,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Tokens    int       `json:"tokens"`
}

// Document is one entry of the searchable corpus: every custom prompt
// plus every built-in, with the usage count used for ranking ties.
type Document struct {
	Name        string    `json:"name"`
	Namespace   Namespace `json:"namespace"`
	Content     string    `json:"-"`
	Tags        []string  `json:"tags,omitempty"`
	Description string    `json:"description,omitempty"`
	UsageCount  int       `json:"usage_count"`
}

// Key uniquely identifies the document across namespaces.
func (d Document) Key() string {
	return string(d.Namespace) + "/" + d.Name
}

// Ref returns a namespace-qualified reference that resolves to exactly
// this document, bypassing custom-over-built-in shadowing.
func (d Document) Ref() string {
	if d.Namespace == NamespaceBuiltin {
		return PrefixBuiltin + d.Name
	}
	return PrefixCustom + d.Name
}

// HasTag reports whether the document carries tag.
func (d Document) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

// ContentHash returns the hex SHA-256 of content. Embedding records are
// keyed by it so a changed prompt is detected without timestamps.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
