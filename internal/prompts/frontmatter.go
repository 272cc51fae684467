package prompts

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the metadata block at the top of a catalog markdown
// file:
//
//	---
//	description: Systematic debugging approach
//	tags: [principle, debugging]
//	---
type Frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
}

// ParseFrontmatter splits raw into its frontmatter and body. Without a
// frontmatter block it returns a zero Frontmatter and raw unchanged.
func ParseFrontmatter(raw string) (Frontmatter, string, error) {
	var fm Frontmatter
	if !strings.HasPrefix(raw, "---") {
		return fm, raw, nil
	}

	rest := strings.TrimLeft(raw[3:], " \t")
	switch {
	case strings.HasPrefix(rest, "\n"):
		rest = rest[1:]
	case strings.HasPrefix(rest, "\r\n"):
		rest = rest[2:]
	default:
		return fm, raw, nil // "---" is a thematic break, not frontmatter
	}

	var block, body string
	if strings.HasPrefix(rest, "---") {
		body = rest[3:]
	} else {
		closeIdx := strings.Index(rest, "\n---")
		if closeIdx < 0 {
			return fm, raw, nil
		}
		block = rest[:closeIdx]
		body = rest[closeIdx+4:]
	}
	body = strings.TrimLeft(body, "\r\n")

	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return Frontmatter{}, raw, fmt.Errorf("parse frontmatter: %w", err)
	}
	fm.Tags = normalizeTags(fm.Tags)
	return fm, body, nil
}

// NormalizeTags lowercases, trims, and de-duplicates tags, preserving
// first-seen order.
func NormalizeTags(tags []string) []string {
	return normalizeTags(tags)
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
