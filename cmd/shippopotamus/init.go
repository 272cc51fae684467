package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/shippopotamus/internal/defaults"
)

// examplePrompt seeds the local catalog directory so the layout is
// obvious. Files placed directly in it land in the "local" category.
const examplePrompt = `---
description: Project conventions every session should follow
tags: [principle, project]
---

# Project conventions

Replace this file with the conventions of your project: build commands,
code style, review expectations.
`

// runInit writes a config file and a local prompt directory into dir.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Shippopotamus in %s\n", dir)

	promptDir := filepath.Join(dir, "prompts")
	if err := os.MkdirAll(promptDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", promptDir, err)
	}

	// The config may hold an API key.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(w, configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}

	examplePath := filepath.Join(promptDir, "project_conventions.md")
	if err := writeIfMissing(w, examplePath, []byte(examplePrompt), 0o644); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and set catalog.dir to the prompts directory to load local prompts.")
	return nil
}

// writeIfMissing writes content to path with perm only if the file does
// not already exist, and reports what it did to w.
func writeIfMissing(w io.Writer, path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s exists, skipping\n", path)
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
