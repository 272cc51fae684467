package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nugget/shippopotamus/internal/registry"
)

// runCall executes one tool and writes its JSON result to stdout. A tool
// failure still prints the error payload and then returns errToolFailed
// so the exit status is non-zero.
func runCall(ctx context.Context, stdout, stderr io.Writer, configPath, tool, argsJSON string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out, isErr := a.tools.Call(ctx, tool, argsJSON)
	fmt.Fprintln(stdout, out)
	if isErr {
		return errToolFailed
	}
	return nil
}

// runIndex builds or refreshes the embedding index and reports what the
// pass did.
func runIndex(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.index == nil {
		return fmt.Errorf("no embedding provider configured (embeddings.provider is %q)", cfg.Embeddings.Provider)
	}

	stats, err := a.index.EnsureIndexed(ctx)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a.index.Status())
	}

	st := a.index.Status()
	fmt.Fprintf(stdout, "Index ready: %s records (model %s)\n", humanize.Comma(int64(st.Records)), st.Model)
	fmt.Fprintf(stdout, "  documents: %d\n", stats.Documents)
	fmt.Fprintf(stdout, "  embedded:  %d\n", stats.Embedded)
	fmt.Fprintf(stdout, "  reused:    %d\n", stats.Reused)
	fmt.Fprintf(stdout, "  removed:   %d\n", stats.Removed)
	fmt.Fprintf(stdout, "  duration:  %s\n", stats.Duration.Round(time.Millisecond))
	return nil
}

// runList prints every available prompt, built-ins grouped by category.
func runList(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	listing := a.registry.List(ctx, registry.ListOptions{IncludeDefaults: true, IncludeCustom: true})

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}

	categories := make([]string, 0, len(listing.Defaults))
	for c := range listing.Defaults {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, c := range categories {
		fmt.Fprintf(stdout, "%s:\n", c)
		for _, e := range listing.Defaults[c] {
			writeEntry(stdout, e)
		}
	}
	if len(listing.Custom) > 0 {
		fmt.Fprintln(stdout, "custom:")
		for _, e := range listing.Custom {
			writeEntry(stdout, e)
		}
	}
	for _, msg := range listing.Errors {
		fmt.Fprintf(stdout, "error: %s\n", msg)
	}
	fmt.Fprintf(stdout, "\n%d prompts\n", listing.Total)
	return nil
}

func writeEntry(w io.Writer, e registry.Entry) {
	line := fmt.Sprintf("  %-28s %6s tokens", e.Name, humanize.Comma(int64(e.Tokens)))
	if e.UsageCount > 0 {
		line += fmt.Sprintf("  used %s", humanize.Comma(int64(e.UsageCount)))
	}
	if len(e.Tags) > 0 {
		line += "  [" + strings.Join(e.Tags, ", ") + "]"
	}
	fmt.Fprintln(w, line)
}
