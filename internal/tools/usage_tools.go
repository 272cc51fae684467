package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// registerUsageReport registers the usage_report tool for querying which
// prompts are loaded and how much context they consume.
func (r *Registry) registerUsageReport() {
	if r.deps.Registry == nil || r.deps.Registry.Usage() == nil {
		return
	}

	r.Register(&Tool{
		Name:        "usage_report",
		Description: "Summarize prompt loads over a period: totals, loads per source, and the most used prompts.",
		Parameters: object([]string{"period"}, map[string]any{
			"period": map[string]any{
				"type":        "string",
				"enum":        []string{"today", "week", "month", "all"},
				"description": "Time period to summarize.",
			},
			"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 100, "description": "Most-used rows to return (default 10)"},
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			period := stringArg(args, "period")
			since := periodStart(period, time.Now())
			store := r.deps.Registry.Usage()

			summary, err := store.Summary(ctx, since)
			if err != nil {
				return nil, fmt.Errorf("query usage summary: %w", err)
			}
			top, err := store.MostUsed(ctx, since, intArg(args, "limit", 10))
			if err != nil {
				return nil, fmt.Errorf("query most used prompts: %w", err)
			}
			return map[string]any{
				"period":       period,
				"loads":        summary.TotalRecords,
				"total_tokens": summary.TotalTokens,
				"tokens":       humanize.Comma(summary.TotalTokens),
				"by_source":    summary.BySource,
				"most_used":    top,
			}, nil
		},
	})
}

// periodStart converts a period name to the start of its range. The
// zero time means no lower bound.
func periodStart(period string, now time.Time) time.Time {
	switch period {
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case "week":
		return now.AddDate(0, 0, -7)
	case "month":
		return now.AddDate(0, -1, 0)
	default:
		return time.Time{}
	}
}
