package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/nugget/docent/internal/usage"
)

type usageOutput struct {
	Since   time.Time                 `json:"since"`
	Until   time.Time                 `json:"until"`
	Total   *usage.Summary            `json:"total"`
	ByModel map[string]*usage.Summary `json:"by_model"`
}

// runUsage prints token usage and cost recorded over the last period.
func runUsage(ctx context.Context, stdout io.Writer, opts options, period string) error {
	d, err := time.ParseDuration(period)
	if err != nil || d <= 0 {
		return fmt.Errorf("usage: invalid period %q (want a duration such as 24h)", period)
	}

	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if cfg.Usage.DBPath == "" {
		return errors.New("usage recording is disabled (set usage.db_path)")
	}

	store, err := usage.NewStore(cfg.Usage.DBPath, cfg.Usage.Pricing)
	if err != nil {
		return err
	}
	defer store.Close()

	end := time.Now()
	start := end.Add(-d)

	total, err := store.Summary(ctx, start, end)
	if err != nil {
		return err
	}
	byModel, err := store.SummaryByModel(ctx, start, end)
	if err != nil {
		return err
	}

	if opts.output == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(usageOutput{Since: start, Until: end, Total: total, ByModel: byModel})
	}

	fmt.Fprintf(stdout, "Usage over the last %s:\n", d)
	fmt.Fprintf(stdout, "  %-32s %6s %6s %6s %12s %12s %10s\n", "model", "convs", "calls", "tools", "input", "output", "cost")
	row := func(name string, s *usage.Summary) {
		fmt.Fprintf(stdout, "  %-32s %6d %6d %6d %12d %12d %10.4f\n", name,
			s.Conversations, s.TotalRecords, s.TotalToolCalls, s.TotalInputTokens, s.TotalOutputTokens, s.TotalCostUSD)
	}
	for _, model := range slices.Sorted(maps.Keys(byModel)) {
		row(model, byModel[model])
	}
	row("total", total)
	return nil
}
