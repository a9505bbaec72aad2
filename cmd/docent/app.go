package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nugget/docent/internal/agent"
	"github.com/nugget/docent/internal/config"
	"github.com/nugget/docent/internal/llm"
	"github.com/nugget/docent/internal/mcp"
	"github.com/nugget/docent/internal/tools"
	"github.com/nugget/docent/internal/usage"
)

// app holds everything a command needs, built from one config file.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions []*mcp.Session
	registry *tools.Registry
	usage    *usage.Store
}

// loadConfig locates and parses the configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newApp loads configuration, connects every tool server and builds
// the registry. Servers that fail to connect are skipped unless marked
// required.
func newApp(ctx context.Context, stderr io.Writer, configPath string) (*app, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(stderr, level, cfg.LogFormat)
	logger.Debug("config loaded", "path", cfgPath)

	a := &app{cfg: cfg, logger: logger}

	for _, ts := range cfg.ToolServers {
		s, err := mcp.Connect(ctx, mcp.SessionConfig{
			Name:           ts.Name,
			Command:        ts.Command,
			Args:           ts.Args,
			Env:            ts.Env,
			ConnectTimeout: ts.ConnectTimeout,
			CallTimeout:    ts.CallTimeout,
			Include:        ts.Include,
			Exclude:        ts.Exclude,
			Logger:         logger,
		})
		if err != nil {
			if ts.Required || ctx.Err() != nil {
				a.Close()
				return nil, fmt.Errorf("tool server %s: %w", ts.Name, err)
			}
			logger.Warn("skipping unavailable tool server", "server", ts.Name, "error", err)
			continue
		}
		a.sessions = append(a.sessions, s)
	}

	providers := make([]tools.Provider, 0, len(a.sessions))
	for _, s := range a.sessions {
		providers = append(providers, s)
	}
	a.registry, err = tools.Build(providers...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	if cfg.Usage.DBPath != "" {
		a.usage, err = usage.NewStore(cfg.Usage.DBPath, cfg.Usage.Pricing)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	logger.Info("docent ready",
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
		"tool_servers", len(a.sessions),
		"tools", a.registry.Len(),
	)
	return a, nil
}

// orchestrator builds the model adapter and the turn loop.
func (a *app) orchestrator(opts ...agent.Option) (*agent.Orchestrator, error) {
	m := a.cfg.Model
	temperature := 0.0
	if m.Temperature != nil {
		temperature = *m.Temperature
	}

	adapter, err := llm.New(llm.Config{
		Provider:       m.Provider,
		Model:          m.Name,
		APIKey:         m.APIKey,
		BaseURL:        m.BaseURL,
		MaxTokens:      m.MaxTokens,
		Temperature:    temperature,
		RequestTimeout: m.RequestTimeout,
		Logger:         a.logger,
	})
	if err != nil {
		return nil, err
	}

	ag := a.cfg.Agent
	opts = append([]agent.Option{agent.WithLogger(a.logger)}, opts...)
	if a.usage != nil {
		opts = append(opts, agent.WithUsageRecorder(usageRecorder{a.usage}))
	}
	return agent.New(adapter, a.registry, agent.Config{
		SystemPrompt:        ag.SystemPrompt,
		MaxTurns:            ag.MaxTurns,
		RetryAttempts:       ag.RetryAttempts,
		RetryInitialBackoff: ag.RetryInitialBackoff,
		RetryMaxBackoff:     ag.RetryMaxBackoff,
		TurnTimeout:         ag.TurnTimeout,
		ParallelTools:       ag.ParallelTools,
	}, opts...), nil
}

// Close terminates every tool server and closes the usage store.
func (a *app) Close() {
	for _, s := range a.sessions {
		if err := s.Close(); err != nil {
			a.logger.Warn("close tool server", "server", s.Name(), "error", err)
		}
	}
	if a.usage != nil {
		a.usage.Close()
	}
}

// usageRecorder stores each model call in the usage ledger.
type usageRecorder struct {
	store *usage.Store
}

func (r usageRecorder) RecordTurn(ctx context.Context, t agent.TurnUsage) error {
	return r.store.Record(ctx, usage.Record{
		ConversationID: t.ConversationID,
		Turn:           t.Turn,
		Provider:       t.Provider,
		Model:          t.Model,
		InputTokens:    t.Usage.InputTokens,
		OutputTokens:   t.Usage.OutputTokens,
		ToolCalls:      t.ToolCalls,
	})
}

// toolTracer prints each tool call to w.
func toolTracer(w io.Writer) func(agent.ToolEvent) {
	return func(ev agent.ToolEvent) {
		status := "ok"
		if ev.Err != nil {
			status = "error: " + ev.Err.Error()
		}
		fmt.Fprintf(w, "[tool] %s %s (%s) %s\n", ev.Call.Name, compactArgs(ev.Call.Arguments), ev.Duration.Round(time.Millisecond), status)
	}
}

func compactArgs(args map[string]any) string {
	parts := make([]string, 0, len(args))
	for _, k := range slices.Sorted(maps.Keys(args)) {
		parts = append(parts, fmt.Sprintf("%s: %v", k, args[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// failureReason extracts a short reason for error output.
func failureReason(err error) string {
	var f *agent.Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}
