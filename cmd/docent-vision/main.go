// Docent-vision is an MCP tool server that answers analyze_images calls
// with a vision-capable model, either an OpenAI-compatible endpoint such
// as LM Studio or Azure OpenAI. It speaks JSON-RPC on stdin/stdout and
// logs to stderr.
//
// Configuration comes from the VISION_* and AZURE_OPENAI_* environment
// variables, plus LOG_LEVEL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nugget/docent/internal/buildinfo"
	"github.com/nugget/docent/internal/config"
	"github.com/nugget/docent/internal/vision"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "docent-vision: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	level, err := config.ParseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stderr, level, os.Getenv("LOG_FORMAT"))

	cfg, err := vision.ConfigFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	cfg.Logger = logger

	describer, err := vision.New(cfg)
	if err != nil {
		return err
	}

	server := sdk.NewServer(&sdk.Implementation{Name: "docent-vision", Version: buildinfo.Version}, nil)
	vision.Register(server, describer, cfg)

	logger.Info("docent-vision serving on stdio",
		"version", buildinfo.Version,
		"provider", cfg.Provider,
		"model", cfg.Model,
	)
	if err := server.Run(ctx, &sdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
