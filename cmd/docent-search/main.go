// Docent-search is an MCP tool server that answers search_documents
// calls against an Elasticsearch document index. It speaks JSON-RPC on
// stdin/stdout and logs to stderr.
//
// Configuration comes from the environment: ELASTIC_URL and
// ELASTIC_API_KEY are required; ELASTIC_INDEX, INFERENCE_ID,
// ELASTIC_TIMEOUT and LOG_LEVEL are optional.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nugget/docent/internal/buildinfo"
	"github.com/nugget/docent/internal/config"
	"github.com/nugget/docent/internal/docsearch"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "docent-search: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	level, err := config.ParseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stderr, level, os.Getenv("LOG_FORMAT"))

	cfg, err := docsearch.ConfigFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	cfg.Logger = logger

	searcher, err := docsearch.New(cfg)
	if err != nil {
		return err
	}

	// An unreachable cluster is reported but not fatal; each search
	// call surfaces its own error to the model.
	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	if err := searcher.Ping(pingCtx); err != nil {
		logger.Warn("elasticsearch not reachable", "url", cfg.URL, "error", err)
	} else {
		logger.Info("connected to elasticsearch", "url", cfg.URL)
	}
	cancelPing()

	server := sdk.NewServer(&sdk.Implementation{Name: "docent-search", Version: buildinfo.Version}, nil)
	docsearch.Register(server, searcher)

	logger.Info("docent-search serving on stdio", "version", buildinfo.Version)
	if err := server.Run(ctx, &sdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
