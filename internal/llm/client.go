package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/docent/internal/httpkit"
)

// Config selects and configures an Adapter.
type Config struct {
	// Provider is anthropic, openai or ollama.
	Provider string
	Model    string
	APIKey   string
	BaseURL  string

	MaxTokens   int
	Temperature float64

	// RequestTimeout bounds one HTTP round trip. Zero leaves deadlines
	// to the caller's context.
	RequestTimeout time.Duration

	// HTTPClient overrides the default client. Tests use it.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// New returns the adapter for cfg.Provider.
func New(cfg Config) (Adapter, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return NewAnthropicAdapter(cfg), nil
	case "openai":
		return NewOpenAIAdapter(cfg), nil
	case "ollama":
		return NewOllamaAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q (valid: anthropic, openai, ollama)", cfg.Provider)
	}
}

// httpClientFor builds the shared client for model calls. Model
// responses can take a long time before headers arrive, so the
// response-header timeout is generous.
func httpClientFor(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return httpkit.NewClient(
		httpkit.WithTimeout(cfg.RequestTimeout),
		httpkit.WithHeaderTimeout(120*time.Second),
		httpkit.WithDialRetry(2, 500*time.Millisecond),
		httpkit.WithLogger(cfg.Logger),
	)
}

func loggerFor(cfg Config, provider string) *slog.Logger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("provider", provider)
}

// postJSON sends body to url and decodes a 200 response into out.
// Every failure is classified for retry.
func postJSON(ctx context.Context, client *http.Client, logger *slog.Logger, provider, url string, headers map[string]string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return &ProviderError{Provider: provider, Err: fmt.Errorf("marshal request: %w", err)}
	}

	logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return &ProviderError{Provider: provider, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return transportError(ctx, provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return statusError(provider, resp.StatusCode, errBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return decodeError(provider, err)
	}
	return nil
}

// callID returns id, or a fresh one when the provider omitted it.
func callID(id string) string {
	if id != "" {
		return id
	}
	return "call_" + uuid.NewString()
}

// schemaOrEmpty guarantees an object schema for providers that reject
// a missing one.
func schemaOrEmpty(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return schema
}
