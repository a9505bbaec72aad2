// Package vision answers questions about images with a vision-capable
// chat model.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Defaults for Request fields and backend settings.
const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
	DefaultBaseURL     = "http://localhost:1234/v1"
	DefaultModel       = "local-model"
	DefaultTimeout     = 120 * time.Second
)

// Request is one image analysis.
type Request struct {
	Images      []string
	Question    string
	MaxTokens   int
	Temperature float64
}

// Validate checks that the request has something to analyze.
func (r *Request) Validate() error {
	if len(r.Images) == 0 {
		return errors.New("at least one image is required")
	}
	if r.Question == "" {
		return errors.New("question is required")
	}
	return nil
}

// Describer answers a question about a set of images.
type Describer interface {
	Describe(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	// Provider is "openai" (any OpenAI-compatible endpoint, including
	// LM Studio) or "azure".
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	AzureEndpoint   string
	AzureAPIKey     string
	AzureDeployment string

	Logger *slog.Logger
}

// ConfigFromEnv reads the VISION_* and AZURE_OPENAI_* variables. The
// unprefixed names used by earlier deployments (PROVIDER,
// LMSTUDIO_BASE_URL, LMSTUDIO_MODEL, OPENAI_BASE_URL, OPENAI_MODEL,
// OPENAI_API_KEY, DEFAULT_MAX_TOKENS, DEFAULT_TEMPERATURE) are read
// when the VISION_* form is unset.
func ConfigFromEnv(getenv func(string) string) (Config, error) {
	lookup := func(names ...string) string {
		for _, n := range names {
			if v := getenv(n); v != "" {
				return v
			}
		}
		return ""
	}

	provider := strings.ToLower(lookup("VISION_PROVIDER", "PROVIDER"))
	legacy := "LMSTUDIO_"
	if provider == "openai" {
		legacy = "OPENAI_"
	}

	cfg := Config{
		Provider:        provider,
		BaseURL:         lookup("VISION_BASE_URL", legacy+"BASE_URL"),
		APIKey:          lookup("VISION_API_KEY", "OPENAI_API_KEY"),
		Model:           lookup("VISION_MODEL", legacy+"MODEL"),
		AzureEndpoint:   getenv("AZURE_OPENAI_ENDPOINT"),
		AzureAPIKey:     getenv("AZURE_OPENAI_API_KEY"),
		AzureDeployment: getenv("AZURE_OPENAI_DEPLOYMENT"),
		MaxTokens:       DefaultMaxTokens,
		Temperature:     DefaultTemperature,
	}
	if v := lookup("VISION_MAX_TOKENS", "DEFAULT_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("VISION_MAX_TOKENS: %w", err)
		}
		cfg.MaxTokens = n
	}
	if v := lookup("VISION_TEMPERATURE", "DEFAULT_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("VISION_TEMPERATURE: %w", err)
		}
		cfg.Temperature = f
	}
	return cfg, nil
}

// New returns the backend named by cfg.Provider.
func New(cfg Config) (Describer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	switch cfg.Provider {
	case "", "openai", "lmstudio":
		return newOpenAI(cfg), nil
	case "azure":
		return newAzure(cfg)
	default:
		return nil, fmt.Errorf("unsupported vision provider %q (want openai or azure)", cfg.Provider)
	}
}
