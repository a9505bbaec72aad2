package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/docent/internal/httpkit"
)

// openAIBackend calls an OpenAI-compatible chat completions endpoint.
type openAIBackend struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func newOpenAI(cfg Config) *openAIBackend {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &openAIBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		client:  httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout), httpkit.WithLogger(cfg.Logger)),
		logger:  cfg.Logger.With("component", "vision", "provider", "openai"),
	}
}

type visionContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *visionImageURL `json:"image_url,omitempty"`
}

type visionImageURL struct {
	URL string `json:"url"`
}

type visionMessage struct {
	Role    string              `json:"role"`
	Content []visionContentPart `json:"content"`
}

type visionRequest struct {
	Model       string          `json:"model"`
	Messages    []visionMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (b *openAIBackend) Describe(ctx context.Context, req Request) (string, error) {
	parts, err := buildParts(req.Images, req.Question)
	if err != nil {
		return "", err
	}

	content := make([]visionContentPart, 0, len(parts))
	for _, p := range parts {
		if p.ImageURL != "" {
			content = append(content, visionContentPart{Type: "image_url", ImageURL: &visionImageURL{URL: p.ImageURL}})
		} else {
			content = append(content, visionContentPart{Type: "text", Text: p.Text})
		}
	}

	body, err := json.Marshal(visionRequest{
		Model:       b.model,
		Messages:    []visionMessage{{Role: "user", Content: content}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision API error (status %d): %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var out visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("unexpected response format: no choices")
	}

	b.logger.Debug("images analyzed",
		"images", len(req.Images),
		"model", b.model,
		"elapsed", time.Since(start),
	)
	return out.Choices[0].Message.Content, nil
}
