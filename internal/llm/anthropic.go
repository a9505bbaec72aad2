package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicProvider   = "anthropic"
)

// AnthropicAdapter speaks the Anthropic Messages API, where a response
// is a list of content blocks.
type AnthropicAdapter struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewAnthropicAdapter creates an adapter for the Messages API.
func NewAnthropicAdapter(cfg Config) *AnthropicAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicAdapter{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  httpClientFor(cfg),
		logger:      loggerFor(cfg, anthropicProvider),
	}
}

// Anthropic request/response types

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"` // for tool_result
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider implements Adapter.
func (a *AnthropicAdapter) Provider() string { return anthropicProvider }

// Converse implements Adapter.
func (a *AnthropicAdapter) Converse(ctx context.Context, req Request) (*TurnResult, error) {
	msgs := convertToAnthropic(req.History)

	body := anthropicRequest{
		Model:       a.model,
		Messages:    msgs,
		System:      req.System,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}
	for _, d := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schemaOrEmpty(d.Schema),
		})
	}

	a.logger.Debug("preparing request",
		"model", a.model,
		"messages", len(msgs),
		"tools", len(body.Tools),
		"system_len", len(req.System),
	)

	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}

	var resp anthropicResponse
	if err := postJSON(ctx, a.httpClient, a.logger, anthropicProvider, a.baseURL+"/v1/messages", headers, body, &resp); err != nil {
		return nil, err
	}

	result, err := convertFromAnthropic(&resp)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("response received",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"tool_calls", len(result.ToolCalls),
	)
	return result, nil
}

// convertToAnthropic converts history to Messages API form. Runs of
// tool results become one user message of tool_result blocks, since
// the API requires every result for a turn in the following message.
func convertToAnthropic(history []Message) []anthropicMessage {
	var result []anthropicMessage

	for i := 0; i < len(history); i++ {
		msg := history[i]
		switch msg.Role {
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, anthropicMessage{Role: "assistant", Content: msg.Text})
				continue
			}
			var blocks []anthropicContent
			if msg.Text != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Text})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: args,
				})
			}
			result = append(result, anthropicMessage{Role: "assistant", Content: blocks})

		case RoleTool:
			var blocks []anthropicContent
			for ; i < len(history) && history[i].Role == RoleTool; i++ {
				tr := history[i]
				blocks = append(blocks, anthropicContent{
					Type:      "tool_result",
					ToolUseID: tr.ToolCallID,
					Content:   tr.Text,
					IsError:   tr.IsError,
				})
			}
			i--
			result = append(result, anthropicMessage{Role: "user", Content: blocks})

		default:
			result = append(result, anthropicMessage{Role: "user", Content: msg.Text})
		}
	}

	return result
}

// convertFromAnthropic turns content blocks into a TurnResult. Text
// blocks concatenate; any tool_use block makes the turn pending and
// demotes the text to preamble.
func convertFromAnthropic(resp *anthropicResponse) (*TurnResult, error) {
	var text strings.Builder
	var calls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, ok := block.Input.(map[string]any)
			if !ok {
				args = map[string]any{}
			}
			calls = append(calls, ToolCall{
				ID:        callID(block.ID),
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	if resp.StopReason == "max_tokens" {
		return nil, &ProviderError{Provider: anthropicProvider, Err: ErrTruncated}
	}

	usage := Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	return finalOrPending(text.String(), calls, resp.Model, usage), nil
}
