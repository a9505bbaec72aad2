package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

const openaiProvider = "openai"

// OpenAIAdapter speaks the chat completions API with function calling.
// Any OpenAI-compatible endpoint works through BaseURL.
type OpenAIAdapter struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewOpenAIAdapter creates an adapter for chat completions.
func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIAdapter{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  httpClientFor(cfg),
		logger:      loggerFor(cfg, openaiProvider),
	}
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
		// Arguments is a JSON-encoded string on the wire. Some
		// compatible servers send an object instead.
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Provider implements Adapter.
func (a *OpenAIAdapter) Provider() string { return openaiProvider }

// Converse implements Adapter.
func (a *OpenAIAdapter) Converse(ctx context.Context, req Request) (*TurnResult, error) {
	body := openaiRequest{
		Model:       a.model,
		Messages:    convertToOpenAI(req.System, req.History),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}
	for _, d := range req.Tools {
		body.Tools = append(body.Tools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schemaOrEmpty(d.Schema),
			},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}

	a.logger.Debug("preparing request",
		"model", a.model,
		"messages", len(body.Messages),
		"tools", len(body.Tools),
	)

	headers := map[string]string{}
	if a.apiKey != "" {
		headers["Authorization"] = "Bearer " + a.apiKey
	}

	var resp openaiResponse
	if err := postJSON(ctx, a.httpClient, a.logger, openaiProvider, a.baseURL+"/chat/completions", headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: openaiProvider, Err: errNoChoices}
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		return nil, &ProviderError{Provider: openaiProvider, Err: ErrTruncated}
	}

	var calls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		calls = append(calls, ToolCall{
			ID:        callID(tc.ID),
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}

	text := ""
	if choice.Message.Content != nil {
		text = *choice.Message.Content
	}

	a.logger.Debug("response received",
		"model", resp.Model,
		"finish_reason", choice.FinishReason,
		"input_tokens", resp.Usage.PromptTokens,
		"output_tokens", resp.Usage.CompletionTokens,
		"tool_calls", len(calls),
	)

	usage := Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	return finalOrPending(text, calls, resp.Model, usage), nil
}

// convertToOpenAI converts history to chat completion messages with a
// leading system message.
func convertToOpenAI(system string, history []Message) []openaiMessage {
	var result []openaiMessage
	if system != "" {
		result = append(result, openaiMessage{Role: "system", Content: &system})
	}

	for _, msg := range history {
		text := msg.Text
		switch msg.Role {
		case RoleAssistant:
			m := openaiMessage{Role: "assistant"}
			if text != "" || len(msg.ToolCalls) == 0 {
				m.Content = &text
			}
			for _, tc := range msg.ToolCalls {
				wire := openaiToolCall{ID: tc.ID, Type: "function"}
				wire.Function.Name = tc.Name
				wire.Function.Arguments = encodeArguments(tc.Arguments)
				m.ToolCalls = append(m.ToolCalls, wire)
			}
			result = append(result, m)

		case RoleTool:
			if msg.IsError {
				text = "Error: " + text
			}
			result = append(result, openaiMessage{Role: "tool", Content: &text, ToolCallID: msg.ToolCallID})

		default:
			result = append(result, openaiMessage{Role: "user", Content: &text})
		}
	}
	return result
}

// encodeArguments renders arguments as the JSON string the API expects.
func encodeArguments(args map[string]any) json.RawMessage {
	if args == nil {
		args = map[string]any{}
	}
	inner, _ := json.Marshal(args)
	outer, _ := json.Marshal(string(inner))
	return outer
}

// decodeArguments accepts a JSON string holding an object, or an
// object directly. Unparseable arguments are kept under "_raw" so the
// tool can report them.
func decodeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return map[string]any{}
		}
		raw = json.RawMessage(s)
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{"_raw": string(raw)}
	}
	return args
}
