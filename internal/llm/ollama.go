package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

const ollamaProvider = "ollama"

// OllamaAdapter speaks the Ollama /api/chat endpoint. Tool call
// arguments arrive as objects; models that print tool calls as text
// are handled too.
type OllamaAdapter struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewOllamaAdapter creates an adapter for a local or remote Ollama.
func NewOllamaAdapter(cfg Config) *OllamaAdapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaAdapter{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  httpClientFor(cfg),
		logger:      loggerFor(cfg, ollamaProvider),
	}
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  *ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"` // Ollama returns object, not string
	} `json:"function"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// Provider implements Adapter.
func (a *OllamaAdapter) Provider() string { return ollamaProvider }

// Converse implements Adapter.
func (a *OllamaAdapter) Converse(ctx context.Context, req Request) (*TurnResult, error) {
	body := ollamaRequest{
		Model:    a.model,
		Messages: convertToOllama(req.System, req.History),
		Options:  &ollamaOptions{Temperature: a.temperature, NumPredict: a.maxTokens},
	}
	for _, d := range req.Tools {
		body.Tools = append(body.Tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  schemaOrEmpty(d.Schema),
			},
		})
	}

	a.logger.Debug("preparing request",
		"model", a.model,
		"messages", len(body.Messages),
		"tools", len(body.Tools),
	)

	var resp ollamaResponse
	if err := postJSON(ctx, a.httpClient, a.logger, ollamaProvider, a.baseURL+"/api/chat", nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.DoneReason == "length" {
		return nil, &ProviderError{Provider: ollamaProvider, Err: ErrTruncated}
	}

	var calls []ToolCall
	for _, tc := range resp.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, ToolCall{ID: callID(""), Name: tc.Function.Name, Arguments: args})
	}

	text := resp.Message.Content
	// Try to parse text-based tool calls if no native tool_calls
	if len(calls) == 0 && text != "" {
		if parsed := parseTextToolCalls(text); len(parsed) > 0 {
			calls = parsed
			text = ""
		}
	}

	a.logger.Debug("response received",
		"model", resp.Model,
		"done_reason", resp.DoneReason,
		"input_tokens", resp.PromptEvalCount,
		"output_tokens", resp.EvalCount,
		"tool_calls", len(calls),
	)

	usage := Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount}
	return finalOrPending(text, calls, resp.Model, usage), nil
}

func convertToOllama(system string, history []Message) []ollamaMessage {
	var result []ollamaMessage
	if system != "" {
		result = append(result, ollamaMessage{Role: "system", Content: system})
	}
	for _, msg := range history {
		switch msg.Role {
		case RoleAssistant:
			m := ollamaMessage{Role: "assistant", Content: msg.Text}
			for _, tc := range msg.ToolCalls {
				var wire ollamaToolCall
				wire.Function.Name = tc.Name
				wire.Function.Arguments = tc.Arguments
				m.ToolCalls = append(m.ToolCalls, wire)
			}
			result = append(result, m)
		case RoleTool:
			content := msg.Text
			if msg.IsError {
				content = "Error: " + content
			}
			result = append(result, ollamaMessage{Role: "tool", Content: content, ToolName: msg.ToolName})
		default:
			result = append(result, ollamaMessage{Role: "user", Content: msg.Text})
		}
	}
	return result
}

// parseTextToolCalls attempts to extract tool calls from content text.
// Many models output tool calls as JSON in the content rather than using
// the native tool_calls field. This function handles common formats:
// - Raw JSON object: {"name": "...", "arguments": {...}}
// - JSON array: [{"name": "...", "arguments": {...}}]
// - Tagged: <tool_call>...</tool_call>
func parseTextToolCalls(content string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	type textCall struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	toCall := func(c textCall) ToolCall {
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		return ToolCall{ID: callID(""), Name: c.Name, Arguments: args}
	}

	var many []textCall
	if err := json.Unmarshal([]byte(content), &many); err == nil && len(many) > 0 {
		result := make([]ToolCall, 0, len(many))
		for _, c := range many {
			if c.Name == "" {
				return nil
			}
			result = append(result, toCall(c))
		}
		return result
	}

	var single textCall
	if err := json.Unmarshal([]byte(content), &single); err == nil && single.Name != "" {
		return []ToolCall{toCall(single)}
	}

	return nil
}
