package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nugget/docent/internal/tools"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIAdapter(Config{
		APIKey:     "sk-test",
		BaseURL:    srv.URL + "/v1",
		Model:      "gpt-test",
		MaxTokens:  512,
		HTTPClient: srv.Client(),
		Logger:     discardLogger(),
	})
}

func TestOpenAI_Converse_ToolCalls(t *testing.T) {
	var raw map[string]any
	a := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&raw)
		writeJSON(w, map[string]any{
			"model": "gpt-test",
			"choices": []map[string]any{{
				"finish_reason": "tool_calls",
				"message": map[string]any{
					"role":    "assistant",
					"content": nil,
					"tool_calls": []map[string]any{
						{"id": "call_a", "type": "function", "function": map[string]any{"name": "search_documents", "arguments": `{"question":"chart page 2","top_k":3}`}},
						{"id": "", "type": "function", "function": map[string]any{"name": "analyze_images", "arguments": map[string]any{"images": []string{"/x/p2.png"}}}},
					},
				},
			}},
			"usage": map[string]any{"prompt_tokens": 50, "completion_tokens": 12},
		})
	})

	res, err := a.Converse(context.Background(), Request{
		System:  "sys",
		History: []Message{UserMessage("q")},
		Tools:   []tools.Descriptor{searchTool},
	})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}

	msgs := raw["messages"].([]any)
	if first := msgs[0].(map[string]any); first["role"] != "system" || first["content"] != "sys" {
		t.Errorf("first message = %v, want system prompt", first)
	}
	if raw["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v", raw["tool_choice"])
	}

	if res.Kind != PendingToolCalls || len(res.ToolCalls) != 2 {
		t.Fatalf("res = %+v", res)
	}
	if res.ToolCalls[0].Arguments["top_k"] != float64(3) {
		t.Errorf("string arguments not decoded: %v", res.ToolCalls[0].Arguments)
	}
	if res.ToolCalls[1].ID == "" {
		t.Error("missing tool call id not synthesized")
	}
	if imgs, ok := res.ToolCalls[1].Arguments["images"].([]any); !ok || len(imgs) != 1 {
		t.Errorf("object arguments not decoded: %v", res.ToolCalls[1].Arguments)
	}
	if res.Usage.InputTokens != 50 {
		t.Errorf("Usage = %+v", res.Usage)
	}
}

func TestOpenAI_Converse_FinalAnswer(t *testing.T) {
	a := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"choices": []map[string]any{{
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "Q4 revenue bar chart."},
			}},
		})
	})

	res, err := a.Converse(context.Background(), Request{History: []Message{UserMessage("q")}})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if res.Kind != FinalAnswer || res.Text != "Q4 revenue bar chart." {
		t.Errorf("res = %+v", res)
	}
}

func TestOpenAI_Converse_Errors(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		retryable bool
		target    error
	}{
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}, true, nil},
		{"unprocessable", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad schema", http.StatusUnprocessableEntity)
		}, false, nil},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"choices": []any{}})
		}, false, errNoChoices},
		{"length", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"choices": []map[string]any{{"finish_reason": "length", "message": map[string]any{"content": "partial"}}}})
		}, false, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestOpenAI(t, tt.handler)
			_, err := a.Converse(context.Background(), Request{History: []Message{UserMessage("q")}})
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ProviderError", err)
			}
			if pe.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", pe.Retryable, tt.retryable)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("err = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestConvertToOpenAI_History(t *testing.T) {
	call := ToolCall{ID: "call_1", Name: "search_documents", Arguments: map[string]any{"question": "x"}}
	msgs := convertToOpenAI("", []Message{
		UserMessage("q"),
		AssistantMessage("", []ToolCall{call}),
		ToolErrorMessage(call, "index offline"),
	})

	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (no system)", len(msgs))
	}
	if msgs[1].Content != nil {
		t.Errorf("assistant tool-call content = %q, want null", *msgs[1].Content)
	}
	var args string
	if err := json.Unmarshal(msgs[1].ToolCalls[0].Function.Arguments, &args); err != nil || args != `{"question":"x"}` {
		t.Errorf("arguments = %s, want JSON string", msgs[1].ToolCalls[0].Function.Arguments)
	}
	if msgs[2].Role != "tool" || msgs[2].ToolCallID != "call_1" || *msgs[2].Content != "Error: index offline" {
		t.Errorf("tool message = %+v", msgs[2])
	}
}

func TestDecodeArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		key  string
		want any
	}{
		{"string", `"{\"a\":1}"`, "a", float64(1)},
		{"object", `{"a":"b"}`, "a", "b"},
		{"empty string", `""`, "", nil},
		{"null", `null`, "", nil},
		{"garbage", `"{not json"`, "_raw", "{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeArguments(json.RawMessage(tt.raw))
			if got == nil {
				t.Fatal("decodeArguments returned nil")
			}
			if tt.key == "" {
				if len(got) != 0 {
					t.Errorf("got %v, want empty", got)
				}
				return
			}
			if got[tt.key] != tt.want {
				t.Errorf("got[%q] = %v, want %v", tt.key, got[tt.key], tt.want)
			}
		})
	}
}
