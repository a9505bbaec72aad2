// Package llm translates provider-neutral conversation turns to and
// from the wire formats of remote language models.
package llm

import (
	"context"
	"log/slog"

	"github.com/nugget/docent/internal/tools"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation history.
type Message struct {
	Role string `json:"role"`

	// Text is the user question, the assistant answer or preamble, or
	// the tool result content.
	Text string `json:"text,omitempty"`

	// ToolCalls is set on assistant messages that request tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool results.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// IsError marks a tool result that carries a failure.
	IsError bool `json:"is_error,omitempty"`
}

// UserMessage returns a user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// AssistantMessage returns an assistant turn. text is the final
// answer when calls is empty, otherwise any preamble that came with
// the tool calls.
func AssistantMessage(text string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Text: text, ToolCalls: calls}
}

// ToolResultMessage returns the successful result of call.
func ToolResultMessage(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Text: content, ToolCallID: call.ID, ToolName: call.Name}
}

// ToolErrorMessage returns a tool result reporting that call failed.
func ToolErrorMessage(call ToolCall, reason string) Message {
	return Message{Role: RoleTool, Text: reason, ToolCallID: call.ID, ToolName: call.Name, IsError: true}
}

// ToolCall is one tool invocation requested by the model. ID is
// unique within its turn.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// TurnKind says whether a turn ended the conversation.
type TurnKind int

const (
	// FinalAnswer means the model answered; Text holds the answer.
	FinalAnswer TurnKind = iota

	// PendingToolCalls means the model wants tools run; ToolCalls holds
	// them in emission order.
	PendingToolCalls
)

// String implements fmt.Stringer.
func (k TurnKind) String() string {
	if k == PendingToolCalls {
		return "pending_tool_calls"
	}
	return "final_answer"
}

// Usage is the token count of one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
}

// TurnResult is the provider-neutral outcome of one model call.
type TurnResult struct {
	Kind TurnKind

	// Text is set only for FinalAnswer.
	Text string

	// ToolCalls is set only for PendingToolCalls.
	ToolCalls []ToolCall

	// Preamble is text that accompanied tool calls. It is echoed back
	// in history so the provider sees its own turn, but it is never
	// an answer.
	Preamble string

	Model string
	Usage Usage
}

// Request is one model call.
type Request struct {
	System  string
	History []Message
	Tools   []tools.Descriptor
}

// Adapter talks to one remote model.
type Adapter interface {
	// Converse sends the conversation and returns the model's turn.
	// Failures are *ProviderError, except context cancellation which is
	// returned as ctx.Err().
	Converse(ctx context.Context, req Request) (*TurnResult, error)

	// Provider names the wire format in use.
	Provider() string
}

// finalOrPending builds a TurnResult from parsed text and calls.
func finalOrPending(text string, calls []ToolCall, model string, usage Usage) *TurnResult {
	if len(calls) > 0 {
		return &TurnResult{Kind: PendingToolCalls, ToolCalls: calls, Preamble: text, Model: model, Usage: usage}
	}
	return &TurnResult{Kind: FinalAnswer, Text: text, Model: model, Usage: usage}
}
