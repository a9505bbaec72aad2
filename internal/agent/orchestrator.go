// Package agent runs the question-answering turn loop: it alternates
// model calls with tool dispatch until the model produces an answer or
// the turn ceiling is reached.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/docent/internal/llm"
	"github.com/nugget/docent/internal/tools"
)

// Defaults applied when a Config field is zero.
const (
	DefaultMaxTurns            = 10
	DefaultRetryAttempts       = 3
	DefaultRetryInitialBackoff = time.Second
	DefaultRetryMaxBackoff     = 30 * time.Second
)

// emptyAnswer replaces a final answer with no text.
const emptyAnswer = "I couldn't generate a response."

// Config bounds one question-answer exchange.
type Config struct {
	SystemPrompt string

	// MaxTurns is the maximum number of model calls per question.
	MaxTurns int

	// RetryAttempts is the total number of attempts per model call,
	// including the first.
	RetryAttempts       int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	// TurnTimeout bounds each model call attempt. Zero means no limit
	// beyond the caller's context.
	TurnTimeout time.Duration

	// ParallelTools dispatches the calls of one turn concurrently.
	// Results are still recorded in emission order.
	ParallelTools bool
}

func (c *Config) applyDefaults() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryInitialBackoff <= 0 {
		c.RetryInitialBackoff = DefaultRetryInitialBackoff
	}
	if c.RetryMaxBackoff < c.RetryInitialBackoff {
		c.RetryMaxBackoff = max(DefaultRetryMaxBackoff, c.RetryInitialBackoff)
	}
}

// TurnUsage describes one successful model call.
type TurnUsage struct {
	ConversationID string
	Turn           int
	Provider       string
	Model          string
	Usage          llm.Usage

	// ToolCalls is the number of tool calls the model requested.
	ToolCalls int
}

// UsageRecorder stores the token usage of each model call.
type UsageRecorder interface {
	RecordTurn(ctx context.Context, t TurnUsage) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithToolObserver registers fn to be called once per finished tool
// call, in emission order, from the goroutine running Answer.
func WithToolObserver(fn func(ToolEvent)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithUsageRecorder records usage after every successful model call.
// Recording errors are logged and otherwise ignored.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(o *Orchestrator) { o.usage = r }
}

// Result is a successful exchange.
type Result struct {
	Answer         string
	History        []llm.Message
	ConversationID string
	Model          string

	// Turns is the number of model calls made.
	Turns int

	// ToolCalls is the number of tool calls dispatched.
	ToolCalls int

	Usage llm.Usage
}

// Orchestrator answers questions with one model adapter and one tool
// registry. Answer calls are serialized.
type Orchestrator struct {
	adapter  llm.Adapter
	registry *tools.Registry
	cfg      Config
	logger   *slog.Logger
	observer func(ToolEvent)
	usage    UsageRecorder

	mu sync.Mutex
}

// New returns an Orchestrator. A nil registry means no tools.
func New(adapter llm.Adapter, registry *tools.Registry, cfg Config, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	if registry == nil {
		registry, _ = tools.Build()
	}
	o := &Orchestrator{
		adapter:  adapter,
		registry: registry,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "agent")
	return o
}

// Answer runs the turn loop for question. It returns either a Result
// or a *Failure.
func (o *Orchestrator) Answer(ctx context.Context, question string) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	convID := uuid.New().String()
	log := o.logger.With("conversation", convID)
	log.Info("question received", "length", len(question), "tools", o.registry.Len())

	history := []llm.Message{llm.UserMessage(question)}
	descriptors := o.registry.Descriptors()

	var (
		usage     llm.Usage
		toolCalls int
		model     string
	)

	for turn := 1; turn <= o.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, newFailure(ReasonCancelled, history, turn-1, err)
		}

		req := llm.Request{
			System:  o.cfg.SystemPrompt,
			History: append([]llm.Message(nil), history...),
			Tools:   descriptors,
		}

		start := time.Now()
		res, err := o.converse(ctx, req, turn)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("question cancelled", "turn", turn)
				return nil, newFailure(ReasonCancelled, history, turn, ctx.Err())
			}
			log.Error("model call failed", "turn", turn, "error", err)
			return nil, newFailure(ReasonModelFailed, history, turn, err)
		}

		usage.Add(res.Usage)
		if res.Model != "" {
			model = res.Model
		}
		o.recordUsage(ctx, log, convID, turn, res)

		log.Debug("model turn complete",
			"turn", turn,
			"kind", res.Kind,
			"tool_calls", len(res.ToolCalls),
			"elapsed", time.Since(start),
			"input_tokens", res.Usage.InputTokens,
			"output_tokens", res.Usage.OutputTokens,
		)

		if res.Kind == llm.FinalAnswer {
			answer := res.Text
			if answer == "" {
				log.Warn("model returned an empty answer", "turn", turn)
				answer = emptyAnswer
			}
			history = append(history, llm.AssistantMessage(answer, nil))

			log.Info("question answered",
				"turns", turn,
				"tool_calls", toolCalls,
				"input_tokens", usage.InputTokens,
				"output_tokens", usage.OutputTokens,
			)
			return &Result{
				Answer:         answer,
				History:        history,
				ConversationID: convID,
				Model:          model,
				Turns:          turn,
				ToolCalls:      toolCalls,
				Usage:          usage,
			}, nil
		}

		outcomes := o.dispatch(ctx, res.ToolCalls)
		if err := ctx.Err(); err != nil {
			log.Info("question cancelled during tool dispatch", "turn", turn)
			return nil, newFailure(ReasonCancelled, history, turn, err)
		}

		history = append(history, llm.AssistantMessage(res.Preamble, res.ToolCalls))
		for _, oc := range outcomes {
			history = append(history, oc.msg)
			if o.observer != nil {
				ev := oc.event
				ev.ConversationID = convID
				ev.Turn = turn
				o.observer(ev)
			}
		}
		toolCalls += len(outcomes)
	}

	log.Warn("turn ceiling reached", "max_turns", o.cfg.MaxTurns, "tool_calls", toolCalls)
	return nil, newFailure(ReasonMaxTurns, history, o.cfg.MaxTurns, nil)
}

func (o *Orchestrator) recordUsage(ctx context.Context, log *slog.Logger, convID string, turn int, res *llm.TurnResult) {
	if o.usage == nil {
		return
	}
	err := o.usage.RecordTurn(ctx, TurnUsage{
		ConversationID: convID,
		Turn:           turn,
		Provider:       o.adapter.Provider(),
		Model:          res.Model,
		Usage:          res.Usage,
		ToolCalls:      len(res.ToolCalls),
	})
	if err != nil {
		log.Warn("failed to record usage", "error", err)
	}
}
