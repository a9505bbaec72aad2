package agent

import (
	"context"
	"sync"
	"time"

	"github.com/nugget/docent/internal/llm"
)

// ToolEvent reports one finished tool call.
type ToolEvent struct {
	ConversationID string
	Turn           int
	Call           llm.ToolCall
	Result         string
	Err            error
	Duration       time.Duration
}

type outcome struct {
	msg   llm.Message
	event ToolEvent
}

// dispatch runs calls and returns their outcomes in emission order.
// Tool failures become error results; they never abort the turn.
func (o *Orchestrator) dispatch(ctx context.Context, calls []llm.ToolCall) []outcome {
	out := make([]outcome, len(calls))

	if !o.cfg.ParallelTools || len(calls) < 2 {
		for i, call := range calls {
			if ctx.Err() != nil {
				break
			}
			out[i] = o.runTool(ctx, call)
		}
		return out
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			out[i] = o.runTool(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return out
}

func (o *Orchestrator) runTool(ctx context.Context, call llm.ToolCall) outcome {
	start := time.Now()
	ev := ToolEvent{Call: call}

	provider, err := o.registry.Resolve(call.Name)
	if err == nil {
		ev.Result, err = provider.Invoke(ctx, call.Name, call.Arguments)
	}
	ev.Err = err
	ev.Duration = time.Since(start)

	if err != nil {
		o.logger.Warn("tool call failed",
			"tool", call.Name,
			"call_id", call.ID,
			"duration", ev.Duration,
			"error", err,
		)
		return outcome{msg: llm.ToolErrorMessage(call, err.Error()), event: ev}
	}

	o.logger.Debug("tool call finished",
		"tool", call.Name,
		"call_id", call.ID,
		"duration", ev.Duration,
		"result_len", len(ev.Result),
	)
	return outcome{msg: llm.ToolResultMessage(call, ev.Result), event: ev}
}
