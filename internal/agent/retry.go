package agent

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nugget/docent/internal/llm"
)

// newBackOff returns the retry policy for model calls: exponential
// between initial and maxInterval, at most attempts calls in total, stopped
// early when ctx ends.
func newBackOff(ctx context.Context, attempts int, initial, maxInterval time.Duration) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = maxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// converse calls the adapter until it succeeds, fails permanently or
// the attempt ceiling is reached. Each attempt gets its own TurnTimeout.
func (o *Orchestrator) converse(ctx context.Context, req llm.Request, turn int) (*llm.TurnResult, error) {
	var (
		result  *llm.TurnResult
		attempt int
	)

	op := func() error {
		attempt++
		attemptCtx, cancel := o.attemptContext(ctx)
		defer cancel()

		res, err := o.adapter.Converse(attemptCtx, req)
		if err == nil {
			result = res
			return nil
		}

		// A parent cancellation is never retried.
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) && attemptCtx.Err() != nil {
			return &llm.ProviderError{Provider: o.adapter.Provider(), Retryable: true, Err: err}
		}
		if !llm.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		o.logger.Warn("model call failed, retrying",
			"turn", turn,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, newBackOff(ctx, o.cfg.RetryAttempts, o.cfg.RetryInitialBackoff, o.cfg.RetryMaxBackoff), notify)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.TurnTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.TurnTimeout)
	}
	return context.WithCancel(ctx)
}
