package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrTruncated means the model stopped at its output limit before
// finishing. A truncated answer is never returned as final.
var ErrTruncated = errors.New("response truncated at max tokens")

// ProviderError is a failed model call.
type ProviderError struct {
	Provider string

	// StatusCode is the HTTP status, or 0 when no response arrived.
	StatusCode int

	// Retryable reports whether the same request may succeed later.
	Retryable bool

	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable *ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// retryableStatus classifies an HTTP status. Rate limits, timeouts,
// conflicts and server-side failures (including Anthropic's 529
// overloaded) are retryable; other client errors are not.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusConflict:
		return true
	}
	return code >= 500
}

// statusError builds the error for a non-2xx response.
func statusError(provider string, code int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: code,
		Retryable:  retryableStatus(code),
		Err:        fmt.Errorf("%s", body),
	}
}

// transportError classifies a failure to get any response. Context
// cancellation and deadlines from the caller pass through unchanged.
func transportError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ProviderError{Provider: provider, Retryable: true, Err: fmt.Errorf("request failed: %w", err)}
}

// decodeError marks a malformed response body as permanent.
func decodeError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Err: fmt.Errorf("decode response: %w", err)}
}

var errNoChoices = errors.New("response has no choices")
