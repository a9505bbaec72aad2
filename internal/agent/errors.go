package agent

import (
	"fmt"

	"github.com/nugget/docent/internal/llm"
)

// Failure reasons.
const (
	ReasonMaxTurns    = "max turns exceeded"
	ReasonCancelled   = "cancelled"
	ReasonModelFailed = "model call failed"
)

// Failure is returned when a question cannot be answered. History holds
// the conversation up to the point of failure for diagnostics.
type Failure struct {
	Reason  string
	History []llm.Message
	Turns   int
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("agent failure: %s after %d turns: %v", f.Reason, f.Turns, f.Err)
	}
	return fmt.Sprintf("agent failure: %s after %d turns", f.Reason, f.Turns)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(reason string, history []llm.Message, turns int, err error) *Failure {
	return &Failure{
		Reason:  reason,
		History: append([]llm.Message(nil), history...),
		Turns:   turns,
		Err:     err,
	}
}
