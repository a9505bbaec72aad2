package tools

import "fmt"

// UnknownToolError is returned when a tool call names a tool that no
// provider advertised. The orchestrator reports it back to the model
// rather than aborting the conversation.
type UnknownToolError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// DuplicateToolNameError is returned by Build when two providers
// advertise the same tool name.
type DuplicateToolNameError struct {
	Name   string
	First  string
	Second string
}

// Error implements the error interface.
func (e *DuplicateToolNameError) Error() string {
	return fmt.Sprintf("tool %q advertised by both %s and %s", e.Name, e.First, e.Second)
}
