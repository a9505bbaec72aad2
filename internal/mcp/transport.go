package mcp

import "context"

// Transport carries JSON-RPC messages to one tool server.
// Implementations handle framing, encoding and correlation.
type Transport interface {
	// Send sends a JSON-RPC request and returns the response with the
	// same id. Send may be called concurrently.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// Close shuts down the transport and releases resources.
	// For stdio transports this terminates the subprocess.
	Close() error
}
