package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nugget/docent/internal/buildinfo"
	"github.com/nugget/docent/internal/tools"
)

// protocolVersion is the MCP protocol version we advertise during initialization.
const protocolVersion = "2024-11-05"

// Default session timeouts.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultCallTimeout    = 60 * time.Second
)

// ToolDefinition is an MCP tool as returned by tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call response.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// callToolResult is the result payload of a tools/call response.
type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools      []ToolDefinition `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the full initialize response result.
type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

// SessionConfig describes one tool server.
type SessionConfig struct {
	// Name identifies the session in logs and duplicate-name errors.
	Name string

	Command string
	Args    []string
	Env     map[string]string

	// ConnectTimeout bounds process start, handshake and tool
	// discovery. Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// CallTimeout bounds each tools/call. Zero means DefaultCallTimeout.
	CallTimeout time.Duration

	// Include, when non-empty, keeps only the named tools.
	Include []string

	// Exclude drops the named tools. Applied after Include.
	Exclude []string

	Logger *slog.Logger
}

// Session is one connected tool server. It satisfies tools.Provider.
type Session struct {
	name        string
	transport   Transport
	logger      *slog.Logger
	callTimeout time.Duration
	nextID      atomic.Int64

	serverName string
	serverVer  string
	tools      []tools.Descriptor
}

// Connect starts the configured subprocess, performs the MCP handshake
// and discovers its tools. Any failure terminates the subprocess and
// returns an error wrapping ErrProviderUnavailable.
func Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("mcp_server", cfg.Name)

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	tr := NewStdioTransport(StdioConfig{
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     envList(cfg.Env),
		Logger:  logger,
	})
	if err := tr.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, cfg.Name, err)
	}

	s := newSession(cfg, tr, logger)
	if err := s.handshake(ctx, cfg.Include, cfg.Exclude); err != nil {
		tr.Close()
		if ctx.Err() != nil && !errors.Is(err, ErrTransportClosed) {
			err = fmt.Errorf("handshake not completed within %s: %w", connectTimeout, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, cfg.Name, err)
	}
	return s, nil
}

// newSession wraps an already running transport.
func newSession(cfg SessionConfig, tr Transport, logger *slog.Logger) *Session {
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Session{
		name:        cfg.Name,
		transport:   tr,
		logger:      logger,
		callTimeout: callTimeout,
	}
}

// handshake runs initialize, notifications/initialized and tools/list.
func (s *Session) handshake(ctx context.Context, include, exclude []string) error {
	if err := s.initialize(ctx); err != nil {
		return err
	}

	defs, err := s.listTools(ctx)
	if err != nil {
		return err
	}

	s.tools = filterTools(defs, include, exclude)
	s.logger.Info("discovered MCP tools",
		"advertised", len(defs),
		"kept", len(s.tools),
	)
	return nil
}

func (s *Session) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "docent",
			"version": buildinfo.Version,
		},
	}

	resp, err := s.send(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}
	s.serverName = result.ServerInfo.Name
	s.serverVer = result.ServerInfo.Version

	s.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	if err := s.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// listTools pages through tools/list.
func (s *Session) listTools(ctx context.Context) ([]ToolDefinition, error) {
	var all []ToolDefinition
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}

		resp, err := s.send(ctx, "tools/list", params)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}

		var result toolsListResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
		}
		all = append(all, result.Tools...)

		if result.NextCursor == "" || result.NextCursor == cursor {
			return all, nil
		}
		cursor = result.NextCursor
	}
}

// Name returns the configured session name.
func (s *Session) Name() string {
	return s.name
}

// ServerInfo returns the name and version the server reported.
func (s *Session) ServerInfo() (name, version string) {
	return s.serverName, s.serverVer
}

// Tools returns the advertised tools after include/exclude filtering.
func (s *Session) Tools() []tools.Descriptor {
	out := make([]tools.Descriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

// Invoke calls one tool and returns its text content. A call that gets
// no response within the call timeout fails with ErrToolTimeout; a
// server-side failure is a *ToolExecutionError. Cancellation of ctx is
// returned as ctx.Err().
func (s *Session) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	id := s.nextID.Add(1)
	resp, err := s.sendID(callCtx, id, "tools/call", params)
	if err != nil {
		var rpcErr *RPCError
		switch {
		case ctx.Err() != nil:
			s.cancelRequest(id, name, "cancelled by client")
			return "", ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			s.cancelRequest(id, name, "timed out after "+s.callTimeout.String())
			return "", fmt.Errorf("%w: %s after %s", ErrToolTimeout, name, s.callTimeout)
		case errors.As(err, &rpcErr):
			return "", &ToolExecutionError{Tool: name, Message: rpcErr.Message, Code: rpcErr.Code}
		}
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		s.logger.Error("MCP protocol violation, closing session", "tool", name, "error", err)
		s.transport.Close()
		return "", fmt.Errorf("%w: unmarshal tools/call result: %v", ErrProtocolViolation, err)
	}

	text := extractText(result.Content)
	s.logger.Debug("MCP tool call complete",
		"tool", name,
		"is_error", result.IsError,
		"result_len", len(text),
		"elapsed", time.Since(start),
	)

	if result.IsError {
		return "", &ToolExecutionError{Tool: name, Message: text}
	}
	return text, nil
}

// Ping checks whether the server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.send(ctx, "ping", nil)
	return err
}

// Close shuts down the session and its subprocess.
func (s *Session) Close() error {
	s.logger.Info("closing MCP session")
	return s.transport.Close()
}

// send issues a JSON-RPC request and surfaces RPC errors as *RPCError.
func (s *Session) send(ctx context.Context, method string, params any) (*Response, error) {
	return s.sendID(ctx, s.nextID.Add(1), method, params)
}

func (s *Session) sendID(ctx context.Context, id int64, method string, params any) (*Response, error) {
	req := NewRequest(id, method, params)

	resp, err := s.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return resp, nil
}

// cancelRequest tells the server to stop working on an abandoned
// request. Delivery is best effort; the server may already have
// answered.
func (s *Session) cancelRequest(id int64, tool, reason string) {
	notif := NewNotification("notifications/cancelled", map[string]any{
		"requestId": id,
		"reason":    reason,
	})
	if err := s.transport.Notify(context.Background(), notif); err != nil {
		s.logger.Debug("failed to send MCP cancellation", "tool", tool, "id", id, "error", err)
	}
}

// extractText joins all text content blocks into a single string.
// Non-text blocks are represented as inline markers.
func extractText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "image":
			parts = append(parts, "[image]")
		case "resource":
			parts = append(parts, "[resource]")
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}

// filterTools applies the include and exclude lists, keeping the
// server's advertised order.
func filterTools(defs []ToolDefinition, include, exclude []string) []tools.Descriptor {
	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	out := make([]tools.Descriptor, 0, len(defs))
	for _, td := range defs {
		if len(includeSet) > 0 && !includeSet[td.Name] {
			continue
		}
		if excludeSet[td.Name] {
			continue
		}
		schema := td.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, tools.Descriptor{
			Name:        td.Name,
			Description: td.Description,
			Schema:      schema,
		})
	}
	return out
}

// toSet converts a string slice to a set for O(1) lookups.
func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

// envList flattens an environment map into sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
