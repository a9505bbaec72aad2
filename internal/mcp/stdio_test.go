package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const helperEnv = "DOCENT_MCP_HELPER"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// helperConfig re-executes the test binary as a tool server running
// the given mode.
func helperConfig(mode string) SessionConfig {
	return SessionConfig{
		Name:           mode,
		Command:        os.Args[0],
		Args:           []string{"-test.run=^TestHelperProcess$", "--"},
		Env:            map[string]string{helperEnv: mode},
		ConnectTimeout: 10 * time.Second,
		CallTimeout:    5 * time.Second,
		Logger:         discardLogger(),
	}
}

func connectHelper(t *testing.T, cfg SessionConfig) *Session {
	t.Helper()
	s, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect(%s): %v", cfg.Name, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestHelperProcess is not a real test. It is the tool server used by
// the tests below when the binary is re-executed with helperEnv set.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}

	switch mode {
	case "script":
		runScriptedServer()
	case "sdk":
		runSDKServer()
	case "banner":
		fmt.Println("listening on stdio")
		runScriptedServer()
	case "noisy":
		// One line past the scanner limit, then more than a pipe
		// buffer of trailing output.
		os.Stderr.WriteString(strings.Repeat("x", 300*1024) + "\n")
		for range 4096 {
			os.Stderr.WriteString("still talking on stderr\n")
		}
		runScriptedServer()
	case "silent":
		io.Copy(io.Discard, os.Stdin)
	case "exit":
		os.Exit(3)
	}
	os.Exit(0)
}

// runScriptedServer is a minimal hand-written MCP server. Tool calls:
// echo returns its text, slow answers after ms milliseconds without
// blocking other requests, fail returns isError, garble writes a
// non-JSON line and crash exits.
func runScriptedServer() {
	var mu sync.Mutex
	out := bufio.NewWriter(os.Stdout)
	write := func(v any) {
		data, _ := json.Marshal(v)
		mu.Lock()
		defer mu.Unlock()
		out.Write(append(data, '\n'))
		out.Flush()
	}
	reply := func(id json.RawMessage, result any) {
		write(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	}
	text := func(s string, isError bool) map[string]any {
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": s}},
			"isError": isError,
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		switch req.Method {
		case "initialize":
			reply(req.ID, map[string]any{
				"protocolVersion": "2024-11-05",
				"serverInfo":      map[string]any{"name": "scripted", "version": "0.1"},
				"capabilities":    map[string]any{"tools": map[string]any{}},
			})
		case "tools/list":
			write(map[string]any{"jsonrpc": "2.0", "method": "notifications/message", "params": map[string]any{"level": "info"}})
			var defs []map[string]any
			for _, name := range []string{"echo", "slow", "fail", "garble", "crash"} {
				defs = append(defs, map[string]any{
					"name":        name,
					"description": name + " tool",
					"inputSchema": map[string]any{"type": "object"},
				})
			}
			reply(req.ID, map[string]any{"tools": defs})
		case "ping":
			reply(req.ID, map[string]any{})
		case "tools/call":
			args := req.Params.Arguments
			switch req.Params.Name {
			case "echo":
				reply(req.ID, text(fmt.Sprint(args["text"]), false))
			case "slow":
				ms, _ := args["ms"].(float64)
				go func(id json.RawMessage) {
					time.Sleep(time.Duration(ms) * time.Millisecond)
					reply(id, text("slow done", false))
				}(req.ID)
			case "fail":
				reply(req.ID, text("boom", true))
			case "garble":
				mu.Lock()
				out.WriteString("this is not json\n")
				out.Flush()
				mu.Unlock()
			case "crash":
				os.Exit(2)
			default:
				write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32602, "message": "unknown tool"}})
			}
		}
	}
}

// runSDKServer serves one echo tool with the official Go SDK.
func runSDKServer() {
	server := sdk.NewServer(&sdk.Implementation{Name: "sdk-helper", Version: "0.1"}, nil)
	server.AddTool(&sdk.Tool{
		Name:        "echo",
		Description: "Echo the text argument",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
	}, func(_ context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		var args struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return nil, err
		}
		return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: args.Text}}}, nil
	})
	_ = server.Run(context.Background(), &sdk.StdioTransport{})
}

func TestStdio_ConnectAndInvoke(t *testing.T) {
	cfg := helperConfig("script")
	cfg.Exclude = []string{"crash"}
	s := connectHelper(t, cfg)

	var names []string
	for _, d := range s.Tools() {
		names = append(names, d.Name)
	}
	if !slices.Equal(names, []string{"echo", "slow", "fail", "garble"}) {
		t.Errorf("tools = %v", names)
	}

	got, err := s.Invoke(context.Background(), "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "hello" {
		t.Errorf("Invoke = %q, want hello", got)
	}

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStdio_ToolFailure(t *testing.T) {
	s := connectHelper(t, helperConfig("script"))

	_, err := s.Invoke(context.Background(), "fail", nil)
	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) || execErr.Message != "boom" {
		t.Errorf("err = %v, want ToolExecutionError boom", err)
	}

	// The session is still healthy.
	if _, err := s.Invoke(context.Background(), "echo", map[string]any{"text": "x"}); err != nil {
		t.Errorf("echo after failure: %v", err)
	}
}

func TestStdio_Pipelining(t *testing.T) {
	s := connectHelper(t, helperConfig("script"))

	slowDone := make(chan error, 1)
	go func() {
		_, err := s.Invoke(context.Background(), "slow", map[string]any{"ms": 400})
		slowDone <- err
	}()

	// Let the slow request reach the server first.
	time.Sleep(50 * time.Millisecond)

	got, err := s.Invoke(context.Background(), "echo", map[string]any{"text": "fast"})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if got != "fast" {
		t.Errorf("echo = %q", got)
	}

	select {
	case err := <-slowDone:
		t.Fatalf("slow finished before echo returned (err=%v)", err)
	default:
	}

	if err := <-slowDone; err != nil {
		t.Errorf("slow: %v", err)
	}
}

func TestStdio_TimeoutKeepsSession(t *testing.T) {
	cfg := helperConfig("script")
	cfg.CallTimeout = 100 * time.Millisecond
	s := connectHelper(t, cfg)

	_, err := s.Invoke(context.Background(), "slow", map[string]any{"ms": 300})
	if !errors.Is(err, ErrToolTimeout) {
		t.Fatalf("err = %v, want ErrToolTimeout", err)
	}

	// Wait for the late response to arrive and be dropped.
	time.Sleep(300 * time.Millisecond)

	got, err := s.Invoke(context.Background(), "echo", map[string]any{"text": "still here"})
	if err != nil {
		t.Fatalf("echo after timeout: %v", err)
	}
	if got != "still here" {
		t.Errorf("echo = %q", got)
	}
}

func TestStdio_ProtocolViolationIsolated(t *testing.T) {
	bad := connectHelper(t, helperConfig("script"))
	good := connectHelper(t, helperConfig("script"))

	_, err := bad.Invoke(context.Background(), "garble", nil)
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("garble err = %v, want ErrProtocolViolation", err)
	}

	// The broken session stays broken.
	if _, err := bad.Invoke(context.Background(), "echo", map[string]any{"text": "x"}); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("echo on broken session err = %v, want ErrProtocolViolation", err)
	}

	// The other session is unaffected.
	if got, err := good.Invoke(context.Background(), "echo", map[string]any{"text": "ok"}); err != nil || got != "ok" {
		t.Errorf("good session echo = %q, %v", got, err)
	}
}

func TestStdio_SubprocessExit(t *testing.T) {
	s := connectHelper(t, helperConfig("script"))

	_, err := s.Invoke(context.Background(), "crash", nil)
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("crash err = %v, want ErrTransportClosed", err)
	}
	if _, err := s.Invoke(context.Background(), "echo", nil); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("echo after exit err = %v, want ErrTransportClosed", err)
	}
}

func TestStdio_OverlongStderrLine(t *testing.T) {
	s := connectHelper(t, helperConfig("noisy"))

	got, err := s.Invoke(context.Background(), "echo", map[string]any{"text": "heard"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "heard" {
		t.Errorf("Invoke = %q, want heard", got)
	}
}

func TestStdio_InvokeAfterClose(t *testing.T) {
	s := connectHelper(t, helperConfig("script"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Invoke(context.Background(), "echo", nil); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("err = %v, want ErrTransportClosed", err)
	}
}

func TestStdio_ConnectFailures(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SessionConfig
		wantErr error
	}{
		{"process exits", helperConfig("exit"), ErrTransportClosed},
		{"stdout banner", helperConfig("banner"), ErrProtocolViolation},
		{"no handshake", func() SessionConfig {
			cfg := helperConfig("silent")
			cfg.ConnectTimeout = 200 * time.Millisecond
			return cfg
		}(), context.DeadlineExceeded},
		{"missing binary", SessionConfig{Name: "missing", Command: "/nonexistent/docent-tool", Logger: discardLogger()}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Connect(context.Background(), tt.cfg)
			if s != nil {
				s.Close()
				t.Fatal("Connect returned a session")
			}
			if !errors.Is(err, ErrProviderUnavailable) {
				t.Fatalf("err = %v, want ErrProviderUnavailable", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want it to wrap %v", err, tt.wantErr)
			}
		})
	}
}

func TestStdio_SDKServer(t *testing.T) {
	s := connectHelper(t, helperConfig("sdk"))

	name, _ := s.ServerInfo()
	if name != "sdk-helper" {
		t.Errorf("server name = %q, want sdk-helper", name)
	}

	tools := s.Tools()
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("tools = %+v, want [echo]", tools)
	}

	got, err := s.Invoke(context.Background(), "echo", map[string]any{"text": "from the sdk"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "from the sdk" {
		t.Errorf("Invoke = %q", got)
	}

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
