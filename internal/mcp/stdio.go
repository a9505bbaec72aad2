package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// stopTimeout is how long Close waits for the subprocess to exit after
// stdin is closed before killing it.
const stopTimeout = 5 * time.Second

// StdioConfig configures a stdio MCP transport that communicates with
// a subprocess over stdin/stdout using newline-delimited JSON-RPC.
type StdioConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"). These are appended to the current
	// process environment.
	Env []string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// StdioTransport communicates with an MCP server running as a
// subprocess. Requests may be pipelined: writes are serialized and a
// single reader goroutine routes each response to its caller by id.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	mu      sync.Mutex
	pending map[int64]chan *Response
	err     error

	done      chan struct{} // closed when the transport stops accepting traffic
	exited    chan struct{} // closed after the subprocess has been reaped
	closeOnce sync.Once
	failOnce  sync.Once
}

// NewStdioTransport creates a stdio transport for the given config.
// Call Start to launch the subprocess.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config:  cfg,
		logger:  logger,
		pending: make(map[int64]chan *Response),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// Start launches the subprocess and the reader goroutine. The
// subprocess lifetime is independent of ctx; it ends with Close or
// when the process exits on its own.
func (t *StdioTransport) Start(_ context.Context) error {
	t.logger.Info("starting MCP subprocess",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// stderr is diagnostics only, never protocol.
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stderrPipe.Close()
		stdout.Close()
		stdin.Close()
		return fmt.Errorf("start subprocess %s: %w", t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin

	go t.drainStderr(stderrPipe)
	go t.readLoop(bufio.NewReaderSize(stdout, 1<<20)) // 1 MiB buffer for large responses

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	return nil
}

// drainStderr logs stderr lines at debug level. After an overlong
// line it discards the rest so the subprocess never blocks on stderr.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("MCP subprocess stderr no longer logged", "error", err)
	}
	_, _ = io.Copy(io.Discard, r)
}

// readLoop owns stdout. It exits on EOF, a read error or a protocol
// violation, then reaps the subprocess.
func (t *StdioTransport) readLoop(r *bufio.Reader) {
	defer t.reap()

	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if verr := t.dispatch(bytes.TrimSpace(line)); verr != nil {
				t.logger.Error("MCP protocol violation, closing session",
					"error", verr,
					"line", truncate(string(line), 200),
				)
				t.fail(fmt.Errorf("%w: %v", ErrProtocolViolation, verr))
				t.kill()
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.fail(fmt.Errorf("%w: subprocess closed stdout", ErrTransportClosed))
			} else {
				t.fail(fmt.Errorf("%w: read stdout: %v", ErrTransportClosed, err))
			}
			return
		}
	}
}

// dispatch routes one inbound line. A non-nil error is a protocol
// violation.
func (t *StdioTransport) dispatch(line []byte) error {
	env, err := decodeEnvelope(line)
	if err != nil {
		return err
	}

	if env.Method != "" {
		if isNullID(env.ID) {
			t.logger.Debug("skipping MCP notification", "method", env.Method)
			return nil
		}
		t.answerServerRequest(env)
		return nil
	}

	if isNullID(env.ID) {
		// Servers reply with a null id when they could not parse a
		// request; nobody is waiting on it.
		t.logger.Warn("MCP response without id", "error", env.Error)
		return nil
	}

	id, err := strconv.ParseInt(string(env.ID), 10, 64)
	if err != nil {
		return fmt.Errorf("response id %s is not a request id", env.ID)
	}

	t.mu.Lock()
	ch, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("dropping MCP response with no waiting caller", "id", id)
		return nil
	}

	ch <- &Response{JSONRPC: env.JSONRPC, ID: id, Result: env.Result, Error: env.Error}
	return nil
}

// answerServerRequest replies to server-initiated requests. Only ping
// is supported; everything else gets method-not-found.
func (t *StdioTransport) answerServerRequest(env *envelope) {
	resp := rawResponse{JSONRPC: jsonrpcVersion, ID: env.ID}
	if env.Method == "ping" {
		resp.Result = struct{}{}
	} else {
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: "method not supported by client: " + env.Method}
	}

	if err := t.write(resp); err != nil {
		t.logger.Debug("failed to answer server request", "method", env.Method, "error", err)
	}
}

// Send writes a request and waits for the response with the same id.
// When ctx ends first the request is abandoned; a late response is
// dropped by the reader and the subprocess keeps running.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	ch := make(chan *Response, 1)

	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return nil, err
	}
	t.pending[req.ID] = ch
	t.mu.Unlock()

	if err := t.write(req); err != nil {
		t.forget(req.ID)
		if cerr := t.closedErr(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.forget(req.ID)
		return nil, ctx.Err()
	case <-t.done:
		t.forget(req.ID)
		return nil, t.closedErr()
	}
}

// Notify sends a JSON-RPC notification over stdin. No response is expected.
func (t *StdioTransport) Notify(_ context.Context, notif *Notification) error {
	if err := t.closedErr(); err != nil {
		return err
	}
	return t.write(notif)
}

// write marshals v and writes it as one line.
func (t *StdioTransport) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.stdin == nil {
		return fmt.Errorf("%w: not started", ErrTransportClosed)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write to subprocess stdin: %v", ErrTransportClosed, err)
	}
	return nil
}

func (t *StdioTransport) forget(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// fail records the first terminal error and wakes every waiter.
func (t *StdioTransport) fail(err error) {
	t.failOnce.Do(func() {
		t.mu.Lock()
		t.err = err
		t.pending = make(map[int64]chan *Response)
		t.mu.Unlock()
		close(t.done)
	})
}

// closedErr returns the terminal error, or nil while the transport is live.
func (t *StdioTransport) closedErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Err returns the error that ended the transport, or nil.
func (t *StdioTransport) Err() error {
	return t.closedErr()
}

// Done is closed once the transport stops accepting traffic.
func (t *StdioTransport) Done() <-chan struct{} {
	return t.done
}

func (t *StdioTransport) kill() {
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}

// reap waits for the subprocess once stdout reading has finished.
func (t *StdioTransport) reap() {
	if t.cmd != nil {
		err := t.cmd.Wait()
		t.logger.Debug("MCP subprocess exited", "error", err)
	}
	close(t.exited)
}

// Close terminates the subprocess: stdin is closed to request a
// graceful exit, and the process is killed if it is still running
// after a short grace period.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.fail(fmt.Errorf("%w: session closed", ErrTransportClosed))

		if t.cmd == nil {
			close(t.exited)
			return
		}

		t.logger.Info("stopping MCP subprocess", "pid", t.cmd.Process.Pid)

		t.writeMu.Lock()
		if t.stdin != nil {
			t.stdin.Close()
		}
		t.writeMu.Unlock()

		select {
		case <-t.exited:
		case <-time.After(stopTimeout):
			t.logger.Warn("MCP subprocess did not exit gracefully, killing",
				"pid", t.cmd.Process.Pid,
			)
			t.kill()
			<-t.exited
		}
	})
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
