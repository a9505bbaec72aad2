// Package httpkit builds the HTTP clients docent uses to reach model
// providers, the vision backend and the search index.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nugget/docent/internal/buildinfo"
)

const (
	dialTimeout         = 10 * time.Second
	keepAlive           = 30 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 90 * time.Second
	maxIdleConns        = 20
	maxIdleConnsPerHost = 5

	// DefaultHeaderTimeout bounds the wait for response headers. Model
	// calls raise it with WithHeaderTimeout.
	DefaultHeaderTimeout = 15 * time.Second
)

// Option configures a client built by NewClient.
type Option func(*options)

type options struct {
	timeout       time.Duration
	headerTimeout time.Duration
	dialAttempts  int
	dialBackoff   time.Duration
	logger        *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero leaves deadlines
// to the request context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHeaderTimeout sets how long to wait for response headers once
// the request has been written.
func WithHeaderTimeout(d time.Duration) Option {
	return func(o *options) { o.headerTimeout = d }
}

// WithDialRetry retries requests that fail before reaching the server
// (connection refused, host or network unreachable), up to attempts
// extra tries with exponential backoff starting at initial. Requests
// whose body cannot be rewound are never retried.
func WithDialRetry(attempts int, initial time.Duration) Option {
	return func(o *options) {
		o.dialAttempts = attempts
		o.dialBackoff = initial
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewClient returns a client with docent's pooling limits, timeouts and
// User-Agent.
func NewClient(opts ...Option) *http.Client {
	o := &options{
		timeout:       30 * time.Second,
		headerTimeout: DefaultHeaderTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: o.headerTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}

	var rt http.RoundTripper = &userAgentTransport{base: base, ua: buildinfo.UserAgent()}
	if o.dialAttempts > 0 {
		rt = &dialRetryTransport{
			base:     rt,
			attempts: o.dialAttempts,
			initial:  o.dialBackoff,
			logger:   o.logger,
		}
	}

	return &http.Client{Timeout: o.timeout, Transport: rt}
}

// userAgentTransport sets User-Agent unless the caller already did.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

type dialRetryTransport struct {
	base     http.RoundTripper
	attempts int
	initial  time.Duration
	logger   *slog.Logger
}

func (t *dialRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = t.initial
	exp.MaxElapsedTime = 0
	exp.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(t.attempts)), req.Context())

	first := true
	var resp *http.Response
	op := func() error {
		attempt := req
		if !first {
			attempt = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return backoff.Permanent(fmt.Errorf("rewind body: %w", err))
				}
				attempt.Body = body
			}
		}
		first = false

		r, err := t.base.RoundTrip(attempt)
		if err != nil {
			if IsDialError(err) && rewindable {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		t.logger.Debug("retrying request after dial error",
			"method", req.Method,
			"host", req.URL.Host,
			"wait", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return resp, nil
}

// IsDialError reports whether err happened before the request reached
// the server. ECONNRESET is excluded since the server may already have
// acted on the request.
func IsDialError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED:
		return true
	}
	return false
}

// DrainAndClose discards up to limit bytes of rc and closes it so the
// connection returns to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody returns up to limit bytes of rc for use in an error
// message and closes it.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
