// ABOUTME: Restart-tolerant forwarding of agent tool calls to the backend over HTTP.
// ABOUTME: Connection errors retry with exponential backoff; backend responses pass through verbatim.

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/2389/coven-operator/internal/logtail"
)

// Defaults for the retry schedule: ~30 attempts starting at 0.5s and capping
// at 10s covers several minutes of backend restart window while eventually
// surfacing a real outage.
const (
	DefaultMaxRetries      = 30
	DefaultInitialBackoff  = 500 * time.Millisecond
	DefaultMaxBackoff      = 10 * time.Second
	DefaultBlockingTimeout = 15 * time.Minute
	DefaultRequestTimeout  = 10 * time.Second
)

// blockingTools is the static classification of tools that legitimately wait
// on a human and therefore need the long per-attempt timeout. Fixed table,
// never runtime-inferred.
var blockingTools = map[string]bool{
	"present_choices": true,
	"speak":           true,
}

// Options configures a Forwarder. Zero values fall back to the defaults.
type Options struct {
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BlockingTimeout time.Duration
	RequestTimeout  time.Duration
}

// Forwarder forwards tool calls to the backend. It is intentionally
// stateless: no session data lives here, only the backend URL, so the
// backend process can be killed and restarted without agents noticing.
type Forwarder struct {
	backendURL string
	client     *http.Client
	opts       Options
	tail       *logtail.Buffer
	clock      clock.Clock
	logger     *slog.Logger
}

// NewForwarder creates a Forwarder targeting backendURL. tail may be nil to
// disable diagnostic log capture; clk may be nil for the wall clock.
func NewForwarder(backendURL string, opts Options, tail *logtail.Buffer, clk clock.Clock, logger *slog.Logger) *Forwarder {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.BlockingTimeout <= 0 {
		opts.BlockingTimeout = DefaultBlockingTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		backendURL: backendURL,
		// Per-attempt deadlines come from the request context; the
		// client itself must not impose a global timeout or blocking
		// tools would be cut off.
		client: &http.Client{},
		opts:   opts,
		tail:   tail,
		clock:  clk,
		logger: logger.With("component", "proxy"),
	}
}

// IsBlocking reports the static classification of a tool.
func IsBlocking(tool string) bool {
	return blockingTools[tool]
}

// Forward sends one tool call to the backend and returns the response body
// and status verbatim. Any HTTP response, success or handled error, is
// authoritative and returned immediately; only connection-level failures are
// retried. On exhaustion the returned body is a diagnostic error payload and
// the status is 502.
func (f *Forwarder) Forward(ctx context.Context, tool string, args json.RawMessage, sessionID string) ([]byte, int) {
	payload, err := json.Marshal(map[string]any{
		"tool":       tool,
		"args":       args,
		"session_id": sessionID,
	})
	if err != nil {
		body, _ := json.Marshal(map[string]string{"error": fmt.Sprintf("encoding request: %v", err)})
		return body, http.StatusBadRequest
	}

	attemptTimeout := f.opts.RequestTimeout
	if IsBlocking(tool) {
		attemptTimeout = f.opts.BlockingTimeout
	}

	backoff := f.opts.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		body, status, err := f.attempt(ctx, payload, attemptTimeout)
		if err == nil {
			return body, status
		}
		lastErr = err

		if ctx.Err() != nil {
			// Agent hung up; no point retrying on its behalf.
			break
		}

		if attempt == f.opts.MaxRetries-1 {
			break
		}

		f.logger.Warn("backend unreachable, backing off",
			"tool", tool,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		timer := f.clock.Timer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return f.failurePayload(tool, lastErr), http.StatusBadGateway
		}

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > f.opts.MaxBackoff {
			backoff = f.opts.MaxBackoff
		}
	}

	return f.failurePayload(tool, lastErr), http.StatusBadGateway
}

// attempt performs one POST. A non-nil error means the backend was
// unreachable; any HTTP response at all is returned as authoritative.
func (f *Forwarder) attempt(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, f.backendURL+"/handle", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// failurePayload builds the final error body, appending the recent error-log
// tail so the calling agent can self-diagnose. Diagnostics must never make a
// bad situation worse: any panic while building them degrades to the bare error.
func (f *Forwarder) failurePayload(tool string, cause error) []byte {
	errMsg := "backend unreachable"
	if cause != nil {
		errMsg = fmt.Sprintf("backend unreachable: %v", cause)
	}
	bare, _ := json.Marshal(map[string]string{
		"error": errMsg,
		"hint":  "is the backend running?",
		"tool":  tool,
	})

	full := func() (out []byte) {
		defer func() {
			if recover() != nil {
				out = nil
			}
		}()
		if f.tail == nil {
			return nil
		}
		enriched, err := json.Marshal(map[string]any{
			"error":         errMsg,
			"hint":          "is the backend running?",
			"tool":          tool,
			"recent_errors": f.tail.Tail(),
		})
		if err != nil {
			return nil
		}
		return enriched
	}()

	if full != nil {
		return full
	}
	return bare
}
