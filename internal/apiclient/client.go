// Package apiclient calls the external scoring and chat backend on behalf of
// one signed-in browser, attaching that browser's bearer token.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainauth "github.com/mindguard/mindguard-api/internal/domain/auth"
	"github.com/mindguard/mindguard-api/internal/observability/metrics"
	"github.com/mindguard/mindguard-api/internal/observability/statsd"
)

// maxErrorBody caps how much of a failed response body is kept in HTTPError.
const maxErrorBody = 64 << 10

// SessionSource exposes the current session without blocking.
type SessionSource interface {
	CurrentSession() *domainauth.Session
}

// HTTPError is returned for any non-2xx backend response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("backend responded %d", e.Status)
	}
	return fmt.Sprintf("backend responded %d: %s", e.Status, body)
}

// Options configures a Client.
type Options struct {
	BaseURL    string // Required
	HTTPClient *http.Client
	Sessions   SessionSource // Required
	Logger     *slog.Logger
	Metrics    statsd.Sink
}

// Client sends JSON requests to the backend. It never retries and never
// alters request payloads; the backend derives the caller from the token.
type Client struct {
	baseURL  string
	http     *http.Client
	sessions SessionSource
	logger   *slog.Logger
	metrics  statsd.Sink
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("apiclient: base URL is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("apiclient: session source is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     hc,
		sessions: opts.Sessions,
		logger:   logger.With("component", "apiclient"),
		metrics:  opts.Metrics,
	}, nil
}

// Get issues GET baseURL+path and returns the raw JSON body.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues POST baseURL+path with body encoded as JSON.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, payload)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	// Read at call time so a sign-in or sign-out is visible to the very next request.
	if sess := c.sessions.CurrentSession(); sess != nil && sess.AccessToken != "" {
		sess.Token().SetAuthHeader(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.EmitAPIRequest(c.metrics, metrics.APIRequest{Method: method, Duration: time.Since(start), Err: err})
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	metrics.EmitAPIRequest(c.metrics, metrics.APIRequest{
		Method:   method,
		Status:   resp.StatusCode,
		Duration: time.Since(start),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.DebugContext(ctx, "backend request failed",
			"method", method, "path", path, "status", resp.StatusCode)
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(raw)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%s %s: response is not valid JSON", method, path)
	}
	return json.RawMessage(raw), nil
}

func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}
