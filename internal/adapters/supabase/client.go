// Package supabase talks to a managed Supabase project over HTTP: GoTrue for
// authentication and PostgREST for role lookups.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 16 << 10

// Config holds the project endpoint and keys.
type Config struct {
	URL     string
	AnonKey string
	// ServiceRoleKey authorizes PostgREST reads. Falls back to AnonKey.
	ServiceRoleKey string
	HTTPClient     *http.Client
	Timeout        time.Duration
	Now            func() time.Time
}

// APIError is a non-2xx response from GoTrue or PostgREST.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase responded %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase responded %d: %s", e.Status, e.Message)
}

type client struct {
	base    *url.URL
	anonKey string
	http    *http.Client
	now     func() time.Time
}

func newClient(cfg Config) (*client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if raw == "" {
		return nil, errors.New("supabase URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse supabase URL: %w", err)
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("supabase anon key is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &client{base: base, anonKey: cfg.AnonKey, http: hc, now: now}, nil
}

// do sends a JSON request. apiKey is sent as the apikey header; bearer
// defaults to apiKey when empty. out may be nil.
func (c *client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	apiKey, bearer string,
	body, out any,
) error {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if bearer == "" {
		bearer = apiKey
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeAPIError understands both GoTrue error shapes ({error, error_description}
// and {error_code, msg}) as well as PostgREST's {code, message}.
func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Code             any    `json:"code"`
		Message          string `json:"message"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if json.Unmarshal(raw, &payload) != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}
	apiErr.Code = firstNonEmpty(payload.ErrorCode, payload.Error)
	if s, ok := payload.Code.(string); ok && apiErr.Code == "" {
		apiErr.Code = s
	}
	apiErr.Message = firstNonEmpty(payload.Msg, payload.ErrorDescription, payload.Message, strings.TrimSpace(string(raw)))
	return apiErr
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
