// Package apiclient implements the generic HTTP client the Vertex adapter
// sits on: JSON request dispatch with retries, pre-dispatch hooks, and SSE
// response streaming. It knows nothing about Vertex; the adapter supplies
// the rewrite and auth hooks.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	bridge "github.com/eugener/radagast/internal"
)

const (
	defaultMaxRetries = 2
	maxResponseBody   = 1 << 20 // 1MB for decoded JSON responses
	maxRetryAfter     = 30 * time.Second
	backoffBase       = 500 * time.Millisecond
	backoffJitter     = 250 * time.Millisecond
)

// RewriteFunc transforms a logical request just before dispatch. It must
// return a copy and leave its argument untouched.
type RewriteFunc func(*bridge.Request) (*bridge.Request, error)

// AuthFunc is invoked on the wire request immediately before the network
// write, after the rewrite has completed.
type AuthFunc func(*http.Request) error

// Client dispatches logical requests against a base URL.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries uint64
	rewrite    RewriteFunc
	auth       AuthFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

// WithRewrite sets the request-options hook, applied once per call before
// the wire request is built.
func WithRewrite(fn RewriteFunc) Option {
	return func(c *Client) { c.rewrite = fn }
}

// WithAuth sets the pre-send hook.
func WithAuth(fn AuthFunc) Option {
	return func(c *Client) { c.auth = fn }
}

// New creates a Client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{},
		maxRetries: defaultMaxRetries,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Do rewrites and dispatches a logical request, retrying transport errors
// and retryable statuses (408, 429, 5xx) with exponential backoff. The
// caller owns the returned response body. Rewrite and auth failures are
// fatal and abort before any network write.
func (c *Client) Do(ctx context.Context, req *bridge.Request) (*http.Response, error) {
	out := req
	if c.rewrite != nil {
		r, err := c.rewrite(req)
		if err != nil {
			return nil, err
		}
		out = r
	}

	var body []byte
	if out.Body != nil {
		b, err := json.Marshal(out.Body)
		if err != nil {
			return nil, fmt.Errorf("apiclient: marshal body: %w", err)
		}
		body = b
	}

	backoff := retry.WithMaxRetries(c.maxRetries,
		retry.WithJitter(backoffJitter, retry.NewExponential(backoffBase)))

	var resp *http.Response
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		httpReq, err := c.buildRequest(ctx, out, body)
		if err != nil {
			return err
		}
		r, doErr := c.http.Do(httpReq)
		if doErr != nil {
			return retry.RetryableError(fmt.Errorf("apiclient: do request: %w", doErr))
		}
		if r.StatusCode >= 300 {
			apiErr := bridge.NewAPIError(r)
			r.Body.Close()
			if retryableStatus(r.StatusCode) {
				waitRetryAfter(ctx, r.Header.Get("Retry-After"))
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DoJSON dispatches a request and decodes the JSON response into out.
func (c *Client) DoJSON(ctx context.Context, req *bridge.Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("apiclient: read response: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

// Stream dispatches a request and returns its SSE event stream. The caller
// must Close the stream.
func (c *Client) Stream(ctx context.Context, req *bridge.Request) (*Stream, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return NewStream(resp.Body), nil
}

func (c *Client) buildRequest(ctx context.Context, req *bridge.Request, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, rd)
	if err != nil {
		return nil, fmt.Errorf("apiclient: create request: %w", err)
	}
	for k, vals := range req.Header {
		httpReq.Header[k] = vals
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		if err := c.auth(httpReq); err != nil {
			return nil, err
		}
	}
	return httpReq, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// waitRetryAfter sleeps for a server-requested delay (seconds form only),
// capped at maxRetryAfter. The backoff's own sleep still applies on top.
func waitRetryAfter(ctx context.Context, header string) {
	if header == "" {
		return
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return
	}
	d := min(time.Duration(secs)*time.Second, maxRetryAfter)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
