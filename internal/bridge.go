// Package bridge defines domain types for the radagast Anthropic-on-Vertex
// bridge. This package has no project imports -- it is the dependency root.
package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// Logical endpoint paths as the vendor-native API spells them. The Vertex
// rewrite matches on these before dispatch.
const (
	MessagesPath      = "/v1/messages"
	CountTokensPath   = "/v1/messages/count_tokens"
	BatchesPathPrefix = "/v1/messages/batches"
	BetaQueryMarker   = "?beta=true"
)

// Request is a logical API call before gateway-specific rewriting.
// Path is the vendor-native path, optionally carrying the beta query marker
// (e.g. "/v1/messages?beta=true"). Body is the JSON body; nil means no body.
type Request struct {
	Method string
	Path   string
	Body   map[string]any
	Header http.Header // optional caller-supplied headers
}

// Clone returns a deep copy of the request. The rewrite operates on the
// copy so the caller's request stays usable after dispatch.
func (r *Request) Clone() *Request {
	out := &Request{
		Method: r.Method,
		Path:   r.Path,
	}
	if r.Body != nil {
		out.Body = cloneJSONMap(r.Body)
	}
	if r.Header != nil {
		out.Header = r.Header.Clone()
	}
	return out
}

// BasePath returns the path without the beta query marker.
func (r *Request) BasePath() string {
	p, _, _ := strings.Cut(r.Path, "?")
	return p
}

func cloneJSONMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneJSONValue(v)
	}
	return out
}

// cloneJSONValue deep-copies the value shapes encoding/json produces.
// Scalars are immutable and copied by value.
func cloneJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneJSONMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneJSONValue(e)
		}
		return out
	default:
		return v
	}
}

// UsageRecord is a single forwarded call, as persisted by the usage store.
type UsageRecord struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Stream       bool      `json:"stream"`
	Cached       bool      `json:"cached"`
	LatencyMs    int       `json:"latency_ms"`
	StatusCode   int       `json:"status_code"`
	RequestID    string    `json:"request_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageFilter narrows usage queries.
type UsageFilter struct {
	Model  string
	Since  string // RFC3339 lower bound, inclusive
	Until  string // RFC3339 upper bound, exclusive
	Limit  int
	Offset int
}

// HashBody returns the hex-encoded SHA-256 hash of a request body,
// used as the response cache key.
func HashBody(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
