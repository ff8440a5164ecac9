package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	bridge "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/cache"
)

const defaultMaxBody = 10 << 20

// bodyPool recycles read buffers for inbound bodies.
var bodyPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, bridge.MessagesPath, true)
}

func (s *server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	s.forward(w, r, bridge.CountTokensPath, false)
}

// handleBatches rejects the batches namespace without touching the upstream.
func (s *server) handleBatches(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotImplemented, "invalid_request_error",
		bridge.ErrBatchesNotSupported.Error())
}

// forward reads the inbound body, consults the response cache, and pushes
// the call through the Vertex client. cacheable marks endpoints whose
// non-streaming responses may be replayed from cache.
func (s *server) forward(w http.ResponseWriter, r *http.Request, basePath string, cacheable bool) {
	raw, ok := s.readBody(w, r)
	if !ok {
		return
	}

	// Read-only sniff of routing fields; the parsed map below is what the
	// rewrite mutates.
	model := gjson.GetBytes(raw, "model").String()
	stream := gjson.GetBytes(raw, "stream").Bool()

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "request body is not a JSON object")
		return
	}

	path := basePath
	if r.URL.Query().Get("beta") == "true" {
		path += bridge.BetaQueryMarker
	}

	useCache := cacheable && !stream && s.deps.Cache != nil
	var key string
	if useCache {
		key = bridge.HashBody(raw)
		if cached, hit := s.deps.Cache.Get(r.Context(), key); hit {
			if s.deps.Metrics != nil {
				s.deps.Metrics.CacheHits.Inc()
			}
			s.recordUsage(r.Context(), model, cached.Body, stream, true, cached.Status, 0)
			w.Header().Set("Content-Type", cached.ContentType)
			w.WriteHeader(cached.Status)
			w.Write(cached.Body)
			return
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.CacheMisses.Inc()
		}
	}

	req := &bridge.Request{Method: http.MethodPost, Path: path, Body: body}

	start := time.Now()
	resp, err := s.deps.Vertex.Do(r.Context(), req)
	elapsed := time.Since(start)
	if err != nil {
		s.writeUpstreamError(w, r.Context(), err)
		return
	}
	defer resp.Body.Close()

	if s.deps.Metrics != nil {
		verb := "rawPredict"
		if stream {
			verb = "streamRawPredict"
		}
		s.deps.Metrics.UpstreamDuration.WithLabelValues(model, verb).Observe(elapsed.Seconds())
	}

	if stream {
		s.relayStream(w, r, resp, model, elapsed)
		return
	}

	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		bodyPool.Put(buf)
		slog.LogAttrs(r.Context(), slog.LevelError, "upstream body read failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "api_error", "upstream read failed")
		return
	}
	respBody := bytes.Clone(buf.Bytes())
	bodyPool.Put(buf)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if useCache {
		s.deps.Cache.Set(r.Context(), key, cache.Response{
			Status:      resp.StatusCode,
			ContentType: contentType,
			Body:        respBody,
		}, s.deps.CacheTTL)
	}

	s.recordUsage(r.Context(), model, respBody, stream, false, resp.StatusCode, elapsed)

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

// readBody drains the request body into a pooled buffer, bounded by the
// configured size limit. Reports false after writing the error response.
func (s *server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxBodyBytes)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	if _, err := buf.ReadFrom(r.Body); err != nil {
		bodyPool.Put(buf)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body")
		}
		return nil, false
	}
	raw := bytes.Clone(buf.Bytes())
	bodyPool.Put(buf)
	return raw, true
}

// recordUsage extracts token accounting from a completed response body and
// enqueues a usage record. Streamed calls pass their accumulated counts
// through recordStreamUsage instead.
func (s *server) recordUsage(ctx context.Context, model string, respBody []byte, stream, cached bool, status int, elapsed time.Duration) {
	if s.deps.Usage == nil {
		return
	}
	in := int(gjson.GetBytes(respBody, "usage.input_tokens").Int())
	out := int(gjson.GetBytes(respBody, "usage.output_tokens").Int())
	s.enqueueUsage(ctx, model, in, out, stream, cached, status, elapsed)
}

func (s *server) enqueueUsage(ctx context.Context, model string, in, out int, stream, cached bool, status int, elapsed time.Duration) {
	if s.deps.Usage == nil {
		return
	}
	if s.deps.Metrics != nil {
		if in > 0 {
			s.deps.Metrics.TokensProcessed.WithLabelValues(model, "input").Add(float64(in))
		}
		if out > 0 {
			s.deps.Metrics.TokensProcessed.WithLabelValues(model, "output").Add(float64(out))
		}
	}
	s.deps.Usage.Record(bridge.UsageRecord{
		Model:        model,
		InputTokens:  in,
		OutputTokens: out,
		Stream:       stream,
		Cached:       cached,
		LatencyMs:    int(elapsed.Milliseconds()),
		StatusCode:   status,
		RequestID:    bridge.RequestIDFromContext(ctx),
		CreatedAt:    time.Now().UTC(),
	})
}

// writeUpstreamError maps client and upstream failures onto the wire.
func (s *server) writeUpstreamError(w http.ResponseWriter, ctx context.Context, err error) {
	var apiErr *bridge.APIError
	switch {
	case errors.Is(err, bridge.ErrBatchesNotSupported):
		writeError(w, http.StatusNotImplemented, "invalid_request_error", err.Error())
	case errors.Is(err, bridge.ErrNoProjectID),
		errors.Is(err, bridge.ErrNoRegion),
		errors.Is(err, bridge.ErrNoToken):
		// Misconfiguration, not a caller mistake.
		slog.LogAttrs(ctx, slog.LevelError, "vertex configuration error",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
	case errors.As(err, &apiErr):
		if s.deps.Metrics != nil {
			s.deps.Metrics.UpstreamErrors.WithLabelValues(string(apiErr.Kind), statusText[min(apiErr.StatusCode, 599)]).Inc()
		}
		writeError(w, apiErr.StatusCode, errorTypeForKind(apiErr.Kind), apiErr.Body)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "api_error", "upstream deadline exceeded")
	default:
		slog.LogAttrs(ctx, slog.LevelError, "upstream dispatch failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "api_error", "upstream request failed")
	}
}

// errorTypeForKind converts an upstream error kind to the vendor-native
// error type string.
func errorTypeForKind(k bridge.ErrorKind) string {
	switch k {
	case bridge.KindInvalidRequest, bridge.KindUnprocessable:
		return "invalid_request_error"
	case bridge.KindAuthentication:
		return "authentication_error"
	case bridge.KindPermissionDenied:
		return "permission_error"
	case bridge.KindNotFound:
		return "not_found_error"
	case bridge.KindRateLimited:
		return "rate_limit_error"
	case bridge.KindServiceUnavailable, bridge.KindDeadlineExceeded:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// errorEnvelope is the vendor-native error shape.
type errorEnvelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// avoids the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeError(w http.ResponseWriter, status int, errType, msg string) {
	var e errorEnvelope
	e.Type = "error"
	e.Error.Type = errType
	e.Error.Message = msg
	writeJSON(w, status, e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
