package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/eugener/radagast/internal/sseutil"
)

// Pre-allocated byte slices for SSE relay. These avoid heap allocations
// on every write in the streaming hot path.
var lineEnd = []byte("\n")

// Pre-allocated header value slices for SSE responses.
// Direct map assignment avoids the []string{v} alloc that Header.Set creates.
var (
	sseContentType  = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}
)

// writeSSEHeaders sets the response headers for an SSE stream.
func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = sseContentType
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	w.WriteHeader(http.StatusOK)
}

// relayStream copies the upstream SSE stream to the client line by line,
// flushing at every event boundary. Token accounting is sniffed from the
// message_start and message_delta payloads as they pass through.
func (s *server) relayStream(w http.ResponseWriter, r *http.Request, resp *http.Response, model string, firstByte time.Duration) {
	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	var inputTokens, outputTokens int

	scanner := sseutil.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if _, err := w.Write(scanner.Bytes()); err != nil {
			return
		}
		if _, err := w.Write(lineEnd); err != nil {
			return
		}
		if line == "" {
			// Event boundary: push the frame out.
			flusher.Flush()
			continue
		}
		if _, data, parsed := sseutil.ParseLine(line); parsed && data != "" {
			if v := gjson.Get(data, "message.usage.input_tokens"); v.Exists() {
				inputTokens = int(v.Int())
			}
			if v := gjson.Get(data, "usage.output_tokens"); v.Exists() {
				outputTokens = int(v.Int())
			}
		}
	}
	flusher.Flush()
	if err := scanner.Err(); err != nil {
		slog.LogAttrs(r.Context(), slog.LevelError, "stream relay interrupted",
			slog.String("error", err.Error()),
		)
	}

	s.enqueueUsage(r.Context(), model, inputTokens, outputTokens, true, false, resp.StatusCode, firstByte)
}
