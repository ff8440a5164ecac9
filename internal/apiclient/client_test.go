package apiclient

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	bridge "github.com/eugener/radagast/internal"
)

func TestDoJSON(t *testing.T) {
	t.Parallel()

	var gotAuth, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		w.Write([]byte(`{"id":"msg_1","model":"claude-sonnet-4-5"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithAuth(func(r *http.Request) error {
		r.Header.Set("Authorization", "Bearer tok")
		return nil
	}))

	var out struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	}
	req := &bridge.Request{
		Method: http.MethodPost,
		Path:   "/v1/messages",
		Body:   map[string]any{"model": "claude-sonnet-4-5"},
	}
	if err := c.DoJSON(t.Context(), req, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if out.ID != "msg_1" {
		t.Errorf("id = %q, want msg_1", out.ID)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if gotCT != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotCT)
	}
}

func TestDoRetriesServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxRetries(2))
	err := c.DoJSON(t.Context(), &bridge.Request{Method: http.MethodGet, Path: "/"}, nil)
	if err != nil {
		t.Fatalf("DoJSON after retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream called %d times, want 2", got)
	}
}

func TestDoBadRequestNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad field"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxRetries(3))
	err := c.DoJSON(t.Context(), &bridge.Request{Method: http.MethodPost, Path: "/v1/messages"}, nil)

	var apiErr *bridge.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *bridge.APIError", err)
	}
	if apiErr.Kind != bridge.KindInvalidRequest {
		t.Errorf("kind = %q, want %q", apiErr.Kind, bridge.KindInvalidRequest)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream called %d times, want 1 (400 is not retryable)", got)
	}
}

func TestDoRewriteErrorAbortsBeforeDispatch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	wantErr := errors.New("rewrite failed")
	c := New(srv.URL, WithRewrite(func(*bridge.Request) (*bridge.Request, error) {
		return nil, wantErr
	}))

	_, err := c.Do(t.Context(), &bridge.Request{Method: http.MethodPost, Path: "/v1/messages"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	if calls.Load() != 0 {
		t.Error("upstream was called despite rewrite failure")
	}
}

func TestDoAuthErrorAbortsBeforeDispatch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	wantErr := errors.New("no credentials")
	c := New(srv.URL, WithAuth(func(*http.Request) error { return wantErr }))

	_, err := c.Do(t.Context(), &bridge.Request{Method: http.MethodGet, Path: "/"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	if calls.Load() != 0 {
		t.Error("upstream was called despite auth failure")
	}
}

func TestStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: message_start\ndata: {\"type\":\"message_start\"}\n\n"))
		w.Write([]byte(": keep-alive\n\n"))
		w.Write([]byte("event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	stream, err := c.Stream(t.Context(), &bridge.Request{Method: http.MethodPost, Path: "/v1/messages"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var types []string
	for stream.Next() {
		types = append(types, stream.Current().Type)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(types) != 2 || types[0] != "message_start" || types[1] != "message_stop" {
		t.Errorf("event types = %v, want [message_start message_stop]", types)
	}
}
