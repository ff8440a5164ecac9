package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bridge "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/gcpauth"
)

// fakeLoader returns a scripted credential and project ID.
type fakeLoader struct {
	cred    *gcpauth.Credential
	project string
	err     error
	calls   int
}

func (f *fakeLoader) Load(_ context.Context, _ string) (*gcpauth.Credential, string, error) {
	f.calls++
	return f.cred, f.project, f.err
}

// fakeRefresher stamps a scripted token onto the credential.
type fakeRefresher struct {
	token string
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(_ context.Context, cred *gcpauth.Credential) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	cred.Token = f.token
	cred.Expiry = time.Now().Add(time.Hour)
	return nil
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New(append([]Option{WithRegion("us-central1"), WithProjectID("proj")}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresRegion(t *testing.T) {
	t.Setenv("CLOUD_ML_REGION", "")

	if _, err := New(); !errors.Is(err, bridge.ErrNoRegion) {
		t.Fatalf("error = %v, want ErrNoRegion", err)
	}
}

func TestNewRegionFromEnv(t *testing.T) {
	t.Setenv("CLOUD_ML_REGION", "europe-west4")

	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Region() != "europe-west4" {
		t.Errorf("region = %q, want europe-west4", c.Region())
	}
}

func TestDefaultBaseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		region string
		want   string
	}{
		{"us-central1", "https://us-central1-aiplatform.googleapis.com/v1"},
		{"global", "https://aiplatform.googleapis.com/v1"},
	}
	for _, tt := range tests {
		if got := defaultBaseURL(tt.region); got != tt.want {
			t.Errorf("defaultBaseURL(%q) = %q, want %q", tt.region, got, tt.want)
		}
	}
}

func TestEnsureAccessTokenStatic(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}
	refresher := &fakeRefresher{}
	c := newTestClient(t, WithAccessToken("static-token"), WithAuthHooks(loader, refresher))

	for range 3 {
		tok, err := c.EnsureAccessToken(t.Context())
		if err != nil {
			t.Fatalf("EnsureAccessToken: %v", err)
		}
		if tok != "static-token" {
			t.Errorf("token = %q, want static-token", tok)
		}
	}
	if loader.calls != 0 || refresher.calls != 0 {
		t.Errorf("loader/refresher called %d/%d times, want 0/0", loader.calls, refresher.calls)
	}
}

func TestEnsureAccessTokenLazyLoad(t *testing.T) {
	t.Setenv("ANTHROPIC_VERTEX_PROJECT_ID", "")

	loader := &fakeLoader{cred: &gcpauth.Credential{}, project: "loaded-proj"}
	refresher := &fakeRefresher{token: "ya29.loaded"}
	c, err := New(WithRegion("us-central1"), WithAuthHooks(loader, refresher))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tok, err := c.EnsureAccessToken(t.Context())
	if err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if tok != "ya29.loaded" {
		t.Errorf("token = %q, want ya29.loaded", tok)
	}
	if c.ProjectID() != "loaded-proj" {
		t.Errorf("project = %q, want loaded-proj (adopted from loader)", c.ProjectID())
	}

	// Second call: credential is fresh, so neither loader nor refresher runs.
	if _, err := c.EnsureAccessToken(t.Context()); err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if loader.calls != 1 {
		t.Errorf("loader called %d times, want 1", loader.calls)
	}
	if refresher.calls != 1 {
		t.Errorf("refresher called %d times, want 1", refresher.calls)
	}
}

func TestEnsureAccessTokenRefreshOnExpiry(t *testing.T) {
	t.Parallel()

	cred := &gcpauth.Credential{Token: "stale", Expiry: time.Now().Add(-time.Minute)}
	refresher := &fakeRefresher{token: "fresh"}
	c := newTestClient(t, WithCredential(cred), WithAuthHooks(&fakeLoader{}, refresher))

	tok, err := c.EnsureAccessToken(t.Context())
	if err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if tok != "fresh" {
		t.Errorf("token = %q, want fresh", tok)
	}
	if refresher.calls != 1 {
		t.Errorf("refresher called %d times, want 1", refresher.calls)
	}
}

func TestEnsureAccessTokenExplicitProjectWins(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{cred: &gcpauth.Credential{Token: "tok", Expiry: time.Now().Add(time.Hour)}, project: "other-proj"}
	c := newTestClient(t, WithAuthHooks(loader, &fakeRefresher{}))

	if _, err := c.EnsureAccessToken(t.Context()); err != nil {
		t.Fatalf("EnsureAccessToken: %v", err)
	}
	if c.ProjectID() != "proj" {
		t.Errorf("project = %q, want proj (explicit value must not be overwritten)", c.ProjectID())
	}
}

func TestEnsureAccessTokenUnresolvable(t *testing.T) {
	t.Parallel()

	// Loader yields a tokenless credential and the refresher cannot fill it.
	loader := &fakeLoader{cred: &gcpauth.Credential{}}
	refresher := &fakeRefresher{token: ""}
	c := newTestClient(t, WithAuthHooks(loader, refresher))

	if _, err := c.EnsureAccessToken(t.Context()); !errors.Is(err, bridge.ErrNoToken) {
		t.Fatalf("error = %v, want ErrNoToken", err)
	}
}

func TestMessagesCreateEndToEnd(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"id":"msg_1","model":"claude-sonnet-4-5","usage":{"input_tokens":9,"output_tokens":3}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, WithAccessToken("tok"), WithBaseURL(srv.URL))

	msg, err := c.Messages.Create(t.Context(), &MessageParams{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 64,
		Messages:  []MessageParam{{Role: "user", Content: json.RawMessage(`"hello"`)}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if want := "/projects/proj/locations/us-central1/publishers/anthropic/models/claude-sonnet-4-5:rawPredict"; gotPath != want {
		t.Errorf("upstream path = %q, want %q", gotPath, want)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if _, ok := gotBody["model"]; ok {
		t.Error("wire body still contains model")
	}
	if gotBody["anthropic_version"] != DefaultVersion {
		t.Errorf("anthropic_version = %v, want %q", gotBody["anthropic_version"], DefaultVersion)
	}
	if msg.ID != "msg_1" || msg.Usage == nil || msg.Usage.InputTokens != 9 {
		t.Errorf("unexpected response: %+v", msg)
	}
}

func TestCallerAuthorizationNotOverwritten(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, WithAccessToken("client-token"), WithBaseURL(srv.URL))

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer caller-token")
	req := &bridge.Request{
		Method: http.MethodPost,
		Path:   bridge.MessagesPath,
		Body:   map[string]any{"model": "claude-3"},
		Header: hdr,
	}
	resp, err := c.Do(t.Context(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer caller-token" {
		t.Errorf("Authorization = %q, want caller value preserved", gotAuth)
	}
}

func TestBatchesNamespaceRejected(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, WithAccessToken("tok"), WithBaseURL("http://127.0.0.1:0"))

	if _, err := c.Messages.Batches().Create(t.Context(), map[string]any{}); !errors.Is(err, bridge.ErrBatchesNotSupported) {
		t.Errorf("Create error = %v, want ErrBatchesNotSupported", err)
	}
	if _, err := c.Beta.Messages.Batches().List(t.Context()); !errors.Is(err, bridge.ErrBatchesNotSupported) {
		t.Errorf("List error = %v, want ErrBatchesNotSupported", err)
	}
}

func TestBetaMessagesUseBetaMarker(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"input_tokens":7}`))
	}))
	defer srv.Close()

	c := newTestClient(t, WithAccessToken("tok"), WithBaseURL(srv.URL))

	// The beta marker changes nothing about the rewritten URL; it only has
	// to keep matching the rewrite rules.
	count, err := c.Beta.Messages.CountTokens(t.Context(), &CountTokensParams{Model: "claude-3"})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if want := "/projects/proj/locations/us-central1/publishers/anthropic/models/count-tokens:rawPredict"; gotPath != want {
		t.Errorf("upstream path = %q, want %q", gotPath, want)
	}
	if count.InputTokens != 7 {
		t.Errorf("input_tokens = %d, want 7", count.InputTokens)
	}
}
