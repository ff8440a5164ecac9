package vertex

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	bridge "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/apiclient"
	"github.com/eugener/radagast/internal/gcpauth"
)

// Environment fallbacks for construction options.
const (
	regionEnv  = "CLOUD_ML_REGION"
	projectEnv = "ANTHROPIC_VERTEX_PROJECT_ID"
	baseURLEnv = "ANTHROPIC_VERTEX_BASE_URL"
)

// Client is a messaging API client addressing the Vertex AI gateway.
// Region and the static access token are immutable after construction;
// the project ID may be filled in once from lazily loaded credentials.
type Client struct {
	region      string
	accessToken string
	loader      gcpauth.Loader
	refresher   gcpauth.Refresher

	// mu guards projectID and creds: the one-time project fill-in and the
	// load/refresh sequence. The static-token path never takes it.
	mu        sync.Mutex
	projectID string
	creds     *gcpauth.Credential

	api *apiclient.Client

	Messages *MessagesService
	Beta     *BetaService
}

type clientOptions struct {
	region      string
	projectID   string
	accessToken string
	creds       *gcpauth.Credential
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxRetries  int
	loader      gcpauth.Loader
	refresher   gcpauth.Refresher
}

// Option configures a Client.
type Option func(*clientOptions)

// WithRegion sets the GCP region. Falls back to CLOUD_ML_REGION when unset;
// construction fails if neither is given.
func WithRegion(region string) Option {
	return func(o *clientOptions) { o.region = region }
}

// WithProjectID sets the GCP project. An explicit value is never
// overwritten by the credential loader.
func WithProjectID(projectID string) Option {
	return func(o *clientOptions) { o.projectID = projectID }
}

// WithAccessToken sets a static bearer token, bypassing the credential
// loader and refresher entirely.
func WithAccessToken(token string) Option {
	return func(o *clientOptions) { o.accessToken = token }
}

// WithCredential supplies a pre-obtained credential handle, used instead
// of loading a fresh one.
func WithCredential(cred *gcpauth.Credential) Option {
	return func(o *clientOptions) { o.creds = cred }
}

// WithBaseURL overrides the upstream base URL. Falls back to
// ANTHROPIC_VERTEX_BASE_URL, then to the region-derived default.
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) { o.baseURL = baseURL }
}

// WithHTTPClient sets the HTTP client used for dispatch.
func WithHTTPClient(h *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = h }
}

// WithTimeout bounds each upstream attempt end to end. Ignored when a
// custom HTTP client is supplied; configure that client's timeout instead.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithMaxRetries sets the retry budget for retryable upstream failures.
func WithMaxRetries(n int) Option {
	return func(o *clientOptions) { o.maxRetries = n }
}

// WithAuthHooks replaces the credential loader and refresher
// (used for testing).
func WithAuthHooks(l gcpauth.Loader, r gcpauth.Refresher) Option {
	return func(o *clientOptions) {
		o.loader = l
		o.refresher = r
	}
}

// New creates a Vertex client. Region is required (option or environment);
// everything else has a default or is resolved lazily.
func New(opts ...Option) (*Client, error) {
	o := &clientOptions{
		maxRetries: -1,
		loader:     gcpauth.ADC{},
		refresher:  gcpauth.ADC{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.region == "" {
		o.region = os.Getenv(regionEnv)
	}
	if o.region == "" {
		return nil, bridge.ErrNoRegion
	}
	if o.projectID == "" {
		o.projectID = os.Getenv(projectEnv)
	}
	if o.baseURL == "" {
		o.baseURL = os.Getenv(baseURLEnv)
	}
	if o.baseURL == "" {
		o.baseURL = defaultBaseURL(o.region)
	}

	c := &Client{
		region:      o.region,
		projectID:   o.projectID,
		accessToken: o.accessToken,
		creds:       o.creds,
		loader:      o.loader,
		refresher:   o.refresher,
	}

	apiOpts := []apiclient.Option{
		apiclient.WithRewrite(c.prepareOptions),
		apiclient.WithAuth(c.prepareRequest),
	}
	if o.httpClient == nil && o.timeout > 0 {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, apiclient.WithHTTPClient(o.httpClient))
	}
	if o.maxRetries >= 0 {
		apiOpts = append(apiOpts, apiclient.WithMaxRetries(o.maxRetries))
	}
	c.api = apiclient.New(o.baseURL, apiOpts...)

	c.Messages = &MessagesService{client: c}
	c.Beta = &BetaService{
		Messages: &MessagesService{client: c, beta: true},
	}
	return c, nil
}

// defaultBaseURL derives the upstream host from the region. The global
// region has no region prefix in the host.
func defaultBaseURL(region string) string {
	if region == "global" {
		return "https://aiplatform.googleapis.com/v1"
	}
	return "https://" + region + "-aiplatform.googleapis.com/v1"
}

// Region returns the configured region.
func (c *Client) Region() string { return c.region }

// ProjectID returns the currently known project ID, which may be empty
// until credentials are loaded.
func (c *Client) ProjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID
}

// Do rewrites and dispatches a logical vendor-native request, returning the
// raw upstream response. Used by the daemon's passthrough handlers; typed
// callers go through the resource services.
func (c *Client) Do(ctx context.Context, req *bridge.Request) (*http.Response, error) {
	return c.api.Do(ctx, req)
}

// prepareOptions is the request-options hook: it applies the Vertex rewrite
// exactly once per outgoing call, before authentication.
func (c *Client) prepareOptions(req *bridge.Request) (*bridge.Request, error) {
	return Rewrite(req, c.ProjectID(), c.region)
}

// prepareRequest is the pre-send hook: it attaches the bearer token unless
// the caller already supplied an Authorization header.
func (c *Client) prepareRequest(r *http.Request) error {
	if r.Header.Get("Authorization") != "" {
		// already authenticated, nothing for us to do
		return nil
	}
	tok, err := c.EnsureAccessToken(r.Context())
	if err != nil {
		return err
	}
	r.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// EnsureAccessToken returns a bearer token for the next request. A static
// access token is returned as-is. Otherwise credentials are loaded on first
// use (adopting the loader's project ID if none is set) and refreshed
// whenever the handle reports itself expired or tokenless. A token that
// cannot be resolved after load+refresh is a fatal environment error.
func (c *Client) EnsureAccessToken(ctx context.Context) (string, error) {
	if c.accessToken != "" {
		return c.accessToken, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.creds == nil {
		creds, resolvedProject, err := c.loader.Load(ctx, c.projectID)
		if err != nil {
			return "", fmt.Errorf("vertex: load credentials: %w", err)
		}
		c.creds = creds
		if c.projectID == "" {
			c.projectID = resolvedProject
		}
	}

	if c.creds.Expired() || c.creds.Token == "" {
		if err := c.refresher.Refresh(ctx, c.creds); err != nil {
			return "", fmt.Errorf("vertex: refresh credentials: %w", err)
		}
	}

	if c.creds.Token == "" {
		return "", bridge.ErrNoToken
	}
	return c.creds.Token, nil
}
