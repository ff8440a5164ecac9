package gcpauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
)

// Scope is the OAuth2 scope required for Vertex AI calls.
const Scope = "https://www.googleapis.com/auth/cloud-platform"

// ADC loads and refreshes credentials via Application Default Credentials:
// GOOGLE_APPLICATION_CREDENTIALS, gcloud user credentials, or the GCE
// metadata server, in that order.
type ADC struct{}

var (
	_ Loader    = ADC{}
	_ Refresher = ADC{}
)

// Load finds default credentials and returns a handle plus the project ID
// the environment resolves to. A caller-known projectID takes precedence
// over the environment's.
func (ADC) Load(ctx context.Context, projectID string) (*Credential, string, error) {
	creds, err := google.FindDefaultCredentials(ctx, Scope)
	if err != nil {
		return nil, "", fmt.Errorf("gcpauth: find default credentials: %w", err)
	}
	resolved := projectID
	if resolved == "" {
		resolved = creds.ProjectID
	}
	return &Credential{source: creds.TokenSource}, resolved, nil
}

// Refresh obtains a token from the credential's source and stores the token
// string and expiry on the handle.
func (ADC) Refresh(_ context.Context, cred *Credential) error {
	if cred.source == nil {
		return fmt.Errorf("gcpauth: credential has no token source")
	}
	tok, err := cred.source.Token()
	if err != nil {
		return fmt.Errorf("gcpauth: refresh token: %w", err)
	}
	cred.Token = tok.AccessToken
	cred.Expiry = tok.Expiry
	return nil
}
