// Package gcpauth resolves GCP credentials for the Vertex bridge. It wraps
// Application Default Credentials behind small Loader/Refresher interfaces
// so the credential state machine in internal/vertex stays testable.
package gcpauth

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// expirySkew treats tokens expiring within this window as already expired,
// so a token cannot lapse between the expiry check and the network write.
const expirySkew = 10 * time.Second

// Credential is an opaque provider-issued authorization handle: a bearer
// token plus its expiry state. Refresh mutates it in place.
type Credential struct {
	Token  string
	Expiry time.Time // zero means no known expiry

	source oauth2.TokenSource
}

// NewCredential wraps an oauth2 token source as a credential handle,
// for callers that obtained credentials themselves.
func NewCredential(source oauth2.TokenSource) *Credential {
	return &Credential{source: source}
}

// Expired reports whether the token has a known expiry in the past,
// with a small skew window.
func (c *Credential) Expired() bool {
	return !c.Expiry.IsZero() && time.Until(c.Expiry) < expirySkew
}

// Loader obtains a credential handle from the environment. projectID is the
// client's currently known project (may be empty); the returned project ID
// is the one the environment resolves to, and may also be empty.
type Loader interface {
	Load(ctx context.Context, projectID string) (cred *Credential, resolvedProjectID string, err error)
}

// Refresher refreshes a credential's token and expiry in place.
type Refresher interface {
	Refresh(ctx context.Context, cred *Credential) error
}
