package upstream

import (
	"context"
	"net/http"
	"time"

	"github.com/oriys/pulsar/internal/auth"
)

// IdentityClient verifies bearer credentials against the Identity
// Authority. It implements auth.Verifier.
type IdentityClient struct {
	baseURL string
	client  *http.Client
}

// NewIdentityClient creates an Identity Authority client with a bounded
// per-call timeout.
func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &IdentityClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Verify exchanges a bearer credential for the Principal it belongs to.
// The credential travels only in the Authorization header and is never
// logged.
func (c *IdentityClient) Verify(ctx context.Context, credential string) (*auth.Principal, error) {
	start := time.Now()

	var principal auth.Principal
	err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/v1/sessions/verify",
		map[string]string{"Authorization": "Bearer " + credential}, nil, &principal)
	record("identity", start, err)

	if err != nil {
		switch {
		case statusOf(err) == http.StatusUnauthorized || statusOf(err) == http.StatusForbidden:
			return nil, auth.ErrInvalidCredential
		case timedOut(err):
			return nil, auth.ErrAuthorityTimeout
		default:
			return nil, auth.ErrAuthorityUnavailable
		}
	}
	return &principal, nil
}
