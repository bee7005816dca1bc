// Package auth handles principal authentication for the edge pipeline.
// Credentials are verified against the external Identity Authority; the
// resulting Principal travels with the request context. The authority is a
// mandatory dependency: when it is unreachable the pipeline returns 503,
// never a silent pass-through.
package auth

import (
	"context"
	"errors"
)

// Principal is an authenticated caller, independent of any tenant. It is
// produced per request by the Identity Authority and never persisted here.
type Principal struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	SessionID     string   `json:"session_id"`
	DefaultTenant string   `json:"default_tenant,omitempty"`
	Roles         []string `json:"roles"`
	Permissions   []string `json:"permissions"`
}

// Sentinel errors for credential verification. Implementations of Verifier
// map their transport failures onto these so the HTTP layer can
// distinguish 401 from 503/504.
var (
	// ErrInvalidCredential covers missing, malformed and expired
	// credentials as well as revoked sessions.
	ErrInvalidCredential = errors.New("auth: invalid credential")

	// ErrAuthorityUnavailable is returned when the Identity Authority
	// cannot be reached.
	ErrAuthorityUnavailable = errors.New("auth: identity authority unavailable")

	// ErrAuthorityTimeout is returned when the Identity Authority did not
	// answer within the call deadline. Kept distinct from unavailability
	// so callers can decide on retry.
	ErrAuthorityTimeout = errors.New("auth: identity authority timeout")
)

// Verifier validates a bearer credential and returns the Principal it
// belongs to. Returns ErrInvalidCredential for bad credentials and the
// authority sentinels for dependency failures.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Principal, error)
}

type contextKey struct{}

var principalKey = contextKey{}

// WithPrincipal adds a Principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom retrieves the Principal from context, or nil when the
// request is unauthenticated.
func PrincipalFrom(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}
