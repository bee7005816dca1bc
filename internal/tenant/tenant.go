// Package tenant owns tenant resolution for the edge pipeline: extracting a
// tenant identifier from the request, loading the tenant record through the
// cache, and gating every request on the tenant's lifecycle status. The
// external Tenant Authority is the system of record; this package only ever
// holds a read-through cached copy.
package tenant

import (
	"context"
	"errors"
)

// Status is a tenant lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusInactive  Status = "inactive"
)

// Sentinel errors for the status gate and authority failures.
var (
	ErrTenantNotFound  = errors.New("tenant: not found")
	ErrTenantSuspended = errors.New("tenant: suspended")
	ErrTenantInactive  = errors.New("tenant: inactive")

	// ErrAuthorityUnavailable is returned when the Tenant Authority cannot
	// be reached and no usable cached record exists.
	ErrAuthorityUnavailable = errors.New("tenant: authority unavailable")

	// ErrAuthorityTimeout is returned when the Tenant Authority did not
	// answer within the call deadline. Distinct from unavailability so
	// callers can decide on retry.
	ErrAuthorityTimeout = errors.New("tenant: authority timeout")
)

// Quotas is the tenant's resource allowance snapshot, derived from its
// subscription tier by the Tenant Authority.
type Quotas struct {
	MaxMembers        int   `json:"max_members"`
	MaxOpenOperations int   `json:"max_open_operations"`
	StorageMB         int64 `json:"storage_mb"`
}

// Branding carries tenant-specific presentation settings consumed by the
// frontends behind this edge.
type Branding struct {
	LogoURL      string `json:"logo_url,omitempty"`
	PrimaryColor string `json:"primary_color,omitempty"`
}

// Record is the cached copy of a tenant as owned by the Tenant Authority.
type Record struct {
	ID               string         `json:"id"`
	DisplayName      string         `json:"display_name"`
	Status           Status         `json:"status"`
	SubscriptionTier string         `json:"subscription_tier"`
	Quotas           Quotas         `json:"quotas"`
	Settings         map[string]any `json:"settings,omitempty"`
	Branding         Branding       `json:"branding,omitempty"`
}

// Reader is the Tenant Authority surface the resolver depends on.
// GetTenant returns ErrTenantNotFound when the tenant does not exist and
// the authority sentinels for dependency failures.
type Reader interface {
	GetTenant(ctx context.Context, tenantID string) (*Record, error)
}

// Source records where the tenant identifier was extracted from.
type Source string

const (
	SourceNone      Source = ""
	SourceHeader    Source = "header"
	SourcePath      Source = "path"
	SourceQuery     Source = "query"
	SourcePrincipal Source = "principal"
	SourceSubdomain Source = "subdomain"
)

// Context is the resolved tenant for one request. A zero Context is the
// neutral "no tenant" result used by tenant-agnostic endpoints.
type Context struct {
	Record *Record
	Source Source
}

// Resolved reports whether a tenant was identified and loaded.
func (c Context) Resolved() bool {
	return c.Record != nil
}

type contextKey struct{}

var tenantKey = contextKey{}

// WithContext attaches the resolved tenant to the request context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, tenantKey, tc)
}

// FromContext retrieves the resolved tenant, or the neutral zero Context.
func FromContext(ctx context.Context) Context {
	if tc, ok := ctx.Value(tenantKey).(Context); ok {
		return tc
	}
	return Context{}
}
