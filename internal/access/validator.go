package access

import (
	"context"
	"errors"
	"slices"

	"github.com/oriys/pulsar/internal/auth"
	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/tenant"
	"golang.org/x/sync/errgroup"
)

// Sentinel errors for the authorization step.
var (
	// ErrAuthenticationRequired is returned when no principal is present.
	ErrAuthenticationRequired = errors.New("access: authentication required")

	// ErrAccessDenied is returned when the Tenant Authority's access
	// check explicitly denies the (tenant, principal) pair.
	ErrAccessDenied = errors.New("access: denied")

	// ErrInsufficientPermissions is returned when the effective set lacks
	// a specific guarded permission.
	ErrInsufficientPermissions = errors.New("access: insufficient permissions")

	// ErrInsufficientRole is returned when a guarded operation requires a
	// role the principal does not hold in this tenant.
	ErrInsufficientRole = errors.New("access: insufficient role")
)

// Membership is the principal's standing within one tenant, owned by the
// Tenant Authority.
type Membership struct {
	TenantID    string   `json:"tenant_id"`
	PrincipalID string   `json:"principal_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Authority is the Tenant Authority surface the validator depends on.
// GetMembership returns ErrAccessDenied when the principal is not a member;
// CheckAccess returns false when the authority explicitly denies access.
// Both map dependency failures onto the tenant authority sentinels.
type Authority interface {
	GetMembership(ctx context.Context, tenantID, principalID string) (*Membership, error)
	CheckAccess(ctx context.Context, tenantID, principalID string) (bool, error)
}

// AuthorizedContext is the cached result of a successful authorization:
// the principal's roles in this tenant, the fully expanded permission set
// and a quota snapshot. The permission list is stored normalized so the
// cached JSON form rebuilds an identical Set.
type AuthorizedContext struct {
	TenantID    string        `json:"tenant_id"`
	PrincipalID string        `json:"principal_id"`
	Roles       []string      `json:"roles"`
	Permissions []string      `json:"permissions"`
	Quotas      tenant.Quotas `json:"quotas"`
}

// HasPermission applies the canonical matcher to the effective set.
func (a *AuthorizedContext) HasPermission(required string) bool {
	return NewSet(a.Permissions...).Has(required)
}

// HasRole reports whether the principal holds the role within this tenant.
func (a *AuthorizedContext) HasRole(role Role) bool {
	return slices.Contains(a.Roles, string(role))
}

// Validator computes and caches authorized contexts.
type Validator struct {
	authority Authority
	cache     *cache.Manager
}

// NewValidator creates a validator over the Tenant Authority and the shared
// cache manager.
func NewValidator(authority Authority, cacheMgr *cache.Manager) *Validator {
	return &Validator{
		authority: authority,
		cache:     cacheMgr,
	}
}

// Authorize computes the effective permission set for the (tenant,
// principal) pair: the principal's direct permissions, the static role
// expansion of both global and tenant roles, and the membership-specific
// permissions held at the Tenant Authority. The result is cached under the
// tenant-context TTL class, and only after the authority's access check has
// passed, never speculatively.
func (v *Validator) Authorize(ctx context.Context, rec *tenant.Record, principal *auth.Principal) (*AuthorizedContext, error) {
	if principal == nil {
		return nil, ErrAuthenticationRequired
	}

	key := cache.TenantContextKey(rec.ID, principal.ID)
	var cached AuthorizedContext
	if err := v.cache.GetJSON(ctx, key, &cached); err == nil {
		metrics.RecordCacheHit("tenant-context")
		return &cached, nil
	}
	metrics.RecordCacheMiss("tenant-context")

	// The membership read and the access check are independent authority
	// calls; run them concurrently.
	var (
		membership *Membership
		allowed    bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := v.authority.GetMembership(gctx, rec.ID, principal.ID)
		if err != nil {
			return err
		}
		membership = m
		return nil
	})
	g.Go(func() error {
		ok, err := v.authority.CheckAccess(gctx, rec.ID, principal.ID)
		if err != nil {
			return err
		}
		allowed = ok
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrAccessDenied
	}

	var perms []string
	perms = append(perms, principal.Permissions...)
	perms = append(perms, ExpandRoles(principal.Roles)...)
	perms = append(perms, ExpandRoles(membership.Roles)...)
	perms = append(perms, membership.Permissions...)

	ac := &AuthorizedContext{
		TenantID:    rec.ID,
		PrincipalID: principal.ID,
		Roles:       membership.Roles,
		Permissions: NewSet(perms...).List(),
		Quotas:      rec.Quotas,
	}

	_ = v.cache.SetJSON(ctx, key, ac, cache.TTLMedium)
	return ac, nil
}

// Require returns ErrInsufficientPermissions unless the context grants the
// required permission.
func (v *Validator) Require(ac *AuthorizedContext, required string) error {
	if ac == nil {
		return ErrAuthenticationRequired
	}
	if !ac.HasPermission(required) {
		return ErrInsufficientPermissions
	}
	return nil
}

// RequireRole returns ErrInsufficientRole unless the context holds the role.
func (v *Validator) RequireRole(ac *AuthorizedContext, role Role) error {
	if ac == nil {
		return ErrAuthenticationRequired
	}
	if !ac.HasRole(role) {
		return ErrInsufficientRole
	}
	return nil
}

// InvalidateMembership evicts the cached context and membership list after
// a membership mutation.
func (v *Validator) InvalidateMembership(ctx context.Context, tenantID, principalID string) error {
	return v.cache.Apply(ctx, cache.MembershipInvalidation(tenantID, principalID))
}

type authorizedKey struct{}

// WithAuthorized attaches the authorized context to the request context.
func WithAuthorized(ctx context.Context, ac *AuthorizedContext) context.Context {
	return context.WithValue(ctx, authorizedKey{}, ac)
}

// AuthorizedFrom retrieves the authorized context, or nil.
func AuthorizedFrom(ctx context.Context) *AuthorizedContext {
	if ac, ok := ctx.Value(authorizedKey{}).(*AuthorizedContext); ok {
		return ac
	}
	return nil
}
