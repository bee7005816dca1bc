package tenant

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/oriys/pulsar/internal/auth"
	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/metrics"
)

// TenantIDHeader is the explicit tenant identifier header. It takes
// precedence over every other extraction source.
const TenantIDHeader = "X-Tenant-ID"

// reservedSubdomains never resolve to a tenant; they address the platform
// itself rather than a customer organization.
var reservedSubdomains = map[string]bool{
	"www":    true,
	"api":    true,
	"app":    true,
	"admin":  true,
	"static": true,
}

// Resolver loads and gates tenant records. Concurrent misses for the same
// identifier are each allowed to fetch independently; the record is small
// and the duplicate work is bounded by the request fan-in.
type Resolver struct {
	authority Reader
	cache     *cache.Manager
}

// NewResolver creates a resolver over the Tenant Authority and the shared
// cache manager.
func NewResolver(authority Reader, cacheMgr *cache.Manager) *Resolver {
	return &Resolver{
		authority: authority,
		cache:     cacheMgr,
	}
}

// Resolve extracts a tenant identifier from the request, loads the record
// through the cache and applies the status gate. When no identifier is
// found it returns the neutral no-tenant Context rather than an error, as
// some endpoints are tenant-agnostic.
//
// The status gate runs on every request, including cache hits: suspension
// must take effect promptly, bounded only by the tenant TTL.
func (r *Resolver) Resolve(req *http.Request) (Context, error) {
	id, source := ExtractID(req)
	if id == "" {
		return Context{}, nil
	}

	rec, err := r.Load(req.Context(), id)
	if err != nil {
		return Context{}, err
	}
	return Context{Record: rec, Source: source}, nil
}

// Load fetches a tenant by id through the cache and applies the status
// gate. Used by Resolve and by endpoints that address a tenant directly,
// such as tenant switching.
func (r *Resolver) Load(ctx context.Context, id string) (*Record, error) {
	rec, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case StatusSuspended:
		metrics.RecordTenantGateRejection("suspended")
		return nil, ErrTenantSuspended
	case StatusActive:
		// pass
	default:
		metrics.RecordTenantGateRejection("inactive")
		return nil, ErrTenantInactive
	}
	return rec, nil
}

// lookup performs the cached read: cache first, then the Tenant Authority,
// populating the cache under the tenant TTL class on a successful fetch.
func (r *Resolver) lookup(ctx context.Context, id string) (*Record, error) {
	key := cache.TenantKey(id)

	var rec Record
	if err := r.cache.GetJSON(ctx, key, &rec); err == nil {
		metrics.RecordCacheHit("tenant")
		return &rec, nil
	}
	metrics.RecordCacheMiss("tenant")

	fetched, err := r.authority.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = r.cache.SetJSON(ctx, key, fetched, cache.TTLMedium)
	return fetched, nil
}

// Invalidate evicts the cached record for a tenant. Called by mutating
// endpoints before they return so the next Resolve never observes the
// pre-update record.
func (r *Resolver) Invalidate(ctx context.Context, tenantID string) error {
	return r.cache.Apply(ctx, cache.TenantInvalidation(tenantID))
}

// ExtractID pulls the tenant identifier from the request using the fixed
// precedence order: explicit header > path parameter > query parameter >
// authenticated principal's default tenant > host subdomain.
func ExtractID(req *http.Request) (string, Source) {
	if id := strings.TrimSpace(req.Header.Get(TenantIDHeader)); id != "" {
		return id, SourceHeader
	}
	if id := req.PathValue("tenantID"); id != "" {
		return id, SourcePath
	}
	if id := strings.TrimSpace(req.URL.Query().Get("tenant_id")); id != "" {
		return id, SourceQuery
	}
	if p := auth.PrincipalFrom(req.Context()); p != nil && p.DefaultTenant != "" {
		return p.DefaultTenant, SourcePrincipal
	}
	if id := subdomain(req.Host); id != "" {
		return id, SourceSubdomain
	}
	return "", SourceNone
}

// subdomain returns the leftmost host label when the host has at least
// three labels and the label is not reserved.
func subdomain(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return ""
	}
	label := strings.ToLower(parts[0])
	if reservedSubdomains[label] {
		return ""
	}
	return label
}

// GateError reports whether err is a tenant status gate failure (as opposed
// to a dependency failure).
func GateError(err error) bool {
	return errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrTenantSuspended) ||
		errors.Is(err, ErrTenantInactive)
}
