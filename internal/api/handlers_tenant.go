package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/oriys/pulsar/internal/access"
	"github.com/oriys/pulsar/internal/auth"
	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/operation"
	"github.com/oriys/pulsar/internal/tenant"
	"github.com/oriys/pulsar/internal/upstream"
)

// TenantService is the Tenant Authority surface the handlers call beyond
// what the resolver and validator already cover.
type TenantService interface {
	UpdateTenantSettings(ctx context.Context, tenantID string, settings map[string]any) (*tenant.Record, error)
	ListMemberships(ctx context.Context, tenantID string) ([]access.Membership, error)
	BulkEditMemberships(ctx context.Context, tenantID string, edits []upstream.MembershipEdit) error
	GetAnalytics(ctx context.Context, tenantID, period string) (json.RawMessage, error)
}

// Handler carries the edge pipeline components the routes are built from.
type Handler struct {
	Resolver  *tenant.Resolver
	Validator *access.Validator
	Tenants   TenantService
	Proxy     *operation.Proxy
	Cache     *cache.Manager

	// Invalidator broadcasts evictions to other instances. Optional; nil
	// in single-instance and in-memory deployments.
	Invalidator *cache.Invalidator
}

// RegisterRoutes attaches all tenant and operation routes to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /tenant", h.handleGetTenant)
	mux.HandleFunc("PATCH /tenant/settings", h.handleUpdateSettings)
	mux.HandleFunc("POST /tenant/switch", h.handleSwitch)
	mux.HandleFunc("GET /tenant/members", h.handleListMembers)
	mux.HandleFunc("POST /tenant/members/bulk", h.handleBulkMembers)
	mux.HandleFunc("GET /tenant/analytics", h.handleAnalytics)
	mux.HandleFunc("POST /admin/cache/flush", h.handleCacheFlush)

	mux.HandleFunc("POST /operations", h.handleInitiate)
	mux.HandleFunc("GET /operations/{operationID}", h.handleOperationStatus)
	mux.HandleFunc("POST /operations/{operationID}/cancel", h.handleOperationCancel)
	mux.HandleFunc("GET /operations/{operationID}/stream", h.handleOperationStream)
}

// authorize enforces one required permission for a tenant-scoped route.
// The generic membership and access check already ran in AccessMiddleware;
// the authorized context is taken from there, with a direct validator call
// as fallback for handlers mounted outside the full chain. It writes the
// error response itself; callers bail out when ok is false.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, required string) (*access.AuthorizedContext, tenant.Context, bool) {
	tc := tenant.FromContext(r.Context())
	if !tc.Resolved() {
		writeError(w, r, http.StatusBadRequest, "TENANT_REQUIRED", "no tenant could be identified for this request", nil)
		return nil, tc, false
	}

	ac := access.AuthorizedFrom(r.Context())
	if ac == nil {
		var err error
		ac, err = h.Validator.Authorize(r.Context(), tc.Record, auth.PrincipalFrom(r.Context()))
		if err != nil {
			fail(w, r, err)
			return nil, tc, false
		}
	}
	if err := h.Validator.Require(ac, required); err != nil {
		writeError(w, r, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "missing required permission",
			map[string]any{"required": required})
		return nil, tc, false
	}
	return ac, tc, true
}

// broadcast applies an invalidation set locally and, when an invalidator is
// wired, publishes it so other instances evict their L1 copies too.
func (h *Handler) broadcast(ctx context.Context, inv cache.Invalidation) {
	if err := h.Cache.Apply(ctx, inv); err != nil {
		logging.Op().Warn("cache invalidation incomplete", "error", err)
	}
	if h.Invalidator != nil {
		if err := h.Invalidator.Publish(ctx, inv); err != nil {
			logging.Op().Warn("invalidation broadcast failed", "error", err)
		}
	}
}

// handleGetTenant returns the resolved tenant record together with the
// caller's standing in it.
func (h *Handler) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	ac, tc, ok := h.authorize(w, r, access.PermTenantRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":      tc.Record,
		"source":      tc.Source,
		"roles":       ac.Roles,
		"permissions": ac.Permissions,
	})
}

// handleUpdateSettings forwards a settings patch to the Tenant Authority
// and evicts every cache entry derived from the tenant record before
// answering, so no subsequent read observes the pre-update state.
func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	_, tc, ok := h.authorize(w, r, access.PermTenantUpdate)
	if !ok {
		return
	}

	var req struct {
		Settings map[string]any `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Settings) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "settings object required", nil)
		return
	}

	updated, err := h.Tenants.UpdateTenantSettings(r.Context(), tc.Record.ID, req.Settings)
	if err != nil {
		fail(w, r, err)
		return
	}

	h.broadcast(r.Context(), cache.TenantInvalidation(tc.Record.ID))
	writeJSON(w, http.StatusOK, map[string]any{"tenant": updated})
}

// handleSwitch validates the caller's access to a target tenant and returns
// its full context. The target passes the same status gate as any resolved
// tenant; switching into a suspended tenant is impossible.
func (h *Handler) handleSwitch(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFrom(r.Context())
	if principal == nil {
		fail(w, r, access.ErrAuthenticationRequired)
		return
	}

	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "tenant_id required", nil)
		return
	}

	target, err := h.Resolver.Load(r.Context(), req.TenantID)
	if err != nil {
		fail(w, r, err)
		return
	}

	ac, err := h.Validator.Authorize(r.Context(), target, principal)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.Validator.Require(ac, access.PermTenantSwitch); err != nil {
		fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":      target,
		"roles":       ac.Roles,
		"permissions": ac.Permissions,
	})
}

// handleListMembers serves the tenant's membership list through the
// short-TTL cache.
func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	_, tc, ok := h.authorize(w, r, access.PermMembersRead)
	if !ok {
		return
	}

	key := cache.MembershipKey(tc.Record.ID)
	var members []access.Membership
	if err := h.Cache.GetJSON(r.Context(), key, &members); err == nil {
		metrics.RecordCacheHit("memberships")
		writeJSON(w, http.StatusOK, map[string]any{"members": members})
		return
	}
	metrics.RecordCacheMiss("memberships")

	members, err := h.Tenants.ListMemberships(r.Context(), tc.Record.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	_ = h.Cache.SetJSON(r.Context(), key, members, cache.TTLShort)
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// handleBulkMembers applies a batch of membership edits and evicts the
// membership list plus each touched principal's cached context.
func (h *Handler) handleBulkMembers(w http.ResponseWriter, r *http.Request) {
	_, tc, ok := h.authorize(w, r, access.PermMembersBulk)
	if !ok {
		return
	}

	var req struct {
		Edits []upstream.MembershipEdit `json:"edits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Edits) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "edits list required", nil)
		return
	}
	for _, e := range req.Edits {
		for _, role := range e.Roles {
			if !access.ValidRole(access.Role(role)) {
				writeError(w, r, http.StatusBadRequest, "INVALID_ROLE", "unknown role",
					map[string]any{"role": role})
				return
			}
		}
	}

	if err := h.Tenants.BulkEditMemberships(r.Context(), tc.Record.ID, req.Edits); err != nil {
		fail(w, r, err)
		return
	}

	inv := cache.Invalidation{}
	for _, e := range req.Edits {
		inv = inv.Merge(cache.MembershipInvalidation(tc.Record.ID, e.PrincipalID))
	}
	h.broadcast(r.Context(), inv)

	writeJSON(w, http.StatusOK, map[string]any{"applied": len(req.Edits)})
}

// analyticsPeriods are the accepted analytics windows.
var analyticsPeriods = map[string]bool{"24h": true, "7d": true, "30d": true}

// handleAnalytics serves the tenant analytics snapshot for a period,
// cached under the period TTL class per (tenant, period).
func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	_, tc, ok := h.authorize(w, r, access.PermAnalyticsRead)
	if !ok {
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "7d"
	}
	if !analyticsPeriods[period] {
		writeError(w, r, http.StatusBadRequest, "INVALID_PERIOD", "period must be 24h, 7d or 30d",
			map[string]any{"period": period})
		return
	}

	key := cache.AnalyticsKey(tc.Record.ID, period)
	var snapshot json.RawMessage
	if err := h.Cache.GetJSON(r.Context(), key, &snapshot); err == nil {
		metrics.RecordCacheHit("analytics")
		writeJSON(w, http.StatusOK, map[string]any{"period": period, "analytics": snapshot})
		return
	}
	metrics.RecordCacheMiss("analytics")

	snapshot, err := h.Tenants.GetAnalytics(r.Context(), tc.Record.ID, period)
	if err != nil {
		fail(w, r, err)
		return
	}
	_ = h.Cache.SetJSON(r.Context(), key, snapshot, cache.TTLPeriod)
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "analytics": snapshot})
}

// handleCacheFlush is the administrator escape hatch: drop every cached
// entry scoped to the tenant, across all key families and all instances.
func (h *Handler) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	_, tc, ok := h.authorize(w, r, access.PermCacheFlush)
	if !ok {
		return
	}

	h.broadcast(r.Context(), cache.TenantFlushInvalidation(tc.Record.ID))
	logging.Op().Info("tenant cache flushed", "tenant_id", tc.Record.ID)
	writeJSON(w, http.StatusOK, map[string]any{"flushed": true})
}
