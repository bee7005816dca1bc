package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/pulsar/internal/auth"
	"github.com/oriys/pulsar/internal/tenant"
)

// SensitiveRoute maps an HTTP method + path prefix to a named sensitive
// operation. Requests matching an entry are subject to the endpoint tier.
type SensitiveRoute struct {
	Method    string
	Prefix    string
	Operation string
}

// DefaultSensitiveRoutes covers the operations with markedly stricter
// endpoint quotas: tenant switching, provisioning/migration initiation and
// bulk membership edits.
func DefaultSensitiveRoutes() []SensitiveRoute {
	return []SensitiveRoute{
		{"POST", "/tenant/switch", "tenant:switch"},
		{"POST", "/operations", "operation:initiate"},
		{"POST", "/tenant/members/bulk", "membership:bulk"},
	}
}

var tierHeaderNames = map[Tier]string{
	TierGlobal:   "Global",
	TierTenant:   "Tenant",
	TierUser:     "User",
	TierEndpoint: "Endpoint",
}

// ErrorWriter renders an error response. The server injects its envelope
// writer here so middleware rejections carry the same shape, timestamp and
// request id as handler errors.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any)

func defaultErrorWriter(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
		"code":      code,
		"message":   message,
		"details":   details,
		"timestamp": time.Now().UTC(),
	}})
}

// Middleware creates an HTTP middleware applying the layered rate limiter.
// It must run after authentication and tenant resolution so the tenant and
// user tiers have identities to key on. A nil writeErr falls back to a
// bare envelope without the request id.
func Middleware(limiter *Limiter, sensitive []SensitiveRoute, publicPaths []string, writeErr ErrorWriter) func(http.Handler) http.Handler {
	publicSet := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		publicSet[p] = true
	}
	if writeErr == nil {
		writeErr = defaultErrorWriter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path, publicSet) {
				next.ServeHTTP(w, r)
				return
			}

			id := Identity{
				ClientIP: ClientIP(r),
				Endpoint: classifyEndpoint(r, sensitive),
			}
			if p := auth.PrincipalFrom(r.Context()); p != nil {
				id.UserID = p.ID
			}
			if tc := tenant.FromContext(r.Context()); tc.Resolved() {
				id.TenantID = tc.Record.ID
				id.SubscriptionTier = tc.Record.SubscriptionTier
			}

			decision := limiter.Check(r.Context(), id)
			setTierHeaders(w, decision.Tiers)

			if !decision.Allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", decision.RetryAfter))
				writeErr(w, r, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
					fmt.Sprintf("rate limit exceeded for %s tier", decision.RejectedTier),
					map[string]any{
						"tier":        string(decision.RejectedTier),
						"retry_after": decision.RetryAfter,
					})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setTierHeaders populates the per-tier visibility headers for every tier
// that was actually evaluated. Tiers skipped during a store outage expose no
// headers, signalling to callers that enforcement was bypassed.
func setTierHeaders(w http.ResponseWriter, tiers []TierStatus) {
	for _, ts := range tiers {
		name := tierHeaderNames[ts.Tier]
		w.Header().Set("X-"+name+"-RateLimit-Limit", fmt.Sprintf("%d", ts.Limit))
		w.Header().Set("X-"+name+"-RateLimit-Remaining", fmt.Sprintf("%d", ts.Remaining))
		w.Header().Set("X-"+name+"-RateLimit-Reset", fmt.Sprintf("%d", ts.Reset.Unix()))
	}
}

// classifyEndpoint returns the sensitive operation name for the request, or
// "" when the route carries no endpoint-tier quota.
func classifyEndpoint(r *http.Request, sensitive []SensitiveRoute) string {
	for _, sr := range sensitive {
		if r.Method == sr.Method && strings.HasPrefix(r.URL.Path, sr.Prefix) {
			return sr.Operation
		}
	}
	return ""
}

// isPublicPath checks if the given path should skip rate limiting.
func isPublicPath(path string, publicSet map[string]bool) bool {
	if publicSet[path] {
		return true
	}
	for p := range publicSet {
		if strings.HasSuffix(p, "/*") {
			prefix := strings.TrimSuffix(p, "*")
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
	}
	return false
}

// ClientIP extracts the client IP from the request, honouring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	ip = strings.TrimPrefix(ip, "[")
	ip = strings.TrimSuffix(ip, "]")
	return ip
}
