package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/pulsar/internal/access"
	"github.com/oriys/pulsar/internal/auth"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/tenant"
)

// RequestIDHeader carries the request correlation id. An id supplied by the
// caller is kept; otherwise one is generated. The id is echoed on the
// response and attached to every audit entry.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFrom retrieves the request id, or "".
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestIDMiddleware assigns a correlation id to every request.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantMiddleware resolves the tenant for every non-public request and
// attaches it to the context. Status gate failures are terminal here; a
// request for a suspended tenant never reaches a handler.
func TenantMiddleware(resolver *tenant.Resolver, publicPaths []string) func(http.Handler) http.Handler {
	publicSet := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		publicSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicSet[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			tc, err := resolver.Resolve(r)
			if err != nil {
				fail(w, r, err)
				return
			}
			if tc.Resolved() {
				span := observability.SpanFromContext(r.Context())
				span.SetAttributes(
					observability.AttrTenantID.String(tc.Record.ID),
					observability.AttrTenantSource.String(string(tc.Source)),
				)
				r = r.WithContext(tenant.WithContext(r.Context(), tc))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccessMiddleware runs the generic authorization step for every request
// that resolved a tenant, before rate limiting, so a caller the tenant
// rejects gets a 403 regardless of quota state. The authorized context is
// attached for handlers, which enforce their own required permissions.
func AccessMiddleware(validator *access.Validator, publicPaths []string) func(http.Handler) http.Handler {
	publicSet := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		publicSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicSet[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			tc := tenant.FromContext(r.Context())
			if !tc.Resolved() {
				next.ServeHTTP(w, r)
				return
			}

			ac, err := validator.Authorize(r.Context(), tc.Record, auth.PrincipalFrom(r.Context()))
			if err != nil {
				fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(access.WithAuthorized(r.Context(), ac)))
		})
	}
}

// auditWriter captures the response status for the audit trail. It forwards
// Flush so streaming handlers keep working under the wrapper.
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *auditWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AuditMiddleware records request metrics for every call and writes an
// audit entry for each failure. Credentials are never logged.
func AuditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(aw, r)

		duration := time.Since(start)
		metrics.RecordRequest(r.URL.Path, r.Method, aw.status, duration)

		if aw.status >= 400 {
			entry := &logging.AuditEntry{
				RequestID:  RequestIDFrom(r.Context()),
				TraceID:    observability.GetTraceID(r.Context()),
				Endpoint:   r.URL.Path,
				Method:     r.Method,
				Status:     aw.status,
				DurationMs: duration.Milliseconds(),
			}
			if tc := tenant.FromContext(r.Context()); tc.Resolved() {
				entry.TenantID = tc.Record.ID
			}
			if p := auth.PrincipalFrom(r.Context()); p != nil {
				entry.UserID = p.ID
			}
			logging.Audit().Log(entry)
		}
	})
}
