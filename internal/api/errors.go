package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/oriys/pulsar/internal/access"
	"github.com/oriys/pulsar/internal/auth"
	"github.com/oriys/pulsar/internal/operation"
	"github.com/oriys/pulsar/internal/tenant"
)

// ErrorBody is the error envelope returned on every failed request.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// writeError renders the error envelope with the request id from context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: ErrorBody{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: RequestIDFrom(r.Context()),
	}})
}

// mapError translates a pipeline sentinel into its HTTP status and stable
// error code. Unknown errors become opaque 500s; internal detail never
// leaks to the caller.
func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, access.ErrAuthenticationRequired):
		return http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "authentication required"
	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "valid authentication required"
	case errors.Is(err, access.ErrAccessDenied):
		return http.StatusForbidden, "ACCESS_DENIED", "access to this tenant is denied"
	case errors.Is(err, access.ErrInsufficientPermissions):
		return http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "missing required permission"
	case errors.Is(err, access.ErrInsufficientRole):
		return http.StatusForbidden, "INSUFFICIENT_ROLE", "missing required role"
	case errors.Is(err, tenant.ErrTenantNotFound):
		return http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found"
	case errors.Is(err, tenant.ErrTenantSuspended):
		return http.StatusForbidden, "TENANT_SUSPENDED", "tenant is suspended"
	case errors.Is(err, tenant.ErrTenantInactive):
		return http.StatusForbidden, "TENANT_INACTIVE", "tenant is not active"
	case errors.Is(err, operation.ErrNotFound):
		return http.StatusNotFound, "OPERATION_NOT_FOUND", "operation not found"
	case errors.Is(err, tenant.ErrAuthorityTimeout),
		errors.Is(err, auth.ErrAuthorityTimeout),
		errors.Is(err, operation.ErrEngineTimeout):
		return http.StatusGatewayTimeout, "DEPENDENCY_TIMEOUT", "upstream dependency timed out"
	case errors.Is(err, tenant.ErrAuthorityUnavailable),
		errors.Is(err, auth.ErrAuthorityUnavailable),
		errors.Is(err, operation.ErrEngineUnavailable):
		return http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", "upstream dependency unavailable"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
	}
}

// fail maps err onto the envelope and writes it.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	writeError(w, r, status, code, message, nil)
}

// writeJSON renders a success body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
