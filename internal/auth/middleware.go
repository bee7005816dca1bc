package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/pulsar/internal/logging"
)

// ErrorWriter renders an error response. The server injects its envelope
// writer here so authentication failures carry the same shape, timestamp
// and request id as handler errors.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any)

func defaultErrorWriter(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}})
}

// Middleware creates an HTTP middleware that authenticates the bearer
// credential on every non-public request. Requests without a credential
// proceed unauthenticated; guarded routes reject them later with 401.
// A credential that is present but invalid is rejected here, and Identity
// Authority outages surface as 503/504 rather than silently passing the
// request through. A nil writeErr falls back to a bare envelope without
// the request id.
func Middleware(verifier Verifier, publicPaths []string, writeErr ErrorWriter) func(http.Handler) http.Handler {
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

			credential := bearerCredential(r)
			if credential == "" {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := verifier.Verify(r.Context(), credential)
			if err != nil {
				switch {
				case errors.Is(err, ErrInvalidCredential):
					w.Header().Set("WWW-Authenticate", `Bearer realm="pulsar"`)
					writeErr(w, r, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "valid authentication required", nil)
				case errors.Is(err, ErrAuthorityTimeout):
					logging.Op().Error("identity authority timeout", "error", err)
					writeErr(w, r, http.StatusGatewayTimeout, "DEPENDENCY_TIMEOUT", "identity authority timed out", nil)
				default:
					logging.Op().Error("identity authority unavailable", "error", err)
					writeErr(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", "identity authority unavailable", nil)
				}
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerCredential(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}


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
