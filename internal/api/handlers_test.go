package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/oriys/pulsar/internal/access"
	"github.com/oriys/pulsar/internal/auth"
	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/operation"
	"github.com/oriys/pulsar/internal/ratelimit"
	"github.com/oriys/pulsar/internal/tenant"
	"github.com/oriys/pulsar/internal/upstream"
)

// fakeVerifier resolves bearer tokens from a static table.
type fakeVerifier struct {
	principals map[string]*auth.Principal
}

func (f *fakeVerifier) Verify(ctx context.Context, credential string) (*auth.Principal, error) {
	p, ok := f.principals[credential]
	if !ok {
		return nil, auth.ErrInvalidCredential
	}
	return p, nil
}

// fakeAuthority is an in-memory Tenant Authority covering every surface the
// pipeline consumes.
type fakeAuthority struct {
	mu          sync.Mutex
	tenants     map[string]*tenant.Record
	memberships map[string]*access.Membership
}

func membershipKey(tenantID, principalID string) string {
	return tenantID + ":" + principalID
}

func (f *fakeAuthority) GetTenant(ctx context.Context, tenantID string) (*tenant.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tenants[tenantID]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return rec, nil
}

func (f *fakeAuthority) GetMembership(ctx context.Context, tenantID, principalID string) (*access.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[membershipKey(tenantID, principalID)]
	if !ok {
		return nil, access.ErrAccessDenied
	}
	return m, nil
}

func (f *fakeAuthority) CheckAccess(ctx context.Context, tenantID, principalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.memberships[membershipKey(tenantID, principalID)]
	return ok, nil
}

func (f *fakeAuthority) UpdateTenantSettings(ctx context.Context, tenantID string, settings map[string]any) (*tenant.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tenants[tenantID]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	updated := *rec
	updated.Settings = settings
	f.tenants[tenantID] = &updated
	return &updated, nil
}

func (f *fakeAuthority) ListMemberships(ctx context.Context, tenantID string) ([]access.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []access.Membership
	for _, m := range f.memberships {
		if m.TenantID == tenantID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeAuthority) BulkEditMemberships(ctx context.Context, tenantID string, edits []upstream.MembershipEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range edits {
		k := membershipKey(tenantID, e.PrincipalID)
		if e.Remove {
			delete(f.memberships, k)
			continue
		}
		f.memberships[k] = &access.Membership{
			TenantID: tenantID, PrincipalID: e.PrincipalID, Roles: e.Roles,
		}
	}
	return nil
}

func (f *fakeAuthority) GetAnalytics(ctx context.Context, tenantID, period string) (json.RawMessage, error) {
	return json.RawMessage(`{"requests":42,"period":"` + period + `"}`), nil
}

// fakeEngine serves operations from a map; Initiate mints running records.
type fakeEngine struct {
	mu   sync.Mutex
	seq  int
	recs map[string]*operation.Record
}

func (f *fakeEngine) Initiate(ctx context.Context, opType string, payload json.RawMessage) (*operation.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	rec := &operation.Record{
		ID:    "op-" + opType,
		Type:  opType,
		State: operation.StateRunning,
	}
	f.recs[rec.ID] = rec
	return rec, nil
}

func (f *fakeEngine) Status(ctx context.Context, operationID string) (*operation.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[operationID]
	if !ok {
		return nil, operation.ErrNotFound
	}
	return rec, nil
}

func (f *fakeEngine) Cancel(ctx context.Context, operationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[operationID]
	if !ok {
		return operation.ErrNotFound
	}
	rec.State = operation.StateCancelled
	return nil
}

func newTestServer(t *testing.T) (http.Handler, *fakeAuthority) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	authority := &fakeAuthority{
		tenants: map[string]*tenant.Record{
			"t1": {ID: "t1", DisplayName: "Acme", Status: tenant.StatusActive, SubscriptionTier: "professional"},
			"t2": {ID: "t2", DisplayName: "Globex", Status: tenant.StatusActive, SubscriptionTier: "free"},
			"t3": {ID: "t3", DisplayName: "Frozen", Status: tenant.StatusSuspended},
		},
		memberships: map[string]*access.Membership{
			membershipKey("t1", "u1"): {TenantID: "t1", PrincipalID: "u1", Roles: []string{"admin"}},
			membershipKey("t1", "u2"): {TenantID: "t1", PrincipalID: "u2", Roles: []string{"viewer"}},
			membershipKey("t2", "u1"): {TenantID: "t2", PrincipalID: "u1", Roles: []string{"member"}},
		},
	}

	verifier := &fakeVerifier{principals: map[string]*auth.Principal{
		"token-u1": {ID: "u1", Email: "u1@example.com"},
		"token-u2": {ID: "u2", Email: "u2@example.com"},
	}}

	mgr := cache.NewManager(cache.NewInMemoryCache(), cache.DefaultTTLPolicy())
	limiter := ratelimit.New(ratelimit.NewRedisBackend(client), ratelimit.DefaultConfig())
	engine := &fakeEngine{recs: make(map[string]*operation.Record)}
	proxy := operation.NewProxy(engine, mgr, operation.Config{
		SyncWait:     50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})

	handler := NewHandler(ServerConfig{
		Verifier:    verifier,
		Resolver:    tenant.NewResolver(authority, mgr),
		Validator:   access.NewValidator(authority, mgr),
		Tenants:     authority,
		Proxy:       proxy,
		Cache:       mgr,
		Limiter:     limiter,
		PublicPaths: []string{"/health", "/health/ready", "/metrics"},
	})
	return handler, authority
}

func doRequest(handler http.Handler, method, path, token, tenantID string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.1:4000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if tenantID != "" {
		req.Header.Set(tenant.TenantIDHeader, tenantID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_RequestIDEchoed(t *testing.T) {
	handler, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-abc" {
		t.Fatalf("caller-supplied request id not echoed, got %q", got)
	}

	rec2 := doRequest(handler, "GET", "/health", "", "", "")
	if rec2.Header().Get(RequestIDHeader) == "" {
		t.Fatal("request id should be generated when absent")
	}
}

func TestServer_HealthIsPublic(t *testing.T) {
	handler, _ := newTestServer(t)

	if rec := doRequest(handler, "GET", "/health", "", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", rec.Code)
	}
	if rec := doRequest(handler, "GET", "/health/ready", "", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("readiness should not require auth, got %d", rec.Code)
	}
}

func TestServer_GuardedRouteRequiresAuth(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "GET", "/tenant", "", "t1", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	var body struct {
		Error ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not the envelope: %v", err)
	}
	if body.Error.Code != "AUTHENTICATION_REQUIRED" {
		t.Fatalf("expected AUTHENTICATION_REQUIRED, got %q", body.Error.Code)
	}
	if body.Error.RequestID == "" {
		t.Fatal("error envelope should carry the request id")
	}
}

func TestServer_InvalidCredentialRejected(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "GET", "/tenant", "bogus", "t1", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("401 should carry WWW-Authenticate")
	}

	var body struct {
		Error ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("401 body is not the envelope: %v", err)
	}
	if body.Error.RequestID == "" {
		t.Fatal("401 envelope should carry the request id")
	}
	if body.Error.Timestamp.IsZero() {
		t.Fatal("401 envelope should carry a timestamp")
	}
}

func TestServer_GetTenant(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "GET", "/tenant", "token-u1", "t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Tenant      *tenant.Record `json:"tenant"`
		Roles       []string       `json:"roles"`
		Permissions []string       `json:"permissions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Tenant.ID != "t1" || body.Tenant.DisplayName != "Acme" {
		t.Fatalf("wrong tenant: %+v", body.Tenant)
	}
	if len(body.Permissions) == 0 {
		t.Fatal("permissions missing from tenant context")
	}
	if rec.Header().Get("X-Tenant-RateLimit-Limit") == "" {
		t.Fatal("tenant rate limit headers missing")
	}
}

func TestServer_SuspendedTenantBlocked(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "GET", "/tenant", "token-u1", "t3", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for suspended tenant, got %d", rec.Code)
	}
	var body struct {
		Error ErrorBody `json:"error"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.Code != "TENANT_SUSPENDED" {
		t.Fatalf("expected TENANT_SUSPENDED, got %q", body.Error.Code)
	}
}

func TestServer_UnknownTenant404(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "GET", "/tenant", "token-u1", "ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServer_NonMemberDenied(t *testing.T) {
	handler, _ := newTestServer(t)

	// u2 has no membership in t2.
	rec := doRequest(handler, "GET", "/tenant", "token-u2", "t2", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", rec.Code)
	}
}

func TestServer_AccessCheckedBeforeRateLimit(t *testing.T) {
	handler, _ := newTestServer(t)

	// Spend t2's entire free-tier quota as a member.
	var rec *httptest.ResponseRecorder
	for i := 0; i < 101; i++ {
		rec = doRequest(handler, "GET", "/tenant", "token-u1", "t2", "")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("tenant quota should be spent, got %d", rec.Code)
	}

	// A non-member must still get the access verdict, not the limiter's.
	rec = doRequest(handler, "GET", "/tenant", "token-u2", "t2", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-member must get 403 even over quota, got %d", rec.Code)
	}
	var body struct {
		Error ErrorBody `json:"error"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.Code != "ACCESS_DENIED" {
		t.Fatalf("expected ACCESS_DENIED, got %q", body.Error.Code)
	}
}

func TestServer_RateLimitEnvelope(t *testing.T) {
	handler, _ := newTestServer(t)

	// The switch endpoint tier allows 5 per minute per user.
	var rec *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		rec = doRequest(handler, "POST", "/tenant/switch", "token-u1", "t1", `{"tenant_id":"t2"}`)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the 6th switch, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing on rejection")
	}

	var body struct {
		Error ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("429 body is not the envelope: %v", err)
	}
	if body.Error.Code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("expected RATE_LIMIT_EXCEEDED, got %q", body.Error.Code)
	}
	if body.Error.RequestID == "" {
		t.Fatal("429 envelope should carry the request id")
	}
	if body.Error.Timestamp.IsZero() {
		t.Fatal("429 envelope should carry a timestamp")
	}
	if body.Error.Details["tier"] != "endpoint" {
		t.Fatalf("expected endpoint tier in details, got %v", body.Error.Details)
	}
}

func TestServer_ViewerCannotInitiate(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "POST", "/operations", "token-u2", "t1", `{"type":"provision"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error ErrorBody `json:"error"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.Code != "INSUFFICIENT_PERMISSIONS" {
		t.Fatalf("expected INSUFFICIENT_PERMISSIONS, got %q", body.Error.Code)
	}
}

func TestServer_OperationLifecycle(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "POST", "/operations", "token-u1", "t1", `{"type":"provision","payload":{}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var initBody struct {
		Operation *operation.Record `json:"operation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &initBody); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	id := initBody.Operation.ID

	rec = doRequest(handler, "GET", "/operations/"+id, "token-u1", "t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status read failed: %d", rec.Code)
	}

	rec = doRequest(handler, "POST", "/operations/"+id+"/cancel", "token-u1", "t1", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(handler, "GET", "/operations/"+id, "token-u1", "t1", "")
	var statusBody struct {
		Operation *operation.Record `json:"operation"`
	}
	json.Unmarshal(rec.Body.Bytes(), &statusBody)
	if statusBody.Operation.State != operation.StateCancelled {
		t.Fatalf("poll after cancel should see cancelled, got %s", statusBody.Operation.State)
	}
}

func TestServer_OperationNotFound(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "GET", "/operations/ghost", "token-u1", "t1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServer_SettingsUpdateInvalidates(t *testing.T) {
	handler, authority := newTestServer(t)

	// Warm the tenant cache.
	doRequest(handler, "GET", "/tenant", "token-u1", "t1", "")

	rec := doRequest(handler, "PATCH", "/tenant/settings", "token-u1", "t1", `{"settings":{"theme":"dark"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings update failed: %d: %s", rec.Code, rec.Body.String())
	}

	// The next read must observe the authority's new copy, not the
	// cached pre-update record.
	authority.mu.Lock()
	name := authority.tenants["t1"].Settings["theme"]
	authority.mu.Unlock()
	if name != "dark" {
		t.Fatalf("authority not updated: %v", name)
	}

	rec = doRequest(handler, "GET", "/tenant", "token-u1", "t1", "")
	var body struct {
		Tenant *tenant.Record `json:"tenant"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Tenant.Settings["theme"] != "dark" {
		t.Fatalf("stale tenant served after settings update: %+v", body.Tenant.Settings)
	}
}

func TestServer_TenantSwitch(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "POST", "/tenant/switch", "token-u1", "t1", `{"tenant_id":"t2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("switch failed: %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Tenant *tenant.Record `json:"tenant"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Tenant.ID != "t2" {
		t.Fatalf("expected t2 context, got %+v", body.Tenant)
	}

	// u2 is nobody in t2; switching must fail.
	rec = doRequest(handler, "POST", "/tenant/switch", "token-u2", "t1", `{"tenant_id":"t2"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 switching into foreign tenant, got %d", rec.Code)
	}

	// Switching into a suspended tenant is blocked by the status gate.
	rec = doRequest(handler, "POST", "/tenant/switch", "token-u1", "t1", `{"tenant_id":"t3"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 switching into suspended tenant, got %d", rec.Code)
	}
}

func TestServer_AnalyticsPeriodValidation(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "GET", "/tenant/analytics?period=90d", "token-u1", "t1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad period, got %d", rec.Code)
	}

	rec = doRequest(handler, "GET", "/tenant/analytics?period=7d", "token-u1", "t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("analytics failed: %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_MembershipBulkEdit(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "POST", "/tenant/members/bulk", "token-u1", "t1",
		`{"edits":[{"principal_id":"u3","roles":["member"]}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk edit failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(handler, "POST", "/tenant/members/bulk", "token-u1", "t1",
		`{"edits":[{"principal_id":"u3","roles":["emperor"]}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown role should be rejected, got %d", rec.Code)
	}

	// Viewers cannot edit memberships.
	rec = doRequest(handler, "POST", "/tenant/members/bulk", "token-u2", "t1",
		`{"edits":[{"principal_id":"u4","roles":["member"]}]}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", rec.Code)
	}
}

func TestServer_CacheFlushRequiresPermission(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "POST", "/admin/cache/flush", "token-u2", "t1", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer must not flush, got %d", rec.Code)
	}

	rec = doRequest(handler, "POST", "/admin/cache/flush", "token-u1", "t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin flush failed: %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_OperationStream(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doRequest(handler, "POST", "/operations", "token-u1", "t1", `{"type":"migrate"}`)
	var initBody struct {
		Operation *operation.Record `json:"operation"`
	}
	json.Unmarshal(rec.Body.Bytes(), &initBody)
	id := initBody.Operation.ID

	// Cancel immediately so the stream terminates after one poll.
	doRequest(handler, "POST", "/operations/"+id+"/cancel", "token-u1", "t1", "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := httptest.NewRequest("GET", "/operations/"+id+"/stream", nil).WithContext(ctx)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("Authorization", "Bearer token-u1")
	req.Header.Set(tenant.TenantIDHeader, "t1")

	stream := httptest.NewRecorder()
	handler.ServeHTTP(stream, req)

	if ct := stream.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}
	out := stream.Body.String()
	if !strings.Contains(out, "event: status") {
		t.Fatalf("stream carried no status event: %q", out)
	}
	if !strings.Contains(out, "event: done") {
		t.Fatalf("stream did not finish with done: %q", out)
	}
	if !strings.Contains(out, `"cancelled"`) {
		t.Fatalf("terminal state missing from stream: %q", out)
	}
}
