package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/oriys/pulsar/internal/access"
	"github.com/oriys/pulsar/internal/tenant"
)

// TenantClient reads tenant, membership and analytics data from the Tenant
// Authority. It implements tenant.Reader and access.Authority. All reads
// are consumed read-only; the only writes are the settings/membership
// mutations triggered by this system's own mutating endpoints.
type TenantClient struct {
	baseURL string
	client  *http.Client
}

// NewTenantClient creates a Tenant Authority client with a bounded per-call
// timeout.
func NewTenantClient(baseURL string, timeout time.Duration) *TenantClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TenantClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// classify maps a transport or status error onto the tenant authority
// sentinels shared by the resolver and the validator. A 5xx from the
// authority counts as unavailability; 4xx statuses the caller did not
// special-case pass through for its own mapping.
func classify(err error) error {
	switch {
	case timedOut(err):
		return tenant.ErrAuthorityTimeout
	case statusOf(err) >= 500:
		return tenant.ErrAuthorityUnavailable
	case statusOf(err) != 0:
		return err
	default:
		return tenant.ErrAuthorityUnavailable
	}
}

// GetTenant fetches one tenant record.
func (c *TenantClient) GetTenant(ctx context.Context, tenantID string) (*tenant.Record, error) {
	start := time.Now()

	var rec tenant.Record
	err := doJSON(ctx, c.client, http.MethodGet,
		c.baseURL+"/v1/tenants/"+url.PathEscape(tenantID), nil, nil, &rec)
	record("tenant_authority", start, err)

	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, classify(err)
	}
	return &rec, nil
}

// UpdateTenantSettings patches a tenant's settings and returns the updated
// record.
func (c *TenantClient) UpdateTenantSettings(ctx context.Context, tenantID string, settings map[string]any) (*tenant.Record, error) {
	start := time.Now()

	var rec tenant.Record
	err := doJSON(ctx, c.client, http.MethodPatch,
		c.baseURL+"/v1/tenants/"+url.PathEscape(tenantID),
		nil, map[string]any{"settings": settings}, &rec)
	record("tenant_authority", start, err)

	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, classify(err)
	}
	return &rec, nil
}

// GetMembership fetches the principal's membership in one tenant. A 404
// means the principal is not a member, which the validator treats as an
// explicit denial.
func (c *TenantClient) GetMembership(ctx context.Context, tenantID, principalID string) (*access.Membership, error) {
	start := time.Now()

	var m access.Membership
	err := doJSON(ctx, c.client, http.MethodGet,
		c.baseURL+"/v1/tenants/"+url.PathEscape(tenantID)+"/members/"+url.PathEscape(principalID),
		nil, nil, &m)
	record("tenant_authority", start, err)

	if err != nil {
		switch statusOf(err) {
		case http.StatusNotFound, http.StatusForbidden:
			return nil, access.ErrAccessDenied
		}
		return nil, classify(err)
	}
	return &m, nil
}

// CheckAccess asks the authority whether the principal may act within the
// tenant at all. An explicit 403 is a denial, not an error.
func (c *TenantClient) CheckAccess(ctx context.Context, tenantID, principalID string) (bool, error) {
	start := time.Now()

	var result struct {
		Allowed bool `json:"allowed"`
	}
	err := doJSON(ctx, c.client, http.MethodPost,
		c.baseURL+"/v1/tenants/"+url.PathEscape(tenantID)+"/access-checks",
		nil, map[string]string{"principal_id": principalID}, &result)
	record("tenant_authority", start, err)

	if err != nil {
		if statusOf(err) == http.StatusForbidden {
			return false, nil
		}
		return false, classify(err)
	}
	return result.Allowed, nil
}

// ListMemberships fetches a tenant's membership list.
func (c *TenantClient) ListMemberships(ctx context.Context, tenantID string) ([]access.Membership, error) {
	start := time.Now()

	var members []access.Membership
	err := doJSON(ctx, c.client, http.MethodGet,
		c.baseURL+"/v1/tenants/"+url.PathEscape(tenantID)+"/members", nil, nil, &members)
	record("tenant_authority", start, err)

	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, classify(err)
	}
	return members, nil
}

// MembershipEdit is one entry of a bulk membership mutation.
type MembershipEdit struct {
	PrincipalID string   `json:"principal_id"`
	Roles       []string `json:"roles,omitempty"`
	Remove      bool     `json:"remove,omitempty"`
}

// BulkEditMemberships applies a batch of membership mutations.
func (c *TenantClient) BulkEditMemberships(ctx context.Context, tenantID string, edits []MembershipEdit) error {
	start := time.Now()

	err := doJSON(ctx, c.client, http.MethodPost,
		c.baseURL+"/v1/tenants/"+url.PathEscape(tenantID)+"/members/bulk",
		nil, map[string]any{"edits": edits}, nil)
	record("tenant_authority", start, err)

	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return tenant.ErrTenantNotFound
		}
		return classify(err)
	}
	return nil
}

// GetAnalytics fetches a tenant analytics snapshot for the requested time
// period ("24h", "7d", "30d"). The payload is opaque to the edge; it is
// cached under the period TTL class and forwarded as-is.
func (c *TenantClient) GetAnalytics(ctx context.Context, tenantID, period string) (json.RawMessage, error) {
	start := time.Now()

	var payload json.RawMessage
	err := doJSON(ctx, c.client, http.MethodGet,
		c.baseURL+"/v1/tenants/"+url.PathEscape(tenantID)+"/analytics?period="+url.QueryEscape(period),
		nil, nil, &payload)
	record("tenant_authority", start, err)

	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, classify(err)
	}
	return payload, nil
}
