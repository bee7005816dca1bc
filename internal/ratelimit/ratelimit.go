package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
)

// Tier identifies one of the four counter families. Each family owns its
// own key space; no window key is ever shared between families.
type Tier string

const (
	TierGlobal   Tier = "global"
	TierTenant   Tier = "tenant"
	TierUser     Tier = "user"
	TierEndpoint Tier = "endpoint"
)

// tierOrder is the fixed evaluation order.
var tierOrder = []Tier{TierGlobal, TierTenant, TierUser, TierEndpoint}

// Limit is a fixed-window quota.
type Limit struct {
	Requests int           `json:"requests" yaml:"requests"`
	Window   time.Duration `json:"window" yaml:"window"`
}

// Config holds the per-tier quota tables.
type Config struct {
	// Global is the IP-scoped ceiling applied to every request.
	Global Limit `json:"global" yaml:"global"`
	// TenantTiers maps a subscription tier name to the tenant quota.
	TenantTiers map[string]Limit `json:"tenant_tiers" yaml:"tenant_tiers"`
	// TenantDefault applies when the subscription tier is unknown.
	TenantDefault Limit `json:"tenant_default" yaml:"tenant_default"`
	// User is the flat per-principal ceiling.
	User Limit `json:"user" yaml:"user"`
	// Endpoints maps a sensitive operation name to its strict quota.
	// Operations absent from the table skip the endpoint tier.
	Endpoints map[string]Limit `json:"endpoints" yaml:"endpoints"`
}

// DefaultConfig returns the platform default quota tables.
func DefaultConfig() Config {
	minute := time.Minute
	return Config{
		Global: Limit{Requests: 10000, Window: minute},
		TenantTiers: map[string]Limit{
			"free":         {Requests: 100, Window: minute},
			"professional": {Requests: 1000, Window: minute},
			"enterprise":   {Requests: 5000, Window: minute},
		},
		TenantDefault: Limit{Requests: 100, Window: minute},
		User:          Limit{Requests: 300, Window: minute},
		Endpoints: map[string]Limit{
			"tenant:switch":      {Requests: 5, Window: minute},
			"operation:initiate": {Requests: 3, Window: minute},
			"membership:bulk":    {Requests: 5, Window: minute},
		},
	}
}

// Identity carries the per-tier identities for one request. An empty field
// skips the corresponding tier (e.g. an unauthenticated request has no user
// tier; a tenant-agnostic endpoint has no tenant tier).
type Identity struct {
	ClientIP         string
	TenantID         string
	SubscriptionTier string
	UserID           string
	Endpoint         string // sensitive operation name, or "" for normal routes
}

// TierStatus reports the window state of one evaluated tier.
type TierStatus struct {
	Tier      Tier
	Limit     int
	Remaining int
	Reset     time.Time
}

// Decision is the outcome of a layered rate-limit check. Tiers contains one
// status per tier evaluated, up to and including the rejecting one, so the
// caller can surface partial visibility headers even on rejection.
type Decision struct {
	Allowed      bool
	RejectedTier Tier
	RetryAfter   int // seconds until the rejecting bucket resets
	Tiers        []TierStatus
	Degraded     bool // at least one tier was skipped due to store outage
}

// Limiter evaluates the four counter families in fixed order.
type Limiter struct {
	backend  Backend
	cfg      Config
	degraded atomic.Bool
	now      func() time.Time
}

// New creates a layered rate limiter over the given counter backend.
func New(backend Backend, cfg Config) *Limiter {
	return &Limiter{
		backend: backend,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Check evaluates all applicable tiers in order, stopping at the first tier
// whose count exceeds its limit. If the counter store is unreachable the
// affected tier fails open: the request is allowed, a warning is logged and
// the tier is omitted from the decision's status list. Availability of the
// platform takes priority over strict quota enforcement during a transient
// store fault.
func (l *Limiter) Check(ctx context.Context, id Identity) Decision {
	decision := l.evaluate(ctx, id)
	l.degraded.Store(decision.Degraded)
	return decision
}

func (l *Limiter) evaluate(ctx context.Context, id Identity) Decision {
	decision := Decision{Allowed: true}

	for _, tier := range tierOrder {
		identity, limit, ok := l.tierParams(tier, id)
		if !ok {
			continue
		}

		now := l.now()
		windowMs := limit.Window.Milliseconds()
		bucket := now.UnixMilli() / windowMs
		key := fmt.Sprintf("%s:%s:%d", tier, identity, bucket)

		count, err := l.backend.IncrWindow(ctx, key, limit.Window)
		if err != nil {
			logging.Op().Warn("rate-limit store unreachable, failing open",
				"tier", string(tier), "key", key, "error", err)
			metrics.RecordRateLimitDegraded(string(tier))
			decision.Degraded = true
			continue
		}

		remaining := limit.Requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		bucketEnd := (bucket + 1) * windowMs
		status := TierStatus{
			Tier:      tier,
			Limit:     limit.Requests,
			Remaining: remaining,
			Reset:     time.UnixMilli(bucketEnd),
		}
		decision.Tiers = append(decision.Tiers, status)

		if count > int64(limit.Requests) {
			decision.Allowed = false
			decision.RejectedTier = tier
			retryMs := bucketEnd - now.UnixMilli()
			decision.RetryAfter = int((retryMs + 999) / 1000)
			if decision.RetryAfter < 1 {
				decision.RetryAfter = 1
			}
			metrics.RecordRateLimitRejection(string(tier))
			return decision
		}
	}

	return decision
}

// Degraded reports whether the most recent check skipped any tier because
// of a store fault. The flag reflects the finished decision, so one healthy
// tier after a failed one does not clear it.
func (l *Limiter) Degraded() bool {
	return l.degraded.Load()
}

// tierParams resolves the identity and quota for one tier, reporting
// ok=false when the tier does not apply to this request.
func (l *Limiter) tierParams(tier Tier, id Identity) (string, Limit, bool) {
	switch tier {
	case TierGlobal:
		if id.ClientIP == "" {
			return "", Limit{}, false
		}
		return id.ClientIP, l.cfg.Global, true
	case TierTenant:
		if id.TenantID == "" {
			return "", Limit{}, false
		}
		limit, ok := l.cfg.TenantTiers[id.SubscriptionTier]
		if !ok {
			limit = l.cfg.TenantDefault
		}
		return id.TenantID, limit, true
	case TierUser:
		if id.UserID == "" {
			return "", Limit{}, false
		}
		return id.UserID, l.cfg.User, true
	case TierEndpoint:
		if id.Endpoint == "" {
			return "", Limit{}, false
		}
		limit, ok := l.cfg.Endpoints[id.Endpoint]
		if !ok {
			return "", Limit{}, false
		}
		return id.Endpoint + ":" + id.UserID, limit, true
	}
	return "", Limit{}, false
}
