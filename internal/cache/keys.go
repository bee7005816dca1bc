package cache

// Key builders for every cached entity type. Keeping them here (rather than
// in the packages that cache the entities) keeps every key family and its
// TTL class visible in one file.
//
//	tenant:{id}                     TTLMedium
//	tenant-context:{tenant}:{user}  TTLMedium
//	memberships:{tenant}            TTLShort
//	operation:{id}                  TTLTerminal (terminal) / TTLVolatile (running)
//	analytics:{tenant}:{period}     TTLPeriod

// TenantKey is the cache key for a tenant record.
func TenantKey(tenantID string) string {
	return "tenant:" + tenantID
}

// TenantContextKey is the cache key for the authorized context of a
// (tenant, principal) pair.
func TenantContextKey(tenantID, principalID string) string {
	return "tenant-context:" + tenantID + ":" + principalID
}

// MembershipKey is the cache key for a tenant's membership list.
func MembershipKey(tenantID string) string {
	return "memberships:" + tenantID
}

// OperationKey is the cache key for a long-running operation record.
func OperationKey(operationID string) string {
	return "operation:" + operationID
}

// AnalyticsKey is the cache key for a tenant analytics snapshot scoped to a
// requested time period (e.g. "7d", "30d").
func AnalyticsKey(tenantID, period string) string {
	return "analytics:" + tenantID + ":" + period
}

// TenantInvalidation is the eviction set for a tenant record mutation:
// the record itself plus every derived entry (contexts, memberships,
// analytics) computed from it.
func TenantInvalidation(tenantID string) Invalidation {
	return Invalidation{
		Keys: []string{TenantKey(tenantID), MembershipKey(tenantID)},
		Patterns: []string{
			"tenant-context:" + tenantID + ":*",
			"analytics:" + tenantID + ":*",
		},
	}
}

// MembershipInvalidation is the eviction set for a membership mutation:
// the membership list and the affected principal's cached context.
func MembershipInvalidation(tenantID, principalID string) Invalidation {
	return Invalidation{
		Keys: []string{
			MembershipKey(tenantID),
			TenantContextKey(tenantID, principalID),
		},
	}
}

// TenantFlushInvalidation is the administrator-triggered full-tenant flush:
// every key scoped to the tenant across all families.
func TenantFlushInvalidation(tenantID string) Invalidation {
	return Invalidation{
		Keys: []string{TenantKey(tenantID), MembershipKey(tenantID)},
		Patterns: []string{
			"tenant-context:" + tenantID + ":*",
			"analytics:" + tenantID + ":*",
		},
	}
}
