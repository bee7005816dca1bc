package access

// Role is a named set of permissions within a tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Permission tokens guarded by the edge routes.
const (
	PermTenantRead      = "tenant:read"
	PermTenantUpdate    = "tenant:update"
	PermTenantSwitch    = "tenant:switch"
	PermMembersRead     = "members:read"
	PermMembersInvite   = "members:invite"
	PermMembersRemove   = "members:remove"
	PermMembersBulk     = "members:bulk"
	PermOperationsRead  = "operations:read"
	PermOperationsStart = "operations:initiate"
	PermOperationsStop  = "operations:cancel"
	PermAnalyticsRead   = "analytics:read"
	PermBillingRead     = "billing:read"
	PermBillingManage   = "billing:manage"
	PermCacheFlush      = "cache:flush"
)

// RolePermissions is the static role expansion table. Wildcards are allowed
// here and resolve through the canonical Token matcher.
var RolePermissions = map[Role][]string{
	RoleOwner: {
		"tenant:*", "members:*", "operations:*", "analytics:*", "billing:*", PermCacheFlush,
	},
	RoleAdmin: {
		"tenant:*", "members:*", "operations:*", PermAnalyticsRead, PermBillingRead, PermCacheFlush,
	},
	RoleMember: {
		PermTenantRead, PermTenantSwitch,
		PermMembersRead,
		PermOperationsRead, PermOperationsStart, PermOperationsStop,
		PermAnalyticsRead,
	},
	RoleViewer: {
		PermTenantRead,
		PermMembersRead,
		PermOperationsRead,
	},
}

// ValidRole returns true if the role is a known predefined role.
func ValidRole(r Role) bool {
	_, ok := RolePermissions[r]
	return ok
}

// ExpandRoles flattens a role list through the static table. Unknown roles
// expand to nothing.
func ExpandRoles(roles []string) []string {
	var out []string
	for _, r := range roles {
		out = append(out, RolePermissions[Role(r)]...)
	}
	return out
}
