package ratelimit

import "strings"

// GlobalTenant is the tenant used for limits shared by every user.
const GlobalTenant = "__global__"

var tenantEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// Key derives the composite key for a (tenant, resource) pair.
//
// The tenant is escaped so that the first unescaped colon always ends it:
// distinct pairs never share a key and TenantPrefix matches exactly one tenant.
func Key(tenant, resource string) string {
	return TenantPrefix(tenant) + resource
}

// TenantPrefix returns the prefix shared by every key of a tenant.
func TenantPrefix(tenant string) string {
	return tenantEscaper.Replace(tenant) + ":"
}

// TierResource returns the resource name used for a tier-wide limit.
func TierResource(tier string) string {
	return "tier-" + tier
}
