package domain

import "slices"

// Role is carried in the session token and checked by RequireRole.
type Role string

const (
	RoleRoot     Role = "root"
	RoleAdmin    Role = "admin"
	RoleSupport  Role = "support"
	RoleInvestor Role = "investor"
)

// Roles lists every valid role, most privileged first.
var Roles = []Role{RoleRoot, RoleAdmin, RoleSupport, RoleInvestor}

func (r Role) Valid() bool { return slices.Contains(Roles, r) }

func (r Role) String() string { return string(r) }

// RoleNames converts roles for middleware that works on plain strings.
func RoleNames(roles ...Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
