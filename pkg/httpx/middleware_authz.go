package httpx

import (
	"net/http"
	"slices"
)

// RequireRole admits principals whose role is one of roles. A principal
// without role information (API-key callers) is rejected with its own code,
// so role-gated routes must also require bearer authentication.
func RequireRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok || p.Role == "" {
				WriteError(w, http.StatusForbidden, KindAuthorizationFailure,
					"missing_role", "principal has no role")
				return
			}

			if !slices.Contains(roles, p.Role) {
				WriteError(w, http.StatusForbidden, KindAuthorizationFailure,
					"role_not_permitted", "role not permitted")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
