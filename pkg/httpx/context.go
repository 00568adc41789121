package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserID    ctxKey = "user_id"
	CtxKeyPrincipal ctxKey = "principal"
)

// Authentication methods recorded on a Principal.
const (
	MethodBearer = "bearer"
	MethodAPIKey = "api_key"
)

// Principal is the authenticated caller attached by the credential verifier.
// API-key callers have no Subject, Email or Role.
type Principal struct {
	Subject string
	Email   string
	Role    string
	Method  string

	// APIKey is set when a valid API key accompanied the request, including
	// when a bearer token was the primary credential.
	APIKey bool
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, CtxKeyPrincipal, p)
	if p.Subject != "" {
		ctx = context.WithValue(ctx, CtxKeyUserID, p.Subject)
	}
	return ctx
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(CtxKeyPrincipal).(Principal)
	return p, ok
}

// UserIDFromContext returns the bearer subject, or "" for anonymous and
// API-key callers.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyUserID).(string); ok {
		return v
	}
	return ""
}
