package httpx

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/vaultgate/pkg/cryptox"
	"github.com/aussiebroadwan/vaultgate/pkg/jwtx"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
)

// HeaderAPIKey carries the static service API key.
const HeaderAPIKey = "X-API-Key"

// AuthMode selects which credentials an endpoint accepts.
type AuthMode int

const (
	// AuthBearerOrAPIKey accepts a bearer token, or an API key when no
	// Authorization header is present.
	AuthBearerOrAPIKey AuthMode = iota
	// AuthBearerOnly rejects API-key callers.
	AuthBearerOnly
	// AuthAPIKeyOnly rejects bearer callers.
	AuthAPIKeyOnly
	// AuthBearerAndAPIKey requires both credentials on the same request.
	AuthBearerAndAPIKey
)

func (m AuthMode) String() string {
	switch m {
	case AuthBearerOnly:
		return "bearer"
	case AuthAPIKeyOnly:
		return "api_key"
	case AuthBearerAndAPIKey:
		return "bearer+api_key"
	default:
		return "bearer|api_key"
	}
}

// TokenVerifier checks a session token. jwtx.Codec satisfies it.
type TokenVerifier interface {
	Verify(token string) (*jwtx.Claims, error)
}

// Authenticator is the credential verifier shared by all protected routes.
type Authenticator struct {
	verifier TokenVerifier
	apiKey   string
}

// NewAuthenticator builds an Authenticator. An empty apiKey disables API-key
// authentication entirely: every presented key is rejected.
func NewAuthenticator(v TokenVerifier, apiKey string) *Authenticator {
	return &Authenticator{verifier: v, apiKey: apiKey}
}

// authnFailure is a rejection with the code reported to the client.
type authnFailure struct {
	code    string
	message string
}

var (
	failMissing      = &authnFailure{"missing_credentials", "authentication required"}
	failMalformed    = &authnFailure{"malformed_credential", "authorization header must be 'Bearer <token>'"}
	failInvalidToken = &authnFailure{"invalid_token", "invalid or expired token"}
	failInvalidKey   = &authnFailure{"invalid_api_key", "invalid api key"}
)

// Middleware returns a middleware enforcing mode.
func (a *Authenticator) Middleware(mode AuthMode) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, fail := a.authenticate(r, mode)
			if fail != nil {
				slogx.FromContext(r.Context()).Info("authentication rejected",
					"mode", mode.String(),
					"code", fail.code,
				)
				writeAuthnError(w, fail)
				return
			}

			ctx := WithPrincipal(r.Context(), p)
			ctx = slogx.With(ctx, "principal", principalLabel(p))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request, mode AuthMode) (Principal, *authnFailure) {
	authz := r.Header.Get("Authorization")
	key := r.Header.Get(HeaderAPIKey)

	switch mode {
	case AuthBearerOnly:
		if authz == "" {
			return Principal{}, failMissing
		}
		return a.bearer(authz)

	case AuthAPIKeyOnly:
		if key == "" {
			return Principal{}, failMissing
		}
		return a.key(key)

	case AuthBearerAndAPIKey:
		if authz == "" || key == "" {
			return Principal{}, failMissing
		}
		if _, fail := a.key(key); fail != nil {
			return Principal{}, fail
		}
		p, fail := a.bearer(authz)
		if fail != nil {
			return Principal{}, fail
		}
		p.APIKey = true
		return p, nil

	default:
		if authz != "" {
			return a.bearer(authz)
		}
		if key != "" {
			return a.key(key)
		}
		return Principal{}, failMissing
	}
}

func (a *Authenticator) bearer(header string) (Principal, *authnFailure) {
	raw, ok := ParseBearer(header)
	if !ok {
		return Principal{}, failMalformed
	}

	claims, err := a.verifier.Verify(raw)
	if err != nil {
		return Principal{}, failInvalidToken
	}

	return Principal{
		Subject: claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
		Method:  MethodBearer,
	}, nil
}

func (a *Authenticator) key(given string) (Principal, *authnFailure) {
	if !cryptox.EqualSecret(given, a.apiKey) {
		return Principal{}, failInvalidKey
	}
	return Principal{Method: MethodAPIKey, APIKey: true}, nil
}

// ParseBearer splits an Authorization header that must be exactly
// "Bearer <token>".
func ParseBearer(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func principalLabel(p Principal) string {
	if p.Subject != "" {
		return p.Subject
	}
	return p.Method
}

// RFC 6750 style challenge plus the JSON error envelope.
func writeAuthnError(w http.ResponseWriter, fail *authnFailure) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+fail.message+`"`)
	WriteError(w, http.StatusUnauthorized, KindAuthenticationFailure, fail.code, fail.message)
}
