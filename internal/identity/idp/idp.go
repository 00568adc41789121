// Package idp talks to the external OpenID Connect identity provider: the
// authorization-code exchange with PKCE, id_token verification, provider
// session validation and the eligibility lookup.
package idp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
)

var (
	// ErrExchange means the provider rejected the authorization code.
	ErrExchange = errors.New("idp: code exchange rejected")

	ErrInvalidIDToken = errors.New("idp: invalid id_token")

	// ErrSessionExpired means neither the access token nor the refresh
	// token is accepted any more.
	ErrSessionExpired = errors.New("idp: provider session expired")

	ErrUnavailable = errors.New("idp: provider unavailable")
)

// Provider is the identity provider as seen by the federated login flow.
type Provider interface {
	// AuthCodeURL builds the authorization URL for an S256 PKCE request.
	// The nonce doubles as the OAuth state.
	AuthCodeURL(verifier, nonce, redirectURI string) string

	// Exchange trades an authorization code for a provider session and the
	// verified profile of the authenticated user.
	Exchange(ctx context.Context, code, verifier, nonce, redirectURI string) (domain.ProviderSession, domain.ProviderProfile, error)

	// ValidateSession proves the caller still holds a live provider
	// session. The returned session differs from the input when a refresh
	// happened.
	ValidateSession(ctx context.Context, session domain.ProviderSession) (domain.ProviderProfile, domain.ProviderSession, error)

	// LookupIdentity asks the provider whether an identity number belongs
	// to an active, verified person.
	LookupIdentity(ctx context.Context, identityNumber string) (domain.IdentityStatus, error)
}

// DefaultIdentityClaim is where the provider puts the identity number.
const DefaultIdentityClaim = "identity_number"

type Config struct {
	ClientID     string
	ClientSecret string
	Issuer       string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
	JWKSURL     string
	LookupURL   string

	Scopes        []string
	IdentityClaim string

	// Timeout bounds every outbound call.
	Timeout time.Duration

	// RequestsPerSecond and Burst pace outbound calls.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.IdentityClaim == "" {
		c.IdentityClaim = DefaultIdentityClaim
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"openid", "email", "profile"}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.ClientID == "":
		return errors.New("idp: client id is required")
	case c.AuthURL == "" || c.TokenURL == "":
		return errors.New("idp: auth and token urls are required")
	case c.UserInfoURL == "":
		return errors.New("idp: userinfo url is required")
	case c.JWKSURL == "":
		return errors.New("idp: jwks url is required")
	case c.LookupURL == "":
		return errors.New("idp: lookup url is required")
	}
	return nil
}
