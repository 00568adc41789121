package http

import (
	"net/http"
	"os"
	"strings"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/pkg/authsdk"
)

// EnvRedirectURI overrides the configured default redirect URI at request
// time.
const EnvRedirectURI = "FEDERATED_REDIRECT_URI"

// Param names the places an optional request value may come from. Empty
// fields are skipped.
type Param struct {
	Header  string
	Env     string
	Default string
}

// Params resolves optional request values in the order body, header,
// environment, default.
type Params struct {
	DefaultRedirectURI string

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Resolve returns the first non-empty value for p.
func (p *Params) Resolve(r *http.Request, body string, param Param) string {
	if v := strings.TrimSpace(body); v != "" {
		return v
	}
	if param.Header != "" {
		if v := strings.TrimSpace(r.Header.Get(param.Header)); v != "" {
			return v
		}
	}
	if param.Env != "" {
		if v := strings.TrimSpace(p.getenv(param.Env)); v != "" {
			return v
		}
	}
	return param.Default
}

// AuthRedirectURI is the redirect URI used to start a provider login.
func (p *Params) AuthRedirectURI(r *http.Request, body string) string {
	return p.Resolve(r, body, Param{
		Header:  authsdk.HeaderRedirectURI,
		Env:     EnvRedirectURI,
		Default: p.DefaultRedirectURI,
	})
}

// CallbackRedirectURI is optional on the callback: when absent the stored
// value of the authorization request is used.
func (p *Params) CallbackRedirectURI(r *http.Request, body string) string {
	return p.Resolve(r, body, Param{Header: authsdk.HeaderRedirectURI})
}

// ProviderSession reads the caller's provider tokens.
func (p *Params) ProviderSession(r *http.Request, accessToken, refreshToken string) domain.ProviderSession {
	return domain.ProviderSession{
		AccessToken:  p.Resolve(r, accessToken, Param{Header: authsdk.HeaderProviderAccessToken}),
		RefreshToken: p.Resolve(r, refreshToken, Param{Header: authsdk.HeaderProviderRefresh}),
	}
}

func (p *Params) getenv(key string) string {
	if p.Getenv != nil {
		return p.Getenv(key)
	}
	return os.Getenv(key)
}
