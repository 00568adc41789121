// Package idptest runs an in-process OpenID Connect provider for tests. It
// supports the authorization-code grant with S256 PKCE, refresh, client
// credentials, userinfo, JWKS and the eligibility lookup.
package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/idp"
	"github.com/aussiebroadwan/vaultgate/pkg/cryptox"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	ClientID     = "vaultgate-test"
	ClientSecret = "vaultgate-test-secret"
)

type pendingCode struct {
	email       string
	challenge   string
	nonce       string
	redirectURI string
}

type grant struct {
	email     string
	expiresAt time.Time
}

type Server struct {
	*httptest.Server

	key jwk.Key
	set jwk.Set

	mu            sync.Mutex
	users         map[string]domain.ProviderProfile
	identities    map[string]string
	codes         map[string]pendingCode
	access        map[string]grant
	refresh       map[string]string
	service       map[string]struct{}
	failLookups   bool
	omitRefresh   bool
	lookupCalls   int
	exchangeCalls int
	jwksCalls     int
}

// New starts a provider and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	_ = key.Set(jwk.KeyIDKey, "idptest-1")
	_ = key.Set(jwk.AlgorithmKey, jwa.RS256)

	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("add key: %v", err)
	}

	s := &Server{
		key:        key,
		set:        set,
		users:      make(map[string]domain.ProviderProfile),
		identities: make(map[string]string),
		codes:      make(map[string]pendingCode),
		access:     make(map[string]grant),
		refresh:    make(map[string]string),
		service:    make(map[string]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("GET /userinfo", s.handleUserInfo)
	mux.HandleFunc("GET /jwks", s.handleJWKS)
	mux.HandleFunc("GET /identity", s.handleLookup)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Config points an idp.Config at this server.
func (s *Server) Config() idp.Config {
	return idp.Config{
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		Issuer:       s.URL,
		AuthURL:      s.URL + "/authorize",
		TokenURL:     s.URL + "/token",
		UserInfoURL:  s.URL + "/userinfo",
		JWKSURL:      s.URL + "/jwks",
		LookupURL:    s.URL + "/identity",
		Timeout:      5 * time.Second,
		HTTPClient:   s.Client(),
	}
}

// AddUser registers a provider account. When the profile has an identity
// number it is recorded with the given lookup status.
func (s *Server) AddUser(p domain.ProviderProfile, identityStatus string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.Email = domain.NormalizeEmail(p.Email)
	s.users[p.Email] = p
	if p.IdentityNumber != "" && identityStatus != "" {
		s.identities[p.IdentityNumber] = identityStatus
	}
}

// SetIdentityStatus changes what the eligibility lookup reports.
func (s *Server) SetIdentityStatus(identityNumber, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[identityNumber] = status
}

// FailLookups makes the eligibility endpoint answer 500.
func (s *Server) FailLookups(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLookups = fail
}

// OmitRefreshToken stops refresh responses from rotating the refresh token.
func (s *Server) OmitRefreshToken(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitRefresh = omit
}

// Authorize plays the user consenting at authURL and returns the
// authorization code the provider would redirect back with.
func (s *Server) Authorize(t testing.TB, authURL, email string) string {
	t.Helper()

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != ClientID {
		t.Fatalf("unexpected client_id %q", q.Get("client_id"))
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Fatalf("unexpected code_challenge_method %q", q.Get("code_challenge_method"))
	}

	code, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = pendingCode{
		email:       domain.NormalizeEmail(email),
		challenge:   q.Get("code_challenge"),
		nonce:       q.Get("nonce"),
		redirectURI: q.Get("redirect_uri"),
	}
	return code
}

// ExpireAccessTokens invalidates every issued access token so the next
// session check has to refresh.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.access {
		delete(s.access, k)
	}
}

// RevokeRefreshTokens invalidates every refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.refresh {
		delete(s.refresh, k)
	}
}

func (s *Server) LookupCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupCalls
}

func (s *Server) ExchangeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeCalls
}

func (s *Server) JWKSCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jwksCalls
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if id != ClientID || secret != ClientSecret {
		tokenError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchangeCalls++
		code := r.PostForm.Get("code")
		pending, ok := s.codes[code]
		if !ok {
			tokenError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		delete(s.codes, code)

		if !cryptox.VerifyS256(r.PostForm.Get("code_verifier"), pending.challenge) ||
			r.PostForm.Get("redirect_uri") != pending.redirectURI {
			tokenError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		user, ok := s.users[pending.email]
		if !ok {
			tokenError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		idToken, err := s.signIDToken(user, pending.nonce)
		if err != nil {
			tokenError(w, http.StatusInternalServerError, "server_error")
			return
		}
		s.writeTokens(w, user.Email, idToken, true)

	case "refresh_token":
		email, ok := s.refresh[r.PostForm.Get("refresh_token")]
		if !ok {
			tokenError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		rotate := !s.omitRefresh
		if rotate {
			delete(s.refresh, r.PostForm.Get("refresh_token"))
		}
		s.writeTokens(w, email, "", rotate)

	case "client_credentials":
		token, _ := cryptox.GenerateToken(cryptox.TokenSize128)
		s.service[token] = struct{}{}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})

	default:
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

// writeTokens must be called with s.mu held.
func (s *Server) writeTokens(w http.ResponseWriter, email, idToken string, withRefresh bool) {
	access, _ := cryptox.GenerateToken(cryptox.TokenSize128)
	s.access[access] = grant{email: email, expiresAt: time.Now().Add(time.Hour)}

	body := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if withRefresh {
		refresh, _ := cryptox.GenerateToken(cryptox.TokenSize128)
		s.refresh[refresh] = email
		body["refresh_token"] = refresh
	}
	if idToken != "" {
		body["id_token"] = idToken
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) signIDToken(user domain.ProviderProfile, nonce string) (string, error) {
	now := time.Now()
	b := jwt.NewBuilder().
		Issuer(s.URL).
		Subject(user.ExternalID).
		Audience([]string{ClientID}).
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("nonce", nonce).
		Claim("email", user.Email).
		Claim("email_verified", user.EmailVerified)
	if user.IdentityNumber != "" {
		b = b.Claim(idp.DefaultIdentityClaim, user.IdentityNumber)
	}

	tok, err := b.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, s.key))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.access[token]
	if !ok || time.Now().After(g.expiresAt) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	user := s.users[g.email]
	writeJSON(w, http.StatusOK, map[string]any{
		"sub":                    user.ExternalID,
		"email":                  user.Email,
		"email_verified":         user.EmailVerified,
		"name":                   user.Name,
		"picture":                user.PictureURL,
		idp.DefaultIdentityClaim: user.IdentityNumber,
	})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.jwksCalls++
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.set)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupCalls++

	if _, ok := s.service[token]; !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if s.failLookups {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	number := r.URL.Query().Get("identity_number")
	status, ok := s.identities[number]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"identityNumber": number,
		"status":         status,
	})
}

func tokenError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
