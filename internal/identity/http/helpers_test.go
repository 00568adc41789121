package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/challenge"
	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/idp"
	"github.com/aussiebroadwan/vaultgate/internal/identity/service"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store/drivers/sqlite"
	"github.com/aussiebroadwan/vaultgate/pkg/authsdk"
	"github.com/aussiebroadwan/vaultgate/pkg/cryptox"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
	"github.com/aussiebroadwan/vaultgate/pkg/idx"
	"github.com/aussiebroadwan/vaultgate/pkg/jwtx"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey      = "service-api-key"
	testPassword    = "correct-horse-battery"
	testRedirectURI = "https://app.example/federated/callback"
	testPortalURL   = "https://idp.example/portal"
)

var providerSession = authsdk.ProviderSession{AccessToken: "provider-at", RefreshToken: "provider-rt"}

type fakeProvider struct {
	mu         sync.Mutex
	profile    domain.ProviderProfile
	identities map[string]string
}

func (p *fakeProvider) AuthCodeURL(verifier, nonce, redirectURI string) string {
	return "https://idp.example/authorize?state=" + nonce + "&redirect_uri=" + redirectURI
}

func (p *fakeProvider) Exchange(_ context.Context, code, _, _, _ string) (domain.ProviderSession, domain.ProviderProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code != "good-code" {
		return domain.ProviderSession{}, domain.ProviderProfile{}, idp.ErrExchange
	}
	return domain.ProviderSession{AccessToken: providerSession.AccessToken, RefreshToken: providerSession.RefreshToken}, p.profile, nil
}

func (p *fakeProvider) ValidateSession(_ context.Context, s domain.ProviderSession) (domain.ProviderProfile, domain.ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.AccessToken != providerSession.AccessToken {
		return domain.ProviderProfile{}, domain.ProviderSession{}, idp.ErrSessionExpired
	}
	return p.profile, s, nil
}

func (p *fakeProvider) LookupIdentity(_ context.Context, number string) (domain.IdentityStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.identities[number]
	if !ok {
		status = domain.IdentityNotFound
	}
	return domain.IdentityStatus{IdentityNumber: number, Status: status}, nil
}

func (p *fakeProvider) setIdentity(number, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities[number] = status
}

type fakeWallets struct{}

func (fakeWallets) GetOrCreateWallet(_ context.Context, _, userID string) (string, error) {
	return "0xwallet-" + userID, nil
}

type testEnv struct {
	router   *Router
	store    *sqlite.Store
	codec    *jwtx.Codec
	hasher   *cryptox.PasswordHasher
	provider *fakeProvider
	registry *prometheus.Registry
}

type envOption func(*envConfig)

type envConfig struct {
	authLimit httpx.RateLimitConfig
}

func withAuthLimit(max int) envOption {
	return func(c *envConfig) { c.authLimit.MaxRequests = max }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{authLimit: httpx.RateLimitConfig{Window: time.Minute, MaxRequests: 1000}}
	for _, o := range opts {
		o(&cfg)
	}

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.ApplyMigrations()
	require.NoError(t, err)

	codec, err := jwtx.NewCodec([]byte("0123456789abcdef0123456789abcdef"), "vaultgate-test")
	require.NoError(t, err)

	provider := &fakeProvider{
		profile: domain.ProviderProfile{
			ExternalID:     "idp|alice",
			Email:          "alice@example.com",
			Name:           "Alice",
			EmailVerified:  true,
			IdentityNumber: "ID-0001",
		},
		identities: map[string]string{"ID-0001": domain.IdentityActive},
	}
	hasher := cryptox.NewPasswordHasher("test-pepper")
	challenges := challenge.NewMemoryStore(challenge.LockoutConfig{MaxAttempts: 3, Window: time.Minute})

	mfa := &service.MFAService{
		Store: st,
		Authority: &service.TOTPAuthority{
			Store:      st,
			Challenges: challenges,
			Issuer:     "Vaultgate",
		},
		Attempts: challenges,
		Provider: provider,
		Tokens:   codec,
	}

	registry := prometheus.NewRegistry()
	r := NewRouter(
		httpx.NewAuthenticator(codec, testAPIKey),
		httpx.NewMetrics("vaultgate", registry),
		httpx.NewFixedWindowLimiter(httpx.RateLimitConfig{Window: time.Minute, MaxRequests: 1000}),
		httpx.NewFixedWindowLimiter(cfg.authLimit),
		st,
		challenges,
		"test",
		slogx.Discard(),
	)
	r.Params = &Params{
		DefaultRedirectURI: testRedirectURI,
		Getenv:             func(string) string { return "" },
	}
	r.LoginService = &service.LoginService{Store: st, Hasher: hasher, Tokens: codec, MFA: mfa}
	r.MFAService = mfa
	r.FederatedService = &service.FederatedService{
		Store:     st,
		Provider:  provider,
		Wallets:   fakeWallets{},
		Tokens:    codec,
		MFA:       mfa,
		PortalURL: testPortalURL,
	}
	r.UserService = &service.UserService{Store: st, Hasher: hasher}
	r.ApplyRoutes()

	return &testEnv{
		router:   r,
		store:    st,
		codec:    codec,
		hasher:   hasher,
		provider: provider,
		registry: registry,
	}
}

// do sends body as JSON. A string body is sent verbatim.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedUser(t *testing.T, email string, role domain.Role) domain.User {
	t.Helper()

	hash, err := e.hasher.Hash(testPassword)
	require.NoError(t, err)

	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if email == e.provider.profile.Email {
		u.ExternalID = e.provider.profile.ExternalID
	}
	require.NoError(t, e.store.Users().CreateUser(context.Background(), u))
	return u
}

func (e *testEnv) bearer(t *testing.T, u domain.User) map[string]string {
	t.Helper()

	token, err := e.codec.Issue(u.ID, u.Email, u.Role.String())
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func withProviderSession(h map[string]string) map[string]string {
	out := map[string]string{
		authsdk.HeaderProviderAccessToken: providerSession.AccessToken,
		authsdk.HeaderProviderRefresh:     providerSession.RefreshToken,
	}
	for k, v := range h {
		out[k] = v
	}
	return out
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind, code string) {
	t.Helper()

	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[authsdk.ErrorResponse](t, rec)
	require.False(t, body.Success)
	require.Equal(t, kind, body.Error)
	if code != "" {
		require.Equal(t, code, body.Code)
	}
}

func totpCode(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

// enroll runs POST /mfa/enroll for u and returns the secret.
func (e *testEnv) enroll(t *testing.T, u domain.User) authsdk.MFAEnrollResponse {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/mfa/enroll", authsdk.MFAEnrollRequest{FriendlyName: "phone"}, withProviderSession(e.bearer(t, u)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[authsdk.MFAEnrollResponse](t, rec)
}

func wrongCode(t *testing.T, secret string) string {
	t.Helper()

	valid := map[string]bool{}
	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		c, err := totp.GenerateCode(secret, time.Now().Add(offset))
		require.NoError(t, err)
		valid[c] = true
	}
	for _, candidate := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[candidate] {
			return candidate
		}
	}
	t.Fatal("no wrong code available")
	return ""
}
