package identity_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/app"
	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/idp/idptest"
	"github.com/aussiebroadwan/vaultgate/pkg/authsdk"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * End-to-end tests run the identity service in-process against a Redis
 * container, the in-process identity provider and a fake wallet service.
 */

const (
	redisImage = "redis:7-alpine"

	apiKey       = "e2e-service-api-key"
	rootEmail    = "root@example.com"
	rootPassword = "root-password-123"
	redirectURI  = "https://app.example/federated/callback"
	portalURL    = "https://idp.example/portal"
)

type stack struct {
	client   *authsdk.Client
	provider *idptest.Server
	wallets  *fakeWallets
}

// setupRedisContainer starts Redis and returns its URL.
func setupRedisContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, mappedPort.Port())
}

// setupStack wires the service to Redis, the provider and the wallet fake.
func setupStack(t *testing.T) *stack {
	t.Helper()
	if testing.Short() {
		t.Skip("e2e tests need docker, skipped in -short mode")
	}

	redisURL := setupRedisContainer(t)
	provider := idptest.New(t)
	wallets := newFakeWallets(t)
	providerCfg := provider.Config()

	dir := t.TempDir()
	cfg := app.Config{
		JWTSecret:    "e2e-secret-e2e-secret-e2e-secret",
		JWTIssuer:    "vaultgate-e2e",
		APIKey:       apiKey,
		DatabaseFile: filepath.Join(dir, "identity.db"),
		PepperFile:   filepath.Join(dir, "pepper"),
		RedisURL:     redisURL,
		RootEmail:    rootEmail,
		RootPassword: rootPassword,

		IdPClientID:     providerCfg.ClientID,
		IdPClientSecret: providerCfg.ClientSecret,
		IdPIssuer:       providerCfg.Issuer,
		IdPAuthURL:      providerCfg.AuthURL,
		IdPTokenURL:     providerCfg.TokenURL,
		IdPUserInfoURL:  providerCfg.UserInfoURL,
		IdPJWKSURL:      providerCfg.JWKSURL,
		IdPLookupURL:    providerCfg.LookupURL,
		IdPPortalURL:    portalURL,

		DefaultRedirectURI: redirectURI,

		WalletURL:    wallets.URL,
		WalletAPIKey: "wallet-key",

		UpstreamTimeout: 5 * time.Second,
		UpstreamRPS:     100,

		// Tests make many rapid requests from one address
		GlobalRateLimit: httpx.RateLimitConfig{Window: time.Minute, MaxRequests: 1000},
		AuthRateLimit:   httpx.RateLimitConfig{Window: time.Minute, MaxRequests: 1000},

		LogLevel:            "warn",
		LogFormat:           "text",
		ShutdownGracePeriod: time.Second,
	}
	require.NoError(t, cfg.Validate())

	application, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(srv.Close)

	client := authsdk.NewClient(srv.URL)
	client.APIKey = apiKey

	return &stack{client: client, provider: provider, wallets: wallets}
}

// addInvestor registers an eligible provider identity.
func (s *stack) addInvestor(email, identityNumber string) {
	s.provider.AddUser(domain.ProviderProfile{
		ExternalID:     "idp|" + email,
		Email:          email,
		Name:           "Investor " + identityNumber,
		EmailVerified:  true,
		IdentityNumber: identityNumber,
	}, domain.IdentityActive)
}

// providerLogin runs auth-url, the provider consent and returns the body the
// client posts back.
func (s *stack) providerLogin(t *testing.T, email string) authsdk.CallbackRequest {
	t.Helper()

	authResp, err := s.client.FederatedAuthURL(t.Context(), "")
	require.NoError(t, err)

	code := s.provider.Authorize(t, authResp.AuthURL, email)
	return authsdk.CallbackRequest{
		Code:         code,
		CodeVerifier: authResp.CodeVerifier,
		Nonce:        authResp.Nonce,
	}
}

// register runs a full first-time federated sign-up.
func (s *stack) register(t *testing.T, email string) *authsdk.LoginResponse {
	t.Helper()

	cb, err := s.client.FederatedCallback(t.Context(), s.providerLogin(t, email))
	require.NoError(t, err)
	require.True(t, cb.RequiresTermsAcceptance)
	require.NotNil(t, cb.SessionData)

	reg, err := s.client.CompleteRegistration(t.Context(), authsdk.CompleteRegistrationRequest{
		UserData:      cb.UserData,
		SessionData:   *cb.SessionData,
		TermsAccepted: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, reg.Token)
	require.NotNil(t, reg.Session)
	return reg
}

func totpNow(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

// fakeWallets is the wallet service. Creation is idempotent per user.
type fakeWallets struct {
	*httptest.Server

	mu      sync.Mutex
	byUser  map[string]string
	creates int
	failing bool
}

// setFailing makes every wallet call answer 503.
func (f *fakeWallets) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *fakeWallets) down(w http.ResponseWriter) bool {
	if f.failing {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	return f.failing
}

func newFakeWallets(t *testing.T) *fakeWallets {
	t.Helper()

	f := &fakeWallets{byUser: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/wallets", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.down(w) {
			return
		}

		data := []map[string]string{}
		if addr, ok := f.byUser[r.URL.Query().Get("userId")]; ok {
			data = append(data, map[string]string{"address": addr})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	})
	mux.HandleFunc("POST /v1/wallets", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.down(w) {
			return
		}
		f.creates++
		addr, ok := f.byUser[req.UserID]
		if !ok {
			addr = fmt.Sprintf("0x%040d", f.creates)
			f.byUser[req.UserID] = addr
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"userId": req.UserID, "address": addr}})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}
