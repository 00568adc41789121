package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/challenge"
	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/idp"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store/drivers/sqlite"
	"github.com/aussiebroadwan/vaultgate/pkg/cryptox"
	"github.com/aussiebroadwan/vaultgate/pkg/idx"
	"github.com/aussiebroadwan/vaultgate/pkg/jwtx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const (
	testPassword = "correct-horse-battery"
	portalURL    = "https://idp.example/portal"
	callbackURI  = "https://app.example/federated/callback"
)

var liveSession = domain.ProviderSession{AccessToken: "provider-at", RefreshToken: "provider-rt"}

// fakeProvider is a scriptable idp.Provider.
type fakeProvider struct {
	mu          sync.Mutex
	profile     domain.ProviderProfile
	exchangeErr error
	sessionErr  error
	identities  map[string]string
	lookupErr   error
	exchanges   int
}

func (p *fakeProvider) AuthCodeURL(verifier, nonce, redirectURI string) string {
	return "https://idp.example/authorize?state=" + nonce +
		"&code_challenge=" + cryptox.FingerprintToken(verifier) +
		"&redirect_uri=" + redirectURI
}

func (p *fakeProvider) Exchange(_ context.Context, code, _, _, _ string) (domain.ProviderSession, domain.ProviderProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges++
	if p.exchangeErr != nil {
		return domain.ProviderSession{}, domain.ProviderProfile{}, p.exchangeErr
	}
	if code == "" {
		return domain.ProviderSession{}, domain.ProviderProfile{}, idp.ErrExchange
	}
	return liveSession, p.profile, nil
}

func (p *fakeProvider) ValidateSession(_ context.Context, s domain.ProviderSession) (domain.ProviderProfile, domain.ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return domain.ProviderProfile{}, domain.ProviderSession{}, p.sessionErr
	}
	return p.profile, s, nil
}

func (p *fakeProvider) LookupIdentity(_ context.Context, number string) (domain.IdentityStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return domain.IdentityStatus{}, p.lookupErr
	}
	status, ok := p.identities[number]
	if !ok {
		status = domain.IdentityNotFound
	}
	return domain.IdentityStatus{IdentityNumber: number, Status: status}, nil
}

type fakeWallets struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (w *fakeWallets) GetOrCreateWallet(_ context.Context, _, userID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return "", w.err
	}
	return "0xwallet-" + userID, nil
}

type testEnv struct {
	store     *sqlite.Store
	provider  *fakeProvider
	wallets   *fakeWallets
	codec     *jwtx.Codec
	attempts  *challenge.MemoryStore
	hasher    *cryptox.PasswordHasher
	authority *TOTPAuthority
	mfa       *MFAService
	login     *LoginService
	federated *FederatedService
	users     *UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.ApplyMigrations()
	require.NoError(t, err)

	codec, err := jwtx.NewCodec([]byte("0123456789abcdef0123456789abcdef"), "vaultgate-test")
	require.NoError(t, err)

	provider := &fakeProvider{
		profile: domain.ProviderProfile{
			ExternalID:     "idp|alice",
			Email:          "alice@example.com",
			Name:           "Alice",
			PictureURL:     "https://cdn.example/alice.png",
			EmailVerified:  true,
			IdentityNumber: "ID-0001",
		},
		identities: map[string]string{"ID-0001": domain.IdentityActive},
	}
	wallets := &fakeWallets{}
	attempts := challenge.NewMemoryStore(challenge.LockoutConfig{MaxAttempts: 3, Window: time.Minute})
	hasher := cryptox.NewPasswordHasher("test-pepper")

	authority := &TOTPAuthority{
		Store:      s,
		Challenges: challenge.NewMemoryStore(challenge.LockoutConfig{}),
		Issuer:     "Vaultgate",
	}
	mfa := &MFAService{
		Store:     s,
		Authority: authority,
		Attempts:  attempts,
		Provider:  provider,
		Tokens:    codec,
	}

	return &testEnv{
		store:     s,
		provider:  provider,
		wallets:   wallets,
		codec:     codec,
		attempts:  attempts,
		hasher:    hasher,
		authority: authority,
		mfa:       mfa,
		login:     &LoginService{Store: s, Hasher: hasher, Tokens: codec, MFA: mfa},
		federated: &FederatedService{
			Store:     s,
			Provider:  provider,
			Wallets:   wallets,
			Tokens:    codec,
			MFA:       mfa,
			PortalURL: portalURL,
		},
		users: &UserService{Store: s, Hasher: hasher},
	}
}

// seedUser creates an active investor linked to the fake provider profile.
func (e *testEnv) seedUser(t *testing.T, mutate ...func(*domain.User)) domain.User {
	t.Helper()

	hash, err := e.hasher.Hash(testPassword)
	require.NoError(t, err)

	u := domain.User{
		ID:           idx.New().String(),
		Email:        e.provider.profile.Email,
		PasswordHash: hash,
		Role:         domain.RoleInvestor,
		Active:       true,
		ExternalID:   e.provider.profile.ExternalID,
	}
	for _, m := range mutate {
		m(&u)
	}
	require.NoError(t, e.store.Users().CreateUser(context.Background(), u))
	return u
}

// enroll runs a full enrollment and returns the TOTP secret.
func (e *testEnv) enroll(t *testing.T, userID string) domain.MFAEnrollment {
	t.Helper()

	enrollment, err := e.mfa.Enroll(context.Background(), userID, liveSession, "phone")
	require.NoError(t, err)
	return enrollment
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

// wrongCode differs from any code that is valid right now.
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
	t.Fatal("no invalid code candidate")
	return ""
}

var errBoom = errors.New("boom")
