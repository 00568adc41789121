package idp_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/idp"
	"github.com/aussiebroadwan/vaultgate/internal/identity/idp/idptest"
	"github.com/aussiebroadwan/vaultgate/pkg/cryptox"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const redirectURI = "https://app.example/federated/callback"

var alice = domain.ProviderProfile{
	ExternalID:     "idp|alice",
	Email:          "alice@example.com",
	Name:           "Alice Investor",
	PictureURL:     "https://cdn.example/alice.png",
	EmailVerified:  true,
	IdentityNumber: "ID-0001",
}

func newProvider(t *testing.T) (*idptest.Server, *idp.OIDCProvider) {
	t.Helper()

	srv := idptest.New(t)
	srv.AddUser(alice, domain.IdentityActive)

	p, err := idp.NewOIDCProvider(srv.Config())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return srv, p
}

func login(t *testing.T, srv *idptest.Server, p *idp.OIDCProvider) (domain.ProviderSession, domain.ProviderProfile) {
	t.Helper()

	verifier := oauth2.GenerateVerifier()
	nonce, err := cryptox.GenerateToken(cryptox.TokenSize128)
	require.NoError(t, err)

	code := srv.Authorize(t, p.AuthCodeURL(verifier, nonce, redirectURI), alice.Email)
	session, profile, err := p.Exchange(context.Background(), code, verifier, nonce, redirectURI)
	require.NoError(t, err)
	return session, profile
}

func TestNewOIDCProvider_RequiresEndpoints(t *testing.T) {
	_, err := idp.NewOIDCProvider(idp.Config{ClientID: "x"})
	require.Error(t, err)
}

func TestExchange_CachesKeySet(t *testing.T) {
	srv, p := newProvider(t)
	require.Zero(t, srv.JWKSCalls())

	login(t, srv, p)
	login(t, srv, p)
	require.Equal(t, 2, srv.ExchangeCalls())
	require.Equal(t, 1, srv.JWKSCalls())
}

func TestAuthCodeURL(t *testing.T) {
	_, p := newProvider(t)

	verifier := oauth2.GenerateVerifier()
	raw := p.AuthCodeURL(verifier, "nonce-1", redirectURI)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "nonce-1", q.Get("state"))
	require.Equal(t, "nonce-1", q.Get("nonce"))
	require.Equal(t, redirectURI, q.Get("redirect_uri"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, cryptox.FingerprintToken(verifier), q.Get("code_challenge"))
	require.Equal(t, "code", q.Get("response_type"))
}

func TestExchange(t *testing.T) {
	srv, p := newProvider(t)

	session, profile := login(t, srv, p)
	require.NotEmpty(t, session.AccessToken)
	require.NotEmpty(t, session.RefreshToken)
	require.False(t, session.ExpiresAt.IsZero())

	require.Equal(t, alice.ExternalID, profile.ExternalID)
	require.Equal(t, alice.Email, profile.Email)
	require.Equal(t, alice.IdentityNumber, profile.IdentityNumber)
	require.True(t, profile.EmailVerified)
	// Name and picture are only in userinfo.
	require.Equal(t, alice.Name, profile.Name)
	require.Equal(t, alice.PictureURL, profile.PictureURL)
}

func TestExchange_Rejections(t *testing.T) {
	srv, p := newProvider(t)
	ctx := context.Background()

	t.Run("wrong verifier", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		code := srv.Authorize(t, p.AuthCodeURL(verifier, "n1", redirectURI), alice.Email)

		_, _, err := p.Exchange(ctx, code, oauth2.GenerateVerifier(), "n1", redirectURI)
		require.ErrorIs(t, err, idp.ErrExchange)
	})

	t.Run("code replay", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		code := srv.Authorize(t, p.AuthCodeURL(verifier, "n2", redirectURI), alice.Email)

		_, _, err := p.Exchange(ctx, code, verifier, "n2", redirectURI)
		require.NoError(t, err)
		_, _, err = p.Exchange(ctx, code, verifier, "n2", redirectURI)
		require.ErrorIs(t, err, idp.ErrExchange)
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		verifier := oauth2.GenerateVerifier()
		code := srv.Authorize(t, p.AuthCodeURL(verifier, "n3", redirectURI), alice.Email)

		_, _, err := p.Exchange(ctx, code, verifier, "other-nonce", redirectURI)
		require.ErrorIs(t, err, idp.ErrInvalidIDToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		cfg := srv.Config()
		cfg.ClientID = "someone-else"
		other, err := idp.NewOIDCProvider(cfg)
		require.NoError(t, err)
		t.Cleanup(other.Close)

		verifier := oauth2.GenerateVerifier()
		code := srv.Authorize(t, p.AuthCodeURL(verifier, "n4", redirectURI), alice.Email)

		// The token endpoint refuses the unknown client before any id_token
		// is minted.
		_, _, err = other.Exchange(ctx, code, verifier, "n4", redirectURI)
		require.Error(t, err)
	})
}

func TestValidateSession(t *testing.T) {
	srv, p := newProvider(t)
	ctx := context.Background()
	session, _ := login(t, srv, p)

	t.Run("live access token", func(t *testing.T) {
		profile, next, err := p.ValidateSession(ctx, session)
		require.NoError(t, err)
		require.Equal(t, alice.ExternalID, profile.ExternalID)
		require.Equal(t, session.AccessToken, next.AccessToken)
	})

	t.Run("refreshes a stale access token", func(t *testing.T) {
		srv.ExpireAccessTokens()

		profile, next, err := p.ValidateSession(ctx, session)
		require.NoError(t, err)
		require.Equal(t, alice.ExternalID, profile.ExternalID)
		require.NotEqual(t, session.AccessToken, next.AccessToken)
		require.NotEmpty(t, next.RefreshToken)
		session = next
	})

	t.Run("keeps the refresh token when not rotated", func(t *testing.T) {
		srv.OmitRefreshToken(true)
		t.Cleanup(func() { srv.OmitRefreshToken(false) })

		stale := session
		stale.ExpiresAt = time.Now().Add(-time.Minute)

		_, next, err := p.ValidateSession(ctx, stale)
		require.NoError(t, err)
		require.Equal(t, session.RefreshToken, next.RefreshToken)
	})

	t.Run("expired session", func(t *testing.T) {
		srv.ExpireAccessTokens()
		srv.RevokeRefreshTokens()

		_, _, err := p.ValidateSession(ctx, session)
		require.ErrorIs(t, err, idp.ErrSessionExpired)
	})

	t.Run("empty session", func(t *testing.T) {
		_, _, err := p.ValidateSession(ctx, domain.ProviderSession{})
		require.ErrorIs(t, err, idp.ErrSessionExpired)
	})
}

func TestLookupIdentity(t *testing.T) {
	srv, p := newProvider(t)
	ctx := context.Background()

	status, err := p.LookupIdentity(ctx, alice.IdentityNumber)
	require.NoError(t, err)
	require.True(t, status.Active())

	srv.SetIdentityStatus(alice.IdentityNumber, domain.IdentityInactive)
	status, err = p.LookupIdentity(ctx, alice.IdentityNumber)
	require.NoError(t, err)
	require.False(t, status.Active())
	require.Equal(t, domain.IdentityInactive, status.Status)

	status, err = p.LookupIdentity(ctx, "ID-9999")
	require.NoError(t, err)
	require.Equal(t, domain.IdentityNotFound, status.Status)

	status, err = p.LookupIdentity(ctx, "")
	require.NoError(t, err)
	require.Equal(t, domain.IdentityNotFound, status.Status)

	srv.FailLookups(true)
	_, err = p.LookupIdentity(ctx, alice.IdentityNumber)
	require.ErrorIs(t, err, idp.ErrUnavailable)
}
