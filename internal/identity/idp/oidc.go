package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// OIDCProvider implements Provider against a standard OpenID Connect
// provider with an additional eligibility lookup endpoint.
type OIDCProvider struct {
	cfg     Config
	oauth   *oauth2.Config
	service *clientcredentials.Config
	limiter *rate.Limiter
	keys    *jwk.Cache
	stop    context.CancelFunc
	now     func() time.Time
}

var _ Provider = (*OIDCProvider)(nil)

func NewOIDCProvider(cfg Config) (*OIDCProvider, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// The key set is fetched on first use and refreshed in the background
	// until Close.
	ctx, stop := context.WithCancel(context.Background())
	keys := jwk.NewCache(ctx)
	if err := keys.Register(cfg.JWKSURL, jwk.WithHTTPClient(cfg.HTTPClient)); err != nil {
		stop()
		return nil, fmt.Errorf("register jwks: %w", err)
	}

	return &OIDCProvider{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
		service: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		keys:    keys,
		stop:    stop,
		now:     time.Now,
	}, nil
}

// Close stops the background key set refresh.
func (p *OIDCProvider) Close() {
	p.stop()
}

func (p *OIDCProvider) AuthCodeURL(verifier, nonce, redirectURI string) string {
	return p.oauth.AuthCodeURL(nonce,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
	)
}

func (p *OIDCProvider) Exchange(
	ctx context.Context,
	code, verifier, nonce, redirectURI string,
) (domain.ProviderSession, domain.ProviderProfile, error) {
	ctx, cancel := p.begin(ctx)
	defer cancel()
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.ProviderSession{}, domain.ProviderProfile{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	token, err := p.oauth.Exchange(p.clientContext(ctx), code,
		oauth2.VerifierOption(verifier),
		oauth2.SetAuthURLParam("redirect_uri", redirectURI),
	)
	if err != nil {
		return domain.ProviderSession{}, domain.ProviderProfile{}, classifyTokenError(err, ErrExchange)
	}

	rawID, _ := token.Extra("id_token").(string)
	if rawID == "" {
		return domain.ProviderSession{}, domain.ProviderProfile{}, fmt.Errorf("%w: missing from token response", ErrInvalidIDToken)
	}
	profile, err := p.verifyIDToken(ctx, rawID, nonce)
	if err != nil {
		return domain.ProviderSession{}, domain.ProviderProfile{}, err
	}

	// Userinfo fills claims the id_token may leave out.
	info, err := p.userInfo(ctx, token.AccessToken)
	if err != nil {
		return domain.ProviderSession{}, domain.ProviderProfile{}, err
	}
	if info.ExternalID != profile.ExternalID {
		return domain.ProviderSession{}, domain.ProviderProfile{}, fmt.Errorf("%w: userinfo subject mismatch", ErrInvalidIDToken)
	}

	return sessionFromToken(token), mergeProfile(profile, info), nil
}

func (p *OIDCProvider) ValidateSession(
	ctx context.Context,
	session domain.ProviderSession,
) (domain.ProviderProfile, domain.ProviderSession, error) {
	if session.Empty() {
		return domain.ProviderProfile{}, domain.ProviderSession{}, ErrSessionExpired
	}

	ctx, cancel := p.begin(ctx)
	defer cancel()

	stale := session.AccessToken == "" ||
		(!session.ExpiresAt.IsZero() && !session.ExpiresAt.After(p.now()))

	if !stale {
		if err := p.limiter.Wait(ctx); err != nil {
			return domain.ProviderProfile{}, domain.ProviderSession{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		profile, err := p.userInfo(ctx, session.AccessToken)
		if err == nil {
			return profile, session, nil
		}
		if !errors.Is(err, ErrSessionExpired) {
			return domain.ProviderProfile{}, domain.ProviderSession{}, err
		}
	}

	if session.RefreshToken == "" {
		return domain.ProviderProfile{}, domain.ProviderSession{}, ErrSessionExpired
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.ProviderProfile{}, domain.ProviderSession{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// An oauth2.Token without an access token is never valid, so the token
	// source always refreshes.
	token, err := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{
		RefreshToken: session.RefreshToken,
	}).Token()
	if err != nil {
		return domain.ProviderProfile{}, domain.ProviderSession{}, classifyTokenError(err, ErrSessionExpired)
	}

	refreshed := sessionFromToken(token)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = session.RefreshToken
	}

	profile, err := p.userInfo(ctx, refreshed.AccessToken)
	if err != nil {
		return domain.ProviderProfile{}, domain.ProviderSession{}, err
	}
	return profile, refreshed, nil
}

type lookupResponse struct {
	IdentityNumber string `json:"identityNumber"`
	Status         string `json:"status"`
}

func (p *OIDCProvider) LookupIdentity(ctx context.Context, identityNumber string) (domain.IdentityStatus, error) {
	if identityNumber == "" {
		return domain.IdentityStatus{Status: domain.IdentityNotFound}, nil
	}

	ctx, cancel := p.begin(ctx)
	defer cancel()
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.IdentityStatus{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	endpoint, err := url.Parse(p.cfg.LookupURL)
	if err != nil {
		return domain.IdentityStatus{}, err
	}
	q := endpoint.Query()
	q.Set("identity_number", identityNumber)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return domain.IdentityStatus{}, err
	}

	// The lookup is a service call authenticated with client credentials.
	resp, err := p.service.Client(p.clientContext(ctx)).Do(req)
	if err != nil {
		return domain.IdentityStatus{}, fmt.Errorf("%w: lookup: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.IdentityStatus{IdentityNumber: identityNumber, Status: domain.IdentityNotFound}, nil
	case resp.StatusCode != http.StatusOK:
		return domain.IdentityStatus{}, fmt.Errorf("%w: lookup status %s", ErrUnavailable, resp.Status)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.IdentityStatus{}, fmt.Errorf("%w: decode lookup: %v", ErrUnavailable, err)
	}
	if body.IdentityNumber == "" {
		body.IdentityNumber = identityNumber
	}
	return domain.IdentityStatus{IdentityNumber: body.IdentityNumber, Status: body.Status}, nil
}

// begin applies the per-call timeout.
func (p *OIDCProvider) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.Timeout)
}

// clientContext hands the configured HTTP client to x/oauth2.
func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
}

func (p *OIDCProvider) verifyIDToken(ctx context.Context, raw, nonce string) (domain.ProviderProfile, error) {
	keyset, err := p.keys.Get(ctx, p.cfg.JWKSURL)
	if err != nil {
		return domain.ProviderProfile{}, fmt.Errorf("%w: fetch jwks: %v", ErrUnavailable, err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keyset, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAudience(p.cfg.ClientID),
		jwt.WithClock(jwt.ClockFunc(p.now)),
		jwt.WithAcceptableSkew(30 * time.Second),
	}
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}

	t, err := jwt.ParseString(raw, opts...)
	if err != nil {
		return domain.ProviderProfile{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}

	got, _ := t.Get("nonce")
	if str(got) != nonce {
		return domain.ProviderProfile{}, fmt.Errorf("%w: nonce mismatch", ErrInvalidIDToken)
	}
	if t.Subject() == "" {
		return domain.ProviderProfile{}, fmt.Errorf("%w: missing subject", ErrInvalidIDToken)
	}

	email, _ := t.Get("email")
	verified, _ := t.Get("email_verified")
	name, _ := t.Get("name")
	picture, _ := t.Get("picture")
	identity, _ := t.Get(p.cfg.IdentityClaim)

	return domain.ProviderProfile{
		ExternalID:     t.Subject(),
		Email:          domain.NormalizeEmail(str(email)),
		Name:           str(name),
		PictureURL:     str(picture),
		EmailVerified:  boolVal(verified),
		IdentityNumber: str(identity),
	}, nil
}

func (p *OIDCProvider) userInfo(ctx context.Context, accessToken string) (domain.ProviderProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return domain.ProviderProfile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return domain.ProviderProfile{}, fmt.Errorf("%w: userinfo: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ProviderProfile{}, ErrSessionExpired
	case resp.StatusCode != http.StatusOK:
		return domain.ProviderProfile{}, fmt.Errorf("%w: userinfo status %s", ErrUnavailable, resp.Status)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return domain.ProviderProfile{}, fmt.Errorf("%w: decode userinfo: %v", ErrUnavailable, err)
	}

	return domain.ProviderProfile{
		ExternalID:     str(claims["sub"]),
		Email:          domain.NormalizeEmail(str(claims["email"])),
		Name:           str(claims["name"]),
		PictureURL:     str(claims["picture"]),
		EmailVerified:  boolVal(claims["email_verified"]),
		IdentityNumber: str(claims[p.cfg.IdentityClaim]),
	}, nil
}

// classifyTokenError separates a provider refusal from a transport problem.
func classifyTokenError(err, refused error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", refused, re.ErrorCode)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func sessionFromToken(t *oauth2.Token) domain.ProviderSession {
	return domain.ProviderSession{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
}

// mergeProfile prefers the verified id_token claims and fills blanks from
// userinfo.
func mergeProfile(verified, info domain.ProviderProfile) domain.ProviderProfile {
	if verified.Email == "" {
		verified.Email = info.Email
	}
	if verified.Name == "" {
		verified.Name = info.Name
	}
	if verified.PictureURL == "" {
		verified.PictureURL = info.PictureURL
	}
	if verified.IdentityNumber == "" {
		verified.IdentityNumber = info.IdentityNumber
	}
	verified.EmailVerified = verified.EmailVerified || info.EmailVerified
	return verified
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func boolVal(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	if s, ok := v.(string); ok {
		return s == "true"
	}
	return false
}
