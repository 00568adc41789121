package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/idp"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
	"github.com/aussiebroadwan/vaultgate/internal/identity/wallet"
	"github.com/aussiebroadwan/vaultgate/pkg/cryptox"
	"github.com/aussiebroadwan/vaultgate/pkg/idx"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
	"golang.org/x/oauth2"
)

// DefaultPKCETTL bounds the time between auth-url and callback.
const DefaultPKCETTL = 10 * time.Minute

// Eligibility failure reasons.
const (
	ReasonIdentityMissing = "identity_missing"
	ReasonLookupFailed    = "lookup_failed"
)

// FederatedService runs the provider login: authorization URL, callback,
// terms acceptance for new accounts and wallet linking.
type FederatedService struct {
	Store    store.Store
	Provider idp.Provider
	Wallets  wallet.Provisioner
	Tokens   TokenIssuer
	MFA      *MFAService

	PKCETTL time.Duration

	// PortalURL is where ineligible users are sent to sort out their
	// identity with the provider.
	PortalURL string
}

// CallbackInput is what the client sends back after the provider redirect.
type CallbackInput struct {
	Code         string
	CodeVerifier string
	Nonce        string
	RedirectURI  string
}

func (in CallbackInput) valid() bool {
	return in.Code != "" && in.CodeVerifier != "" && in.Nonce != ""
}

// FederatedResult is a completed login, or for an unknown account the
// verified provider data the client must return with terms acceptance.
type FederatedResult struct {
	LoginResult

	RequiresTermsAcceptance bool
	Profile                 domain.ProviderProfile
}

// AuthURL starts a login. The verifier is returned to the caller and only
// its S256 challenge is kept.
func (s *FederatedService) AuthURL(ctx context.Context, redirectURI string) (domain.AuthorizationRequest, error) {
	if redirectURI == "" {
		return domain.AuthorizationRequest{}, ErrInvalidRequest
	}

	verifier := oauth2.GenerateVerifier()
	nonce, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.AuthorizationRequest{}, err
	}

	ttl := s.PKCETTL
	if ttl <= 0 {
		ttl = DefaultPKCETTL
	}
	now := timeNow().UTC()
	if err := s.Store.PKCERequests().CreatePKCERequest(ctx, domain.PKCERequest{
		Nonce:         nonce,
		CodeChallenge: cryptox.FingerprintToken(verifier),
		RedirectURI:   redirectURI,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}); err != nil {
		return domain.AuthorizationRequest{}, fmt.Errorf("failed to store authorization request: %w", err)
	}

	return domain.AuthorizationRequest{
		AuthURL:      s.Provider.AuthCodeURL(verifier, nonce, redirectURI),
		CodeVerifier: verifier,
		Nonce:        nonce,
	}, nil
}

// Callback finishes the provider redirect. Possible outcomes are a token,
// RequiresTermsAcceptance for unknown accounts, *MFARequiredError or
// *EligibilityError.
func (s *FederatedService) Callback(ctx context.Context, in CallbackInput) (FederatedResult, error) {
	l := slogx.FromContext(ctx)

	session, profile, err := s.exchange(ctx, in)
	if err != nil {
		return FederatedResult{}, err
	}
	if err := s.checkEligibility(ctx, profile); err != nil {
		return FederatedResult{}, err
	}

	user, err := s.findAccount(ctx, profile)
	if errors.Is(err, ErrUserNotFound) {
		return FederatedResult{
			LoginResult:             LoginResult{Session: &session},
			RequiresTermsAcceptance: true,
			Profile:                 profile,
		}, nil
	}
	if err != nil {
		return FederatedResult{}, err
	}
	if !user.Active {
		l.Info("federated login for deactivated user", slog.String("user_id", user.ID))
		return FederatedResult{}, ErrUserInactive
	}

	now := timeNow().UTC()
	if err := s.Store.Users().UpdateFederatedProfile(ctx, user.ID, domain.FederatedProfileUpdate{
		ExternalID:    profile.ExternalID,
		PictureURL:    profile.PictureURL,
		EmailVerified: profile.EmailVerified,
		LastLoginAt:   now,
	}); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// The external id is already linked to a different account.
			return FederatedResult{}, ErrUserExists
		}
		return FederatedResult{}, fmt.Errorf("failed to update profile: %w", err)
	}
	user.ExternalID = profile.ExternalID
	if profile.PictureURL != "" {
		user.PictureURL = profile.PictureURL
	}
	user.EmailVerified = profile.EmailVerified
	user.LastLoginAt = &now

	s.ensureWallet(ctx, &user)

	factor, required, err := s.MFA.RequiredFactor(ctx, user)
	if err != nil {
		return FederatedResult{}, err
	}
	if required {
		return FederatedResult{}, &MFARequiredError{UserID: user.ID, FactorID: factor.ID, Session: &session}
	}

	token, err := s.Tokens.Issue(user.ID, user.Email, user.Role.String())
	if err != nil {
		return FederatedResult{}, fmt.Errorf("failed to issue token: %w", err)
	}
	return FederatedResult{LoginResult: LoginResult{Token: token, User: user, Session: &session}}, nil
}

// CompleteRegistration creates the account for a provider identity that
// accepted the terms. The profile comes from the provider, never from the
// client.
func (s *FederatedService) CompleteRegistration(
	ctx context.Context,
	session domain.ProviderSession,
	termsAccepted bool,
) (FederatedResult, error) {
	l := slogx.FromContext(ctx)

	if !termsAccepted {
		return FederatedResult{}, ErrTermsNotAccepted
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		return FederatedResult{}, ErrProviderSessionRequired
	}

	profile, refreshed, err := s.Provider.ValidateSession(ctx, session)
	if err != nil {
		return FederatedResult{}, providerError(err, ErrProviderSessionExpired)
	}
	if profile.Email == "" || profile.ExternalID == "" {
		return FederatedResult{}, ErrFederatedAuthFailed
	}
	if err := s.checkEligibility(ctx, profile); err != nil {
		return FederatedResult{}, err
	}

	if _, err := s.findAccount(ctx, profile); err == nil {
		return FederatedResult{}, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return FederatedResult{}, err
	}

	now := timeNow().UTC()
	displayName := profile.Name
	if displayName == "" {
		displayName = profile.Email
	}
	user := domain.User{
		ID:              idx.New().String(),
		Email:           profile.Email,
		Role:            domain.RoleInvestor,
		Active:          true,
		DisplayName:     displayName,
		PictureURL:      profile.PictureURL,
		EmailVerified:   profile.EmailVerified,
		ExternalID:      profile.ExternalID,
		TermsAcceptedAt: &now,
		LastLoginAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return FederatedResult{}, ErrUserExists
		}
		return FederatedResult{}, fmt.Errorf("failed to create user: %w", err)
	}
	l.Info("federated user registered", slog.String("user_id", user.ID))

	s.ensureWallet(ctx, &user)

	token, err := s.Tokens.Issue(user.ID, user.Email, user.Role.String())
	if err != nil {
		return FederatedResult{}, fmt.Errorf("failed to issue token: %w", err)
	}
	return FederatedResult{LoginResult: LoginResult{Token: token, User: user, Session: &refreshed}}, nil
}

// LinkWallet provisions a wallet for an authenticated user after a fresh
// provider login. Unlike the login paths, wallet failures are reported.
func (s *FederatedService) LinkWallet(ctx context.Context, userID string, in CallbackInput) (string, error) {
	l := slogx.FromContext(ctx)

	if s.Wallets == nil {
		return "", &UpstreamError{Service: "wallet service", Err: errors.New("not configured")}
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	if user.HasWallet() {
		return "", ErrWalletExists
	}

	_, profile, err := s.exchange(ctx, in)
	if err != nil {
		return "", err
	}
	if !sameIdentity(user, profile) {
		l.Warn("wallet link with foreign provider identity", slog.String("user_id", user.ID))
		return "", ErrProviderSessionMismatch
	}

	address, err := s.Wallets.GetOrCreateWallet(ctx, user.Email, user.ID)
	if err != nil {
		return "", &UpstreamError{Service: "wallet service", Err: err}
	}
	if err := s.Store.Users().SetWalletAddress(ctx, user.ID, address); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", ErrWalletExists
		}
		return "", fmt.Errorf("failed to store wallet address: %w", err)
	}

	l.Info("wallet linked", slog.String("user_id", user.ID))
	return address, nil
}

// exchange consumes the PKCE record and trades the code with the provider.
func (s *FederatedService) exchange(ctx context.Context, in CallbackInput) (domain.ProviderSession, domain.ProviderProfile, error) {
	l := slogx.FromContext(ctx)

	if !in.valid() {
		return domain.ProviderSession{}, domain.ProviderProfile{}, ErrInvalidRequest
	}

	req, err := s.Store.PKCERequests().ConsumePKCERequest(ctx, in.Nonce, timeNow().UTC())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyUsed):
			l.Warn("authorization request replayed")
			return domain.ProviderSession{}, domain.ProviderProfile{}, ErrPKCEInvalid
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrExpired):
			return domain.ProviderSession{}, domain.ProviderProfile{}, ErrPKCEInvalid
		default:
			return domain.ProviderSession{}, domain.ProviderProfile{}, err
		}
	}
	if !cryptox.VerifyS256(in.CodeVerifier, req.CodeChallenge) {
		l.Warn("code verifier mismatch")
		return domain.ProviderSession{}, domain.ProviderProfile{}, ErrPKCEInvalid
	}
	if in.RedirectURI != "" && in.RedirectURI != req.RedirectURI {
		return domain.ProviderSession{}, domain.ProviderProfile{}, ErrPKCEInvalid
	}

	session, profile, err := s.Provider.Exchange(ctx, in.Code, in.CodeVerifier, in.Nonce, req.RedirectURI)
	if err != nil {
		l.Info("provider exchange failed", slog.Any("error", err))
		return domain.ProviderSession{}, domain.ProviderProfile{}, providerError(err, ErrFederatedAuthFailed)
	}
	if profile.Email == "" || profile.ExternalID == "" {
		return domain.ProviderSession{}, domain.ProviderProfile{}, ErrFederatedAuthFailed
	}
	return session, profile, nil
}

// checkEligibility fails closed: a lookup error is treated as ineligible.
func (s *FederatedService) checkEligibility(ctx context.Context, profile domain.ProviderProfile) error {
	l := slogx.FromContext(ctx)

	if profile.IdentityNumber == "" {
		l.Info("provider identity has no identity number", slog.String("external_id", profile.ExternalID))
		return &EligibilityError{Reason: ReasonIdentityMissing, RedirectURL: s.PortalURL}
	}

	status, err := s.Provider.LookupIdentity(ctx, profile.IdentityNumber)
	if err != nil {
		l.Warn("identity lookup failed", slog.String("external_id", profile.ExternalID), slog.Any("error", err))
		return &EligibilityError{Reason: ReasonLookupFailed, RedirectURL: s.PortalURL}
	}
	if !status.Active() {
		l.Info("ineligible provider identity", slog.String("external_id", profile.ExternalID), slog.String("status", status.Status))
		return &EligibilityError{Reason: status.Status, RedirectURL: s.PortalURL}
	}
	return nil
}

// findAccount resolves by email first, then by external id.
func (s *FederatedService) findAccount(ctx context.Context, profile domain.ProviderProfile) (domain.User, error) {
	user, err := s.Store.Users().GetUserByEmail(ctx, profile.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, err
	}

	user, err = s.Store.Users().GetUserByExternalID(ctx, profile.ExternalID)
	if err == nil {
		return user, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	return domain.User{}, err
}

// ensureWallet provisions a wallet on login. Failures are logged and never
// block the login.
func (s *FederatedService) ensureWallet(ctx context.Context, user *domain.User) {
	if user.HasWallet() || s.Wallets == nil {
		return
	}
	l := slogx.FromContext(ctx)

	address, err := s.Wallets.GetOrCreateWallet(ctx, user.Email, user.ID)
	if err != nil {
		l.Warn("wallet provisioning failed", slog.String("user_id", user.ID), slog.Any("error", err))
		return
	}

	err = s.Store.Users().SetWalletAddress(ctx, user.ID, address)
	switch {
	case err == nil:
		user.WalletAddress = address
	case errors.Is(err, store.ErrConflict):
		// Another login linked one first, keep what is stored.
		if stored, getErr := s.Store.Users().GetUserByID(ctx, user.ID); getErr == nil {
			user.WalletAddress = stored.WalletAddress
		}
	default:
		l.Warn("failed to store wallet address", slog.String("user_id", user.ID), slog.Any("error", err))
	}
}
