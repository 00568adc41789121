package service

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/idp"
)

var timeNow = time.Now

// TokenIssuer mints platform session tokens. *jwtx.Codec satisfies it.
type TokenIssuer interface {
	Issue(subjectID, email, role string) (string, error)
}

// LoginResult is what a completed login hands back to the caller.
type LoginResult struct {
	Token string
	User  domain.User

	// Session carries provider tokens forward on federated logins,
	// possibly refreshed.
	Session *domain.ProviderSession
}

// proveSession checks that the caller holds a live provider session for
// user. The returned session may have been refreshed.
func proveSession(
	ctx context.Context,
	provider idp.Provider,
	user domain.User,
	session domain.ProviderSession,
) (domain.ProviderSession, error) {
	if session.AccessToken == "" || session.RefreshToken == "" {
		return domain.ProviderSession{}, ErrProviderSessionRequired
	}

	profile, refreshed, err := provider.ValidateSession(ctx, session)
	if err != nil {
		return domain.ProviderSession{}, providerError(err, ErrProviderSessionExpired)
	}
	if !sameIdentity(user, profile) {
		return domain.ProviderSession{}, ErrProviderSessionMismatch
	}
	return refreshed, nil
}

// sameIdentity prefers the linked external id and falls back to email for
// accounts that were never federated.
func sameIdentity(user domain.User, profile domain.ProviderProfile) bool {
	if user.ExternalID != "" {
		return user.ExternalID == profile.ExternalID
	}
	return profile.Email != "" && domain.NormalizeEmail(profile.Email) == user.Email
}

// providerError maps idp failures onto service errors. rejected is used
// when the provider refused the credential.
func providerError(err, rejected error) error {
	switch {
	case errors.Is(err, idp.ErrUnavailable):
		return &UpstreamError{Service: "identity provider", Err: err}
	case errors.Is(err, idp.ErrSessionExpired),
		errors.Is(err, idp.ErrExchange),
		errors.Is(err, idp.ErrInvalidIDToken):
		return rejected
	default:
		return &UpstreamError{Service: "identity provider", Err: err}
	}
}
