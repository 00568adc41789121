package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/vaultgate/internal/identity/challenge"
	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/idp"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
)

// MFAService drives enrollment, the login-time gate and step-up
// verification on top of a FactorAuthority.
type MFAService struct {
	Store     store.Store
	Authority FactorAuthority
	Attempts  challenge.Store // failed-code counters
	Provider  idp.Provider    // proves the caller's provider session
	Tokens    TokenIssuer
}

// Enroll registers a new TOTP factor for userID. The caller must prove a
// live provider session for the same identity.
func (s *MFAService) Enroll(
	ctx context.Context,
	userID string,
	session domain.ProviderSession,
	friendlyName string,
) (domain.MFAEnrollment, error) {
	l := slogx.FromContext(ctx)

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return domain.MFAEnrollment{}, err
	}
	if _, err := proveSession(ctx, s.Provider, user, session); err != nil {
		return domain.MFAEnrollment{}, err
	}

	// The reference read here is the expected value of the swap below.
	expected := user.MFAFactorID

	factor, enrollment, err := s.Authority.Enroll(ctx, user, friendlyName)
	if err != nil {
		return domain.MFAEnrollment{}, err
	}

	if err := s.Store.Users().SwapMFAFactor(ctx, user.ID, expected, factor.ID); err != nil {
		if cleanupErr := s.Authority.Unenroll(ctx, factor); cleanupErr != nil {
			l.Error("failed to remove orphaned factor", slog.String("factor_id", factor.ID), slog.Any("error", cleanupErr))
		}
		if errors.Is(err, store.ErrConflict) {
			l.Info("concurrent MFA enrollment lost", slog.String("user_id", user.ID))
			return domain.MFAEnrollment{}, ErrEnrollConflict
		}
		return domain.MFAEnrollment{}, fmt.Errorf("failed to link factor: %w", err)
	}

	if expected != "" {
		if err := s.Store.Factors().DeactivateFactor(ctx, expected); err != nil && !errors.Is(err, store.ErrNotFound) {
			l.Warn("failed to deactivate replaced factor", slog.String("factor_id", expected), slog.Any("error", err))
		}
	}

	l.Info("MFA factor enrolled", slog.String("user_id", user.ID), slog.String("factor_id", factor.ID))
	return enrollment, nil
}

// Unenroll removes factorID, or the active factor when factorID is empty.
func (s *MFAService) Unenroll(
	ctx context.Context,
	userID string,
	session domain.ProviderSession,
	factorID string,
) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := proveSession(ctx, s.Provider, user, session); err != nil {
		return err
	}

	factor, err := s.resolveFactor(ctx, user, factorID, false)
	if err != nil {
		return err
	}
	if err := s.Authority.Unenroll(ctx, factor); err != nil {
		return err
	}

	if user.MFAFactorID == factor.ID {
		err := s.Store.Users().SwapMFAFactor(ctx, user.ID, factor.ID, "")
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("failed to clear factor reference: %w", err)
		}
	}

	slogx.FromContext(ctx).Info("MFA factor removed", slog.String("user_id", user.ID), slog.String("factor_id", factor.ID))
	return nil
}

// RequiredFactor returns the factor that gates login for user. A reference
// to a missing, inactive or foreign factor counts as MFA disabled.
func (s *MFAService) RequiredFactor(ctx context.Context, user domain.User) (domain.MFAFactor, bool, error) {
	if user.MFAFactorID == "" {
		return domain.MFAFactor{}, false, nil
	}
	factor, err := s.Store.Factors().GetFactorByID(ctx, user.MFAFactorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MFAFactor{}, false, nil
		}
		return domain.MFAFactor{}, false, err
	}
	if !factor.Active || factor.UserID != user.ID {
		return domain.MFAFactor{}, false, nil
	}
	return factor, true, nil
}

// LoginVerify completes a login that was stopped by the MFA gate and
// issues the session token. The route is public, so an unknown user, an
// inactive user, a user without a factor and a wrong code all return
// ErrInvalidCredentials.
func (s *MFAService) LoginVerify(
	ctx context.Context,
	userID, code string,
	session *domain.ProviderSession,
) (LoginResult, error) {
	l := slogx.FromContext(ctx)

	if userID == "" || code == "" {
		return LoginResult{}, ErrInvalidRequest
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !user.Active {
		return LoginResult{}, ErrInvalidCredentials
	}

	factor, ok, err := s.RequiredFactor(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		l.Info("MFA login verify without active factor", slog.String("user_id", user.ID))
		return LoginResult{}, ErrInvalidCredentials
	}

	c, err := s.Authority.Challenge(ctx, factor)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.verifyWithLockout(ctx, user.ID, c.ID, factor, code); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	now := timeNow().UTC()
	if err := s.Store.Factors().TouchFactorLastUsed(ctx, factor.ID, now); err != nil {
		l.Warn("failed to record factor use", slog.String("factor_id", factor.ID), slog.Any("error", err))
	}
	if err := s.Store.Users().TouchLastLogin(ctx, user.ID, now); err != nil {
		l.Warn("failed to record last login", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	token, err := s.Tokens.Issue(user.ID, user.Email, user.Role.String())
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to issue token: %w", err)
	}

	l.Info("MFA login verified", slog.String("user_id", user.ID))
	return LoginResult{Token: token, User: user, Session: session}, nil
}

// Challenge starts a step-up verification.
func (s *MFAService) Challenge(
	ctx context.Context,
	userID string,
	session domain.ProviderSession,
	factorID string,
) (domain.MFAChallenge, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return domain.MFAChallenge{}, err
	}
	if _, err := proveSession(ctx, s.Provider, user, session); err != nil {
		return domain.MFAChallenge{}, err
	}
	factor, err := s.resolveFactor(ctx, user, factorID, true)
	if err != nil {
		return domain.MFAChallenge{}, err
	}
	return s.Authority.Challenge(ctx, factor)
}

// Verify answers a step-up challenge. Success raises the caller to AAL2
// without minting a new token.
func (s *MFAService) Verify(
	ctx context.Context,
	userID string,
	session domain.ProviderSession,
	factorID, challengeID, code string,
) error {
	if challengeID == "" || code == "" {
		return ErrInvalidRequest
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := proveSession(ctx, s.Provider, user, session); err != nil {
		return err
	}
	factor, err := s.resolveFactor(ctx, user, factorID, true)
	if err != nil {
		return err
	}
	if err := s.verifyWithLockout(ctx, user.ID, challengeID, factor, code); err != nil {
		return err
	}

	if err := s.Store.Factors().TouchFactorLastUsed(ctx, factor.ID, timeNow().UTC()); err != nil {
		slogx.FromContext(ctx).Warn("failed to record factor use", slog.String("factor_id", factor.ID), slog.Any("error", err))
	}
	return nil
}

// Enabled reports whether the login gate applies to userID.
func (s *MFAService) Enabled(ctx context.Context, userID string) (bool, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok, err := s.RequiredFactor(ctx, user)
	return ok, err
}

func (s *MFAService) Status(ctx context.Context, userID string) (domain.MFAStatus, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return domain.MFAStatus{}, err
	}
	factor, ok, err := s.RequiredFactor(ctx, user)
	if err != nil || !ok {
		return domain.MFAStatus{}, err
	}
	return domain.MFAStatus{Enabled: true, Factor: &factor}, nil
}

func (s *MFAService) Factors(ctx context.Context, userID string) ([]domain.MFAFactor, error) {
	if _, err := s.getUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.Store.Factors().ListFactors(ctx, userID)
}

// verifyWithLockout checks the failure counter around a verification.
func (s *MFAService) verifyWithLockout(
	ctx context.Context,
	userID, challengeID string,
	factor domain.MFAFactor,
	code string,
) error {
	l := slogx.FromContext(ctx)

	if err := s.Attempts.Check(ctx, userID); err != nil {
		return attemptError(err)
	}

	err := s.Authority.Verify(ctx, challengeID, factor, code)
	switch {
	case err == nil:
		if err := s.Attempts.Reset(ctx, userID); err != nil {
			l.Warn("failed to reset MFA attempts", slog.String("user_id", userID), slog.Any("error", err))
		}
		return nil
	case errors.Is(err, ErrInvalidCode):
		l.Info("invalid MFA code", slog.String("user_id", userID))
		if err := s.Attempts.RecordFailure(ctx, userID); err != nil {
			if errors.Is(err, challenge.ErrLocked) {
				l.Warn("MFA locked after repeated failures", slog.String("user_id", userID))
			}
			return attemptError(err)
		}
		return ErrInvalidCode
	default:
		return err
	}
}

// resolveFactor finds factorID for user, or the active factor when empty.
func (s *MFAService) resolveFactor(ctx context.Context, user domain.User, factorID string, requireActive bool) (domain.MFAFactor, error) {
	var (
		factor domain.MFAFactor
		err    error
	)
	if factorID == "" {
		factor, err = s.Store.Factors().GetActiveFactor(ctx, user.ID)
	} else {
		factor, err = s.Store.Factors().GetFactorByID(ctx, factorID)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.MFAFactor{}, ErrFactorNotFound
		}
		return domain.MFAFactor{}, err
	}
	if factor.UserID != user.ID || (requireActive && !factor.Active) {
		return domain.MFAFactor{}, ErrFactorNotFound
	}
	return factor, nil
}

func (s *MFAService) getUser(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	if !user.Active {
		return domain.User{}, ErrUserInactive
	}
	return user, nil
}

func attemptError(err error) error {
	switch {
	case errors.Is(err, challenge.ErrLocked):
		return ErrMFALocked
	case errors.Is(err, challenge.ErrUnavailable):
		return &UpstreamError{Service: "challenge store", Err: err}
	default:
		return err
	}
}
