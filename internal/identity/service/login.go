package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
	"github.com/aussiebroadwan/vaultgate/pkg/cryptox"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
)

// LoginService handles email and password logins.
type LoginService struct {
	Store  store.Store
	Hasher *cryptox.PasswordHasher
	Tokens TokenIssuer
	MFA    *MFAService

	dummyOnce sync.Once
	dummyHash string
}

// Login verifies the password and either issues a token or stops at the
// MFA gate with *MFARequiredError.
func (s *LoginService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	l := slogx.FromContext(ctx)

	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidRequest
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, err
		}
		// Spend the same work as a real check so unknown emails are not
		// distinguishable by timing.
		_ = s.Hasher.Verify(password, s.dummy())
		return LoginResult{}, ErrInvalidCredentials
	}

	if user.PasswordHash == "" {
		_ = s.Hasher.Verify(password, s.dummy())
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := s.Hasher.Verify(password, user.PasswordHash); err != nil {
		l.Info("failed password login", slog.String("user_id", user.ID))
		return LoginResult{}, ErrInvalidCredentials
	}
	if !user.Active {
		return LoginResult{}, ErrInvalidCredentials
	}

	factor, required, err := s.MFA.RequiredFactor(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	if required {
		return LoginResult{}, &MFARequiredError{UserID: user.ID, FactorID: factor.ID}
	}

	if err := s.Store.Users().TouchLastLogin(ctx, user.ID, timeNow().UTC()); err != nil {
		l.Warn("failed to record last login", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	token, err := s.Tokens.Issue(user.ID, user.Email, user.Role.String())
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to issue token: %w", err)
	}
	return LoginResult{Token: token, User: user}, nil
}

func (s *LoginService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash("vaultgate-dummy-password")
	})
	return s.dummyHash
}
