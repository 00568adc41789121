package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
	"github.com/aussiebroadwan/vaultgate/pkg/cryptox"
	"github.com/aussiebroadwan/vaultgate/pkg/idx"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
)

// MinPasswordLength applies to passwords set through the API.
const MinPasswordLength = 12

type UserService struct {
	Store  store.Store
	Hasher *cryptox.PasswordHasher
}

type CreateUserInput struct {
	Email       string
	Password    string
	Role        domain.Role
	DisplayName string
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	return user, err
}

// CreateUser adds a password account. Root may create any role except
// root, admin may create support and investor accounts.
func (s *UserService) CreateUser(ctx context.Context, actorRole domain.Role, in CreateUserInput) (domain.User, error) {
	email := domain.NormalizeEmail(in.Email)
	if !strings.Contains(email, "@") || len(in.Password) < MinPasswordLength {
		return domain.User{}, ErrInvalidRequest
	}
	if in.Role == "" {
		in.Role = domain.RoleInvestor
	}
	if !canAssign(actorRole, in.Role) {
		return domain.User{}, ErrInvalidRole
	}

	user, err := s.newPasswordUser(email, in.Password, in.Role, in.DisplayName)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrUserExists
		}
		return domain.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	slogx.FromContext(ctx).Info("user created", slog.String("user_id", user.ID), slog.String("role", user.Role.String()))
	return user, nil
}

// Deactivate soft-deletes a user. Accounts are never removed.
func (s *UserService) Deactivate(ctx context.Context, actorID, userID string) error {
	if actorID == userID {
		return ErrInvalidRequest
	}
	if err := s.Store.Users().SetActive(ctx, userID, false); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	slogx.FromContext(ctx).Info("user deactivated", slog.String("user_id", userID), slog.String("actor_id", actorID))
	return nil
}

// EnsureRoot creates the root account on first start. It is a no-op when
// the email is already registered or no credentials are configured.
func (s *UserService) EnsureRoot(ctx context.Context, email, password string) error {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}

	user, err := s.newPasswordUser(email, password, domain.RoleRoot, "root")
	if err != nil {
		return err
	}

	created := false
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.Users().GetUserByEmail(ctx, email)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.Users().CreateUser(ctx, user); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create root user: %w", err)
	}
	if created {
		slogx.FromContext(ctx).Info("root user created", slog.String("user_id", user.ID))
	}
	return nil
}

func (s *UserService) newPasswordUser(email, password string, role domain.Role, displayName string) (domain.User, error) {
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}
	if displayName == "" {
		displayName = email
	}
	now := timeNow().UTC()
	return domain.User{
		ID:           idx.New().String(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		DisplayName:  displayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func canAssign(actor, target domain.Role) bool {
	if !target.Valid() || target == domain.RoleRoot {
		return false
	}
	switch actor {
	case domain.RoleRoot:
		return true
	case domain.RoleAdmin:
		return target == domain.RoleSupport || target == domain.RoleInvestor
	default:
		return false
	}
}
