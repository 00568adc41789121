package service

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is deactivated")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidRole        = errors.New("role not assignable")

	ErrInvalidCode       = errors.New("invalid verification code")
	ErrFactorNotFound    = errors.New("MFA factor not found")
	ErrChallengeNotFound = errors.New("MFA challenge not found or expired")
	ErrEnrollConflict    = errors.New("MFA enrollment changed concurrently")
	ErrMFALocked         = errors.New("too many failed verification attempts")

	ErrProviderSessionRequired = errors.New("provider session required")
	ErrProviderSessionExpired  = errors.New("provider session expired")
	ErrProviderSessionMismatch = errors.New("provider session belongs to another identity")

	ErrPKCEInvalid         = errors.New("authorization request invalid, expired or already used")
	ErrFederatedAuthFailed = errors.New("identity provider rejected the login")
	ErrTermsNotAccepted    = errors.New("terms must be accepted")
	ErrWalletExists        = errors.New("wallet already linked")
)

// MFARequiredError is returned by the login paths when the user has an
// active second factor. No session token has been issued.
type MFARequiredError struct {
	UserID   string
	FactorID string

	// Session is set on federated logins so the client can carry the
	// provider tokens into login-verify.
	Session *domain.ProviderSession
}

func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("MFA verification required for user %s", e.UserID)
}

// EligibilityError means the provider identity is not entitled to use the
// platform. Lookup failures are reported this way too.
type EligibilityError struct {
	Reason      string
	RedirectURL string
}

func (e *EligibilityError) Error() string {
	return "identity not eligible: " + e.Reason
}

// UpstreamError wraps failures of collaborating services.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
