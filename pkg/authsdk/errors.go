package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
)

// ============================================================================
// Error Kinds
// ============================================================================

// Error kinds reported in ErrorResponse.Error.
const (
	KindMalformedRequest      = httpx.KindMalformedRequest
	KindAuthenticationFailure = httpx.KindAuthenticationFailure
	KindAuthorizationFailure  = httpx.KindAuthorizationFailure
	KindNotFound              = httpx.KindNotFound
	KindConflict              = httpx.KindConflict
	KindUpstreamFailure       = httpx.KindUpstreamFailure
	KindRateLimited           = httpx.KindRateLimited
	KindInternal              = httpx.KindInternal
)

// Error codes that clients are expected to branch on.
const (
	CodeInvalidCode            = "invalid_code"
	CodeInvalidCredentials     = "invalid_credentials"
	CodeProviderSessionInvalid = "provider_session_invalid"
	CodeMFALocked              = "mfa_locked"
	CodeNotEligible            = "not_eligible"
	CodeTermsNotAccepted       = "terms_not_accepted"
	CodeWalletExists           = "wallet_exists"
)

// ============================================================================
// APIError
// ============================================================================

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode  int
	Kind        string
	Code        string
	Message     string
	RedirectURL string
	RetryAfter  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsKind reports whether err is an *APIError of the given kind.
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// ============================================================================
// MFA Required
// ============================================================================

// MFARequiredError is returned by Login and FederatedCallback when the user
// has an active second factor. Complete the login with LoginVerify.
type MFARequiredError struct {
	UserID   string
	FactorID string
	Session  *ProviderSession
}

// Error implements the error interface.
func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("MFA required for user %s", e.UserID)
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns a non-2xx response into *MFARequiredError or
// *APIError.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		var mfaResp MFARequiredResponse
		if err := json.Unmarshal(body, &mfaResp); err == nil && mfaResp.MFARequired {
			return &MFARequiredError{
				UserID:   mfaResp.UserID,
				FactorID: mfaResp.FactorID,
				Session:  mfaResp.Session,
			}
		}
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Kind:        errResp.Error,
			Code:        errResp.Code,
			Message:     errResp.Message,
			RedirectURL: errResp.RedirectURL,
			RetryAfter:  errResp.RetryAfter,
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Kind:       httpx.KindForStatus(resp.StatusCode),
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
