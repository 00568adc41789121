package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/vaultgate/internal/identity/service"
	"github.com/aussiebroadwan/vaultgate/pkg/authsdk"
	"github.com/aussiebroadwan/vaultgate/pkg/httpx"
	"github.com/aussiebroadwan/vaultgate/pkg/slogx"
)

func writeMalformed(w http.ResponseWriter, message string) {
	httpx.WriteError(w, http.StatusBadRequest, httpx.KindMalformedRequest, "invalid_request", message)
}

func writeUnauthenticated(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusUnauthorized, httpx.KindAuthenticationFailure, "missing_credentials", "authentication required")
}

// writeServiceError maps service errors onto the error envelope. Unknown
// errors are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())

	var (
		mfaErr         *service.MFARequiredError
		eligibilityErr *service.EligibilityError
		upstreamErr    *service.UpstreamError
	)

	switch {
	case errors.As(err, &mfaErr):
		httpx.WriteJSON(w, http.StatusUnauthorized, authsdk.MFARequiredResponse{
			Success:     true,
			MFARequired: true,
			UserID:      mfaErr.UserID,
			FactorID:    mfaErr.FactorID,
			Session:     toSessionResponse(mfaErr.Session),
		})

	case errors.As(err, &eligibilityErr):
		httpx.WriteJSON(w, http.StatusForbidden, httpx.ErrorBody{
			Error:       httpx.KindAuthorizationFailure,
			Code:        authsdk.CodeNotEligible,
			Message:     "identity is not eligible, verify it with the identity provider",
			RedirectURL: eligibilityErr.RedirectURL,
		})

	case errors.As(err, &upstreamErr):
		log.Warn("upstream failure", slog.String("service", upstreamErr.Service), slog.Any("error", upstreamErr.Err))
		httpx.WriteError(w, http.StatusServiceUnavailable, httpx.KindUpstreamFailure, "", upstreamErr.Service+" unavailable")

	case errors.Is(err, service.ErrInvalidRequest):
		writeMalformed(w, "missing or invalid fields")
	case errors.Is(err, service.ErrTermsNotAccepted):
		httpx.WriteError(w, http.StatusBadRequest, httpx.KindMalformedRequest, authsdk.CodeTermsNotAccepted, "terms must be accepted")

	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrUserInactive):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.KindAuthenticationFailure, authsdk.CodeInvalidCredentials, "invalid credentials")
	case errors.Is(err, service.ErrInvalidCode):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.KindAuthenticationFailure, authsdk.CodeInvalidCode, "invalid verification code")
	case errors.Is(err, service.ErrProviderSessionRequired),
		errors.Is(err, service.ErrProviderSessionExpired),
		errors.Is(err, service.ErrProviderSessionMismatch):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.KindAuthenticationFailure, authsdk.CodeProviderSessionInvalid,
			"provider session missing, expired or for another identity, sign in again")
	case errors.Is(err, service.ErrPKCEInvalid), errors.Is(err, service.ErrFederatedAuthFailed):
		httpx.WriteError(w, http.StatusUnauthorized, httpx.KindAuthenticationFailure, "federated_auth_failed", "provider login failed")

	case errors.Is(err, service.ErrInvalidRole):
		httpx.WriteError(w, http.StatusForbidden, httpx.KindAuthorizationFailure, "role_not_permitted", "role not permitted")

	case errors.Is(err, service.ErrUserNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.KindNotFound, "user_not_found", "user not found")
	case errors.Is(err, service.ErrFactorNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.KindNotFound, "factor_not_found", "MFA factor not found")
	case errors.Is(err, service.ErrChallengeNotFound):
		httpx.WriteError(w, http.StatusNotFound, httpx.KindNotFound, "challenge_not_found", "challenge not found or expired")

	case errors.Is(err, service.ErrUserExists):
		httpx.WriteError(w, http.StatusConflict, httpx.KindConflict, "user_exists", "user already exists")
	case errors.Is(err, service.ErrWalletExists):
		httpx.WriteError(w, http.StatusConflict, httpx.KindConflict, authsdk.CodeWalletExists, "wallet already linked")
	case errors.Is(err, service.ErrEnrollConflict):
		httpx.WriteError(w, http.StatusConflict, httpx.KindConflict, "enroll_conflict", "MFA enrollment changed concurrently, retry")

	case errors.Is(err, service.ErrMFALocked):
		httpx.WriteError(w, http.StatusTooManyRequests, httpx.KindRateLimited, authsdk.CodeMFALocked, "too many failed verification attempts")

	default:
		log.Error("request failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, httpx.KindInternal, "", "internal server error")
	}
}
