package httpx

import "net/http"

// Error kinds are machine-checkable and stable. Clients switch on these,
// not on messages.
const (
	KindMalformedRequest      = "malformed_request"
	KindAuthenticationFailure = "authentication_failure"
	KindAuthorizationFailure  = "authorization_failure"
	KindNotFound              = "not_found"
	KindConflict              = "conflict"
	KindUpstreamFailure       = "upstream_failure"
	KindRateLimited           = "rate_limited"
	KindInternal              = "internal_error"
)

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// WriteError writes an error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, kind, code, message string) {
	WriteJSON(w, status, ErrorBody{
		Error:   kind,
		Code:    code,
		Message: message,
	})
}

// KindForStatus maps a status code to its default error kind.
func KindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return KindMalformedRequest
	case http.StatusUnauthorized:
		return KindAuthenticationFailure
	case http.StatusForbidden:
		return KindAuthorizationFailure
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindUpstreamFailure
	default:
		return KindInternal
	}
}
