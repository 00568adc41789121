package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// Session is an authenticated caller holding a gateway session token.
// Tokens are not refreshed; log in again after expiry (24h).
type Session struct {
	client *Client
	token  string
}

// Token returns the session token.
func (s *Session) Token() string {
	return s.token
}

// doAuthRequest performs a request with the session's bearer token.
func (s *Session) doAuthRequest(
	ctx context.Context,
	method, path string,
	payload any,
	headers map[string]string,
) (*http.Response, error) {
	h := map[string]string{"Authorization": "Bearer " + s.token}
	for k, v := range headers {
		h[k] = v
	}
	return s.client.doRequest(ctx, method, path, payload, h)
}

// ============================================================================
// User Administration
// ============================================================================

// CreateUser creates a password account. Requires the root or admin role.
func (s *Session) CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/users", req, nil)
	if err != nil {
		return nil, err
	}

	var out UserResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeactivateUser soft-deletes a user. Requires the root role and the
// client's API key on the same request.
func (s *Session) DeactivateUser(ctx context.Context, userID string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/deactivate", nil,
		map[string]string{HeaderAPIKey: s.client.APIKey})
	if err != nil {
		return err
	}

	var out SuccessResponse
	return decodeJSON(resp, &out, http.StatusOK)
}
