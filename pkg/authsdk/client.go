package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a client for the vaultgate identity API. It covers the public
// endpoints and creates authenticated Sessions.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// APIKey is sent as X-API-Key on service-to-service calls.
	APIKey string
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ============================================================================
// Password Login
// ============================================================================

// Login exchanges email and password for a session token. A user with an
// active second factor gets *MFARequiredError instead.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/login", LoginRequest{Email: email, Password: password}, nil)
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuthenticateWithPassword logs in and wraps the token in a Session.
func (c *Client) AuthenticateWithPassword(ctx context.Context, email, password string) (*Session, error) {
	out, err := c.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.NewSession(out.Token), nil
}

// LoginVerify completes a login stopped by the MFA gate. Pass the session
// from the MFARequiredError on federated logins, nil otherwise.
func (c *Client) LoginVerify(ctx context.Context, userID, code string, session *ProviderSession) (*LoginResponse, error) {
	req := MFALoginVerifyRequest{UserID: userID, Code: code}
	if session != nil {
		req.AccessToken = session.AccessToken
		req.RefreshToken = session.RefreshToken
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/mfa/login-verify", req, nil)
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Federated Login
// ============================================================================

// FederatedAuthURL starts a provider login. An empty redirectURI lets the
// server pick its configured default.
func (c *Client) FederatedAuthURL(ctx context.Context, redirectURI string) (*AuthURLResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/federated/auth-url", AuthURLRequest{RedirectURI: redirectURI}, nil)
	if err != nil {
		return nil, err
	}

	var out AuthURLResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// FederatedCallback finishes a provider login. Check
// RequiresTermsAcceptance on the result; *MFARequiredError is returned for
// users with an active second factor.
func (c *Client) FederatedCallback(ctx context.Context, req CallbackRequest) (*CallbackResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/federated/callback", req, nil)
	if err != nil {
		return nil, err
	}

	var out CallbackResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteRegistration creates the account for a callback that required
// terms acceptance.
func (c *Client) CompleteRegistration(ctx context.Context, req CompleteRegistrationRequest) (*LoginResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/federated/complete-registration", req, nil)
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Service-to-service
// ============================================================================

// GetUser looks up a user by id with the client's API key.
func (c *Client) GetUser(ctx context.Context, userID string) (*UserResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil,
		map[string]string{HeaderAPIKey: c.APIKey})
	if err != nil {
		return nil, err
	}

	var out UserResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewSession wraps an existing session token.
func (c *Client) NewSession(token string) *Session {
	return &Session{client: c, token: token}
}
