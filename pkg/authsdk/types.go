package authsdk

import "time"

// ============================================================================
// Envelope Types
// ============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Success bool `json:"success"`

	// Error is the error kind, e.g. "authentication_failure"
	Error string `json:"error"`

	// Code narrows the kind, e.g. "invalid_code" or "provider_session_invalid"
	Code string `json:"code,omitempty"`

	// Message is a human-readable description
	Message string `json:"message"`

	// RedirectURL is set on eligibility failures
	RedirectURL string `json:"redirectUrl,omitempty"`

	// RetryAfter is set on rate_limited responses, in seconds
	RetryAfter int `json:"retryAfter,omitempty"`
}

// SuccessResponse is returned by operations that only acknowledge.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ============================================================================
// Provider Session Types
// ============================================================================

// ProviderSession is the identity provider token pair the client carries
// between the federated callback and MFA or registration calls.
type ProviderSession struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

// ProviderProfile is the provider-asserted user data returned to a client
// that still has to accept the terms.
type ProviderProfile struct {
	ExternalID     string `json:"externalId"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	Picture        string `json:"picture,omitempty"`
	EmailVerified  bool   `json:"emailVerified"`
	IdentityNumber string `json:"identityNumber,omitempty"`
}

// ============================================================================
// User Types
// ============================================================================

// UserResponse is the public view of a user account.
type UserResponse struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Role            string     `json:"role"`
	Active          bool       `json:"active"`
	DisplayName     string     `json:"displayName,omitempty"`
	Picture         string     `json:"picture,omitempty"`
	EmailVerified   bool       `json:"emailVerified"`
	MFAEnabled      bool       `json:"mfaEnabled"`
	WalletAddress   string     `json:"walletAddress,omitempty"`
	KYCStatus       string     `json:"kycStatus,omitempty"`
	TermsAcceptedAt *time.Time `json:"termsAcceptedAt,omitempty"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// CreateUserRequest creates a password account.
type CreateUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ============================================================================
// Login Types
// ============================================================================

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is a completed login.
type LoginResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    UserResponse `json:"user"`

	// Session is echoed back on federated logins
	Session *ProviderSession `json:"session,omitempty"`
}

// MFARequiredResponse is returned with 401 when a login stopped at the MFA
// gate. No token has been issued.
type MFARequiredResponse struct {
	Success     bool             `json:"success"`
	MFARequired bool             `json:"mfaRequired"`
	UserID      string           `json:"userId"`
	FactorID    string           `json:"factorId"`
	Session     *ProviderSession `json:"session,omitempty"`
}

// ============================================================================
// MFA Types
// ============================================================================

// ProviderSessionRequest carries the provider tokens in a request body.
// They may also be sent as X-Provider-Access-Token and
// X-Provider-Refresh-Token headers.
type ProviderSessionRequest struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// MFAEnrollRequest is the body of POST /mfa/enroll.
type MFAEnrollRequest struct {
	ProviderSessionRequest
	FriendlyName string `json:"friendlyName,omitempty"`
}

// MFAEnrollResponse is shown once. Secret and QRCode must be handed to the
// user's authenticator app.
type MFAEnrollResponse struct {
	Success      bool   `json:"success"`
	FactorID     string `json:"factorId"`
	Type         string `json:"type"`
	FriendlyName string `json:"friendlyName,omitempty"`
	Secret       string `json:"secret"`
	URI          string `json:"uri"`
	QRCode       string `json:"qrCode"`
}

// MFAUnenrollRequest is the body of POST /mfa/unenroll. The active factor
// is removed when FactorID is empty.
type MFAUnenrollRequest struct {
	ProviderSessionRequest
	FactorID string `json:"factorId,omitempty"`
}

// MFALoginVerifyRequest is the body of POST /mfa/login-verify.
type MFALoginVerifyRequest struct {
	UserID       string `json:"userId"`
	Code         string `json:"code"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// MFAChallengeRequest is the body of POST /mfa/challenge.
type MFAChallengeRequest struct {
	ProviderSessionRequest
	FactorID string `json:"factorId,omitempty"`
}

// MFAChallengeResponse identifies the challenge to answer.
type MFAChallengeResponse struct {
	Success     bool      `json:"success"`
	ChallengeID string    `json:"challengeId"`
	FactorID    string    `json:"factorId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// MFAVerifyRequest is the body of POST /mfa/verify.
type MFAVerifyRequest struct {
	ProviderSessionRequest
	FactorID    string `json:"factorId,omitempty"`
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// MFAVerifyResponse reports the assurance level reached.
type MFAVerifyResponse struct {
	Success bool   `json:"success"`
	AAL     string `json:"aal"`
}

// MFAEnabledResponse is returned by GET /mfa/enabled.
type MFAEnabledResponse struct {
	Enabled bool `json:"enabled"`
}

// MFAStatusResponse is returned by GET /mfa/status.
type MFAStatusResponse struct {
	Enabled      bool       `json:"enabled"`
	FactorID     string     `json:"factorId,omitempty"`
	FactorType   string     `json:"factorType,omitempty"`
	FriendlyName string     `json:"friendlyName,omitempty"`
	EnrolledAt   *time.Time `json:"enrolledAt,omitempty"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

// MFAFactor is one enrolled factor. Secrets are never returned.
type MFAFactor struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	FriendlyName string     `json:"friendlyName,omitempty"`
	Active       bool       `json:"active"`
	EnrolledAt   time.Time  `json:"enrolledAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

// MFAFactorsResponse is returned by GET /mfa/factors.
type MFAFactorsResponse struct {
	Factors []MFAFactor `json:"factors"`
}

// ============================================================================
// Federated Login Types
// ============================================================================

// AuthURLRequest is the optional body of POST /federated/auth-url.
type AuthURLRequest struct {
	RedirectURI string `json:"redirectUri,omitempty"`
}

// AuthURLResponse starts a provider login. CodeVerifier and Nonce must be
// kept by the client and sent back with the callback.
type AuthURLResponse struct {
	Success      bool   `json:"success"`
	AuthURL      string `json:"authUrl"`
	CodeVerifier string `json:"codeVerifier"`
	Nonce        string `json:"nonce"`
}

// CallbackRequest is the body of POST /federated/callback and
// POST /federated/link-wallet.
type CallbackRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"codeVerifier"`
	Nonce        string `json:"nonce"`
	RedirectURI  string `json:"redirectUri,omitempty"`
}

// CallbackResponse is either a completed login or, for an unknown account,
// the data the client must return with the terms acceptance.
type CallbackResponse struct {
	Success bool `json:"success"`

	Token   string           `json:"token,omitempty"`
	User    *UserResponse    `json:"user,omitempty"`
	Session *ProviderSession `json:"session,omitempty"`

	RequiresTermsAcceptance bool             `json:"requiresTermsAcceptance,omitempty"`
	UserData                *ProviderProfile `json:"userData,omitempty"`
	SessionData             *ProviderSession `json:"sessionData,omitempty"`
}

// CompleteRegistrationRequest is the body of
// POST /federated/complete-registration. UserData is informational; the
// account is created from what the provider reports for SessionData.
type CompleteRegistrationRequest struct {
	UserData      *ProviderProfile `json:"userData,omitempty"`
	SessionData   ProviderSession  `json:"sessionData"`
	TermsAccepted bool             `json:"termsAccepted"`
}

// LinkWalletResponse carries the linked custodial wallet.
type LinkWalletResponse struct {
	Success       bool   `json:"success"`
	WalletAddress string `json:"walletAddress"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the dependencies checked by /readyz.
type HealthChecks struct {
	Database       string `json:"database"`
	ChallengeStore string `json:"challengeStore"`
}
