package domain

import "time"

// PKCERequest is the server-side half of a federated authorization
// attempt. The verifier itself stays with the caller; only its S256
// challenge is kept here.
type PKCERequest struct {
	Nonce         string
	CodeChallenge string
	RedirectURI   string
	ExpiresAt     time.Time
	UsedAt        *time.Time
	CreatedAt     time.Time
}

// AuthorizationRequest is handed to the caller by auth-url.
type AuthorizationRequest struct {
	AuthURL      string `json:"authUrl"`
	CodeVerifier string `json:"codeVerifier"`
	Nonce        string `json:"nonce"`
}

// ProviderSession is the identity provider token pair. It is carried by the
// client between the federated callback and follow-up calls.
type ProviderSession struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

func (s ProviderSession) Empty() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// ProviderProfile is what the identity provider asserts about a user.
type ProviderProfile struct {
	ExternalID     string `json:"externalId"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	PictureURL     string `json:"picture,omitempty"`
	EmailVerified  bool   `json:"emailVerified"`
	IdentityNumber string `json:"identityNumber,omitempty"`
}

// Identity lookup outcomes.
const (
	IdentityActive   = "active"
	IdentityInactive = "inactive"
	IdentityNotFound = "not_found"
)

// IdentityStatus is the provider's answer to an eligibility lookup.
type IdentityStatus struct {
	IdentityNumber string
	Status         string
}

func (s IdentityStatus) Active() bool { return s.Status == IdentityActive }
