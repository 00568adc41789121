package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTTL is the fixed lifetime of a session token. There is no refresh
// or revocation, a token is good until it expires.
const SessionTTL = 24 * time.Hour

// Claims are the session-token claims shared by every gateway route.
type Claims struct {
	jwt.RegisteredClaims

	// Email of the authenticated user at issue time
	Email string `json:"email"`

	// Role is one of "root", "admin", "support", "investor". It is covered
	// by the signature so callers cannot promote themselves.
	Role string `json:"role"`
}

// NewSessionClaims builds minimally-correct claims.
func NewSessionClaims(subject, email, role, issuer string, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
			ID:        NewJTI(),
		},
		Email: email,
		Role:  role,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrInvalid
	}

	return nil
}

// ValidateSubject makes sure the identity fields we route on are present.
func (c *Claims) ValidateSubject() error {
	if c.Subject == "" || c.Email == "" {
		return ErrInvalid
	}
	return nil
}
