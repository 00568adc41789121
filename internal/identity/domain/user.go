package domain

import (
	"strings"
	"time"
)

type User struct {
	ID           string
	Email        string // stored lower-cased, unique
	PasswordHash string // argon2 encoded, empty for federated-only accounts
	Role         Role
	Active       bool

	DisplayName   string
	PictureURL    string
	EmailVerified bool

	ExternalID    string // identity provider subject, empty when never linked
	MFAFactorID   string // at most one active factor referenced here
	WalletAddress string // write-once

	KYCStatus string
	KYCID     string
	KYCURL    string

	TermsAcceptedAt *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasWallet reports whether a custodial wallet is already linked.
func (u User) HasWallet() bool { return u.WalletAddress != "" }

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FederatedProfileUpdate is applied to an existing account after a
// successful federated login.
type FederatedProfileUpdate struct {
	ExternalID    string
	PictureURL    string
	EmailVerified bool
	LastLoginAt   time.Time
}
